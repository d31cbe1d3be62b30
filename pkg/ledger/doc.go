// Package ledger provides type-safe Go definitions and Redis schema patterns
// for the Vanguard execution audit ledger.
//
// # Overview
//
// The ledger is the durable record of every execution decision the guard
// makes. The execution guard keeps its authoritative audit trail in memory
// for the process lifetime; when constructed with a ledger client it mirrors
// every append and terminal update here, so that audit data survives restarts
// and can be observed live by the CLI.
//
// # Core Concepts
//
// Entries are append-only audit records. Every admission, completion, failure,
// and emergency interruption is represented as an entry carrying the acting
// agent, the execution ID it belongs to, and an optional attestation handle.
//
// An entry's result field is written as "pending" on admission and rewritten
// exactly once with its terminal value (success, failed, or rolled_back) by
// whichever of complete or fail resolves the execution first.
//
// # Multi-Instance Support
//
// All Redis keys and Pub/Sub channels are namespaced by instance name so that
// multiple Vanguard instances can safely coexist on a single Redis server.
//
// # Redis Schema
//
// Entries: vanguard:{instance_name}:audit:{entry_id}
// Time index: vanguard:{instance_name}:audit_index (ZSET, score = created_at_ms)
// Audit events: vanguard:{instance_name}:audit_events (Pub/Sub)
package ledger

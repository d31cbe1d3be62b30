package ledger

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name to enable
// multiple Vanguard instances to safely coexist on a single Redis server.
//
// Key pattern: vanguard:{instance_name}:{entity}:{uuid}
// Channel pattern: vanguard:{instance_name}:{event_type}_events

// EntryKey returns the Redis key for an audit entry.
// Pattern: vanguard:{instance_name}:audit:{entry_id}
func EntryKey(instanceName, entryID string) string {
	return fmt.Sprintf("vanguard:%s:audit:%s", instanceName, entryID)
}

// EntryIndexKey returns the Redis key for the time-ordered entry index ZSET.
// Members are entry IDs scored by created_at_ms, enabling range queries.
// Pattern: vanguard:{instance_name}:audit_index
func EntryIndexKey(instanceName string) string {
	return fmt.Sprintf("vanguard:%s:audit_index", instanceName)
}

// EntriesByExecutionKey returns the Redis key for the execution->entries index.
// This enables fetching the full audit trail of a single execution.
// Pattern: vanguard:{instance_name}:audit_by_execution:{execution_id}
func EntriesByExecutionKey(instanceName, executionID string) string {
	return fmt.Sprintf("vanguard:%s:audit_by_execution:%s", instanceName, executionID)
}

// AuditEventsChannel returns the Pub/Sub channel name for audit events.
// Every append and terminal update is published here for live observers.
// Pattern: vanguard:{instance_name}:audit_events
func AuditEventsChannel(instanceName string) string {
	return fmt.Sprintf("vanguard:%s:audit_events", instanceName)
}

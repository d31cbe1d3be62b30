package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Complex fields like the
// signatures array are JSON-encoded into single hash fields. This provides a
// balance between queryability (individual fields) and flexibility (complex
// structures).

// EntryToHash converts an Entry struct to a Redis hash format.
// The signatures array is JSON-encoded.
func EntryToHash(e *Entry) (map[string]interface{}, error) {
	// Encode signatures array as JSON
	signaturesJSON, err := json.Marshal(e.Signatures)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signatures: %w", err)
	}

	hash := map[string]interface{}{
		"id":            e.ID,
		"execution_id":  e.ExecutionID,
		"agent_id":      e.AgentID,
		"action":        e.Action,
		"params":        e.Params,
		"result":        string(e.Result),
		"attestation":   e.Attestation,
		"signatures":    string(signaturesJSON),
		"error_detail":  e.ErrorDetail,
		"interruption":  e.Interruption,
		"created_at_ms": e.CreatedAtMs,
	}

	return hash, nil
}

// HashToEntry converts a Redis hash to an Entry struct.
// JSON fields are decoded back to Go types.
func HashToEntry(hash map[string]string) (*Entry, error) {
	// Decode signatures JSON array
	var signatures []string
	if signaturesJSON := hash["signatures"]; signaturesJSON != "" {
		if err := json.Unmarshal([]byte(signaturesJSON), &signatures); err != nil {
			return nil, fmt.Errorf("failed to unmarshal signatures: %w", err)
		}
	}

	// Ensure we have an empty slice instead of nil for consistency
	if signatures == nil {
		signatures = []string{}
	}

	createdAtMs, err := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at_ms field: %w", err)
	}

	entry := &Entry{
		ID:           hash["id"],
		ExecutionID:  hash["execution_id"],
		AgentID:      hash["agent_id"],
		Action:       hash["action"],
		Params:       hash["params"],
		Result:       Result(hash["result"]),
		Attestation:  hash["attestation"],
		Signatures:   signatures,
		ErrorDetail:  hash["error_detail"],
		Interruption: hash["interruption"],
		CreatedAtMs:  createdAtMs,
	}

	return entry, nil
}

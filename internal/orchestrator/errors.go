package orchestrator

import "errors"

// Failure taxonomy for orchestrated executions. The engine never lets these
// escape to the caller: every failure is converted into a failed report whose
// Cause wraps one of them, so callers classify with errors.Is.
var (
	// ErrAdmissionDenied - the guard rejected the request during validation.
	ErrAdmissionDenied = errors.New("admission denied")

	// ErrCircuitOpen - the guard's circuit breaker is tripped.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrConsensusRejected - quorum disapproved, or never formed before the
	// deadline.
	ErrConsensusRejected = errors.New("consensus rejected")

	// ErrDelegationFailed - a downstream agent returned a failed TaskResult.
	ErrDelegationFailed = errors.New("delegation failed")

	// ErrAttestationFailed - the attestation call failed or came back
	// unverified.
	ErrAttestationFailed = errors.New("attestation failed")
)
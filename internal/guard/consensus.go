package guard

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// quorumEpsilon absorbs nominal-fraction rounding when sizing a quorum:
// 0.67 of three voters means two votes, not a rounded-up unanimity.
const quorumEpsilon = 0.01

// RequestConsensus opens a consensus round for the execution. RequiredVotes
// is ceil(len(voters) * quorum), with a small tolerance so nominal fractions
// like 0.67 behave as two-thirds. Votes land via SubmitVote until the
// deadline passes. Opening a round for an execution that already has one
// replaces the old round.
func (g *Guard) RequestConsensus(executionID, text string, voters []string, timeout time.Duration) (*Proposal, error) {
	if executionID == "" {
		return nil, fmt.Errorf("execution ID cannot be empty")
	}
	if len(voters) == 0 {
		return nil, fmt.Errorf("consensus requires at least one voter")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("consensus timeout must be positive")
	}

	g.mu.Lock()
	required := int(math.Ceil(float64(len(voters))*g.limits.ConsensusQuorum - quorumEpsilon))
	if required < 1 {
		required = 1
	}
	p := &Proposal{
		ExecutionID:   executionID,
		Text:          text,
		Votes:         make(map[string]Vote, len(voters)),
		RequiredVotes: required,
		Deadline:      g.now().Add(timeout),
	}
	g.proposals[executionID] = p
	g.mu.Unlock()

	g.logEvent("consensus_requested", map[string]interface{}{
		"execution_id":   executionID,
		"voters":         len(voters),
		"required_votes": required,
	})

	return copyProposal(p), nil
}

// SubmitVote records one voter's position on the execution's open proposal.
// Returns false without recording when the deadline has passed. A voter
// submitting twice before the deadline overwrites their earlier vote.
func (g *Guard) SubmitVote(executionID, voterID string, approved bool, reason string) (bool, error) {
	g.mu.Lock()
	p, ok := g.proposals[executionID]
	if !ok {
		g.mu.Unlock()
		return false, fmt.Errorf("no open proposal for execution %s", executionID)
	}

	now := g.now()
	if !now.Before(p.Deadline) {
		g.mu.Unlock()
		return false, nil
	}

	p.Votes[voterID] = Vote{
		Approved: approved,
		Reason:   reason,
		CastAt:   now,
	}
	g.mu.Unlock()

	g.logEvent("consensus_vote", map[string]interface{}{
		"execution_id": executionID,
		"voter_id":     voterID,
		"approved":     approved,
	})

	return true, nil
}

// CheckConsensus evaluates the execution's proposal. Reached becomes true
// once total votes meet the threshold; Approved requires the approving votes
// alone to meet it. Safe to call any number of times, including after the
// deadline.
func (g *Guard) CheckConsensus(executionID string) (ConsensusStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.proposals[executionID]
	if !ok {
		return ConsensusStatus{}, fmt.Errorf("no proposal for execution %s", executionID)
	}

	status := ConsensusStatus{RequiredVotes: p.RequiredVotes}
	for _, v := range p.Votes {
		if v.Approved {
			status.ApproveVotes++
		} else {
			status.RejectVotes++
		}
	}
	status.Reached = status.ApproveVotes+status.RejectVotes >= p.RequiredVotes
	status.Approved = status.ApproveVotes >= p.RequiredVotes

	return status, nil
}

// GetProposal returns a copy of the execution's proposal, or an error when
// none exists.
func (g *Guard) GetProposal(executionID string) (*Proposal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.proposals[executionID]
	if !ok {
		return nil, fmt.Errorf("no proposal for execution %s", executionID)
	}
	return copyProposal(p), nil
}

// CloseProposal discards the execution's proposal once the orchestrator has
// consumed its outcome.
func (g *Guard) CloseProposal(executionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.proposals, executionID)
}

// Approvers returns the IDs of voters who approved the execution's proposal,
// for recording as audit signatures. Returns nil when no proposal exists.
func (g *Guard) Approvers(executionID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.proposals[executionID]
	if !ok {
		return nil
	}
	var out []string
	for voterID, v := range p.Votes {
		if v.Approved {
			out = append(out, voterID)
		}
	}
	sort.Strings(out)
	return out
}

func copyProposal(p *Proposal) *Proposal {
	dup := *p
	dup.Votes = make(map[string]Vote, len(p.Votes))
	for k, v := range p.Votes {
		dup.Votes[k] = v
	}
	return &dup
}
package events

import "apxpool/core/types"

const (
	// TypeGovernanceProposed captures a new proposal entering the book.
	TypeGovernanceProposed = "gov.proposed"
	// TypeGovernanceApproved captures a governor approval.
	TypeGovernanceApproved = "gov.approved"
	// TypeGovernanceScheduled is emitted once quorum is reached and the
	// timelock starts.
	TypeGovernanceScheduled = "gov.scheduled"
	// TypeGovernanceExecuted captures a successful execution.
	TypeGovernanceExecuted = "gov.executed"
)

// GovernanceProposed captures a freshly submitted proposal.
type GovernanceProposed struct {
	ProposalID string
	Kind       string
	Proposer   [20]byte
}

// EventType satisfies the Event interface.
func (GovernanceProposed) EventType() string { return TypeGovernanceProposed }

// Event converts the structured payload into a broadcastable event.
func (e GovernanceProposed) Event() *types.Event {
	return &types.Event{Type: TypeGovernanceProposed, Attributes: map[string]string{
		"proposalId": e.ProposalID,
		"kind":       e.Kind,
		"proposer":   formatAddress(e.Proposer),
	}}
}

// GovernanceApproved captures one governor approval and the running tally.
type GovernanceApproved struct {
	ProposalID string
	Approver   [20]byte
	Approvals  uint64
	Quorum     uint64
}

// EventType satisfies the Event interface.
func (GovernanceApproved) EventType() string { return TypeGovernanceApproved }

// Event converts the structured payload into a broadcastable event.
func (e GovernanceApproved) Event() *types.Event {
	return &types.Event{Type: TypeGovernanceApproved, Attributes: map[string]string{
		"proposalId": e.ProposalID,
		"approver":   formatAddress(e.Approver),
		"approvals":  formatUint(e.Approvals),
		"quorum":     formatUint(e.Quorum),
	}}
}

// GovernanceScheduled captures the start of the execution timelock.
type GovernanceScheduled struct {
	ProposalID  string
	ScheduledAt uint64
}

// EventType satisfies the Event interface.
func (GovernanceScheduled) EventType() string { return TypeGovernanceScheduled }

// Event converts the structured payload into a broadcastable event.
func (e GovernanceScheduled) Event() *types.Event {
	return &types.Event{Type: TypeGovernanceScheduled, Attributes: map[string]string{
		"proposalId":  e.ProposalID,
		"scheduledAt": formatUint(e.ScheduledAt),
	}}
}

// GovernanceExecuted captures a proposal taking effect.
type GovernanceExecuted struct {
	ProposalID string
	Executor   [20]byte
}

// EventType satisfies the Event interface.
func (GovernanceExecuted) EventType() string { return TypeGovernanceExecuted }

// Event converts the structured payload into a broadcastable event.
func (e GovernanceExecuted) Event() *types.Event {
	return &types.Event{Type: TypeGovernanceExecuted, Attributes: map[string]string{
		"proposalId": e.ProposalID,
		"executor":   formatAddress(e.Executor),
	}}
}

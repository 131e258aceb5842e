package governance

import (
	"bytes"
	"math/big"
)

const (
	// ProposalKindBorrowerApprove installs or updates a borrower credit
	// line through the timelock.
	ProposalKindBorrowerApprove = "borrower.approve"
	// ProposalKindParamUpdate changes one allow-listed facility parameter.
	ProposalKindParamUpdate = "param.update"
)

// Canonical parameter keys accepted by param.update proposals.
const (
	ParamVaultLiquidityBufferBps = "vault.liquidityBufferBps"
	ParamVaultDailyRedemptionCap = "vault.dailyRedemptionCap"
	ParamVaultStakingMultiplier  = "vault.stakingMultiplier"
	ParamCreditMinTermDays       = "credit.minTermDays"
	ParamCreditMaxTermDays       = "credit.maxTermDays"
	ParamCreditAppexRate         = "credit.appexRate"
)

// ProposalStatus enumerates the lifecycle phases a proposal transitions
// through as it collects approvals and waits out the timelock.
type ProposalStatus uint8

const (
	// StatusUnknown indicates the proposal has not been initialised and
	// should not appear in state.
	StatusUnknown ProposalStatus = iota
	// StatusProposed identifies proposals still collecting governor
	// approvals.
	StatusProposed
	// StatusScheduled marks proposals past quorum whose timelock is
	// running.
	StatusScheduled
	// StatusExecuted indicates the proposal payload has been applied.
	StatusExecuted
)

// String renders the status for logs and RPC payloads.
func (s ProposalStatus) String() string {
	switch s {
	case StatusProposed:
		return "proposed"
	case StatusScheduled:
		return "scheduled"
	case StatusExecuted:
		return "executed"
	default:
		return "unknown"
	}
}

// Proposal is the stored governance record. Payload fields are populated
// according to Kind; the rest stay at their zero values.
type Proposal struct {
	ID          string
	Kind        string
	Proposer    [20]byte
	SubmitTime  uint64
	Status      ProposalStatus
	Approvals   [][]byte
	ScheduledAt uint64
	ExecutedAt  uint64

	Borrower       [20]byte
	BorrowLimit    *big.Int
	LPYieldBps     uint64
	ProtocolFeeBps uint64

	ParamKey   string
	ParamValue *big.Int
}

// Normalize replaces nil big.Int fields with zeroes.
func (p *Proposal) Normalize() {
	if p.BorrowLimit == nil {
		p.BorrowLimit = big.NewInt(0)
	}
	if p.ParamValue == nil {
		p.ParamValue = big.NewInt(0)
	}
}

// Clone returns a deep copy of the proposal.
func (p *Proposal) Clone() *Proposal {
	if p == nil {
		return nil
	}
	clone := *p
	if p.BorrowLimit != nil {
		clone.BorrowLimit = new(big.Int).Set(p.BorrowLimit)
	}
	if p.ParamValue != nil {
		clone.ParamValue = new(big.Int).Set(p.ParamValue)
	}
	if len(p.Approvals) > 0 {
		clone.Approvals = make([][]byte, len(p.Approvals))
		for i, approval := range p.Approvals {
			clone.Approvals[i] = append([]byte(nil), approval...)
		}
	}
	return &clone
}

// HasApproval reports whether the address already approved.
func (p *Proposal) HasApproval(addr [20]byte) bool {
	for _, approval := range p.Approvals {
		if bytes.Equal(approval, addr[:]) {
			return true
		}
	}
	return false
}

// addApproval inserts the address keeping the list sorted so stored
// proposals are deterministic regardless of approval arrival order.
func (p *Proposal) addApproval(addr [20]byte) {
	entry := append([]byte(nil), addr[:]...)
	idx := len(p.Approvals)
	for i, approval := range p.Approvals {
		if bytes.Compare(entry, approval) < 0 {
			idx = i
			break
		}
	}
	p.Approvals = append(p.Approvals, nil)
	copy(p.Approvals[idx+1:], p.Approvals[idx:])
	p.Approvals[idx] = entry
}

// Policy captures the runtime knobs controlling proposal admission and
// execution.
type Policy struct {
	Quorum          uint64
	MinDelaySeconds uint64
	AllowedParams   []string
}

// DefaultPolicy returns a single-approver policy with a one-day timelock
// and the full parameter allow-list.
func DefaultPolicy() Policy {
	return Policy{
		Quorum:          1,
		MinDelaySeconds: 24 * 60 * 60,
		AllowedParams: []string{
			ParamVaultLiquidityBufferBps,
			ParamVaultDailyRedemptionCap,
			ParamVaultStakingMultiplier,
			ParamCreditMinTermDays,
			ParamCreditMaxTermDays,
			ParamCreditAppexRate,
		},
	}
}

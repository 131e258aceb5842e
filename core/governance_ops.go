package core

import (
	"math/big"

	"apxpool/native/governance"
)

// ProposeBorrower submits a borrower credit-line proposal. The engine
// enforces governor membership.
func (f *Facility) ProposeBorrower(proposer, borrower [20]byte, limit *big.Int, lpYieldBps, protocolFeeBps uint64) (*governance.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.governance.ProposeBorrower(proposer, borrower, limit, lpYieldBps, protocolFeeBps)
}

// ProposeParamUpdate submits an allow-listed parameter change proposal.
func (f *Facility) ProposeParamUpdate(proposer [20]byte, key string, value *big.Int) (*governance.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.governance.ProposeParamUpdate(proposer, key, value)
}

// ApproveProposal records one governor approval.
func (f *Facility) ApproveProposal(approver [20]byte, id string) (*governance.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.governance.Approve(approver, id)
}

// ExecuteProposal applies a scheduled proposal once its timelock expires.
// Any caller may execute; the engine re-checks every precondition.
func (f *Facility) ExecuteProposal(executor [20]byte, id string) (*governance.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	proposal, err := f.governance.Execute(executor, id)
	if err != nil {
		return nil, err
	}
	if err := f.vault.CheckInvariants(); err != nil {
		return nil, err
	}
	return proposal, nil
}

// GetProposal returns one proposal by id.
func (f *Facility) GetProposal(id string) (*governance.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.governance.GetProposal(id)
}

// Proposals lists proposals in submission order.
func (f *Facility) Proposals() ([]*governance.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.governance.Proposals()
}

// GovernanceQuorum reports the configured approval threshold.
func (f *Facility) GovernanceQuorum() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.governance.Quorum()
}

package core

import (
	"math/big"

	"apxpool/core/state"
	"apxpool/native/credit"
)

// ApproveBorrower registers a credit line directly. Available to the owner
// and admins only while the governor set is empty; once governors exist the
// change must travel through a proposal.
func (f *Facility) ApproveBorrower(caller, borrower [20]byte, limit *big.Int, lpYieldBps, protocolFeeBps uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.isOperator(caller) {
		return errNotAuthorized
	}
	governors, err := f.state.RoleMembers(state.RoleGovernor)
	if err != nil {
		return err
	}
	if len(governors) > 0 {
		return errGovernanceRequired
	}
	return f.credit.ApproveBorrower(borrower, limit, lpYieldBps, protocolFeeBps)
}

// RevokeBorrower closes a credit line for new draws. The emergency brake
// stays with the owner and admins regardless of governance.
func (f *Facility) RevokeBorrower(caller, borrower [20]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.isOperator(caller) {
		return errNotAuthorized
	}
	return f.credit.RevokeBorrower(borrower)
}

// CreateLoan draws on the borrower's credit line to pay a publisher in a
// USDC plus APPEX split. Returns the new loan id.
func (f *Facility) CreateLoan(borrower, publisher [20]byte, principal *big.Int, termDays, rewardBps uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.accrue(); err != nil {
		return 0, err
	}
	id, err := f.credit.CreateLoan(borrower, publisher, principal, termDays, rewardBps)
	if err != nil {
		return 0, err
	}
	if err := f.vault.CheckInvariants(); err != nil {
		return 0, err
	}
	return id, nil
}

// RepayLoan settles the loan principal plus the LP fee accrued to date.
func (f *Facility) RepayLoan(caller [20]byte, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.accrue(); err != nil {
		return err
	}
	if err := f.credit.RepayLoan(caller, id); err != nil {
		return err
	}
	return f.vault.CheckInvariants()
}

// PayProtocolFee settles the loan's protocol fee in USDC or APPEX.
func (f *Facility) PayProtocolFee(caller [20]byte, id uint64, inAppex bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.accrue(); err != nil {
		return err
	}
	if err := f.credit.PayProtocolFee(caller, id, inAppex); err != nil {
		return err
	}
	return f.vault.CheckInvariants()
}

// GetLoan returns the loan and its clock-derived valuation fields.
func (f *Facility) GetLoan(id uint64) (*credit.LoanStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.credit.GetLoan(id)
}

// ActiveLoans lists unrepaid loans in origination order.
func (f *Facility) ActiveLoans() ([]*credit.LoanStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.credit.ActiveLoans()
}

// BorrowerLoans lists every loan a borrower has drawn.
func (f *Facility) BorrowerLoans(borrower [20]byte) ([]*credit.LoanStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.credit.BorrowerLoans(borrower)
}

// GetBorrower returns one borrower record.
func (f *Facility) GetBorrower(borrower [20]byte) (*credit.Borrower, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.credit.GetBorrower(borrower)
}

// ListBorrowers returns every borrower record.
func (f *Facility) ListBorrowers() ([]*credit.Borrower, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.credit.ListBorrowers()
}

// CreditConfig returns the live origination bounds.
func (f *Facility) CreditConfig() credit.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.credit.Config()
}

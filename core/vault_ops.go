package core

import (
	"math/big"

	"apxpool/core/state"
	"apxpool/native/redemption"
	"apxpool/native/vault"
)

// Deposit converts the provider's USDC into shares at the current price.
func (f *Facility) Deposit(provider [20]byte, amount *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.accrue(); err != nil {
		return nil, err
	}
	minted, err := f.vault.Deposit(provider, amount)
	if err != nil {
		return nil, err
	}
	if err := f.vault.CheckInvariants(); err != nil {
		return nil, err
	}
	return minted, nil
}

// RequestRedemption converts shares back to USDC, settling immediately when
// liquidity and the day cap admit the payout and queueing otherwise.
func (f *Facility) RequestRedemption(provider [20]byte, shares *big.Int) (*redemption.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.accrue(); err != nil {
		return nil, err
	}
	outcome, err := f.redemption.Request(provider, shares)
	if err != nil {
		return nil, err
	}
	if err := f.vault.CheckInvariants(); err != nil {
		return nil, err
	}
	return outcome, nil
}

// ProcessRedemptions settles queued requests from the head while they fit.
// Permissionless: the crank only moves money the queue already owes.
func (f *Facility) ProcessRedemptions() (uint64, *big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.accrue(); err != nil {
		return 0, nil, err
	}
	settled, paid, err := f.redemption.Process(f.nowUnix())
	if err != nil {
		return 0, nil, err
	}
	if err := f.vault.CheckInvariants(); err != nil {
		return 0, nil, err
	}
	return settled, paid, nil
}

// AccrueFees recognises pending loan fees up to the current day. Safe for
// any caller; the per-loan watermark keeps it idempotent.
func (f *Facility) AccrueFees() (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	accrued, err := f.credit.AccrueFees(f.nowUnix())
	if err != nil {
		return nil, err
	}
	if err := f.vault.CheckInvariants(); err != nil {
		return nil, err
	}
	return accrued, nil
}

// WithdrawProtocolFees pays realised protocol fees out to the recipient.
// Owner only.
func (f *Facility) WithdrawProtocolFees(caller, recipient [20]byte, amount *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasRole(state.RoleOwner, caller) {
		return nil, errNotAuthorized
	}
	if err := f.accrue(); err != nil {
		return nil, err
	}
	paid, err := f.vault.WithdrawProtocolFees(recipient, amount)
	if err != nil {
		return nil, err
	}
	if err := f.vault.CheckInvariants(); err != nil {
		return nil, err
	}
	return paid, nil
}

// FundTreasury moves APPEX from the funder onto the module treasury used
// for loan reward legs.
func (f *Facility) FundTreasury(funder [20]byte, amount *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.vault.FundTreasury(funder, amount); err != nil {
		return err
	}
	return f.vault.CheckInvariants()
}

// Stats returns the bulk accounting read.
func (f *Facility) Stats() (*vault.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vault.Stats()
}

// NAV returns LP-attributable value in USDC micro-units.
func (f *Facility) NAV() (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vault.NAV()
}

// SharePrice returns the ray-scaled price of one share.
func (f *Facility) SharePrice() (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vault.SharePrice()
}

// Breakdown returns the cash reconciliation read.
func (f *Facility) Breakdown() (*vault.Breakdown, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vault.AccountingBreakdown()
}

// QueueDepth returns the number of unsettled redemption requests.
func (f *Facility) QueueDepth() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.redemption.Depth()
}

// QueueOldestAge returns the age in seconds of the oldest queued request,
// zero when the queue is empty. Rising age is the starvation signal.
func (f *Facility) QueueOldestAge() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.redemption.OldestAge(f.nowUnix())
}

// PendingRedemptions lists queued requests in settlement order.
func (f *Facility) PendingRedemptions() ([]*redemption.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.redemption.Pending()
}

// GetRedemption returns one request by id.
func (f *Facility) GetRedemption(id uint64) (*redemption.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.redemption.GetRequest(id)
}

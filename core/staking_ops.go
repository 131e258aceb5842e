package core

import (
	"math/big"

	"apxpool/native/staking"
)

// Stake escrows the staker's APPEX under the chosen lock tier.
func (f *Facility) Stake(staker [20]byte, amount *big.Int, lockDays uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.staking.Stake(staker, amount, lockDays); err != nil {
		return err
	}
	return f.vault.CheckInvariants()
}

// Unstake returns escrowed APPEX after the lock expires.
func (f *Facility) Unstake(staker [20]byte, amount *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.staking.Unstake(staker, amount); err != nil {
		return err
	}
	return f.vault.CheckInvariants()
}

// DistributeRewards carves collected fees out to stakers pro-rata by
// weight. Owner or admin only.
func (f *Facility) DistributeRewards(caller [20]byte, amount *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.isOperator(caller) {
		return nil, errNotAuthorized
	}
	if err := f.accrue(); err != nil {
		return nil, err
	}
	distributed, err := f.staking.DistributeRewards(amount)
	if err != nil {
		return nil, err
	}
	if err := f.vault.CheckInvariants(); err != nil {
		return nil, err
	}
	return distributed, nil
}

// ClaimRewards pays the staker's pending USDC rewards out.
func (f *Facility) ClaimRewards(staker [20]byte) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.accrue(); err != nil {
		return nil, err
	}
	paid, err := f.staking.ClaimRewards(staker)
	if err != nil {
		return nil, err
	}
	if err := f.vault.CheckInvariants(); err != nil {
		return nil, err
	}
	return paid, nil
}

// StakingPosition returns one staker's position.
func (f *Facility) StakingPosition(staker [20]byte) (*staking.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.staking.GetPosition(staker)
}

// StakingPositions lists every live position.
func (f *Facility) StakingPositions() ([]*staking.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.staking.Positions()
}

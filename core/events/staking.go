package events

import (
	"math/big"

	"apxpool/core/types"
)

const (
	// TypeStakingStaked captures APPEX entering a staking position.
	TypeStakingStaked = "staking.staked"
	// TypeStakingUnstaked captures APPEX leaving a staking position.
	TypeStakingUnstaked = "staking.unstaked"
	// TypeStakingRewardsDistributed captures a fee-share distribution
	// across all weighted positions.
	TypeStakingRewardsDistributed = "staking.rewardsDistributed"
	// TypeStakingRewardsClaimed is emitted when a staker claims pending
	// USDC rewards.
	TypeStakingRewardsClaimed = "staking.rewardsClaimed"
)

// StakingStaked captures a stake and the resulting position weight.
type StakingStaked struct {
	Staker   [20]byte
	Amount   *big.Int
	LockDays uint64
	Weight   *big.Int
}

// EventType satisfies the Event interface.
func (StakingStaked) EventType() string { return TypeStakingStaked }

// Event converts the structured payload into a broadcastable event.
func (e StakingStaked) Event() *types.Event {
	return &types.Event{Type: TypeStakingStaked, Attributes: map[string]string{
		"staker":   formatAddress(e.Staker),
		"amount":   formatAmount(e.Amount),
		"lockDays": formatUint(e.LockDays),
		"weight":   formatAmount(e.Weight),
	}}
}

// StakingUnstaked captures an unlock withdrawal.
type StakingUnstaked struct {
	Staker [20]byte
	Amount *big.Int
	Weight *big.Int
}

// EventType satisfies the Event interface.
func (StakingUnstaked) EventType() string { return TypeStakingUnstaked }

// Event converts the structured payload into a broadcastable event.
func (e StakingUnstaked) Event() *types.Event {
	return &types.Event{Type: TypeStakingUnstaked, Attributes: map[string]string{
		"staker": formatAddress(e.Staker),
		"amount": formatAmount(e.Amount),
		"weight": formatAmount(e.Weight),
	}}
}

// StakingRewardsDistributed captures a pro-rata fee-share carve-out.
type StakingRewardsDistributed struct {
	Amount      *big.Int
	Distributed *big.Int
	TotalWeight *big.Int
	Positions   uint64
}

// EventType satisfies the Event interface.
func (StakingRewardsDistributed) EventType() string { return TypeStakingRewardsDistributed }

// Event converts the structured payload into a broadcastable event.
func (e StakingRewardsDistributed) Event() *types.Event {
	return &types.Event{Type: TypeStakingRewardsDistributed, Attributes: map[string]string{
		"amount":      formatAmount(e.Amount),
		"distributed": formatAmount(e.Distributed),
		"totalWeight": formatAmount(e.TotalWeight),
		"positions":   formatUint(e.Positions),
	}}
}

// StakingRewardsClaimed captures the reward payout for a staker.
type StakingRewardsClaimed struct {
	Staker [20]byte
	Amount *big.Int
}

// EventType satisfies the Event interface.
func (StakingRewardsClaimed) EventType() string { return TypeStakingRewardsClaimed }

// Event converts the structured payload into a broadcastable event.
func (e StakingRewardsClaimed) Event() *types.Event {
	return &types.Event{Type: TypeStakingRewardsClaimed, Attributes: map[string]string{
		"staker": formatAddress(e.Staker),
		"amount": formatAmount(e.Amount),
	}}
}

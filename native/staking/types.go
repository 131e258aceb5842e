package staking

import "math/big"

const secondsPerDay = 24 * 60 * 60

// Lock tiers and their reward weight multipliers. Longer commitments earn a
// larger share of each distribution.
const (
	LockTierNone    uint64 = 0
	LockTierQuarter uint64 = 90
	LockTierHalf    uint64 = 180
)

// TierMultiplier maps a lock tier to its weight multiplier. The second
// return reports whether the tier exists.
func TierMultiplier(lockDays uint64) (uint64, bool) {
	switch lockDays {
	case LockTierNone:
		return 1, true
	case LockTierQuarter:
		return 2, true
	case LockTierHalf:
		return 3, true
	}
	return 0, false
}

// Position is a staker's full APPEX commitment. One position per staker:
// adding stake re-locks the whole position at the new tier.
type Position struct {
	Staker         [20]byte
	AppexStaked    *big.Int
	LockDays       uint64
	LockEnd        uint64
	WeightedStake  *big.Int
	PendingRewards *big.Int
}

// Normalize replaces nil big.Int fields with zeroes.
func (p *Position) Normalize() {
	if p.AppexStaked == nil {
		p.AppexStaked = big.NewInt(0)
	}
	if p.WeightedStake == nil {
		p.WeightedStake = big.NewInt(0)
	}
	if p.PendingRewards == nil {
		p.PendingRewards = big.NewInt(0)
	}
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	if p.AppexStaked != nil {
		clone.AppexStaked = new(big.Int).Set(p.AppexStaked)
	}
	if p.WeightedStake != nil {
		clone.WeightedStake = new(big.Int).Set(p.WeightedStake)
	}
	if p.PendingRewards != nil {
		clone.PendingRewards = new(big.Int).Set(p.PendingRewards)
	}
	return &clone
}

// Locked reports whether the lock clock is still running.
func (p *Position) Locked(now uint64) bool {
	return now < p.LockEnd
}

package staking

import (
	"math/big"
	"time"

	"apxpool/core/events"
	"apxpool/core/types"
	nativecommon "apxpool/native/common"
	"apxpool/native/vault"
)

// Share balances are 1e6-scaled, APPEX is 1e18: the stake cap converts
// share micro-units to wei before applying the multiplier.
var microToWei = big.NewInt(1_000_000_000_000)

const moduleName = "staking"

var (
	positionPrefix = []byte("staking/position/")
	stakerIndexKey = []byte("staking/stakers")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// Engine manages APPEX staking positions and their share of realized pool
// fees. Staked tokens escrow onto the module account; the credit engine
// treats them as untouchable when sizing reward legs.
type Engine struct {
	state         engineState
	moduleAddress [20]byte
	emitter       events.Emitter
	pauses        nativecommon.PauseView
	nowFn         func() time.Time
}

// NewEngine constructs a staking engine bound to the module escrow address.
func NewEngine(moduleAddr [20]byte) *Engine {
	return &Engine{
		moduleAddress: moduleAddr,
		emitter:       events.NoopEmitter{},
		nowFn:         func() time.Time { return time.Now().UTC() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetNowFunc overrides the time source used for lock math. Nil restores the
// UTC clock.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() uint64 {
	ts := e.nowFn().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func positionKey(addr [20]byte) []byte {
	buf := make([]byte, len(positionPrefix)+len(addr))
	copy(buf, positionPrefix)
	copy(buf[len(positionPrefix):], addr[:])
	return buf
}

func (e *Engine) loadAccount(addr [20]byte) (*types.Account, error) {
	acc, err := e.state.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &types.Account{}
	}
	if acc.BalanceUSDC == nil {
		acc.BalanceUSDC = big.NewInt(0)
	}
	if acc.BalanceAPPEX == nil {
		acc.BalanceAPPEX = big.NewInt(0)
	}
	if acc.Shares == nil {
		acc.Shares = big.NewInt(0)
	}
	return acc, nil
}

func (e *Engine) vaultState() (*vault.State, error) {
	st := new(vault.State)
	if _, err := e.state.KVGet(vault.StateKey, st); err != nil {
		return nil, err
	}
	st.Normalize()
	return st, nil
}

func (e *Engine) putVaultState(st *vault.State) error {
	st.Normalize()
	return e.state.KVPut(vault.StateKey, st)
}

func (e *Engine) loadPosition(addr [20]byte) (*Position, bool, error) {
	pos := new(Position)
	ok, err := e.state.KVGet(positionKey(addr), pos)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	pos.Normalize()
	return pos, true, nil
}

func (e *Engine) putPosition(pos *Position) error {
	pos.Normalize()
	return e.state.KVPut(positionKey(pos.Staker), pos)
}

// Stake escrows APPEX into the module account and re-locks the whole
// position at the requested tier. While a lock is active the tier may only
// be kept or lengthened. The cap ties total stake to the staker's current
// LP shares.
func (e *Engine) Stake(staker [20]byte, amount *big.Int, lockDays uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	multiplier, ok := TierMultiplier(lockDays)
	if !ok {
		return errInvalidLockTier
	}

	pos, found, err := e.loadPosition(staker)
	if err != nil {
		return err
	}
	if !found {
		pos = &Position{Staker: staker}
		pos.Normalize()
	}
	now := e.now()
	if pos.Locked(now) {
		current, _ := TierMultiplier(pos.LockDays)
		if multiplier < current {
			return errLockDowngrade
		}
	}

	stakerAcc, err := e.loadAccount(staker)
	if err != nil {
		return err
	}
	st, err := e.vaultState()
	if err != nil {
		return err
	}
	newStaked := new(big.Int).Add(pos.AppexStaked, amount)
	stakeCap := new(big.Int).Mul(stakerAcc.Shares, microToWei)
	stakeCap.Mul(stakeCap, new(big.Int).SetUint64(st.StakingMultiplier))
	if newStaked.Cmp(stakeCap) > 0 {
		return errStakeCapExceeded
	}
	if stakerAcc.BalanceAPPEX.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return err
	}

	stakerAcc.BalanceAPPEX = new(big.Int).Sub(stakerAcc.BalanceAPPEX, amount)
	moduleAcc.BalanceAPPEX = new(big.Int).Add(moduleAcc.BalanceAPPEX, amount)

	oldWeight := pos.WeightedStake
	newWeight := new(big.Int).Mul(newStaked, new(big.Int).SetUint64(multiplier))
	pos.AppexStaked = newStaked
	pos.LockDays = lockDays
	pos.LockEnd = now + lockDays*secondsPerDay
	pos.WeightedStake = newWeight

	st.TotalStaked = new(big.Int).Add(st.TotalStaked, amount)
	st.TotalStakingWeight = new(big.Int).Sub(st.TotalStakingWeight, oldWeight)
	st.TotalStakingWeight.Add(st.TotalStakingWeight, newWeight)

	if err := e.state.PutAccount(staker[:], stakerAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(e.moduleAddress[:], moduleAcc); err != nil {
		return err
	}
	if err := e.putPosition(pos); err != nil {
		return err
	}
	if err := e.state.KVAppend(stakerIndexKey, staker[:]); err != nil {
		return err
	}
	if err := e.putVaultState(st); err != nil {
		return err
	}

	e.emitter.Emit(events.StakingStaked{
		Staker:   staker,
		Amount:   new(big.Int).Set(amount),
		LockDays: lockDays,
		Weight:   new(big.Int).Set(newWeight),
	})
	return nil
}

// Unstake returns escrowed APPEX after the lock expires. Pending rewards
// stay claimable even when the position empties.
func (e *Engine) Unstake(staker [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	pos, found, err := e.loadPosition(staker)
	if err != nil {
		return err
	}
	if !found {
		return errPositionNotFound
	}
	now := e.now()
	if pos.Locked(now) {
		return errStillLocked
	}
	if amount.Cmp(pos.AppexStaked) > 0 {
		return errInsufficientStake
	}

	stakerAcc, err := e.loadAccount(staker)
	if err != nil {
		return err
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	st, err := e.vaultState()
	if err != nil {
		return err
	}

	multiplier, _ := TierMultiplier(pos.LockDays)
	remaining := new(big.Int).Sub(pos.AppexStaked, amount)
	newWeight := new(big.Int).Mul(remaining, new(big.Int).SetUint64(multiplier))
	weightDelta := new(big.Int).Sub(pos.WeightedStake, newWeight)

	moduleAcc.BalanceAPPEX = new(big.Int).Sub(moduleAcc.BalanceAPPEX, amount)
	stakerAcc.BalanceAPPEX = new(big.Int).Add(stakerAcc.BalanceAPPEX, amount)
	pos.AppexStaked = remaining
	pos.WeightedStake = newWeight
	st.TotalStaked = new(big.Int).Sub(st.TotalStaked, amount)
	st.TotalStakingWeight = new(big.Int).Sub(st.TotalStakingWeight, weightDelta)

	if err := e.state.PutAccount(staker[:], stakerAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(e.moduleAddress[:], moduleAcc); err != nil {
		return err
	}
	if err := e.putPosition(pos); err != nil {
		return err
	}
	if err := e.putVaultState(st); err != nil {
		return err
	}

	e.emitter.Emit(events.StakingUnstaked{
		Staker: staker,
		Amount: new(big.Int).Set(amount),
		Weight: new(big.Int).Set(newWeight),
	})
	return nil
}

// DistributeRewards carves realized fees into per-position pending rewards,
// pro-rata by weighted stake with per-position flooring. The undistributed
// remainder stays in collected fees for the next round. Returns the
// distributed sum.
func (e *Engine) DistributeRewards(amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	st, err := e.vaultState()
	if err != nil {
		return nil, err
	}
	if amount.Cmp(st.CollectedFees) > 0 {
		return nil, errDistributionShort
	}
	if st.TotalStakingWeight.Sign() <= 0 {
		return nil, errNoStake
	}

	var raw [][]byte
	if err := e.state.KVGetList(stakerIndexKey, &raw); err != nil {
		return nil, err
	}
	distributed := big.NewInt(0)
	var positions uint64
	for _, encoded := range raw {
		if len(encoded) != 20 {
			continue
		}
		var addr [20]byte
		copy(addr[:], encoded)
		pos, ok, err := e.loadPosition(addr)
		if err != nil {
			return nil, err
		}
		if !ok || pos.WeightedStake.Sign() <= 0 {
			continue
		}
		share := new(big.Int).Mul(amount, pos.WeightedStake)
		share.Quo(share, st.TotalStakingWeight)
		if share.Sign() <= 0 {
			continue
		}
		pos.PendingRewards = new(big.Int).Add(pos.PendingRewards, share)
		if err := e.putPosition(pos); err != nil {
			return nil, err
		}
		distributed.Add(distributed, share)
		positions++
	}

	st.CollectedFees = new(big.Int).Sub(st.CollectedFees, distributed)
	st.RewardsPayable = new(big.Int).Add(st.RewardsPayable, distributed)
	if err := e.putVaultState(st); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.StakingRewardsDistributed{
		Amount:      new(big.Int).Set(amount),
		Distributed: new(big.Int).Set(distributed),
		TotalWeight: new(big.Int).Set(st.TotalStakingWeight),
		Positions:   positions,
	})
	return distributed, nil
}

// ClaimRewards pays the staker's pending USDC out of the rewards carve-out.
func (e *Engine) ClaimRewards(staker [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	pos, found, err := e.loadPosition(staker)
	if err != nil {
		return nil, err
	}
	if !found || pos.PendingRewards.Sign() <= 0 {
		return nil, errNoRewards
	}
	amount := new(big.Int).Set(pos.PendingRewards)

	stakerAcc, err := e.loadAccount(staker)
	if err != nil {
		return nil, err
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return nil, err
	}
	if moduleAcc.BalanceUSDC.Cmp(amount) < 0 {
		return nil, errRewardCashShortfall
	}
	st, err := e.vaultState()
	if err != nil {
		return nil, err
	}

	moduleAcc.BalanceUSDC = new(big.Int).Sub(moduleAcc.BalanceUSDC, amount)
	stakerAcc.BalanceUSDC = new(big.Int).Add(stakerAcc.BalanceUSDC, amount)
	pos.PendingRewards = big.NewInt(0)
	st.RewardsPayable = new(big.Int).Sub(st.RewardsPayable, amount)

	if err := e.state.PutAccount(staker[:], stakerAcc); err != nil {
		return nil, err
	}
	if err := e.state.PutAccount(e.moduleAddress[:], moduleAcc); err != nil {
		return nil, err
	}
	if err := e.putPosition(pos); err != nil {
		return nil, err
	}
	if err := e.putVaultState(st); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.StakingRewardsClaimed{
		Staker: staker,
		Amount: new(big.Int).Set(amount),
	})
	return amount, nil
}

// GetPosition returns the staker's position.
func (e *Engine) GetPosition(staker [20]byte) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pos, found, err := e.loadPosition(staker)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errPositionNotFound
	}
	return pos.Clone(), nil
}

// Positions returns every position still carrying stake or unclaimed
// rewards.
func (e *Engine) Positions() ([]*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var raw [][]byte
	if err := e.state.KVGetList(stakerIndexKey, &raw); err != nil {
		return nil, err
	}
	result := make([]*Position, 0, len(raw))
	for _, encoded := range raw {
		if len(encoded) != 20 {
			continue
		}
		var addr [20]byte
		copy(addr[:], encoded)
		pos, ok, err := e.loadPosition(addr)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if pos.AppexStaked.Sign() == 0 && pos.PendingRewards.Sign() == 0 {
			continue
		}
		result = append(result, pos.Clone())
	}
	return result, nil
}

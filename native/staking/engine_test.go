package staking

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"apxpool/core/events"
	"apxpool/core/types"
	"apxpool/native/vault"
)

type mockEngineState struct {
	kv       map[string][]byte
	accounts map[string]*types.Account
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		kv:       make(map[string][]byte),
		accounts: make(map[string]*types.Account),
	}
}

func (m *mockEngineState) KVGet(key []byte, out interface{}) (bool, error) {
	data, ok := m.kv[string(key)]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *mockEngineState) KVPut(key []byte, value interface{}) error {
	data, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.kv[string(key)] = data
	return nil
}

func (m *mockEngineState) KVAppend(key []byte, value []byte) error {
	var list [][]byte
	if data, ok := m.kv[string(key)]; ok {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	for _, existing := range list {
		if string(existing) == string(value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return m.KVPut(key, list)
}

func (m *mockEngineState) KVGetList(key []byte, out interface{}) error {
	data, ok := m.kv[string(key)]
	if !ok {
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

func (m *mockEngineState) GetAccount(addr []byte) (*types.Account, error) {
	if acc, ok := m.accounts[string(addr)]; ok {
		return acc.Clone(), nil
	}
	return &types.Account{}, nil
}

func (m *mockEngineState) PutAccount(addr []byte, account *types.Account) error {
	m.accounts[string(addr)] = account.Clone()
	return nil
}

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func makeAddress(suffix byte) [20]byte {
	var addr [20]byte
	addr[len(addr)-1] = suffix
	return addr
}

const testStart = uint64(1_700_000_000)

func newTestEngine(t *testing.T) (*Engine, *mockEngineState, *captureEmitter, *uint64) {
	t.Helper()
	state := newMockEngineState()
	engine := NewEngine(makeAddress(0xff))
	engine.SetState(state)
	emitter := &captureEmitter{}
	engine.SetEmitter(emitter)
	now := testStart
	engine.SetNowFunc(func() time.Time { return time.Unix(int64(now), 0).UTC() })
	return engine, state, emitter, &now
}

// seedStaker gives the address LP shares (micro-units) and an APPEX balance
// (wei) so the share-based cap admits stakes.
func seedStaker(t *testing.T, state *mockEngineState, addr [20]byte, shares, appex *big.Int) {
	t.Helper()
	acc := &types.Account{Shares: shares, BalanceAPPEX: appex}
	if err := state.PutAccount(addr[:], acc); err != nil {
		t.Fatalf("seed staker: %v", err)
	}
}

func setVaultState(t *testing.T, state *mockEngineState, mutate func(*vault.State)) {
	t.Helper()
	st := new(vault.State)
	if _, err := state.KVGet(vault.StateKey, st); err != nil {
		t.Fatalf("load vault state: %v", err)
	}
	st.Normalize()
	mutate(st)
	if err := state.KVPut(vault.StateKey, st); err != nil {
		t.Fatalf("store vault state: %v", err)
	}
}

func loadVaultState(t *testing.T, state *mockEngineState) *vault.State {
	t.Helper()
	st := new(vault.State)
	if _, err := state.KVGet(vault.StateKey, st); err != nil {
		t.Fatalf("load vault state: %v", err)
	}
	st.Normalize()
	return st
}

func appex(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), big.NewInt(1_000_000_000_000_000_000))
}

func TestStakeEscrowsAndWeights(t *testing.T) {
	engine, state, emitter, _ := newTestEngine(t)
	staker := makeAddress(0x01)
	// One full share caps the stake at one APPEX.
	seedStaker(t, state, staker, big.NewInt(1_000_000), appex(5))

	half := new(big.Int).Quo(appex(1), big.NewInt(2))
	if err := engine.Stake(staker, half, 90); err != nil {
		t.Fatalf("stake: %v", err)
	}

	pos, err := engine.GetPosition(staker)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.AppexStaked.Cmp(half) != 0 {
		t.Fatalf("unexpected staked amount %s", pos.AppexStaked)
	}
	if pos.LockDays != 90 || pos.LockEnd != testStart+90*secondsPerDay {
		t.Fatalf("unexpected lock %d %d", pos.LockDays, pos.LockEnd)
	}
	wantWeight := new(big.Int).Mul(half, big.NewInt(2))
	if pos.WeightedStake.Cmp(wantWeight) != 0 {
		t.Fatalf("unexpected weight %s", pos.WeightedStake)
	}

	stakerAcc, _ := state.GetAccount(staker[:])
	wantLeft := new(big.Int).Sub(appex(5), half)
	if stakerAcc.BalanceAPPEX.Cmp(wantLeft) != 0 {
		t.Fatalf("unexpected staker balance %s", stakerAcc.BalanceAPPEX)
	}
	module := makeAddress(0xff)
	moduleAcc, _ := state.GetAccount(module[:])
	if moduleAcc.BalanceAPPEX.Cmp(half) != 0 {
		t.Fatalf("escrow missing: %s", moduleAcc.BalanceAPPEX)
	}

	st := loadVaultState(t, state)
	if st.TotalStaked.Cmp(half) != 0 {
		t.Fatalf("unexpected total staked %s", st.TotalStaked)
	}
	if st.TotalStakingWeight.Cmp(wantWeight) != 0 {
		t.Fatalf("unexpected total weight %s", st.TotalStakingWeight)
	}

	last := emitter.events[len(emitter.events)-1]
	staked, ok := last.(events.StakingStaked)
	if !ok || staked.LockDays != 90 {
		t.Fatalf("unexpected event %T %+v", last, last)
	}
}

func TestStakeCapTracksSharesAndMultiplier(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	staker := makeAddress(0x01)
	seedStaker(t, state, staker, big.NewInt(1_000_000), appex(5))

	over := new(big.Int).Add(appex(1), big.NewInt(1))
	if err := engine.Stake(staker, over, 0); !errors.Is(err, errStakeCapExceeded) {
		t.Fatalf("expected cap rejection, got %v", err)
	}

	setVaultState(t, state, func(st *vault.State) { st.StakingMultiplier = 2 })
	if err := engine.Stake(staker, over, 0); err != nil {
		t.Fatalf("stake under raised multiplier: %v", err)
	}
}

func TestStakeLockTierRules(t *testing.T) {
	engine, state, _, now := newTestEngine(t)
	staker := makeAddress(0x01)
	seedStaker(t, state, staker, big.NewInt(10_000_000), appex(10))

	if err := engine.Stake(staker, appex(1), 45); !errors.Is(err, errInvalidLockTier) {
		t.Fatalf("expected tier rejection, got %v", err)
	}
	if err := engine.Stake(staker, appex(1), 90); err != nil {
		t.Fatalf("stake: %v", err)
	}
	// Shortening an active lock is rejected, lengthening re-locks the whole
	// position at the longer tier.
	if err := engine.Stake(staker, appex(1), 0); !errors.Is(err, errLockDowngrade) {
		t.Fatalf("expected downgrade rejection, got %v", err)
	}
	*now = testStart + 10*secondsPerDay
	if err := engine.Stake(staker, appex(1), 180); err != nil {
		t.Fatalf("lengthen lock: %v", err)
	}
	pos, _ := engine.GetPosition(staker)
	if pos.LockDays != 180 || pos.LockEnd != testStart+10*secondsPerDay+180*secondsPerDay {
		t.Fatalf("lock not reset: %d %d", pos.LockDays, pos.LockEnd)
	}
	wantWeight := new(big.Int).Mul(appex(2), big.NewInt(3))
	if pos.WeightedStake.Cmp(wantWeight) != 0 {
		t.Fatalf("whole position not re-weighted: %s", pos.WeightedStake)
	}

	// Once the lock expires any tier is allowed again.
	*now = pos.LockEnd
	if err := engine.Stake(staker, appex(1), 0); err != nil {
		t.Fatalf("restake after expiry: %v", err)
	}
	pos, _ = engine.GetPosition(staker)
	if pos.WeightedStake.Cmp(appex(3)) != 0 {
		t.Fatalf("unexpected weight after downgrade %s", pos.WeightedStake)
	}
}

func TestUnstakeRequiresExpiredLock(t *testing.T) {
	engine, state, _, now := newTestEngine(t)
	staker := makeAddress(0x01)
	seedStaker(t, state, staker, big.NewInt(10_000_000), appex(10))

	if err := engine.Unstake(staker, appex(1)); !errors.Is(err, errPositionNotFound) {
		t.Fatalf("expected missing position, got %v", err)
	}
	if err := engine.Stake(staker, appex(1), 90); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if err := engine.Unstake(staker, appex(1)); !errors.Is(err, errStillLocked) {
		t.Fatalf("expected lock rejection, got %v", err)
	}

	*now = testStart + 90*secondsPerDay
	if err := engine.Unstake(staker, appex(2)); !errors.Is(err, errInsufficientStake) {
		t.Fatalf("expected stake rejection, got %v", err)
	}
	fourTenths := new(big.Int).Mul(big.NewInt(4), new(big.Int).Quo(appex(1), big.NewInt(10)))
	if err := engine.Unstake(staker, fourTenths); err != nil {
		t.Fatalf("unstake: %v", err)
	}

	pos, _ := engine.GetPosition(staker)
	remaining := new(big.Int).Sub(appex(1), fourTenths)
	if pos.AppexStaked.Cmp(remaining) != 0 {
		t.Fatalf("unexpected remaining stake %s", pos.AppexStaked)
	}
	wantWeight := new(big.Int).Mul(remaining, big.NewInt(2))
	if pos.WeightedStake.Cmp(wantWeight) != 0 {
		t.Fatalf("unexpected weight %s", pos.WeightedStake)
	}
	st := loadVaultState(t, state)
	if st.TotalStaked.Cmp(remaining) != 0 {
		t.Fatalf("unexpected total staked %s", st.TotalStaked)
	}
	if st.TotalStakingWeight.Cmp(wantWeight) != 0 {
		t.Fatalf("unexpected total weight %s", st.TotalStakingWeight)
	}
	stakerAcc, _ := state.GetAccount(staker[:])
	wantBalance := new(big.Int).Sub(appex(10), remaining)
	if stakerAcc.BalanceAPPEX.Cmp(wantBalance) != 0 {
		t.Fatalf("unexpected staker balance %s", stakerAcc.BalanceAPPEX)
	}
}

func TestDistributeRewardsProRataWithFlooring(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	alice := makeAddress(0x01)
	bob := makeAddress(0x02)
	seedStaker(t, state, alice, big.NewInt(10_000_000), appex(10))
	seedStaker(t, state, bob, big.NewInt(10_000_000), appex(10))

	if err := engine.Stake(alice, appex(3), 0); err != nil {
		t.Fatalf("alice stake: %v", err)
	}
	if err := engine.Stake(bob, appex(1), 90); err != nil {
		t.Fatalf("bob stake: %v", err)
	}
	// Weights: alice 3, bob 2 (of 5).
	setVaultState(t, state, func(st *vault.State) { st.CollectedFees = big.NewInt(1_000) })

	if _, err := engine.DistributeRewards(big.NewInt(2_000)); !errors.Is(err, errDistributionShort) {
		t.Fatalf("expected shortfall rejection, got %v", err)
	}
	distributed, err := engine.DistributeRewards(big.NewInt(1_000))
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if distributed.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("unexpected distributed sum %s", distributed)
	}
	alicePos, _ := engine.GetPosition(alice)
	bobPos, _ := engine.GetPosition(bob)
	if alicePos.PendingRewards.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("unexpected alice rewards %s", alicePos.PendingRewards)
	}
	if bobPos.PendingRewards.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("unexpected bob rewards %s", bobPos.PendingRewards)
	}
	st := loadVaultState(t, state)
	if st.CollectedFees.Sign() != 0 {
		t.Fatalf("collected fees not consumed: %s", st.CollectedFees)
	}
	if st.RewardsPayable.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("unexpected rewards payable %s", st.RewardsPayable)
	}

	// A non-divisible amount floors per position and leaves the remainder
	// in collected fees.
	setVaultState(t, state, func(st *vault.State) { st.CollectedFees = big.NewInt(1_001) })
	distributed, err = engine.DistributeRewards(big.NewInt(1_001))
	if err != nil {
		t.Fatalf("distribute odd amount: %v", err)
	}
	if distributed.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("unexpected floored sum %s", distributed)
	}
	st = loadVaultState(t, state)
	if st.CollectedFees.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("remainder lost: %s", st.CollectedFees)
	}
}

func TestDistributeRequiresStake(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	setVaultState(t, state, func(st *vault.State) { st.CollectedFees = big.NewInt(500) })
	if _, err := engine.DistributeRewards(big.NewInt(500)); !errors.Is(err, errNoStake) {
		t.Fatalf("expected no-stake rejection, got %v", err)
	}
}

func TestClaimRewards(t *testing.T) {
	engine, state, emitter, _ := newTestEngine(t)
	staker := makeAddress(0x01)
	module := makeAddress(0xff)
	seedStaker(t, state, staker, big.NewInt(10_000_000), appex(10))
	if err := engine.Stake(staker, appex(1), 0); err != nil {
		t.Fatalf("stake: %v", err)
	}
	setVaultState(t, state, func(st *vault.State) { st.CollectedFees = big.NewInt(750) })
	if _, err := engine.DistributeRewards(big.NewInt(750)); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	moduleAcc, _ := state.GetAccount(module[:])
	moduleAcc.BalanceUSDC = big.NewInt(10_000)
	if err := state.PutAccount(module[:], moduleAcc); err != nil {
		t.Fatalf("seed module cash: %v", err)
	}

	claimed, err := engine.ClaimRewards(staker)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Cmp(big.NewInt(750)) != 0 {
		t.Fatalf("unexpected claim %s", claimed)
	}
	stakerAcc, _ := state.GetAccount(staker[:])
	if stakerAcc.BalanceUSDC.Cmp(big.NewInt(750)) != 0 {
		t.Fatalf("payout missing: %s", stakerAcc.BalanceUSDC)
	}
	st := loadVaultState(t, state)
	if st.RewardsPayable.Sign() != 0 {
		t.Fatalf("rewards payable not released: %s", st.RewardsPayable)
	}
	if _, err := engine.ClaimRewards(staker); !errors.Is(err, ErrNoRewards) {
		t.Fatalf("expected empty claim rejection, got %v", err)
	}
	last := emitter.events[len(emitter.events)-1]
	if _, ok := last.(events.StakingRewardsClaimed); !ok {
		t.Fatalf("unexpected event %T", last)
	}
}

func TestPositionsListingSkipsEmpty(t *testing.T) {
	engine, state, _, now := newTestEngine(t)
	alice := makeAddress(0x01)
	bob := makeAddress(0x02)
	seedStaker(t, state, alice, big.NewInt(10_000_000), appex(10))
	seedStaker(t, state, bob, big.NewInt(10_000_000), appex(10))
	if err := engine.Stake(alice, appex(1), 0); err != nil {
		t.Fatalf("alice stake: %v", err)
	}
	if err := engine.Stake(bob, appex(1), 0); err != nil {
		t.Fatalf("bob stake: %v", err)
	}
	*now = testStart + 1
	if err := engine.Unstake(bob, appex(1)); err != nil {
		t.Fatalf("bob unstake: %v", err)
	}

	positions, err := engine.Positions()
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(positions) != 1 || positions[0].Staker != alice {
		t.Fatalf("unexpected positions %+v", positions)
	}
}

type pauseAll struct{}

func (pauseAll) IsPaused(string) bool { return true }

func TestPausedStakingRejectsMutations(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	staker := makeAddress(0x01)
	seedStaker(t, state, staker, big.NewInt(10_000_000), appex(10))
	engine.SetPauses(pauseAll{})
	if err := engine.Stake(staker, appex(1), 0); err == nil {
		t.Fatal("expected pause rejection")
	}
}

package redemption

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

type pauseSet map[string]bool

func (p pauseSet) IsPaused(module string) bool { return p[module] }

func makeAddress(suffix byte) [20]byte {
	var addr [20]byte
	addr[len(addr)-1] = suffix
	return addr
}

const testStart = uint64(1_700_000_000)

func newTestEngines(t *testing.T) (*Engine, *vault.Engine, *mockEngineState, *captureEmitter) {
	t.Helper()
	state := newMockEngineState()
	vaultEngine := vault.NewEngine(makeAddress(0xff))
	vaultEngine.SetState(state)
	engine := NewEngine(vaultEngine)
	engine.SetState(state)
	emitter := &captureEmitter{}
	engine.SetEmitter(emitter)
	engine.SetNowFunc(func() time.Time { return time.Unix(int64(testStart), 0).UTC() })
	return engine, vaultEngine, state, emitter
}

func depositShares(t *testing.T, state *mockEngineState, vaultEngine *vault.Engine, provider [20]byte, amount int64) {
	t.Helper()
	acc := &types.Account{BalanceUSDC: big.NewInt(amount)}
	if err := state.PutAccount(provider[:], acc); err != nil {
		t.Fatalf("seed provider: %v", err)
	}
	if _, err := vaultEngine.Deposit(provider, big.NewInt(amount)); err != nil {
		t.Fatalf("deposit: %v", err)
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

func TestRequestSettlesImmediatelyWhenLiquid(t *testing.T) {
	engine, vaultEngine, state, emitter := newTestEngines(t)
	provider := makeAddress(0x01)
	depositShares(t, state, vaultEngine, provider, 1_000_000)

	outcome, err := engine.Request(provider, big.NewInt(400_000))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if !outcome.Settled {
		t.Fatal("expected immediate settlement")
	}
	if outcome.Amount.Cmp(big.NewInt(400_000)) != 0 {
		t.Fatalf("unexpected payout %s", outcome.Amount)
	}

	providerAcc, _ := state.GetAccount(provider[:])
	if providerAcc.BalanceUSDC.Cmp(big.NewInt(400_000)) != 0 {
		t.Fatalf("unexpected provider balance %s", providerAcc.BalanceUSDC)
	}
	if providerAcc.Shares.Cmp(big.NewInt(600_000)) != 0 {
		t.Fatalf("unexpected provider shares %s", providerAcc.Shares)
	}

	depth, _ := engine.Depth()
	if depth != 0 {
		t.Fatalf("expected empty queue, got %d", depth)
	}
	req, err := engine.GetRequest(outcome.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if !req.Settled || req.AmountPaid.Cmp(big.NewInt(400_000)) != 0 {
		t.Fatalf("request record not settled: %+v", req)
	}

	last := emitter.events[len(emitter.events)-1]
	settled, ok := last.(events.RedemptionSettled)
	if !ok {
		t.Fatalf("unexpected event %T", last)
	}
	if settled.Queued {
		t.Fatal("immediate settlement flagged as queued")
	}
}

func TestRequestQueuesWhenLiquidityShort(t *testing.T) {
	engine, vaultEngine, state, emitter := newTestEngines(t)
	provider := makeAddress(0x01)
	depositShares(t, state, vaultEngine, provider, 1_000_000)
	setVaultState(t, state, func(st *vault.State) { st.LiquidityBufferBps = 9_000 })

	outcome, err := engine.Request(provider, big.NewInt(400_000))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if outcome.Settled {
		t.Fatal("expected queued outcome")
	}
	if outcome.Depth != 1 {
		t.Fatalf("unexpected depth %d", outcome.Depth)
	}

	// Shares sit in module escrow while the entry waits.
	providerAcc, _ := state.GetAccount(provider[:])
	if providerAcc.Shares.Cmp(big.NewInt(600_000)) != 0 {
		t.Fatalf("shares not escrowed: %s", providerAcc.Shares)
	}
	module := vaultEngine.ModuleAddress()
	moduleAcc, _ := state.GetAccount(module[:])
	if moduleAcc.Shares.Cmp(big.NewInt(400_000)) != 0 {
		t.Fatalf("escrow missing: %s", moduleAcc.Shares)
	}
	last := emitter.events[len(emitter.events)-1]
	if _, ok := last.(events.RedemptionQueued); !ok {
		t.Fatalf("unexpected event %T", last)
	}

	count, _, err := engine.Process(testStart)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if count != 0 {
		t.Fatalf("settled despite buffer, count %d", count)
	}

	setVaultState(t, state, func(st *vault.State) { st.LiquidityBufferBps = 0 })
	count, total, err := engine.Process(testStart + 100)
	if err != nil {
		t.Fatalf("process after relax: %v", err)
	}
	if count != 1 || total.Cmp(big.NewInt(400_000)) != 0 {
		t.Fatalf("unexpected settlement count=%d total=%s", count, total)
	}
	providerAcc, _ = state.GetAccount(provider[:])
	if providerAcc.BalanceUSDC.Cmp(big.NewInt(400_000)) != 0 {
		t.Fatalf("payout missing: %s", providerAcc.BalanceUSDC)
	}
	depth, _ := engine.Depth()
	if depth != 0 {
		t.Fatalf("queue not drained: %d", depth)
	}
	last = emitter.events[len(emitter.events)-1]
	settled, ok := last.(events.RedemptionSettled)
	if !ok || !settled.Queued {
		t.Fatalf("expected queued settlement event, got %T %+v", last, last)
	}
}

func TestStrictFIFONoOvertake(t *testing.T) {
	engine, vaultEngine, state, _ := newTestEngines(t)
	alice := makeAddress(0x01)
	bob := makeAddress(0x02)
	depositShares(t, state, vaultEngine, alice, 500_000)
	depositShares(t, state, vaultEngine, bob, 300_000)
	setVaultState(t, state, func(st *vault.State) { st.LiquidityBufferBps = 9_500 })

	aliceOutcome, err := engine.Request(alice, big.NewInt(200_000))
	if err != nil {
		t.Fatalf("alice request: %v", err)
	}
	if aliceOutcome.Settled {
		t.Fatal("alice should queue")
	}

	// Bob's small request would fit the available liquidity, but Alice is
	// ahead of him.
	bobOutcome, err := engine.Request(bob, big.NewInt(10_000))
	if err != nil {
		t.Fatalf("bob request: %v", err)
	}
	if bobOutcome.Settled {
		t.Fatal("bob overtook the queue")
	}
	if bobOutcome.Depth != 2 {
		t.Fatalf("unexpected depth %d", bobOutcome.Depth)
	}
	count, _, err := engine.Process(testStart)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if count != 0 {
		t.Fatalf("settled through blocked head, count %d", count)
	}

	setVaultState(t, state, func(st *vault.State) { st.LiquidityBufferBps = 0 })
	count, _, err = engine.Process(testStart + 50)
	if err != nil {
		t.Fatalf("process after relax: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected both settled, got %d", count)
	}
	first, _ := engine.GetRequest(aliceOutcome.ID)
	second, _ := engine.GetRequest(bobOutcome.ID)
	if !first.Settled || !second.Settled {
		t.Fatal("entries not settled")
	}
	if first.ID >= second.ID {
		t.Fatalf("order inverted: %d vs %d", first.ID, second.ID)
	}
}

func TestDailyCapStopsProcessing(t *testing.T) {
	engine, vaultEngine, state, _ := newTestEngines(t)
	provider := makeAddress(0x01)
	depositShares(t, state, vaultEngine, provider, 1_000_000)
	setVaultState(t, state, func(st *vault.State) { st.DailyRedemptionCap = big.NewInt(250_000) })

	outcome, err := engine.Request(provider, big.NewInt(200_000))
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if !outcome.Settled {
		t.Fatal("first request should fit the cap")
	}

	outcome, err = engine.Request(provider, big.NewInt(100_000))
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if outcome.Settled {
		t.Fatal("second request should exceed the cap")
	}

	count, _, err := engine.Process(testStart + 60)
	if err != nil {
		t.Fatalf("same-day process: %v", err)
	}
	if count != 0 {
		t.Fatalf("cap ignored, settled %d", count)
	}

	usage, err := engine.Usage()
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if usage.Amount.Cmp(big.NewInt(200_000)) != 0 {
		t.Fatalf("unexpected usage %s", usage.Amount)
	}

	// The bucket resets on the next UTC day.
	day := uint64(24 * 60 * 60)
	count, total, err := engine.Process(testStart + day)
	if err != nil {
		t.Fatalf("next-day process: %v", err)
	}
	if count != 1 || total.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("unexpected next-day settlement count=%d total=%s", count, total)
	}
}

func TestQueuedEntrySettlesAtProcessingPrice(t *testing.T) {
	engine, vaultEngine, state, _ := newTestEngines(t)
	provider := makeAddress(0x01)
	depositShares(t, state, vaultEngine, provider, 1_000_000)
	setVaultState(t, state, func(st *vault.State) { st.LiquidityBufferBps = 9_000 })

	outcome, err := engine.Request(provider, big.NewInt(500_000))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if outcome.Settled {
		t.Fatal("expected queued outcome")
	}

	// Yield lands while the entry waits; the payout reflects it.
	module := vaultEngine.ModuleAddress()
	moduleAcc, _ := state.GetAccount(module[:])
	moduleAcc.BalanceUSDC = new(big.Int).Add(moduleAcc.BalanceUSDC, big.NewInt(100_000))
	if err := state.PutAccount(module[:], moduleAcc); err != nil {
		t.Fatalf("grow module cash: %v", err)
	}
	setVaultState(t, state, func(st *vault.State) {
		st.CollectedFees = big.NewInt(100_000)
		st.LiquidityBufferBps = 0
	})

	count, total, err := engine.Process(testStart + 500)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected settlement, got %d", count)
	}
	if total.Cmp(big.NewInt(550_000)) != 0 {
		t.Fatalf("payout not at processing price: %s", total)
	}
}

func TestRequestValidation(t *testing.T) {
	engine, vaultEngine, state, _ := newTestEngines(t)
	provider := makeAddress(0x01)
	depositShares(t, state, vaultEngine, provider, 100_000)

	if _, err := engine.Request(provider, big.NewInt(0)); !errors.Is(err, errInvalidAmount) {
		t.Fatalf("expected amount rejection, got %v", err)
	}
	if _, err := engine.Request(provider, big.NewInt(100_001)); !errors.Is(err, errInsufficientShares) {
		t.Fatalf("expected share rejection, got %v", err)
	}
	if _, err := engine.GetRequest(99); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected missing request, got %v", err)
	}
}

func TestOldestAgeTracksHead(t *testing.T) {
	engine, vaultEngine, state, _ := newTestEngines(t)
	provider := makeAddress(0x01)
	depositShares(t, state, vaultEngine, provider, 1_000_000)
	setVaultState(t, state, func(st *vault.State) { st.LiquidityBufferBps = 9_900 })

	age, err := engine.OldestAge(testStart)
	if err != nil {
		t.Fatalf("age on empty queue: %v", err)
	}
	if age != 0 {
		t.Fatalf("unexpected age %d", age)
	}

	if _, err := engine.Request(provider, big.NewInt(500_000)); err != nil {
		t.Fatalf("request: %v", err)
	}
	age, err = engine.OldestAge(testStart + 3_600)
	if err != nil {
		t.Fatalf("age: %v", err)
	}
	if age != 3_600 {
		t.Fatalf("unexpected age %d", age)
	}
	pending, err := engine.Pending()
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Provider != provider {
		t.Fatalf("unexpected pending set %+v", pending)
	}
}

func TestPausedVaultStallsQueue(t *testing.T) {
	engine, vaultEngine, state, _ := newTestEngines(t)
	provider := makeAddress(0x01)
	depositShares(t, state, vaultEngine, provider, 1_000_000)

	pauses := pauseSet{"vault": true}
	vaultEngine.SetPauses(pauses)
	engine.SetPauses(pauses)

	// Enqueueing stays open while settlement is paused.
	outcome, err := engine.Request(provider, big.NewInt(100_000))
	if err != nil {
		t.Fatalf("request with paused vault: %v", err)
	}
	if outcome.Settled {
		t.Fatal("settled through a paused vault")
	}
	count, _, err := engine.Process(testStart)
	if err != nil {
		t.Fatalf("process with paused vault: %v", err)
	}
	if count != 0 {
		t.Fatalf("settled %d entries through a paused vault", count)
	}

	delete(pauses, "vault")
	count, total, err := engine.Process(testStart + 10)
	if err != nil {
		t.Fatalf("process after unpause: %v", err)
	}
	if count != 1 || total.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("unexpected settlement count=%d total=%s", count, total)
	}
}

func TestPausedRedemptionRejectsRequests(t *testing.T) {
	engine, vaultEngine, state, _ := newTestEngines(t)
	provider := makeAddress(0x01)
	depositShares(t, state, vaultEngine, provider, 100_000)
	engine.SetPauses(pauseSet{moduleName: true})
	if _, err := engine.Request(provider, big.NewInt(10_000)); err == nil {
		t.Fatal("expected pause rejection")
	}
}

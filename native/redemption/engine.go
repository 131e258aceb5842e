package redemption

import (
	"encoding/binary"
	"errors"
	"math/big"
	"time"

	"apxpool/core/events"
	"apxpool/core/types"
	nativecommon "apxpool/native/common"
	"apxpool/native/vault"
)

var ray = big.NewInt(1_000_000_000_000_000_000)

const moduleName = "redemption"

var (
	requestPrefix = []byte("redemption/request/")
	headKey       = []byte("redemption/queue/head")
	nextKey       = []byte("redemption/queue/next")
	usageKey      = []byte("redemption/usage")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// Engine runs the redemption queue. Requests settle through the vault at
// the price current when they reach the head; escrowed shares guarantee the
// provider cannot spend them while waiting.
type Engine struct {
	state   engineState
	vault   *vault.Engine
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() time.Time
}

// NewEngine constructs a redemption engine settling through the supplied
// vault engine.
func NewEngine(v *vault.Engine) *Engine {
	return &Engine{
		vault:   v,
		emitter: events.NoopEmitter{},
		nowFn:   func() time.Time { return time.Now().UTC() },
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

// SetNowFunc overrides the time source. Nil restores the UTC clock.
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

func requestKey(id uint64) []byte {
	buf := make([]byte, len(requestPrefix)+8)
	copy(buf, requestPrefix)
	binary.BigEndian.PutUint64(buf[len(requestPrefix):], id)
	return buf
}

func (e *Engine) counter(key []byte) (uint64, error) {
	var v uint64
	if _, err := e.state.KVGet(key, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func (e *Engine) loadRequest(id uint64) (*Request, bool, error) {
	req := new(Request)
	ok, err := e.state.KVGet(requestKey(id), req)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	req.Normalize()
	return req, true, nil
}

func (e *Engine) putRequest(req *Request) error {
	req.Normalize()
	return e.state.KVPut(requestKey(req.ID), req)
}

func (e *Engine) loadUsage() (nativecommon.QuotaUsage, error) {
	usage := nativecommon.QuotaUsage{}
	if _, err := e.state.KVGet(usageKey, &usage); err != nil {
		return nativecommon.QuotaUsage{}, err
	}
	if usage.Amount == nil {
		usage.Amount = big.NewInt(0)
	}
	return usage, nil
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

// Request escrows the provider's shares and settles immediately when the
// entry lands at the head of an empty queue and today's cap plus available
// liquidity admit the full payout. Otherwise the entry waits for Process.
// No partial fills: a request settles whole or not at all.
func (e *Engine) Request(provider [20]byte, shares *big.Int) (*Outcome, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.vault == nil {
		return nil, errNilVault
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	providerAcc, err := e.loadAccount(provider)
	if err != nil {
		return nil, err
	}
	if providerAcc.Shares.Cmp(shares) < 0 {
		return nil, errInsufficientShares
	}

	module := e.vault.ModuleAddress()
	moduleAcc, err := e.loadAccount(module)
	if err != nil {
		return nil, err
	}
	providerAcc.Shares = new(big.Int).Sub(providerAcc.Shares, shares)
	moduleAcc.Shares = new(big.Int).Add(moduleAcc.Shares, shares)
	if err := e.state.PutAccount(provider[:], providerAcc); err != nil {
		return nil, err
	}
	if err := e.state.PutAccount(module[:], moduleAcc); err != nil {
		return nil, err
	}

	next, err := e.counter(nextKey)
	if err != nil {
		return nil, err
	}
	head, err := e.counter(headKey)
	if err != nil {
		return nil, err
	}
	next++
	now := e.now()
	req := &Request{
		ID:          next,
		Provider:    provider,
		Shares:      new(big.Int).Set(shares),
		RequestTime: now,
	}
	if err := e.putRequest(req); err != nil {
		return nil, err
	}
	if err := e.state.KVPut(nextKey, next); err != nil {
		return nil, err
	}

	// Only a request that is itself the head may settle in-line; anything
	// behind older entries waits its turn.
	if head+1 == next {
		settled, ok, err := e.settleHead(now)
		if err != nil {
			return nil, err
		}
		if ok {
			e.emitter.Emit(events.RedemptionSettled{
				ID:         settled.req.ID,
				Provider:   settled.req.Provider,
				Shares:     new(big.Int).Set(settled.req.Shares),
				Amount:     new(big.Int).Set(settled.req.AmountPaid),
				SharePrice: settled.price,
			})
			return &Outcome{
				ID:      settled.req.ID,
				Settled: true,
				Shares:  new(big.Int).Set(settled.req.Shares),
				Amount:  new(big.Int).Set(settled.req.AmountPaid),
			}, nil
		}
	}

	depth := next - head
	e.emitter.Emit(events.RedemptionQueued{
		ID:       req.ID,
		Provider: provider,
		Shares:   new(big.Int).Set(shares),
		Depth:    depth,
	})
	return &Outcome{
		ID:     req.ID,
		Shares: new(big.Int).Set(shares),
		Depth:  depth,
	}, nil
}

type settlement struct {
	req   *Request
	price *big.Int
}

// settleHead pays out the head entry when available liquidity and the daily
// cap admit it. The caller emits; this only moves value and advances the
// queue.
func (e *Engine) settleHead(now uint64) (*settlement, bool, error) {
	head, err := e.counter(headKey)
	if err != nil {
		return nil, false, err
	}
	next, err := e.counter(nextKey)
	if err != nil {
		return nil, false, err
	}
	if head >= next {
		return nil, false, nil
	}
	req, ok, err := e.loadRequest(head + 1)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	st := new(vault.State)
	if _, err := e.state.KVGet(vault.StateKey, st); err != nil {
		return nil, false, err
	}
	st.Normalize()
	module := e.vault.ModuleAddress()
	moduleAcc, err := e.loadAccount(module)
	if err != nil {
		return nil, false, err
	}
	price := st.SharePrice(moduleAcc.BalanceUSDC)
	value := new(big.Int).Mul(req.Shares, price)
	value.Quo(value, ray)
	if value.Cmp(st.AvailableLiquidity(moduleAcc.BalanceUSDC)) > 0 {
		return nil, false, nil
	}

	usage, err := e.loadUsage()
	if err != nil {
		return nil, false, err
	}
	quota := nativecommon.Quota{MaxAmountPerDay: st.DailyRedemptionCap}
	day := nativecommon.DayKey(time.Unix(int64(now), 0))
	nextUsage, err := nativecommon.CheckQuota(quota, day, usage, 1, value)
	if err != nil {
		return nil, false, nil
	}

	amount, err := e.vault.SettleEscrowed(req.Provider, req.Shares)
	if err != nil {
		// A paused vault stalls the queue; the entry stays pending.
		if errors.Is(err, nativecommon.ErrModulePaused) {
			return nil, false, nil
		}
		return nil, false, err
	}

	req.Settled = true
	req.SettledTime = now
	req.AmountPaid = amount
	if err := e.putRequest(req); err != nil {
		return nil, false, err
	}
	if err := e.state.KVPut(headKey, head+1); err != nil {
		return nil, false, err
	}
	if err := e.state.KVPut(usageKey, nextUsage); err != nil {
		return nil, false, err
	}
	return &settlement{req: req, price: price}, true, nil
}

// Process drains the queue from the head until an entry no longer fits the
// available liquidity or today's cap. Returns the number of settlements and
// the total USDC paid out.
func (e *Engine) Process(now uint64) (uint64, *big.Int, error) {
	if e == nil || e.state == nil {
		return 0, nil, errNilState
	}
	if e.vault == nil {
		return 0, nil, errNilVault
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, nil, err
	}

	var count uint64
	total := big.NewInt(0)
	for {
		settled, ok, err := e.settleHead(now)
		if err != nil {
			return count, total, err
		}
		if !ok {
			break
		}
		count++
		total.Add(total, settled.req.AmountPaid)
		e.emitter.Emit(events.RedemptionSettled{
			ID:         settled.req.ID,
			Provider:   settled.req.Provider,
			Shares:     new(big.Int).Set(settled.req.Shares),
			Amount:     new(big.Int).Set(settled.req.AmountPaid),
			SharePrice: settled.price,
			Queued:     true,
		})
	}
	return count, total, nil
}

// Depth reports the number of entries waiting in the queue.
func (e *Engine) Depth() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	head, err := e.counter(headKey)
	if err != nil {
		return 0, err
	}
	next, err := e.counter(nextKey)
	if err != nil {
		return 0, err
	}
	return next - head, nil
}

// OldestAge reports how long the head entry has been waiting, in seconds.
// Zero when the queue is empty.
func (e *Engine) OldestAge(now uint64) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	head, err := e.counter(headKey)
	if err != nil {
		return 0, err
	}
	next, err := e.counter(nextKey)
	if err != nil {
		return 0, err
	}
	if head >= next {
		return 0, nil
	}
	req, ok, err := e.loadRequest(head + 1)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	if now <= req.RequestTime {
		return 0, nil
	}
	return now - req.RequestTime, nil
}

// Pending returns the queued entries in settlement order.
func (e *Engine) Pending() ([]*Request, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	head, err := e.counter(headKey)
	if err != nil {
		return nil, err
	}
	next, err := e.counter(nextKey)
	if err != nil {
		return nil, err
	}
	pending := make([]*Request, 0, next-head)
	for id := head + 1; id <= next; id++ {
		req, ok, err := e.loadRequest(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		pending = append(pending, req.Clone())
	}
	return pending, nil
}

// GetRequest returns a stored request, settled or pending.
func (e *Engine) GetRequest(id uint64) (*Request, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	req, ok, err := e.loadRequest(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errRequestNotFound
	}
	return req.Clone(), nil
}

// Usage returns today's consumed redemption quota.
func (e *Engine) Usage() (nativecommon.QuotaUsage, error) {
	if e == nil || e.state == nil {
		return nativecommon.QuotaUsage{}, errNilState
	}
	return e.loadUsage()
}

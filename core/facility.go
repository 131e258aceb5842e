package core

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"apxpool/core/events"
	"apxpool/core/state"
	nativecommon "apxpool/native/common"
	"apxpool/native/credit"
	"apxpool/native/governance"
	"apxpool/native/redemption"
	"apxpool/native/registry"
	"apxpool/native/staking"
	"apxpool/native/vault"
	"apxpool/storage"
)

// Module names accepted by the pause switchboard.
const (
	ModuleVault      = "vault"
	ModuleCredit     = "credit"
	ModuleRedemption = "redemption"
	ModuleStaking    = "staking"
	ModuleGovernance = "governance"
)

var knownModules = map[string]bool{
	ModuleVault:      true,
	ModuleCredit:     true,
	ModuleRedemption: true,
	ModuleStaking:    true,
	ModuleGovernance: true,
}

var (
	initializedKey      = []byte("core/initialized")
	pausePrefix         = []byte("core/pauses/")
	creditParamsKey     = []byte("core/params/credit")
	governancePolicyKey = []byte("core/params/governance")
)

var (
	errOwnerRequired      = fmt.Errorf("facility: genesis owner required: %w", nativecommon.ErrValidation)
	errUnknownModule      = fmt.Errorf("facility: unknown module: %w", nativecommon.ErrValidation)
	errUnknownRole        = fmt.Errorf("facility: unknown role: %w", nativecommon.ErrValidation)
	errUnknownParam       = fmt.Errorf("facility: unknown parameter: %w", nativecommon.ErrValidation)
	errParamRange         = fmt.Errorf("facility: parameter out of range: %w", nativecommon.ErrValidation)
	errNotAuthorized      = fmt.Errorf("facility: caller lacks required role: %w", nativecommon.ErrUnauthorized)
	errGovernanceRequired = fmt.Errorf("facility: borrower approval requires a proposal: %w", nativecommon.ErrUnauthorized)
)

// ErrNotAuthorized reports a caller without the role an operation demands.
var ErrNotAuthorized = errNotAuthorized

// ErrGovernanceRequired reports a direct borrower approval attempted after
// a governor set was installed.
var ErrGovernanceRequired = errGovernanceRequired

// ModuleAddress returns the facility's internal treasury address. Derived
// from a fixed label; no private key controls it.
func ModuleAddress() [20]byte {
	var addr [20]byte
	copy(addr[:], ethcrypto.Keccak256([]byte("apxpool/module/treasury"))[12:])
	return addr
}

// Genesis seeds roles and parameters on the facility's first boot. A
// database that already carries facility state ignores it entirely.
type Genesis struct {
	Owner     [20]byte
	Admins    [][20]byte
	Governors [][20]byte

	// Governance policy. Zero quorum collapses to one approval.
	Quorum          uint64
	MinDelaySeconds uint64

	// Vault parameters. A nil or zero redemption cap disables the day
	// limit; a zero multiplier normalizes to one.
	LiquidityBufferBps uint64
	DailyRedemptionCap *big.Int
	StakingMultiplier  uint64

	// Credit origination bounds. Zero fields fall back to engine defaults.
	MinTermDays uint64
	MaxTermDays uint64
	AppexRate   *big.Int

	// Modules that start life paused. Operators flip them live later.
	Paused []string
}

type storedCreditParams struct {
	MinTermDays uint64
	MaxTermDays uint64
	AppexRate   *big.Int
}

type storedGovernancePolicy struct {
	Quorum          uint64
	MinDelaySeconds uint64
}

// Facility is the single transaction boundary over the engines. Every
// exported operation serializes on one mutex; the engines own their state
// transitions while the facility layers roles, pause switches, fee accrual
// and the post-mutation invariant check on top.
type Facility struct {
	db    storage.Database
	state *state.Manager
	bus   *events.Bus

	vault      *vault.Engine
	credit     *credit.Engine
	redemption *redemption.Engine
	staking    *staking.Engine
	governance *governance.Engine

	registry *registry.Store

	mu    sync.Mutex
	nowFn func() time.Time

	pauseMu sync.RWMutex
	paused  map[string]bool
}

// NewFacility opens (or initialises) a facility over the provided database.
func NewFacility(db storage.Database, genesis Genesis) (*Facility, error) {
	if db == nil {
		return nil, fmt.Errorf("facility: database required")
	}
	manager := state.NewManager(db)
	f := &Facility{
		db:     db,
		state:  manager,
		bus:    events.NewBus(),
		nowFn:  func() time.Time { return time.Now().UTC() },
		paused: make(map[string]bool),
	}

	moduleAddr := ModuleAddress()
	f.vault = vault.NewEngine(moduleAddr)
	f.credit = credit.NewEngine(moduleAddr, credit.Config{
		MinTermDays: genesis.MinTermDays,
		MaxTermDays: genesis.MaxTermDays,
		AppexRate:   genesis.AppexRate,
	})
	f.redemption = redemption.NewEngine(f.vault)
	f.staking = staking.NewEngine(moduleAddr)
	f.governance = governance.NewEngine()

	f.vault.SetState(manager)
	f.vault.SetEmitter(f.bus)
	f.vault.SetPauses(f)

	f.credit.SetState(manager)
	f.credit.SetEmitter(f.bus)
	f.credit.SetPauses(f)

	f.redemption.SetState(manager)
	f.redemption.SetEmitter(f.bus)
	f.redemption.SetPauses(f)

	f.staking.SetState(manager)
	f.staking.SetEmitter(f.bus)
	f.staking.SetPauses(f)

	f.governance.SetState(manager)
	f.governance.SetEmitter(f.bus)
	f.governance.SetPauses(f)
	f.governance.SetRoles(f)
	f.governance.SetTarget(governanceTarget{f: f})

	if err := f.bootstrap(genesis); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Facility) bootstrap(genesis Genesis) error {
	var initialized bool
	ok, err := f.state.KVGet(initializedKey, &initialized)
	if err != nil {
		return err
	}
	if ok && initialized {
		return f.restore()
	}
	return f.initialize(genesis)
}

func (f *Facility) initialize(genesis Genesis) error {
	var zero [20]byte
	if genesis.Owner == zero {
		return errOwnerRequired
	}
	if genesis.LiquidityBufferBps > 10_000 {
		return errParamRange
	}
	if genesis.DailyRedemptionCap != nil && genesis.DailyRedemptionCap.Sign() < 0 {
		return errParamRange
	}

	if err := f.state.SetRole(state.RoleOwner, genesis.Owner[:]); err != nil {
		return err
	}
	for _, admin := range genesis.Admins {
		if err := f.state.SetRole(state.RoleAdmin, admin[:]); err != nil {
			return err
		}
	}
	for _, governor := range genesis.Governors {
		if err := f.state.SetRole(state.RoleGovernor, governor[:]); err != nil {
			return err
		}
	}

	st, err := f.vault.State()
	if err != nil {
		return err
	}
	st.LiquidityBufferBps = genesis.LiquidityBufferBps
	if genesis.DailyRedemptionCap != nil {
		st.DailyRedemptionCap = new(big.Int).Set(genesis.DailyRedemptionCap)
	}
	if genesis.StakingMultiplier > 0 {
		st.StakingMultiplier = genesis.StakingMultiplier
	}
	if err := f.vault.PutState(st); err != nil {
		return err
	}

	cfg := f.credit.Config()
	if genesis.MinTermDays > 0 {
		cfg.MinTermDays = genesis.MinTermDays
	}
	if genesis.MaxTermDays > 0 {
		cfg.MaxTermDays = genesis.MaxTermDays
	}
	if genesis.AppexRate != nil {
		cfg.AppexRate = new(big.Int).Set(genesis.AppexRate)
	}
	if err := f.credit.SetConfig(cfg); err != nil {
		return err
	}
	if err := f.persistCreditParams(); err != nil {
		return err
	}

	policy := governance.DefaultPolicy()
	if genesis.Quorum > 0 {
		policy.Quorum = genesis.Quorum
	}
	if genesis.MinDelaySeconds > 0 {
		policy.MinDelaySeconds = genesis.MinDelaySeconds
	}
	f.governance.SetPolicy(policy)
	stored := storedGovernancePolicy{Quorum: policy.Quorum, MinDelaySeconds: policy.MinDelaySeconds}
	if err := f.state.KVPut(governancePolicyKey, stored); err != nil {
		return err
	}

	for _, module := range genesis.Paused {
		if !knownModules[module] {
			return errUnknownModule
		}
		if err := f.state.KVPut(pauseKey(module), true); err != nil {
			return err
		}
	}

	if err := f.loadPauses(); err != nil {
		return err
	}
	return f.state.KVPut(initializedKey, true)
}

func (f *Facility) restore() error {
	var params storedCreditParams
	ok, err := f.state.KVGet(creditParamsKey, &params)
	if err != nil {
		return err
	}
	if ok {
		cfg := credit.Config{
			MinTermDays: params.MinTermDays,
			MaxTermDays: params.MaxTermDays,
			AppexRate:   params.AppexRate,
		}
		if err := f.credit.SetConfig(cfg); err != nil {
			return err
		}
	}

	var stored storedGovernancePolicy
	ok, err = f.state.KVGet(governancePolicyKey, &stored)
	if err != nil {
		return err
	}
	if ok {
		policy := governance.DefaultPolicy()
		policy.Quorum = stored.Quorum
		policy.MinDelaySeconds = stored.MinDelaySeconds
		f.governance.SetPolicy(policy)
	}

	return f.loadPauses()
}

func (f *Facility) persistCreditParams() error {
	cfg := f.credit.Config()
	return f.state.KVPut(creditParamsKey, storedCreditParams{
		MinTermDays: cfg.MinTermDays,
		MaxTermDays: cfg.MaxTermDays,
		AppexRate:   cfg.AppexRate,
	})
}

// SetNowFunc overrides the facility clock, propagating to every engine.
// Nil restores the UTC wall clock.
func (f *Facility) SetNowFunc(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	f.nowFn = now
	f.credit.SetNowFunc(now)
	f.redemption.SetNowFunc(now)
	f.staking.SetNowFunc(now)
	f.governance.SetNowFunc(now)
}

// SetRegistry attaches the counterparty registry. The facility only reads
// it; lifecycle mutations stay with the transport layer.
func (f *Facility) SetRegistry(store *registry.Store) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registry = store
}

// Registry returns the attached counterparty registry, or nil.
func (f *Facility) Registry() *registry.Store {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registry
}

// Partner looks the address up in the counterparty registry. Reports
// found=false when no registry is attached.
func (f *Facility) Partner(addr [20]byte) (registry.Partner, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registry == nil {
		return registry.Partner{}, false, nil
	}
	return f.registry.GetPartner(addr)
}

// Events returns the facility bus consumed by transports and the audit
// journal.
func (f *Facility) Events() *events.Bus { return f.bus }

func (f *Facility) nowUnix() uint64 {
	ts := f.nowFn().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// accrue brings loan fee recognition up to the current day before
// settlement math runs. Callers hold the facility mutex.
func (f *Facility) accrue() error {
	_, err := f.credit.AccrueFees(f.nowUnix())
	return err
}

func pauseKey(module string) []byte {
	buf := make([]byte, 0, len(pausePrefix)+len(module))
	buf = append(buf, pausePrefix...)
	return append(buf, module...)
}

func (f *Facility) loadPauses() error {
	f.pauseMu.Lock()
	defer f.pauseMu.Unlock()
	for module := range knownModules {
		var paused bool
		ok, err := f.state.KVGet(pauseKey(module), &paused)
		if err != nil {
			return err
		}
		f.paused[module] = ok && paused
	}
	return nil
}

// IsPaused satisfies the engines' pause view.
func (f *Facility) IsPaused(module string) bool {
	f.pauseMu.RLock()
	defer f.pauseMu.RUnlock()
	return f.paused[module]
}

// SetPaused flips one module's pause switch. Owner or admin only; the
// position persists across restarts.
func (f *Facility) SetPaused(caller [20]byte, module string, paused bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.isOperator(caller) {
		return errNotAuthorized
	}
	if !knownModules[module] {
		return errUnknownModule
	}
	if err := f.state.KVPut(pauseKey(module), paused); err != nil {
		return err
	}
	f.pauseMu.Lock()
	f.paused[module] = paused
	f.pauseMu.Unlock()
	return nil
}

// Pauses reports the current switch positions.
func (f *Facility) Pauses() map[string]bool {
	f.pauseMu.RLock()
	defer f.pauseMu.RUnlock()
	out := make(map[string]bool, len(f.paused))
	for module, paused := range f.paused {
		out[module] = paused
	}
	return out
}

func (f *Facility) hasRole(role string, addr [20]byte) bool {
	return f.state.HasRole(role, addr[:])
}

func (f *Facility) isOperator(addr [20]byte) bool {
	return f.hasRole(state.RoleOwner, addr) || f.hasRole(state.RoleAdmin, addr)
}

// IsGovernor satisfies the governance engine's role view.
func (f *Facility) IsGovernor(addr [20]byte) (bool, error) {
	return f.state.HasRole(state.RoleGovernor, addr[:]), nil
}

// GrantRole assigns admin or governor membership. Owner only; the owner
// role itself is fixed at genesis.
func (f *Facility) GrantRole(caller [20]byte, role string, addr [20]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasRole(state.RoleOwner, caller) {
		return errNotAuthorized
	}
	if role != state.RoleAdmin && role != state.RoleGovernor {
		return errUnknownRole
	}
	return f.state.SetRole(role, addr[:])
}

// RevokeRole removes admin or governor membership. Owner only.
func (f *Facility) RevokeRole(caller [20]byte, role string, addr [20]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasRole(state.RoleOwner, caller) {
		return errNotAuthorized
	}
	if role != state.RoleAdmin && role != state.RoleGovernor {
		return errUnknownRole
	}
	return f.state.UnsetRole(role, addr[:])
}

// RoleMembers lists the addresses holding a role in stable order.
func (f *Facility) RoleMembers(role string) ([][20]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, err := f.state.RoleMembers(role)
	if err != nil {
		return nil, err
	}
	members := make([][20]byte, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != 20 {
			continue
		}
		var addr [20]byte
		copy(addr[:], entry)
		members = append(members, addr)
	}
	return members, nil
}

// governanceTarget applies executed proposals. Calls arrive while the
// facility mutex is already held by ExecuteProposal.
type governanceTarget struct{ f *Facility }

func (t governanceTarget) ApproveBorrower(borrower [20]byte, limit *big.Int, lpYieldBps, protocolFeeBps uint64) error {
	return t.f.credit.ApproveBorrower(borrower, limit, lpYieldBps, protocolFeeBps)
}

func (t governanceTarget) SetParam(key string, value *big.Int) error {
	return t.f.applyParam(key, value)
}

func (f *Facility) applyParam(key string, value *big.Int) error {
	if value == nil || value.Sign() < 0 {
		return errParamRange
	}
	switch key {
	case governance.ParamVaultLiquidityBufferBps:
		if value.Cmp(big.NewInt(10_000)) > 0 {
			return errParamRange
		}
		st, err := f.vault.State()
		if err != nil {
			return err
		}
		st.LiquidityBufferBps = value.Uint64()
		return f.vault.PutState(st)
	case governance.ParamVaultDailyRedemptionCap:
		st, err := f.vault.State()
		if err != nil {
			return err
		}
		st.DailyRedemptionCap = new(big.Int).Set(value)
		return f.vault.PutState(st)
	case governance.ParamVaultStakingMultiplier:
		if value.Sign() == 0 || value.Cmp(big.NewInt(1_000)) > 0 {
			return errParamRange
		}
		st, err := f.vault.State()
		if err != nil {
			return err
		}
		st.StakingMultiplier = value.Uint64()
		return f.vault.PutState(st)
	case governance.ParamCreditMinTermDays:
		if !value.IsUint64() {
			return errParamRange
		}
		cfg := f.credit.Config()
		cfg.MinTermDays = value.Uint64()
		if err := f.credit.SetConfig(cfg); err != nil {
			return err
		}
		return f.persistCreditParams()
	case governance.ParamCreditMaxTermDays:
		if !value.IsUint64() {
			return errParamRange
		}
		cfg := f.credit.Config()
		cfg.MaxTermDays = value.Uint64()
		if err := f.credit.SetConfig(cfg); err != nil {
			return err
		}
		return f.persistCreditParams()
	case governance.ParamCreditAppexRate:
		cfg := f.credit.Config()
		cfg.AppexRate = new(big.Int).Set(value)
		if err := f.credit.SetConfig(cfg); err != nil {
			return err
		}
		return f.persistCreditParams()
	default:
		return errUnknownParam
	}
}

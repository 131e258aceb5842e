package vault

import (
	"fmt"
	"math/big"

	"apxpool/core/events"
	"apxpool/core/types"
	nativecommon "apxpool/native/common"
)

var (
	basisPoints = big.NewInt(10_000)
	ray         = big.NewInt(1_000_000_000_000_000_000)
)

const moduleName = "vault"

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// Engine owns the central accounting state: NAV, share supply and the split
// of module cash between LP capital, protocol fees and staking rewards.
// Every asset movement in the facility passes through it.
type Engine struct {
	state         engineState
	moduleAddress [20]byte
	emitter       events.Emitter
	pauses        nativecommon.PauseView
}

// NewEngine constructs a vault engine bound to the module treasury address.
func NewEngine(moduleAddr [20]byte) *Engine {
	return &Engine{
		moduleAddress: moduleAddr,
		emitter:       events.NoopEmitter{},
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

// ModuleAddress returns the treasury address pool cash is held under.
func (e *Engine) ModuleAddress() [20]byte { return e.moduleAddress }

// State loads the vault singleton, defaulting missing fields. A missing
// record yields a zeroed genesis state.
func (e *Engine) State() (*State, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	st := new(State)
	if _, err := e.state.KVGet(StateKey, st); err != nil {
		return nil, err
	}
	st.Normalize()
	return st, nil
}

// PutState persists the vault singleton.
func (e *Engine) PutState(st *State) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	st.Normalize()
	return e.state.KVPut(StateKey, st)
}

func (e *Engine) loadAccount(addr [20]byte) (*types.Account, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
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

func (e *Engine) persistAccount(addr [20]byte, acc *types.Account) error {
	return e.state.PutAccount(addr[:], acc)
}

// Deposit moves USDC from the provider into pool cash and mints shares at
// the pre-deposit price. The minted share amount is returned.
func (e *Engine) Deposit(provider [20]byte, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	st, err := e.State()
	if err != nil {
		return nil, err
	}
	providerAcc, err := e.loadAccount(provider)
	if err != nil {
		return nil, err
	}
	if providerAcc.BalanceUSDC.Cmp(amount) < 0 {
		return nil, errInsufficientBalance
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return nil, err
	}

	price := st.SharePrice(moduleAcc.BalanceUSDC)
	minted := new(big.Int).Mul(amount, ray)
	minted.Quo(minted, price)
	if minted.Sign() == 0 {
		return nil, errDustAmount
	}

	providerAcc.BalanceUSDC = new(big.Int).Sub(providerAcc.BalanceUSDC, amount)
	moduleAcc.BalanceUSDC = new(big.Int).Add(moduleAcc.BalanceUSDC, amount)
	providerAcc.Shares = new(big.Int).Add(providerAcc.Shares, minted)
	st.TotalShares = new(big.Int).Add(st.TotalShares, minted)
	st.TotalDeposits = new(big.Int).Add(st.TotalDeposits, amount)

	if err := e.persistAccount(provider, providerAcc); err != nil {
		return nil, err
	}
	if err := e.persistAccount(e.moduleAddress, moduleAcc); err != nil {
		return nil, err
	}
	if err := e.PutState(st); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.VaultDeposited{
		Provider:     provider,
		Amount:       new(big.Int).Set(amount),
		SharesMinted: new(big.Int).Set(minted),
		SharePrice:   price,
	})
	return minted, nil
}

// Redeem burns the provider's shares at the current price and pays USDC out
// of pool cash. Fails when the payout would dip into the liquidity buffer;
// callers land in the redemption queue instead.
func (e *Engine) Redeem(provider [20]byte, shares *big.Int) (*big.Int, error) {
	return e.redeem(provider, provider, shares, false)
}

// SettleEscrowed burns shares previously escrowed to the module account and
// pays the original provider. Used by the redemption queue at settlement.
func (e *Engine) SettleEscrowed(provider [20]byte, shares *big.Int) (*big.Int, error) {
	return e.redeem(e.moduleAddress, provider, shares, true)
}

func (e *Engine) redeem(holder, payee [20]byte, shares *big.Int, escrowed bool) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	st, err := e.State()
	if err != nil {
		return nil, err
	}
	holderAcc, err := e.loadAccount(holder)
	if err != nil {
		return nil, err
	}
	if holderAcc.Shares.Cmp(shares) < 0 {
		return nil, errInsufficientShares
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return nil, err
	}

	price := st.SharePrice(moduleAcc.BalanceUSDC)
	usdcOut := new(big.Int).Mul(shares, price)
	usdcOut.Quo(usdcOut, ray)

	avail := st.AvailableLiquidity(moduleAcc.BalanceUSDC)
	if usdcOut.Cmp(avail) > 0 {
		return nil, errInsufficientLiquidity
	}
	if moduleAcc.BalanceUSDC.Cmp(usdcOut) < 0 {
		return nil, errInsufficientLiquidity
	}

	holderAcc.Shares = new(big.Int).Sub(holderAcc.Shares, shares)
	st.TotalShares = new(big.Int).Sub(st.TotalShares, shares)
	moduleAcc.BalanceUSDC = new(big.Int).Sub(moduleAcc.BalanceUSDC, usdcOut)

	if holder == payee {
		holderAcc.BalanceUSDC = new(big.Int).Add(holderAcc.BalanceUSDC, usdcOut)
		if err := e.persistAccount(holder, holderAcc); err != nil {
			return nil, err
		}
	} else {
		if err := e.persistAccount(holder, holderAcc); err != nil {
			return nil, err
		}
		payeeAcc, err := e.loadAccount(payee)
		if err != nil {
			return nil, err
		}
		payeeAcc.BalanceUSDC = new(big.Int).Add(payeeAcc.BalanceUSDC, usdcOut)
		if err := e.persistAccount(payee, payeeAcc); err != nil {
			return nil, err
		}
	}
	if err := e.persistAccount(e.moduleAddress, moduleAcc); err != nil {
		return nil, err
	}
	if err := e.PutState(st); err != nil {
		return nil, err
	}

	if !escrowed {
		e.emitter.Emit(events.VaultRedeemed{
			Provider:     payee,
			SharesBurned: new(big.Int).Set(shares),
			Amount:       new(big.Int).Set(usdcOut),
			SharePrice:   price,
		})
	}
	return usdcOut, nil
}

// NAV returns LP-attributable value in USDC micro-units.
func (e *Engine) NAV() (*big.Int, error) {
	st, moduleAcc, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	return st.NAV(moduleAcc.BalanceUSDC), nil
}

// SharePrice returns the ray-scaled price of one share.
func (e *Engine) SharePrice() (*big.Int, error) {
	st, moduleAcc, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	return st.SharePrice(moduleAcc.BalanceUSDC), nil
}

// AvailableLiquidity returns the USDC spendable on loans and redemptions.
func (e *Engine) AvailableLiquidity() (*big.Int, error) {
	st, moduleAcc, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	return st.AvailableLiquidity(moduleAcc.BalanceUSDC), nil
}

func (e *Engine) snapshot() (*State, *types.Account, error) {
	st, err := e.State()
	if err != nil {
		return nil, nil, err
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return nil, nil, err
	}
	return st, moduleAcc, nil
}

// AccountingBreakdown splits module cash into its owners. The identity
// ModuleUSDC = LPCash + ProtocolFees + RewardsPayable holds by construction
// and is re-checked in CheckInvariants.
func (e *Engine) AccountingBreakdown() (*Breakdown, error) {
	st, moduleAcc, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	cash := moduleAcc.BalanceUSDC
	lpCash := st.LPCash(cash)
	avail := st.AvailableLiquidity(cash)
	buffer := new(big.Int).Sub(lpCash, avail)
	return &Breakdown{
		ModuleUSDC:         new(big.Int).Set(cash),
		LPCash:             lpCash,
		Buffer:             buffer,
		AvailableLiquidity: avail,
		ProtocolFees:       new(big.Int).Set(st.ProtocolFees),
		RewardsPayable:     new(big.Int).Set(st.RewardsPayable),
		LoansOutstanding:   new(big.Int).Set(st.TotalLoansOutstanding),
		AccruedFees:        new(big.Int).Set(st.AccruedFees),
		CollectedFees:      new(big.Int).Set(st.CollectedFees),
		NAV:                st.NAV(cash),
		SharePrice:         st.SharePrice(cash),
		TotalShares:        new(big.Int).Set(st.TotalShares),
	}, nil
}

// Stats assembles the bulk read surface in O(1) from maintained aggregates.
func (e *Engine) Stats() (*Stats, error) {
	st, moduleAcc, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	cash := moduleAcc.BalanceUSDC
	nav := st.NAV(cash)
	utilization := big.NewInt(0)
	if nav.Sign() > 0 {
		utilization = new(big.Int).Mul(st.TotalLoansOutstanding, basisPoints)
		utilization.Quo(utilization, nav)
	}
	return &Stats{
		TotalAssets:           nav,
		TotalSupply:           new(big.Int).Set(st.TotalShares),
		TotalLoansOutstanding: new(big.Int).Set(st.TotalLoansOutstanding),
		AccruedFees:           new(big.Int).Set(st.AccruedFees),
		CollectedFees:         new(big.Int).Set(st.CollectedFees),
		TotalLPFees:           new(big.Int).Set(st.TotalLPFees),
		ProtocolFees:          new(big.Int).Set(st.ProtocolFees),
		NAVPerShare:           st.SharePrice(cash),
		UtilizationBps:        utilization,
		TotalDeposits:         new(big.Int).Set(st.TotalDeposits),
		AvailableUSDC:         st.AvailableLiquidity(cash),
	}, nil
}

// WithdrawProtocolFees transfers collected protocol fees to the recipient.
// A nil amount withdraws the full balance. The withdrawn amount is returned.
func (e *Engine) WithdrawProtocolFees(recipient [20]byte, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	st, err := e.State()
	if err != nil {
		return nil, err
	}
	withdraw := amount
	if withdraw == nil {
		withdraw = new(big.Int).Set(st.ProtocolFees)
	}
	if withdraw.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if withdraw.Cmp(st.ProtocolFees) > 0 {
		return nil, errProtocolFeeShortfall
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return nil, err
	}
	if moduleAcc.BalanceUSDC.Cmp(withdraw) < 0 {
		return nil, errProtocolFeeShortfall
	}
	recipientAcc, err := e.loadAccount(recipient)
	if err != nil {
		return nil, err
	}

	moduleAcc.BalanceUSDC = new(big.Int).Sub(moduleAcc.BalanceUSDC, withdraw)
	recipientAcc.BalanceUSDC = new(big.Int).Add(recipientAcc.BalanceUSDC, withdraw)
	st.ProtocolFees = new(big.Int).Sub(st.ProtocolFees, withdraw)

	if err := e.persistAccount(e.moduleAddress, moduleAcc); err != nil {
		return nil, err
	}
	if err := e.persistAccount(recipient, recipientAcc); err != nil {
		return nil, err
	}
	if err := e.PutState(st); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.VaultProtocolFeesWithdrawn{
		Recipient: recipient,
		Amount:    new(big.Int).Set(withdraw),
		Remaining: new(big.Int).Set(st.ProtocolFees),
	})
	return withdraw, nil
}

// FundTreasury moves APPEX from the funder into the module treasury that
// backs reward-denominated loan legs.
func (e *Engine) FundTreasury(funder [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	funderAcc, err := e.loadAccount(funder)
	if err != nil {
		return err
	}
	if funderAcc.BalanceAPPEX.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	funderAcc.BalanceAPPEX = new(big.Int).Sub(funderAcc.BalanceAPPEX, amount)
	moduleAcc.BalanceAPPEX = new(big.Int).Add(moduleAcc.BalanceAPPEX, amount)
	if err := e.persistAccount(funder, funderAcc); err != nil {
		return err
	}
	return e.persistAccount(e.moduleAddress, moduleAcc)
}

// CheckInvariants reconciles the aggregates against module cash. It runs
// after every mutating facility call; a failure means an accounting bug, not
// a user error.
func (e *Engine) CheckInvariants() error {
	st, moduleAcc, err := e.snapshot()
	if err != nil {
		return err
	}
	for name, v := range map[string]*big.Int{
		"totalShares":           st.TotalShares,
		"totalDeposits":         st.TotalDeposits,
		"totalLoansOutstanding": st.TotalLoansOutstanding,
		"accruedFees":           st.AccruedFees,
		"collectedFees":         st.CollectedFees,
		"protocolFees":          st.ProtocolFees,
		"rewardsPayable":        st.RewardsPayable,
		"totalStaked":           st.TotalStaked,
		"totalStakingWeight":    st.TotalStakingWeight,
	} {
		if v.Sign() < 0 {
			return fmt.Errorf("vault engine: aggregate %s negative: %s", name, v)
		}
	}
	carveOuts := new(big.Int).Add(st.ProtocolFees, st.RewardsPayable)
	if moduleAcc.BalanceUSDC.Cmp(carveOuts) < 0 {
		return fmt.Errorf("vault engine: module cash %s below carve-outs %s", moduleAcc.BalanceUSDC, carveOuts)
	}
	if st.TotalShares.Sign() == 0 && moduleAcc.Shares.Sign() > 0 {
		return fmt.Errorf("vault engine: escrowed shares with zero supply")
	}
	if moduleAcc.BalanceAPPEX.Cmp(st.TotalStaked) < 0 {
		return fmt.Errorf("vault engine: module appex %s below staked %s", moduleAcc.BalanceAPPEX, st.TotalStaked)
	}
	return nil
}

package credit

import (
	"encoding/binary"
	"math/big"
	"time"

	"apxpool/core/events"
	"apxpool/core/types"
	nativecommon "apxpool/native/common"
	"apxpool/native/vault"
)

var (
	basisPoints = big.NewInt(10_000)
	appexUnit   = big.NewInt(1_000_000_000_000_000_000)
)

const moduleName = "credit"

var (
	borrowerPrefix     = []byte("credit/borrower/")
	borrowerIndexKey   = []byte("credit/borrowers")
	loanPrefix         = []byte("credit/loan/")
	activeLoansKey     = []byte("credit/loans/active")
	borrowerLoanPrefix = []byte("credit/loans/borrower/")
	nextLoanIDKey      = []byte("credit/loans/nextId")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// Engine originates and settles borrower credit lines. Publisher payments
// are disbursed out of pool cash (and the APPEX treasury for reward legs)
// while the borrower owes the full USD principal back to the vault.
type Engine struct {
	state         engineState
	moduleAddress [20]byte
	cfg           Config
	emitter       events.Emitter
	pauses        nativecommon.PauseView
	nowFn         func() time.Time
}

// NewEngine constructs a credit engine bound to the module treasury address.
// Zero config fields fall back to defaults.
func NewEngine(moduleAddr [20]byte, cfg Config) *Engine {
	defaults := DefaultConfig()
	if cfg.MinTermDays == 0 {
		cfg.MinTermDays = defaults.MinTermDays
	}
	if cfg.MaxTermDays == 0 {
		cfg.MaxTermDays = defaults.MaxTermDays
	}
	if cfg.AppexRate == nil || cfg.AppexRate.Sign() <= 0 {
		cfg.AppexRate = defaults.AppexRate
	}
	return &Engine{
		moduleAddress: moduleAddr,
		cfg:           cfg.Clone(),
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

// SetNowFunc overrides the time source used for accrual math. Nil restores
// the default UTC clock.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	e.nowFn = now
}

// Config returns a copy of the origination configuration.
func (e *Engine) Config() Config { return e.cfg.Clone() }

// SetConfig replaces the origination configuration after validation.
func (e *Engine) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg = cfg.Clone()
	return nil
}

func (e *Engine) now() uint64 {
	ts := e.nowFn().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func borrowerKey(addr [20]byte) []byte {
	buf := make([]byte, len(borrowerPrefix)+len(addr))
	copy(buf, borrowerPrefix)
	copy(buf[len(borrowerPrefix):], addr[:])
	return buf
}

func loanKey(id uint64) []byte {
	buf := make([]byte, len(loanPrefix)+8)
	copy(buf, loanPrefix)
	binary.BigEndian.PutUint64(buf[len(loanPrefix):], id)
	return buf
}

func borrowerLoansKey(addr [20]byte) []byte {
	buf := make([]byte, len(borrowerLoanPrefix)+len(addr))
	copy(buf, borrowerLoanPrefix)
	copy(buf[len(borrowerLoanPrefix):], addr[:])
	return buf
}

func encodeLoanID(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
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

func (e *Engine) loadBorrower(addr [20]byte) (*Borrower, bool, error) {
	borrower := new(Borrower)
	ok, err := e.state.KVGet(borrowerKey(addr), borrower)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	borrower.Normalize()
	return borrower, true, nil
}

func (e *Engine) putBorrower(b *Borrower) error {
	b.Normalize()
	return e.state.KVPut(borrowerKey(b.Address), b)
}

func (e *Engine) loadLoan(id uint64) (*Loan, bool, error) {
	loan := new(Loan)
	ok, err := e.state.KVGet(loanKey(id), loan)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	loan.Normalize()
	return loan, true, nil
}

func (e *Engine) putLoan(l *Loan) error {
	l.Normalize()
	return e.state.KVPut(loanKey(l.ID), l)
}

func (e *Engine) nextLoanID() (uint64, error) {
	var id uint64
	if _, err := e.state.KVGet(nextLoanIDKey, &id); err != nil {
		return 0, err
	}
	id++
	if err := e.state.KVPut(nextLoanIDKey, id); err != nil {
		return 0, err
	}
	return id, nil
}

func (e *Engine) activeLoanIDs() ([]uint64, error) {
	var raw [][]byte
	if err := e.state.KVGetList(activeLoansKey, &raw); err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(raw))
	for _, encoded := range raw {
		if len(encoded) != 8 {
			continue
		}
		ids = append(ids, binary.BigEndian.Uint64(encoded))
	}
	return ids, nil
}

func (e *Engine) removeActiveLoan(id uint64) error {
	var raw [][]byte
	if err := e.state.KVGetList(activeLoansKey, &raw); err != nil {
		return err
	}
	filtered := make([][]byte, 0, len(raw))
	for _, encoded := range raw {
		if len(encoded) == 8 && binary.BigEndian.Uint64(encoded) == id {
			continue
		}
		filtered = append(filtered, encoded)
	}
	return e.state.KVPut(activeLoansKey, filtered)
}

// ApproveBorrower creates or updates a borrower record with the supplied
// terms and marks it approved. Running totals survive term changes.
func (e *Engine) ApproveBorrower(addr [20]byte, limit *big.Int, lpYieldBps, protocolFeeBps uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if limit == nil || limit.Sign() < 0 {
		return errInvalidAmount
	}
	if lpYieldBps > 10_000 || protocolFeeBps > 10_000 {
		return errInvalidFeeRate
	}
	borrower, ok, err := e.loadBorrower(addr)
	if err != nil {
		return err
	}
	if !ok {
		borrower = &Borrower{Address: addr}
	}
	borrower.Approved = true
	borrower.BorrowLimit = new(big.Int).Set(limit)
	borrower.LPYieldBps = lpYieldBps
	borrower.ProtocolFeeBps = protocolFeeBps
	if err := e.putBorrower(borrower); err != nil {
		return err
	}
	if err := e.state.KVAppend(borrowerIndexKey, addr[:]); err != nil {
		return err
	}
	e.emitter.Emit(events.BorrowerApproved{
		Borrower:       addr,
		BorrowLimit:    new(big.Int).Set(limit),
		LPYieldBps:     lpYieldBps,
		ProtocolFeeBps: protocolFeeBps,
	})
	return nil
}

// RevokeBorrower blocks new draws for the borrower. Outstanding loans keep
// accruing and must still be repaid.
func (e *Engine) RevokeBorrower(addr [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	borrower, ok, err := e.loadBorrower(addr)
	if err != nil {
		return err
	}
	if !ok {
		return errBorrowerNotFound
	}
	borrower.Approved = false
	if err := e.putBorrower(borrower); err != nil {
		return err
	}
	e.emitter.Emit(events.BorrowerRevoked{Borrower: addr})
	return nil
}

// GetBorrower returns the stored borrower record.
func (e *Engine) GetBorrower(addr [20]byte) (*Borrower, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	borrower, ok, err := e.loadBorrower(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errBorrowerNotFound
	}
	return borrower.Clone(), nil
}

// ListBorrowers returns every borrower ever approved, in index order.
func (e *Engine) ListBorrowers() ([]*Borrower, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var raw [][]byte
	if err := e.state.KVGetList(borrowerIndexKey, &raw); err != nil {
		return nil, err
	}
	borrowers := make([]*Borrower, 0, len(raw))
	for _, encoded := range raw {
		if len(encoded) != 20 {
			continue
		}
		var addr [20]byte
		copy(addr[:], encoded)
		borrower, ok, err := e.loadBorrower(addr)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		borrowers = append(borrowers, borrower.Clone())
	}
	return borrowers, nil
}

// CreateLoan disburses a publisher payment against the borrower's credit
// line. rewardBps selects the portion of the principal delivered as APPEX
// from the module treasury; the remainder is paid in USDC from pool cash.
// The new loan id is returned.
func (e *Engine) CreateLoan(borrowerAddr, publisher [20]byte, principal *big.Int, termDays, rewardBps uint64) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if principal == nil || principal.Sign() <= 0 {
		return 0, errInvalidAmount
	}
	if termDays < e.cfg.MinTermDays || termDays > e.cfg.MaxTermDays {
		return 0, errInvalidTerm
	}
	if rewardBps > 10_000 {
		return 0, errInvalidRewardShare
	}

	borrower, ok, err := e.loadBorrower(borrowerAddr)
	if err != nil {
		return 0, err
	}
	if !ok || !borrower.Approved {
		return 0, errNotApprovedBorrower
	}
	if borrower.UnpaidFeeLoans > 0 {
		return 0, errUnpaidProtocolFees
	}
	newDebt := new(big.Int).Add(borrower.CurrentDebt, principal)
	if newDebt.Cmp(borrower.BorrowLimit) > 0 {
		return 0, errBorrowLimitExceeded
	}

	lpFee := new(big.Int).Mul(principal, new(big.Int).SetUint64(borrower.LPYieldBps))
	lpFee.Quo(lpFee, basisPoints)
	protocolFee := new(big.Int).Mul(principal, new(big.Int).SetUint64(borrower.ProtocolFeeBps))
	protocolFee.Quo(protocolFee, basisPoints)
	dailyAccrual := new(big.Int).Quo(lpFee, new(big.Int).SetUint64(termDays))

	appexUSD := new(big.Int).Mul(principal, new(big.Int).SetUint64(rewardBps))
	appexUSD.Quo(appexUSD, basisPoints)
	usdcLeg := new(big.Int).Sub(principal, appexUSD)
	appexLeg := new(big.Int).Mul(appexUSD, appexUnit)
	appexLeg.Quo(appexLeg, e.cfg.AppexRate)

	st, err := e.vaultState()
	if err != nil {
		return 0, err
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return 0, err
	}
	if usdcLeg.Cmp(st.AvailableLiquidity(moduleAcc.BalanceUSDC)) > 0 {
		return 0, errInsufficientLiquidity
	}
	// Staked APPEX sits on the module account too; only the surplus is
	// spendable treasury.
	treasury := new(big.Int).Sub(moduleAcc.BalanceAPPEX, st.TotalStaked)
	if treasury.Cmp(appexLeg) < 0 {
		return 0, errTreasuryShortfall
	}
	publisherAcc, err := e.loadAccount(publisher)
	if err != nil {
		return 0, err
	}

	id, err := e.nextLoanID()
	if err != nil {
		return 0, err
	}
	loan := &Loan{
		ID:             id,
		Borrower:       borrowerAddr,
		Publisher:      publisher,
		USDCPrincipal:  new(big.Int).Set(principal),
		USDCDisbursed:  usdcLeg,
		AppexDisbursed: appexLeg,
		RewardBps:      rewardBps,
		LPFee:          lpFee,
		ProtocolFee:    protocolFee,
		DailyAccrual:   dailyAccrual,
		StartTime:      e.now(),
		TermDays:       termDays,
	}

	moduleAcc.BalanceUSDC = new(big.Int).Sub(moduleAcc.BalanceUSDC, usdcLeg)
	publisherAcc.BalanceUSDC = new(big.Int).Add(publisherAcc.BalanceUSDC, usdcLeg)
	if appexLeg.Sign() > 0 {
		moduleAcc.BalanceAPPEX = new(big.Int).Sub(moduleAcc.BalanceAPPEX, appexLeg)
		publisherAcc.BalanceAPPEX = new(big.Int).Add(publisherAcc.BalanceAPPEX, appexLeg)
	}
	borrower.CurrentDebt = newDebt
	borrower.TotalBorrowed = new(big.Int).Add(borrower.TotalBorrowed, principal)
	st.TotalLoansOutstanding = new(big.Int).Add(st.TotalLoansOutstanding, principal)

	if err := e.state.PutAccount(e.moduleAddress[:], moduleAcc); err != nil {
		return 0, err
	}
	if err := e.state.PutAccount(publisher[:], publisherAcc); err != nil {
		return 0, err
	}
	if err := e.putLoan(loan); err != nil {
		return 0, err
	}
	if err := e.state.KVAppend(activeLoansKey, encodeLoanID(id)); err != nil {
		return 0, err
	}
	if err := e.state.KVAppend(borrowerLoansKey(borrowerAddr), encodeLoanID(id)); err != nil {
		return 0, err
	}
	if err := e.putBorrower(borrower); err != nil {
		return 0, err
	}
	if err := e.putVaultState(st); err != nil {
		return 0, err
	}

	e.emitter.Emit(events.LoanCreated{
		LoanID:      id,
		Borrower:    borrowerAddr,
		Publisher:   publisher,
		Principal:   new(big.Int).Set(principal),
		USDCOut:     new(big.Int).Set(usdcLeg),
		AppexOut:    new(big.Int).Set(appexLeg),
		RewardBps:   rewardBps,
		LPFee:       new(big.Int).Set(lpFee),
		ProtocolFee: new(big.Int).Set(protocolFee),
		TermDays:    termDays,
	})
	return id, nil
}

// RepayLoan settles the principal plus the lender yield accrued to date in
// USDC. Yield swept into the vault's accrued bucket moves to collected;
// any unswept remainder lands in collected directly. Terminal.
func (e *Engine) RepayLoan(caller [20]byte, id uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	loan, ok, err := e.loadLoan(id)
	if err != nil {
		return err
	}
	if !ok {
		return errLoanNotFound
	}
	if loan.Repaid {
		return errAlreadyRepaid
	}
	if caller != loan.Borrower {
		return errNotLoanBorrower
	}

	now := e.now()
	feeDue := loan.AccruedLPFee(now)
	swept := new(big.Int).Mul(loan.DailyAccrual, new(big.Int).SetUint64(loan.FeeDaysAccrued))
	total := new(big.Int).Add(loan.USDCPrincipal, feeDue)

	borrowerAcc, err := e.loadAccount(loan.Borrower)
	if err != nil {
		return err
	}
	if borrowerAcc.BalanceUSDC.Cmp(total) < 0 {
		return errInsufficientBalance
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	borrower, ok, err := e.loadBorrower(loan.Borrower)
	if err != nil {
		return err
	}
	if !ok {
		return errBorrowerNotFound
	}
	st, err := e.vaultState()
	if err != nil {
		return err
	}

	borrowerAcc.BalanceUSDC = new(big.Int).Sub(borrowerAcc.BalanceUSDC, total)
	moduleAcc.BalanceUSDC = new(big.Int).Add(moduleAcc.BalanceUSDC, total)

	loan.Repaid = true
	borrower.CurrentDebt = new(big.Int).Sub(borrower.CurrentDebt, loan.USDCPrincipal)
	borrower.TotalRepaid = new(big.Int).Add(borrower.TotalRepaid, loan.USDCPrincipal)
	borrower.TotalFeesPaid = new(big.Int).Add(borrower.TotalFeesPaid, feeDue)
	if !loan.ProtocolFeePaid {
		borrower.UnpaidFeeLoans++
	}

	st.TotalLoansOutstanding = new(big.Int).Sub(st.TotalLoansOutstanding, loan.USDCPrincipal)
	st.AccruedFees = new(big.Int).Sub(st.AccruedFees, swept)
	st.CollectedFees = new(big.Int).Add(st.CollectedFees, feeDue)
	st.TotalLPFees = new(big.Int).Add(st.TotalLPFees, feeDue)

	if err := e.state.PutAccount(loan.Borrower[:], borrowerAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(e.moduleAddress[:], moduleAcc); err != nil {
		return err
	}
	if err := e.putLoan(loan); err != nil {
		return err
	}
	if err := e.removeActiveLoan(id); err != nil {
		return err
	}
	if err := e.putBorrower(borrower); err != nil {
		return err
	}
	if err := e.putVaultState(st); err != nil {
		return err
	}

	e.emitter.Emit(events.LoanRepaid{
		LoanID:    id,
		Borrower:  loan.Borrower,
		Principal: new(big.Int).Set(loan.USDCPrincipal),
		LPFee:     feeDue,
		Total:     total,
	})
	return nil
}

// PayProtocolFee settles the protocol's fee leg, in USDC into the protocol
// carve-out or in APPEX into the module treasury at the configured rate.
// Independent of principal repayment.
func (e *Engine) PayProtocolFee(caller [20]byte, id uint64, inAppex bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	loan, ok, err := e.loadLoan(id)
	if err != nil {
		return err
	}
	if !ok {
		return errLoanNotFound
	}
	if caller != loan.Borrower {
		return errNotLoanBorrower
	}
	if loan.ProtocolFeePaid {
		return errFeeAlreadyPaid
	}

	borrower, ok, err := e.loadBorrower(loan.Borrower)
	if err != nil {
		return err
	}
	if !ok {
		return errBorrowerNotFound
	}

	fee := loan.ProtocolFee
	paid := new(big.Int).Set(fee)
	if fee.Sign() > 0 {
		borrowerAcc, err := e.loadAccount(loan.Borrower)
		if err != nil {
			return err
		}
		moduleAcc, err := e.loadAccount(e.moduleAddress)
		if err != nil {
			return err
		}
		if inAppex {
			appexDue := new(big.Int).Mul(fee, appexUnit)
			appexDue.Quo(appexDue, e.cfg.AppexRate)
			if borrowerAcc.BalanceAPPEX.Cmp(appexDue) < 0 {
				return errInsufficientBalance
			}
			borrowerAcc.BalanceAPPEX = new(big.Int).Sub(borrowerAcc.BalanceAPPEX, appexDue)
			moduleAcc.BalanceAPPEX = new(big.Int).Add(moduleAcc.BalanceAPPEX, appexDue)
			paid = appexDue
		} else {
			if borrowerAcc.BalanceUSDC.Cmp(fee) < 0 {
				return errInsufficientBalance
			}
			borrowerAcc.BalanceUSDC = new(big.Int).Sub(borrowerAcc.BalanceUSDC, fee)
			moduleAcc.BalanceUSDC = new(big.Int).Add(moduleAcc.BalanceUSDC, fee)
			st, err := e.vaultState()
			if err != nil {
				return err
			}
			st.ProtocolFees = new(big.Int).Add(st.ProtocolFees, fee)
			if err := e.putVaultState(st); err != nil {
				return err
			}
		}
		if err := e.state.PutAccount(loan.Borrower[:], borrowerAcc); err != nil {
			return err
		}
		if err := e.state.PutAccount(e.moduleAddress[:], moduleAcc); err != nil {
			return err
		}
	}

	loan.ProtocolFeePaid = true
	borrower.TotalFeesPaid = new(big.Int).Add(borrower.TotalFeesPaid, fee)
	if loan.Repaid && borrower.UnpaidFeeLoans > 0 {
		borrower.UnpaidFeeLoans--
	}
	if err := e.putLoan(loan); err != nil {
		return err
	}
	if err := e.putBorrower(borrower); err != nil {
		return err
	}

	e.emitter.Emit(events.ProtocolFeePaid{
		LoanID:   id,
		Borrower: loan.Borrower,
		Amount:   paid,
		InAppex:  inAppex,
	})
	return nil
}

// AccrueFees sweeps each active loan's daily accrual for whole elapsed days
// into the vault's accrued bucket. Idempotent per loan-day: the per-loan
// watermark guarantees a retry never double-counts. Returns the newly
// recognised amount.
func (e *Engine) AccrueFees(now uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ids, err := e.activeLoanIDs()
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	var touched uint64
	for _, id := range ids {
		loan, ok, err := e.loadLoan(id)
		if err != nil {
			return nil, err
		}
		if !ok || loan.Repaid {
			continue
		}
		target := loan.DaysElapsed(now)
		if target > loan.TermDays {
			target = loan.TermDays
		}
		if target <= loan.FeeDaysAccrued {
			continue
		}
		delta := new(big.Int).Mul(loan.DailyAccrual, new(big.Int).SetUint64(target-loan.FeeDaysAccrued))
		loan.FeeDaysAccrued = target
		if err := e.putLoan(loan); err != nil {
			return nil, err
		}
		total.Add(total, delta)
		touched++
	}

	st, err := e.vaultState()
	if err != nil {
		return nil, err
	}
	if total.Sign() > 0 {
		st.AccruedFees = new(big.Int).Add(st.AccruedFees, total)
	}
	if now > st.LastAccrual {
		st.LastAccrual = now
	}
	if err := e.putVaultState(st); err != nil {
		return nil, err
	}

	if total.Sign() > 0 {
		e.emitter.Emit(events.VaultFeesAccrued{
			Accrued:     new(big.Int).Set(total),
			AccruedFees: new(big.Int).Set(st.AccruedFees),
			Loans:       touched,
		})
	}
	return total, nil
}

func (e *Engine) status(loan *Loan) *LoanStatus {
	now := e.now()
	return &LoanStatus{
		Loan:         loan.Clone(),
		DaysElapsed:  loan.DaysElapsed(now),
		IsOverdue:    loan.IsOverdue(now),
		AccruedLPFee: loan.AccruedLPFee(now),
	}
}

// GetLoan returns the loan and its clock-derived valuation fields.
func (e *Engine) GetLoan(id uint64) (*LoanStatus, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	loan, ok, err := e.loadLoan(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errLoanNotFound
	}
	return e.status(loan), nil
}

// ActiveLoans returns every unrepaid loan in origination order.
func (e *Engine) ActiveLoans() ([]*LoanStatus, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ids, err := e.activeLoanIDs()
	if err != nil {
		return nil, err
	}
	loans := make([]*LoanStatus, 0, len(ids))
	for _, id := range ids {
		loan, ok, err := e.loadLoan(id)
		if err != nil {
			return nil, err
		}
		if !ok || loan.Repaid {
			continue
		}
		loans = append(loans, e.status(loan))
	}
	return loans, nil
}

// BorrowerLoans returns the borrower's full loan history, repaid included.
func (e *Engine) BorrowerLoans(addr [20]byte) ([]*LoanStatus, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var raw [][]byte
	if err := e.state.KVGetList(borrowerLoansKey(addr), &raw); err != nil {
		return nil, err
	}
	loans := make([]*LoanStatus, 0, len(raw))
	for _, encoded := range raw {
		if len(encoded) != 8 {
			continue
		}
		loan, ok, err := e.loadLoan(binary.BigEndian.Uint64(encoded))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		loans = append(loans, e.status(loan))
	}
	return loans, nil
}

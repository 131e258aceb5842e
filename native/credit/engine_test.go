package credit

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

// newTestEngine returns an engine with a controllable clock. Writing to the
// returned pointer advances time for subsequent operations.
func newTestEngine(t *testing.T) (*Engine, *mockEngineState, *captureEmitter, *uint64) {
	t.Helper()
	state := newMockEngineState()
	engine := NewEngine(makeAddress(0xff), Config{
		MinTermDays: 10,
		MaxTermDays: 365,
		AppexRate:   big.NewInt(1_000_000),
	})
	engine.SetState(state)
	emitter := &captureEmitter{}
	engine.SetEmitter(emitter)
	now := testStart
	engine.SetNowFunc(func() time.Time { return time.Unix(int64(now), 0).UTC() })
	return engine, state, emitter, &now
}

func seedAccount(t *testing.T, state *mockEngineState, addr [20]byte, usdc, appex int64) {
	t.Helper()
	acc := &types.Account{
		BalanceUSDC:  big.NewInt(usdc),
		BalanceAPPEX: big.NewInt(appex),
	}
	if err := state.PutAccount(addr[:], acc); err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

func approveTestBorrower(t *testing.T, engine *Engine, addr [20]byte, limit int64, lpYieldBps, protocolFeeBps uint64) {
	t.Helper()
	if err := engine.ApproveBorrower(addr, big.NewInt(limit), lpYieldBps, protocolFeeBps); err != nil {
		t.Fatalf("approve borrower: %v", err)
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

func TestCreateLoanBooksDebtAndDisburses(t *testing.T) {
	engine, state, emitter, _ := newTestEngine(t)
	borrower := makeAddress(0x01)
	publisher := makeAddress(0x02)
	module := makeAddress(0xff)
	seedAccount(t, state, module, 1_000_000, 0)
	approveTestBorrower(t, engine, borrower, 500_000, 500, 200)

	id, err := engine.CreateLoan(borrower, publisher, big.NewInt(200_000), 30, 0)
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected loan id 1, got %d", id)
	}

	status, err := engine.GetLoan(id)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	loan := status.Loan
	if loan.LPFee.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("unexpected lp fee %s", loan.LPFee)
	}
	if loan.ProtocolFee.Cmp(big.NewInt(4_000)) != 0 {
		t.Fatalf("unexpected protocol fee %s", loan.ProtocolFee)
	}
	if loan.DailyAccrual.Cmp(big.NewInt(333)) != 0 {
		t.Fatalf("unexpected daily accrual %s", loan.DailyAccrual)
	}
	if loan.USDCDisbursed.Cmp(big.NewInt(200_000)) != 0 || loan.AppexDisbursed.Sign() != 0 {
		t.Fatalf("unexpected disbursement %s / %s", loan.USDCDisbursed, loan.AppexDisbursed)
	}

	publisherAcc, _ := state.GetAccount(publisher[:])
	if publisherAcc.BalanceUSDC.Cmp(big.NewInt(200_000)) != 0 {
		t.Fatalf("publisher not paid: %s", publisherAcc.BalanceUSDC)
	}
	moduleAcc, _ := state.GetAccount(module[:])
	if moduleAcc.BalanceUSDC.Cmp(big.NewInt(800_000)) != 0 {
		t.Fatalf("module cash not reduced: %s", moduleAcc.BalanceUSDC)
	}

	record, err := engine.GetBorrower(borrower)
	if err != nil {
		t.Fatalf("get borrower: %v", err)
	}
	if record.CurrentDebt.Cmp(big.NewInt(200_000)) != 0 {
		t.Fatalf("unexpected debt %s", record.CurrentDebt)
	}
	if record.TotalBorrowed.Cmp(big.NewInt(200_000)) != 0 {
		t.Fatalf("unexpected total borrowed %s", record.TotalBorrowed)
	}

	st := loadVaultState(t, state)
	if st.TotalLoansOutstanding.Cmp(big.NewInt(200_000)) != 0 {
		t.Fatalf("outstanding not booked: %s", st.TotalLoansOutstanding)
	}

	last := emitter.events[len(emitter.events)-1]
	created, ok := last.(events.LoanCreated)
	if !ok {
		t.Fatalf("unexpected event %T", last)
	}
	if created.Principal.Cmp(big.NewInt(200_000)) != 0 || created.LoanID != 1 {
		t.Fatalf("unexpected event payload %+v", created)
	}
}

func TestCreateLoanRewardLegSplit(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	borrower := makeAddress(0x01)
	publisher := makeAddress(0x02)
	module := makeAddress(0xff)
	// AppexRate 1 USDC per token, so each micro-USD of reward leg is 1e12 wei.
	wantAppex := new(big.Int).Mul(big.NewInt(30_000), big.NewInt(1_000_000_000_000))
	seedAccount(t, state, module, 1_000_000, 0)
	moduleAcc, _ := state.GetAccount(module[:])
	moduleAcc.BalanceAPPEX = new(big.Int).Set(wantAppex)
	if err := state.PutAccount(module[:], moduleAcc); err != nil {
		t.Fatalf("seed treasury: %v", err)
	}
	approveTestBorrower(t, engine, borrower, 1_000_000, 500, 200)

	id, err := engine.CreateLoan(borrower, publisher, big.NewInt(100_000), 30, 3_000)
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	status, err := engine.GetLoan(id)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if status.Loan.USDCDisbursed.Cmp(big.NewInt(70_000)) != 0 {
		t.Fatalf("unexpected usdc leg %s", status.Loan.USDCDisbursed)
	}
	if status.Loan.AppexDisbursed.Cmp(wantAppex) != 0 {
		t.Fatalf("unexpected appex leg %s", status.Loan.AppexDisbursed)
	}

	publisherAcc, _ := state.GetAccount(publisher[:])
	if publisherAcc.BalanceUSDC.Cmp(big.NewInt(70_000)) != 0 {
		t.Fatalf("unexpected publisher usdc %s", publisherAcc.BalanceUSDC)
	}
	if publisherAcc.BalanceAPPEX.Cmp(wantAppex) != 0 {
		t.Fatalf("unexpected publisher appex %s", publisherAcc.BalanceAPPEX)
	}
	moduleAcc, _ = state.GetAccount(module[:])
	if moduleAcc.BalanceAPPEX.Sign() != 0 {
		t.Fatalf("treasury not drained: %s", moduleAcc.BalanceAPPEX)
	}

	// Debt covers the full USD principal, not just the cash leg.
	record, _ := engine.GetBorrower(borrower)
	if record.CurrentDebt.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("unexpected debt %s", record.CurrentDebt)
	}
	st := loadVaultState(t, state)
	if st.TotalLoansOutstanding.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("unexpected outstanding %s", st.TotalLoansOutstanding)
	}

	// Treasury is empty now, so another reward-bearing draw must fail.
	if _, err := engine.CreateLoan(borrower, publisher, big.NewInt(100_000), 30, 3_000); !errors.Is(err, errTreasuryShortfall) {
		t.Fatalf("expected treasury shortfall, got %v", err)
	}
}

func TestCreateLoanRewardLegExcludesStakedAppex(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	borrower := makeAddress(0x01)
	publisher := makeAddress(0x02)
	module := makeAddress(0xff)
	// A 30% reward leg on a 100k draw needs 30k micro-USD of APPEX at rate 1.
	neededAppex := new(big.Int).Mul(big.NewInt(30_000), big.NewInt(1_000_000_000_000))
	seedAccount(t, state, module, 1_000_000, 0)
	moduleAcc, _ := state.GetAccount(module[:])
	moduleAcc.BalanceAPPEX = new(big.Int).Set(neededAppex)
	if err := state.PutAccount(module[:], moduleAcc); err != nil {
		t.Fatalf("seed treasury: %v", err)
	}
	// Every module token is staker escrow, so the spendable surplus is zero.
	st := loadVaultState(t, state)
	st.TotalStaked = new(big.Int).Set(neededAppex)
	if err := state.KVPut(vault.StateKey, st); err != nil {
		t.Fatalf("seed vault state: %v", err)
	}
	approveTestBorrower(t, engine, borrower, 1_000_000, 500, 200)

	if _, err := engine.CreateLoan(borrower, publisher, big.NewInt(100_000), 30, 3_000); !errors.Is(err, errTreasuryShortfall) {
		t.Fatalf("expected treasury shortfall, got %v", err)
	}

	// Topping the treasury above the escrowed sum clears the draw.
	moduleAcc, _ = state.GetAccount(module[:])
	moduleAcc.BalanceAPPEX = new(big.Int).Add(moduleAcc.BalanceAPPEX, neededAppex)
	if err := state.PutAccount(module[:], moduleAcc); err != nil {
		t.Fatalf("top up treasury: %v", err)
	}
	if _, err := engine.CreateLoan(borrower, publisher, big.NewInt(100_000), 30, 3_000); err != nil {
		t.Fatalf("create loan with surplus: %v", err)
	}
}

func TestCreateLoanValidation(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	borrower := makeAddress(0x01)
	publisher := makeAddress(0x02)
	module := makeAddress(0xff)
	seedAccount(t, state, module, 50_000, 0)

	if _, err := engine.CreateLoan(borrower, publisher, big.NewInt(10_000), 30, 0); !errors.Is(err, errNotApprovedBorrower) {
		t.Fatalf("expected approval rejection, got %v", err)
	}

	approveTestBorrower(t, engine, borrower, 100_000, 500, 200)
	if _, err := engine.CreateLoan(borrower, publisher, big.NewInt(0), 30, 0); !errors.Is(err, errInvalidAmount) {
		t.Fatalf("expected amount rejection, got %v", err)
	}
	if _, err := engine.CreateLoan(borrower, publisher, big.NewInt(10_000), 5, 0); !errors.Is(err, errInvalidTerm) {
		t.Fatalf("expected short term rejection, got %v", err)
	}
	if _, err := engine.CreateLoan(borrower, publisher, big.NewInt(10_000), 1_000, 0); !errors.Is(err, errInvalidTerm) {
		t.Fatalf("expected long term rejection, got %v", err)
	}
	if _, err := engine.CreateLoan(borrower, publisher, big.NewInt(10_000), 30, 10_001); !errors.Is(err, errInvalidRewardShare) {
		t.Fatalf("expected reward share rejection, got %v", err)
	}

	if _, err := engine.CreateLoan(borrower, publisher, big.NewInt(100_001), 30, 0); !errors.Is(err, errBorrowLimitExceeded) {
		t.Fatalf("expected limit rejection, got %v", err)
	}
	if _, err := engine.CreateLoan(borrower, publisher, big.NewInt(60_000), 30, 0); !errors.Is(err, errInsufficientLiquidity) {
		t.Fatalf("expected liquidity rejection, got %v", err)
	}

	// Rejections are all-or-nothing: nothing was persisted.
	moduleAcc, _ := state.GetAccount(module[:])
	if moduleAcc.BalanceUSDC.Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("module cash mutated on rejection: %s", moduleAcc.BalanceUSDC)
	}
	if _, err := engine.GetLoan(1); !errors.Is(err, ErrLoanNotFound) {
		t.Fatalf("expected no loan persisted, got %v", err)
	}
	record, _ := engine.GetBorrower(borrower)
	if record.CurrentDebt.Sign() != 0 {
		t.Fatalf("debt booked on rejection: %s", record.CurrentDebt)
	}
}

func TestCreateLoanRespectsLiquidityBuffer(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	borrower := makeAddress(0x01)
	publisher := makeAddress(0x02)
	module := makeAddress(0xff)
	seedAccount(t, state, module, 1_000_000, 0)
	st := &vault.State{LiquidityBufferBps: 1_000}
	st.Normalize()
	if err := state.KVPut(vault.StateKey, st); err != nil {
		t.Fatalf("seed vault state: %v", err)
	}
	approveTestBorrower(t, engine, borrower, 2_000_000, 500, 200)

	if _, err := engine.CreateLoan(borrower, publisher, big.NewInt(950_000), 30, 0); !errors.Is(err, errInsufficientLiquidity) {
		t.Fatalf("expected buffer rejection, got %v", err)
	}
	if _, err := engine.CreateLoan(borrower, publisher, big.NewInt(900_000), 30, 0); err != nil {
		t.Fatalf("draw within buffer: %v", err)
	}
}

func TestAccrueFeesWatermark(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	borrower := makeAddress(0x01)
	publisher := makeAddress(0x02)
	module := makeAddress(0xff)
	seedAccount(t, state, module, 1_000_000, 0)
	approveTestBorrower(t, engine, borrower, 500_000, 1_000, 0)

	id, err := engine.CreateLoan(borrower, publisher, big.NewInt(300_000), 30, 0)
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}

	day := uint64(24 * 60 * 60)
	accrued, err := engine.AccrueFees(testStart + 5*day)
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if accrued.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("expected 5000 accrued, got %s", accrued)
	}
	st := loadVaultState(t, state)
	if st.AccruedFees.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("unexpected accrued bucket %s", st.AccruedFees)
	}
	status, _ := engine.GetLoan(id)
	if status.Loan.FeeDaysAccrued != 5 {
		t.Fatalf("unexpected watermark %d", status.Loan.FeeDaysAccrued)
	}

	// Same day again is a no-op.
	accrued, err = engine.AccrueFees(testStart + 5*day)
	if err != nil {
		t.Fatalf("accrue repeat: %v", err)
	}
	if accrued.Sign() != 0 {
		t.Fatalf("watermark ignored, accrued %s", accrued)
	}

	// Past the term the accrual caps at the full fee.
	accrued, err = engine.AccrueFees(testStart + 400*day)
	if err != nil {
		t.Fatalf("accrue past term: %v", err)
	}
	if accrued.Cmp(big.NewInt(25_000)) != 0 {
		t.Fatalf("expected 25000, got %s", accrued)
	}
	st = loadVaultState(t, state)
	if st.AccruedFees.Cmp(big.NewInt(30_000)) != 0 {
		t.Fatalf("accrual not capped at lp fee: %s", st.AccruedFees)
	}
	accrued, _ = engine.AccrueFees(testStart + 500*day)
	if accrued.Sign() != 0 {
		t.Fatalf("accrued past cap: %s", accrued)
	}
}

func TestRepayEarlyTrueUp(t *testing.T) {
	engine, state, _, now := newTestEngine(t)
	borrower := makeAddress(0x01)
	publisher := makeAddress(0x02)
	module := makeAddress(0xff)
	seedAccount(t, state, module, 1_000_000, 0)
	seedAccount(t, state, borrower, 200_000, 0)
	approveTestBorrower(t, engine, borrower, 500_000, 600, 0)

	id, err := engine.CreateLoan(borrower, publisher, big.NewInt(100_000), 30, 0)
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}

	day := uint64(24 * 60 * 60)
	if _, err := engine.AccrueFees(testStart + 10*day); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	*now = testStart + 12*day

	if err := engine.RepayLoan(makeAddress(0x09), id); !errors.Is(err, errNotLoanBorrower) {
		t.Fatalf("expected caller rejection, got %v", err)
	}
	if err := engine.RepayLoan(borrower, id); err != nil {
		t.Fatalf("repay: %v", err)
	}

	// 12 days at 200/day on top of the principal.
	borrowerAcc, _ := state.GetAccount(borrower[:])
	if borrowerAcc.BalanceUSDC.Cmp(big.NewInt(200_000-102_400)) != 0 {
		t.Fatalf("unexpected borrower balance %s", borrowerAcc.BalanceUSDC)
	}
	st := loadVaultState(t, state)
	if st.AccruedFees.Sign() != 0 {
		t.Fatalf("swept accrual not cleared: %s", st.AccruedFees)
	}
	if st.CollectedFees.Cmp(big.NewInt(2_400)) != 0 {
		t.Fatalf("unexpected collected fees %s", st.CollectedFees)
	}
	if st.TotalLPFees.Cmp(big.NewInt(2_400)) != 0 {
		t.Fatalf("unexpected lifetime fees %s", st.TotalLPFees)
	}
	if st.TotalLoansOutstanding.Sign() != 0 {
		t.Fatalf("outstanding not released: %s", st.TotalLoansOutstanding)
	}

	record, _ := engine.GetBorrower(borrower)
	if record.CurrentDebt.Sign() != 0 {
		t.Fatalf("debt not cleared: %s", record.CurrentDebt)
	}
	if record.TotalRepaid.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("unexpected total repaid %s", record.TotalRepaid)
	}
	if record.TotalFeesPaid.Cmp(big.NewInt(2_400)) != 0 {
		t.Fatalf("unexpected fees paid %s", record.TotalFeesPaid)
	}

	if err := engine.RepayLoan(borrower, id); !errors.Is(err, errAlreadyRepaid) {
		t.Fatalf("expected repeat rejection, got %v", err)
	}
}

func TestRepayAfterTermChargesWholeFee(t *testing.T) {
	engine, state, _, now := newTestEngine(t)
	borrower := makeAddress(0x01)
	publisher := makeAddress(0x02)
	module := makeAddress(0xff)
	seedAccount(t, state, module, 1_000_000, 0)
	seedAccount(t, state, borrower, 200_000, 0)
	approveTestBorrower(t, engine, borrower, 500_000, 1_000, 0)

	id, err := engine.CreateLoan(borrower, publisher, big.NewInt(90_000), 30, 0)
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}

	day := uint64(24 * 60 * 60)
	*now = testStart + 45*day
	status, _ := engine.GetLoan(id)
	if !status.IsOverdue {
		t.Fatal("expected overdue loan")
	}
	if status.AccruedLPFee.Cmp(big.NewInt(9_000)) != 0 {
		t.Fatalf("fee not capped at term: %s", status.AccruedLPFee)
	}

	// No accrual ever ran, so the whole fee lands in collected directly.
	if err := engine.RepayLoan(borrower, id); err != nil {
		t.Fatalf("repay: %v", err)
	}
	st := loadVaultState(t, state)
	if st.AccruedFees.Sign() != 0 {
		t.Fatalf("unexpected accrued fees %s", st.AccruedFees)
	}
	if st.CollectedFees.Cmp(big.NewInt(9_000)) != 0 {
		t.Fatalf("unexpected collected fees %s", st.CollectedFees)
	}
	borrowerAcc, _ := state.GetAccount(borrower[:])
	if borrowerAcc.BalanceUSDC.Cmp(big.NewInt(200_000-99_000)) != 0 {
		t.Fatalf("unexpected borrower balance %s", borrowerAcc.BalanceUSDC)
	}
}

func TestRepayInsufficientBalance(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	borrower := makeAddress(0x01)
	publisher := makeAddress(0x02)
	module := makeAddress(0xff)
	seedAccount(t, state, module, 1_000_000, 0)
	seedAccount(t, state, borrower, 50_000, 0)
	approveTestBorrower(t, engine, borrower, 500_000, 0, 0)

	id, err := engine.CreateLoan(borrower, publisher, big.NewInt(100_000), 30, 0)
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	if err := engine.RepayLoan(borrower, id); !errors.Is(err, errInsufficientBalance) {
		t.Fatalf("expected balance rejection, got %v", err)
	}
	record, _ := engine.GetBorrower(borrower)
	if record.CurrentDebt.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("debt mutated on failed repay: %s", record.CurrentDebt)
	}
}

func TestPayProtocolFeeUSDC(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	borrower := makeAddress(0x01)
	publisher := makeAddress(0x02)
	module := makeAddress(0xff)
	seedAccount(t, state, module, 1_000_000, 0)
	seedAccount(t, state, borrower, 10_000, 0)
	approveTestBorrower(t, engine, borrower, 500_000, 0, 200)

	id, err := engine.CreateLoan(borrower, publisher, big.NewInt(100_000), 30, 0)
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}

	if err := engine.PayProtocolFee(makeAddress(0x09), id, false); !errors.Is(err, errNotLoanBorrower) {
		t.Fatalf("expected caller rejection, got %v", err)
	}
	if err := engine.PayProtocolFee(borrower, id, false); err != nil {
		t.Fatalf("pay fee: %v", err)
	}

	st := loadVaultState(t, state)
	if st.ProtocolFees.Cmp(big.NewInt(2_000)) != 0 {
		t.Fatalf("unexpected protocol carve-out %s", st.ProtocolFees)
	}
	borrowerAcc, _ := state.GetAccount(borrower[:])
	if borrowerAcc.BalanceUSDC.Cmp(big.NewInt(8_000)) != 0 {
		t.Fatalf("unexpected borrower balance %s", borrowerAcc.BalanceUSDC)
	}
	status, _ := engine.GetLoan(id)
	if !status.Loan.ProtocolFeePaid {
		t.Fatal("fee not marked paid")
	}
	if err := engine.PayProtocolFee(borrower, id, false); !errors.Is(err, errFeeAlreadyPaid) {
		t.Fatalf("expected repeat rejection, got %v", err)
	}
}

func TestPayProtocolFeeAppex(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	borrower := makeAddress(0x01)
	publisher := makeAddress(0x02)
	module := makeAddress(0xff)
	wantAppex := new(big.Int).Mul(big.NewInt(2_000), big.NewInt(1_000_000_000_000))
	seedAccount(t, state, module, 1_000_000, 0)
	seedAccount(t, state, borrower, 0, 0)
	borrowerAcc, _ := state.GetAccount(borrower[:])
	borrowerAcc.BalanceAPPEX = new(big.Int).Set(wantAppex)
	if err := state.PutAccount(borrower[:], borrowerAcc); err != nil {
		t.Fatalf("seed appex: %v", err)
	}
	approveTestBorrower(t, engine, borrower, 500_000, 0, 200)

	id, err := engine.CreateLoan(borrower, publisher, big.NewInt(100_000), 30, 0)
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	if err := engine.PayProtocolFee(borrower, id, true); err != nil {
		t.Fatalf("pay fee in appex: %v", err)
	}

	// The APPEX leg refills the treasury; the USDC carve-out is untouched.
	st := loadVaultState(t, state)
	if st.ProtocolFees.Sign() != 0 {
		t.Fatalf("usdc carve-out moved on appex payment: %s", st.ProtocolFees)
	}
	moduleAcc, _ := state.GetAccount(module[:])
	if moduleAcc.BalanceAPPEX.Cmp(wantAppex) != 0 {
		t.Fatalf("treasury not credited: %s", moduleAcc.BalanceAPPEX)
	}
	borrowerAcc, _ = state.GetAccount(borrower[:])
	if borrowerAcc.BalanceAPPEX.Sign() != 0 {
		t.Fatalf("borrower appex not debited: %s", borrowerAcc.BalanceAPPEX)
	}
}

func TestUnpaidFeeGateBlocksNewLoans(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	borrower := makeAddress(0x01)
	publisher := makeAddress(0x02)
	module := makeAddress(0xff)
	seedAccount(t, state, module, 1_000_000, 0)
	seedAccount(t, state, borrower, 200_000, 0)
	approveTestBorrower(t, engine, borrower, 500_000, 0, 200)

	id, err := engine.CreateLoan(borrower, publisher, big.NewInt(100_000), 30, 0)
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	if err := engine.RepayLoan(borrower, id); err != nil {
		t.Fatalf("repay: %v", err)
	}

	if _, err := engine.CreateLoan(borrower, publisher, big.NewInt(50_000), 30, 0); !errors.Is(err, errUnpaidProtocolFees) {
		t.Fatalf("expected fee gate, got %v", err)
	}
	if err := engine.PayProtocolFee(borrower, id, false); err != nil {
		t.Fatalf("pay fee: %v", err)
	}
	if _, err := engine.CreateLoan(borrower, publisher, big.NewInt(50_000), 30, 0); err != nil {
		t.Fatalf("loan after fee settled: %v", err)
	}
}

func TestRevokeBorrowerBlocksNewDraws(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	borrower := makeAddress(0x01)
	publisher := makeAddress(0x02)
	module := makeAddress(0xff)
	seedAccount(t, state, module, 1_000_000, 0)
	seedAccount(t, state, borrower, 200_000, 0)
	approveTestBorrower(t, engine, borrower, 500_000, 0, 0)

	id, err := engine.CreateLoan(borrower, publisher, big.NewInt(100_000), 30, 0)
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	if err := engine.RevokeBorrower(borrower); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := engine.CreateLoan(borrower, publisher, big.NewInt(10_000), 30, 0); !errors.Is(err, errNotApprovedBorrower) {
		t.Fatalf("expected revoked rejection, got %v", err)
	}
	// Outstanding debt still settles normally.
	if err := engine.RepayLoan(borrower, id); err != nil {
		t.Fatalf("repay after revoke: %v", err)
	}
}

func TestLoanListings(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	borrower := makeAddress(0x01)
	publisher := makeAddress(0x02)
	module := makeAddress(0xff)
	seedAccount(t, state, module, 1_000_000, 0)
	seedAccount(t, state, borrower, 500_000, 0)
	approveTestBorrower(t, engine, borrower, 500_000, 0, 0)

	first, err := engine.CreateLoan(borrower, publisher, big.NewInt(100_000), 30, 0)
	if err != nil {
		t.Fatalf("first loan: %v", err)
	}
	second, err := engine.CreateLoan(borrower, publisher, big.NewInt(150_000), 60, 0)
	if err != nil {
		t.Fatalf("second loan: %v", err)
	}
	if err := engine.RepayLoan(borrower, first); err != nil {
		t.Fatalf("repay first: %v", err)
	}

	active, err := engine.ActiveLoans()
	if err != nil {
		t.Fatalf("active loans: %v", err)
	}
	if len(active) != 1 || active[0].Loan.ID != second {
		t.Fatalf("unexpected active set %+v", active)
	}

	history, err := engine.BorrowerLoans(borrower)
	if err != nil {
		t.Fatalf("borrower loans: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected full history, got %d", len(history))
	}

	borrowers, err := engine.ListBorrowers()
	if err != nil {
		t.Fatalf("list borrowers: %v", err)
	}
	if len(borrowers) != 1 || borrowers[0].Address != borrower {
		t.Fatalf("unexpected borrower index %+v", borrowers)
	}
}

type pauseAll struct{}

func (pauseAll) IsPaused(string) bool { return true }

func TestPausedCreditRejectsMutations(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	borrower := makeAddress(0x01)
	module := makeAddress(0xff)
	seedAccount(t, state, module, 1_000_000, 0)
	approveTestBorrower(t, engine, borrower, 500_000, 0, 0)
	engine.SetPauses(pauseAll{})
	if _, err := engine.CreateLoan(borrower, makeAddress(0x02), big.NewInt(10_000), 30, 0); err == nil {
		t.Fatal("expected pause rejection")
	}
}

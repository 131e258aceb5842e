package credit

import "math/big"

const secondsPerDay = 24 * 60 * 60

// Borrower captures an approved credit line and its running totals. Fields
// are persisted as-is; CurrentDebt always equals the sum of unrepaid loan
// principals.
type Borrower struct {
	Address        [20]byte
	Approved       bool
	BorrowLimit    *big.Int
	CurrentDebt    *big.Int
	LPYieldBps     uint64
	ProtocolFeeBps uint64
	TotalBorrowed  *big.Int
	TotalRepaid    *big.Int
	TotalFeesPaid  *big.Int
	// UnpaidFeeLoans counts repaid loans whose protocol fee is still owed.
	// A borrower with a positive count cannot draw new credit.
	UnpaidFeeLoans uint64
}

// Normalize replaces nil big.Int fields with zeroes.
func (b *Borrower) Normalize() {
	if b.BorrowLimit == nil {
		b.BorrowLimit = big.NewInt(0)
	}
	if b.CurrentDebt == nil {
		b.CurrentDebt = big.NewInt(0)
	}
	if b.TotalBorrowed == nil {
		b.TotalBorrowed = big.NewInt(0)
	}
	if b.TotalRepaid == nil {
		b.TotalRepaid = big.NewInt(0)
	}
	if b.TotalFeesPaid == nil {
		b.TotalFeesPaid = big.NewInt(0)
	}
}

// Clone returns a deep copy to avoid callers mutating shared pointers.
func (b *Borrower) Clone() *Borrower {
	if b == nil {
		return nil
	}
	clone := *b
	clone.Normalize()
	clone.BorrowLimit = new(big.Int).Set(b.BorrowLimit)
	clone.CurrentDebt = new(big.Int).Set(b.CurrentDebt)
	clone.TotalBorrowed = new(big.Int).Set(b.TotalBorrowed)
	clone.TotalRepaid = new(big.Int).Set(b.TotalRepaid)
	clone.TotalFeesPaid = new(big.Int).Set(b.TotalFeesPaid)
	return &clone
}

// Loan is the persisted record of one publisher payment funded on credit.
// USDCPrincipal denominates the full debt in USDC micro-units even when part
// of the disbursement left the facility as APPEX.
type Loan struct {
	ID             uint64
	Borrower       [20]byte
	Publisher      [20]byte
	USDCPrincipal  *big.Int
	USDCDisbursed  *big.Int
	AppexDisbursed *big.Int
	RewardBps      uint64
	LPFee          *big.Int
	ProtocolFee    *big.Int
	DailyAccrual   *big.Int
	StartTime      uint64
	TermDays       uint64
	// FeeDaysAccrued is the sweep watermark: whole loan-days already moved
	// into the vault's accrued fees. Never exceeds TermDays.
	FeeDaysAccrued  uint64
	Repaid          bool
	ProtocolFeePaid bool
}

// Normalize replaces nil big.Int fields with zeroes.
func (l *Loan) Normalize() {
	if l.USDCPrincipal == nil {
		l.USDCPrincipal = big.NewInt(0)
	}
	if l.USDCDisbursed == nil {
		l.USDCDisbursed = big.NewInt(0)
	}
	if l.AppexDisbursed == nil {
		l.AppexDisbursed = big.NewInt(0)
	}
	if l.LPFee == nil {
		l.LPFee = big.NewInt(0)
	}
	if l.ProtocolFee == nil {
		l.ProtocolFee = big.NewInt(0)
	}
	if l.DailyAccrual == nil {
		l.DailyAccrual = big.NewInt(0)
	}
}

// Clone returns a deep copy to avoid callers mutating shared pointers.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Normalize()
	clone.USDCPrincipal = new(big.Int).Set(l.USDCPrincipal)
	clone.USDCDisbursed = new(big.Int).Set(l.USDCDisbursed)
	clone.AppexDisbursed = new(big.Int).Set(l.AppexDisbursed)
	clone.LPFee = new(big.Int).Set(l.LPFee)
	clone.ProtocolFee = new(big.Int).Set(l.ProtocolFee)
	clone.DailyAccrual = new(big.Int).Set(l.DailyAccrual)
	return &clone
}

// DaysElapsed returns the whole days since origination at the provided unix
// timestamp.
func (l *Loan) DaysElapsed(now uint64) uint64 {
	if l == nil || now <= l.StartTime {
		return 0
	}
	return (now - l.StartTime) / secondsPerDay
}

// AccruedLPFee returns the lender yield earned up to the provided timestamp,
// capped at the scheduled fee for the full term.
func (l *Loan) AccruedLPFee(now uint64) *big.Int {
	if l == nil {
		return big.NewInt(0)
	}
	days := l.DaysElapsed(now)
	if days >= l.TermDays {
		return new(big.Int).Set(l.LPFee)
	}
	accrued := new(big.Int).Mul(l.DailyAccrual, new(big.Int).SetUint64(days))
	if accrued.Cmp(l.LPFee) > 0 {
		return new(big.Int).Set(l.LPFee)
	}
	return accrued
}

// IsOverdue reports whether an active loan has outlived its term. Repaid
// loans are never overdue.
func (l *Loan) IsOverdue(now uint64) bool {
	if l == nil || l.Repaid {
		return false
	}
	return l.DaysElapsed(now) > l.TermDays
}

// LoanStatus pairs a loan with its derived valuation fields, recomputed from
// the clock on every query.
type LoanStatus struct {
	Loan         *Loan
	DaysElapsed  uint64
	IsOverdue    bool
	AccruedLPFee *big.Int
}

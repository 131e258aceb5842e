package events

import (
	"math/big"

	"apxpool/core/types"
)

const (
	// TypeLoanCreated captures a funded publisher payment.
	TypeLoanCreated = "credit.loanCreated"
	// TypeLoanRepaid captures a principal plus yield repayment.
	TypeLoanRepaid = "credit.loanRepaid"
	// TypeProtocolFeePaid captures the protocol fee leg of a loan.
	TypeProtocolFeePaid = "credit.protocolFeePaid"
	// TypeBorrowerApproved is emitted when a borrower enters the book or
	// has its terms updated.
	TypeBorrowerApproved = "credit.borrowerApproved"
	// TypeBorrowerRevoked is emitted when a borrower loses approval.
	TypeBorrowerRevoked = "credit.borrowerRevoked"
)

// LoanCreated captures the disbursement legs of a new loan.
type LoanCreated struct {
	LoanID      uint64
	Borrower    [20]byte
	Publisher   [20]byte
	Principal   *big.Int
	USDCOut     *big.Int
	AppexOut    *big.Int
	RewardBps   uint64
	LPFee       *big.Int
	ProtocolFee *big.Int
	TermDays    uint64
}

// EventType satisfies the Event interface.
func (LoanCreated) EventType() string { return TypeLoanCreated }

// Event converts the structured payload into a broadcastable event.
func (e LoanCreated) Event() *types.Event {
	attrs := map[string]string{
		"loanId":      formatUint(e.LoanID),
		"borrower":    formatAddress(e.Borrower),
		"publisher":   formatAddress(e.Publisher),
		"principal":   formatAmount(e.Principal),
		"usdcOut":     formatAmount(e.USDCOut),
		"lpFee":       formatAmount(e.LPFee),
		"protocolFee": formatAmount(e.ProtocolFee),
		"termDays":    formatUint(e.TermDays),
	}
	if e.AppexOut != nil && e.AppexOut.Sign() > 0 {
		attrs["appexOut"] = formatAmount(e.AppexOut)
		attrs["rewardBps"] = formatUint(e.RewardBps)
	}
	return &types.Event{Type: TypeLoanCreated, Attributes: attrs}
}

// LoanRepaid captures a terminal repayment.
type LoanRepaid struct {
	LoanID    uint64
	Borrower  [20]byte
	Principal *big.Int
	LPFee     *big.Int
	Total     *big.Int
}

// EventType satisfies the Event interface.
func (LoanRepaid) EventType() string { return TypeLoanRepaid }

// Event converts the structured payload into a broadcastable event.
func (e LoanRepaid) Event() *types.Event {
	return &types.Event{Type: TypeLoanRepaid, Attributes: map[string]string{
		"loanId":    formatUint(e.LoanID),
		"borrower":  formatAddress(e.Borrower),
		"principal": formatAmount(e.Principal),
		"lpFee":     formatAmount(e.LPFee),
		"total":     formatAmount(e.Total),
	}}
}

// ProtocolFeePaid captures the protocol fee settlement for a loan.
type ProtocolFeePaid struct {
	LoanID   uint64
	Borrower [20]byte
	Amount   *big.Int
	InAppex  bool
}

// EventType satisfies the Event interface.
func (ProtocolFeePaid) EventType() string { return TypeProtocolFeePaid }

// Event converts the structured payload into a broadcastable event.
func (e ProtocolFeePaid) Event() *types.Event {
	asset := "USDC"
	if e.InAppex {
		asset = "APPEX"
	}
	return &types.Event{Type: TypeProtocolFeePaid, Attributes: map[string]string{
		"loanId":   formatUint(e.LoanID),
		"borrower": formatAddress(e.Borrower),
		"amount":   formatAmount(e.Amount),
		"asset":    asset,
	}}
}

// BorrowerApproved captures new or updated borrower terms.
type BorrowerApproved struct {
	Borrower       [20]byte
	BorrowLimit    *big.Int
	LPYieldBps     uint64
	ProtocolFeeBps uint64
}

// EventType satisfies the Event interface.
func (BorrowerApproved) EventType() string { return TypeBorrowerApproved }

// Event converts the structured payload into a broadcastable event.
func (e BorrowerApproved) Event() *types.Event {
	return &types.Event{Type: TypeBorrowerApproved, Attributes: map[string]string{
		"borrower":       formatAddress(e.Borrower),
		"borrowLimit":    formatAmount(e.BorrowLimit),
		"lpYieldBps":     formatUint(e.LPYieldBps),
		"protocolFeeBps": formatUint(e.ProtocolFeeBps),
	}}
}

// BorrowerRevoked captures a borrower losing access to new draws.
type BorrowerRevoked struct {
	Borrower [20]byte
}

// EventType satisfies the Event interface.
func (BorrowerRevoked) EventType() string { return TypeBorrowerRevoked }

// Event converts the structured payload into a broadcastable event.
func (e BorrowerRevoked) Event() *types.Event {
	return &types.Event{Type: TypeBorrowerRevoked, Attributes: map[string]string{
		"borrower": formatAddress(e.Borrower),
	}}
}

package credit

import (
	"fmt"

	nativecommon "apxpool/native/common"
)

var (
	errNilState              = fmt.Errorf("credit engine: state not configured: %w", nativecommon.ErrConflict)
	errInvalidAmount         = fmt.Errorf("credit engine: amount must be positive: %w", nativecommon.ErrValidation)
	errInvalidTerm           = fmt.Errorf("credit engine: term outside configured range: %w", nativecommon.ErrValidation)
	errInvalidRewardShare    = fmt.Errorf("credit engine: reward share above 100%%: %w", nativecommon.ErrValidation)
	errInvalidFeeRate        = fmt.Errorf("credit engine: fee rate above 100%%: %w", nativecommon.ErrValidation)
	errBorrowerNotFound      = fmt.Errorf("credit engine: borrower not found: %w", nativecommon.ErrValidation)
	errNotApprovedBorrower   = fmt.Errorf("credit engine: borrower not approved: %w", nativecommon.ErrUnauthorized)
	errNotLoanBorrower       = fmt.Errorf("credit engine: caller is not the loan borrower: %w", nativecommon.ErrUnauthorized)
	errBorrowLimitExceeded   = fmt.Errorf("credit engine: borrow limit exceeded: %w", nativecommon.ErrCapacity)
	errInsufficientLiquidity = fmt.Errorf("credit engine: insufficient liquidity: %w", nativecommon.ErrCapacity)
	errTreasuryShortfall     = fmt.Errorf("credit engine: appex treasury too low: %w", nativecommon.ErrCapacity)
	errInsufficientBalance   = fmt.Errorf("credit engine: insufficient balance: %w", nativecommon.ErrCapacity)
	errLoanNotFound          = fmt.Errorf("credit engine: loan not found: %w", nativecommon.ErrValidation)
	errAlreadyRepaid         = fmt.Errorf("credit engine: loan already repaid: %w", nativecommon.ErrConflict)
	errFeeAlreadyPaid        = fmt.Errorf("credit engine: protocol fee already paid: %w", nativecommon.ErrConflict)
	errUnpaidProtocolFees    = fmt.Errorf("credit engine: unpaid protocol fees on closed loans: %w", nativecommon.ErrConflict)
)

// ErrLoanNotFound is exported so read surfaces can translate a missing loan
// without matching on message text.
var ErrLoanNotFound = errLoanNotFound

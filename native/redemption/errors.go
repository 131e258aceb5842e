package redemption

import (
	"fmt"

	nativecommon "apxpool/native/common"
)

var (
	errNilState           = fmt.Errorf("redemption engine: state not configured: %w", nativecommon.ErrConflict)
	errNilVault           = fmt.Errorf("redemption engine: vault engine not configured: %w", nativecommon.ErrConflict)
	errInvalidAmount      = fmt.Errorf("redemption engine: shares must be positive: %w", nativecommon.ErrValidation)
	errInsufficientShares = fmt.Errorf("redemption engine: insufficient shares: %w", nativecommon.ErrCapacity)
	errRequestNotFound    = fmt.Errorf("redemption engine: request not found: %w", nativecommon.ErrValidation)
)

// ErrRequestNotFound is exported so read surfaces can translate a missing
// request without matching on message text.
var ErrRequestNotFound = errRequestNotFound

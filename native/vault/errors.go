package vault

import (
	"fmt"

	nativecommon "apxpool/native/common"
)

var (
	errNilState              = fmt.Errorf("vault engine: state not configured: %w", nativecommon.ErrConflict)
	errInvalidAmount         = fmt.Errorf("vault engine: amount must be positive: %w", nativecommon.ErrValidation)
	errDustAmount            = fmt.Errorf("vault engine: amount too small to mint a share: %w", nativecommon.ErrValidation)
	errInsufficientBalance   = fmt.Errorf("vault engine: insufficient balance: %w", nativecommon.ErrCapacity)
	errInsufficientShares    = fmt.Errorf("vault engine: insufficient share balance: %w", nativecommon.ErrCapacity)
	errInsufficientLiquidity = fmt.Errorf("vault engine: insufficient liquidity: %w", nativecommon.ErrCapacity)
	errProtocolFeeShortfall  = fmt.Errorf("vault engine: protocol fee balance too low: %w", nativecommon.ErrCapacity)
)

// ErrInsufficientLiquidity is exported so the redemption queue can route
// failed direct redemptions into the queue.
var ErrInsufficientLiquidity = errInsufficientLiquidity

package staking

import (
	"fmt"

	nativecommon "apxpool/native/common"
)

var (
	errNilState            = fmt.Errorf("staking engine: state not configured: %w", nativecommon.ErrConflict)
	errInvalidAmount       = fmt.Errorf("staking engine: amount must be positive: %w", nativecommon.ErrValidation)
	errInvalidLockTier     = fmt.Errorf("staking engine: unknown lock tier: %w", nativecommon.ErrValidation)
	errLockDowngrade       = fmt.Errorf("staking engine: cannot shorten an active lock: %w", nativecommon.ErrConflict)
	errStakeCapExceeded    = fmt.Errorf("staking engine: stake above share-based cap: %w", nativecommon.ErrCapacity)
	errInsufficientBalance = fmt.Errorf("staking engine: insufficient balance: %w", nativecommon.ErrCapacity)
	errStillLocked         = fmt.Errorf("staking engine: lock has not expired: %w", nativecommon.ErrConflict)
	errInsufficientStake   = fmt.Errorf("staking engine: unstake exceeds staked amount: %w", nativecommon.ErrCapacity)
	errPositionNotFound    = fmt.Errorf("staking engine: position not found: %w", nativecommon.ErrValidation)
	errNoStake             = fmt.Errorf("staking engine: no weighted stake to distribute over: %w", nativecommon.ErrConflict)
	errDistributionShort   = fmt.Errorf("staking engine: distribution exceeds collected fees: %w", nativecommon.ErrCapacity)
	errNoRewards           = fmt.Errorf("staking engine: no rewards to claim: %w", nativecommon.ErrConflict)
	errRewardCashShortfall = fmt.Errorf("staking engine: module cash below reward payout: %w", nativecommon.ErrCapacity)
)

// Exported sentinels for read surfaces and transports.
var (
	ErrNoRewards        = errNoRewards
	ErrPositionNotFound = errPositionNotFound
)

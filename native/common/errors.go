package common

import "errors"

// Error categories shared by every facility module. Engine sentinels wrap
// one of these so transports can map failures to a stable code with
// errors.Is without knowing each module's error set.
var (
	// ErrValidation marks malformed or out-of-range inputs.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized marks callers lacking the required role or approval.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrCapacity marks operations exceeding available liquidity, limits
	// or caps.
	ErrCapacity = errors.New("insufficient capacity")
	// ErrConflict marks operations invalid for the current entity state.
	ErrConflict = errors.New("state conflict")
)

package governance

import (
	"fmt"

	nativecommon "apxpool/native/common"
)

var (
	errNilState  = fmt.Errorf("governance engine: state not configured: %w", nativecommon.ErrConflict)
	errNilRoles  = fmt.Errorf("governance engine: roles not configured: %w", nativecommon.ErrConflict)
	errNilTarget = fmt.Errorf("governance engine: execution target not configured: %w", nativecommon.ErrConflict)

	errInvalidProposal  = fmt.Errorf("governance engine: invalid proposal payload: %w", nativecommon.ErrValidation)
	errParamNotAllowed  = fmt.Errorf("governance engine: parameter not in allow list: %w", nativecommon.ErrValidation)
	errProposalNotFound = fmt.Errorf("governance engine: proposal not found: %w", nativecommon.ErrValidation)

	errNotGovernor = fmt.Errorf("governance engine: caller is not a governor: %w", nativecommon.ErrUnauthorized)

	errAlreadyApproved  = fmt.Errorf("governance engine: approval already recorded: %w", nativecommon.ErrConflict)
	errAlreadyScheduled = fmt.Errorf("governance engine: proposal already scheduled: %w", nativecommon.ErrConflict)
	errNotScheduled     = fmt.Errorf("governance engine: proposal not scheduled: %w", nativecommon.ErrConflict)
	errTimelockActive   = fmt.Errorf("governance engine: timelock has not expired: %w", nativecommon.ErrConflict)
	errAlreadyExecuted  = fmt.Errorf("governance engine: proposal already executed: %w", nativecommon.ErrConflict)
)

// ErrProposalNotFound reports a lookup for an unknown proposal id.
var ErrProposalNotFound = errProposalNotFound

// ErrAlreadyExecuted reports a second execution attempt on a proposal.
var ErrAlreadyExecuted = errAlreadyExecuted

// ErrNotGovernor reports a proposal or approval from outside the governor set.
var ErrNotGovernor = errNotGovernor

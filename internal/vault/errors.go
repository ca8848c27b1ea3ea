package vault

import "errors"

var (
	// ErrAlreadyInitialized means a vault with the same name exists.
	ErrAlreadyInitialized = errors.New("vault: already initialized")

	// ErrNotFound means no vault with that name exists.
	ErrNotFound = errors.New("vault: not found")

	// ErrPhaseViolation means the operation was attempted outside its
	// phase window. The vault itself is unchanged; the caller may retry
	// once the window opens.
	ErrPhaseViolation = errors.New("vault: operation not allowed in current phase")

	// ErrInsufficientShares means the caller asked to redeem more claim
	// tokens than they hold.
	ErrInsufficientShares = errors.New("vault: insufficient shares")

	// ErrVaultHalted means a failed margin recall left funds on the
	// exchange. All withdrawals and rollovers are blocked until an admin
	// resolves the situation and resumes the vault.
	ErrVaultHalted = errors.New("vault: halted pending manual resolution")

	// ErrCycleNotComplete means rollover was requested before the
	// current cycle's end boundary.
	ErrCycleNotComplete = errors.New("vault: cycle not complete")

	// ErrNotAdmin means the caller is not the vault's admin.
	ErrNotAdmin = errors.New("vault: caller is not the admin")

	// ErrInvariantViolated means the conservation check failed after an
	// operation. This is a design bug, not a recoverable condition; the
	// vault halts immediately.
	ErrInvariantViolated = errors.New("vault: conservation invariant violated")
)

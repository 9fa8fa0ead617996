package types

import "errors"

// Ledger error taxonomy. Mutating operations fail with exactly one of these
// (or fixedpoint.ErrArithmeticFault) and roll back in full; nothing in the
// engine retries on the caller's behalf.
var (
	// ErrInsufficientLiquidity rejects pool creation below the configured
	// minimum initial collateral.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// ErrZeroLiquidity rejects zero-value liquidity operations.
	ErrZeroLiquidity = errors.New("zero liquidity")

	// ErrSlippageExceeded means the computed output fell below the caller's
	// minimum. Safe to retry with adjusted bounds.
	ErrSlippageExceeded = errors.New("slippage exceeded")

	// ErrReserveDepleted means the operation would push a reserve below the
	// market's floor. The caller must reduce size, not retry verbatim.
	ErrReserveDepleted = errors.New("reserve depleted")

	// ErrInvalidStateTransition is a lifecycle violation. Fatal, no retry.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrAlreadyClaimed is the idempotency guard on claims; callers treat it
	// as success-no-op.
	ErrAlreadyClaimed = errors.New("already claimed")

	ErrOrderNotFound  = errors.New("order not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrMarketNotFound = errors.New("market not found")

	// ErrInsufficientBalance rejects cash legs the account cannot cover.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientPosition rejects token legs the position cannot cover.
	ErrInsufficientPosition = errors.New("insufficient position")

	// ErrCreationLimit rejects market creation over the per-day cap or with
	// an end time inside the minimum time-to-expiry window.
	ErrCreationLimit = errors.New("market creation limit")

	// ErrInvalidOrder rejects orders with a price outside (0,1) or zero size.
	ErrInvalidOrder = errors.New("invalid order")
)

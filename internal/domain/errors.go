package domain

import "errors"

var (
	// Auction state machine errors. Every fallible engine operation returns
	// exactly one of these so callers can switch on the outcome.
	ErrWrongPhase             = errors.New("operation not valid in current phase")
	ErrPhaseNotReady          = errors.New("phase window has not elapsed")
	ErrInsufficientCollateral = errors.New("collateral below minimum")
	ErrInvalidReveal          = errors.New("reveal does not match commitment hash")
	ErrUnknownCommitment      = errors.New("unknown commitment")
	ErrAlreadyRevealed        = errors.New("commitment already revealed")
	ErrNotEligible            = errors.New("committer not eligible")

	// Infrastructure errors shared across stores, caches, and handlers.
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrLockHeld     = errors.New("lock already held")
	ErrContextDone  = errors.New("context cancelled")
)

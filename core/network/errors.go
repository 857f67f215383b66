package network

import (
	"fmt"

	"finova/core/types"
)

var (
	// ErrCycleDetected is returned when an edge would make an account its own
	// ancestor. The graph is left unchanged.
	ErrCycleDetected = fmt.Errorf("network: %w", types.ErrCycleDetected)
	// ErrStaleSnapshot signals that the persisted snapshot version drifted from
	// the in-memory view. Callers reload and retry.
	ErrStaleSnapshot = fmt.Errorf("network: %w", types.ErrStaleSnapshot)
	// ErrUnknownAccount is returned for accounts that were never registered.
	ErrUnknownAccount = fmt.Errorf("network: %w: unknown account", types.ErrInvalidInput)
	// ErrAlreadyReferred is returned when an account already has a different
	// referrer.
	ErrAlreadyReferred = fmt.Errorf("network: %w: account already has a referrer", types.ErrInvalidInput)
	// ErrDirectLimit is returned when the referrer's tier does not allow another
	// direct referral.
	ErrDirectLimit = fmt.Errorf("network: %w: direct referral limit reached", types.ErrInvalidInput)
)

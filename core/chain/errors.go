package chain

import "errors"

var (
	// ErrNotFound is returned when a resolved block identity has no
	// corresponding chain data.
	ErrNotFound = errors.New("block not found")

	// ErrStateUnavailable is returned when the state at a resolved block has
	// been pruned or evicted from the provider.
	ErrStateUnavailable = errors.New("historical state unavailable")

	// ErrProviderUnavailable wraps transient collaborator I/O failures. Retry
	// policy belongs to the caller issuing the I/O, not to this layer.
	ErrProviderUnavailable = errors.New("chain data provider unavailable")
)

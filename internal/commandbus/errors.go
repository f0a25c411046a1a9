package commandbus

import "errors"

var (
	// ErrInvalidResult is returned for result payloads that cannot be applied.
	ErrInvalidResult = errors.New("commandbus: invalid result message")

	// ErrTenantMismatch is returned when a result arrives on the topic of a
	// service the device does not belong to.
	ErrTenantMismatch = errors.New("commandbus: result service does not match device")

	// ErrNotStarted is returned by Stop on a bridge that never subscribed.
	ErrNotStarted = errors.New("commandbus: bridge not started")
)

package device

import "errors"

// Registry errors. Lookups on unknown keys return these instead of nil values:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device id or name does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when storing a device whose id is already taken.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when a device lacks an id.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrGroupNotFound is returned when no group matches a (resource, apikey) pair.
	ErrGroupNotFound = errors.New("device group: not found")

	// ErrGroupExists is returned when storing a group whose (resource, apikey) is taken.
	ErrGroupExists = errors.New("device group: already exists")

	// ErrCommandNotFound is returned when removing a command that is not queued.
	ErrCommandNotFound = errors.New("command queue: not found")
)

package fault

import "errors"

// Sentinel errors wrapped by *Error. Check them with errors.Is:
//
//	if errors.Is(err, fault.ErrDeviceNotFound) {
//	    // unknown device
//	}
var (
	// Configuration.
	ErrMissingConfigParams  = errors.New("missing mandatory configuration parameters")
	ErrRegistryNotAvailable = errors.New("registry not available")

	// Transport.
	ErrTransport = errors.New("transport error")

	// Broker protocol.
	ErrBadRequest     = errors.New("bad request reported by broker")
	ErrRegistration   = errors.New("error registering device")
	ErrUnregistration = errors.New("error unregistering device")
	ErrEntityGeneric  = errors.New("error accessing entity")

	// Authorization.
	ErrAccessForbidden            = errors.New("access forbidden")
	ErrSecurityInformationMissing = errors.New("security information missing")
	ErrTokenRejected              = errors.New("trust rejected by token service")

	// Domain.
	ErrCommandNotFound   = errors.New("command not found")
	ErrTypeNotFound      = errors.New("type not found")
	ErrDeviceNotFound    = errors.New("device not found")
	ErrMissingAttributes = errors.New("missing attributes")
)

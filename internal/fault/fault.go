package fault

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an error by who is responsible for it.
type Kind int

const (
	// KindUnknown is used for errors that did not originate in this module.
	KindUnknown Kind = iota

	// KindConfiguration is a missing or invalid setting detected at startup.
	KindConfiguration

	// KindTransport is a connection-level failure talking to the Broker or token service.
	KindTransport

	// KindBrokerProtocol means the Broker answered but reported a logical failure.
	KindBrokerProtocol

	// KindAuthorization is an HTTP 403, a rejected trust or a missing trust credential.
	KindAuthorization

	// KindDomain is a caller mistake: unknown device, type or command.
	KindDomain
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindTransport:
		return "TransportError"
	case KindBrokerProtocol:
		return "BrokerProtocolError"
	case KindAuthorization:
		return "AuthorizationError"
	case KindDomain:
		return "DomainError"
	default:
		return "UnknownError"
	}
}

// Error is the typed error returned by the protocol engine.
//
// Err is always one of the package sentinels so callers can use errors.Is.
// Cause, when set, is the lower-level error that triggered this one.
type Error struct {
	Kind    Kind
	Code    string
	Err     error
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes both the sentinel and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func newError(kind Kind, code string, sentinel error, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Err:     sentinel,
		Message: fmt.Sprintf(format, args...),
	}
}

// MissingConfigParams reports mandatory configuration keys that were not set.
func MissingConfigParams(missing []string) *Error {
	return newError(KindConfiguration, "MISSING_CONFIG_PARAMS", ErrMissingConfigParams,
		"%s", strings.Join(missing, ", "))
}

// RegistryNotAvailable reports a registry call made before one was configured.
func RegistryNotAvailable() *Error {
	return newError(KindConfiguration, "REGISTRY_NOT_AVAILABLE", ErrRegistryNotAvailable,
		"no device registry configured")
}

// Transport wraps a connection failure for the named operation.
func Transport(operation string, cause error) *Error {
	e := newError(KindTransport, "TRANSPORT_ERROR", ErrTransport, "%s", operation)
	e.Cause = cause
	return e
}

// BadRequest is a Broker reply that was accepted at HTTP level but carried an error body.
func BadRequest(details string) *Error {
	return newError(KindBrokerProtocol, "BAD_REQUEST", ErrBadRequest, "%s", details)
}

// Registration reports a registration rejected by the Broker's HTTP layer.
func Registration(id, entityType string) *Error {
	return newError(KindBrokerProtocol, "REGISTRATION_ERROR", ErrRegistration,
		"device %s of type %s", id, entityType)
}

// Unregistration reports an unregistration rejected by the Broker's HTTP layer.
func Unregistration(id, entityType string) *Error {
	return newError(KindBrokerProtocol, "UNREGISTRATION_ERROR", ErrUnregistration,
		"device %s of type %s", id, entityType)
}

// EntityGeneric is any Broker-reported logical error other than not-found.
func EntityGeneric(entityName, entityType string, details any) *Error {
	return newError(KindBrokerProtocol, "ENTITY_GENERIC_ERROR", ErrEntityGeneric,
		"entity %s of type %s: %v", entityName, entityType, details)
}

// AccessForbidden is an HTTP 403 from the Broker. The token is truncated.
func AccessForbidden(token, service, subservice string) *Error {
	return newError(KindAuthorization, "ACCESS_FORBIDDEN", ErrAccessForbidden,
		"token %q service %q subservice %q", redact(token), service, subservice)
}

// SecurityInformationMissing is raised when authentication is on and no trust is configured.
func SecurityInformationMissing(entityType string) *Error {
	return newError(KindAuthorization, "SECURITY_INFORMATION_MISSING", ErrSecurityInformationMissing,
		"no trust configured for type %s", entityType)
}

// TokenRejected reports that the token service refused a trust.
func TokenRejected(trust string, status int) *Error {
	return newError(KindAuthorization, "TOKEN_REJECTED", ErrTokenRejected,
		"trust %q rejected with status %d", redact(trust), status)
}

// CommandNotFound reports a command that the resolved type does not declare.
func CommandNotFound(command string) *Error {
	return newError(KindDomain, "COMMAND_NOT_FOUND", ErrCommandNotFound, "%s", command)
}

// TypeNotFound reports an entity whose type could not be resolved.
func TypeNotFound(id, entityName string) *Error {
	return newError(KindDomain, "TYPE_NOT_FOUND", ErrTypeNotFound,
		"id %q entity %q", id, entityName)
}

// DeviceNotFound reports an unknown device id or entity name.
func DeviceNotFound(id string) *Error {
	return newError(KindDomain, "DEVICE_NOT_FOUND", ErrDeviceNotFound, "%s", id)
}

// MissingAttributes reports a request lacking mandatory fields.
func MissingAttributes(msg string) *Error {
	return newError(KindDomain, "MISSING_ATTRIBUTES", ErrMissingAttributes, "%s", msg)
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// CodeOf returns the error code of the first *Error in err's chain, or INTERNAL_ERROR.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return "INTERNAL_ERROR"
}

// HTTPStatus maps an error to the status code a northbound surface should answer with.
//
// Domain errors are client failures, Broker protocol errors are gateway
// failures and everything else is a server failure.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindDomain:
		if errors.Is(err, ErrDeviceNotFound) {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindBrokerProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// redactKeep is the number of leading characters kept from secrets in messages.
const redactKeep = 6

func redact(secret string) string {
	if len(secret) <= redactKeep {
		return secret
	}
	return secret[:redactKeep] + "..."
}

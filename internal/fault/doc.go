// Package fault defines the error taxonomy of the IoT agent.
//
// Every error produced by the protocol engine is a *Error carrying a Kind
// (configuration, transport, broker protocol, authorization or domain), a
// stable code and one of the sentinels in errors.go. Nothing in this module
// retries: callers decide what to do with each kind.
//
// Surfaces that expose these errors over HTTP should use HTTPStatus so that
// domain errors become 4xx, broker protocol errors become 502 and transport
// errors become 500.
package fault

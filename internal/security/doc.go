// Package security gates Broker calls behind an optional token step.
//
// When authentication is enabled every call needs the trust credential of
// its type configuration. The trust is exchanged for a short-lived access
// token through a TokenService and the token is handed to the call, which
// sends it as X-Auth-Token.
//
// The package never retries. A CachingTokenService avoids repeated
// exchanges for the same trust until the token expires.
package security

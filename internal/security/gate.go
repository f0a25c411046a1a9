package security

import (
	"context"
	"errors"

	"github.com/nerrad567/gray-logic-iotagent/internal/entity"
	"github.com/nerrad567/gray-logic-iotagent/internal/fault"
)

// TokenService exchanges a trust credential for an access token.
type TokenService interface {
	Acquire(ctx context.Context, trust string) (string, error)
}

// invalidator is implemented by token services that can forget a token.
type invalidator interface {
	Invalidate(trust string)
}

// Gate runs Broker calls with the token their type configuration entitles them to.
type Gate struct {
	enabled bool
	tokens  TokenService
}

// NewGate creates a gate. With enabled false, tokens is never used and may be nil.
func NewGate(enabled bool, tokens TokenService) *Gate {
	return &Gate{enabled: enabled, tokens: tokens}
}

// Enabled reports whether calls require a token.
func (g *Gate) Enabled() bool {
	return g != nil && g.enabled
}

// Do invokes call with the token for cfg.
//
// Disabled gates pass an empty token. Enabled gates fail with
// SecurityInformationMissing when cfg has no trust, before call runs.
// Errors from the token service are returned unchanged. When the Broker
// refuses the token, it is dropped from the token service so the next call
// acquires a fresh one.
func (g *Gate) Do(ctx context.Context, cfg entity.TypeConfiguration, call func(token string) error) error {
	if !g.Enabled() {
		return call("")
	}

	if cfg.Trust == "" {
		return fault.SecurityInformationMissing(cfg.Type)
	}

	token, err := g.tokens.Acquire(ctx, cfg.Trust)
	if err != nil {
		return err
	}

	err = call(token)
	if errors.Is(err, fault.ErrAccessForbidden) {
		if inv, ok := g.tokens.(invalidator); ok {
			inv.Invalidate(cfg.Trust)
		}
	}
	return err
}

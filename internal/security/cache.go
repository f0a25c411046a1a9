package security

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// expiryMargin is subtracted from a token's expiry so it is not sent
// moments before the identity service stops accepting it.
const expiryMargin = 30 * time.Second

type cachedToken struct {
	token   string
	expires time.Time
}

// CachingTokenService remembers tokens per trust until they expire.
//
// The expiry is read from the exp claim when the token is a JWT. Opaque
// tokens are kept for the configured TTL. Failed acquisitions are not cached.
type CachingTokenService struct {
	next   TokenService
	ttl    time.Duration
	now    func() time.Time
	tokens cmap.ConcurrentMap[string, cachedToken]
}

// NewCachingTokenService wraps next with a token cache.
func NewCachingTokenService(next TokenService, ttl time.Duration) *CachingTokenService {
	return &CachingTokenService{
		next:   next,
		ttl:    ttl,
		now:    time.Now,
		tokens: cmap.New[cachedToken](),
	}
}

// Acquire implements TokenService.
func (c *CachingTokenService) Acquire(ctx context.Context, trust string) (string, error) {
	now := c.now()
	if cached, ok := c.tokens.Get(trust); ok && now.Before(cached.expires) {
		return cached.token, nil
	}

	token, err := c.next.Acquire(ctx, trust)
	if err != nil {
		c.tokens.Remove(trust)
		return "", err
	}

	expires := c.expiry(token, now)
	if expires.After(now) {
		c.tokens.Set(trust, cachedToken{token: token, expires: expires})
	}
	return token, nil
}

// Invalidate drops the cached token of trust, e.g. after the Broker rejected it.
func (c *CachingTokenService) Invalidate(trust string) {
	c.tokens.Remove(trust)
}

func (c *CachingTokenService) expiry(token string, now time.Time) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time.Add(-expiryMargin)
	}
	return now.Add(c.ttl)
}

package security

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-iotagent/internal/fault"
)

const (
	subjectTokenHeader = "X-Subject-Token"
	defaultTimeout     = 10 * time.Second
)

// KeystoneConfig holds the service account used for trust exchanges.
type KeystoneConfig struct {
	// URL is the base address of the identity service, e.g. http://keystone:5000.
	URL      string
	User     string
	Password string
	Domain   string
	Timeout  time.Duration
}

// KeystoneTokenService acquires trust-scoped tokens from an OpenStack
// Keystone v3 identity service.
type KeystoneTokenService struct {
	cfg    KeystoneConfig
	client *http.Client
}

// NewKeystoneTokenService creates a token service for the given identity endpoint.
func NewKeystoneTokenService(cfg KeystoneConfig) *KeystoneTokenService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Domain == "" {
		cfg.Domain = "admin_domain"
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &KeystoneTokenService{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type keystoneRequest struct {
	Auth keystoneAuth `json:"auth"`
}

type keystoneAuth struct {
	Identity keystoneIdentity `json:"identity"`
	Scope    keystoneScope    `json:"scope"`
}

type keystoneIdentity struct {
	Methods  []string         `json:"methods"`
	Password keystonePassword `json:"password"`
}

type keystonePassword struct {
	User keystoneUser `json:"user"`
}

type keystoneUser struct {
	Domain   keystoneName `json:"domain"`
	Name     string       `json:"name"`
	Password string       `json:"password"`
}

type keystoneName struct {
	Name string `json:"name"`
}

type keystoneScope struct {
	Trust keystoneTrust `json:"OS-TRUST:trust"`
}

type keystoneTrust struct {
	ID string `json:"id"`
}

// Acquire exchanges trust for a token.
//
// Returns:
//   - string: The token from the X-Subject-Token header
//   - error: Transport on connection failure, TokenRejected on any non-2xx answer
func (s *KeystoneTokenService) Acquire(ctx context.Context, trust string) (string, error) {
	body, err := json.Marshal(keystoneRequest{Auth: keystoneAuth{
		Identity: keystoneIdentity{
			Methods: []string{"password"},
			Password: keystonePassword{User: keystoneUser{
				Domain:   keystoneName{Name: s.cfg.Domain},
				Name:     s.cfg.User,
				Password: s.cfg.Password,
			}},
		},
		Scope: keystoneScope{Trust: keystoneTrust{ID: trust}},
	}})
	if err != nil {
		return "", fmt.Errorf("encoding token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL+"/v3/auth/tokens", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fault.Transport("acquire token", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // Drain for connection reuse

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fault.TokenRejected(trust, resp.StatusCode)
	}

	token := resp.Header.Get(subjectTokenHeader)
	if token == "" {
		return "", fault.TokenRejected(trust, resp.StatusCode)
	}
	return token, nil
}

// Package auth verifies the credentials presented by clients connecting to
// the signaling relay.
//
// The relay does not issue credentials. In jwt mode, tokens are minted by
// the deployment's identity provider; the relay only checks the HMAC and
// lifts the verified display name out of the claims so presence propagation
// starts from an authenticated identity instead of a placeholder.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/SHlok06majmundar/nexus-meet-sub000/internal/config"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Identity is what a successful verification yields. All fields may be empty
// in api_key mode, which authenticates the deployment rather than a user.
type Identity struct {
	// Subject is the identity provider's stable user id.
	Subject string
	// DisplayName is the verified display name, if the token carried one.
	DisplayName string
}

type Verifier interface {
	Verify(credential string) (Identity, error)
}

func NewVerifier(cfg config.Config) (Verifier, error) {
	switch cfg.AuthMode {
	case config.AuthModeAPIKey:
		return APIKeyVerifier{Expected: cfg.APIKey}, nil
	case config.AuthModeJWT:
		return NewJWTVerifier(cfg.JWTSecret), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}

// CredentialFromRequest extracts the credential for the configured mode from
// an HTTP request: headers first, query string as a fallback for browser
// WebSocket dials that cannot set headers.
func CredentialFromRequest(mode config.AuthMode, r *http.Request) (string, error) {
	switch mode {
	case config.AuthModeAPIKey:
		if v := strings.TrimSpace(r.Header.Get("X-API-Key")); v != "" {
			return v, nil
		}
		if v := r.URL.Query().Get("apiKey"); v != "" {
			return v, nil
		}
		return "", ErrMissingCredentials
	case config.AuthModeJWT:
		if h := r.Header.Get("Authorization"); h != "" {
			if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
				if tok = strings.TrimSpace(tok); tok != "" {
					return tok, nil
				}
			}
			return "", ErrInvalidCredentials
		}
		if v := r.URL.Query().Get("token"); v != "" {
			return v, nil
		}
		return "", ErrMissingCredentials
	default:
		return "", fmt.Errorf("unsupported auth mode %q", mode)
	}
}

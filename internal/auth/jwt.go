package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var ErrUnsupportedJWT = errors.New("unsupported jwt")

// maxJWTLen bounds token parsing work; identity-provider tokens for this
// relay carry a handful of claims and stay far below this.
const maxJWTLen = 8 * 1024

type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		now:    time.Now,
	}
}

type jwtHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ,omitempty"`
}

type jwtClaims struct {
	Sub  string `json:"sub"`
	Name string `json:"name,omitempty"`
	Exp  int64  `json:"exp"`
	Iat  int64  `json:"iat,omitempty"`
}

// Verify checks an HS256 token and returns the identity carried in its
// claims. Only HS256 is accepted; `alg:none` and asymmetric algorithms are
// rejected before any signature work.
func (v *JWTVerifier) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingCredentials
	}
	if len(token) > maxJWTLen {
		return Identity{}, ErrInvalidCredentials
	}

	headerB64, rest, ok := strings.Cut(token, ".")
	if !ok {
		return Identity{}, ErrInvalidCredentials
	}
	payloadB64, sigB64, ok := strings.Cut(rest, ".")
	if !ok || strings.Contains(sigB64, ".") {
		return Identity{}, ErrInvalidCredentials
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(headerB64)
	if err != nil {
		return Identity{}, ErrInvalidCredentials
	}
	var header jwtHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return Identity{}, ErrInvalidCredentials
	}
	if header.Alg != "HS256" {
		return Identity{}, ErrUnsupportedJWT
	}

	gotSig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return Identity{}, ErrInvalidCredentials
	}
	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write([]byte(headerB64))
	_, _ = mac.Write([]byte{'.'})
	_, _ = mac.Write([]byte(payloadB64))
	if !hmac.Equal(gotSig, mac.Sum(nil)) {
		return Identity{}, ErrInvalidCredentials
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return Identity{}, ErrInvalidCredentials
	}
	var claims jwtClaims
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return Identity{}, ErrInvalidCredentials
	}

	if claims.Exp <= 0 || v.now().Unix() >= claims.Exp {
		return Identity{}, ErrInvalidCredentials
	}
	if claims.Sub == "" {
		return Identity{}, ErrInvalidCredentials
	}

	return Identity{
		Subject:     claims.Sub,
		DisplayName: claims.Name,
	}, nil
}

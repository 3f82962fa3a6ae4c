// Package turnrest mints coturn-compatible TURN REST credentials
// (draft-uberti-behave-turn-rest) so browser peers behind restrictive NATs
// can still complete their mesh connections.
//
//	username   = <unix_expiry>:<prefix>:<member_id>
//	credential = base64(hmac_sha1(shared_secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Generator struct {
	sharedSecret   []byte
	ttl            time.Duration
	usernamePrefix string

	now      func() time.Time
	memberID func() (string, error)
}

type GeneratorConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string

	// Now and MemberIDSource are injectable for tests.
	Now            func() time.Time
	MemberIDSource func() (string, error)
}

func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("shared secret is required")
	}
	if cfg.TTLSeconds <= 0 {
		return nil, errors.New("TTLSeconds must be > 0")
	}
	if cfg.UsernamePrefix == "" || strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, errors.New("UsernamePrefix is required and must not contain ':'")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	src := cfg.MemberIDSource
	if src == nil {
		src = randomMemberID
	}
	return &Generator{
		sharedSecret:   []byte(cfg.SharedSecret),
		ttl:            time.Duration(cfg.TTLSeconds) * time.Second,
		usernamePrefix: cfg.UsernamePrefix,
		now:            now,
		memberID:       src,
	}, nil
}

type Credentials struct {
	Username   string
	Credential string
	ExpiryUnix int64
}

// Generate mints credentials scoped to memberID. An empty memberID gets a
// random scope so unauthenticated ICE bootstrap still works.
func (g *Generator) Generate(memberID string) (Credentials, error) {
	if memberID == "" {
		id, err := g.memberID()
		if err != nil {
			return Credentials{}, fmt.Errorf("generate member id: %w", err)
		}
		memberID = id
	}
	if strings.Contains(memberID, ":") {
		return Credentials{}, errors.New("member id must not contain ':'")
	}

	expiry := g.now().UTC().Add(g.ttl).Unix()
	username := fmt.Sprintf("%d:%s:%s", expiry, g.usernamePrefix, memberID)

	mac := hmac.New(sha1.New, g.sharedSecret)
	_, _ = mac.Write([]byte(username))

	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		ExpiryUnix: expiry,
	}, nil
}

func randomMemberID() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}

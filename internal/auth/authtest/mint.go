// Package authtest provides an in-process fake of the upstream auth server
// for tests: it mints HS256 tokens, serves the /users endpoints, rotates
// refresh tokens, and counts refresh calls.
package authtest

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aelexs/authclient/internal/domain"
)

// Token types carried in the "type" claim, matching the upstream server.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// TokenClaims is the claim set the upstream server issues.
type TokenClaims struct {
	jwt.RegisteredClaims
	Type string `json:"type"`
	Role string `json:"role"`
}

// Minter signs tokens with a shared HMAC secret.
type Minter struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      domain.Clock
}

// MinterConfig holds configuration for creating a Minter.
type MinterConfig struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Clock      domain.Clock
}

// NewMinter creates a Minter, filling unset fields with test defaults.
func NewMinter(cfg MinterConfig) *Minter {
	m := &Minter{
		secret:     cfg.Secret,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		clock:      cfg.Clock,
	}
	if len(m.secret) == 0 {
		m.secret = []byte("authtest-secret")
	}
	if m.accessTTL == 0 {
		m.accessTTL = 15 * time.Minute
	}
	if m.refreshTTL == 0 {
		m.refreshTTL = 24 * time.Hour
	}
	if m.clock == nil {
		m.clock = domain.RealClock{}
	}
	return m
}

// Mint signs a token of the given type for userID.
func (m *Minter) Mint(userID int64, tokenType, role string) (string, error) {
	ttl := m.accessTTL
	if tokenType == TypeRefresh {
		ttl = m.refreshTTL
	}
	now := m.clock.Now().UTC()

	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Type: tokenType,
		Role: role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

// MintPair signs an access and a refresh token for userID.
func (m *Minter) MintPair(userID int64, role string) (access, refresh string, err error) {
	access, err = m.Mint(userID, TypeAccess, role)
	if err != nil {
		return "", "", err
	}
	refresh, err = m.Mint(userID, TypeRefresh, role)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// Parse verifies token's signature and expiry and checks its type.
func (m *Minter) Parse(token, wantType string) (*TokenClaims, error) {
	var claims TokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(m.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("parse %s token: %w", wantType, err)
	}
	if claims.Type != wantType {
		return nil, fmt.Errorf("token type %q, want %q", claims.Type, wantType)
	}
	return &claims, nil
}

// UnsignedToken builds a structurally valid JWT with an arbitrary payload and
// a junk signature. Used to exercise claim parsing.
func UnsignedToken(payload map[string]any) string {
	t := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims(payload))
	s, err := t.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		panic(err)
	}
	return s + "sig"
}

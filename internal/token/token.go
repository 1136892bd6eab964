// Package token mints and verifies the single-use session tokens the
// web application hands to the broker. Tokens are HS256-signed JWTs with
// claims {sub, domain, jti, iat, exp}. Verification is pure: the
// single-use guarantee is enforced by the session manager when the
// token is redeemed, not here.
package token

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/relistly/agentbroker/internal/wire"
)

// Verified is the typed claim set of a token that passed signature and
// structural checks.
type Verified struct {
	UserID    string
	Domain    string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type claims struct {
	Domain string `json:"domain"`
	jwt.RegisteredClaims
}

// Mint signs a session token for userID bound to domain, valid for ttl.
// Returns the compact token, its jti, and its expiry.
func Mint(secret []byte, userID, domain string, ttl time.Duration) (string, string, time.Time, error) {
	now := time.Now()
	jti := uuid.NewString()
	expiresAt := now.Add(ttl)

	c := claims{
		Domain: strings.ToLower(domain),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return signed, jti, expiresAt, nil
}

// Verify checks the signature and structure of a compact token and
// returns its claims. Any failure (bad signature, expired, malformed,
// missing claims) maps to INVALID_TOKEN; the caller never learns which.
func Verify(tokenStr string, secret []byte) (*Verified, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(tokenStr, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return nil, wire.InvalidToken("token rejected")
	}

	if c.Subject == "" || c.Domain == "" || c.ID == "" || c.ExpiresAt == nil {
		return nil, wire.InvalidToken("token missing required claims")
	}

	v := &Verified{
		UserID:    c.Subject,
		Domain:    strings.ToLower(c.Domain),
		JTI:       c.ID,
		ExpiresAt: c.ExpiresAt.Time,
	}
	if c.IssuedAt != nil {
		v.IssuedAt = c.IssuedAt.Time
	}
	return v, nil
}

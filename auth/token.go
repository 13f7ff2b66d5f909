// Package auth resolves a room token via one of three strategies (public
// key, private endpoint, custom callback) and decodes it into an AuthToken,
// grounded on the golang-jwt/jwt/v5 usage in the reference pack.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrAuthentication is returned for any non-2xx, non-JSON, or malformed
// auth endpoint response, per the specified error taxonomy.
var ErrAuthentication = errors.New("auth: authentication failed")

// Token is the decoded claims of a room auth token.
type Token struct {
	Actor     int64
	UserID    *string
	Info      map[string]interface{}
	ExpiresAt time.Time
	Raw       string
}

func (t Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

type claims struct {
	Actor int64                  `json:"actor"`
	ID    *string                `json:"id,omitempty"`
	Info  map[string]interface{} `json:"info,omitempty"`
	jwt.RegisteredClaims
}

// ParseToken decodes and verifies a JWT room token against secret. It does
// not reject an expired token by itself (callers decide reuse policy via
// Token.Expired), matching the spec's "may reuse a cached token if the
// parsed token is not expired" phrasing, which implies parsing always
// succeeds for a well-formed, correctly-signed token.
func ParseToken(raw string, secret []byte) (Token, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Method.Alg())
		}
		return secret, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	tok := Token{Actor: c.Actor, UserID: c.ID, Info: c.Info, Raw: raw}
	if c.ExpiresAt != nil {
		tok.ExpiresAt = c.ExpiresAt.Time
	}
	return tok, nil
}

// ParseUnverified decodes a token's claims without checking its signature.
// A room client receives its token over a connection it already trusts
// (the auth endpoint's TLS transport) and only needs the claims — actor id,
// user id/info, expiry — not proof of authenticity, exactly as a browser
// client decodes its own JWT without holding the signing secret.
func ParseUnverified(raw string) (Token, error) {
	var c claims
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(raw, &c); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	tok := Token{Actor: c.Actor, UserID: c.ID, Info: c.Info, Raw: raw}
	if c.ExpiresAt != nil {
		tok.ExpiresAt = c.ExpiresAt.Time
	}
	return tok, nil
}

// Sign produces a token in the shape ParseToken expects; used by
// authserver and by tests that need to mint fixtures without a live
// server.
func Sign(secret []byte, actor int64, userID *string, info map[string]interface{}, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Actor: actor,
		ID:    userID,
		Info:  info,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(secret)
}

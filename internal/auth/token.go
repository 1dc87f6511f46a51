// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// SessionTokenExpiry is the validity window of a session token.
const SessionTokenExpiry = time.Hour

// ErrInvalidToken is returned by TokenIssuer.Verify for any unusable token.
var ErrInvalidToken = errors.New("invalid session token")

// TokenIssuer mints and verifies signed session tokens.
type TokenIssuer interface {
	// Issue returns a signed token for userID valid for SessionTokenExpiry.
	Issue(userID int64) (string, error)

	// Verify returns the user id of a valid token without consulting storage.
	Verify(token string) (int64, error)
}

// SessionClaims is the claim set of a session token.
type SessionClaims struct {
	UserID int64 `json:"userId"`
	jwt.RegisteredClaims
}

// JWTIssuer implements TokenIssuer with HS256 JWTs.
type JWTIssuer struct {
	key []byte
	now func() time.Time
}

// NewJWTIssuer creates a JWTIssuer signing with secret.
func NewJWTIssuer(secret []byte) (*JWTIssuer, error) {
	if len(secret) == 0 {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("signing key is required")
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &JWTIssuer{key: key, now: time.Now}, nil
}

// WithClock returns a copy of the issuer that reads time from now.
func (i *JWTIssuer) WithClock(now func() time.Time) *JWTIssuer {
	return &JWTIssuer{key: i.key, now: now}
}

// Issue returns a signed token for userID.
func (i *JWTIssuer) Issue(userID int64) (string, error) {
	now := i.now()
	claims := SessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionTokenExpiry)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").With("user_id", userID).Wrap(err)
	}
	return signed, nil
}

// Verify checks signature, algorithm and expiry and returns the user id.
func (i *JWTIssuer) Verify(token string) (int64, error) {
	if token == "" {
		return 0, oops.Code("TOKEN_INVALID").Wrap(ErrInvalidToken)
	}
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return i.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return 0, oops.Code("TOKEN_INVALID").Wrap(fmt.Errorf("%w: %w", ErrInvalidToken, err))
	}
	if !parsed.Valid {
		return 0, oops.Code("TOKEN_INVALID").Wrap(ErrInvalidToken)
	}
	return claims.UserID, nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package redisstore provides a Redis implementation of auth.OTPStore.
package redisstore

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

// DefaultKeyPrefix namespaces OTP keys.
const DefaultKeyPrefix = "authd:otp:"

// consumeScript deletes the key only if it still holds the expected code,
// so a code replaced between GET and DEL is never consumed.
var consumeScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// OTPStore keeps one code per username under a key that expires after
// auth.OTPValidity. SET replaces any earlier code.
type OTPStore struct {
	client redis.UniversalClient
	prefix string
}

// Option configures an OTPStore.
type Option func(*OTPStore)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *OTPStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewOTPStore creates an OTPStore on client.
func NewOTPStore(client redis.UniversalClient, opts ...Option) *OTPStore {
	s := &OTPStore{client: client, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *OTPStore) key(username string) string {
	return s.prefix + username
}

// Issue generates a code and stores it with the validity window as TTL.
func (s *OTPStore) Issue(ctx context.Context, username string) (string, error) {
	code, err := auth.GenerateOTP()
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, s.key(username), code, auth.OTPValidity).Err(); err != nil {
		return "", oops.Code("OTP_ISSUE_FAILED").
			With("operation", "set otp").
			With("username", username).
			Wrap(err)
	}
	return code, nil
}

// ConsumeIfValid deletes the stored code when it matches. An expired key is
// already gone, so expiry needs no separate check.
func (s *OTPStore) ConsumeIfValid(ctx context.Context, username, code string) (bool, error) {
	key := s.key(username)
	stored, err := s.client.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, oops.Code("OTP_QUERY_FAILED").
			With("operation", "get otp").
			With("username", username).
			Wrap(err)
	}
	if !auth.CompareOTP(stored, code) {
		return false, nil
	}

	deleted, err := consumeScript.Run(ctx, s.client, []string{key}, stored).Int64()
	if err != nil {
		return false, oops.Code("OTP_CONSUME_FAILED").
			With("operation", "delete otp").
			With("username", username).
			Wrap(err)
	}
	return deleted == 1, nil
}

// Pending reports whether a code is outstanding for username.
func (s *OTPStore) Pending(ctx context.Context, username string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(username)).Result()
	if err != nil {
		return false, oops.Code("OTP_QUERY_FAILED").
			With("operation", "exists otp").
			With("username", username).
			Wrap(err)
	}
	return n == 1, nil
}

var _ auth.OTPStore = (*OTPStore)(nil)

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	"strconv"
	"time"

	"github.com/samber/oops"
)

// OTP configuration.
const (
	OTPMin      = 100000
	OTPMax      = 999999
	OTPValidity = 5 * time.Minute
)

// dummyOTP is compared against when no record exists so the comparison
// cost does not depend on whether the username is known.
const dummyOTP = "000000"

// OTPRecord is an issued one-time code.
type OTPRecord struct {
	Username string
	Code     string
	IssuedAt time.Time
}

// IsExpired reports whether the record is older than OTPValidity at now.
func (r *OTPRecord) IsExpired(now time.Time) bool {
	return now.Sub(r.IssuedAt) >= OTPValidity
}

// GenerateOTP draws a code uniformly from [OTPMin, OTPMax].
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(OTPMax-OTPMin+1))
	if err != nil {
		return "", oops.Code("OTP_GENERATE_FAILED").Wrap(err)
	}
	return strconv.FormatInt(n.Int64()+OTPMin, 10), nil
}

// CompareOTP compares a stored code with a provided one in constant time.
// An empty stored code is compared against a dummy value and never matches.
func CompareOTP(stored, provided string) bool {
	if stored == "" {
		subtle.ConstantTimeCompare([]byte(dummyOTP), []byte(provided))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(provided)) == 1
}

// OTPStore records issued one-time codes keyed by username.
// Only the most recently issued code for a username is valid.
type OTPStore interface {
	// Issue generates and stores a new code, replacing any outstanding one.
	Issue(ctx context.Context, username string) (string, error)

	// ConsumeIfValid returns true and consumes the record iff code matches the
	// current unexpired record. A mismatch leaves the record in place.
	ConsumeIfValid(ctx context.Context, username, code string) (bool, error)

	// Pending reports whether an unexpired, unconsumed record exists.
	Pending(ctx context.Context, username string) (bool, error)
}

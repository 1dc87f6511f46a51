// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Reset ticket configuration.
const (
	TicketBytes         = 32               // 32 bytes = 64 hex chars
	DefaultTicketExpiry = 10 * time.Minute // window between ConfirmReset and ChangePassword
)

// ResetTicket binds a confirmed OTP to the password change that follows it.
// Only the hash of the ticket is stored.
type ResetTicket struct {
	ID        ulid.ULID
	Username  string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewResetTicket creates a ResetTicket with validated fields.
func NewResetTicket(username, tokenHash string, expiresAt time.Time) (*ResetTicket, error) {
	if username == "" {
		return nil, oops.Code("TICKET_INVALID").Errorf("username cannot be empty")
	}
	if tokenHash == "" {
		return nil, oops.Code("TICKET_INVALID").Errorf("token hash cannot be empty")
	}
	now := time.Now()
	if !expiresAt.After(now) {
		return nil, oops.Code("TICKET_INVALID").Errorf("expiry must be in the future")
	}
	return &ResetTicket{
		ID:        ulid.Make(),
		Username:  username,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}, nil
}

// IsExpired returns true if the ticket has expired.
func (t *ResetTicket) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// GenerateTicket creates a secure random ticket and its hash.
// Returns (plaintext_ticket, sha256_hash, error).
// The plaintext goes to the caller once; the hash is stored.
func GenerateTicket() (ticket, hash string, err error) {
	b := make([]byte, TicketBytes)
	if _, err = rand.Read(b); err != nil {
		return "", "", oops.Code("TICKET_GENERATE_FAILED").Wrap(err)
	}
	ticket = hex.EncodeToString(b)
	return ticket, HashTicket(ticket), nil
}

// VerifyTicket checks if the plaintext ticket matches the stored hash.
func VerifyTicket(ticket, hash string) bool {
	if ticket == "" || hash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashTicket(ticket)), []byte(hash)) == 1
}

// HashTicket computes the SHA256 hex digest of a ticket.
func HashTicket(ticket string) string {
	h := sha256.Sum256([]byte(ticket))
	return hex.EncodeToString(h[:])
}

// TicketRepository manages reset ticket persistence.
type TicketRepository interface {
	// Create stores a new ticket.
	Create(ctx context.Context, ticket *ResetTicket) error

	// Redeem atomically removes the ticket with the given hash issued for
	// username and runs apply with it. The removal only sticks when apply
	// succeeds. Returns an error wrapping ErrNotFound if no ticket matches.
	Redeem(ctx context.Context, username, tokenHash string, apply func(context.Context, *ResetTicket) error) error

	// DeleteExpired removes all expired tickets.
	DeleteExpired(ctx context.Context) (int64, error)
}

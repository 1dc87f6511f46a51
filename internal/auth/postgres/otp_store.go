// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

// OTPStore implements auth.OTPStore on the otp table. Issuing deletes the
// previous rows for the username, so at most one code is live.
type OTPStore struct {
	db  DB
	now func() time.Time
}

// NewOTPStore creates a new OTPStore.
func NewOTPStore(db DB) *OTPStore {
	return &OTPStore{db: db, now: time.Now}
}

// WithClock returns a copy of the store that reads time from now.
func (s *OTPStore) WithClock(now func() time.Time) *OTPStore {
	return &OTPStore{db: s.db, now: now}
}

// Issue generates a code and replaces any outstanding one for username.
func (s *OTPStore) Issue(ctx context.Context, username string) (string, error) {
	code, err := auth.GenerateOTP()
	if err != nil {
		return "", err
	}
	issuedAt := s.now()

	err = WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM otp WHERE username = $1`, username); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO otp (username, otp_code, issued_at)
			VALUES ($1, $2, $3)
		`, username, code, issuedAt)
		return err
	})
	if err != nil {
		return "", oops.Code("OTP_ISSUE_FAILED").
			With("operation", "replace otp").
			With("username", username).
			Wrap(err)
	}
	return code, nil
}

// ConsumeIfValid marks the current record consumed when code matches and it
// has not expired. The conditional update makes concurrent consumers race
// for a single row; only one sees RowsAffected == 1.
func (s *OTPStore) ConsumeIfValid(ctx context.Context, username, code string) (bool, error) {
	var (
		id       int64
		stored   string
		issuedAt time.Time
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, otp_code, issued_at
		FROM otp
		WHERE username = $1 AND consumed_at IS NULL
		ORDER BY issued_at DESC
		LIMIT 1
	`, username).Scan(&id, &stored, &issuedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		auth.CompareOTP("", code)
		return false, nil
	}
	if err != nil {
		return false, oops.Code("OTP_QUERY_FAILED").
			With("operation", "select otp").
			With("username", username).
			Wrap(err)
	}

	now := s.now()
	rec := auth.OTPRecord{Username: username, Code: stored, IssuedAt: issuedAt}
	if !auth.CompareOTP(stored, code) || rec.IsExpired(now) {
		return false, nil
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE otp SET consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL
	`, id, now)
	if err != nil {
		return false, oops.Code("OTP_CONSUME_FAILED").
			With("operation", "consume otp").
			With("username", username).
			Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

// Pending reports whether an unexpired, unconsumed record exists.
func (s *OTPStore) Pending(ctx context.Context, username string) (bool, error) {
	var pending bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM otp
			WHERE username = $1 AND consumed_at IS NULL AND issued_at > $2
		)
	`, username, s.now().Add(-auth.OTPValidity)).Scan(&pending)
	if err != nil {
		return false, oops.Code("OTP_QUERY_FAILED").
			With("operation", "check pending otp").
			With("username", username).
			Wrap(err)
	}
	return pending, nil
}

// DeleteStale removes consumed and expired records.
func (s *OTPStore) DeleteStale(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM otp WHERE consumed_at IS NOT NULL OR issued_at <= $1
	`, s.now().Add(-auth.OTPValidity))
	if err != nil {
		return 0, oops.Code("OTP_DELETE_STALE_FAILED").Wrap(err)
	}
	return tag.RowsAffected(), nil
}

var _ auth.OTPStore = (*OTPStore)(nil)

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

// CredentialRepository implements auth.CredentialRepository over the users
// and authentication tables.
type CredentialRepository struct {
	db DB
}

// NewCredentialRepository creates a new CredentialRepository.
func NewCredentialRepository(db DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

const selectCredential = `
	SELECT a.usr_user_id, a.username, a.email, a.mobile, a.password_hash,
	       a.first_login, a.is_logged_in, a.token, a.updated_at,
	       u.first_name, u.last_name, u.profile, u.age, u.gender
	FROM authentication a
	JOIN users u ON u.user_id = a.usr_user_id
	WHERE a.username = $1`

// FindByUsername retrieves a credential joined with its profile.
func (r *CredentialRepository) FindByUsername(ctx context.Context, username string) (*auth.Credential, error) {
	var c auth.Credential
	err := r.db.QueryRow(ctx, selectCredential, username).Scan(
		&c.UserID, &c.Username, &c.Email, &c.Mobile, &c.PasswordHash,
		&c.FirstLogin, &c.IsLoggedIn, &c.Token, &c.UpdatedAt,
		&c.Profile.FirstName, &c.Profile.LastName, &c.Profile.ProfileImage,
		&c.Profile.Age, &c.Profile.Gender,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("CREDENTIAL_NOT_FOUND").
			With("username", username).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("CREDENTIAL_QUERY_FAILED").
			With("operation", "select credential").
			With("username", username).
			Wrap(err)
	}
	c.Profile.UserID = c.UserID
	return &c, nil
}

// ExistsByUsernameOrEmail reports whether either value is already taken.
func (r *CredentialRepository) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM authentication WHERE username = $1 OR email = $2
		)
	`, username, email).Scan(&exists)
	if err != nil {
		return false, oops.Code("CREDENTIAL_QUERY_FAILED").
			With("operation", "check existence").
			With("username", username).
			Wrap(err)
	}
	return exists, nil
}

// CreateUserAndCredential inserts the profile and credential in one transaction.
// A unique violation on either table maps to auth.ErrConflict.
func (r *CredentialRepository) CreateUserAndCredential(ctx context.Context, profile auth.Profile, fields auth.CredentialFields) (int64, error) {
	var userID int64
	err := WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO users (first_name, last_name, profile, age, gender)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING user_id
		`, profile.FirstName, profile.LastName, profile.ProfileImage, profile.Age, profile.Gender).Scan(&userID); err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO authentication (usr_user_id, username, email, mobile, password_hash, first_login, is_logged_in)
			VALUES ($1, $2, $3, $4, $5, TRUE, FALSE)
		`, userID, fields.Username, fields.Email, fields.Mobile, fields.PasswordHash); err != nil {
			return fmt.Errorf("insert credential: %w", err)
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return 0, oops.Code("CREDENTIAL_CONFLICT").
				With("username", fields.Username).
				Wrap(fmt.Errorf("%w: %w", auth.ErrConflict, err))
		}
		return 0, oops.Code("CREDENTIAL_CREATE_FAILED").
			With("operation", "create user and credential").
			With("username", fields.Username).
			Wrap(err)
	}
	return userID, nil
}

// UpdatePassword stores a new hash, clears first_login and sets is_logged_in.
func (r *CredentialRepository) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	tag, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE authentication
		SET password_hash = $2, first_login = FALSE, is_logged_in = TRUE, updated_at = NOW()
		WHERE usr_user_id = $1
	`, userID, passwordHash)
	if err != nil {
		return oops.Code("CREDENTIAL_UPDATE_FAILED").
			With("operation", "update password").
			With("user_id", userID).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("CREDENTIAL_NOT_FOUND").With("user_id", userID).Wrap(auth.ErrNotFound)
	}
	return nil
}

// RehashPassword replaces the stored hash and leaves the state flags alone.
func (r *CredentialRepository) RehashPassword(ctx context.Context, userID int64, passwordHash string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE authentication
		SET password_hash = $2, updated_at = NOW()
		WHERE usr_user_id = $1
	`, userID, passwordHash)
	if err != nil {
		return oops.Code("CREDENTIAL_UPDATE_FAILED").
			With("operation", "rehash password").
			With("user_id", userID).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("CREDENTIAL_NOT_FOUND").With("user_id", userID).Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdateToken overwrites the stored session token and sets is_logged_in.
func (r *CredentialRepository) UpdateToken(ctx context.Context, userID int64, token string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE authentication
		SET token = $2, is_logged_in = TRUE, updated_at = NOW()
		WHERE usr_user_id = $1
	`, userID, token)
	if err != nil {
		return oops.Code("CREDENTIAL_UPDATE_FAILED").
			With("operation", "update token").
			With("user_id", userID).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("CREDENTIAL_NOT_FOUND").With("user_id", userID).Wrap(auth.ErrNotFound)
	}
	return nil
}

var _ auth.CredentialRepository = (*CredentialRepository)(nil)

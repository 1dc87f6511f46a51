// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
)

// Generated password constraints.
const (
	GeneratedPasswordLength = 8
	generatedAlphabet       = "0123456789abcdefghijklmnopqrstuvwxyz"
)

var (
	emailRegex  = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	mobileRegex = regexp.MustCompile(`^[0-9]{10}$`)
)

// validate is shared; validator caches struct metadata and is safe for concurrent use.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("emailshape", func(fl validator.FieldLevel) bool { //nolint:errcheck // static tag
		return emailRegex.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("mobile10", func(fl validator.FieldLevel) bool { //nolint:errcheck // static tag
		return mobileRegex.MatchString(fl.Field().String())
	})
	return v
}

// Profile is the identity record owned by storage.
type Profile struct {
	UserID       int64
	FirstName    string
	LastName     string
	ProfileImage string
	Age          int
	Gender       string
}

// DisplayName returns "First Last".
func (p Profile) DisplayName() string {
	return p.FirstName + " " + p.LastName
}

// Credential is the authentication record of one user.
type Credential struct {
	UserID       int64
	Username     string
	Email        string
	Mobile       string
	PasswordHash string
	FirstLogin   bool
	IsLoggedIn   bool
	Token        *string
	Profile      Profile
	UpdatedAt    time.Time
}

// CurrentToken returns the stored session token, or "" when none was issued.
func (c *Credential) CurrentToken() string {
	if c.Token == nil {
		return ""
	}
	return *c.Token
}

// CredentialFields are the credential columns written at registration.
type CredentialFields struct {
	Username     string
	Email        string
	Mobile       string
	PasswordHash string
}

// Registration is the input of Service.Register.
type Registration struct {
	Username     string `validate:"required"`
	Email        string `validate:"required,emailshape"`
	Mobile       string `validate:"required,mobile10"`
	FirstName    string `validate:"required"`
	LastName     string `validate:"required"`
	Age          int    `validate:"required"`
	Gender       string `validate:"required"`
	ProfileImage string `validate:"required"`
}

// Profile returns the identity part of the registration.
func (r Registration) Profile() Profile {
	return Profile{
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		ProfileImage: r.ProfileImage,
		Age:          r.Age,
		Gender:       r.Gender,
	}
}

// Validate checks presence first, then email shape, then mobile shape.
// The first failing rule decides the message.
func (r Registration) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return oops.Code("AUTH_VALIDATION").Wrap(err)
	}

	var badEmail, badMobile bool
	for _, fe := range verrs {
		switch {
		case fe.Tag() == "required":
			return validationError(MsgAllFieldsRequired)
		case fe.Field() == "Email":
			badEmail = true
		case fe.Field() == "Mobile":
			badMobile = true
		}
	}
	if badEmail {
		return validationError(MsgInvalidEmail)
	}
	if badMobile {
		return validationError(MsgInvalidMobile)
	}
	return validationError(MsgAllFieldsRequired)
}

// GeneratePassword returns a random password of GeneratedPasswordLength characters
// drawn uniformly from [0-9a-z].
func GeneratePassword() (string, error) {
	limit := big.NewInt(int64(len(generatedAlphabet)))
	buf := make([]byte, GeneratedPasswordLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", oops.Code("AUTH_PASSWORD_GENERATE_FAILED").Wrap(err)
		}
		buf[i] = generatedAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// CredentialRepository manages credential persistence.
type CredentialRepository interface {
	// FindByUsername retrieves a credential joined with its profile.
	// Returns an error wrapping ErrNotFound when the username is unknown.
	FindByUsername(ctx context.Context, username string) (*Credential, error)

	// ExistsByUsernameOrEmail reports whether either value is already taken.
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)

	// CreateUserAndCredential stores the profile and credential atomically and
	// returns the new user id. Returns an error wrapping ErrConflict on a
	// uniqueness violation.
	CreateUserAndCredential(ctx context.Context, profile Profile, fields CredentialFields) (int64, error)

	// UpdatePassword stores a new hash, clears first_login and sets is_logged_in.
	UpdatePassword(ctx context.Context, userID int64, passwordHash string) error

	// RehashPassword replaces the stored hash without touching the state flags.
	RehashPassword(ctx context.Context, userID int64, passwordHash string) error

	// UpdateToken overwrites the stored session token and sets is_logged_in.
	UpdateToken(ctx context.Context, userID int64, token string) error
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// Sentinel errors, one per failure kind. Service errors wrap exactly one of these.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	ErrValidation         = errors.New("validation failed")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrConflict           = errors.New("username or email already exists")
	ErrUnauthorized       = errors.New("not authorized")
	ErrStorage            = errors.New("storage failure")
	ErrNotification       = errors.New("notification failure")
)

// Kind classifies an error returned by Service.
type Kind string

// Error kinds.
const (
	KindValidation         Kind = "validation"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindConflict           Kind = "conflict"
	KindNotFound           Kind = "not_found"
	KindUnauthorized       Kind = "unauthorized"
	KindStorage            Kind = "storage"
	KindNotification       Kind = "notification"
	KindInternal           Kind = "internal"
)

// KindOf reports the kind of err. Errors that wrap none of the sentinels are KindInternal.
// A nil error has no kind and returns "".
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrInvalidCredentials):
		return KindInvalidCredentials
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrNotification):
		return KindNotification
	case errors.Is(err, ErrStorage):
		return KindStorage
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}

// Messages shown to callers.
const (
	MsgCredentialsRequired = "Username and password are required"
	MsgAllFieldsRequired   = "All fields are required"
	MsgInvalidEmail        = "Invalid email format"
	MsgInvalidMobile       = "Invalid mobile format"
	MsgPasswordMismatch    = "Password and confirm password do not match"
	MsgPasswordTooLong     = "Password is too long"
	MsgUsernameRequired    = "Username is required"
	MsgOTPRequired         = "Username and OTP are required"
	MsgProofRequired       = "Reset ticket or session token is required"
	MsgInvalidCredentials  = "Invalid username or password"
	MsgConflict            = "Username or email already exists"
	MsgUserNotFound        = "User not found"
	MsgNotAuthorized       = "Password change is not authorized"
	MsgNotificationFailed  = "OTP generated but could not be sent"
)

// public pairs a caller-facing message with its kind sentinel.
func public(kind error, msg string) error {
	return publicError{msg: msg, kind: kind}
}

// validationError builds an AUTH_VALIDATION error carrying msg as its public message.
func validationError(msg string) error {
	return oops.Code("AUTH_VALIDATION").Wrap(public(ErrValidation, msg))
}

// storageError wraps an infrastructure fault. The cause is kept for logs only.
func storageError(operation string, err error) error {
	return oops.Code("AUTH_STORAGE_FAILED").
		With("operation", operation).
		Wrap(fmt.Errorf("%w: %w", ErrStorage, err))
}

// publicError carries a message that is safe to show to callers.
type publicError struct {
	msg  string
	kind error
}

func (e publicError) Error() string { return e.msg }
func (e publicError) Unwrap() error { return e.kind }

// PublicMessage returns the caller-facing message of err, or "" when err carries none.
func PublicMessage(err error) string {
	var pe publicError
	if errors.As(err, &pe) {
		return pe.msg
	}
	return ""
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth implements the credential lifecycle: login, registration,
// password change and OTP-gated recovery.
//
// # Collaborators
//
// Service depends only on interfaces:
//   - CredentialRepository - users and their credentials
//   - OTPStore - one-time codes, last issued code only
//   - TicketRepository - single-use reset tickets
//   - PasswordHasher - bcrypt digests (BcryptHasher)
//   - TokenIssuer - signed session tokens (JWTIssuer)
//   - Notifier - outbound delivery of rendered notifications
//
// # States
//
// A credential is Provisioned after registration, Active after its first
// password change, and RecoveryPending while an OTP is outstanding. States
// are derived by DeriveState and never stored.
//
// # Errors
//
// Every error returned by Service wraps one sentinel (ErrValidation,
// ErrInvalidCredentials, ErrConflict, ErrNotFound, ErrUnauthorized,
// ErrStorage, ErrNotification). Use KindOf to classify and PublicMessage
// to obtain the caller-facing text.
package auth

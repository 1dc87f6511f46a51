// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/oops"
)

// DefaultNotifyTimeout bounds the notification hand-off.
const DefaultNotifyTimeout = 5 * time.Second

// dummyPasswordHash is verified against when a user doesn't exist so that
// response time does not reveal whether the username is known.
// It is not a credential and matches no password accepted by Login.
//
//nolint:gosec // G101: intentionally fake hash for timing attack prevention.
const dummyPasswordHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Config holds immutable service settings established at startup.
type Config struct {
	NotifyTimeout time.Duration
	TicketExpiry  time.Duration
	Brand         string
	ResetSubject  string
}

func (c Config) withDefaults() Config {
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = DefaultNotifyTimeout
	}
	if c.TicketExpiry <= 0 {
		c.TicketExpiry = DefaultTicketExpiry
	}
	if c.Brand == "" {
		c.Brand = DefaultBrand
	}
	if c.ResetSubject == "" {
		c.ResetSubject = DefaultResetSubject
	}
	return c
}

// Deps are the collaborators of Service.
type Deps struct {
	Credentials CredentialRepository
	OTPs        OTPStore
	Tickets     TicketRepository
	Hasher      PasswordHasher
	Tokens      TokenIssuer
	Notifier    Notifier
}

func (d Deps) validate() error {
	switch {
	case d.Credentials == nil:
		return oops.Code("AUTH_CONFIG_INVALID").Errorf("credential repository is required")
	case d.OTPs == nil:
		return oops.Code("AUTH_CONFIG_INVALID").Errorf("otp store is required")
	case d.Tickets == nil:
		return oops.Code("AUTH_CONFIG_INVALID").Errorf("ticket repository is required")
	case d.Hasher == nil:
		return oops.Code("AUTH_CONFIG_INVALID").Errorf("password hasher is required")
	case d.Tokens == nil:
		return oops.Code("AUTH_CONFIG_INVALID").Errorf("token issuer is required")
	case d.Notifier == nil:
		return oops.Code("AUTH_CONFIG_INVALID").Errorf("notifier is required")
	}
	return nil
}

// Service is the credential lifecycle orchestrator. It holds no state
// between calls and is safe for concurrent use.
type Service struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for operational events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a Service after validating its dependencies.
func NewService(deps Deps, cfg Config, opts ...Option) (*Service, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	s := &Service{
		deps:   deps,
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	UserID     int64
	Token      string
	FirstLogin bool
	Username   string
	FirstName  string
	LastName   string
}

// Login authenticates a username/password pair and issues a session token.
// Unknown users and wrong passwords fail identically.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if username == "" || password == "" {
		return nil, validationError(MsgCredentialsRequired)
	}
	if err := ctx.Err(); err != nil {
		return nil, canceled("login", err)
	}

	cred, lookupErr := s.deps.Credentials.FindByUsername(ctx, username)

	targetHash := dummyPasswordHash
	exists := false
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, storageError("find credential", lookupErr)
		}
	} else {
		targetHash = cred.PasswordHash
		exists = true
	}

	// Always verify so both failure paths cost the same.
	valid, verifyErr := s.deps.Hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if !exists {
			return nil, invalidCredentials(username)
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("username", username).
			Wrap(verifyErr)
	}
	if !exists || !valid {
		return nil, invalidCredentials(username)
	}

	if err := ctx.Err(); err != nil {
		return nil, canceled("login", err)
	}

	token, err := s.deps.Tokens.Issue(cred.UserID)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "issue token").
			With("username", username).
			Wrap(err)
	}
	if err := s.deps.Credentials.UpdateToken(ctx, cred.UserID, token); err != nil {
		return nil, storageError("update token", err)
	}

	s.rehashIfNeeded(ctx, cred, password)

	s.logger.InfoContext(ctx, "login succeeded", "username", username, "user_id", cred.UserID)

	return &LoginResult{
		UserID:     cred.UserID,
		Token:      token,
		FirstLogin: cred.FirstLogin,
		Username:   cred.Username,
		FirstName:  cred.Profile.FirstName,
		LastName:   cred.Profile.LastName,
	}, nil
}

// rehashIfNeeded upgrades a digest produced with an outdated cost. Failures
// are logged and never fail the login.
func (s *Service) rehashIfNeeded(ctx context.Context, cred *Credential, password string) {
	if !s.deps.Hasher.NeedsUpgrade(cred.PasswordHash) {
		return
	}
	hash, err := s.deps.Hasher.Hash(password)
	if err == nil {
		err = s.deps.Credentials.RehashPassword(ctx, cred.UserID, hash)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "password rehash failed",
			"username", cred.Username,
			"error", err,
		)
		return
	}
	s.logger.DebugContext(ctx, "password rehashed", "username", cred.Username)
}

// RegisterResult carries the generated password. It is the only time the
// plaintext is available.
type RegisterResult struct {
	UserID   int64
	Password string
}

// Register provisions a user with a system-generated password.
func (s *Service) Register(ctx context.Context, reg Registration) (*RegisterResult, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, canceled("register", err)
	}

	taken, err := s.deps.Credentials.ExistsByUsernameOrEmail(ctx, reg.Username, reg.Email)
	if err != nil {
		return nil, storageError("check uniqueness", err)
	}
	if taken {
		return nil, conflict(reg.Username)
	}

	password, err := GeneratePassword()
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "generate password").Wrap(err)
	}
	hash, err := s.deps.Hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "hash password").Wrap(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, canceled("register", err)
	}

	userID, err := s.deps.Credentials.CreateUserAndCredential(ctx, reg.Profile(), CredentialFields{
		Username:     reg.Username,
		Email:        reg.Email,
		Mobile:       reg.Mobile,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, conflict(reg.Username)
		}
		return nil, storageError("create credential", err)
	}

	s.logger.InfoContext(ctx, "credential provisioned", "username", reg.Username, "user_id", userID)

	return &RegisterResult{UserID: userID, Password: password}, nil
}

// ChangePasswordRequest is the input of ChangePassword. Exactly one proof is
// needed: a reset Ticket from ConfirmReset or the caller's current SessionToken.
type ChangePasswordRequest struct {
	Username        string
	Password        string
	ConfirmPassword string
	Ticket          string
	SessionToken    string
}

// ChangePassword replaces the password of an existing credential. A ticket
// is only consumed when the new password is stored.
func (s *Service) ChangePassword(ctx context.Context, req ChangePasswordRequest) error {
	if req.Username == "" || req.Password == "" || req.ConfirmPassword == "" {
		return validationError(MsgAllFieldsRequired)
	}
	if req.Password != req.ConfirmPassword {
		return validationError(MsgPasswordMismatch)
	}
	if len(req.Password) > MaxPasswordBytes {
		return validationError(MsgPasswordTooLong)
	}
	if req.Ticket == "" && req.SessionToken == "" {
		return validationError(MsgProofRequired)
	}
	if err := ctx.Err(); err != nil {
		return canceled("change password", err)
	}

	cred, err := s.deps.Credentials.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return notFound(req.Username)
		}
		return storageError("find credential", err)
	}

	if req.Ticket != "" {
		err = s.changeWithTicket(ctx, cred, req)
	} else {
		err = s.changeWithSession(ctx, cred, req)
	}
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "password changed", "username", req.Username, "user_id", cred.UserID)
	return nil
}

// changeWithTicket hashes first so a rejected password never burns the
// ticket, then redeems the ticket and stores the hash in one step.
func (s *Service) changeWithTicket(ctx context.Context, cred *Credential, req ChangePasswordRequest) error {
	hash, err := s.hashNewPassword(req.Password)
	if err != nil {
		return err
	}

	var applyErr error
	err = s.deps.Tickets.Redeem(ctx, cred.Username, HashTicket(req.Ticket), func(ctx context.Context, ticket *ResetTicket) error {
		if ticket.IsExpired() {
			applyErr = unauthorized(cred.Username, "ticket expired")
		} else {
			applyErr = s.storePassword(ctx, cred, hash)
		}
		return applyErr
	})
	switch {
	case applyErr != nil:
		return applyErr
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return unauthorized(cred.Username, "ticket unknown or used")
	default:
		return storageError("redeem ticket", err)
	}
}

// changeWithSession requires the caller's current session token.
func (s *Service) changeWithSession(ctx context.Context, cred *Credential, req ChangePasswordRequest) error {
	userID, err := s.deps.Tokens.Verify(req.SessionToken)
	if err != nil {
		return unauthorized(cred.Username, "session token invalid")
	}
	if userID != cred.UserID {
		return unauthorized(cred.Username, "session token belongs to another user")
	}
	if subtle.ConstantTimeCompare([]byte(req.SessionToken), []byte(cred.CurrentToken())) != 1 {
		return unauthorized(cred.Username, "session token superseded")
	}

	hash, err := s.hashNewPassword(req.Password)
	if err != nil {
		return err
	}
	return s.storePassword(ctx, cred, hash)
}

func (s *Service) hashNewPassword(password string) (string, error) {
	hash, err := s.deps.Hasher.Hash(password)
	if err != nil {
		if errors.Is(err, ErrPasswordTooLong) {
			return "", validationError(MsgPasswordTooLong)
		}
		return "", oops.Code("AUTH_CHANGE_PASSWORD_FAILED").With("operation", "hash password").Wrap(err)
	}
	return hash, nil
}

func (s *Service) storePassword(ctx context.Context, cred *Credential, hash string) error {
	if err := ctx.Err(); err != nil {
		return canceled("change password", err)
	}
	if err := s.deps.Credentials.UpdatePassword(ctx, cred.UserID, hash); err != nil {
		if errors.Is(err, ErrNotFound) {
			return notFound(cred.Username)
		}
		return storageError("update password", err)
	}
	return nil
}

// ResetRequestResult reports OTP issuance and notification delivery separately.
type ResetRequestResult struct {
	OTPIssued bool
	Notified  bool
}

// RequestPasswordReset issues an OTP and hands a notification to the Notifier.
// When delivery fails the OTP stays issued: the result is returned together
// with an error of kind KindNotification.
func (s *Service) RequestPasswordReset(ctx context.Context, username string) (*ResetRequestResult, error) {
	if username == "" {
		return nil, validationError(MsgUsernameRequired)
	}
	if err := ctx.Err(); err != nil {
		return nil, canceled("request reset", err)
	}

	cred, err := s.deps.Credentials.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFound(username)
		}
		return nil, storageError("find credential", err)
	}

	code, err := s.deps.OTPs.Issue(ctx, username)
	if err != nil {
		return nil, storageError("issue otp", err)
	}
	result := &ResetRequestResult{OTPIssued: true}

	note, err := RenderResetNotification(cred, code, s.cfg.Brand, s.cfg.ResetSubject)
	if err != nil {
		return result, notificationFailed(username, err)
	}

	notifyCtx, cancel := context.WithTimeout(ctx, s.cfg.NotifyTimeout)
	defer cancel()
	if err := s.deps.Notifier.Notify(notifyCtx, note); err != nil {
		s.logger.WarnContext(ctx, "reset notification not delivered",
			"username", username,
			"error", err,
		)
		return result, notificationFailed(username, err)
	}
	result.Notified = true

	s.logger.InfoContext(ctx, "password reset requested", "username", username)
	return result, nil
}

// ConfirmResult is returned by ConfirmReset. Ticket is set only when Valid.
type ConfirmResult struct {
	Valid     bool
	Ticket    string
	ExpiresAt time.Time
}

// ConfirmReset consumes the OTP for username. A valid code yields a
// single-use ticket that authorizes one ChangePassword call.
func (s *Service) ConfirmReset(ctx context.Context, username, code string) (*ConfirmResult, error) {
	if username == "" || code == "" {
		return nil, validationError(MsgOTPRequired)
	}
	if err := ctx.Err(); err != nil {
		return nil, canceled("confirm reset", err)
	}

	valid, err := s.deps.OTPs.ConsumeIfValid(ctx, username, code)
	if err != nil {
		return nil, storageError("consume otp", err)
	}
	if !valid {
		return &ConfirmResult{Valid: false}, nil
	}

	plain, hash, err := GenerateTicket()
	if err != nil {
		return nil, oops.Code("AUTH_CONFIRM_FAILED").With("operation", "generate ticket").Wrap(err)
	}
	ticket, err := NewResetTicket(username, hash, time.Now().Add(s.cfg.TicketExpiry))
	if err != nil {
		return nil, oops.Code("AUTH_CONFIRM_FAILED").With("operation", "new ticket").Wrap(err)
	}
	if err := s.deps.Tickets.Create(ctx, ticket); err != nil {
		return nil, storageError("create ticket", err)
	}

	return &ConfirmResult{Valid: true, Ticket: plain, ExpiresAt: ticket.ExpiresAt}, nil
}

// State returns the derived lifecycle state of a credential.
func (s *Service) State(ctx context.Context, username string) (State, error) {
	if username == "" {
		return "", validationError(MsgUsernameRequired)
	}
	cred, err := s.deps.Credentials.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", notFound(username)
		}
		return "", storageError("find credential", err)
	}
	pending, err := s.deps.OTPs.Pending(ctx, username)
	if err != nil {
		return "", storageError("check otp", err)
	}
	return DeriveState(cred, pending), nil
}

func invalidCredentials(username string) error {
	return oops.Code("AUTH_INVALID_CREDENTIALS").
		With("username", username).
		Wrap(public(ErrInvalidCredentials, MsgInvalidCredentials))
}

func conflict(username string) error {
	return oops.Code("AUTH_CONFLICT").
		With("username", username).
		Wrap(public(ErrConflict, MsgConflict))
}

func notFound(username string) error {
	return oops.Code("AUTH_NOT_FOUND").
		With("username", username).
		Wrap(public(ErrNotFound, MsgUserNotFound))
}

func unauthorized(username, reason string) error {
	return oops.Code("AUTH_UNAUTHORIZED").
		With("username", username).
		With("reason", reason).
		Wrap(public(ErrUnauthorized, MsgNotAuthorized))
}

func notificationFailed(username string, err error) error {
	return oops.Code("AUTH_NOTIFICATION_FAILED").
		With("username", username).
		Wrap(fmt.Errorf("%w: %w", public(ErrNotification, MsgNotificationFailed), err))
}

func canceled(operation string, err error) error {
	return oops.Code("AUTH_CANCELED").With("operation", operation).Wrap(err)
}

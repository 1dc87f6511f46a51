// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mocks provides testify mocks for the auth interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/holomush/authd/internal/auth"
)

// TestingT is the subset of testing.TB the mocks need.
type TestingT interface {
	mock.TestingT
	Cleanup(func())
}

func register(m *mock.Mock, t TestingT) {
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
}

// MockCredentialRepository mocks auth.CredentialRepository.
type MockCredentialRepository struct {
	mock.Mock
}

// NewMockCredentialRepository creates a mock that asserts its expectations on cleanup.
func NewMockCredentialRepository(t TestingT) *MockCredentialRepository {
	m := &MockCredentialRepository{}
	register(&m.Mock, t)
	return m
}

// FindByUsername implements auth.CredentialRepository.
func (m *MockCredentialRepository) FindByUsername(ctx context.Context, username string) (*auth.Credential, error) {
	args := m.Called(ctx, username)
	var cred *auth.Credential
	if v := args.Get(0); v != nil {
		cred = v.(*auth.Credential)
	}
	return cred, args.Error(1)
}

// ExistsByUsernameOrEmail implements auth.CredentialRepository.
func (m *MockCredentialRepository) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	args := m.Called(ctx, username, email)
	return args.Bool(0), args.Error(1)
}

// CreateUserAndCredential implements auth.CredentialRepository.
func (m *MockCredentialRepository) CreateUserAndCredential(ctx context.Context, profile auth.Profile, fields auth.CredentialFields) (int64, error) {
	args := m.Called(ctx, profile, fields)
	return args.Get(0).(int64), args.Error(1)
}

// UpdatePassword implements auth.CredentialRepository.
func (m *MockCredentialRepository) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	return m.Called(ctx, userID, passwordHash).Error(0)
}

// RehashPassword implements auth.CredentialRepository.
func (m *MockCredentialRepository) RehashPassword(ctx context.Context, userID int64, passwordHash string) error {
	return m.Called(ctx, userID, passwordHash).Error(0)
}

// UpdateToken implements auth.CredentialRepository.
func (m *MockCredentialRepository) UpdateToken(ctx context.Context, userID int64, token string) error {
	return m.Called(ctx, userID, token).Error(0)
}

// MockOTPStore mocks auth.OTPStore.
type MockOTPStore struct {
	mock.Mock
}

// NewMockOTPStore creates a mock that asserts its expectations on cleanup.
func NewMockOTPStore(t TestingT) *MockOTPStore {
	m := &MockOTPStore{}
	register(&m.Mock, t)
	return m
}

// Issue implements auth.OTPStore.
func (m *MockOTPStore) Issue(ctx context.Context, username string) (string, error) {
	args := m.Called(ctx, username)
	return args.String(0), args.Error(1)
}

// ConsumeIfValid implements auth.OTPStore.
func (m *MockOTPStore) ConsumeIfValid(ctx context.Context, username, code string) (bool, error) {
	args := m.Called(ctx, username, code)
	return args.Bool(0), args.Error(1)
}

// Pending implements auth.OTPStore.
func (m *MockOTPStore) Pending(ctx context.Context, username string) (bool, error) {
	args := m.Called(ctx, username)
	return args.Bool(0), args.Error(1)
}

// MockTicketRepository mocks auth.TicketRepository.
type MockTicketRepository struct {
	mock.Mock
}

// NewMockTicketRepository creates a mock that asserts its expectations on cleanup.
func NewMockTicketRepository(t TestingT) *MockTicketRepository {
	m := &MockTicketRepository{}
	register(&m.Mock, t)
	return m
}

// Create implements auth.TicketRepository.
func (m *MockTicketRepository) Create(ctx context.Context, ticket *auth.ResetTicket) error {
	return m.Called(ctx, ticket).Error(0)
}

// Redeem implements auth.TicketRepository. It returns the configured error,
// or runs apply with the configured ticket.
func (m *MockTicketRepository) Redeem(ctx context.Context, username, tokenHash string, apply func(context.Context, *auth.ResetTicket) error) error {
	args := m.Called(ctx, username, tokenHash)
	if err := args.Error(1); err != nil {
		return err
	}
	ticket, _ := args.Get(0).(*auth.ResetTicket)
	return apply(ctx, ticket)
}

// DeleteExpired implements auth.TicketRepository.
func (m *MockTicketRepository) DeleteExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// MockPasswordHasher mocks auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a mock that asserts its expectations on cleanup.
func NewMockPasswordHasher(t TestingT) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	register(&m.Mock, t)
	return m
}

// Hash implements auth.PasswordHasher.
func (m *MockPasswordHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

// Verify implements auth.PasswordHasher.
func (m *MockPasswordHasher) Verify(password, digest string) (bool, error) {
	args := m.Called(password, digest)
	return args.Bool(0), args.Error(1)
}

// NeedsUpgrade implements auth.PasswordHasher.
func (m *MockPasswordHasher) NeedsUpgrade(digest string) bool {
	return m.Called(digest).Bool(0)
}

// MockTokenIssuer mocks auth.TokenIssuer.
type MockTokenIssuer struct {
	mock.Mock
}

// NewMockTokenIssuer creates a mock that asserts its expectations on cleanup.
func NewMockTokenIssuer(t TestingT) *MockTokenIssuer {
	m := &MockTokenIssuer{}
	register(&m.Mock, t)
	return m
}

// Issue implements auth.TokenIssuer.
func (m *MockTokenIssuer) Issue(userID int64) (string, error) {
	args := m.Called(userID)
	return args.String(0), args.Error(1)
}

// Verify implements auth.TokenIssuer.
func (m *MockTokenIssuer) Verify(token string) (int64, error) {
	args := m.Called(token)
	return args.Get(0).(int64), args.Error(1)
}

// MockNotifier mocks auth.Notifier.
type MockNotifier struct {
	mock.Mock
}

// NewMockNotifier creates a mock that asserts its expectations on cleanup.
func NewMockNotifier(t TestingT) *MockNotifier {
	m := &MockNotifier{}
	register(&m.Mock, t)
	return m
}

// Notify implements auth.Notifier.
func (m *MockNotifier) Notify(ctx context.Context, n auth.Notification) error {
	return m.Called(ctx, n).Error(0)
}

var (
	_ auth.CredentialRepository = (*MockCredentialRepository)(nil)
	_ auth.OTPStore             = (*MockOTPStore)(nil)
	_ auth.TicketRepository     = (*MockTicketRepository)(nil)
	_ auth.PasswordHasher       = (*MockPasswordHasher)(nil)
	_ auth.TokenIssuer          = (*MockTokenIssuer)(nil)
	_ auth.Notifier             = (*MockNotifier)(nil)
)

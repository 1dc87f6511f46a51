// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/auth/redisstore"
)

// memCredentials is an in-memory CredentialRepository.
type memCredentials struct {
	mu     sync.Mutex
	nextID int64
	byName map[string]*auth.Credential

	// passwordFaults makes the next N UpdatePassword calls fail.
	passwordFaults int
}

func newMemCredentials() *memCredentials {
	return &memCredentials{byName: make(map[string]*auth.Credential)}
}

func (m *memCredentials) FindByUsername(_ context.Context, username string) (*auth.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byName[username]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCredentials) ExistsByUsernameOrEmail(_ context.Context, username, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.byName {
		if c.Username == username || c.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *memCredentials) CreateUserAndCredential(_ context.Context, p auth.Profile, f auth.CredentialFields) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[f.Username]; ok {
		return 0, auth.ErrConflict
	}
	m.nextID++
	p.UserID = m.nextID
	m.byName[f.Username] = &auth.Credential{
		UserID: m.nextID, Username: f.Username, Email: f.Email, Mobile: f.Mobile,
		PasswordHash: f.PasswordHash, FirstLogin: true, Profile: p,
	}
	return m.nextID, nil
}

func (m *memCredentials) update(userID int64, fn func(*auth.Credential)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.byName {
		if c.UserID == userID {
			fn(c)
			return nil
		}
	}
	return auth.ErrNotFound
}

func (m *memCredentials) UpdatePassword(_ context.Context, userID int64, hash string) error {
	m.mu.Lock()
	if m.passwordFaults > 0 {
		m.passwordFaults--
		m.mu.Unlock()
		return errors.New("connection reset")
	}
	m.mu.Unlock()
	return m.update(userID, func(c *auth.Credential) {
		c.PasswordHash = hash
		c.FirstLogin = false
		c.IsLoggedIn = true
	})
}

func (m *memCredentials) RehashPassword(_ context.Context, userID int64, hash string) error {
	return m.update(userID, func(c *auth.Credential) { c.PasswordHash = hash })
}

func (m *memCredentials) UpdateToken(_ context.Context, userID int64, token string) error {
	return m.update(userID, func(c *auth.Credential) {
		c.Token = &token
		c.IsLoggedIn = true
	})
}

// memTickets is an in-memory TicketRepository.
type memTickets struct {
	mu     sync.Mutex
	byHash map[string]*auth.ResetTicket
}

func (m *memTickets) Create(_ context.Context, t *auth.ResetTicket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byHash[t.TokenHash] = t
	return nil
}

// Redeem restores the ticket when apply fails, like a rolled back transaction.
func (m *memTickets) Redeem(ctx context.Context, username, hash string, apply func(context.Context, *auth.ResetTicket) error) error {
	m.mu.Lock()
	t, ok := m.byHash[hash]
	if !ok || t.Username != username {
		m.mu.Unlock()
		return auth.ErrNotFound
	}
	delete(m.byHash, hash)
	m.mu.Unlock()

	if err := apply(ctx, t); err != nil {
		m.mu.Lock()
		m.byHash[hash] = t
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memTickets) DeleteExpired(context.Context) (int64, error) { return 0, nil }

type scenario struct {
	svc    *auth.Service
	tokens *auth.JWTIssuer
	creds  *memCredentials
	mr     *miniredis.Miniredis
	outbox chan auth.Notification
}

func newScenario(t *testing.T) *scenario {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tokens, err := auth.NewJWTIssuer([]byte("scenario-signing-key"))
	require.NoError(t, err)

	s := &scenario{
		tokens: tokens,
		creds:  newMemCredentials(),
		mr:     mr,
		outbox: make(chan auth.Notification, 4),
	}
	s.svc, err = auth.NewService(auth.Deps{
		Credentials: s.creds,
		OTPs:        redisstore.NewOTPStore(client),
		Tickets:     &memTickets{byHash: make(map[string]*auth.ResetTicket)},
		Hasher:      auth.NewBcryptHasher(bcrypt.MinCost),
		Tokens:      tokens,
		Notifier: auth.NotifierFunc(func(_ context.Context, n auth.Notification) error {
			s.outbox <- n
			return nil
		}),
	}, auth.Config{})
	require.NoError(t, err)
	return s
}

var otpInBody = regexp.MustCompile(`>(\d{6})</h2>`)

// deliveredCode extracts the code from the last notification.
func (s *scenario) deliveredCode(t *testing.T) string {
	t.Helper()
	select {
	case n := <-s.outbox:
		m := otpInBody.FindStringSubmatch(n.HTMLBody)
		require.Len(t, m, 2, "notification must carry the code")
		return m[1]
	default:
		t.Fatal("no notification delivered")
		return ""
	}
}

func TestScenario_RegisterLoginChangePassword(t *testing.T) {
	ctx := context.Background()
	s := newScenario(t)

	reg, err := s.svc.Register(ctx, validRegistration())
	require.NoError(t, err)
	require.Len(t, reg.Password, 8)

	state, err := s.svc.State(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, auth.StateProvisioned, state)

	login, err := s.svc.Login(ctx, "alice", reg.Password)
	require.NoError(t, err)
	assert.True(t, login.FirstLogin)
	uid, err := s.tokens.Verify(login.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.UserID, uid)

	require.NoError(t, s.svc.ChangePassword(ctx, auth.ChangePasswordRequest{
		Username: "alice", Password: "newpass1", ConfirmPassword: "newpass1", SessionToken: login.Token,
	}))

	_, err = s.svc.Login(ctx, "alice", reg.Password)
	assert.Equal(t, auth.KindInvalidCredentials, auth.KindOf(err))

	again, err := s.svc.Login(ctx, "alice", "newpass1")
	require.NoError(t, err)
	assert.False(t, again.FirstLogin)

	state, err = s.svc.State(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, auth.StateActive, state)
}

func TestScenario_DuplicateRegistration(t *testing.T) {
	ctx := context.Background()
	s := newScenario(t)

	_, err := s.svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	dup := validRegistration()
	dup.Username = "alice2"
	_, err = s.svc.Register(ctx, dup)
	assert.Equal(t, auth.KindConflict, auth.KindOf(err))
}

func TestScenario_ConcurrentDuplicateRegistration(t *testing.T) {
	ctx := context.Background()
	s := newScenario(t)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.Register(ctx, validRegistration())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case auth.KindOf(err) == auth.KindConflict:
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 7, conflicts)
}

func TestScenario_LoginSupersedesPreviousToken(t *testing.T) {
	ctx := context.Background()
	s := newScenario(t)

	reg, err := s.svc.Register(ctx, validRegistration())
	require.NoError(t, err)
	first, err := s.svc.Login(ctx, "alice", reg.Password)
	require.NoError(t, err)
	_, err = s.svc.Login(ctx, "alice", reg.Password)
	require.NoError(t, err)

	err = s.svc.ChangePassword(ctx, auth.ChangePasswordRequest{
		Username: "alice", Password: "newpass1", ConfirmPassword: "newpass1", SessionToken: first.Token,
	})
	assert.Equal(t, auth.KindUnauthorized, auth.KindOf(err))
}

func TestScenario_PasswordRecovery(t *testing.T) {
	ctx := context.Background()
	s := newScenario(t)

	reg, err := s.svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	res, err := s.svc.RequestPasswordReset(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, res.OTPIssued)
	assert.True(t, res.Notified)
	code := s.deliveredCode(t)

	state, err := s.svc.State(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, auth.StateRecoveryPending, state)

	confirm, err := s.svc.ConfirmReset(ctx, "alice", code)
	require.NoError(t, err)
	require.True(t, confirm.Valid)

	replay, err := s.svc.ConfirmReset(ctx, "alice", code)
	require.NoError(t, err)
	assert.False(t, replay.Valid, "code is single-use")

	req := auth.ChangePasswordRequest{
		Username: "alice", Password: "recovered1", ConfirmPassword: "recovered1", Ticket: confirm.Ticket,
	}
	require.NoError(t, s.svc.ChangePassword(ctx, req))
	err = s.svc.ChangePassword(ctx, req)
	assert.Equal(t, auth.KindUnauthorized, auth.KindOf(err), "ticket is single-use")

	_, err = s.svc.Login(ctx, "alice", reg.Password)
	assert.Equal(t, auth.KindInvalidCredentials, auth.KindOf(err))
	_, err = s.svc.Login(ctx, "alice", "recovered1")
	require.NoError(t, err)
}

func TestScenario_ExpiredCode(t *testing.T) {
	ctx := context.Background()
	s := newScenario(t)

	_, err := s.svc.Register(ctx, validRegistration())
	require.NoError(t, err)
	_, err = s.svc.RequestPasswordReset(ctx, "alice")
	require.NoError(t, err)
	code := s.deliveredCode(t)

	s.mr.FastForward(auth.OTPValidity + time.Second)

	confirm, err := s.svc.ConfirmReset(ctx, "alice", code)
	require.NoError(t, err)
	assert.False(t, confirm.Valid)
}

func TestScenario_OnlyLatestCodeIsValid(t *testing.T) {
	ctx := context.Background()
	s := newScenario(t)

	_, err := s.svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	_, err = s.svc.RequestPasswordReset(ctx, "alice")
	require.NoError(t, err)
	first := s.deliveredCode(t)
	_, err = s.svc.RequestPasswordReset(ctx, "alice")
	require.NoError(t, err)
	second := s.deliveredCode(t)

	if first != second {
		stale, err := s.svc.ConfirmReset(ctx, "alice", first)
		require.NoError(t, err)
		assert.False(t, stale.Valid)
	}
	fresh, err := s.svc.ConfirmReset(ctx, "alice", second)
	require.NoError(t, err)
	assert.True(t, fresh.Valid)
}

func TestScenario_UnknownUserLogin(t *testing.T) {
	s := newScenario(t)

	_, err := s.svc.Login(context.Background(), "ghost", "whatever")
	assert.Equal(t, auth.KindInvalidCredentials, auth.KindOf(err))
}

func TestScenario_RejectedChangeKeepsTicket(t *testing.T) {
	ctx := context.Background()
	s := newScenario(t)

	_, err := s.svc.Register(ctx, validRegistration())
	require.NoError(t, err)
	_, err = s.svc.RequestPasswordReset(ctx, "alice")
	require.NoError(t, err)
	confirm, err := s.svc.ConfirmReset(ctx, "alice", s.deliveredCode(t))
	require.NoError(t, err)
	require.True(t, confirm.Valid)

	long := strings.Repeat("x", auth.MaxPasswordBytes+1)
	err = s.svc.ChangePassword(ctx, auth.ChangePasswordRequest{
		Username: "alice", Password: long, ConfirmPassword: long, Ticket: confirm.Ticket,
	})
	assert.Equal(t, auth.KindValidation, auth.KindOf(err))

	s.creds.mu.Lock()
	s.creds.passwordFaults = 1
	s.creds.mu.Unlock()
	req := auth.ChangePasswordRequest{
		Username: "alice", Password: "fine1234", ConfirmPassword: "fine1234", Ticket: confirm.Ticket,
	}
	err = s.svc.ChangePassword(ctx, req)
	assert.Equal(t, auth.KindStorage, auth.KindOf(err))

	require.NoError(t, s.svc.ChangePassword(ctx, req), "ticket survives rejected attempts")
	_, err = s.svc.Login(ctx, "alice", "fine1234")
	require.NoError(t, err)

	err = s.svc.ChangePassword(ctx, req)
	assert.Equal(t, auth.KindUnauthorized, auth.KindOf(err), "ticket is spent once a change succeeds")
}

func TestScenario_LoginUpgradesOutdatedDigest(t *testing.T) {
	ctx := context.Background()
	s := newScenario(t)

	_, err := s.svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	old, err := bcrypt.GenerateFromPassword([]byte("legacy12"), bcrypt.MinCost+1)
	require.NoError(t, err)
	s.creds.mu.Lock()
	s.creds.byName["alice"].PasswordHash = string(old)
	s.creds.mu.Unlock()

	login, err := s.svc.Login(ctx, "alice", "legacy12")
	require.NoError(t, err)
	assert.True(t, login.FirstLogin, "rehash leaves first_login alone")

	cred, err := s.creds.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(cred.PasswordHash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)

	_, err = s.svc.Login(ctx, "alice", "legacy12")
	require.NoError(t, err)
}

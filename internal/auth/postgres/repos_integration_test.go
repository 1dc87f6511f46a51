// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"golang.org/x/crypto/bcrypt"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/auth/postgres"
)

var aliceProfile = auth.Profile{FirstName: "Alice", LastName: "Liddell", ProfileImage: "img", Age: 30, Gender: "female"}

func aliceFields() auth.CredentialFields {
	return auth.CredentialFields{Username: "alice", Email: "a@b.com", Mobile: "1234567890", PasswordHash: "hash"}
}

var _ = Describe("CredentialRepository", func() {
	var (
		ctx  context.Context
		repo *postgres.CredentialRepository
	)

	BeforeEach(func() {
		ctx = context.Background()
		truncate(ctx)
		repo = postgres.NewCredentialRepository(testPool)
	})

	It("creates a provisioned credential joined with its profile", func() {
		id, err := repo.CreateUserAndCredential(ctx, aliceProfile, aliceFields())
		Expect(err).NotTo(HaveOccurred())

		cred, err := repo.FindByUsername(ctx, "alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(cred.UserID).To(Equal(id))
		Expect(cred.FirstLogin).To(BeTrue())
		Expect(cred.IsLoggedIn).To(BeFalse())
		Expect(cred.Token).To(BeNil())
		Expect(cred.Profile.DisplayName()).To(Equal("Alice Liddell"))
	})

	It("rejects a duplicate email as a conflict and leaves no orphan user", func() {
		_, err := repo.CreateUserAndCredential(ctx, aliceProfile, aliceFields())
		Expect(err).NotTo(HaveOccurred())

		dup := aliceFields()
		dup.Username = "alice2"
		_, err = repo.CreateUserAndCredential(ctx, aliceProfile, dup)
		Expect(err).To(MatchError(auth.ErrConflict))

		var users int
		Expect(testPool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&users)).To(Succeed())
		Expect(users).To(Equal(1))
	})

	It("reports existence by username or email", func() {
		_, err := repo.CreateUserAndCredential(ctx, aliceProfile, aliceFields())
		Expect(err).NotTo(HaveOccurred())

		Expect(repo.ExistsByUsernameOrEmail(ctx, "alice", "x@y.com")).To(BeTrue())
		Expect(repo.ExistsByUsernameOrEmail(ctx, "bob", "a@b.com")).To(BeTrue())
		Expect(repo.ExistsByUsernameOrEmail(ctx, "bob", "x@y.com")).To(BeFalse())
	})

	It("updates token and password flags", func() {
		id, err := repo.CreateUserAndCredential(ctx, aliceProfile, aliceFields())
		Expect(err).NotTo(HaveOccurred())

		Expect(repo.UpdateToken(ctx, id, "tok")).To(Succeed())
		cred, err := repo.FindByUsername(ctx, "alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(cred.CurrentToken()).To(Equal("tok"))
		Expect(cred.IsLoggedIn).To(BeTrue())
		Expect(cred.FirstLogin).To(BeTrue())

		Expect(repo.UpdatePassword(ctx, id, "new-hash")).To(Succeed())
		cred, err = repo.FindByUsername(ctx, "alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(cred.PasswordHash).To(Equal("new-hash"))
		Expect(cred.FirstLogin).To(BeFalse())
	})

	It("rehashes without touching the state flags", func() {
		id, err := repo.CreateUserAndCredential(ctx, aliceProfile, aliceFields())
		Expect(err).NotTo(HaveOccurred())

		Expect(repo.RehashPassword(ctx, id, "upgraded")).To(Succeed())
		cred, err := repo.FindByUsername(ctx, "alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(cred.PasswordHash).To(Equal("upgraded"))
		Expect(cred.FirstLogin).To(BeTrue())
		Expect(cred.IsLoggedIn).To(BeFalse())
	})

	It("accepts exactly one of many concurrent inserts of the same username", func() {
		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := repo.CreateUserAndCredential(ctx, aliceProfile, aliceFields())
				if err == nil {
					wins.Add(1)
					return
				}
				Expect(err).To(MatchError(auth.ErrConflict))
			}()
		}
		wg.Wait()
		Expect(wins.Load()).To(Equal(int32(1)))

		var users int
		Expect(testPool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&users)).To(Succeed())
		Expect(users).To(Equal(1))
	})

	It("returns ErrNotFound for unknown users", func() {
		_, err := repo.FindByUsername(ctx, "ghost")
		Expect(err).To(MatchError(auth.ErrNotFound))
		Expect(repo.UpdatePassword(ctx, 999, "x")).To(MatchError(auth.ErrNotFound))
	})
})

var _ = Describe("OTPStore", func() {
	var (
		ctx   context.Context
		store *postgres.OTPStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		truncate(ctx)
		store = postgres.NewOTPStore(testPool)
	})

	It("accepts a code exactly once", func() {
		code, err := store.Issue(ctx, "alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Pending(ctx, "alice")).To(BeTrue())

		Expect(store.ConsumeIfValid(ctx, "alice", code)).To(BeTrue())
		Expect(store.ConsumeIfValid(ctx, "alice", code)).To(BeFalse())
		Expect(store.Pending(ctx, "alice")).To(BeFalse())
	})

	It("invalidates earlier codes when a new one is issued", func() {
		first, err := store.Issue(ctx, "alice")
		Expect(err).NotTo(HaveOccurred())
		second, err := store.Issue(ctx, "alice")
		Expect(err).NotTo(HaveOccurred())

		if first != second {
			Expect(store.ConsumeIfValid(ctx, "alice", first)).To(BeFalse())
		}
		Expect(store.ConsumeIfValid(ctx, "alice", second)).To(BeTrue())
	})

	It("rejects codes older than five minutes", func() {
		issuedAt := time.Now().Add(-6 * time.Minute)
		old := store.WithClock(func() time.Time { return issuedAt })
		code, err := old.Issue(ctx, "alice")
		Expect(err).NotTo(HaveOccurred())

		Expect(store.ConsumeIfValid(ctx, "alice", code)).To(BeFalse())
		Expect(store.Pending(ctx, "alice")).To(BeFalse())
		Expect(store.DeleteStale(ctx)).To(BeNumerically("==", 1))
	})

	It("lets only one concurrent consumer win", func() {
		code, err := store.Issue(ctx, "alice")
		Expect(err).NotTo(HaveOccurred())

		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				ok, err := store.ConsumeIfValid(ctx, "alice", code)
				Expect(err).NotTo(HaveOccurred())
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		Expect(wins.Load()).To(Equal(int32(1)))
	})
})

var _ = Describe("TicketRepository", func() {
	var (
		ctx  context.Context
		repo *postgres.TicketRepository
	)

	BeforeEach(func() {
		ctx = context.Background()
		truncate(ctx)
		repo = postgres.NewTicketRepository(testPool)
	})

	createTicket := func(username string) string {
		_, hash, err := auth.GenerateTicket()
		Expect(err).NotTo(HaveOccurred())
		ticket, err := auth.NewResetTicket(username, hash, time.Now().Add(time.Minute))
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.Create(ctx, ticket)).To(Succeed())
		return hash
	}
	noop := func(context.Context, *auth.ResetTicket) error { return nil }

	It("redeems a ticket once", func() {
		hash := createTicket("alice")

		var got *auth.ResetTicket
		Expect(repo.Redeem(ctx, "alice", hash, func(_ context.Context, t *auth.ResetTicket) error {
			got = t
			return nil
		})).To(Succeed())
		Expect(got.Username).To(Equal("alice"))

		Expect(repo.Redeem(ctx, "alice", hash, noop)).To(MatchError(auth.ErrNotFound))
	})

	It("keeps the ticket when the password update fails", func() {
		creds := postgres.NewCredentialRepository(testPool)
		hash := createTicket("alice")

		err := repo.Redeem(ctx, "alice", hash, func(ctx context.Context, _ *auth.ResetTicket) error {
			return creds.UpdatePassword(ctx, 999, "new-hash")
		})
		Expect(err).To(MatchError(auth.ErrNotFound))

		Expect(repo.Redeem(ctx, "alice", hash, noop)).To(Succeed())
	})

	It("updates the password inside the redeeming transaction", func() {
		creds := postgres.NewCredentialRepository(testPool)
		id, err := creds.CreateUserAndCredential(ctx, aliceProfile, aliceFields())
		Expect(err).NotTo(HaveOccurred())
		hash := createTicket("alice")

		Expect(repo.Redeem(ctx, "alice", hash, func(ctx context.Context, _ *auth.ResetTicket) error {
			return creds.UpdatePassword(ctx, id, "new-hash")
		})).To(Succeed())

		cred, err := creds.FindByUsername(ctx, "alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(cred.PasswordHash).To(Equal("new-hash"))
		Expect(cred.FirstLogin).To(BeFalse())
	})

	It("lets only one concurrent redeemer win", func() {
		hash := createTicket("alice")

		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				err := repo.Redeem(ctx, "alice", hash, noop)
				if err == nil {
					wins.Add(1)
					return
				}
				Expect(err).To(MatchError(auth.ErrNotFound))
			}()
		}
		wg.Wait()
		Expect(wins.Load()).To(Equal(int32(1)))
	})

	It("does not hand a ticket to another username", func() {
		hash := createTicket("alice")
		Expect(repo.Redeem(ctx, "mallory", hash, noop)).To(MatchError(auth.ErrNotFound))
	})

	It("deletes expired tickets", func() {
		_, err := testPool.Exec(ctx, `
			INSERT INTO reset_tickets (id, username, token_hash, expires_at)
			VALUES ('01J00000000000000000000000', 'alice', 'h', NOW() - INTERVAL '1 minute')
		`)
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.DeleteExpired(ctx)).To(BeNumerically("==", 1))
	})
})

var _ = Describe("Service over postgres", func() {
	var (
		ctx context.Context
		svc *auth.Service
	)

	BeforeEach(func() {
		ctx = context.Background()
		truncate(ctx)

		tokens, err := auth.NewJWTIssuer([]byte("integration-signing-key-0123456789"))
		Expect(err).NotTo(HaveOccurred())
		svc, err = auth.NewService(auth.Deps{
			Credentials: postgres.NewCredentialRepository(testPool),
			OTPs:        postgres.NewOTPStore(testPool),
			Tickets:     postgres.NewTicketRepository(testPool),
			Hasher:      auth.NewBcryptHasher(bcrypt.MinCost),
			Tokens:      tokens,
			Notifier:    auth.NotifierFunc(func(context.Context, auth.Notification) error { return nil }),
		}, auth.Config{})
		Expect(err).NotTo(HaveOccurred())
	})

	It("lets exactly one of concurrent duplicate registrations succeed", func() {
		reg := auth.Registration{
			Username: "alice", Email: "a@b.com", Mobile: "1234567890",
			FirstName: "Alice", LastName: "Liddell", Age: 30, Gender: "female", ProfileImage: "aW1n",
		}

		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := svc.Register(ctx, reg)
				if err == nil {
					wins.Add(1)
					return
				}
				Expect(auth.KindOf(err)).To(Equal(auth.KindConflict))
			}()
		}
		wg.Wait()
		Expect(wins.Load()).To(Equal(int32(1)))
	})
})

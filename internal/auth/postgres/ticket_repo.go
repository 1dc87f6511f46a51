// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

// TicketRepository implements auth.TicketRepository on the reset_tickets table.
type TicketRepository struct {
	db DB
}

// NewTicketRepository creates a new TicketRepository.
func NewTicketRepository(db DB) *TicketRepository {
	return &TicketRepository{db: db}
}

// Create stores a new ticket.
func (r *TicketRepository) Create(ctx context.Context, ticket *auth.ResetTicket) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO reset_tickets (id, username, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ticket.ID.String(), ticket.Username, ticket.TokenHash, ticket.ExpiresAt, ticket.CreatedAt)
	if err != nil {
		return oops.Code("TICKET_CREATE_FAILED").
			With("operation", "insert reset_ticket").
			With("username", ticket.Username).
			Wrap(err)
	}
	return nil
}

// Redeem deletes the ticket matching username and tokenHash and runs apply
// in the same ReadCommitted transaction. When apply fails the delete is
// rolled back and the ticket stays usable. Under ReadCommitted a concurrent
// redeemer blocks on the row and then sees it gone, so exactly one wins.
func (r *TicketRepository) Redeem(ctx context.Context, username, tokenHash string, apply func(context.Context, *auth.ResetTicket) error) error {
	return withTxOptions(ctx, r.db, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		ticket, err := consumeTicket(ctx, tx, username, tokenHash)
		if err != nil {
			return err
		}
		return apply(contextWithTx(ctx, tx), ticket)
	})
}

func consumeTicket(ctx context.Context, q querier, username, tokenHash string) (*auth.ResetTicket, error) {
	var (
		idStr  string
		ticket auth.ResetTicket
	)
	err := q.QueryRow(ctx, `
		DELETE FROM reset_tickets
		WHERE username = $1 AND token_hash = $2
		RETURNING id, username, token_hash, expires_at, created_at
	`, username, tokenHash).Scan(&idStr, &ticket.Username, &ticket.TokenHash, &ticket.ExpiresAt, &ticket.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TICKET_NOT_FOUND").
			With("username", username).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TICKET_CONSUME_FAILED").
			With("operation", "delete reset_ticket").
			With("username", username).
			Wrap(err)
	}
	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("TICKET_PARSE_FAILED").With("id", idStr).Wrap(err)
	}
	ticket.ID = id
	return &ticket, nil
}

// DeleteExpired removes all expired tickets and returns the count.
func (r *TicketRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM reset_tickets WHERE expires_at < $1
	`, time.Now())
	if err != nil {
		return 0, oops.Code("TICKET_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired reset_tickets").
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

var _ auth.TicketRepository = (*TicketRepository)(nil)

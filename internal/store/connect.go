// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds the startup connection attempts.
type RetryPolicy struct {
	Attempts uint64
	Base     time.Duration
}

// DefaultRetryPolicy retries five times starting at 500ms.
var DefaultRetryPolicy = RetryPolicy{Attempts: 5, Base: 500 * time.Millisecond}

func (p RetryPolicy) backoff() retry.Backoff {
	if p.Base <= 0 {
		p.Base = DefaultRetryPolicy.Base
	}
	return retry.WithMaxRetries(p.Attempts, retry.NewExponential(p.Base))
}

// pingWithRetry pings until success, ctx cancellation or the policy runs out.
func pingWithRetry(ctx context.Context, policy RetryPolicy, target string, ping func(context.Context) error) error {
	attempt := 0
	return retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := ping(pingCtx); err != nil {
			slog.WarnContext(ctx, "backend not ready", "target", target, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}

// Connect opens a pgx pool for dsn and waits until it answers a ping.
func Connect(ctx context.Context, dsn string, policy RetryPolicy) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").Wrap(err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}
	if err := pingWithRetry(ctx, policy, "postgres", pool.Ping); err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").With("host", cfg.ConnConfig.Host).Wrap(err)
	}
	return pool, nil
}

// ConnectRedis creates a client for url and waits until it answers a ping.
func ConnectRedis(ctx context.Context, url string, policy RetryPolicy) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, oops.Code("REDIS_CONFIG_INVALID").Wrap(err)
	}
	client := redis.NewClient(opts)
	ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	if err := pingWithRetry(ctx, policy, "redis", ping); err != nil {
		_ = client.Close() //nolint:errcheck // connect error takes precedence
		return nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", opts.Addr).Wrap(err)
	}
	return client, nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/holomush/authd/internal/auth/postgres"
	"github.com/holomush/authd/internal/notify"
	"github.com/holomush/authd/internal/observability"
	"github.com/holomush/authd/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// ConnectDB opens the Postgres pool.
	// Default: store.Connect
	ConnectDB func(ctx context.Context, dsn string) (DBPool, error)

	// ConnectRedis opens the Redis client used by the OTP store and readiness.
	// Default: store.ConnectRedis
	ConnectRedis func(ctx context.Context, url string) (redis.UniversalClient, error)

	// TaskClientFactory creates the asynq client notifications are enqueued on.
	// Default: asynq.NewClient over asynq.ParseRedisURI
	TaskClientFactory func(redisURL string) (TaskClient, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readiness observability.ReadinessChecker) ObservabilityServer
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.ConnectDB == nil {
		out.ConnectDB = func(ctx context.Context, dsn string) (DBPool, error) {
			return store.Connect(ctx, dsn, store.DefaultRetryPolicy)
		}
	}
	if out.ConnectRedis == nil {
		out.ConnectRedis = func(ctx context.Context, url string) (redis.UniversalClient, error) {
			return store.ConnectRedis(ctx, url, store.DefaultRetryPolicy)
		}
	}
	if out.TaskClientFactory == nil {
		out.TaskClientFactory = newTaskClient
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = newObservabilityServer
	}
	return &out
}

// WorkerDeps contains injectable dependencies for the worker command.
type WorkerDeps struct {
	// RunnerFactory builds the mail worker.
	// Default: notify.NewWorker
	RunnerFactory func(cfg notify.WorkerConfig) (Runner, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readiness observability.ReadinessChecker) ObservabilityServer
}

func (d *WorkerDeps) withDefaults() *WorkerDeps {
	out := WorkerDeps{}
	if d != nil {
		out = *d
	}
	if out.RunnerFactory == nil {
		out.RunnerFactory = func(cfg notify.WorkerConfig) (Runner, error) {
			return notify.NewWorker(cfg)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = newObservabilityServer
	}
	return &out
}

// MigrateDeps contains injectable dependencies for the migrate commands.
type MigrateDeps struct {
	// MigratorFactory opens a migrator for a database URL.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)
}

func (d *MigrateDeps) withDefaults() *MigrateDeps {
	out := MigrateDeps{}
	if d != nil {
		out = *d
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(databaseURL string) (Migrator, error) {
			return store.NewMigrator(databaseURL)
		}
	}
	return &out
}

// DBPool wraps the methods used from *pgxpool.Pool.
type DBPool interface {
	postgres.DB
	Ping(ctx context.Context) error
	Close()
}

// TaskClient wraps the methods used from *asynq.Client.
type TaskClient interface {
	notify.Enqueuer
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// Runner wraps notify.Worker.
type Runner interface {
	Run(ctx context.Context) error
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down(n int) error
	Force(version int) error
	Status() (*store.Status, error)
	Close() error
}

func newTaskClient(redisURL string) (TaskClient, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by caller
	}
	return asynq.NewClient(opt), nil
}

func newObservabilityServer(addr string, readiness observability.ReadinessChecker) ObservabilityServer {
	return observability.NewServer(addr, readiness)
}

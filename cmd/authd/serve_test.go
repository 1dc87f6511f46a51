// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authd/internal/auth/postgres"
	"github.com/holomush/authd/internal/config"
	"github.com/holomush/authd/internal/observability"
	"github.com/holomush/authd/pkg/errutil"
)

type fakeTaskClient struct {
	closed bool
}

func (f *fakeTaskClient) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	return &asynq.TaskInfo{ID: "1", Type: task.Type()}, nil
}

func (f *fakeTaskClient) Close() error {
	f.closed = true
	return nil
}

type fakeObsServer struct {
	started bool
	stopped bool
	ready   observability.ReadinessChecker
	metrics *observability.Metrics
}

func (f *fakeObsServer) Start() (<-chan error, error) {
	f.started = true
	return make(chan error), nil
}

func (f *fakeObsServer) Stop(context.Context) error {
	f.stopped = true
	return nil
}

func (f *fakeObsServer) Addr() string { return "127.0.0.1:0" }

func (f *fakeObsServer) Metrics() *observability.Metrics { return f.metrics }

func restoreDefaultLogger(t *testing.T) {
	t.Helper()
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })
}

func serveConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	cfg.Metrics.Addr = "127.0.0.1:0"
	return &cfg
}

func testCmd() (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{}
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	return cmd, buf
}

func TestRunServe_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cmd, _ := testCmd()

	err := runServeWithDeps(context.Background(), &cfg, cmd, &ServeDeps{})
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestRunServe_DatabaseUnavailable(t *testing.T) {
	restoreDefaultLogger(t)
	cmd, _ := testCmd()

	err := runServeWithDeps(context.Background(), serveConfig(t), cmd, &ServeDeps{
		ConnectDB: func(context.Context, string) (DBPool, error) {
			return nil, errors.New("connection refused")
		},
	})
	errutil.AssertErrorCode(t, err, "DB_CONNECT_FAILED")
}

func TestRunServe_StartsAndStops(t *testing.T) {
	restoreDefaultLogger(t)
	mr := miniredis.RunT(t)
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)

	tasks := &fakeTaskClient{}
	obs := &fakeObsServer{metrics: observability.NewMetrics(prometheus.NewRegistry())}
	cmd, out := testCmd()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = runServeWithDeps(ctx, serveConfig(t), cmd, &ServeDeps{
		ConnectDB: func(context.Context, string) (DBPool, error) { return pool, nil },
		ConnectRedis: func(context.Context, string) (redis.UniversalClient, error) {
			return redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil
		},
		TaskClientFactory: func(string) (TaskClient, error) { return tasks, nil },
		ObservabilityServerFactory: func(_ string, ready observability.ReadinessChecker) ObservabilityServer {
			obs.ready = ready
			return obs
		},
	})

	require.NoError(t, err)
	assert.Contains(t, out.String(), "authd API started")
	assert.True(t, obs.started)
	assert.True(t, obs.stopped)
	assert.NotNil(t, obs.ready)
	assert.True(t, tasks.closed)
}

func TestBuildService_OTPBackends(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for _, backend := range []string{config.OTPBackendRedis, config.OTPBackendPostgres} {
		cfg := serveConfig(t)
		cfg.OTP.Backend = backend

		svc, err := buildService(cfg, pool, rdb, &fakeTaskClient{}, nil, logger)
		require.NoError(t, err, backend)
		assert.NotNil(t, svc, backend)
	}

	cfg := serveConfig(t)
	cfg.Auth.JWTSecret = ""
	_, err = buildService(cfg, pool, rdb, &fakeTaskClient{}, nil, logger)
	errutil.AssertErrorCode(t, err, "TOKEN_CONFIG_INVALID")
}

func TestBackendsReady(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	pool, err := pgxmock.NewPool()
	require.NoError(t, err)

	pool.ExpectPing()
	require.NoError(t, backendsReady(pool, rdb)(context.Background()))

	pool.ExpectPing().WillReturnError(errors.New("db down"))
	errutil.AssertErrorCode(t, backendsReady(pool, rdb)(context.Background()), "DB_NOT_READY")

	pool.ExpectPing()
	mr.SetError("ERR redis down")
	errutil.AssertErrorCode(t, backendsReady(pool, rdb)(context.Background()), "REDIS_NOT_READY")

	require.NoError(t, pool.ExpectationsWereMet())
}

var _ postgres.DB = (pgxmock.PgxPoolIface)(nil)

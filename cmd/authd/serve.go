// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authd/internal/api"
	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/auth/postgres"
	"github.com/holomush/authd/internal/auth/redisstore"
	"github.com/holomush/authd/internal/config"
	"github.com/holomush/authd/internal/logging"
	"github.com/holomush/authd/internal/notify"
	"github.com/holomush/authd/internal/observability"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the authentication API together with the metrics and
health endpoints. Reset notifications are enqueued for the worker.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
	config.BindFlags(cmd.Flags())
	return cmd
}

// runServeWithDeps starts the API with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()

	if err := cfg.ValidateServe(); err != nil {
		return err
	}
	logger := logging.SetDefault(logging.Options{
		Service: "authd",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	})
	logger.Info("starting authd", "http_addr", cfg.HTTP.Addr, "otp_backend", cfg.OTP.Backend)

	pool, err := deps.ConnectDB(ctx, cfg.Database.URL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer pool.Close()

	rdb, err := deps.ConnectRedis(ctx, cfg.Redis.URL)
	if err != nil {
		return oops.Code("REDIS_CONNECT_FAILED").With("operation", "connect to redis").Wrap(err)
	}
	defer closeQuietly(logger, "redis client", rdb.Close)

	tasks, err := deps.TaskClientFactory(cfg.Redis.URL)
	if err != nil {
		return oops.Code("QUEUE_CONFIG_INVALID").With("operation", "create task client").Wrap(err)
	}
	defer closeQuietly(logger, "task client", tasks.Close)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var metrics *observability.Metrics
	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, backendsReady(pool, rdb))
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		metrics = obsServer.Metrics()
	}

	svc, err := buildService(cfg, pool, rdb, tasks, metrics, logger)
	if err != nil {
		return err
	}

	tickets := postgres.NewTicketRepository(pool)
	sweeps := []sweep{{name: "expired tickets", run: tickets.DeleteExpired}}
	if cfg.OTP.Backend == config.OTPBackendPostgres {
		sweeps = append(sweeps, sweep{name: "stale otps", run: postgres.NewOTPStore(pool).DeleteStale})
	}
	go runJanitor(ctx, logger, janitorInterval, sweeps...)

	router := api.NewRouter(svc, api.Config{
		RequestTimeout: cfg.HTTP.RequestTimeout,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		SSLRedirect:    cfg.HTTP.SSLRedirect,
	}, api.WithLogger(logger), api.WithRecorder(metrics))

	listener, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("HTTP_LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	httpServer := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpErrChan := make(chan error, 1)
	go func() {
		defer close(httpErrChan)
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			httpErrChan <- serveErr
		}
	}()

	cmd.Println("authd API started")
	logger.Info("authd ready", "http_addr", listener.Addr().String())

	var runErr error
	select {
	case err, ok := <-httpErrChan:
		if ok && err != nil {
			runErr = oops.Code("HTTP_SERVE_FAILED").Wrap(err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping HTTP server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return runErr
}

// buildService wires the auth service onto its backends.
func buildService(
	cfg *config.Config,
	db postgres.DB,
	rdb redis.UniversalClient,
	tasks notify.Enqueuer,
	metrics *observability.Metrics,
	logger *slog.Logger,
) (*auth.Service, error) {
	issuer, err := auth.NewJWTIssuer([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, err //nolint:wrapcheck // already coded
	}

	var otps auth.OTPStore
	switch cfg.OTP.Backend {
	case config.OTPBackendPostgres:
		otps = postgres.NewOTPStore(db)
	default:
		otps = redisstore.NewOTPStore(rdb)
	}

	queue := notify.NewQueue(tasks, notify.QueueConfig{
		Queue:    cfg.Worker.Queue,
		MaxRetry: cfg.Worker.MaxRetry,
		CC:       cfg.Mail.CC,
		BCC:      cfg.Mail.BCC,
	}, notify.WithRecorder(metrics), notify.WithQueueLogger(logger))

	return auth.NewService(auth.Deps{
		Credentials: postgres.NewCredentialRepository(db),
		OTPs:        otps,
		Tickets:     postgres.NewTicketRepository(db),
		Hasher:      auth.NewBcryptHasher(cfg.Auth.BcryptCost),
		Tokens:      issuer,
		Notifier:    queue,
	}, cfg.AuthServiceConfig(), auth.WithLogger(logger))
}

// backendsReady reports ready when Postgres and Redis both answer a ping.
func backendsReady(pool DBPool, rdb redis.UniversalClient) observability.ReadinessChecker {
	return func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return oops.Code("DB_NOT_READY").Wrap(err)
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			return oops.Code("REDIS_NOT_READY").Wrap(err)
		}
		return nil
	}
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}

func closeQuietly(logger *slog.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Debug("error closing "+what, "error", err)
	}
}

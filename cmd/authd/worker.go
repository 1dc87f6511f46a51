// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authd/internal/config"
	"github.com/holomush/authd/internal/logging"
	"github.com/holomush/authd/internal/notify"
	"github.com/holomush/authd/internal/observability"
)

// NewWorkerCmd creates the worker subcommand.
func NewWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Start the mail worker",
		Long: `Start the asynq worker that delivers queued reset notifications
through the mail relay.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runWorkerWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
	config.BindFlags(cmd.Flags())
	return cmd
}

// runWorkerWithDeps runs the mail worker until ctx is canceled.
func runWorkerWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *WorkerDeps) error {
	deps = deps.withDefaults()

	if err := cfg.ValidateWorker(); err != nil {
		return err
	}
	logger := logging.SetDefault(logging.Options{
		Service: "authd-worker",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	})

	redisOpt, err := asynq.ParseRedisURI(cfg.Redis.URL)
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("redis_url", "unparseable").Wrap(err)
	}

	mailer, err := notify.NewMailer(notify.MailerConfig{
		Endpoint: cfg.Mail.RelayURL,
		Sender:   cfg.Mail.Sender,
		Timeout:  cfg.Mail.Timeout,
	}, nil)
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var metrics *observability.Metrics
	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, nil)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		metrics = obsServer.Metrics()
	}

	worker, err := deps.RunnerFactory(notify.WorkerConfig{
		RedisOpts:   redisOpt,
		Concurrency: cfg.Worker.Concurrency,
		Queue:       cfg.Worker.Queue,
		Sender:      mailer,
		Recorder:    metrics,
		Logger:      logger,
	})
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}

	cmd.Println("authd worker started")
	runErr := worker.Run(ctx)

	if obsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}
	return runErr
}

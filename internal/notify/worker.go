// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/observability"
	"github.com/holomush/authd/pkg/errutil"
)

// WorkerConfig collects what the worker needs.
type WorkerConfig struct {
	RedisOpts   asynq.RedisConnOpt
	Concurrency int
	Queue       string
	Sender      Sender
	Recorder    StatusRecorder
	Logger      *slog.Logger
}

// Worker runs the asynq server that drains mail:send tasks.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *slog.Logger
}

// NewWorker builds a Worker. Nothing connects until Run.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.RedisOpts == nil {
		return nil, oops.Code("WORKER_CONFIG_INVALID").Errorf("redis options are required")
	}
	if cfg.Sender == nil {
		return nil, oops.Code("WORKER_CONFIG_INVALID").Errorf("sender is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.Queue == "" {
		cfg.Queue = QueueDefault
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{cfg.Queue: 1},
		Logger:      asynqLogger{l: logger, exit: os.Exit},
	})
	mux := asynq.NewServeMux()
	mux.Handle(TaskTypeSendEmail, NewSendEmailHandler(cfg.Sender, cfg.Recorder, logger))

	return &Worker{server: srv, mux: mux, logger: logger}, nil
}

// Run starts the server and processes tasks until ctx is canceled.
// Shutdown waits for in-flight tasks up to asynq's shutdown timeout.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return oops.Code("WORKER_RUN_FAILED").Wrap(err)
	}
	w.logger.InfoContext(ctx, "mail worker started")

	<-ctx.Done()
	w.server.Shutdown()
	w.logger.Info("mail worker stopped")
	return nil
}

// SendEmailHandler handles mail:send tasks.
type SendEmailHandler struct {
	sender   Sender
	recorder StatusRecorder
	logger   *slog.Logger
}

// NewSendEmailHandler creates a handler that delivers through sender.
func NewSendEmailHandler(sender Sender, recorder StatusRecorder, logger *slog.Logger) *SendEmailHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SendEmailHandler{sender: sender, recorder: recorder, logger: logger}
}

// ProcessTask implements asynq.Handler. Undecodable payloads and permanent
// relay rejections skip retries.
func (h *SendEmailHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseSendEmailPayload(task)
	if err != nil {
		h.record(observability.NotificationDropped)
		errutil.LogErrorContext(ctx, h.logger, "dropping undecodable mail task", err)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	if err := h.sender.Send(ctx, payload); err != nil {
		if errors.Is(err, ErrPermanent) {
			h.record(observability.NotificationDropped)
			errutil.LogErrorContext(ctx, h.logger, "relay rejected mail", err)
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		h.record(observability.NotificationFailed)
		return err
	}

	h.record(observability.NotificationSent)
	h.logger.InfoContext(ctx, "mail delivered", "subject", payload.Subject)
	return nil
}

func (h *SendEmailHandler) record(status string) {
	if h.recorder != nil {
		h.recorder.RecordNotification(status)
	}
}

// asynqLogger routes asynq's internal logging through slog. Fatal exits the
// process, as asynq's own logger does.
type asynqLogger struct {
	l    *slog.Logger
	exit func(code int)
}

func (a asynqLogger) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...), "component", "asynq") }
func (a asynqLogger) Info(args ...any)  { a.l.Info(fmt.Sprint(args...), "component", "asynq") }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...), "component", "asynq") }
func (a asynqLogger) Error(args ...any) { a.l.Error(fmt.Sprint(args...), "component", "asynq") }
func (a asynqLogger) Fatal(args ...any) {
	a.l.Error(fmt.Sprint(args...), "component", "asynq", "fatal", true)
	a.exit(1)
}

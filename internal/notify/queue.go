// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/observability"
)

// Enqueuer is the part of *asynq.Client the Queue uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// StatusRecorder counts notification state changes. *observability.Metrics
// satisfies it.
type StatusRecorder interface {
	RecordNotification(status string)
}

// QueueConfig tunes enqueued tasks.
type QueueConfig struct {
	Queue    string
	MaxRetry int
	Timeout  time.Duration
	CC       []string
	BCC      []string
}

// Queue implements auth.Notifier by enqueuing mail:send tasks. A nil error
// means the task was accepted by the queue, not that mail was delivered.
type Queue struct {
	enq      Enqueuer
	cfg      QueueConfig
	recorder StatusRecorder
	logger   *slog.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithRecorder sets the recorder for enqueue outcomes.
func WithRecorder(r StatusRecorder) QueueOption {
	return func(q *Queue) { q.recorder = r }
}

// WithQueueLogger sets the logger.
func WithQueueLogger(l *slog.Logger) QueueOption {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// NewQueue creates a Queue on enq.
func NewQueue(enq Enqueuer, cfg QueueConfig, opts ...QueueOption) *Queue {
	if cfg.Queue == "" {
		cfg.Queue = QueueDefault
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = DefaultMaxRetry
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTaskTimeout
	}
	q := &Queue{enq: enq, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Notify enqueues n as a mail:send task.
func (q *Queue) Notify(ctx context.Context, n auth.Notification) error {
	task, err := NewSendEmailTask(SendEmailPayload{
		To:       n.RecipientEmail,
		Subject:  n.Subject,
		HTMLBody: n.HTMLBody,
		CC:       q.cfg.CC,
		BCC:      q.cfg.BCC,
	})
	if err != nil {
		q.record(observability.NotificationFailed)
		return err
	}

	info, err := q.enq.EnqueueContext(ctx, task,
		asynq.Queue(q.cfg.Queue),
		asynq.MaxRetry(q.cfg.MaxRetry),
		asynq.Timeout(q.cfg.Timeout),
	)
	if err != nil {
		q.record(observability.NotificationFailed)
		return oops.Code("NOTIFY_ENQUEUE_FAILED").
			With("queue", q.cfg.Queue).
			With("task_type", TaskTypeSendEmail).
			Wrap(err)
	}

	q.record(observability.NotificationEnqueued)
	q.logger.DebugContext(ctx, "notification enqueued", "task_id", info.ID, "queue", info.Queue)
	return nil
}

func (q *Queue) record(status string) {
	if q.recorder != nil {
		q.recorder.RecordNotification(status)
	}
}

var _ auth.Notifier = (*Queue)(nil)

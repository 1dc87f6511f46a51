// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package notify delivers reset notifications through an asynq queue and an
// HTTP mail relay.
package notify

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/samber/oops"
)

const (
	// QueueDefault is the queue notifications are enqueued on.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for outbound email.
	TaskTypeSendEmail = "mail:send"
)

// Task defaults.
const (
	DefaultMaxRetry    = 5
	DefaultTaskTimeout = 30 * time.Second
)

// SendEmailPayload is the body of a mail:send task.
type SendEmailPayload struct {
	To       string   `json:"to"`
	Subject  string   `json:"subject"`
	HTMLBody string   `json:"html_body"`
	CC       []string `json:"cc,omitempty"`
	BCC      []string `json:"bcc,omitempty"`
}

// NewSendEmailTask builds a mail:send task for payload.
func NewSendEmailTask(payload SendEmailPayload, opts ...asynq.Option) (*asynq.Task, error) {
	if payload.To == "" {
		return nil, oops.Code("NOTIFY_PAYLOAD_INVALID").Errorf("recipient is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, oops.Code("NOTIFY_PAYLOAD_INVALID").Wrap(err)
	}
	return asynq.NewTask(TaskTypeSendEmail, data, opts...), nil
}

// ParseSendEmailPayload decodes the body of a mail:send task.
func ParseSendEmailPayload(task *asynq.Task) (SendEmailPayload, error) {
	var payload SendEmailPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return SendEmailPayload{}, oops.Code("NOTIFY_PAYLOAD_INVALID").Wrap(err)
	}
	if payload.To == "" {
		return SendEmailPayload{}, oops.Code("NOTIFY_PAYLOAD_INVALID").Errorf("recipient is required")
	}
	return payload, nil
}

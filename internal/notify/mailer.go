// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/samber/oops"
)

// ErrPermanent marks a relay rejection that retrying cannot fix.
var ErrPermanent = errors.New("relay rejected message")

// Sender delivers one email.
type Sender interface {
	Send(ctx context.Context, payload SendEmailPayload) error
}

// MailerConfig configures the HTTP relay.
type MailerConfig struct {
	Endpoint string
	Sender   string
	Timeout  time.Duration
}

// Mailer posts messages to a form-based mail relay. The relay takes the
// fields htmlContent, senderEmail, receiverEmail, subject, cc and bcc, with
// cc and bcc as JSON arrays.
type Mailer struct {
	cfg    MailerConfig
	client *http.Client
}

// NewMailer creates a Mailer. A nil client gets one with cfg.Timeout.
func NewMailer(cfg MailerConfig, client *http.Client) (*Mailer, error) {
	if cfg.Endpoint == "" {
		return nil, oops.Code("MAILER_CONFIG_INVALID").Errorf("relay endpoint is required")
	}
	if cfg.Sender == "" {
		return nil, oops.Code("MAILER_CONFIG_INVALID").Errorf("sender address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Mailer{cfg: cfg, client: client}, nil
}

// Send posts payload to the relay. 4xx responses wrap ErrPermanent.
func (m *Mailer) Send(ctx context.Context, payload SendEmailPayload) error {
	body, contentType, err := m.encode(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, body)
	if err != nil {
		return oops.Code("MAILER_REQUEST_FAILED").Wrap(err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := m.client.Do(req)
	if err != nil {
		return oops.Code("MAILER_SEND_FAILED").With("endpoint", m.cfg.Endpoint).Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10)) //nolint:errcheck // drain for reuse

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return oops.Code("MAILER_REJECTED").With("status", resp.StatusCode).Wrap(ErrPermanent)
	default:
		return oops.Code("MAILER_SEND_FAILED").With("status", resp.StatusCode).Errorf("relay returned %d", resp.StatusCode)
	}
}

func (m *Mailer) encode(payload SendEmailPayload) (io.Reader, string, error) {
	cc, err := json.Marshal(nonNil(payload.CC))
	if err != nil {
		return nil, "", oops.Code("MAILER_ENCODE_FAILED").Wrap(err)
	}
	bcc, err := json.Marshal(nonNil(payload.BCC))
	if err != nil {
		return nil, "", oops.Code("MAILER_ENCODE_FAILED").Wrap(err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"htmlContent", payload.HTMLBody},
		{"senderEmail", m.cfg.Sender},
		{"receiverEmail", payload.To},
		{"subject", payload.Subject},
		{"cc", string(cc)},
		{"bcc", string(bcc)},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", oops.Code("MAILER_ENCODE_FAILED").With("field", f[0]).Wrap(err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", oops.Code("MAILER_ENCODE_FAILED").Wrap(err)
	}
	return &buf, w.FormDataContentType(), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

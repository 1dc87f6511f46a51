// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package api exposes the authentication service over HTTP with JSON bodies.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/holomush/authd/internal/auth"
)

// AuthService is the part of *auth.Service the handlers call.
type AuthService interface {
	Login(ctx context.Context, username, password string) (*auth.LoginResult, error)
	Register(ctx context.Context, reg auth.Registration) (*auth.RegisterResult, error)
	ChangePassword(ctx context.Context, req auth.ChangePasswordRequest) error
	RequestPasswordReset(ctx context.Context, username string) (*auth.ResetRequestResult, error)
	ConfirmReset(ctx context.Context, username, code string) (*auth.ConfirmResult, error)
}

// Recorder receives request and operation metrics. *observability.Metrics
// satisfies it.
type Recorder interface {
	RecordOperation(operation, outcome string)
	RecordOTPIssued()
	ObserveRequest(route, status string, elapsed time.Duration)
}

// Config tunes the HTTP surface.
type Config struct {
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	SSLRedirect    bool
}

// Defaults for Config.
const (
	DefaultRequestTimeout = 15 * time.Second
	DefaultMaxBodyBytes   = 8 << 20 // base64 profile images
)

// Option configures the router.
type Option func(*Handler)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithRecorder enables metrics.
func WithRecorder(r Recorder) Option {
	return func(h *Handler) { h.recorder = r }
}

// NewRouter builds the chi router serving the auth routes.
func NewRouter(svc AuthService, cfg Config, opts ...Option) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	h := &Handler{svc: svc, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	r.Use(
		chimw.RealIP,
		chimw.RequestID,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
		secureHeaders(cfg, h.logger),
		requestLogger(h.logger, h.recorder),
	)

	r.Post("/login", h.login)
	r.Post("/register", h.register)
	r.Post("/change-password", h.changePassword)
	r.Post("/generate-otp", h.generateOTP)
	r.Post("/verify-otp", h.verifyOTP)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}

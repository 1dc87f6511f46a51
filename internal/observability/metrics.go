// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation outcomes.
const (
	OutcomeSuccess = "success"
)

// Notification statuses.
const (
	NotificationEnqueued = "enqueued"
	NotificationSent     = "sent"
	NotificationFailed   = "failed"
	NotificationDropped  = "dropped"
)

// Metrics holds the authd collectors. A nil *Metrics records nothing.
type Metrics struct {
	OperationsTotal    *prometheus.CounterVec
	OTPsIssuedTotal    prometheus.Counter
	NotificationsTotal *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
}

// NewMetrics creates the authd collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authd_operations_total",
				Help: "Credential operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		OTPsIssuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authd_otps_issued_total",
				Help: "One-time codes issued for password recovery",
			},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authd_notifications_total",
				Help: "Reset notifications by status",
			},
			[]string{"status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authd_http_request_duration_seconds",
				Help:    "HTTP request latency by route and status code",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "status"},
		),
	}

	reg.MustRegister(m.OperationsTotal, m.OTPsIssuedTotal, m.NotificationsTotal, m.RequestDuration)
	return m
}

// RecordOperation counts one operation. outcome is OutcomeSuccess or an error kind.
func (m *Metrics) RecordOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordOTPIssued counts one issued code.
func (m *Metrics) RecordOTPIssued() {
	if m == nil {
		return
	}
	m.OTPsIssuedTotal.Inc()
}

// RecordNotification counts a notification state change.
func (m *Metrics) RecordNotification(status string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(status).Inc()
}

// ObserveRequest records the latency of one HTTP request.
func (m *Metrics) ObserveRequest(route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(route, status).Observe(elapsed.Seconds())
}

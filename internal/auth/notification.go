// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"bytes"
	"context"
	_ "embed"
	"html/template"

	"github.com/samber/oops"
)

// Notification defaults.
const (
	DefaultResetSubject = "OTP for reset password!"
	DefaultBrand        = "authd"
)

//go:embed templates/otp_email.html
var otpEmailSource string

var otpEmailTemplate = template.Must(template.New("otp_email").Parse(otpEmailSource))

// Notification is a message handed to the delivery collaborator.
type Notification struct {
	RecipientEmail string
	Subject        string
	HTMLBody       string
}

// Notifier hands notifications to an outbound transport.
// Implementations must honor ctx cancellation.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// RenderResetNotification renders the OTP email for cred.
func RenderResetNotification(cred *Credential, code, brand, subject string) (Notification, error) {
	if brand == "" {
		brand = DefaultBrand
	}
	if subject == "" {
		subject = DefaultResetSubject
	}

	var body bytes.Buffer
	err := otpEmailTemplate.Execute(&body, struct {
		Brand        string
		Name         string
		Code         string
		ValidMinutes int
	}{
		Brand:        brand,
		Name:         cred.Profile.DisplayName(),
		Code:         code,
		ValidMinutes: int(OTPValidity.Minutes()),
	})
	if err != nil {
		return Notification{}, oops.Code("NOTIFICATION_RENDER_FAILED").
			With("username", cred.Username).
			Wrap(err)
	}

	return Notification{
		RecipientEmail: cred.Email,
		Subject:        subject,
		HTMLBody:       body.String(),
	}, nil
}

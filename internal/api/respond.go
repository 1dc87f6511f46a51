// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/pkg/errutil"
)

// Response messages.
const (
	MsgInternal        = "Internal server error"
	MsgInvalidBody     = "Invalid request body"
	MsgRegistered      = "Registration successful"
	MsgPasswordChanged = "Password changed successfully"
	MsgOTPSent         = "OTP generated and sent successfully"
	MsgOTPValid        = "OTP is valid"
	MsgOTPInvalid      = "Invalid OTP"
	MsgRequestTooLarge = "Request body too large"
)

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // client gone
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResponse{Message: msg})
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(kind auth.Kind) int {
	switch kind {
	case auth.KindValidation:
		return http.StatusBadRequest
	case auth.KindInvalidCredentials:
		return http.StatusUnauthorized
	case auth.KindUnauthorized:
		return http.StatusForbidden
	case auth.KindNotFound:
		return http.StatusNotFound
	case auth.KindConflict:
		return http.StatusConflict
	case auth.KindNotification:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {message}. Only caller-safe messages are
// rendered; 5xx causes go to the log.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := auth.KindOf(err)
	status := StatusFor(kind)

	msg := auth.PublicMessage(err)
	if msg == "" {
		msg = defaultMessage(kind)
	}
	if status == http.StatusInternalServerError {
		msg = MsgInternal
	}

	switch {
	case status >= http.StatusInternalServerError:
		errutil.LogErrorContext(r.Context(), h.logger, "request failed", err)
	default:
		h.logger.DebugContext(r.Context(), "request rejected",
			"kind", string(kind),
			"code", oopsCode(err),
		)
	}

	if kind == auth.KindNotification {
		writeJSON(w, status, notificationErrorResponse{Message: msg, OTPIssued: true})
		return
	}
	writeMessage(w, status, msg)
}

func defaultMessage(kind auth.Kind) string {
	switch kind {
	case auth.KindValidation:
		return MsgInvalidBody
	case auth.KindInvalidCredentials:
		return auth.MsgInvalidCredentials
	case auth.KindUnauthorized:
		return auth.MsgNotAuthorized
	case auth.KindNotFound:
		return auth.MsgUserNotFound
	case auth.KindConflict:
		return auth.MsgConflict
	case auth.KindNotification:
		return auth.MsgNotificationFailed
	default:
		return MsgInternal
	}
}

type notificationErrorResponse struct {
	Message   string `json:"message"`
	OTPIssued bool   `json:"otp_issued"`
}

func oopsCode(err error) any {
	if oe, ok := oops.AsOops(err); ok {
		return oe.Code()
	}
	return nil
}

// decode reads a JSON body into dst, bounded by MaxBodyBytes. On failure it
// writes the response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(w, http.StatusRequestEntityTooLarge, MsgRequestTooLarge)
			return false
		}
		writeMessage(w, http.StatusBadRequest, MsgInvalidBody)
		return false
	}
	return true
}

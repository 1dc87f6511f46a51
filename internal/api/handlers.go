// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/observability"
)

// Operation labels for metrics.
const (
	opLogin          = "login"
	opRegister       = "register"
	opChangePassword = "change_password"
	opRequestReset   = "request_reset"
	opConfirmReset   = "confirm_reset"

	outcomeInvalidOTP = "invalid_otp"
)

// Handler serves the auth routes.
type Handler struct {
	svc      AuthService
	cfg      Config
	logger   *slog.Logger
	recorder Recorder
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token      string `json:"token"`
	FirstLogin bool   `json:"first_login"`
	Username   string `json:"username"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
}

type registerRequest struct {
	Username      string `json:"username"`
	Email         string `json:"email"`
	Mobile        string `json:"mobile"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Age           looseInt `json:"age"`
	Gender        string `json:"gender"`
	ProfileBase64 string `json:"profileBase64"`
}

// looseInt accepts a JSON number or a numeric string such as "25". Any
// other value decodes to zero, which registration validation reports as a
// missing field.
type looseInt int

func (n *looseInt) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = 0
	switch x := v.(type) {
	case float64:
		*n = looseInt(x)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
			*n = looseInt(i)
		}
	}
	return nil
}

type registerResponse struct {
	Message  string `json:"message"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	Ticket          string `json:"ticket"`
}

type generateOTPRequest struct {
	Username string `json:"username"`
}

type generateOTPResponse struct {
	Message   string `json:"message"`
	OTPIssued bool   `json:"otp_issued"`
	Notified  bool   `json:"notified"`
}

type verifyOTPRequest struct {
	Username    string `json:"username"`
	ProvidedOTP string `json:"providedOTP"`
}

type verifyOTPResponse struct {
	Message string `json:"message"`
	Ticket  string `json:"ticket,omitempty"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Login(r.Context(), req.Username, req.Password)
	h.record(opLogin, err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:      res.Token,
		FirstLogin: res.FirstLogin,
		Username:   res.Username,
		FirstName:  res.FirstName,
		LastName:   res.LastName,
	})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Register(r.Context(), auth.Registration{
		Username:     req.Username,
		Email:        req.Email,
		Mobile:       req.Mobile,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Age:          int(req.Age),
		Gender:       req.Gender,
		ProfileImage: req.ProfileBase64,
	})
	h.record(opRegister, err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{Message: MsgRegistered, Password: res.Password})
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.svc.ChangePassword(r.Context(), auth.ChangePasswordRequest{
		Username:        req.Username,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		Ticket:          req.Ticket,
		SessionToken:    bearerToken(r),
	})
	h.record(opChangePassword, err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, MsgPasswordChanged)
}

func (h *Handler) generateOTP(w http.ResponseWriter, r *http.Request) {
	var req generateOTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.RequestPasswordReset(r.Context(), req.Username)
	h.record(opRequestReset, err)
	if res != nil && res.OTPIssued && h.recorder != nil {
		h.recorder.RecordOTPIssued()
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, generateOTPResponse{
		Message:   MsgOTPSent,
		OTPIssued: res.OTPIssued,
		Notified:  res.Notified,
	})
}

func (h *Handler) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.ConfirmReset(r.Context(), req.Username, req.ProvidedOTP)
	if err != nil {
		h.record(opConfirmReset, err)
		h.writeError(w, r, err)
		return
	}
	if !res.Valid {
		h.recordOutcome(opConfirmReset, outcomeInvalidOTP)
		writeMessage(w, http.StatusBadRequest, MsgOTPInvalid)
		return
	}
	h.record(opConfirmReset, nil)
	writeJSON(w, http.StatusOK, verifyOTPResponse{Message: MsgOTPValid, Ticket: res.Ticket})
}

func (h *Handler) record(op string, err error) {
	outcome := observability.OutcomeSuccess
	if err != nil {
		outcome = string(auth.KindOf(err))
	}
	h.recordOutcome(op, outcome)
}

func (h *Handler) recordOutcome(op, outcome string) {
	if h.recorder != nil {
		h.recorder.RecordOperation(op, outcome)
	}
}

// bearerToken returns the token of an "Authorization: Bearer" header, or "".
func bearerToken(r *http.Request) string {
	const prefix = "bearer "
	v := r.Header.Get("Authorization")
	if len(v) <= len(prefix) || !strings.EqualFold(v[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(v[len(prefix):])
}

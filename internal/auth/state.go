// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

// State is the derived lifecycle state of a credential. It is never stored.
type State string

// Credential states.
const (
	StateProvisioned     State = "provisioned"
	StateActive          State = "active"
	StateRecoveryPending State = "recovery_pending"
)

// DeriveState computes the state from the stored flags and OTP presence.
// An outstanding OTP takes precedence over first_login.
func DeriveState(cred *Credential, otpPending bool) State {
	switch {
	case otpPending:
		return StateRecoveryPending
	case cred.FirstLogin:
		return StateProvisioned
	default:
		return StateActive
	}
}

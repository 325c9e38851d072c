/*
Copyright 2026 Warpgate Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package types

import "time"

// Credential binds one proof of identity to a user. Exactly one payload
// field is populated, selected by Kind. The OTP seed and the stored upstream
// secret use the constant-time, zeroizing Secret type, whose String method
// redacts them under %v and %+v; Secret has no GoString method, so %#v
// prints the raw bytes.
type Credential struct {
	ID     string         `json:"id"`
	UserID string         `json:"user_id"`
	Kind   CredentialKind `json:"kind"`

	// PasswordHash holds an argon2id encoded hash string (self-describing,
	// includes salt and parameters) when Kind == CredentialPassword.
	PasswordHash string `json:"password_hash,omitempty"`

	// PublicKey holds an SSH authorized-key line when Kind ==
	// CredentialPublicKey.
	PublicKey string `json:"public_key,omitempty"`

	// OTPSecret holds the base32 HOTP/TOTP seed when Kind == CredentialOTP.
	// It is persisted here (the State Store's on-disk representation) but
	// write-only from the API's perspective: spec.md section 3 requires
	// that OTP secrets never be emitted again after creation, a rule
	// enforced by the admin API's response DTOs, not by this struct.
	OTPSecret Secret `json:"otp_secret,omitempty"`
	OTPDigits uint   `json:"otp_digits,omitempty"`
	OTPPeriod uint   `json:"otp_period_seconds,omitempty"`
	// OTPLastStep is the most recently accepted HOTP/TOTP step counter for
	// this credential, persisted (not cached) so replay prevention survives
	// a process restart, per spec.md section 4.1.
	OTPLastStep int64 `json:"otp_last_step,omitempty"`

	// SSOSubject holds the federated identity subject/issuer pair encoded as
	// "issuer|subject" when Kind == CredentialSSO.
	SSOSubject string `json:"sso_subject,omitempty"`

	// StoredSecret holds an outward-facing plaintext secret when Kind ==
	// CredentialStoredSecret: the password or token the Target Connector
	// presents to an upstream target, addressed via
	// Target.Options.StoredCredentialID. Unlike PasswordHash this is
	// recoverable by design — Warpgate must be able to present it again on
	// every new upstream connection.
	StoredSecret Secret `json:"stored_secret,omitempty"`

	// APITokenHash holds an argon2id hash of a bearer token when Kind ==
	// CredentialAPIToken, used by automation clients against the gateway API
	// or, for a ticket, presented directly as the password field by
	// protocols without an interactive challenge (spec.md section 4.1,
	// "ticket authentication bypass").
	APITokenHash string `json:"api_token_hash,omitempty"`
	// TicketTargetID, when set, restricts this token to authenticating
	// against a single target instead of the user's full role-reachable set.
	TicketTargetID string `json:"ticket_target_id,omitempty"`
	// TicketSingleUse marks a ticket as consumed after its first successful
	// authentication.
	TicketSingleUse bool `json:"ticket_single_use,omitempty"`
	// TicketUsed records that a single-use ticket has already been spent.
	TicketUsed bool `json:"ticket_used,omitempty"`
	// TicketExpiresAt, when set, rejects the ticket after this instant.
	TicketExpiresAt *time.Time `json:"ticket_expires_at,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
}

// Fingerprint returns a short, non-secret label for logs and admin listings:
// the credential kind plus an identifying hint that never includes secret
// material.
func (c *Credential) Fingerprint() string {
	switch c.Kind {
	case CredentialPublicKey:
		return string(c.Kind) + ":" + c.PublicKey
	case CredentialSSO:
		return string(c.Kind) + ":" + c.SSOSubject
	default:
		return string(c.Kind) + ":" + c.ID
	}
}

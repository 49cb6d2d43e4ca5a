// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package http

import (
	"encoding/json"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

// BeginAuthenticationResponse is returned by POST /passkey-auth/begin.
type BeginAuthenticationResponse struct {
	// Challenge is the base64url-encoded ceremony challenge.
	Challenge string `json:"challenge"`

	// RPID is the relying party identity resolved from the request.
	RPID string `json:"rp_id"`

	// AllowCredentials lists credentials bound to the resolved relying
	// party. Credentials registered under other hostnames never appear.
	AllowCredentials []passkey.CredentialDescriptor `json:"allow_credentials"`

	// TimeoutMS is the ceremony timeout in milliseconds.
	TimeoutMS int64 `json:"timeout_ms"`

	// PublicKey is the full standard WebAuthn request options payload for
	// navigator.credentials.get.
	PublicKey json.RawMessage `json:"public_key,omitempty"`
}

// CompleteAuthenticationResponse is returned by POST /passkey-auth/complete.
// On failure the error field is always "authentication_failed": the public
// endpoint never reveals which stage rejected the attempt.
type CompleteAuthenticationResponse struct {
	Success      bool   `json:"success"`
	UserIdentity string `json:"user_identity,omitempty"`
	Error        string `json:"error,omitempty"`
}

// BeginRegistrationResponse is returned by POST /passkey/register/begin.
type BeginRegistrationResponse struct {
	Challenge string `json:"challenge"`
	RPID      string `json:"rp_id"`

	// User identifies the authenticated caller the credential will bind to.
	User passkey.Principal `json:"user"`

	// ExcludeCredentials lists the caller's existing credentials for this
	// relying party so the authenticator refuses to re-register them.
	ExcludeCredentials []passkey.CredentialDescriptor `json:"exclude_credentials"`

	// PublicKey is the full standard WebAuthn creation options payload for
	// navigator.credentials.create.
	PublicKey json.RawMessage `json:"public_key,omitempty"`
}

// CompleteRegistrationRequest is the body for POST /passkey/register/complete.
type CompleteRegistrationRequest struct {
	// Name is the display name for the new credential.
	Name string `json:"name"`

	// Credential is the authenticator's attestation response, passed
	// through verbatim.
	Credential json.RawMessage `json:"credential"`
}

// CompleteRegistrationResponse is returned by POST /passkey/register/complete.
type CompleteRegistrationResponse struct {
	Success      bool   `json:"success"`
	CredentialID string `json:"credential_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// CredentialSummary is one entry in the GET /passkey/manage listing.
type CredentialSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	RPID       string `json:"rp_id"`
	CreatedAt  string `json:"created_at"`
	LastUsedAt string `json:"last_used_at,omitempty"`
	BackedUp   bool   `json:"backed_up"`
}

// ManageResponse is returned by GET /passkey/manage.
type ManageResponse struct {
	Credentials []CredentialSummary `json:"credentials"`
}

// RenameRequest is the body for POST /passkey/rename/{id}.
type RenameRequest struct {
	Name string `json:"name"`
}

// StatusResponse is the generic success/failure body for management
// mutations.
type StatusResponse struct {
	Success bool `json:"success"`
}

// ErrorResponse is the response format for errors.
type ErrorResponse struct {
	// Error is the error code.
	Error string `json:"error"`

	// Message is a human-readable error message.
	Message string `json:"message,omitempty"`
}

// Error codes returned in ErrorResponse.
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeUnauthorized         = "unauthorized"
	ErrorCodeNotFound             = "not_found"
	ErrorCodeRegistrationFailed   = "registration_failed"
	ErrorCodeAuthenticationFailed = "authentication_failed"
	ErrorCodeInternalError        = "internal_error"
)

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

package passkey

import (
	"encoding/json"
	"time"
)

// ChallengeKind identifies which ceremony a challenge was issued for.
type ChallengeKind string

const (
	// KindRegistration marks a challenge issued for credential registration.
	KindRegistration ChallengeKind = "registration"

	// KindAuthentication marks a challenge issued for passwordless authentication.
	KindAuthentication ChallengeKind = "authentication"
)

// Challenge is a single-use, TTL-bounded ceremony challenge. It is created
// at ceremony begin and redeemed exactly once at ceremony complete.
type Challenge struct {
	// ID is the challenge's storage identifier.
	ID string `json:"id"`

	// Kind is the ceremony this challenge was issued for. Redemption fails
	// when the redeeming ceremony kind differs.
	Kind ChallengeKind `json:"kind"`

	// Value is the random challenge value, base64url-encoded, at least
	// 16 bytes of entropy. The value is handed to the client as part of the
	// ceremony options and is the redemption key.
	Value string `json:"value"`

	// OwnerID references the user the challenge was issued to. Set for
	// registration; empty for passwordless authentication.
	OwnerID string `json:"owner_id,omitempty"`

	// SessionToken is the opaque verifier session bound to this ceremony.
	SessionToken []byte `json:"session_token"`

	// RPID and Origin capture the relying party context resolved at begin.
	// Complete re-resolves and compares against these.
	RPID   string `json:"rp_id"`
	Origin string `json:"origin"`

	// CreatedAt is when the challenge was issued.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is CreatedAt plus the configured TTL.
	ExpiresAt time.Time `json:"expires_at"`

	// Used flips to true on redemption and never back.
	Used bool `json:"used"`
}

// Expired reports whether the challenge is past its TTL at the given time.
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Credential is a public-key credential stored by the relying party. It is
// the only durable state this package owns.
type Credential struct {
	// ID is the protocol-level credential identifier assigned by the
	// authenticator. Globally unique and immutable.
	ID []byte `json:"id"`

	// OwnerID references the owning user. Many credentials per user, one
	// user per credential.
	OwnerID string `json:"owner_id"`

	// PublicKey is the credential's public key in COSE format.
	PublicKey []byte `json:"public_key"`

	// SignCount is the signature counter for clone detection. It must never
	// be observed to decrease across verified authentications. An all-zero
	// counter means the authenticator does not implement counters.
	SignCount uint32 `json:"sign_count"`

	// RPID is the relying party identity the credential was registered
	// under. Credentials are only offered and accepted for ceremonies
	// resolved to the same RPID.
	RPID string `json:"rp_id"`

	// Name is the user-editable display name.
	Name string `json:"name"`

	// Transports lists the transports hinted by the authenticator
	// (e.g. "usb", "internal", "hybrid").
	Transports []string `json:"transports,omitempty"`

	// AttestationType indicates the attestation format used at registration.
	AttestationType string `json:"attestation_type,omitempty"`

	// AAGUID is the authenticator model identifier.
	AAGUID []byte `json:"aaguid,omitempty"`

	// Flags carries authenticator state reported at registration.
	Flags CredentialFlags `json:"flags"`

	// CreatedAt is when the credential was registered.
	CreatedAt time.Time `json:"created_at"`

	// LastUsedAt is when the credential last completed an authentication.
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// CredentialFlags contains authenticator capability and state flags.
type CredentialFlags struct {
	// UserPresent indicates the user was present during registration.
	UserPresent bool `json:"user_present"`

	// UserVerified indicates the user was verified (biometric, PIN).
	UserVerified bool `json:"user_verified"`

	// BackupEligible indicates the credential can be backed up.
	BackupEligible bool `json:"backup_eligible"`

	// BackupState indicates the credential is currently backed up.
	BackupState bool `json:"backup_state"`
}

// RelyingParty is the request-derived relying party context. It is never
// persisted; both fields come from the same inbound request, so RPID is a
// domain suffix of Origin's host by construction.
type RelyingParty struct {
	// ID is the request hostname without port.
	ID string `json:"rp_id"`

	// Origin is scheme://host with the port included when non-default.
	Origin string `json:"origin"`
}

// Principal identifies an already-authenticated caller for registration and
// credential management. Resolving principals is the caller's concern; this
// package only reads the reference.
type Principal struct {
	// ID is the user identifier in the external identity store.
	ID string `json:"id"`

	// Name is the human-readable account name shown in ceremony options.
	Name string `json:"name"`
}

// CredentialDescriptor identifies a credential in ceremony options
// (exclusion list at registration, allow-list at authentication).
type CredentialDescriptor struct {
	// ID is the base64url-encoded credential ID.
	ID string `json:"id"`

	// Transports hints which transports can reach the authenticator.
	Transports []string `json:"transports,omitempty"`
}

// CeremonyOptions are the parameters handed to the client at ceremony begin.
type CeremonyOptions struct {
	// Challenge is the base64url-encoded challenge value.
	Challenge string `json:"challenge"`

	// RPID is the relying party identity the ceremony is bound to.
	RPID string `json:"rp_id"`

	// Timeout is how long the client should wait for the authenticator.
	Timeout time.Duration `json:"-"`

	// User is set for registration ceremonies.
	User *Principal `json:"user,omitempty"`

	// ExcludeCredentials lists credentials the authenticator must not
	// re-register (registration only).
	ExcludeCredentials []CredentialDescriptor `json:"exclude_credentials,omitempty"`

	// AllowCredentials lists credentials eligible for the ceremony
	// (authentication only).
	AllowCredentials []CredentialDescriptor `json:"allow_credentials,omitempty"`

	// PublicKey is the verifier-produced options payload in standard
	// WebAuthn JSON form, suitable for navigator.credentials.* calls.
	PublicKey json.RawMessage `json:"public_key,omitempty"`
}

// VerifiedRegistration is the verifier's verdict on an attestation response.
type VerifiedRegistration struct {
	// CredentialID is the new credential's protocol-level identifier.
	CredentialID []byte

	// PublicKey is the credential public key in COSE format.
	PublicKey []byte

	// SignCount is the authenticator-reported initial counter.
	SignCount uint32

	// AttestationType is the verified attestation format.
	AttestationType string

	// Transports are the authenticator's transport hints.
	Transports []string

	// AAGUID is the authenticator model identifier.
	AAGUID []byte

	// Flags carries the authenticator state flags from the response.
	Flags CredentialFlags
}

// VerifiedAssertion is the verifier's verdict on an assertion response.
type VerifiedAssertion struct {
	// SignCount is the authenticator-reported new counter.
	SignCount uint32

	// UserVerified indicates the user was verified during the ceremony.
	UserVerified bool

	// BackupState is the credential's current backup state.
	BackupState bool
}

// AssertionClaims are the untrusted fields extracted from an assertion
// response before verification: enough to locate the stored credential and
// the challenge being redeemed.
type AssertionClaims struct {
	// CredentialID is the claimed credential identifier.
	CredentialID []byte

	// Challenge is the base64url challenge value echoed in client data.
	Challenge string

	// UserHandle is the claimed user handle, when present.
	UserHandle []byte
}

// AttestationClaims are the untrusted fields extracted from an attestation
// response before verification.
type AttestationClaims struct {
	// Challenge is the base64url challenge value echoed in client data.
	Challenge string
}

// Verdict is the outcome of a successful authentication, handed back to the
// caller for session issuance.
type Verdict struct {
	// UserID is the owning user of the asserted credential.
	UserID string `json:"user_id"`

	// CredentialID is the base64url-encoded credential that asserted.
	CredentialID string `json:"credential_id"`

	// UserVerified indicates the authenticator verified the user.
	UserVerified bool `json:"user_verified"`
}

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
	"context"
	"time"
)

// ChallengeStore persists ephemeral, single-use ceremony challenges.
type ChallengeStore interface {
	// Create persists a fully-populated challenge.
	Create(ctx context.Context, ch *Challenge) error

	// Redeem atomically fetches the challenge with the given value and marks
	// it used. Implementations must guarantee that concurrent redemptions of
	// the same value succeed at most once (conditional update, not
	// read-then-write).
	//
	// Returns ErrChallengeNotFound when the value is unknown or already used,
	// ErrChallengeExpired when the challenge is past its TTL (the row is
	// still marked used so retries cannot succeed), and
	// ErrChallengeKindMismatch when kind differs from the stored kind.
	Redeem(ctx context.Context, value string, kind ChallengeKind, now time.Time) (*Challenge, error)

	// SweepExpired deletes expired challenges and used challenges older than
	// the retention window. Idempotent; safe to run concurrently with Create
	// and Redeem. Returns the number of challenges removed.
	SweepExpired(ctx context.Context, now time.Time, retention time.Duration) (int, error)
}

// CredentialStore persists per-user public-key credentials, their relying
// party binding, and signature counters.
type CredentialStore interface {
	// GetByID retrieves a credential by its protocol-level identifier.
	// Returns ErrCredentialNotFound if it does not exist.
	GetByID(ctx context.Context, id []byte) (*Credential, error)

	// ListByOwnerAndRP retrieves a user's credentials bound to the given
	// relying party. Used for the exclusion list at registration and for
	// management views. Returns an empty slice when there are none.
	ListByOwnerAndRP(ctx context.Context, ownerID, rpID string) ([]*Credential, error)

	// ListByOwner retrieves all of a user's credentials across relying
	// parties.
	ListByOwner(ctx context.Context, ownerID string) ([]*Credential, error)

	// ListByRP retrieves every credential bound to the given relying party.
	// Used to build the allow-list for passwordless authentication.
	ListByRP(ctx context.Context, rpID string) ([]*Credential, error)

	// Insert stores a new credential. Returns ErrDuplicateCredential when
	// the credential ID already exists.
	Insert(ctx context.Context, cred *Credential) error

	// UpdateAfterAuthentication applies the authenticator-reported counter
	// via compare-and-set: the update succeeds only when newCount is
	// strictly greater than the stored counter, or when both are zero (the
	// authenticator does not implement counters). On regression it returns
	// ErrCounterRegression without mutating state.
	UpdateAfterAuthentication(ctx context.Context, id []byte, newCount uint32, usedAt time.Time) error

	// Rename updates a credential's display name, scoped to the owner.
	// Returns ErrCredentialNotFound when the ID is unknown and
	// ErrAccessDenied when the credential belongs to another user.
	Rename(ctx context.Context, id []byte, ownerID, name string) error

	// Delete removes a credential, scoped to the owner. Error contract as
	// for Rename.
	Delete(ctx context.Context, id []byte, ownerID string) error
}

// Verifier is the boundary to the cryptographic attestation/assertion
// validator. The production implementation wraps go-webauthn; the interface
// is deliberately narrow so alternative verifier libraries can be swapped
// without touching the coordinators.
//
// The session token returned by the Begin methods is opaque to callers; it
// is stored on the challenge and handed back to the matching Finish method.
type Verifier interface {
	// BeginRegistration produces ceremony options and a session token for
	// registering a credential to the given user.
	BeginRegistration(rp RelyingParty, user Principal, exclude []*Credential) (*CeremonyOptions, []byte, error)

	// FinishRegistration validates an attestation response against the
	// session and the relying party context. Any rejection or unexpected
	// failure surfaces as ErrVerificationFailed.
	FinishRegistration(rp RelyingParty, session []byte, response []byte) (*VerifiedRegistration, error)

	// BeginAuthentication produces ceremony options and a session token for
	// a passwordless login restricted to the allowed credentials.
	BeginAuthentication(rp RelyingParty, allow []*Credential) (*CeremonyOptions, []byte, error)

	// FinishAuthentication validates an assertion response against the
	// session, the relying party context, and the stored credential.
	FinishAuthentication(rp RelyingParty, session []byte, cred *Credential, response []byte) (*VerifiedAssertion, error)

	// ParseAttestation extracts untrusted claims from an attestation
	// response without validating it.
	ParseAttestation(response []byte) (*AttestationClaims, error)

	// ParseAssertion extracts untrusted claims from an assertion response
	// without validating it.
	ParseAssertion(response []byte) (*AssertionClaims, error)
}

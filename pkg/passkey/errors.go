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
	"errors"
	"fmt"
)

// Sentinel errors for ceremony and credential operations.
var (
	// ErrChallengeNotFound is returned when a challenge value is unknown or
	// has already been redeemed. The two cases are deliberately not
	// distinguishable: redemption is at-most-once.
	ErrChallengeNotFound = errors.New("challenge not found or already used")

	// ErrChallengeExpired is returned when a challenge is redeemed after its TTL.
	ErrChallengeExpired = errors.New("challenge expired")

	// ErrChallengeKindMismatch is returned when a challenge issued for one
	// ceremony kind is redeemed by the other.
	ErrChallengeKindMismatch = errors.New("challenge kind mismatch")

	// ErrOwnerMismatch is returned when a registration challenge is completed
	// by a caller other than the one it was issued to.
	ErrOwnerMismatch = errors.New("challenge owner mismatch")

	// ErrRelyingPartyMismatch is returned when the relying party resolved at
	// complete does not match the one captured at begin, or when a credential
	// bound to one relying party is presented under another.
	ErrRelyingPartyMismatch = errors.New("relying party mismatch")

	// ErrCredentialNotFound is returned when a credential cannot be found.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrDuplicateCredential is returned when registering a credential ID
	// that already exists.
	ErrDuplicateCredential = errors.New("credential already exists")

	// ErrCounterRegression is returned when an assertion carries a signature
	// counter lower than or equal to the stored one. This indicates a cloned
	// authenticator; authentication must fail even though the signature
	// itself verified.
	ErrCounterRegression = errors.New("signature counter regression: possible cloned authenticator")

	// ErrVerificationFailed wraps any rejection from the credential verifier
	// boundary, including unexpected verifier failures (fail closed).
	ErrVerificationFailed = errors.New("verification failed")

	// ErrAccessDenied is returned when a caller attempts to mutate a
	// credential owned by another user. Handlers must surface it exactly
	// like ErrCredentialNotFound to avoid existence oracles; the distinct
	// sentinel exists for audit logging.
	ErrAccessDenied = errors.New("access denied")

	// ErrNotConfigured is returned when the service is not properly configured.
	ErrNotConfigured = errors.New("passkey service not configured")
)

// Error wraps an error with the operation that produced it.
type Error struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new Error with the given operation and cause.
func NewError(op string, err error) error {
	return &Error{
		Op:  op,
		Err: err,
	}
}

// WrapError wraps an error with an operation name if it's not nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(op, err)
}

// IsChallengeNotFound returns true if the error indicates an unknown or
// already-used challenge.
func IsChallengeNotFound(err error) bool {
	return errors.Is(err, ErrChallengeNotFound)
}

// IsChallengeExpired returns true if the error indicates an expired challenge.
func IsChallengeExpired(err error) bool {
	return errors.Is(err, ErrChallengeExpired)
}

// IsCredentialNotFound returns true if the error indicates a credential was not found.
func IsCredentialNotFound(err error) bool {
	return errors.Is(err, ErrCredentialNotFound)
}

// IsCounterRegression returns true if the error indicates a suspected
// cloned authenticator.
func IsCounterRegression(err error) bool {
	return errors.Is(err, ErrCounterRegression)
}

// IsAccessDenied returns true if the error indicates a cross-user mutation
// attempt.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsVerificationFailed returns true if the error indicates verification failed.
func IsVerificationFailed(err error) bool {
	return errors.Is(err, ErrVerificationFailed)
}

// IsCeremonyFailure returns true for any expected failure of untrusted
// client input. Public endpoints collapse all of these into a single
// uniform response.
func IsCeremonyFailure(err error) bool {
	switch {
	case errors.Is(err, ErrChallengeNotFound),
		errors.Is(err, ErrChallengeExpired),
		errors.Is(err, ErrChallengeKindMismatch),
		errors.Is(err, ErrOwnerMismatch),
		errors.Is(err, ErrRelyingPartyMismatch),
		errors.Is(err, ErrCredentialNotFound),
		errors.Is(err, ErrDuplicateCredential),
		errors.Is(err, ErrCounterRegression),
		errors.Is(err, ErrVerificationFailed):
		return true
	}
	return false
}

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
	"io"
	"log/slog"
	"testing"

	"github.com/descope/virtualwebauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newIntegrationService builds a service wired to the real go-webauthn
// verifier and in-memory stores, mirroring a single-node deployment.
func newIntegrationService(t *testing.T) *Service {
	t.Helper()

	cfg := &Config{RPDisplayName: "Example Corp"}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	svc, err := NewService(ServiceParams{
		Config:          cfg,
		ChallengeStore:  NewMemoryChallengeStore(),
		CredentialStore: NewMemoryCredentialStore(),
		Verifier:        NewWebauthnVerifier(cfg),
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return svc
}

// virtualRP mirrors the service-side relying party for the virtual
// authenticator.
func virtualRP(rp RelyingParty) virtualwebauthn.RelyingParty {
	return virtualwebauthn.RelyingParty{
		Name:   "Example Corp",
		ID:     rp.ID,
		Origin: rp.Origin,
	}
}

// registerCredential runs a full registration ceremony against the service
// and returns the stored credential alongside the virtual authenticator
// state needed for subsequent logins.
func registerCredential(t *testing.T, svc *Service, rp RelyingParty, owner Principal, auth virtualwebauthn.Authenticator, cred virtualwebauthn.Credential) *Credential {
	t.Helper()

	opts, err := svc.BeginRegistration(testContext, rp, owner)
	require.NoError(t, err)
	require.NotEmpty(t, opts.Challenge)

	parsed, err := virtualwebauthn.ParseAttestationOptions(string(opts.PublicKey))
	require.NoError(t, err)

	attestation := virtualwebauthn.CreateAttestationResponse(virtualRP(rp), auth, cred, *parsed)

	stored, err := svc.FinishRegistration(testContext, rp, owner, "YubiKey 5C", []byte(attestation))
	require.NoError(t, err)
	require.NotNil(t, stored)
	return stored
}

// TestIntegration_RegistrationFlow runs a complete registration ceremony
// using a virtual authenticator and the real cryptographic verifier.
func TestIntegration_RegistrationFlow(t *testing.T) {
	svc := newIntegrationService(t)

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	stored := registerCredential(t, svc, testRP, testOwner, auth, cred)

	assert.Equal(t, testOwner.ID, stored.OwnerID)
	assert.Equal(t, testRP.ID, stored.RPID)
	assert.Equal(t, "YubiKey 5C", stored.Name)
	assert.NotEmpty(t, stored.ID)
	assert.NotEmpty(t, stored.PublicKey)

	creds, err := svc.ListCredentials(testContext, testOwner)
	require.NoError(t, err)
	require.Len(t, creds, 1)
}

// TestIntegration_AuthenticationFlow registers a credential and then runs a
// passwordless login with it.
func TestIntegration_AuthenticationFlow(t *testing.T) {
	svc := newIntegrationService(t)

	auth := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{
		UserHandle: []byte(testOwner.ID),
	})
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	registerCredential(t, svc, testRP, testOwner, auth, cred)
	auth.AddCredential(cred)

	opts, err := svc.BeginAuthentication(testContext, testRP)
	require.NoError(t, err)
	require.NotEmpty(t, opts.Challenge)
	require.Len(t, opts.AllowCredentials, 1)

	parsed, err := virtualwebauthn.ParseAssertionOptions(string(opts.PublicKey))
	require.NoError(t, err)

	assertion := virtualwebauthn.CreateAssertionResponse(virtualRP(testRP), auth, cred, *parsed)

	verdict, err := svc.FinishAuthentication(testContext, testRP, []byte(assertion))
	require.NoError(t, err)
	assert.Equal(t, testOwner.ID, verdict.UserID)
}

// TestIntegration_AssertionReplay verifies the same signed assertion cannot
// redeem its challenge twice.
func TestIntegration_AssertionReplay(t *testing.T) {
	svc := newIntegrationService(t)

	auth := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{
		UserHandle: []byte(testOwner.ID),
	})
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	registerCredential(t, svc, testRP, testOwner, auth, cred)
	auth.AddCredential(cred)

	opts, err := svc.BeginAuthentication(testContext, testRP)
	require.NoError(t, err)

	parsed, err := virtualwebauthn.ParseAssertionOptions(string(opts.PublicKey))
	require.NoError(t, err)
	assertion := virtualwebauthn.CreateAssertionResponse(virtualRP(testRP), auth, cred, *parsed)

	_, err = svc.FinishAuthentication(testContext, testRP, []byte(assertion))
	require.NoError(t, err)

	_, err = svc.FinishAuthentication(testContext, testRP, []byte(assertion))
	require.Error(t, err)
	assert.True(t, IsChallengeNotFound(err))
}

// TestIntegration_RelyingPartyMismatch begins a ceremony on one hostname and
// completes it on another. The challenge must be rejected and consumed.
func TestIntegration_RelyingPartyMismatch(t *testing.T) {
	svc := newIntegrationService(t)

	auth := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{
		UserHandle: []byte(testOwner.ID),
	})
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	registerCredential(t, svc, testRP, testOwner, auth, cred)
	auth.AddCredential(cred)

	opts, err := svc.BeginAuthentication(testContext, testRP)
	require.NoError(t, err)

	parsed, err := virtualwebauthn.ParseAssertionOptions(string(opts.PublicKey))
	require.NoError(t, err)
	assertion := virtualwebauthn.CreateAssertionResponse(virtualRP(testRP), auth, cred, *parsed)

	otherRP := RelyingParty{ID: "login.example.net", Origin: "https://login.example.net"}
	_, err = svc.FinishAuthentication(testContext, otherRP, []byte(assertion))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRelyingPartyMismatch)

	// The mismatch consumed the challenge; the correct host cannot finish
	// the ceremony either.
	_, err = svc.FinishAuthentication(testContext, testRP, []byte(assertion))
	assert.True(t, IsChallengeNotFound(err))
}

// TestIntegration_TamperedOrigin signs an assertion with a mismatched origin
// in the client data. The verifier must reject it.
func TestIntegration_TamperedOrigin(t *testing.T) {
	svc := newIntegrationService(t)

	auth := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{
		UserHandle: []byte(testOwner.ID),
	})
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	registerCredential(t, svc, testRP, testOwner, auth, cred)
	auth.AddCredential(cred)

	opts, err := svc.BeginAuthentication(testContext, testRP)
	require.NoError(t, err)
	parsed, err := virtualwebauthn.ParseAssertionOptions(string(opts.PublicKey))
	require.NoError(t, err)

	evilRP := virtualwebauthn.RelyingParty{
		Name:   "Example Corp",
		ID:     testRP.ID,
		Origin: "https://evil.example.net",
	}
	assertion := virtualwebauthn.CreateAssertionResponse(evilRP, auth, cred, *parsed)

	_, err = svc.FinishAuthentication(testContext, testRP, []byte(assertion))
	require.Error(t, err)
	assert.True(t, IsVerificationFailed(err))
}

// TestIntegration_ExclusionList verifies a second registration ceremony for
// the same owner excludes the already-registered credential.
func TestIntegration_ExclusionList(t *testing.T) {
	svc := newIntegrationService(t)

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	registerCredential(t, svc, testRP, testOwner, auth, cred)

	opts, err := svc.BeginRegistration(testContext, testRP, testOwner)
	require.NoError(t, err)
	require.Len(t, opts.ExcludeCredentials, 1)
}

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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// WebauthnVerifier implements Verifier on top of the go-webauthn library.
//
// The library is configured with a static RPID and origin list, but this
// service resolves the relying party per request. The verifier therefore
// builds one library instance per resolved context and caches it; the cache
// is small in practice (one entry per deployment hostname).
type WebauthnVerifier struct {
	config *Config

	mu        sync.RWMutex
	instances map[string]*webauthn.WebAuthn
}

// NewWebauthnVerifier creates a verifier backed by go-webauthn. The config
// must already be validated.
func NewWebauthnVerifier(config *Config) *WebauthnVerifier {
	return &WebauthnVerifier{
		config:    config,
		instances: make(map[string]*webauthn.WebAuthn),
	}
}

// instance returns the cached go-webauthn instance for the relying party,
// creating it on first use.
func (v *WebauthnVerifier) instance(rp RelyingParty) (*webauthn.WebAuthn, error) {
	key := rp.ID + "|" + rp.Origin

	v.mu.RLock()
	wa, ok := v.instances[key]
	v.mu.RUnlock()
	if ok {
		return wa, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if wa, ok = v.instances[key]; ok {
		return wa, nil
	}

	wa, err := webauthn.New(v.webauthnConfig(rp))
	if err != nil {
		return nil, fmt.Errorf("create webauthn instance for %q: %w", rp.ID, err)
	}
	v.instances[key] = wa
	return wa, nil
}

// webauthnConfig maps the service configuration and the resolved relying
// party onto the library configuration.
func (v *WebauthnVerifier) webauthnConfig(rp RelyingParty) *webauthn.Config {
	cfg := &webauthn.Config{
		RPID:          rp.ID,
		RPDisplayName: v.config.RPDisplayName,
		RPOrigins:     []string{rp.Origin},
		Debug:         v.config.Debug,
	}

	if v.config.CeremonyTimeout > 0 {
		cfg.Timeouts = webauthn.TimeoutsConfig{
			Login: webauthn.TimeoutConfig{
				Enforce:    true,
				Timeout:    v.config.CeremonyTimeout,
				TimeoutUVD: v.config.CeremonyTimeout,
			},
			Registration: webauthn.TimeoutConfig{
				Enforce:    true,
				Timeout:    v.config.CeremonyTimeout,
				TimeoutUVD: v.config.CeremonyTimeout,
			},
		}
	}

	switch v.config.AttestationPreference {
	case "none":
		cfg.AttestationPreference = protocol.PreferNoAttestation
	case "indirect":
		cfg.AttestationPreference = protocol.PreferIndirectAttestation
	case "direct":
		cfg.AttestationPreference = protocol.PreferDirectAttestation
	case "enterprise":
		cfg.AttestationPreference = protocol.PreferEnterpriseAttestation
	}

	cfg.AuthenticatorSelection = protocol.AuthenticatorSelection{}

	switch v.config.UserVerification {
	case "required":
		cfg.AuthenticatorSelection.UserVerification = protocol.VerificationRequired
	case "preferred":
		cfg.AuthenticatorSelection.UserVerification = protocol.VerificationPreferred
	case "discouraged":
		cfg.AuthenticatorSelection.UserVerification = protocol.VerificationDiscouraged
	}

	switch v.config.ResidentKeyRequirement {
	case "required":
		cfg.AuthenticatorSelection.ResidentKey = protocol.ResidentKeyRequirementRequired
	case "preferred":
		cfg.AuthenticatorSelection.ResidentKey = protocol.ResidentKeyRequirementPreferred
	case "discouraged":
		cfg.AuthenticatorSelection.ResidentKey = protocol.ResidentKeyRequirementDiscouraged
	}

	switch v.config.AuthenticatorAttachment {
	case "platform":
		cfg.AuthenticatorSelection.AuthenticatorAttachment = protocol.Platform
	case "cross-platform":
		cfg.AuthenticatorSelection.AuthenticatorAttachment = protocol.CrossPlatform
	}

	return cfg
}

// BeginRegistration produces registration options and an opaque session
// token for the given user.
func (v *WebauthnVerifier) BeginRegistration(rp RelyingParty, user Principal, exclude []*Credential) (*CeremonyOptions, []byte, error) {
	wa, err := v.instance(rp)
	if err != nil {
		return nil, nil, err
	}

	wuser := &ceremonyUser{id: []byte(user.ID), name: user.Name}

	excludeList := make([]protocol.CredentialDescriptor, len(exclude))
	for i, cred := range exclude {
		excludeList[i] = protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: cred.ID,
			Transport:    toProtocolTransports(cred.Transports),
		}
	}

	creation, session, err := wa.BeginRegistration(wuser, webauthn.WithExclusions(excludeList))
	if err != nil {
		return nil, nil, fmt.Errorf("begin registration: %w", err)
	}

	token, err := json.Marshal(session)
	if err != nil {
		return nil, nil, fmt.Errorf("encode session: %w", err)
	}

	publicKey, err := json.Marshal(creation.Response)
	if err != nil {
		return nil, nil, fmt.Errorf("encode options: %w", err)
	}

	opts := &CeremonyOptions{
		Challenge:          base64.RawURLEncoding.EncodeToString(creation.Response.Challenge),
		RPID:               rp.ID,
		Timeout:            v.config.CeremonyTimeout,
		User:               &user,
		ExcludeCredentials: toDescriptors(exclude),
		PublicKey:          publicKey,
	}
	return opts, token, nil
}

// FinishRegistration validates an attestation response. Every failure mode,
// including unexpected ones, surfaces as ErrVerificationFailed.
func (v *WebauthnVerifier) FinishRegistration(rp RelyingParty, session []byte, response []byte) (verified *VerifiedRegistration, err error) {
	defer failClosed(&err)

	wa, err := v.instance(rp)
	if err != nil {
		return nil, WrapError("verifier", err)
	}

	var data webauthn.SessionData
	if err := json.Unmarshal(session, &data); err != nil {
		return nil, NewError("decode session", ErrVerificationFailed)
	}

	parsed, err := protocol.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return nil, &Error{Op: "parse attestation", Err: fmt.Errorf("%w: %v", ErrVerificationFailed, err)}
	}

	wuser := &ceremonyUser{id: data.UserID}
	credential, err := wa.CreateCredential(wuser, data, parsed)
	if err != nil {
		return nil, &Error{Op: "create credential", Err: fmt.Errorf("%w: %v", ErrVerificationFailed, err)}
	}

	return &VerifiedRegistration{
		CredentialID:    credential.ID,
		PublicKey:       credential.PublicKey,
		SignCount:       credential.Authenticator.SignCount,
		AttestationType: credential.AttestationType,
		Transports:      fromProtocolTransports(credential.Transport),
		AAGUID:          credential.Authenticator.AAGUID,
		Flags: CredentialFlags{
			UserPresent:    credential.Flags.UserPresent,
			UserVerified:   credential.Flags.UserVerified,
			BackupEligible: credential.Flags.BackupEligible,
			BackupState:    credential.Flags.BackupState,
		},
	}, nil
}

// BeginAuthentication produces assertion options and an opaque session token
// for a passwordless login. The allow-list restricts the ceremony to
// credentials bound to the resolved relying party.
func (v *WebauthnVerifier) BeginAuthentication(rp RelyingParty, allow []*Credential) (*CeremonyOptions, []byte, error) {
	wa, err := v.instance(rp)
	if err != nil {
		return nil, nil, err
	}

	var loginOpts []webauthn.LoginOption
	if len(allow) > 0 {
		allowList := make([]protocol.CredentialDescriptor, len(allow))
		for i, cred := range allow {
			allowList[i] = protocol.CredentialDescriptor{
				Type:         protocol.PublicKeyCredentialType,
				CredentialID: cred.ID,
				Transport:    toProtocolTransports(cred.Transports),
			}
		}
		loginOpts = append(loginOpts, webauthn.WithAllowedCredentials(allowList))
	}

	assertion, session, err := wa.BeginDiscoverableLogin(loginOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("begin authentication: %w", err)
	}

	token, err := json.Marshal(session)
	if err != nil {
		return nil, nil, fmt.Errorf("encode session: %w", err)
	}

	publicKey, err := json.Marshal(assertion.Response)
	if err != nil {
		return nil, nil, fmt.Errorf("encode options: %w", err)
	}

	opts := &CeremonyOptions{
		Challenge:        base64.RawURLEncoding.EncodeToString(assertion.Response.Challenge),
		RPID:             rp.ID,
		Timeout:          v.config.CeremonyTimeout,
		AllowCredentials: toDescriptors(allow),
		PublicKey:        publicKey,
	}
	return opts, token, nil
}

// FinishAuthentication validates an assertion response against the stored
// credential. Every failure mode surfaces as ErrVerificationFailed.
func (v *WebauthnVerifier) FinishAuthentication(rp RelyingParty, session []byte, cred *Credential, response []byte) (verified *VerifiedAssertion, err error) {
	defer failClosed(&err)

	wa, err := v.instance(rp)
	if err != nil {
		return nil, WrapError("verifier", err)
	}

	var data webauthn.SessionData
	if err := json.Unmarshal(session, &data); err != nil {
		return nil, NewError("decode session", ErrVerificationFailed)
	}

	parsed, err := protocol.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return nil, &Error{Op: "parse assertion", Err: fmt.Errorf("%w: %v", ErrVerificationFailed, err)}
	}

	handler := func(rawID, userHandle []byte) (webauthn.User, error) {
		if string(rawID) != string(cred.ID) {
			return nil, ErrCredentialNotFound
		}
		id := userHandle
		if len(id) == 0 {
			id = []byte(cred.OwnerID)
		}
		return &ceremonyUser{id: id, credentials: []webauthn.Credential{toWebauthnCredential(cred)}}, nil
	}

	_, validated, err := wa.ValidatePasskeyLogin(handler, data, parsed)
	if err != nil {
		return nil, &Error{Op: "validate assertion", Err: fmt.Errorf("%w: %v", ErrVerificationFailed, err)}
	}

	return &VerifiedAssertion{
		SignCount:    validated.Authenticator.SignCount,
		UserVerified: validated.Flags.UserVerified,
		BackupState:  validated.Flags.BackupState,
	}, nil
}

// ParseAttestation extracts untrusted claims from an attestation response.
func (v *WebauthnVerifier) ParseAttestation(response []byte) (*AttestationClaims, error) {
	parsed, err := protocol.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return nil, &Error{Op: "parse attestation", Err: fmt.Errorf("%w: %v", ErrVerificationFailed, err)}
	}
	return &AttestationClaims{
		Challenge: parsed.Response.CollectedClientData.Challenge,
	}, nil
}

// ParseAssertion extracts untrusted claims from an assertion response.
func (v *WebauthnVerifier) ParseAssertion(response []byte) (*AssertionClaims, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return nil, &Error{Op: "parse assertion", Err: fmt.Errorf("%w: %v", ErrVerificationFailed, err)}
	}
	return &AssertionClaims{
		CredentialID: parsed.RawID,
		Challenge:    parsed.Response.CollectedClientData.Challenge,
		UserHandle:   parsed.Response.UserHandle,
	}, nil
}

// failClosed converts a panic escaping the verifier boundary into
// ErrVerificationFailed. The verifier parses attacker-controlled input; a
// crash must never be observable as anything but a rejection.
func failClosed(err *error) {
	if r := recover(); r != nil {
		*err = &Error{Op: "verifier", Err: fmt.Errorf("%w: panic: %v", ErrVerificationFailed, r)}
	}
}

// ceremonyUser adapts a principal and its credentials to the go-webauthn
// user contract for the duration of one ceremony.
type ceremonyUser struct {
	id          []byte
	name        string
	credentials []webauthn.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return u.id
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.name
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	return u.name
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

// toWebauthnCredential converts a stored credential to the library type.
func toWebauthnCredential(c *Credential) webauthn.Credential {
	return webauthn.Credential{
		ID:              c.ID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       toProtocolTransports(c.Transports),
		Flags: webauthn.CredentialFlags{
			UserPresent:    c.Flags.UserPresent,
			UserVerified:   c.Flags.UserVerified,
			BackupEligible: c.Flags.BackupEligible,
			BackupState:    c.Flags.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    c.AAGUID,
			SignCount: c.SignCount,
		},
	}
}

func toProtocolTransports(transports []string) []protocol.AuthenticatorTransport {
	out := make([]protocol.AuthenticatorTransport, len(transports))
	for i, t := range transports {
		out[i] = protocol.AuthenticatorTransport(t)
	}
	return out
}

func fromProtocolTransports(transports []protocol.AuthenticatorTransport) []string {
	out := make([]string, len(transports))
	for i, t := range transports {
		out[i] = string(t)
	}
	return out
}

// toDescriptors converts stored credentials to wire descriptors for
// ceremony options.
func toDescriptors(creds []*Credential) []CredentialDescriptor {
	out := make([]CredentialDescriptor, len(creds))
	for i, cred := range creds {
		out[i] = CredentialDescriptor{
			ID:         base64.RawURLEncoding.EncodeToString(cred.ID),
			Transports: cred.Transports,
		}
	}
	return out
}

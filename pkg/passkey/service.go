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
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jeremyhahn/go-passkey/pkg/metrics"
)

// Service orchestrates passkey ceremonies: challenge issuance and
// redemption, registration, passwordless authentication, and credential
// management. All security decisions (single-use challenges, relying party
// binding, counter monotonicity) are made here or in the stores it drives;
// the cryptographic validation itself is delegated to the Verifier.
type Service struct {
	config     *Config
	challenges ChallengeStore
	creds      CredentialStore
	verifier   Verifier
	logger     *slog.Logger
	now        func() time.Time
	configured bool
}

// ServiceParams contains dependencies for creating a passkey service.
type ServiceParams struct {
	// Config is the passkey configuration (required).
	Config *Config

	// ChallengeStore is the ephemeral challenge persistence layer (required).
	ChallengeStore ChallengeStore

	// CredentialStore is the credential persistence layer (required).
	CredentialStore CredentialStore

	// Verifier is the cryptographic verification boundary (required).
	Verifier Verifier

	// Logger receives internal failure detail. Defaults to slog.Default().
	Logger *slog.Logger

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// NewService creates a new passkey service with the provided dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if params.ChallengeStore == nil {
		return nil, fmt.Errorf("challenge store is required")
	}
	if params.CredentialStore == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if params.Verifier == nil {
		return nil, fmt.Errorf("verifier is required")
	}

	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		config:     params.Config,
		challenges: params.ChallengeStore,
		creds:      params.CredentialStore,
		verifier:   params.Verifier,
		logger:     logger,
		now:        now,
		configured: true,
	}, nil
}

// BeginRegistration starts a registration ceremony for an already
// authenticated caller. It builds the exclusion list from the caller's
// credentials bound to the resolved relying party, issues a registration
// challenge, and returns the ceremony options for the client.
func (s *Service) BeginRegistration(ctx context.Context, rp RelyingParty, owner Principal) (opts *CeremonyOptions, err error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}
	defer s.observe(metrics.CeremonyRegistration, metrics.PhaseBegin, rp.ID, s.now(), &err)
	if owner.ID == "" {
		return nil, NewError("begin registration", fmt.Errorf("owner is required"))
	}

	exclude, err := s.creds.ListByOwnerAndRP(ctx, owner.ID, rp.ID)
	if err != nil {
		return nil, WrapError("list credentials", err)
	}

	opts, session, err := s.verifier.BeginRegistration(rp, owner, exclude)
	if err != nil {
		return nil, WrapError("begin registration", err)
	}

	if err := s.createChallenge(ctx, KindRegistration, owner.ID, opts.Challenge, session, rp); err != nil {
		return nil, err
	}

	return opts, nil
}

// FinishRegistration completes a registration ceremony. The challenge is
// redeemed exactly once, its bound owner must match the caller, and the
// relying party is re-resolved from the live request and compared against
// the context captured at begin. Nothing is persisted unless every check
// and the cryptographic verification succeed.
func (s *Service) FinishRegistration(ctx context.Context, rp RelyingParty, owner Principal, name string, response []byte) (cred *Credential, err error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}
	defer s.observe(metrics.CeremonyRegistration, metrics.PhaseComplete, rp.ID, s.now(), &err)

	claims, err := s.verifier.ParseAttestation(response)
	if err != nil {
		return nil, err
	}

	ch, err := s.redeemChallenge(ctx, claims.Challenge, KindRegistration)
	if err != nil {
		return nil, err
	}

	if ch.OwnerID != owner.ID {
		s.logger.Warn("registration challenge owner mismatch",
			"challenge_owner", ch.OwnerID,
			"caller", owner.ID)
		return nil, NewError("finish registration", ErrOwnerMismatch)
	}

	if !rp.Equal(RelyingParty{ID: ch.RPID, Origin: ch.Origin}) {
		s.logger.Warn("relying party changed between begin and complete",
			"begin_rp", ch.RPID,
			"complete_rp", rp.ID)
		return nil, NewError("finish registration", ErrRelyingPartyMismatch)
	}

	verified, err := s.verifier.FinishRegistration(rp, ch.SessionToken, response)
	if err != nil {
		return nil, err
	}

	cred = &Credential{
		ID:              verified.CredentialID,
		OwnerID:         owner.ID,
		PublicKey:       verified.PublicKey,
		SignCount:       verified.SignCount,
		RPID:            rp.ID,
		Name:            name,
		Transports:      verified.Transports,
		AttestationType: verified.AttestationType,
		AAGUID:          verified.AAGUID,
		Flags:           verified.Flags,
		CreatedAt:       s.now().UTC(),
	}

	if err := s.creds.Insert(ctx, cred); err != nil {
		return nil, WrapError("insert credential", err)
	}

	s.logger.Info("credential registered",
		"owner", owner.ID,
		"rp_id", rp.ID,
		"credential", base64.RawURLEncoding.EncodeToString(cred.ID))
	return cred, nil
}

// BeginAuthentication starts a passwordless authentication ceremony. No
// user identity is known at this point; the allow-list is restricted to
// credentials bound to the resolved relying party, which is what keeps a
// credential registered under one hostname from ever being offered under
// another.
func (s *Service) BeginAuthentication(ctx context.Context, rp RelyingParty) (opts *CeremonyOptions, err error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}
	defer s.observe(metrics.CeremonyAuthentication, metrics.PhaseBegin, rp.ID, s.now(), &err)

	allow, err := s.creds.ListByRP(ctx, rp.ID)
	if err != nil {
		return nil, WrapError("list credentials", err)
	}

	opts, session, err := s.verifier.BeginAuthentication(rp, allow)
	if err != nil {
		return nil, WrapError("begin authentication", err)
	}

	if err := s.createChallenge(ctx, KindAuthentication, "", opts.Challenge, session, rp); err != nil {
		return nil, err
	}

	return opts, nil
}

// FinishAuthentication completes a passwordless authentication ceremony and
// returns the owning user for session issuance. Counter regression fails the
// authentication even when the signature itself verified: a lower counter
// means a clone of the authenticator has been used since.
func (s *Service) FinishAuthentication(ctx context.Context, rp RelyingParty, response []byte) (verdict *Verdict, err error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}
	defer s.observe(metrics.CeremonyAuthentication, metrics.PhaseComplete, rp.ID, s.now(), &err)

	claims, err := s.verifier.ParseAssertion(response)
	if err != nil {
		return nil, err
	}

	cred, err := s.creds.GetByID(ctx, claims.CredentialID)
	if err != nil {
		return nil, WrapError("lookup credential", err)
	}

	ch, err := s.redeemChallenge(ctx, claims.Challenge, KindAuthentication)
	if err != nil {
		return nil, err
	}

	if !rp.Equal(RelyingParty{ID: ch.RPID, Origin: ch.Origin}) {
		s.logger.Warn("relying party changed between begin and complete",
			"begin_rp", ch.RPID,
			"complete_rp", rp.ID)
		return nil, NewError("finish authentication", ErrRelyingPartyMismatch)
	}

	if cred.RPID != rp.ID {
		s.logger.Warn("credential presented under foreign relying party",
			"credential_rp", cred.RPID,
			"resolved_rp", rp.ID,
			"credential", base64.RawURLEncoding.EncodeToString(cred.ID))
		return nil, NewError("finish authentication", ErrRelyingPartyMismatch)
	}

	verified, err := s.verifier.FinishAuthentication(rp, ch.SessionToken, cred, response)
	if err != nil {
		return nil, err
	}

	if err := s.creds.UpdateAfterAuthentication(ctx, cred.ID, verified.SignCount, s.now().UTC()); err != nil {
		if IsCounterRegression(err) {
			// Security signal, not just a failed login: the signature was
			// valid but the counter went backwards.
			metrics.RecordCounterRegression(rp.ID)
			s.logger.Error("signature counter regression detected",
				"credential", base64.RawURLEncoding.EncodeToString(cred.ID),
				"owner", cred.OwnerID,
				"stored_count", cred.SignCount,
				"asserted_count", verified.SignCount)
		}
		return nil, WrapError("update credential", err)
	}

	s.logger.Info("authentication succeeded",
		"owner", cred.OwnerID,
		"rp_id", rp.ID,
		"credential", base64.RawURLEncoding.EncodeToString(cred.ID))

	return &Verdict{
		UserID:       cred.OwnerID,
		CredentialID: base64.RawURLEncoding.EncodeToString(cred.ID),
		UserVerified: verified.UserVerified,
	}, nil
}

// ListCredentials returns all of the caller's credentials across relying
// parties, for management views.
func (s *Service) ListCredentials(ctx context.Context, owner Principal) ([]*Credential, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}
	return s.creds.ListByOwner(ctx, owner.ID)
}

// RenameCredential updates the display name of a caller-owned credential.
func (s *Service) RenameCredential(ctx context.Context, owner Principal, id []byte, name string) error {
	if !s.configured {
		return ErrNotConfigured
	}
	if name == "" {
		return NewError("rename credential", fmt.Errorf("name is required"))
	}
	return s.auditOwnership("rename credential", owner, id, s.creds.Rename(ctx, id, owner.ID, name))
}

// DeleteCredential removes a caller-owned credential.
func (s *Service) DeleteCredential(ctx context.Context, owner Principal, id []byte) error {
	if !s.configured {
		return ErrNotConfigured
	}
	return s.auditOwnership("delete credential", owner, id, s.creds.Delete(ctx, id, owner.ID))
}

// SweepChallenges reclaims expired challenges and redeemed challenges past
// the retention window. Idempotent and independent of ceremony logic.
func (s *Service) SweepChallenges(ctx context.Context) (int, error) {
	if !s.configured {
		return 0, ErrNotConfigured
	}
	count, err := s.challenges.SweepExpired(ctx, s.now().UTC(), s.config.UsedRetention)
	if err != nil {
		return 0, WrapError("sweep challenges", err)
	}
	if count > 0 {
		metrics.RecordChallengesSwept(int64(count))
		s.logger.Debug("swept challenges", "count", count)
	}
	return count, nil
}

// Config returns the service configuration.
func (s *Service) Config() *Config {
	return s.config
}

// createChallenge persists a challenge for the given ceremony.
func (s *Service) createChallenge(ctx context.Context, kind ChallengeKind, ownerID, value string, session []byte, rp RelyingParty) error {
	now := s.now().UTC()
	ch := &Challenge{
		ID:           uuid.NewString(),
		Kind:         kind,
		Value:        value,
		OwnerID:      ownerID,
		SessionToken: session,
		RPID:         rp.ID,
		Origin:       rp.Origin,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.config.ChallengeTTL),
	}
	if err := s.challenges.Create(ctx, ch); err != nil {
		return WrapError("create challenge", err)
	}
	metrics.RecordChallengeIssued(string(kind))
	return nil
}

// redeemChallenge marks the challenge used, exactly once.
func (s *Service) redeemChallenge(ctx context.Context, value string, kind ChallengeKind) (*Challenge, error) {
	ch, err := s.challenges.Redeem(ctx, value, kind, s.now().UTC())
	if err != nil {
		s.logger.Warn("challenge redemption failed",
			"kind", string(kind),
			"error", err)
		return nil, WrapError("redeem challenge", err)
	}
	return ch, nil
}

// observe records ceremony metrics for a completed operation.
func (s *Service) observe(ceremony, phase, rpID string, start time.Time, errp *error) {
	status := metrics.StatusSuccess
	if *errp != nil {
		status = metrics.StatusError
		if reason := failureReason(*errp); reason != "" {
			metrics.RecordFailure(ceremony, reason)
		}
	}
	metrics.RecordCeremony(ceremony, phase, rpID, status, s.now().Sub(start).Seconds())
}

// failureReason classifies a ceremony error for the failure counter.
// Counter regressions are recorded separately with the relying party label.
func failureReason(err error) string {
	switch {
	case IsChallengeNotFound(err):
		return metrics.ReasonChallengeNotFound
	case IsChallengeExpired(err):
		return metrics.ReasonChallengeExpired
	case errors.Is(err, ErrChallengeKindMismatch):
		return metrics.ReasonKindMismatch
	case errors.Is(err, ErrOwnerMismatch):
		return metrics.ReasonOwnerMismatch
	case errors.Is(err, ErrRelyingPartyMismatch):
		return metrics.ReasonRPMismatch
	case IsCounterRegression(err):
		return ""
	case IsVerificationFailed(err):
		return metrics.ReasonVerification
	default:
		return metrics.ReasonStore
	}
}

// auditOwnership logs cross-user mutation attempts. ErrAccessDenied and
// ErrCredentialNotFound propagate unchanged; handlers surface them
// identically to avoid existence oracles.
func (s *Service) auditOwnership(op string, owner Principal, id []byte, err error) error {
	if err == nil {
		return nil
	}
	if IsAccessDenied(err) {
		s.logger.Warn("credential mutation denied: not owner",
			"op", op,
			"caller", owner.ID,
			"credential", base64.RawURLEncoding.EncodeToString(id))
	}
	return WrapError(op, err)
}

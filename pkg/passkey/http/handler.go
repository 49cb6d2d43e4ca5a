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
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

// maxBodyBytes bounds ceremony response payloads. Attestation objects with
// certificate chains stay well under this.
const maxBodyBytes = 1 << 20

// PrincipalFunc resolves the authenticated caller from a request. Returning
// an error means the request is unauthenticated.
type PrincipalFunc func(r *http.Request) (passkey.Principal, error)

// Handler provides HTTP handlers for passkey ceremonies and credential
// management. Handlers can be mounted on any chi router.
type Handler struct {
	service   *passkey.Service
	principal PrincipalFunc
	logger    *slog.Logger

	// OnAuthenticated, when set, runs after a successful authentication and
	// before the response is written. The bundled server uses it to issue a
	// session cookie; session issuance is deliberately not this package's
	// concern.
	OnAuthenticated func(w http.ResponseWriter, r *http.Request, verdict *passkey.Verdict)
}

// NewHandler creates a new passkey HTTP handler. The principal function is
// required for the authenticated management and registration endpoints.
func NewHandler(service *passkey.Service, principal PrincipalFunc) *Handler {
	return &Handler{
		service:   service,
		principal: principal,
		logger:    slog.Default(),
	}
}

// WithLogger sets a custom logger for the handler.
func (h *Handler) WithLogger(logger *slog.Logger) *Handler {
	h.logger = logger
	return h
}

// BeginAuthentication handles POST /passkey-auth/begin.
//
// Public endpoint: authentication is the mechanism of login, so it cannot
// itself require auth.
func (h *Handler) BeginAuthentication(w http.ResponseWriter, r *http.Request) {
	rp := passkey.ResolveRelyingParty(r)

	opts, err := h.service.BeginAuthentication(r.Context(), rp)
	if err != nil {
		h.logger.Error("begin authentication failed", "rp_id", rp.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "")
		return
	}

	allow := opts.AllowCredentials
	if allow == nil {
		allow = []passkey.CredentialDescriptor{}
	}
	h.writeJSON(w, http.StatusOK, BeginAuthenticationResponse{
		Challenge:        opts.Challenge,
		RPID:             opts.RPID,
		AllowCredentials: allow,
		TimeoutMS:        opts.Timeout.Milliseconds(),
		PublicKey:        opts.PublicKey,
	})
}

// CompleteAuthentication handles POST /passkey-auth/complete.
//
// Every failure — unknown credential, replayed challenge, counter
// regression, bad signature — produces the identical response. The detail
// is logged server-side; the wire reveals nothing about which stage failed.
func (h *Handler) CompleteAuthentication(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil || len(body) == 0 {
		h.writeAuthenticationFailed(w)
		return
	}

	rp := passkey.ResolveRelyingParty(r)
	verdict, err := h.service.FinishAuthentication(r.Context(), rp, body)
	if err != nil {
		h.logger.Warn("authentication failed", "rp_id", rp.ID, "error", err)
		h.writeAuthenticationFailed(w)
		return
	}

	if h.OnAuthenticated != nil {
		h.OnAuthenticated(w, r, verdict)
	}

	h.writeJSON(w, http.StatusOK, CompleteAuthenticationResponse{
		Success:      true,
		UserIdentity: verdict.UserID,
	})
}

// BeginRegistration handles POST /passkey/register/begin. Requires an
// authenticated caller.
func (h *Handler) BeginRegistration(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	rp := passkey.ResolveRelyingParty(r)
	opts, err := h.service.BeginRegistration(r.Context(), rp, owner)
	if err != nil {
		h.logger.Error("begin registration failed", "owner", owner.ID, "rp_id", rp.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "")
		return
	}

	exclude := opts.ExcludeCredentials
	if exclude == nil {
		exclude = []passkey.CredentialDescriptor{}
	}
	h.writeJSON(w, http.StatusOK, BeginRegistrationResponse{
		Challenge:          opts.Challenge,
		RPID:               opts.RPID,
		User:               owner,
		ExcludeCredentials: exclude,
		PublicKey:          opts.PublicKey,
	})
}

// CompleteRegistration handles POST /passkey/register/complete.
func (h *Handler) CompleteRegistration(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	var req CompleteRegistrationRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return
	}
	if len(req.Credential) == 0 {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "credential response is required")
		return
	}
	name := req.Name
	if name == "" {
		name = "Passkey"
	}

	rp := passkey.ResolveRelyingParty(r)
	cred, err := h.service.FinishRegistration(r.Context(), rp, owner, name, req.Credential)
	if err != nil {
		h.logger.Warn("registration failed", "owner", owner.ID, "rp_id", rp.ID, "error", err)
		h.writeJSON(w, http.StatusBadRequest, CompleteRegistrationResponse{
			Success: false,
			Error:   ErrorCodeRegistrationFailed,
		})
		return
	}

	h.writeJSON(w, http.StatusOK, CompleteRegistrationResponse{
		Success:      true,
		CredentialID: base64.RawURLEncoding.EncodeToString(cred.ID),
	})
}

// ListCredentials handles GET /passkey/manage.
func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	creds, err := h.service.ListCredentials(r.Context(), owner)
	if err != nil {
		h.logger.Error("list credentials failed", "owner", owner.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "")
		return
	}

	summaries := make([]CredentialSummary, len(creds))
	for i, cred := range creds {
		summaries[i] = CredentialSummary{
			ID:        base64.RawURLEncoding.EncodeToString(cred.ID),
			Name:      cred.Name,
			RPID:      cred.RPID,
			CreatedAt: cred.CreatedAt.Format(time.RFC3339),
			BackedUp:  cred.Flags.BackupState,
		}
		if !cred.LastUsedAt.IsZero() {
			summaries[i].LastUsedAt = cred.LastUsedAt.Format(time.RFC3339)
		}
	}

	h.writeJSON(w, http.StatusOK, ManageResponse{Credentials: summaries})
}

// RenameCredential handles POST /passkey/rename/{id}.
func (h *Handler) RenameCredential(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := h.credentialID(w, r)
	if !ok {
		return
	}

	var req RenameRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil || req.Name == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "name is required")
		return
	}

	if err := h.service.RenameCredential(r.Context(), owner, id, req.Name); err != nil {
		h.handleMutationError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, StatusResponse{Success: true})
}

// DeleteCredential handles POST /passkey/delete/{id}.
func (h *Handler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := h.credentialID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteCredential(r.Context(), owner, id); err != nil {
		h.handleMutationError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, StatusResponse{Success: true})
}

// handleMutationError maps management errors to HTTP responses. AccessDenied
// and NotFound produce byte-identical responses: a caller probing another
// user's credential IDs learns nothing about their existence.
func (h *Handler) handleMutationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, passkey.ErrCredentialNotFound), errors.Is(err, passkey.ErrAccessDenied):
		h.writeError(w, http.StatusNotFound, ErrorCodeNotFound, "credential not found")
	default:
		h.logger.Error("credential mutation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "")
	}
}

func (h *Handler) requirePrincipal(w http.ResponseWriter, r *http.Request) (passkey.Principal, bool) {
	if h.principal == nil {
		h.writeError(w, http.StatusUnauthorized, ErrorCodeUnauthorized, "authentication required")
		return passkey.Principal{}, false
	}
	owner, err := h.principal(r)
	if err != nil || owner.ID == "" {
		h.writeError(w, http.StatusUnauthorized, ErrorCodeUnauthorized, "authentication required")
		return passkey.Principal{}, false
	}
	return owner, true
}

func (h *Handler) credentialID(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	raw := chi.URLParam(r, "id")
	id, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil || len(id) == 0 {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid credential id")
		return nil, false
	}
	return id, true
}

func (h *Handler) writeAuthenticationFailed(w http.ResponseWriter) {
	h.writeJSON(w, http.StatusUnauthorized, CompleteAuthenticationResponse{
		Success: false,
		Error:   ErrorCodeAuthenticationFailed,
	})
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Response headers already written, can only log the error
		h.logger.Error("failed to encode JSON response",
			"error", err,
			"status", status)
	}
}

// writeError writes an error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: message,
	})
}

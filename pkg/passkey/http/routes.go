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
	"github.com/go-chi/chi/v5"
)

// MountChi mounts all passkey routes onto a chi router.
//
// Routes:
//   - POST /passkey-auth/begin        - Start passwordless authentication (public)
//   - POST /passkey-auth/complete     - Complete passwordless authentication (public)
//   - POST /passkey/register/begin    - Start credential registration (authenticated)
//   - POST /passkey/register/complete - Complete credential registration (authenticated)
//   - GET  /passkey/manage            - List the caller's credentials (authenticated)
//   - POST /passkey/rename/{id}       - Rename a credential (authenticated)
//   - POST /passkey/delete/{id}       - Delete a credential (authenticated)
func (h *Handler) MountChi(r chi.Router) {
	r.Route("/passkey-auth", func(r chi.Router) {
		r.Post("/begin", h.BeginAuthentication)
		r.Post("/complete", h.CompleteAuthentication)
	})

	r.Route("/passkey", func(r chi.Router) {
		r.Post("/register/begin", h.BeginRegistration)
		r.Post("/register/complete", h.CompleteRegistration)
		r.Get("/manage", h.ListCredentials)
		r.Post("/rename/{id}", h.RenameCredential)
		r.Post("/delete/{id}", h.DeleteCredential)
	})
}

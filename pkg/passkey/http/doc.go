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

// Package http provides HTTP handlers for passkey ceremonies and credential
// management, designed to be mounted on an existing chi router.
//
// The package intentionally stops short of session management. On a
// successful authentication the handler reports the verified user identity
// and, when set, invokes the OnAuthenticated hook; issuing a cookie or
// token is the embedding application's job. The host application supplies
// a PrincipalFunc that resolves the authenticated caller for the
// registration and management endpoints.
//
// Usage:
//
//	handler := passkeyhttp.NewHandler(service, principalFromSession)
//	handler.OnAuthenticated = issueSessionCookie
//	handler.MountChi(router)
//
// The two authentication endpoints are public by construction. The
// completion endpoint collapses every failure mode into a single
// "authentication_failed" response so the wire never discloses whether a
// credential exists, a challenge was replayed, or a signature was bad.
package http

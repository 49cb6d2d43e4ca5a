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

// Package passkey provides end-to-end integration tests for the passkey
// server HTTP surface.
//
// These tests assemble the full server (router, session middleware, service,
// storage backend) in-process and drive it with the descope/virtualwebauthn
// package, which signs real attestation and assertion responses the way a
// browser-held authenticator would. Both the memory and SQLite backends are
// exercised, along with per-hostname relying party resolution.
//
// # Running Tests
//
//	go test -v -tags integration ./test/integration/passkey/...
package passkey

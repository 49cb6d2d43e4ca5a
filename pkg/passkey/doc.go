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

// Package passkey implements passwordless authentication with WebAuthn
// ceremonies: single-use challenge issuance and redemption, credential
// registration, passwordless login, and cloned-authenticator detection via
// monotonic signature counters.
//
// The relying party identity is resolved from each inbound request rather
// than configured statically, so one deployment can serve multiple
// hostnames. A credential registered under one relying party identity is
// never offered for, nor accepted by, a ceremony resolved to another.
//
// # Architecture
//
//  1. Service - ceremony coordination and security decisions
//  2. Storage (ChallengeStore, CredentialStore) - pluggable persistence;
//     in-memory implementations here, SQLite in the sqlite subpackage
//  3. Verifier - the cryptographic boundary, implemented on go-webauthn
//  4. HTTP (pkg/passkey/http) - composable chi handlers
//
// # Usage
//
// Basic usage with in-memory storage (for development):
//
//	cfg := &passkey.Config{RPDisplayName: "My App"}
//	svc, err := passkey.NewService(passkey.ServiceParams{
//	    Config:          cfg,
//	    ChallengeStore:  passkey.NewMemoryChallengeStore(),
//	    CredentialStore: passkey.NewMemoryCredentialStore(),
//	    Verifier:        passkey.NewWebauthnVerifier(cfg),
//	})
//
// For production, use the sqlite subpackage or implement the storage
// interfaces with your database. Challenge redemption and counter updates
// must be atomic conditional updates, never read-then-write.
//
// # Security model
//
// Challenges are valid for a bounded TTL (5 minutes by default) and are
// redeemable exactly once; concurrent redemption attempts for the same
// value succeed at most once. A signature counter that fails to strictly
// increase fails the authentication even when the assertion signature is
// valid, because it indicates a cloned authenticator.
//
// WebAuthn requires HTTPS; browsers only expose the API in secure contexts.
package passkey

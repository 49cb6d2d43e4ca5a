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

// Package sqlite provides SQLite-backed implementations of the passkey
// storage interfaces. Challenge redemption and signature counter updates
// are expressed as conditional UPDATE statements so concurrent requests
// cannot both succeed; the database's row-level atomicity is the only lock.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS challenges (
	id            TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	value         TEXT NOT NULL UNIQUE,
	owner_id      TEXT NOT NULL DEFAULT '',
	session_token BLOB NOT NULL,
	rp_id         TEXT NOT NULL,
	origin        TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	expires_at    INTEGER NOT NULL,
	used          INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS credentials (
	id               BLOB PRIMARY KEY,
	owner_id         TEXT NOT NULL,
	public_key       BLOB NOT NULL,
	sign_count       INTEGER NOT NULL DEFAULT 0,
	rp_id            TEXT NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	transports       TEXT NOT NULL DEFAULT '',
	attestation_type TEXT NOT NULL DEFAULT '',
	aaguid           BLOB,
	user_present     INTEGER NOT NULL DEFAULT 0,
	user_verified    INTEGER NOT NULL DEFAULT 0,
	backup_eligible  INTEGER NOT NULL DEFAULT 0,
	backup_state     INTEGER NOT NULL DEFAULT 0,
	created_at       INTEGER NOT NULL,
	last_used_at     INTEGER
);

CREATE INDEX IF NOT EXISTS idx_credentials_owner ON credentials(owner_id);
CREATE INDEX IF NOT EXISTS idx_credentials_rp    ON credentials(rp_id);
CREATE INDEX IF NOT EXISTS idx_challenges_expiry ON challenges(expires_at);
`

// Store holds the SQLite database handle shared by the challenge and
// credential stores.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// applies the schema. Use ":memory:" for an ephemeral database in tests.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent ceremony traffic.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Challenges returns the ChallengeStore view of this database.
func (s *Store) Challenges() *ChallengeStore {
	return &ChallengeStore{db: s.db}
}

// Credentials returns the CredentialStore view of this database.
func (s *Store) Credentials() *CredentialStore {
	return &CredentialStore{db: s.db}
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

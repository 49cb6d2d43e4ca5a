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

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

// ChallengeStore implements passkey.ChallengeStore on SQLite.
type ChallengeStore struct {
	db *sql.DB
}

// Create persists a challenge.
func (s *ChallengeStore) Create(ctx context.Context, ch *passkey.Challenge) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO challenges (id, kind, value, owner_id, session_token, rp_id, origin, created_at, expires_at, used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		ch.ID, string(ch.Kind), ch.Value, ch.OwnerID, ch.SessionToken,
		ch.RPID, ch.Origin, toMillis(ch.CreatedAt), toMillis(ch.ExpiresAt))
	if err != nil {
		return fmt.Errorf("insert challenge: %w", err)
	}
	return nil
}

// Redeem atomically fetches and marks the challenge used. The conditional
// UPDATE is the whole concurrency story: of any number of concurrent
// redemptions for the same value, exactly one affects a row.
func (s *ChallengeStore) Redeem(ctx context.Context, value string, kind passkey.ChallengeKind, now time.Time) (*passkey.Challenge, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE challenges SET used = 1 WHERE value = ? AND used = 0`, value)
	if err != nil {
		return nil, fmt.Errorf("mark challenge used: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("mark challenge used: %w", err)
	}
	if affected == 0 {
		return nil, passkey.ErrChallengeNotFound
	}

	ch, err := s.getByValue(ctx, value)
	if err != nil {
		return nil, err
	}

	// The row stays marked used on these paths so retries cannot succeed.
	if ch.Expired(now) {
		return nil, passkey.ErrChallengeExpired
	}
	if ch.Kind != kind {
		return nil, passkey.ErrChallengeKindMismatch
	}

	return ch, nil
}

// SweepExpired removes expired challenges and used challenges older than the
// retention window. Idempotent; concurrent sweeps simply find fewer rows.
func (s *ChallengeStore) SweepExpired(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM challenges WHERE expires_at <= ? OR (used = 1 AND created_at <= ?)`,
		toMillis(now), toMillis(now.Add(-retention)))
	if err != nil {
		return 0, fmt.Errorf("sweep challenges: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep challenges: %w", err)
	}
	return int(affected), nil
}

func (s *ChallengeStore) getByValue(ctx context.Context, value string) (*passkey.Challenge, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, value, owner_id, session_token, rp_id, origin, created_at, expires_at, used
		FROM challenges WHERE value = ?`, value)

	var (
		ch        passkey.Challenge
		kind      string
		createdAt int64
		expiresAt int64
		used      int
	)
	err := row.Scan(&ch.ID, &kind, &ch.Value, &ch.OwnerID, &ch.SessionToken,
		&ch.RPID, &ch.Origin, &createdAt, &expiresAt, &used)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, passkey.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("get challenge: %w", err)
	}

	ch.Kind = passkey.ChallengeKind(kind)
	ch.CreatedAt = fromMillis(createdAt)
	ch.ExpiresAt = fromMillis(expiresAt)
	ch.Used = used != 0
	return &ch, nil
}

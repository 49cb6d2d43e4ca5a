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
	"strings"
	"time"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

// CredentialStore implements passkey.CredentialStore on SQLite.
type CredentialStore struct {
	db *sql.DB
}

const credentialColumns = `id, owner_id, public_key, sign_count, rp_id, name, transports,
	attestation_type, aaguid, user_present, user_verified, backup_eligible, backup_state,
	created_at, last_used_at`

// GetByID retrieves a credential by its protocol-level identifier.
func (s *CredentialStore) GetByID(ctx context.Context, id []byte) (*passkey.Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE id = ?`, id)
	cred, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, passkey.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return cred, nil
}

// ListByOwnerAndRP retrieves a user's credentials bound to the relying party.
func (s *CredentialStore) ListByOwnerAndRP(ctx context.Context, ownerID, rpID string) ([]*passkey.Credential, error) {
	return s.list(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE owner_id = ? AND rp_id = ? ORDER BY created_at`,
		ownerID, rpID)
}

// ListByOwner retrieves all of a user's credentials.
func (s *CredentialStore) ListByOwner(ctx context.Context, ownerID string) ([]*passkey.Credential, error) {
	return s.list(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE owner_id = ? ORDER BY created_at`,
		ownerID)
}

// ListByRP retrieves every credential bound to the relying party.
func (s *CredentialStore) ListByRP(ctx context.Context, rpID string) ([]*passkey.Credential, error) {
	return s.list(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE rp_id = ? ORDER BY created_at`,
		rpID)
}

// Insert stores a new credential. The primary key constraint enforces
// global uniqueness of credential IDs.
func (s *CredentialStore) Insert(ctx context.Context, cred *passkey.Credential) error {
	lastUsed := sql.NullInt64{}
	if !cred.LastUsedAt.IsZero() {
		lastUsed = sql.NullInt64{Int64: toMillis(cred.LastUsedAt), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (`+credentialColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cred.ID, cred.OwnerID, cred.PublicKey, cred.SignCount, cred.RPID, cred.Name,
		strings.Join(cred.Transports, ","), cred.AttestationType, cred.AAGUID,
		boolToInt(cred.Flags.UserPresent), boolToInt(cred.Flags.UserVerified),
		boolToInt(cred.Flags.BackupEligible), boolToInt(cred.Flags.BackupState),
		toMillis(cred.CreatedAt), lastUsed)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return passkey.ErrDuplicateCredential
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// UpdateAfterAuthentication applies the new counter via compare-and-set.
// The predicate lives in the UPDATE itself: the row changes only when the
// counter strictly increases, or when the authenticator does not implement
// counters and both values are zero.
func (s *CredentialStore) UpdateAfterAuthentication(ctx context.Context, id []byte, newCount uint32, usedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credentials SET sign_count = ?, last_used_at = ?
		WHERE id = ? AND (sign_count < ? OR (sign_count = 0 AND ? = 0))`,
		newCount, toMillis(usedAt), id, newCount, newCount)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	if affected != 0 {
		return nil
	}

	// Zero rows: either the credential is gone or the counter regressed.
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	return passkey.ErrCounterRegression
}

// Rename updates the display name, scoped to the owner.
func (s *CredentialStore) Rename(ctx context.Context, id []byte, ownerID, name string) error {
	return s.ownerScoped(ctx, id, ownerID,
		`UPDATE credentials SET name = ? WHERE id = ? AND owner_id = ?`, name, id, ownerID)
}

// Delete removes a credential, scoped to the owner.
func (s *CredentialStore) Delete(ctx context.Context, id []byte, ownerID string) error {
	return s.ownerScoped(ctx, id, ownerID,
		`DELETE FROM credentials WHERE id = ? AND owner_id = ?`, id, ownerID)
}

// ownerScoped runs an owner-conditioned mutation and maps a zero-row result
// to ErrCredentialNotFound or ErrAccessDenied. The caller-facing surface
// treats both identically; the distinction exists for audit logs.
func (s *CredentialStore) ownerScoped(ctx context.Context, id []byte, ownerID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mutate credential: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mutate credential: %w", err)
	}
	if affected != 0 {
		return nil
	}

	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	return passkey.ErrAccessDenied
}

func (s *CredentialStore) list(ctx context.Context, query string, args ...any) ([]*passkey.Credential, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	creds := []*passkey.Credential{}
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return creds, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*passkey.Credential, error) {
	var (
		cred       passkey.Credential
		transports string
		aaguid     []byte
		up, uv     int
		be, bs     int
		createdAt  int64
		lastUsed   sql.NullInt64
	)
	err := row.Scan(&cred.ID, &cred.OwnerID, &cred.PublicKey, &cred.SignCount,
		&cred.RPID, &cred.Name, &transports, &cred.AttestationType, &aaguid,
		&up, &uv, &be, &bs, &createdAt, &lastUsed)
	if err != nil {
		return nil, err
	}

	if transports != "" {
		cred.Transports = strings.Split(transports, ",")
	}
	cred.AAGUID = aaguid
	cred.Flags = passkey.CredentialFlags{
		UserPresent:    up != 0,
		UserVerified:   uv != 0,
		BackupEligible: be != 0,
		BackupState:    bs != 0,
	}
	cred.CreatedAt = fromMillis(createdAt)
	if lastUsed.Valid {
		cred.LastUsedAt = fromMillis(lastUsed.Int64)
	}
	return &cred, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

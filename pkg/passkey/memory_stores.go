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
	"encoding/hex"
	"sync"
	"time"
)

// MemoryChallengeStore is an in-memory implementation of ChallengeStore.
// Redemption is serialized by a mutex, giving the same at-most-once
// guarantee the SQL store gets from its conditional update. Intended for
// development and testing.
type MemoryChallengeStore struct {
	mu      sync.Mutex
	byValue map[string]*Challenge
}

// NewMemoryChallengeStore creates a new in-memory challenge store.
func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{
		byValue: make(map[string]*Challenge),
	}
}

// Create persists a challenge keyed by its value.
func (s *MemoryChallengeStore) Create(ctx context.Context, ch *Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *ch
	s.byValue[ch.Value] = &copied
	return nil
}

// Redeem atomically fetches and marks the challenge used.
func (s *MemoryChallengeStore) Redeem(ctx context.Context, value string, kind ChallengeKind, now time.Time) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.byValue[value]
	if !ok || ch.Used {
		return nil, ErrChallengeNotFound
	}

	// Mark used first: an expired or mismatched challenge must not stay
	// redeemable for retries.
	ch.Used = true

	if ch.Expired(now) {
		return nil, ErrChallengeExpired
	}
	if ch.Kind != kind {
		return nil, ErrChallengeKindMismatch
	}

	copied := *ch
	return &copied, nil
}

// SweepExpired removes expired challenges and used challenges older than the
// retention window.
func (s *MemoryChallengeStore) SweepExpired(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for value, ch := range s.byValue {
		if ch.Expired(now) || (ch.Used && now.Sub(ch.CreatedAt) > retention) {
			delete(s.byValue, value)
			removed++
		}
	}
	return removed, nil
}

// Count returns the number of challenges in the store.
func (s *MemoryChallengeStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byValue)
}

// MemoryCredentialStore is an in-memory implementation of CredentialStore.
// Intended for development and testing.
type MemoryCredentialStore struct {
	mu   sync.RWMutex
	byID map[string]*Credential
}

// NewMemoryCredentialStore creates a new in-memory credential store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		byID: make(map[string]*Credential),
	}
}

// GetByID retrieves a credential by its identifier.
func (s *MemoryCredentialStore) GetByID(ctx context.Context, id []byte) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.byID[hex.EncodeToString(id)]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	copied := *cred
	return &copied, nil
}

// ListByOwnerAndRP retrieves a user's credentials bound to the relying party.
func (s *MemoryCredentialStore) ListByOwnerAndRP(ctx context.Context, ownerID, rpID string) ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filter(func(c *Credential) bool {
		return c.OwnerID == ownerID && c.RPID == rpID
	}), nil
}

// ListByOwner retrieves all of a user's credentials.
func (s *MemoryCredentialStore) ListByOwner(ctx context.Context, ownerID string) ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filter(func(c *Credential) bool {
		return c.OwnerID == ownerID
	}), nil
}

// ListByRP retrieves every credential bound to the relying party.
func (s *MemoryCredentialStore) ListByRP(ctx context.Context, rpID string) ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filter(func(c *Credential) bool {
		return c.RPID == rpID
	}), nil
}

// Insert stores a new credential.
func (s *MemoryCredentialStore) Insert(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hex.EncodeToString(cred.ID)
	if _, ok := s.byID[key]; ok {
		return ErrDuplicateCredential
	}

	copied := *cred
	s.byID[key] = &copied
	return nil
}

// UpdateAfterAuthentication applies the new counter via compare-and-set.
func (s *MemoryCredentialStore) UpdateAfterAuthentication(ctx context.Context, id []byte, newCount uint32, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.byID[hex.EncodeToString(id)]
	if !ok {
		return ErrCredentialNotFound
	}

	// Strict increase, except for authenticators that do not implement
	// counters and always report zero.
	if newCount <= cred.SignCount && !(newCount == 0 && cred.SignCount == 0) {
		return ErrCounterRegression
	}

	cred.SignCount = newCount
	cred.LastUsedAt = usedAt
	return nil
}

// Rename updates the display name, scoped to the owner.
func (s *MemoryCredentialStore) Rename(ctx context.Context, id []byte, ownerID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.byID[hex.EncodeToString(id)]
	if !ok {
		return ErrCredentialNotFound
	}
	if cred.OwnerID != ownerID {
		return ErrAccessDenied
	}

	cred.Name = name
	return nil
}

// Delete removes a credential, scoped to the owner.
func (s *MemoryCredentialStore) Delete(ctx context.Context, id []byte, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hex.EncodeToString(id)
	cred, ok := s.byID[key]
	if !ok {
		return ErrCredentialNotFound
	}
	if cred.OwnerID != ownerID {
		return ErrAccessDenied
	}

	delete(s.byID, key)
	return nil
}

// Count returns the total number of credentials in the store.
func (s *MemoryCredentialStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *MemoryCredentialStore) filter(keep func(*Credential) bool) []*Credential {
	out := []*Credential{}
	for _, cred := range s.byID {
		if keep(cred) {
			copied := *cred
			out = append(out, &copied)
		}
	}
	return out
}

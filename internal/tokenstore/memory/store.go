// Package memory implements model.TokenStore in process memory.
//
// Every record belongs to exactly one family (records without a family id get
// a private one) and all mutable record state is guarded by its family's
// mutex, so family-wide revocation is atomic with respect to Get, Put and
// MarkUsed on members while operations on unrelated families never contend
// beyond the short index lock.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dtroode/refreshguard/internal/model"
)

var _ model.TokenStore = (*Store)(nil)

type entry struct {
	meta  model.TokenMetadata
	order uint64
}

type family struct {
	mu      sync.Mutex
	key     string
	revoked bool
	dead    bool
	members map[string]*entry
	head    *entry
}

// Store is an in-memory token store.
type Store struct {
	clock model.Clock

	mu       sync.RWMutex
	records  map[string]*entry
	owners   map[string]*family
	families map[string]*family
	order    uint64
}

// NewStore creates an empty Store. clock drives CleanupExpired.
func NewStore(clock model.Clock) *Store {
	return &Store{
		clock:    clock,
		records:  make(map[string]*entry),
		owners:   make(map[string]*family),
		families: make(map[string]*family),
	}
}

func familyKey(meta model.TokenMetadata) string {
	if meta.FamilyID != "" {
		return meta.FamilyID
	}
	return "\x00" + meta.TokenID
}

// lockFamily returns the live family for key with its mutex held, creating it when asked.
func (s *Store) lockFamily(key string, create bool) *family {
	for {
		s.mu.Lock()
		f, ok := s.families[key]
		if !ok {
			if !create {
				s.mu.Unlock()
				return nil
			}
			f = &family{key: key, members: make(map[string]*entry)}
			s.families[key] = f
		}
		s.mu.Unlock()

		f.mu.Lock()
		if !f.dead {
			return f
		}
		f.mu.Unlock()
	}
}

// lockOwner returns the record and its family with the family mutex held.
func (s *Store) lockOwner(tokenID string) (*entry, *family) {
	for {
		s.mu.RLock()
		f, ok := s.owners[tokenID]
		s.mu.RUnlock()
		if !ok {
			return nil, nil
		}

		f.mu.Lock()
		if e, ok := f.members[tokenID]; ok && !f.dead {
			return e, f
		}
		f.mu.Unlock()

		// The record moved or was removed while we waited for the lock.
		s.mu.RLock()
		current, still := s.owners[tokenID]
		s.mu.RUnlock()
		if !still || current == f {
			return nil, nil
		}
	}
}

// Put inserts or overwrites a record. A record put into a revoked family is stored revoked.
func (s *Store) Put(_ context.Context, meta model.TokenMetadata) error {
	if meta.TokenID == "" {
		return fmt.Errorf("put token: empty token id")
	}
	meta = cloneMeta(meta)

	f := s.lockFamily(familyKey(meta), true)
	defer f.mu.Unlock()

	s.mu.Lock()
	if owner, ok := s.owners[meta.TokenID]; ok && owner != f {
		s.mu.Unlock()
		return fmt.Errorf("put token %s: already stored in another family", meta.TokenID)
	}
	s.order++
	e := &entry{meta: meta, order: s.order}
	s.records[meta.TokenID] = e
	s.owners[meta.TokenID] = f
	s.mu.Unlock()

	if f.revoked {
		e.meta.Revoked = true
	}
	f.members[meta.TokenID] = e
	switch {
	case f.head != nil && f.head.meta.TokenID == meta.TokenID:
		f.electHead()
	case f.head == nil || newer(e, f.head):
		f.head = e
	}
	return nil
}

// Get returns the stored metadata or model.ErrNotFound.
func (s *Store) Get(_ context.Context, tokenID string) (model.TokenMetadata, error) {
	e, f := s.lockOwner(tokenID)
	if e == nil {
		return model.TokenMetadata{}, model.ErrNotFound
	}
	defer f.mu.Unlock()
	return cloneMeta(e.meta), nil
}

// MarkUsed records the first redemption time; later calls return the original time.
func (s *Store) MarkUsed(_ context.Context, tokenID string, at time.Time) (time.Time, bool, error) {
	e, f := s.lockOwner(tokenID)
	if e == nil {
		return time.Time{}, false, model.ErrNotFound
	}
	defer f.mu.Unlock()

	if e.meta.FirstUsedAt != nil {
		return *e.meta.FirstUsedAt, false, nil
	}
	t := at
	e.meta.FirstUsedAt = &t
	return t, true, nil
}

// Revoke marks a single record revoked.
func (s *Store) Revoke(_ context.Context, tokenID string) error {
	e, f := s.lockOwner(tokenID)
	if e == nil {
		return model.ErrNotFound
	}
	defer f.mu.Unlock()
	e.meta.Revoked = true
	return nil
}

// RevokeFamily revokes every member and leaves the family marked revoked.
func (s *Store) RevokeFamily(_ context.Context, familyID string) error {
	if familyID == "" {
		return fmt.Errorf("revoke family: empty family id")
	}
	f := s.lockFamily(familyID, true)
	defer f.mu.Unlock()

	f.revoked = true
	for _, e := range f.members {
		e.meta.Revoked = true
	}
	return nil
}

// LatestInFamily returns the family head or model.ErrNotFound.
func (s *Store) LatestInFamily(_ context.Context, familyID string) (model.TokenMetadata, error) {
	if familyID == "" {
		return model.TokenMetadata{}, model.ErrNotFound
	}
	f := s.lockFamily(familyID, false)
	if f == nil {
		return model.TokenMetadata{}, model.ErrNotFound
	}
	defer f.mu.Unlock()

	if f.head == nil {
		return model.TokenMetadata{}, model.ErrNotFound
	}
	return cloneMeta(f.head.meta), nil
}

// CleanupExpired removes records whose expiry has passed.
func (s *Store) CleanupExpired(_ context.Context) (int, error) {
	now := s.clock.Now()

	s.mu.RLock()
	candidates := make(map[*family][]string)
	for id, e := range s.records {
		if now.After(e.meta.ExpiresAt) {
			f := s.owners[id]
			candidates[f] = append(candidates[f], id)
		}
	}
	s.mu.RUnlock()

	removed := 0
	for f, ids := range candidates {
		f.mu.Lock()
		if f.dead {
			f.mu.Unlock()
			continue
		}
		for _, id := range ids {
			e, ok := f.members[id]
			if !ok || !now.After(e.meta.ExpiresAt) {
				continue
			}
			delete(f.members, id)
			s.mu.Lock()
			if s.records[id] == e {
				delete(s.records, id)
				delete(s.owners, id)
			}
			s.mu.Unlock()
			if f.head == e {
				f.head = nil
			}
			removed++
		}
		if f.head == nil {
			f.electHead()
		}
		if len(f.members) == 0 {
			f.dead = true
			s.mu.Lock()
			if s.families[f.key] == f {
				delete(s.families, f.key)
			}
			s.mu.Unlock()
		}
		f.mu.Unlock()
	}

	return removed, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (f *family) electHead() {
	f.head = nil
	for _, e := range f.members {
		if f.head == nil || newer(e, f.head) {
			f.head = e
		}
	}
}

func newer(a, b *entry) bool {
	if a.meta.RotationSequence != b.meta.RotationSequence {
		return a.meta.RotationSequence > b.meta.RotationSequence
	}
	return a.order > b.order
}

func cloneMeta(m model.TokenMetadata) model.TokenMetadata {
	if m.FirstUsedAt != nil {
		t := *m.FirstUsedAt
		m.FirstUsedAt = &t
	}
	return m
}

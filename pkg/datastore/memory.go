package datastore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/NicolasHaas/mediachat/pkg/model"
)

type memoryKey struct {
	address string
	kind    model.PunishmentKind
}

type memoryRecord struct {
	seq int64
	p   model.Punishment
}

// MemoryStore provides an in-memory DataStore for tests.
// It mirrors SQLite behavior for validation and error handling.
type MemoryStore struct {
	mu      sync.RWMutex
	now     func() time.Time
	nextSeq int64
	records map[memoryKey]memoryRecord

	// FailWith, when set, is returned by every call to simulate an
	// unavailable store.
	FailWith error
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return &MemoryStore{
		now:     func() time.Time { return time.Now().UTC() },
		records: make(map[memoryKey]memoryRecord),
	}
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) has(address string, kind model.PunishmentKind) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailWith != nil {
		return false, s.FailWith
	}
	_, ok := s.records[memoryKey{address, kind}]
	return ok, nil
}

// IsBanned checks if an address is currently banned.
func (s *MemoryStore) IsBanned(address string) (bool, error) {
	return s.has(address, model.PunishBan)
}

// IsMuted checks if an address is currently muted.
func (s *MemoryStore) IsMuted(address string) (bool, error) {
	return s.has(address, model.PunishMute)
}

// SetPunishment records a mute or ban.
func (s *MemoryStore) SetPunishment(address, username string, kind model.PunishmentKind) error {
	if !kind.Persistent() {
		return fmt.Errorf("datastore: set %s: %w", kind, ErrNotPersistable)
	}
	if address == "" {
		return fmt.Errorf("datastore: set %s: empty address", kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	key := memoryKey{address, kind}
	if rec, ok := s.records[key]; ok {
		rec.p.Username = username
		s.records[key] = rec
		return nil
	}
	s.nextSeq++
	s.records[key] = memoryRecord{
		seq: s.nextSeq,
		p:   model.Punishment{Address: address, Username: username, Kind: kind, CreatedAt: s.now()},
	}
	return nil
}

// RemovePunishment deletes the (address, kind) record.
func (s *MemoryStore) RemovePunishment(address string, kind model.PunishmentKind) (bool, error) {
	if !kind.Persistent() {
		return false, fmt.Errorf("datastore: remove %s: %w", kind, ErrNotPersistable)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return false, s.FailWith
	}
	key := memoryKey{address, kind}
	_, ok := s.records[key]
	delete(s.records, key)
	return ok, nil
}

// ListPunishments returns every record ordered by insertion.
func (s *MemoryStore) ListPunishments() ([]model.Punishment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}

	recs := make([]memoryRecord, 0, len(s.records))
	for _, r := range s.records {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })

	out := make([]model.Punishment, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.p)
	}
	return out, nil
}

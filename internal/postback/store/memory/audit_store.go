package memory

import (
	"context"
	"sync"

	"github.com/BrandonDHaskell/postback-receiver/internal/postback/store"
)

// AuditStore is an in-memory append-only audit log.  It is intended for use
// in tests.
type AuditStore struct {
	mu          sync.Mutex
	conversions []store.ConversionEntry
	blocked     []store.BlockedEntry

	// Err, when set, is returned from every Record call after the entry is
	// dropped.
	Err error
}

func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

func (s *AuditStore) RecordConversion(_ context.Context, e store.ConversionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.conversions = append(s.conversions, e)
	return nil
}

func (s *AuditStore) RecordBlocked(_ context.Context, e store.BlockedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.blocked = append(s.blocked, e)
	return nil
}

// Conversions returns a copy of all recorded conversion entries.
func (s *AuditStore) Conversions() []store.ConversionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.ConversionEntry, len(s.conversions))
	copy(out, s.conversions)
	return out
}

// Blocked returns a copy of all recorded blocked entries.
func (s *AuditStore) Blocked() []store.BlockedEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.BlockedEntry, len(s.blocked))
	copy(out, s.blocked)
	return out
}

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BrandonDHaskell/postback-receiver/internal/postback/types"
)

// Store is the process-lifetime conversion store.  Records are never evicted.
type Store struct {
	mu   sync.RWMutex
	data map[string]types.ConversionRecord
}

func New() *Store {
	return &Store{
		data: make(map[string]types.ConversionRecord),
	}
}

func (s *Store) Put(_ context.Context, rec types.ConversionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().UTC().UnixMilli()
	}
	s.data[rec.OfferID] = rec
	return nil
}

func (s *Store) Get(_ context.Context, offerID string) (types.ConversionRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[offerID]
	return rec, ok, nil
}

func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data), nil
}

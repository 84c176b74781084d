package metadata

import (
	"context"
	"sync"
	"time"

	"github.com/cuongbtq/render-farm/internal/domain"
)

// MemoryStore keeps job records in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]domain.JobRecord
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]domain.JobRecord),
		now:     time.Now,
	}
}

// SetClock replaces the clock used for expiry checks
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// PutJob stores a copy of rec
func (s *MemoryStore) PutJob(ctx context.Context, rec *domain.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.JobID] = *rec
	return nil
}

// GetJob returns the record for jobID unless it has expired
func (s *MemoryStore) GetJob(ctx context.Context, jobID string) (*domain.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[jobID]
	if !ok || !s.now().Before(rec.ExpiresAt()) {
		return nil, domain.ErrJobNotFound
	}
	return &rec, nil
}

// PurgeExpired drops records whose TTL has elapsed
func (s *MemoryStore) PurgeExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var purged int64
	for id, rec := range s.records {
		if !now.Before(rec.ExpiresAt()) {
			delete(s.records, id)
			purged++
		}
	}
	return purged, nil
}

// Len returns the number of stored records, expired or not
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

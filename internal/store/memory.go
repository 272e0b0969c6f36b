package store

import (
	"context"
	"sync"
	"time"
)

// memoryCleanupInterval is how often expired records are swept.
const memoryCleanupInterval = time.Minute

// MemoryStore is the in-process Store implementation for single-instance
// deployments. Counts and listings are local to this process.
type MemoryStore struct {
	records map[string]*expiringRecord
	ttl     time.Duration
	mu      sync.RWMutex

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

// expiringRecord wraps a record with its expiration time. A zero ExpiresAt
// means the record never expires.
type expiringRecord struct {
	record    SessionRecord
	expiresAt time.Time
}

func (e *expiringRecord) isExpired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewMemoryStore creates an in-process store. A positive ttl bounds record
// staleness via a background sweep; zero disables expiration.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		records:     make(map[string]*expiringRecord),
		ttl:         ttl,
		stopCleanup: make(chan struct{}),
	}

	if ttl > 0 {
		s.cleanupTicker = time.NewTicker(memoryCleanupInterval)
		go s.cleanupLoop()
	}

	return s
}

func (s *MemoryStore) cleanupLoop() {
	defer s.cleanupTicker.Stop()

	for {
		select {
		case <-s.cleanupTicker.C:
			s.sweepExpired()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) sweepExpired() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, item := range s.records {
		if item.isExpired(now) {
			delete(s.records, id)
		}
	}
}

func (s *MemoryStore) expiry() time.Time {
	if s.ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(s.ttl)
}

// Create inserts a record if the id is not already present.
func (s *MemoryStore) Create(ctx context.Context, record *SessionRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[record.ID]; ok && !existing.isExpired(time.Now()) {
		return false, nil
	}

	s.records[record.ID] = &expiringRecord{record: *record, expiresAt: s.expiry()}
	return true, nil
}

// Get returns a copy of the record for id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.records[id]
	if !ok || item.isExpired(time.Now()) {
		return nil, ErrRecordNotFound
	}

	record := item.record
	return &record, nil
}

// Update replaces an existing record, refreshing its expiry.
func (s *MemoryStore) Update(ctx context.Context, record *SessionRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[record.ID]
	if !ok || existing.isExpired(time.Now()) {
		return false, nil
	}

	s.records[record.ID] = &expiringRecord{record: *record, expiresAt: s.expiry()}
	return true, nil
}

// Delete removes a record.
func (s *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return false, nil
	}

	delete(s.records, id)
	return true, nil
}

// CountActive counts live records in created/active state.
func (s *MemoryStore) CountActive(ctx context.Context) (int, error) {
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, item := range s.records {
		if !item.isExpired(now) && item.record.State.IsActive() {
			count++
		}
	}
	return count, nil
}

// ListByOwner returns copies of all live records owned by the given instance.
func (s *MemoryStore) ListByOwner(ctx context.Context, owner string) ([]*SessionRecord, error) {
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*SessionRecord
	for _, item := range s.records {
		if item.isExpired(now) || item.record.Owner != owner {
			continue
		}
		record := item.record
		records = append(records, &record)
	}
	return records, nil
}

// Close stops the background sweep.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
	return nil
}

package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/survivor-ev/internal/models"
)

// sweepInterval bounds how often SaveResult scans for expired entries.
const sweepInterval = time.Minute

type memoryEntry struct {
	result    *models.EVResult
	expiresAt time.Time
}

type instanceEntry struct {
	id        string
	expiresAt time.Time
}

// MemoryStore is an in-process Store for single-instance deployments and
// tests. Expired entries are dropped on read, by SaveResult at most once per
// sweepInterval, and by the janitor when one is started.
type MemoryStore struct {
	mu        sync.RWMutex
	results   map[string]memoryEntry
	instances map[string]instanceEntry
	now       func() time.Time
	lastSweep time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		results:   make(map[string]memoryEntry),
		instances: make(map[string]instanceEntry),
		now:       time.Now,
	}
}

func (s *MemoryStore) Name() string {
	return "memory"
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *MemoryStore) expired(at time.Time) bool {
	return !at.IsZero() && !s.now().Before(at)
}

func (s *MemoryStore) SaveResult(_ context.Context, result *models.EVResult, fingerprint string, ttl time.Duration) error {
	stored := *result
	stored.Players = append([]models.ResultRecord(nil), result.Players...)
	expiresAt := s.expiry(ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	if now := s.now(); now.Sub(s.lastSweep) >= sweepInterval {
		s.sweepLocked(now)
	}
	s.results[result.ID] = memoryEntry{result: &stored, expiresAt: expiresAt}
	if fingerprint != "" {
		s.instances[fingerprint] = instanceEntry{id: result.ID, expiresAt: expiresAt}
	}
	return nil
}

func (s *MemoryStore) GetResult(_ context.Context, id string) (*models.EVResult, error) {
	s.mu.RLock()
	entry, ok := s.results[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if s.expired(entry.expiresAt) {
		s.mu.Lock()
		delete(s.results, id)
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	out := *entry.result
	out.Players = append([]models.ResultRecord(nil), entry.result.Players...)
	return &out, nil
}

func (s *MemoryStore) LookupInstance(_ context.Context, fingerprint string) (string, error) {
	s.mu.RLock()
	entry, ok := s.instances[fingerprint]
	s.mu.RUnlock()

	if !ok {
		return "", ErrNotFound
	}
	if s.expired(entry.expiresAt) {
		s.mu.Lock()
		delete(s.instances, fingerprint)
		s.mu.Unlock()
		return "", ErrNotFound
	}
	return entry.id, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Sweep drops every expired result and instance pointer and returns how many
// results it removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now())
}

func (s *MemoryStore) sweepLocked(now time.Time) int {
	removed := 0
	for id, entry := range s.results {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(s.results, id)
			removed++
		}
	}
	for fingerprint, entry := range s.instances {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(s.instances, fingerprint)
		}
	}
	s.lastSweep = now
	return removed
}

// StartJanitor sweeps the store on a cron schedule such as "@every 5m".
// Call the returned stop function on shutdown.
func (s *MemoryStore) StartJanitor(schedule string, logger *logrus.Logger) (func(), error) {
	c := cron.New(cron.WithLogger(cron.PrintfLogger(logger)))
	_, err := c.AddFunc(schedule, func() {
		if removed := s.Sweep(); removed > 0 {
			logger.WithFields(logrus.Fields{
				"component": "memory_cache",
				"removed":   removed,
				"remaining": s.Len(),
			}).Debug("Swept expired EV results")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid cache sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}

// Len reports how many results are held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

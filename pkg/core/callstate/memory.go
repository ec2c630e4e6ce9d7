package callstate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory. Each call id has its own
// lock so Apply on distinct calls never contends beyond the map lookup.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	mu        sync.Mutex
	session   CallSession
	expiresAt time.Time
	removed   bool
}

type MemoryOption func(*MemoryStore)

// WithClock overrides the clock used for expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewMemoryStore(ttl time.Duration, opts ...MemoryOption) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*memoryEntry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// lookup returns the entry for callID with its lock held, or nil if the
// session is absent or expired. Expired entries are dropped on access.
func (s *MemoryStore) lookup(callID string) *memoryEntry {
	s.mu.Lock()
	entry := s.entries[callID]
	s.mu.Unlock()
	if entry == nil {
		return nil
	}

	entry.mu.Lock()
	if entry.removed {
		entry.mu.Unlock()
		return nil
	}
	if !s.now().Before(entry.expiresAt) {
		entry.removed = true
		entry.mu.Unlock()
		s.remove(callID, entry)
		return nil
	}
	return entry
}

func (s *MemoryStore) remove(callID string, entry *memoryEntry) {
	s.mu.Lock()
	if s.entries[callID] == entry {
		delete(s.entries, callID)
	}
	s.mu.Unlock()
}

func (s *MemoryStore) Get(ctx context.Context, callID string) (CallSession, error) {
	if s == nil {
		return CallSession{}, fmt.Errorf("%w: nil store", ErrUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return CallSession{}, err
	}
	entry := s.lookup(callID)
	if entry == nil {
		return CallSession{}, ErrNotFound
	}
	defer entry.mu.Unlock()
	return entry.session.Clone(), nil
}

func (s *MemoryStore) Create(ctx context.Context, callID string) (CallSession, error) {
	if s == nil {
		return CallSession{}, fmt.Errorf("%w: nil store", ErrUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return CallSession{}, err
	}
	if entry := s.lookup(callID); entry != nil {
		entry.mu.Unlock()
		return CallSession{}, ErrAlreadyExists
	}

	now := s.now()
	entry := &memoryEntry{
		session:   NewCallSession(callID, now),
		expiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.entries[callID]; existing != nil {
		existing.mu.Lock()
		live := !existing.removed && now.Before(existing.expiresAt)
		existing.mu.Unlock()
		if live {
			return CallSession{}, ErrAlreadyExists
		}
	}
	s.entries[callID] = entry
	return entry.session.Clone(), nil
}

func (s *MemoryStore) Apply(ctx context.Context, callID string, fn Mutation) (CallSession, error) {
	if s == nil {
		return CallSession{}, fmt.Errorf("%w: nil store", ErrUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return CallSession{}, err
	}
	entry := s.lookup(callID)
	if entry == nil {
		return CallSession{}, ErrNotFound
	}
	defer entry.mu.Unlock()

	now := s.now()
	next := entry.session.Clone()
	if err := applyMutation(&next, fn, now); err != nil {
		return CallSession{}, err
	}
	entry.session = next
	entry.expiresAt = now.Add(s.ttl)
	return next.Clone(), nil
}

func (s *MemoryStore) Sweep(ctx context.Context) (int, error) {
	if s == nil {
		return 0, nil
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for callID, entry := range s.entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		// An entry locked by Apply is active by definition.
		if !entry.mu.TryLock() {
			continue
		}
		if entry.removed || !now.Before(entry.expiresAt) {
			entry.removed = true
			delete(s.entries, callID)
			removed++
		}
		entry.mu.Unlock()
	}
	return removed, nil
}

// Len reports how many entries are held, including expired ones not yet
// swept.
func (s *MemoryStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) Close() error { return nil }

// StartSweeper runs store.Sweep every interval until ctx is done.
func StartSweeper(ctx context.Context, store Store, interval time.Duration, logger *slog.Logger) {
	if store == nil || interval <= 0 {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		logger.Info("session sweeper started", "interval", interval)
		for {
			select {
			case <-ticker.C:
				n, err := store.Sweep(ctx)
				if err != nil {
					logger.Error("session sweep failed", "err", err)
					continue
				}
				if n > 0 {
					logger.Info("expired sessions removed", "count", n)
				}
			case <-ctx.Done():
				logger.Info("session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Package idempotency provides the in-memory response cache backing the
// Idempotency-Key header: a hit replays the recorded response byte for byte
// instead of running the handler again.
package idempotency

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"cardlens/config"

	"go.uber.org/fx"
)

// Entry is one recorded response.
type Entry struct {
	Status     int
	Header     http.Header
	Body       []byte
	RecordedAt time.Time
}

// Store is a TTL map of recorded responses. Expired entries are evicted
// lazily on read and in bulk by Sweep.
type Store struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewStore creates an empty store whose entries live for ttl.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*Entry),
	}
}

// Get returns the recorded response for key, evicting it first if expired.
func (s *Store) Get(key string) (*Entry, bool) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if s.expired(entry) {
		s.mu.Lock()
		// Re-check under the write lock; a concurrent Put may have refreshed it.
		if current, stillThere := s.entries[key]; stillThere && s.expired(current) {
			delete(s.entries, key)
		}
		s.mu.Unlock()

		return nil, false
	}

	return entry, true
}

// Put records a response under key, overwriting any previous entry.
func (s *Store) Put(key string, status int, header http.Header, body []byte) {
	entry := &Entry{
		Status:     status,
		Header:     header.Clone(),
		Body:       append([]byte(nil), body...),
		RecordedAt: s.now(),
	}

	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
}

// Sweep removes every expired entry and reports how many were dropped.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for key, entry := range s.entries {
		if s.expired(entry) {
			delete(s.entries, key)
			dropped++
		}
	}

	return dropped
}

// Len reports how many entries are currently held, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

func (s *Store) expired(entry *Entry) bool {
	return s.now().Sub(entry.RecordedAt) >= s.ttl
}

// Params defines the dependencies for building the store.
type Params struct {
	fx.In

	LC     fx.Lifecycle
	Config *config.Config
	Logger *slog.Logger
}

// NewStoreFromConfig builds the store and starts its periodic sweeper, tied
// to the application lifecycle.
func NewStoreFromConfig(params Params) *Store {
	store := NewStore(params.Config.Idempotency.TTL)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	params.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go store.sweepLoop(ctx, params.Config.Idempotency.SweepInterval, params.Logger, done)

			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			<-done

			return nil
		},
	})

	return store
}

func (s *Store) sweepLoop(ctx context.Context, interval time.Duration, logger *slog.Logger, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if dropped := s.Sweep(); dropped > 0 {
				logger.Debug("Swept expired idempotency entries", slog.Int("dropped", dropped))
			}
		}
	}
}

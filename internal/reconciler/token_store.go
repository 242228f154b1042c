package reconciler

import (
	"context"
	"sync"
	"time"

	"fieldtrack/internal/domain"
)

// TokenRecord is what the dedupe window remembers for an accepted token:
// the payload fingerprint and the committed visit snapshot to replay.
type TokenRecord struct {
	Fingerprint string       `json:"fingerprint"`
	Visit       domain.Visit `json:"visit"`
}

// TokenStore is the bounded recent-history window of accepted idempotency
// tokens, keyed per person. Entries expire after the dedupe TTL; the store
// is an optimization layer, the ledger's own token checks remain the
// backstop if it loses data.
type TokenStore interface {
	Find(ctx context.Context, personID, token string) (TokenRecord, bool, error)
	Remember(ctx context.Context, personID, token string, rec TokenRecord, ttl time.Duration) error
}

// sweepThreshold triggers an expired-entry sweep on write once the map
// grows past it.
const sweepThreshold = 4096

// InMemoryTokenStore implements TokenStore with a TTL map. Expired entries
// are purged lazily on reads and swept on writes once the map grows.
type InMemoryTokenStore struct {
	mu      sync.Mutex
	entries map[string]tokenEntry
	now     func() time.Time
}

type tokenEntry struct {
	rec       TokenRecord
	expiresAt time.Time
}

func NewInMemoryTokenStore() *InMemoryTokenStore {
	return &InMemoryTokenStore{
		entries: make(map[string]tokenEntry),
		now:     time.Now,
	}
}

func (s *InMemoryTokenStore) Find(_ context.Context, personID, token string) (TokenRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := personID + ":" + token
	entry, ok := s.entries[key]
	if !ok {
		return TokenRecord{}, false, nil
	}
	if s.now().After(entry.expiresAt) {
		delete(s.entries, key)
		return TokenRecord{}, false, nil
	}
	return entry.rec, true, nil
}

func (s *InMemoryTokenStore) Remember(_ context.Context, personID, token string, rec TokenRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) > sweepThreshold {
		now := s.now()
		for k, e := range s.entries {
			if now.After(e.expiresAt) {
				delete(s.entries, k)
			}
		}
	}
	s.entries[personID+":"+token] = tokenEntry{rec: rec, expiresAt: s.now().Add(ttl)}
	return nil
}

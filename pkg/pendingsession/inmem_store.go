package pendingsession

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tutorlane/tutor-idm/pkg/utils"
)

// InMemoryStore keeps pending sessions in a process-local map with
// periodic eviction of expired entries. It does not survive restarts and
// is not shared across instances; multi-instance deployments should use
// RedisStore instead.
type InMemoryStore struct {
	ttl       time.Duration
	singleUse bool

	mutex    sync.Mutex
	sessions map[string]Session

	done chan struct{}
	once sync.Once
}

// InMemoryOption configures an InMemoryStore
type InMemoryOption func(*InMemoryStore)

// WithTTL overrides the default session lifetime
func WithTTL(ttl time.Duration) InMemoryOption {
	return func(s *InMemoryStore) {
		s.ttl = ttl
	}
}

// WithMultiUse allows a token to be read multiple times within its window
// instead of being deleted on first consume
func WithMultiUse() InMemoryOption {
	return func(s *InMemoryStore) {
		s.singleUse = false
	}
}

// NewInMemoryStore creates an in-memory pending-session store and starts
// its eviction loop. Call Close when done.
func NewInMemoryStore(opts ...InMemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		ttl:       DefaultTTL,
		singleUse: true,
		sessions:  make(map[string]Session),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.evictLoop()
	return s
}

// Create generates a high-entropy token and stores the session
func (s *InMemoryStore) Create(ctx context.Context, accountID uuid.UUID) (Session, error) {
	session := Session{
		Token:     utils.GenerateRandomString(TokenLength),
		AccountID: accountID,
		ExpiresAt: time.Now().UTC().Add(s.ttl),
	}

	s.mutex.Lock()
	s.sessions[session.Token] = session
	s.mutex.Unlock()

	return session, nil
}

// Consume looks up a token. Expired or unknown tokens return ErrNotFound;
// in single-use mode a successful read deletes the entry.
func (s *InMemoryStore) Consume(ctx context.Context, token string) (Session, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	session, exists := s.sessions[token]
	if !exists {
		return Session{}, ErrNotFound
	}

	if time.Now().UTC().After(session.ExpiresAt) {
		delete(s.sessions, token)
		return Session{}, ErrNotFound
	}

	if s.singleUse {
		delete(s.sessions, token)
	}

	return session, nil
}

// EvictExpired removes all expired sessions and reports how many were
// evicted
func (s *InMemoryStore) EvictExpired() int {
	now := time.Now().UTC()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	evicted := 0
	for token, session := range s.sessions {
		if now.After(session.ExpiresAt) {
			delete(s.sessions, token)
			evicted++
		}
	}
	return evicted
}

// Close stops the eviction loop
func (s *InMemoryStore) Close() {
	s.once.Do(func() {
		close(s.done)
	})
}

func (s *InMemoryStore) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.EvictExpired()
		case <-s.done:
			return
		}
	}
}

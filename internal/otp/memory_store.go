package otp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type challenge struct {
	code      string
	expiresAt time.Time
}

// MemoryStore is a mutex-guarded in-process store. It is correct only for a
// single running instance; multi-instance deployments should use RedisStore.
type MemoryStore struct {
	mu         sync.Mutex
	challenges map[string]challenge
	now        func() time.Time
}

// NewMemoryStore creates an in-memory store. A nil now falls back to
// time.Now; tests inject a fake clock.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		challenges: make(map[string]challenge),
		now:        now,
	}
}

func (s *MemoryStore) Put(_ context.Context, sessionID uuid.UUID, purpose Purpose, code string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[challengeKey(sessionID, purpose)] = challenge{
		code:      code,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Consume(_ context.Context, sessionID uuid.UUID, purpose Purpose, submitted string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := challengeKey(sessionID, purpose)
	ch, ok := s.challenges[key]
	if !ok {
		return ErrMissing
	}
	if s.now().After(ch.expiresAt) {
		delete(s.challenges, key)
		return ErrExpired
	}
	if ch.code != submitted {
		return ErrMismatch
	}
	delete(s.challenges, key)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID uuid.UUID, purpose Purpose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, challengeKey(sessionID, purpose))
	return nil
}

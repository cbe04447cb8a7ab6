package otp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

type stubClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stubClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestMemoryStore_ConsumeOnce(t *testing.T) {
	clock := &stubClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(clock.Now)
	id := uuid.New()

	if err := store.Put(context.Background(), id, PurposeStart, "4321", 10*time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Consume(context.Background(), id, PurposeStart, "4321"); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := store.Consume(context.Background(), id, PurposeStart, "4321"); !errors.Is(err, ErrMissing) {
		t.Fatalf("second consume should be ErrMissing, got %v", err)
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	clock := &stubClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(clock.Now)
	id := uuid.New()

	if err := store.Put(context.Background(), id, PurposeEnd, "4321", 10*time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}

	clock.Advance(10*time.Minute + time.Second)

	if err := store.Consume(context.Background(), id, PurposeEnd, "4321"); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	// An expired challenge is dropped, not left to report Expired forever.
	if err := store.Consume(context.Background(), id, PurposeEnd, "4321"); !errors.Is(err, ErrMissing) {
		t.Fatalf("expected ErrMissing after expiry cleanup, got %v", err)
	}
}

func TestMemoryStore_MismatchDoesNotConsume(t *testing.T) {
	store := NewMemoryStore(nil)
	id := uuid.New()

	if err := store.Put(context.Background(), id, PurposeStart, "4321", 10*time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Consume(context.Background(), id, PurposeStart, "9999"); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}
	if err := store.Consume(context.Background(), id, PurposeStart, "4321"); err != nil {
		t.Fatalf("correct code should still consume: %v", err)
	}
}

func TestMemoryStore_PutOverwrites(t *testing.T) {
	store := NewMemoryStore(nil)
	id := uuid.New()

	if err := store.Put(context.Background(), id, PurposeStart, "1111", 10*time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(context.Background(), id, PurposeStart, "2222", 10*time.Minute); err != nil {
		t.Fatalf("second put: %v", err)
	}

	if err := store.Consume(context.Background(), id, PurposeStart, "1111"); !errors.Is(err, ErrMismatch) {
		t.Fatalf("stale code should mismatch, got %v", err)
	}
	if err := store.Consume(context.Background(), id, PurposeStart, "2222"); err != nil {
		t.Fatalf("current code should consume: %v", err)
	}
}

func TestMemoryStore_PurposesAreIndependent(t *testing.T) {
	store := NewMemoryStore(nil)
	id := uuid.New()

	if err := store.Put(context.Background(), id, PurposeStart, "1111", 10*time.Minute); err != nil {
		t.Fatalf("put start: %v", err)
	}
	if err := store.Put(context.Background(), id, PurposeEnd, "2222", 10*time.Minute); err != nil {
		t.Fatalf("put end: %v", err)
	}

	if err := store.Consume(context.Background(), id, PurposeStart, "1111"); err != nil {
		t.Fatalf("consume start: %v", err)
	}
	if err := store.Consume(context.Background(), id, PurposeEnd, "2222"); err != nil {
		t.Fatalf("end challenge must survive the start consume: %v", err)
	}
}

func TestMemoryStore_ConcurrentConsumeSingleWinner(t *testing.T) {
	store := NewMemoryStore(nil)
	id := uuid.New()

	if err := store.Put(context.Background(), id, PurposeStart, "4321", 10*time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Consume(context.Background(), id, PurposeStart, "4321"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Fatalf("expected exactly one successful consume, got %d", got)
	}
}

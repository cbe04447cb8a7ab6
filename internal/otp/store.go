// Package otp holds the one-time-code challenges that gate session start and
// end. A challenge is keyed by (session, purpose), lives for a bounded TTL,
// and is consumed exactly once: concurrent verifies for the same code cannot
// both succeed.
package otp

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Purpose string

const (
	PurposeStart Purpose = "start"
	PurposeEnd   Purpose = "end"
)

var (
	ErrMissing  = errors.New("otp challenge not found")
	ErrExpired  = errors.New("otp challenge expired")
	ErrMismatch = errors.New("otp code does not match")
)

// Store is the challenge store. Put overwrites any live challenge for the
// same key, invalidating the previous code. Consume verifies and deletes
// atomically. Delete exists so a failed SMS dispatch can roll back the
// challenge it just stored.
type Store interface {
	Put(ctx context.Context, sessionID uuid.UUID, purpose Purpose, code string, ttl time.Duration) error
	Consume(ctx context.Context, sessionID uuid.UUID, purpose Purpose, submitted string) error
	Delete(ctx context.Context, sessionID uuid.UUID, purpose Purpose) error
}

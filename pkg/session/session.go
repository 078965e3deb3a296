// Package session implements the Redis-backed session store. A session ties an
// inbound event to the out-of-band module reply: the reply is accepted only if
// its session was minted for the same entity as the execution it answers.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// keyPrefix is the Redis key namespace for sessions.
const keyPrefix = "waddlebot:session:"

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// Session is the stored session record.
type Session struct {
	ID           string    `json:"-"`
	EntityID     string    `json:"entity_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	RequestCount int       `json:"request_count"`
}

// Store reads and writes sessions in Redis with a shared TTL.
type Store struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewStore creates a session Store. ttl defaults to one hour when zero.
func NewStore(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl, logger: logger}
}

func key(sessionID string) string {
	return keyPrefix + sessionID
}

// Create mints a new session for the entity and stores it with the TTL.
func (s *Store) Create(ctx context.Context, entityID string) (Session, error) {
	now := time.Now().UTC()
	sess := Session{
		ID:           uuid.New().String(),
		EntityID:     entityID,
		CreatedAt:    now,
		LastActivity: now,
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return Session{}, fmt.Errorf("marshalling session: %w", err)
	}
	if err := s.rdb.Set(ctx, key(sess.ID), data, s.ttl).Err(); err != nil {
		return Session{}, fmt.Errorf("storing session: %w", err)
	}
	return sess, nil
}

// Get returns the session by ID, or ErrNotFound when absent or expired.
func (s *Store) Get(ctx context.Context, sessionID string) (Session, error) {
	val, err := s.rdb.Get(ctx, key(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("reading session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return Session{}, fmt.Errorf("unmarshalling session: %w", err)
	}
	sess.ID = sessionID
	return sess, nil
}

// Touch updates last_activity, increments request_count, and extends the TTL.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	sess.LastActivity = time.Now().UTC()
	sess.RequestCount++

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshalling session: %w", err)
	}
	if err := s.rdb.Set(ctx, key(sessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}

// Delete removes the session.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.rdb.Del(ctx, key(sessionID)).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// Validate reports whether the session exists and was minted for entityID.
func (s *Store) Validate(ctx context.Context, sessionID, entityID string) (bool, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return sess.EntityID == entityID, nil
}

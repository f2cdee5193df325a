// Package redis persists combat session snapshots between rounds so a
// restarted engine can rehydrate every in-flight battle.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/duskmire/engine/internal/game/combat"
)

// ErrNotFound is returned when no snapshot exists for the requested key.
var ErrNotFound = errors.New("combat session not found")

const (
	sessionKeyPrefix = "combat:session:"
	// locationKeyPrefix indexes the one non-ended session per location.
	locationKeyPrefix = "combat:location:"
)

// SessionStore is the Redis-backed snapshot store. Live sessions persist
// without expiry; ended sessions keep their final snapshot for endedTTL so
// clients can fetch the outcome, then fall out of Redis (the durable record
// lives in the event log).
type SessionStore struct {
	client   goredis.UniversalClient
	endedTTL time.Duration
}

// NewSessionStore creates a SessionStore.
//
// Precondition: client must be non-nil; endedTTL must be > 0.
func NewSessionStore(client goredis.UniversalClient, endedTTL time.Duration) *SessionStore {
	if client == nil {
		panic("redis: client is required")
	}
	return &SessionStore{client: client, endedTTL: endedTTL}
}

// Save writes the full session snapshot and maintains the location index in
// one transaction. Ending a session drops its location index entry, freeing
// the location for a new battle, and starts the retention clock on the
// snapshot itself.
//
// Postcondition: On success, Get(sess.ID) returns an equivalent session, and
// GetByLocation resolves iff the session has not ended.
func (s *SessionStore) Save(ctx context.Context, sess *combat.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session must have an id")
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshaling session %s: %w", sess.ID, err)
	}

	pipe := s.client.TxPipeline()
	if sess.State == combat.StateEnded {
		pipe.Set(ctx, sessionKeyPrefix+sess.ID, data, s.endedTTL)
		pipe.Del(ctx, locationKeyPrefix+sess.LocationID)
	} else {
		pipe.Set(ctx, sessionKeyPrefix+sess.ID, data, 0)
		pipe.Set(ctx, locationKeyPrefix+sess.LocationID, sess.ID, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving session %s: %w", sess.ID, err)
	}
	return nil
}

// Get loads the snapshot with the given session ID.
//
// Postcondition: Returns the rehydrated session, or ErrNotFound.
func (s *SessionStore) Get(ctx context.Context, id string) (*combat.Session, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	var sess combat.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshaling session %s: %w", id, err)
	}
	return &sess, nil
}

// GetByLocation resolves the location index to the live session there.
// A dangling index entry (session snapshot gone) is cleaned up and reported
// as ErrNotFound.
func (s *SessionStore) GetByLocation(ctx context.Context, locationID string) (*combat.Session, error) {
	id, err := s.client.Get(ctx, locationKeyPrefix+locationID).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("location %s: %w", locationID, ErrNotFound)
		}
		return nil, fmt.Errorf("resolving location %s: %w", locationID, err)
	}

	sess, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		s.client.Del(ctx, locationKeyPrefix+locationID)
		return nil, fmt.Errorf("location %s: %w", locationID, ErrNotFound)
	}
	return sess, err
}

// Delete removes a session snapshot and its location index entry.
func (s *SessionStore) Delete(ctx context.Context, id, locationID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKeyPrefix+id)
	pipe.Del(ctx, locationKeyPrefix+locationID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	return nil
}

// Package redisstore keeps cross-request session state in Redis: which
// clinicians are idle-locked and which sign-ins were revoked.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	lockPrefix    = "dictation:lock:"
	revokedPrefix = "dictation:revoked:"
)

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Store wraps a Redis client.
type Store struct {
	client *redis.Client
	// lockTTL bounds how long a lock outlives its holder.
	lockTTL time.Duration
	logger  zerolog.Logger
}

// New connects to Redis. A failed ping is logged, not fatal; commands retry
// on use.
func New(ctx context.Context, cfg Config, lockTTL time.Duration) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	s := NewWithClient(client, lockTTL)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		s.logger.Error().Err(err).Str("addr", cfg.Addr).Msg("Failed to connect to Redis")
	} else {
		s.logger.Info().Str("addr", cfg.Addr).Msg("Connected to Redis")
	}
	return s
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, lockTTL time.Duration) *Store {
	return &Store{
		client:  client,
		lockTTL: lockTTL,
		logger:  log.With().Str("component", "redisstore").Logger(),
	}
}

// Close closes the client.
func (s *Store) Close() error { return s.client.Close() }

// SetLocked records that actorID is idle-locked since at.
func (s *Store) SetLocked(ctx context.Context, actorID string, at time.Time) error {
	if err := s.client.Set(ctx, LockKey(actorID), at.UTC().Format(time.RFC3339Nano), s.lockTTL).Err(); err != nil {
		return fmt.Errorf("set lock: %w", err)
	}
	return nil
}

// ClearLock removes the lock for actorID.
func (s *Store) ClearLock(ctx context.Context, actorID string) error {
	if err := s.client.Del(ctx, LockKey(actorID)).Err(); err != nil {
		return fmt.Errorf("clear lock: %w", err)
	}
	return nil
}

// IsLocked reports whether actorID is idle-locked.
func (s *Store) IsLocked(ctx context.Context, actorID string) (bool, error) {
	_, err := s.client.Get(ctx, LockKey(actorID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get lock: %w", err)
	}
	return true, nil
}

// Revoke marks a sign-in session as ended for ttl.
func (s *Store) Revoke(ctx context.Context, sessionID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, RevokedKey(sessionID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// IsRevoked reports whether a sign-in session was ended.
func (s *Store) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.Exists(ctx, RevokedKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked: %w", err)
	}
	return n > 0, nil
}

// LockKey is the Redis key holding an actor's lock.
func LockKey(actorID string) string { return lockPrefix + actorID }

// RevokedKey is the Redis key marking a revoked session.
func RevokedKey(sessionID string) string { return revokedPrefix + sessionID }

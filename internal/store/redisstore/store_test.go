package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestKeys(t *testing.T) {
	if got := LockKey("u-1"); got != "dictation:lock:u-1" {
		t.Errorf("unexpected lock key: %s", got)
	}
	if got := RevokedKey("s-1"); got != "dictation:revoked:s-1" {
		t.Errorf("unexpected revoked key: %s", got)
	}
}

func TestStore_UnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	s := NewWithClient(client, time.Hour)
	defer s.Close()

	ctx := context.Background()
	if err := s.SetLocked(ctx, "u-1", time.Now()); err == nil {
		t.Error("expected error against an unreachable server")
	}
	if _, err := s.IsLocked(ctx, "u-1"); err == nil {
		t.Error("expected error against an unreachable server")
	}
	if _, err := s.IsRevoked(ctx, "s-1"); err == nil {
		t.Error("expected error against an unreachable server")
	}
}

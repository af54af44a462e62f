// Package roomkeys issues and verifies per-channel publish tokens,
// generalizing the teacher's RoomKeysType (rtmp/configure.go): a local
// TTL cache backs every lookup, with an optional Redis mirror so a
// multi-worker deployment (§9, "cross-worker streams") can share tokens
// issued by one worker with the others without a shared in-process hub.
package roomkeys

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"

	"github.com/streamhub/streamhub/internal/uid"
)

// Store issues and resolves publish tokens for a channel (vhost/app/stream
// key, see hub.Key.String()).
type Store struct {
	local *gocache.Cache
	redis *redis.Client
}

// New builds a Store. redisAddr may be empty, in which case tokens are
// only ever held in the local cache and token replication across
// workers does not occur (documented §9 cross-worker limitation).
func New(redisAddr, redisPassword string) *Store {
	s := &Store{
		local: gocache.New(gocache.NoExpiration, 10*time.Minute),
	}
	if redisAddr != "" {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: redisPassword,
		})
	}
	return s
}

// Issue mints a new token for channel and returns it, replicating to
// Redis when configured.
func (s *Store) Issue(ctx context.Context, channel string) (string, error) {
	token := uid.RandHex(24)
	s.local.SetDefault(channel, token)
	s.local.SetDefault(token, channel)
	if s.redis != nil {
		if err := s.redis.Set(ctx, redisKey(channel), token, 0).Err(); err != nil {
			return "", fmt.Errorf("replicating publish token: %w", err)
		}
		if err := s.redis.Set(ctx, redisKey(token), channel, 0).Err(); err != nil {
			return "", fmt.Errorf("replicating publish token: %w", err)
		}
	}
	return token, nil
}

// Channel resolves a token back to the channel it was issued for,
// falling back to Redis when the token is unknown locally (it may have
// been issued by a different worker).
func (s *Store) Channel(ctx context.Context, token string) (string, bool) {
	if v, ok := s.local.Get(token); ok {
		return v.(string), true
	}
	if s.redis == nil {
		return "", false
	}
	channel, err := s.redis.Get(ctx, redisKey(token)).Result()
	if err != nil {
		return "", false
	}
	s.local.SetDefault(token, channel)
	return channel, true
}

// Verify reports whether token is currently valid for channel.
func (s *Store) Verify(ctx context.Context, channel, token string) bool {
	got, ok := s.Channel(ctx, token)
	return ok && got == channel
}

// Revoke invalidates the token issued for channel.
func (s *Store) Revoke(ctx context.Context, channel string) {
	if v, ok := s.local.Get(channel); ok {
		s.local.Delete(v.(string))
	}
	s.local.Delete(channel)
	if s.redis != nil {
		s.redis.Del(ctx, redisKey(channel))
	}
}

func redisKey(k string) string { return "livehub:roomkey:" + k }

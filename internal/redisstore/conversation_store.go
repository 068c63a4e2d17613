package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ActiveConversation is the conversation a user's next relay call should
// continue. Cached with a TTL: once it expires the next call starts a fresh
// session.
type ActiveConversation struct {
	SessionID string `json:"session_id"`
	ThreadID  string `json:"thread_id"`
}

// Store manages the active-conversation cache.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore returns redis-backed store.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Store{client: client, ttl: ttl}
}

func (s *Store) key(userID int64) string {
	return fmt.Sprintf("voicechat:conversations:active:%d", userID)
}

// Save caches the user's active conversation, refreshing the TTL.
func (s *Store) Save(ctx context.Context, userID int64, conv ActiveConversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(userID), data, s.ttl).Err()
}

// Get returns the cached conversation, or nil when none is active.
func (s *Store) Get(ctx context.Context, userID int64) (*ActiveConversation, error) {
	result, err := s.client.Get(ctx, s.key(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var conv ActiveConversation
	if err := json.Unmarshal([]byte(result), &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// Delete drops the cached conversation.
func (s *Store) Delete(ctx context.Context, userID int64) error {
	return s.client.Del(ctx, s.key(userID)).Err()
}

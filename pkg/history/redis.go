package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one list per event under prefix + event id.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

type RedisOption func(*RedisStore)

// WithTTL expires an event's list ttl after its last append.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "duplex:history:"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(eventID string) string {
	return s.prefix + eventID
}

func (s *RedisStore) Append(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("history: encode entry: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.key(e.EventID), data)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key(e.EventID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("history: redis append: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, eventID string) ([]Entry, error) {
	raw, err := s.client.LRange(ctx, s.key(eventID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("history: redis list: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrNotFound
	}
	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("history: decode entry: %w", err)
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	return entries, nil
}

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "jarvis:conversation:"
	// Keys outlive MaxAge by this margin so PruneExpired stays the
	// authority on expiry; the Redis TTL only collects abandoned keys.
	redisTTLMargin   = 10 * time.Minute
	redisMaxAttempts = 5
)

// RedisStore keeps one JSON record per profile and updates it with
// WATCH/MULTI optimistic locking, so concurrent writers for different
// profiles never clobber each other.
type RedisStore struct {
	client *redis.Client
	opts   Options
}

// NewRedisStore connects to the Redis server at url (redis://...).
func NewRedisStore(ctx context.Context, url string, opts Options) (*RedisStore, error) {
	ro, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(ro)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, opts), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, opts Options) *RedisStore {
	return &RedisStore{client: client, opts: opts.withDefaults()}
}

func (s *RedisStore) key(profile string) string { return redisKeyPrefix + profile }

func (s *RedisStore) ttl() time.Duration { return s.opts.MaxAge + redisTTLMargin }

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, g getter, key string) (*Record, error) {
	val, err := g.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	return &rec, nil
}

func (s *RedisStore) History(ctx context.Context, profile string) ([]Message, error) {
	rec, err := s.get(ctx, s.client, s.key(profile))
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	if rec == nil {
		return []Message{}, nil
	}
	return rec.Messages, nil
}

func (s *RedisStore) AppendTurn(ctx context.Context, profile, role, content string) error {
	if profile == "" {
		return ErrInvalidProfile
	}
	if err := validRole(role); err != nil {
		return err
	}

	key := s.key(profile)
	msg := Message{Role: role, Content: content, Timestamp: s.opts.now()}

	txf := func(tx *redis.Tx) error {
		rec, err := s.get(ctx, tx, key)
		if err != nil {
			return err
		}
		if rec == nil {
			rec = &Record{}
		}
		rec.append(msg, s.opts.MaxMessages)

		val, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, val, s.ttl())
			return nil
		})
		return err
	}

	for range redisMaxAttempts {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("appending turn: %w", err)
		}
		return nil
	}
	return fmt.Errorf("appending turn: %w", redis.TxFailedErr)
}

func (s *RedisStore) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning conversations: %w", err)
	}
	return keys, nil
}

func (s *RedisStore) PruneExpired(ctx context.Context) (int, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return 0, err
	}

	now, maxAge := s.opts.now(), s.opts.maxAgeSeconds()
	removed := 0
	for _, key := range keys {
		rec, err := s.get(ctx, s.client, key)
		if err != nil {
			return removed, err
		}
		if rec == nil || !rec.expired(now, maxAge) {
			continue
		}
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return removed, fmt.Errorf("deleting %s: %w", key, err)
		}
		removed++
	}
	return removed, nil
}

func (s *RedisStore) Reset(ctx context.Context, profile string) error {
	return s.client.Del(ctx, s.key(profile)).Err()
}

func (s *RedisStore) ResetAll(ctx context.Context) error {
	keys, err := s.keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Profiles(ctx context.Context) ([]Record, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(keys))
	for _, key := range keys {
		rec, err := s.get(ctx, s.client, key)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		rec.Profile = strings.TrimPrefix(key, redisKeyPrefix)
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Profile < out[j].Profile })
	return out, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

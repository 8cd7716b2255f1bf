package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"autokite/internal/interfaces"
	"autokite/internal/types"
)

// MemoryCache keeps the session for the life of the process.
type MemoryCache struct {
	mu sync.Mutex
	s  types.Session
	ok bool
}

var _ interfaces.SessionCache = (*MemoryCache)(nil)

func NewMemoryCache() *MemoryCache { return &MemoryCache{} }

func (c *MemoryCache) Load(context.Context) (types.Session, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s, c.ok, nil
}

func (c *MemoryCache) Save(_ context.Context, s types.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s, c.ok = s, true
	return nil
}

type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisCache shares the day's session between the login, stream and
// portfolio commands. Entries expire with the session itself.
type RedisCache struct {
	client redisClient
	key    string
	now    func() time.Time
}

var _ interfaces.SessionCache = (*RedisCache)(nil)

type sessionRecord struct {
	AccessToken string    `json:"access_token"`
	UserID      string    `json:"user_id"`
	IssuedAt    time.Time `json:"issued_at"`
	Expiry      time.Time `json:"expiry"`
}

func NewRedisCache(addr, password string, db int, key string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return newRedisCache(client, key), nil
}

func newRedisCache(client redisClient, key string) *RedisCache {
	return &RedisCache{client: client, key: key, now: time.Now}
}

func (c *RedisCache) Load(ctx context.Context) (types.Session, bool, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.Session{}, false, nil
	}
	if err != nil {
		return types.Session{}, false, fmt.Errorf("failed to read session: %w", err)
	}

	var rec sessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return types.Session{}, false, fmt.Errorf("failed to decode session: %w", err)
	}
	return types.Session(rec), true, nil
}

func (c *RedisCache) Save(ctx context.Context, s types.Session) error {
	ttl := s.Expiry.Sub(c.now())
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(sessionRecord(s))
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

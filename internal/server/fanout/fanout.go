// Package fanout implements the server's cross-request shared state: a
// revoked-token blacklist, the set of currently-online devices per user,
// and a per-user pending-change notification queue. Grounded on
// alert-history-service's Redis usage in
// internal/infrastructure/cache/redis.go and
// internal/infrastructure/grouping/redis_group_storage.go, generalized
// from go-redis/v9's string/set/sorted-set primitives to the key schema
// of spec.md §4.10.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// onlineDeviceTTL is the duration a device stays in a user's online set
// after its stream socket opened or its last Heartbeat before it's
// considered gone.
const onlineDeviceTTL = 30 * time.Minute

// maxChangeQueue bounds changes:<user> so a device that never fetches
// doesn't grow the list unboundedly.
const maxChangeQueue = 1000

// ChangeNotification is one entry in a user's pending-change queue,
// pushed by the file-sync service whenever a version is accepted from
// some device and read back with PopChanges. FetchChanges reads the
// catalog rather than this queue, and the stream socket does not deliver
// it.
type ChangeNotification struct {
	Path          string    `json:"path"`
	VersionNumber int64     `json:"version_number"`
	Sha256Hex     string    `json:"sha256_hex"`
	Deleted       bool      `json:"deleted"`
	OriginDevice  string    `json:"origin_device"`
	At            time.Time `json:"at"`
}

// Cache abstracts the Redis operations fanout needs, so tests can run
// against miniredis without a real server.
type Cache interface {
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Del(ctx context.Context, key string) error
	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	LPush(ctx context.Context, key string, value []byte) error
	LTrim(ctx context.Context, key string, count int64) error
	LRange(ctx context.Context, key string, count int64) ([][]byte, error)
}

// RedisCache is the production Cache backed by a *redis.Client, matching
// the teacher's RedisCache wrapper shape (constructor validates and
// pings, methods wrap a single client call and translate redis.Nil).
type RedisCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisCache connects to addr and pings it before returning, mirroring
// cache.NewRedisCache's fail-fast startup check.
func NewRedisCache(ctx context.Context, addr, password string, db int, logger *slog.Logger) (*RedisCache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("fanout: connecting to redis at %s: %w", addr, err)
	}

	logger.Info("fanout: connected to redis", "addr", addr, "db", db)

	return &RedisCache{client: client, logger: logger}, nil
}

// NewRedisCacheFromClient wraps an already-constructed client, used by
// callers (and tests) that build the *redis.Client themselves, e.g.
// against a miniredis instance.
func NewRedisCacheFromClient(client *redis.Client, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}

	return &RedisCache{client: client, logger: logger}
}

func (c *RedisCache) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("fanout: SETNX %s: %w", key, err)
	}

	return ok, nil
}

func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("fanout: EXISTS %s: %w", key, err)
	}

	return n > 0, nil
}

func (c *RedisCache) Del(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("fanout: DEL %s: %w", key, err)
	}

	return nil
}

func (c *RedisCache) SAdd(ctx context.Context, key, member string) error {
	if err := c.client.SAdd(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("fanout: SADD %s: %w", key, err)
	}

	return nil
}

func (c *RedisCache) SRem(ctx context.Context, key, member string) error {
	if err := c.client.SRem(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("fanout: SREM %s: %w", key, err)
	}

	return nil
}

func (c *RedisCache) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := c.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("fanout: SMEMBERS %s: %w", key, err)
	}

	return members, nil
}

func (c *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("fanout: EXPIRE %s: %w", key, err)
	}

	return nil
}

func (c *RedisCache) LPush(ctx context.Context, key string, value []byte) error {
	if err := c.client.LPush(ctx, key, value).Err(); err != nil {
		return fmt.Errorf("fanout: LPUSH %s: %w", key, err)
	}

	return nil
}

func (c *RedisCache) LTrim(ctx context.Context, key string, count int64) error {
	if err := c.client.LTrim(ctx, key, 0, count-1).Err(); err != nil {
		return fmt.Errorf("fanout: LTRIM %s: %w", key, err)
	}

	return nil
}

func (c *RedisCache) LRange(ctx context.Context, key string, count int64) ([][]byte, error) {
	vals, err := c.client.LRange(ctx, key, 0, count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("fanout: LRANGE %s: %w", key, err)
	}

	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}

	return out, nil
}

// Close closes the underlying Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Store is the fan-out cache's API surface: token revocation, device
// presence, and per-user change notifications, each backed by a distinct
// Redis key schema per spec.md §4.10.
type Store struct {
	cache  Cache
	logger *slog.Logger
}

// New constructs a Store over any Cache implementation.
func New(cache Cache, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{cache: cache, logger: logger}
}

// RevokeToken blacklists jti until the token's own expiry, at which point
// it would be rejected as expired anyway and the blacklist entry is
// redundant — so the TTL is set to the token's remaining lifetime rather
// than a fixed duration.
func (s *Store) RevokeToken(ctx context.Context, jti string, remaining time.Duration) error {
	if remaining <= 0 {
		remaining = time.Second
	}

	key := blacklistKey(jti)

	if _, err := s.cache.SetNX(ctx, key, remaining); err != nil {
		return err
	}

	return nil
}

// IsTokenRevoked reports whether jti has been blacklisted.
func (s *Store) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	return s.cache.Exists(ctx, blacklistKey(jti))
}

func blacklistKey(jti string) string {
	return "token:blacklist:" + jti
}

// MarkDeviceOnline adds deviceID to user's online set and (re)arms its
// TTL. httpapi calls it when a device's stream socket opens and on each
// heartbeat. Redis sets don't carry a per-member TTL, so presence is
// tracked by expiring the whole set and re-adding on every call; a device
// that stops sending heartbeats drops off within onlineDeviceTTL.
func (s *Store) MarkDeviceOnline(ctx context.Context, userID, deviceID string) error {
	key := onlineKey(userID)

	if err := s.cache.SAdd(ctx, key, deviceID); err != nil {
		return err
	}

	return s.cache.Expire(ctx, key, onlineDeviceTTL)
}

// MarkDeviceOffline removes deviceID from user's online set, called on
// explicit logout/disconnect.
func (s *Store) MarkDeviceOffline(ctx context.Context, userID, deviceID string) error {
	return s.cache.SRem(ctx, onlineKey(userID), deviceID)
}

// OnlineDevices lists the devices currently marked online for userID.
func (s *Store) OnlineDevices(ctx context.Context, userID string) ([]string, error) {
	return s.cache.SMembers(ctx, onlineKey(userID))
}

func onlineKey(userID string) string {
	return "device:online:" + userID
}

// PushChange records a change notification on userID's single change
// queue (read back with PopChanges), trimming the queue to
// maxChangeQueue most-recent entries.
func (s *Store) PushChange(ctx context.Context, userID string, change ChangeNotification) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("fanout: marshaling change notification: %w", err)
	}

	key := changesKey(userID)

	if err := s.cache.LPush(ctx, key, data); err != nil {
		return err
	}

	return s.cache.LTrim(ctx, key, maxChangeQueue)
}

// PopChanges returns up to n of the most recent pending changes for
// userID, newest first, without removing them — FetchChanges is a
// since_version-filtered read, so the queue is a bounded recent-history
// ring buffer rather than a consume-once queue.
func (s *Store) PopChanges(ctx context.Context, userID string, n int) ([]ChangeNotification, error) {
	raw, err := s.cache.LRange(ctx, changesKey(userID), int64(n))
	if err != nil {
		return nil, err
	}

	out := make([]ChangeNotification, 0, len(raw))

	for _, r := range raw {
		var cn ChangeNotification
		if err := json.Unmarshal(r, &cn); err != nil {
			s.logger.Warn("fanout: dropping malformed change notification", "user", userID, "error", err)
			continue
		}

		out = append(out, cn)
	}

	return out, nil
}

func changesKey(userID string) string {
	return "changes:" + userID
}

package actor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStateStore persists snapshot records in Redis hashes, one hash per
// (actor key, slot). Version checks run server-side so concurrent writers
// cannot interleave.
type RedisStateStore struct {
	rdb *redis.Client
}

// casWrite bumps the version only when the stored version matches.
var casWrite = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'version')
if not v then v = '0' end
if v ~= ARGV[1] then return -1 end
redis.call('HSET', KEYS[1], 'version', ARGV[2], 'data', ARGV[3])
return tonumber(ARGV[2])
`)

// NewRedisStateStore connects and pings; the caller decides whether to fall
// back to the in-memory store on error.
func NewRedisStateStore(addr, password string, db int) (*RedisStateStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("Redis state store connected", "addr", addr, "db", db)
	return &RedisStateStore{rdb: rdb}, nil
}

func (s *RedisStateStore) Close() error {
	return s.rdb.Close()
}

func redisStateKey(actorKey, slot string) string {
	return "state:" + actorKey + ":" + slot
}

func (s *RedisStateStore) Read(ctx context.Context, actorKey, slot string) (Record, error) {
	vals, err := s.rdb.HGetAll(ctx, redisStateKey(actorKey, slot)).Result()
	if err != nil {
		return Record{}, err
	}
	if len(vals) == 0 {
		return Record{}, ErrStateNotFound
	}

	var rec Record
	if _, err := fmt.Sscanf(vals["version"], "%d", &rec.Version); err != nil {
		return Record{}, fmt.Errorf("bad version on %s/%s: %w", actorKey, slot, err)
	}
	rec.Data = []byte(vals["data"])
	return rec, nil
}

func (s *RedisStateStore) Write(ctx context.Context, actorKey, slot string, data []byte, expectedVersion int64) (int64, error) {
	res, err := casWrite.Run(ctx, s.rdb,
		[]string{redisStateKey(actorKey, slot)},
		expectedVersion, expectedVersion+1, data,
	).Int64()
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, fmt.Errorf("%w on %s/%s", ErrVersionConflict, actorKey, slot)
	}
	return res, nil
}

func (s *RedisStateStore) Delete(ctx context.Context, actorKey, slot string) error {
	return s.rdb.Del(ctx, redisStateKey(actorKey, slot)).Err()
}

package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Replay is a stored response returned again for a repeated key.
// Fingerprint identifies the request body that produced it.
type Replay struct {
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	Fingerprint string `json:"fingerprint"`
}

func fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// idempotencyScope namespaces key by caller and procedure. Anonymous callers
// share no identity, so their scope also carries the body fingerprint.
func idempotencyScope(callerID, procedure, key, fp string) string {
	if callerID == "" {
		return "anon:" + procedure + ":" + fp + ":" + key
	}
	return callerID + ":" + procedure + ":" + key
}

// IdempotencyStore remembers responses of mutating procedures by key.
type IdempotencyStore interface {
	// Lookup returns a completed response. A key still being processed
	// yields errIdempotencyInUse.
	Lookup(ctx context.Context, key string) (Replay, bool, error)
	// Lock claims the key for processing; false means another request holds it.
	Lock(ctx context.Context, key string) (bool, error)
	Complete(ctx context.Context, key string, replay Replay) error
	Release(ctx context.Context, key string) error
}

const processingMarker = "PROCESSING"

// RedisIdempotency keeps keys in Redis: a short-lived processing marker while
// the request runs, then the rendered response for ttl.
type RedisIdempotency struct {
	client  *redis.Client
	ttl     time.Duration
	lockTTL time.Duration
}

func NewRedisIdempotency(client *redis.Client, ttl time.Duration) *RedisIdempotency {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotency{client: client, ttl: ttl, lockTTL: 30 * time.Second}
}

func redisKey(key string) string {
	return "idempotency:" + key
}

func (r *RedisIdempotency) Lookup(ctx context.Context, key string) (Replay, bool, error) {
	val, err := r.client.Get(ctx, redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return Replay{}, false, nil
	}
	if err != nil {
		return Replay{}, false, fmt.Errorf("api: idempotency get: %w", err)
	}
	if val == processingMarker {
		return Replay{}, false, errIdempotencyInUse
	}
	var replay Replay
	if err := json.Unmarshal([]byte(val), &replay); err != nil {
		return Replay{}, false, fmt.Errorf("api: idempotency decode: %w", err)
	}
	return replay, true, nil
}

func (r *RedisIdempotency) Lock(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, redisKey(key), processingMarker, r.lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("api: idempotency lock: %w", err)
	}
	return ok, nil
}

func (r *RedisIdempotency) Complete(ctx context.Context, key string, replay Replay) error {
	data, err := json.Marshal(replay)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisKey(key), data, r.ttl).Err()
}

func (r *RedisIdempotency) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisKey(key)).Err()
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes lockKey only if it still holds the token this holder
// set, the classic safe-unlock idiom for a SETNX-style distributed lock. This
// is the one place this module reaches for server-side scripting; everywhere
// else the KV primitives are plain go-redis calls, per Design Notes §9's
// "multi-key transactions... or per-namespace serialization via a
// single-writer actor" alternative to wholesale Lua procedures.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore is the production Store backend. Atomic serializes callers via a
// short-lived distributed lock keyed by lockKey, so concurrent clients talking
// to the same Redis instance observe each procedure as indivisible even though
// the individual commands are issued one at a time rather than inside a single
// Lua script.
type RedisStore struct {
	client     redis.UniversalClient
	lockTTL    time.Duration
	lockRetry  time.Duration
	lockPrefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithLockTTL overrides the default distributed-lock lease (2s).
func WithLockTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.lockTTL = d }
}

// WithLockRetryInterval overrides the default lock-acquisition poll interval (5ms).
func WithLockRetryInterval(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.lockRetry = d }
}

// NewRedisStore wraps an existing go-redis client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:     client,
		lockTTL:    2 * time.Second,
		lockRetry:  5 * time.Millisecond,
		lockPrefix: "jobqueue:lock:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) Atomic(ctx context.Context, lockKey string, fn func(tx Tx) error) error {
	key := s.lockPrefix + lockKey
	token := uuid.NewString()

	deadline := time.Now().Add(s.lockTTL * 4)
	for {
		ok, err := s.client.SetNX(ctx, key, token, s.lockTTL).Result()
		if err != nil {
			return fmt.Errorf("jobqueue: acquire lock %q: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("jobqueue: timed out acquiring lock %q", key)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.lockRetry):
		}
	}
	defer unlockScript.Run(ctx, s.client, []string{key}, token)

	return fn(&redisTx{ctx: ctx, c: s.client})
}

type redisTx struct {
	ctx context.Context
	c   redis.UniversalClient
}

func (t *redisTx) HGetAll(key string) (map[string]string, error) {
	return t.c.HGetAll(t.ctx, key).Result()
}

func (t *redisTx) HSet(key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		values = append(values, k, v)
	}
	return t.c.HSet(t.ctx, key, values...).Err()
}

func (t *redisTx) HGet(key, field string) (string, bool, error) {
	v, err := t.c.HGet(t.ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	return v, err == nil, err
}

func (t *redisTx) HDel(key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return t.c.HDel(t.ctx, key, fields...).Err()
}

func (t *redisTx) Del(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return t.c.Del(t.ctx, keys...).Err()
}

func (t *redisTx) Exists(key string) (bool, error) {
	n, err := t.c.Exists(t.ctx, key).Result()
	return n > 0, err
}

func (t *redisTx) ZAdd(key string, score float64, member string) error {
	return t.c.ZAdd(t.ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (t *redisTx) ZRem(key, member string) (bool, error) {
	n, err := t.c.ZRem(t.ctx, key, member).Result()
	return n > 0, err
}

func (t *redisTx) ZPopMin(key string) (string, float64, bool, error) {
	res, err := t.c.ZPopMin(t.ctx, key, 1).Result()
	if err != nil {
		return "", 0, false, err
	}
	if len(res) == 0 {
		return "", 0, false, nil
	}
	member, _ := res[0].Member.(string)
	return member, res[0].Score, true, nil
}

func (t *redisTx) ZRangeByScore(key string, max float64, limit int) ([]ZMember, error) {
	opt := &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%v", max),
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	res, err := t.c.ZRangeByScoreWithScores(t.ctx, key, opt).Result()
	if err != nil {
		return nil, err
	}
	out := make([]ZMember, len(res))
	for i, z := range res {
		member, _ := z.Member.(string)
		out[i] = ZMember{Member: member, Score: z.Score}
	}
	return out, nil
}

func (t *redisTx) ZCard(key string) (int64, error) {
	return t.c.ZCard(t.ctx, key).Result()
}

func (t *redisTx) ZScore(key, member string) (float64, bool, error) {
	score, err := t.c.ZScore(t.ctx, key, member).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	return score, err == nil, err
}

func (t *redisTx) ZRemRangeByScore(key string, max float64) (int64, error) {
	return t.c.ZRemRangeByScore(t.ctx, key, "-inf", fmt.Sprintf("%v", max)).Result()
}

func (t *redisTx) ZRemRangeByRank(key string, keep int64) ([]string, error) {
	total, err := t.c.ZCard(t.ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if total <= keep {
		return nil, nil
	}
	cut := total - keep
	removed, err := t.c.ZRange(t.ctx, key, 0, cut-1).Result()
	if err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return nil, nil
	}
	if err := t.c.ZRemRangeByRank(t.ctx, key, 0, cut-1).Err(); err != nil {
		return nil, err
	}
	return removed, nil
}

func (t *redisTx) LPush(key, value string) error {
	return t.c.LPush(t.ctx, key, value).Err()
}

func (t *redisTx) RPush(key, value string) error {
	return t.c.RPush(t.ctx, key, value).Err()
}

func (t *redisTx) LPop(key string) (string, bool, error) {
	v, err := t.c.LPop(t.ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	return v, err == nil, err
}

func (t *redisTx) RPop(key string) (string, bool, error) {
	v, err := t.c.RPop(t.ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	return v, err == nil, err
}

func (t *redisTx) LRem(key, value string) (bool, error) {
	n, err := t.c.LRem(t.ctx, key, 1, value).Result()
	return n > 0, err
}

func (t *redisTx) LLen(key string) (int64, error) {
	return t.c.LLen(t.ctx, key).Result()
}

func (t *redisTx) LIndex(key string, index int64) (string, bool, error) {
	v, err := t.c.LIndex(t.ctx, key, index).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	return v, err == nil, err
}

func (t *redisTx) LRange(key string, start, stop int64) ([]string, error) {
	return t.c.LRange(t.ctx, key, start, stop).Result()
}

func (t *redisTx) SAdd(key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	vals := make([]interface{}, len(members))
	for i, m := range members {
		vals[i] = m
	}
	return t.c.SAdd(t.ctx, key, vals...).Err()
}

func (t *redisTx) SRem(key string, members ...string) (bool, error) {
	if len(members) == 0 {
		return false, nil
	}
	vals := make([]interface{}, len(members))
	for i, m := range members {
		vals[i] = m
	}
	n, err := t.c.SRem(t.ctx, key, vals...).Result()
	return n > 0, err
}

func (t *redisTx) SCard(key string) (int64, error) {
	return t.c.SCard(t.ctx, key).Result()
}

func (t *redisTx) SMembers(key string) ([]string, error) {
	return t.c.SMembers(t.ctx, key).Result()
}

func (t *redisTx) Incr(key string) (int64, error) {
	return t.c.Incr(t.ctx, key).Result()
}

func (t *redisTx) SetPX(key, value string, ttlMs int64) error {
	var ttl time.Duration
	if ttlMs > 0 {
		ttl = time.Duration(ttlMs) * time.Millisecond
	}
	return t.c.Set(t.ctx, key, value, ttl).Err()
}

func (t *redisTx) Get(key string) (string, bool, error) {
	v, err := t.c.Get(t.ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	return v, err == nil, err
}

func (t *redisTx) PTTL(key string) (int64, error) {
	d, err := t.c.PTTL(t.ctx, key).Result()
	if err != nil {
		return 0, err
	}
	return d.Milliseconds(), nil
}

func (t *redisTx) Expire(key string, ttlMs int64) error {
	return t.c.PExpire(t.ctx, key, time.Duration(ttlMs)*time.Millisecond).Err()
}

func (t *redisTx) XAdd(key string, fields map[string]string) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return t.c.XAdd(t.ctx, &redis.XAddArgs{Stream: key, Values: values}).Result()
}

func (t *redisTx) XTrimApprox(key string, maxLen int64) error {
	return t.c.XTrimMaxLenApprox(t.ctx, key, maxLen, 100).Err()
}

// Package store defines the KV abstraction trait the job queue core is built
// against: ordered sets, ordered sequences, hashes, expiring scalars, counters
// and an append-only stream, each reachable under per-procedure atomicity.
//
// The core (package queue) never talks to Redis, miniredis, or an in-memory map
// directly — it only calls Store.Atomic and the Tx primitives exposed inside
// the callback. This mirrors the "any backing store providing these primitives
// under per-procedure atomicity is acceptable" contract.
package store

import "context"

// ZMember is one entry of an ordered set, returned in score order.
type ZMember struct {
	Member string
	Score  float64
}

// Store is a namespace-agnostic handle to the backing KV store. Atomic runs fn
// as a single indivisible unit: no other call to Atomic on the same Store may
// observe partial effects of fn, and fn itself never suspends mid-procedure.
type Store interface {
	// Atomic executes fn with exclusive access to the keyspace. lockKey scopes
	// the exclusivity domain; callers pass the queue's namespace prefix, but a
	// single Atomic call may still touch keys outside that prefix (e.g. a
	// different queue's parent job) — the KV abstraction trait does not bound
	// which keys a procedure may touch, only that the procedure is atomic.
	Atomic(ctx context.Context, lockKey string, fn func(tx Tx) error) error

	// Close releases any resources held by the store (connections, etc).
	Close() error
}

// Tx exposes the primitives of EXTERNAL INTERFACES §6 to a procedure running
// inside Store.Atomic. All methods are synchronous and side-effecting; there is
// no separate "commit" step because atomicity is guaranteed by the Atomic
// wrapper, not by the individual calls.
type Tx interface {
	// Hash (per-job and meta mappings)
	HGetAll(key string) (map[string]string, error)
	HSet(key string, fields map[string]string) error
	HGet(key, field string) (string, bool, error)
	HDel(key string, fields ...string) error
	Del(keys ...string) error
	Exists(key string) (bool, error)

	// Ordered set (prioritized, delayed, completed, failed, waiting-children)
	ZAdd(key string, score float64, member string) error
	ZRem(key, member string) (bool, error)
	ZPopMin(key string) (member string, score float64, ok bool, err error)
	// ZRangeByScore returns members with score <= max, in ascending score
	// order, capped at limit entries (limit <= 0 means unlimited).
	ZRangeByScore(key string, max float64, limit int) ([]ZMember, error)
	ZCard(key string) (int64, error)
	ZScore(key, member string) (float64, bool, error)
	// ZRemRangeByScore removes members with score <= max and returns the count
	// removed. Used by age-based retention.
	ZRemRangeByScore(key string, max float64) (int64, error)
	// ZRemRangeByRank removes the lowest-scored members leaving at most keep
	// entries. Used by count-based retention.
	ZRemRangeByRank(key string, keep int64) ([]string, error)

	// Ordered sequence (wait, paused, active)
	LPush(key, value string) error
	RPush(key, value string) error
	LPop(key string) (string, bool, error)
	RPop(key string) (string, bool, error)
	LRem(key, value string) (bool, error)
	LLen(key string) (int64, error)
	LIndex(key string, index int64) (string, bool, error)
	LRange(key string, start, stop int64) ([]string, error)

	// Set (dependency tracking)
	SAdd(key string, members ...string) error
	SRem(key string, members ...string) (bool, error)
	SCard(key string) (int64, error)
	SMembers(key string) ([]string, error)

	// Counter (id, pc)
	Incr(key string) (int64, error)

	// Expiring scalar (lock, rate limiter)
	SetPX(key, value string, ttlMs int64) error
	Get(key string) (string, bool, error)
	PTTL(key string) (int64, error)
	// Expire sets a TTL on an existing key without changing its value; used to
	// arm the rate limiter window on the first increment.
	Expire(key string, ttlMs int64) error

	// Stream (events)
	XAdd(key string, fields map[string]string) (string, error)
	XTrimApprox(key string, maxLen int64) error
}

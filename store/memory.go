package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
)

// MemoryStore is the reference Store implementation: a single mutex serializes
// every Atomic call, realizing the "per-namespace serialization via a
// single-writer actor" alternative described in Design Notes §9. It is used by
// the core's own test suite and is suitable for embedding a job queue inside a
// single process without an external KV store.
type MemoryStore struct {
	mu sync.Mutex

	hashes  map[string]map[string]string
	zsets   map[string]map[string]float64
	lists   map[string][]string
	sets    map[string]map[string]struct{}
	scalars map[string]string
	expiry  map[string]int64 // unix-ms deadline, 0 = none
	counter map[string]int64
	streams map[string][]streamEntry

	nowMs func() int64
	seq   int64
}

type streamEntry struct {
	id     string
	fields map[string]string
}

// NewMemoryStore creates an empty in-memory store. nowMs supplies the current
// time in unix milliseconds; callers inject it so TTL expiry is deterministic
// in tests.
func NewMemoryStore(nowMs func() int64) *MemoryStore {
	return &MemoryStore{
		hashes:  make(map[string]map[string]string),
		zsets:   make(map[string]map[string]float64),
		lists:   make(map[string][]string),
		sets:    make(map[string]map[string]struct{}),
		scalars: make(map[string]string),
		expiry:  make(map[string]int64),
		counter: make(map[string]int64),
		streams: make(map[string][]streamEntry),
		nowMs:   nowMs,
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Atomic(_ context.Context, _ string, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memoryTx{s: s})
}

// memoryTx is only ever used while s.mu is held by the enclosing Atomic call.
type memoryTx struct{ s *MemoryStore }

func (t *memoryTx) expired(key string) bool {
	deadline, ok := t.s.expiry[key]
	if !ok || deadline == 0 {
		return false
	}
	if t.s.nowMs() >= deadline {
		delete(t.s.scalars, key)
		delete(t.s.expiry, key)
		return true
	}
	return false
}

func (t *memoryTx) HGetAll(key string) (map[string]string, error) {
	m := t.s.hashes[key]
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out, nil
}

func (t *memoryTx) HSet(key string, fields map[string]string) error {
	m, ok := t.s.hashes[key]
	if !ok {
		m = make(map[string]string)
		t.s.hashes[key] = m
	}
	for k, v := range fields {
		m[k] = v
	}
	return nil
}

func (t *memoryTx) HGet(key, field string) (string, bool, error) {
	m, ok := t.s.hashes[key]
	if !ok {
		return "", false, nil
	}
	v, ok := m[field]
	return v, ok, nil
}

func (t *memoryTx) HDel(key string, fields ...string) error {
	m, ok := t.s.hashes[key]
	if !ok {
		return nil
	}
	for _, f := range fields {
		delete(m, f)
	}
	return nil
}

func (t *memoryTx) Del(keys ...string) error {
	for _, k := range keys {
		delete(t.s.hashes, k)
		delete(t.s.zsets, k)
		delete(t.s.lists, k)
		delete(t.s.sets, k)
		delete(t.s.scalars, k)
		delete(t.s.expiry, k)
		delete(t.s.counter, k)
		delete(t.s.streams, k)
	}
	return nil
}

func (t *memoryTx) Exists(key string) (bool, error) {
	if _, ok := t.s.hashes[key]; ok {
		return true, nil
	}
	if _, ok := t.s.scalars[key]; ok {
		return !t.expired(key), nil
	}
	return false, nil
}

func (t *memoryTx) ZAdd(key string, score float64, member string) error {
	m, ok := t.s.zsets[key]
	if !ok {
		m = make(map[string]float64)
		t.s.zsets[key] = m
	}
	m[member] = score
	return nil
}

func (t *memoryTx) ZRem(key, member string) (bool, error) {
	m, ok := t.s.zsets[key]
	if !ok {
		return false, nil
	}
	if _, ok := m[member]; !ok {
		return false, nil
	}
	delete(m, member)
	return true, nil
}

func (t *memoryTx) sortedMembers(key string) []ZMember {
	m := t.s.zsets[key]
	members := make([]ZMember, 0, len(m))
	for k, v := range m {
		members = append(members, ZMember{Member: k, Score: v})
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score < members[j].Score
		}
		return members[i].Member < members[j].Member
	})
	return members
}

func (t *memoryTx) ZPopMin(key string) (string, float64, bool, error) {
	members := t.sortedMembers(key)
	if len(members) == 0 {
		return "", 0, false, nil
	}
	min := members[0]
	delete(t.s.zsets[key], min.Member)
	return min.Member, min.Score, true, nil
}

func (t *memoryTx) ZRangeByScore(key string, max float64, limit int) ([]ZMember, error) {
	members := t.sortedMembers(key)
	out := make([]ZMember, 0, len(members))
	for _, m := range members {
		if m.Score > max {
			break
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (t *memoryTx) ZCard(key string) (int64, error) {
	return int64(len(t.s.zsets[key])), nil
}

func (t *memoryTx) ZScore(key, member string) (float64, bool, error) {
	m, ok := t.s.zsets[key]
	if !ok {
		return 0, false, nil
	}
	score, ok := m[member]
	return score, ok, nil
}

func (t *memoryTx) ZRemRangeByScore(key string, max float64) (int64, error) {
	members := t.sortedMembers(key)
	var removed int64
	for _, m := range members {
		if m.Score > max {
			break
		}
		delete(t.s.zsets[key], m.Member)
		removed++
	}
	return removed, nil
}

func (t *memoryTx) ZRemRangeByRank(key string, keep int64) ([]string, error) {
	members := t.sortedMembers(key)
	// Highest scores are the most recent retained entries; keep the tail.
	if int64(len(members)) <= keep {
		return nil, nil
	}
	cut := int64(len(members)) - keep
	removed := make([]string, 0, cut)
	for i := int64(0); i < cut; i++ {
		delete(t.s.zsets[key], members[i].Member)
		removed = append(removed, members[i].Member)
	}
	return removed, nil
}

func (t *memoryTx) LPush(key, value string) error {
	t.s.lists[key] = append([]string{value}, t.s.lists[key]...)
	return nil
}

func (t *memoryTx) RPush(key, value string) error {
	t.s.lists[key] = append(t.s.lists[key], value)
	return nil
}

func (t *memoryTx) LPop(key string) (string, bool, error) {
	l := t.s.lists[key]
	if len(l) == 0 {
		return "", false, nil
	}
	v := l[0]
	t.s.lists[key] = l[1:]
	return v, true, nil
}

func (t *memoryTx) RPop(key string) (string, bool, error) {
	l := t.s.lists[key]
	if len(l) == 0 {
		return "", false, nil
	}
	v := l[len(l)-1]
	t.s.lists[key] = l[:len(l)-1]
	return v, true, nil
}

func (t *memoryTx) LRem(key, value string) (bool, error) {
	l := t.s.lists[key]
	for i, v := range l {
		if v == value {
			t.s.lists[key] = append(l[:i], l[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) LLen(key string) (int64, error) {
	return int64(len(t.s.lists[key])), nil
}

func (t *memoryTx) LIndex(key string, index int64) (string, bool, error) {
	l := t.s.lists[key]
	if index < 0 {
		index += int64(len(l))
	}
	if index < 0 || index >= int64(len(l)) {
		return "", false, nil
	}
	return l[index], true, nil
}

func (t *memoryTx) LRange(key string, start, stop int64) ([]string, error) {
	l := t.s.lists[key]
	n := int64(len(l))
	if n == 0 {
		return nil, nil
	}
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, l[start:stop+1])
	return out, nil
}

func (t *memoryTx) SAdd(key string, members ...string) error {
	m, ok := t.s.sets[key]
	if !ok {
		m = make(map[string]struct{})
		t.s.sets[key] = m
	}
	for _, member := range members {
		m[member] = struct{}{}
	}
	return nil
}

func (t *memoryTx) SRem(key string, members ...string) (bool, error) {
	m, ok := t.s.sets[key]
	if !ok {
		return false, nil
	}
	var removed bool
	for _, member := range members {
		if _, ok := m[member]; ok {
			delete(m, member)
			removed = true
		}
	}
	return removed, nil
}

func (t *memoryTx) SCard(key string) (int64, error) {
	return int64(len(t.s.sets[key])), nil
}

func (t *memoryTx) SMembers(key string) ([]string, error) {
	m := t.s.sets[key]
	out := make([]string, 0, len(m))
	for member := range m {
		out = append(out, member)
	}
	sort.Strings(out)
	return out, nil
}

// Incr keeps the counter in the scalar map, as Redis does, so Get, PTTL and
// Expire on the same key see it (the rate limiter relies on this).
func (t *memoryTx) Incr(key string) (int64, error) {
	t.expired(key)
	v, _ := strconv.ParseInt(t.s.scalars[key], 10, 64)
	v++
	t.s.scalars[key] = strconv.FormatInt(v, 10)
	return v, nil
}

func (t *memoryTx) SetPX(key, value string, ttlMs int64) error {
	t.s.scalars[key] = value
	if ttlMs > 0 {
		t.s.expiry[key] = t.s.nowMs() + ttlMs
	} else {
		t.s.expiry[key] = 0
	}
	return nil
}

func (t *memoryTx) Get(key string) (string, bool, error) {
	if t.expired(key) {
		return "", false, nil
	}
	v, ok := t.s.scalars[key]
	return v, ok, nil
}

func (t *memoryTx) PTTL(key string) (int64, error) {
	if t.expired(key) {
		return -2, nil
	}
	deadline, ok := t.s.expiry[key]
	if !ok {
		if _, exists := t.s.scalars[key]; exists {
			return -1, nil
		}
		return -2, nil
	}
	if deadline == 0 {
		return -1, nil
	}
	remaining := deadline - t.s.nowMs()
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (t *memoryTx) Expire(key string, ttlMs int64) error {
	if _, ok := t.s.scalars[key]; !ok {
		return nil
	}
	t.s.expiry[key] = t.s.nowMs() + ttlMs
	return nil
}

func (t *memoryTx) XAdd(key string, fields map[string]string) (string, error) {
	t.s.seq++
	id := itoa(t.s.nowMs()) + "-" + itoa(t.s.seq)
	entry := streamEntry{id: id, fields: make(map[string]string, len(fields))}
	for k, v := range fields {
		entry.fields[k] = v
	}
	t.s.streams[key] = append(t.s.streams[key], entry)
	return id, nil
}

func (t *memoryTx) XTrimApprox(key string, maxLen int64) error {
	entries := t.s.streams[key]
	if int64(len(entries)) <= maxLen {
		return nil
	}
	t.s.streams[key] = entries[int64(len(entries))-maxLen:]
	return nil
}

// Entries returns a snapshot of the event stream, oldest first. Exported for
// test assertions.
func (s *MemoryStore) Entries(key string) []map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.streams[key]
	out := make([]map[string]string, len(entries))
	for i, e := range entries {
		out[i] = e.fields
	}
	return out
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

package coord

import (
	"bytes"
	"context"
	"strconv"
	"sync"
	"time"
)

type memEntry struct {
	value   []byte
	list    [][]byte
	isList  bool
	expires time.Time // zero means no expiry
}

// MemoryStore implements Store in process memory. Every operation holds
// one mutex, which gives the same atomicity the Redis scripts provide.
// Expiry is evaluated lazily against the configured clock.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	now     func() time.Time
	pushed  chan struct{} // closed and replaced on every list push
}

// NewMemoryStore creates an in-memory store. A nil clock means time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		entries: make(map[string]*memEntry),
		now:     now,
		pushed:  make(chan struct{}),
	}
}

// live returns the unexpired entry at key. Callers hold mu.
func (s *MemoryStore) live(key string) *memEntry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.entries, key)
		return nil
	}
	return e
}

func (s *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *MemoryStore) signal() {
	close(s.pushed)
	s.pushed = make(chan struct{})
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil || e.isList {
		return nil, ErrNotFound
	}
	return bytes.Clone(e.value), nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &memEntry{value: bytes.Clone(value), expires: s.deadline(ttl)}
	return nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return 0, ErrNotFound
	}
	if e.expires.IsZero() {
		return 0, nil
	}
	return e.expires.Sub(s.now()), nil
}

func (s *MemoryStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live(key) != nil {
		return false, nil
	}
	s.entries[key] = &memEntry{value: bytes.Clone(value), expires: s.deadline(ttl)}
	return true, nil
}

func (s *MemoryStore) CompareAndDelete(_ context.Context, key string, expect []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil || e.isList || !bytes.Equal(e.value, expect) {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

func (s *MemoryStore) CompareAndExpire(_ context.Context, key string, expect []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil || e.isList || !bytes.Equal(e.value, expect) {
		return false, nil
	}
	e.expires = s.deadline(ttl)
	return true, nil
}

func (s *MemoryStore) SetIfHolder(_ context.Context, lockKey string, holder []byte, lockTTL time.Duration, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock := s.live(lockKey)
	if lock == nil || lock.isList || !bytes.Equal(lock.value, holder) {
		return false, nil
	}
	lock.expires = s.deadline(lockTTL)
	s.entries[key] = &memEntry{value: bytes.Clone(value), expires: s.deadline(ttl)}
	return true, nil
}

func (s *MemoryStore) listEntry(key string) *memEntry {
	e := s.live(key)
	if e == nil || !e.isList {
		e = &memEntry{isList: true}
		s.entries[key] = e
	}
	return e
}

func (s *MemoryStore) RPush(_ context.Context, key string, limit int64, ttl time.Duration, values ...[]byte) error {
	if len(values) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.listEntry(key)
	for _, v := range values {
		e.list = append(e.list, bytes.Clone(v))
	}
	if limit > 0 && int64(len(e.list)) > limit {
		e.list = e.list[int64(len(e.list))-limit:]
	}
	if ttl > 0 {
		e.expires = s.deadline(ttl)
	}
	s.signal()
	return nil
}

func (s *MemoryStore) LPush(_ context.Context, key string, values ...[]byte) error {
	if len(values) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.listEntry(key)
	// LPUSH a b c leaves c at the head.
	head := make([][]byte, 0, len(values)+len(e.list))
	for i := len(values) - 1; i >= 0; i-- {
		head = append(head, bytes.Clone(values[i]))
	}
	e.list = append(head, e.list...)
	s.signal()
	return nil
}

func (s *MemoryStore) LRange(_ context.Context, key string, start, stop int64) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil || !e.isList {
		return [][]byte{}, nil
	}
	n := int64(len(e.list))
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
		return [][]byte{}, nil
	}
	out := make([][]byte, 0, stop-start+1)
	for _, v := range e.list[start : stop+1] {
		out = append(out, bytes.Clone(v))
	}
	return out, nil
}

func (s *MemoryStore) LLen(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil || !e.isList {
		return 0, nil
	}
	return int64(len(e.list)), nil
}

// popLocked removes the list head. Callers hold mu.
func (s *MemoryStore) popLocked(key string) ([]byte, bool) {
	e := s.live(key)
	if e == nil || !e.isList || len(e.list) == 0 {
		return nil, false
	}
	v := e.list[0]
	e.list = e.list[1:]
	if len(e.list) == 0 {
		delete(s.entries, key)
	}
	return v, true
}

func (s *MemoryStore) LPop(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.popLocked(key)
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) BLPop(ctx context.Context, key string, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		return s.LPop(ctx, key)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		v, ok := s.popLocked(key)
		wake := s.pushed
		s.mu.Unlock()
		if ok {
			return v, nil
		}

		select {
		case <-wake:
		case <-timer.C:
			return nil, ErrNotFound
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *MemoryStore) IncrBy(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cur int64
	e := s.live(key)
	if e != nil && !e.isList {
		n, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, err
		}
		cur = n
	}
	cur += delta
	next := &memEntry{value: []byte(strconv.FormatInt(cur, 10))}
	switch {
	case ttl > 0:
		next.expires = s.deadline(ttl)
	case e != nil:
		next.expires = e.expires
	}
	s.entries[key] = next
	return cur, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*memEntry)
	return nil
}

// Package cache memoises read results keyed by string. Invalidation is
// driven by the callers that mutate the underlying data.
package cache

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Cache is a key-value store with read-time TTLs.
type Cache interface {
	// Get returns the value stored under key if it is younger than ttl.
	// A ttl <= 0 never expires. Expired entries are evicted on read.
	Get(key string, ttl time.Duration) (any, bool)

	// Set stores value under key, replacing any previous value.
	Set(key string, value any)

	// Delete removes key. Missing keys are ignored.
	Delete(key string)

	// DeleteByPattern removes every key matching a glob where '*' matches
	// any run of characters. It returns the number of removed keys.
	DeleteByPattern(pattern string) int

	// Clear removes everything.
	Clear()

	// Stats reports the current contents.
	Stats() Stats
}

// Stats describes the cache contents.
type Stats struct {
	Size int      `json:"size"`
	Keys []string `json:"keys"`
}

type item struct {
	value    any
	storedAt time.Time
}

// Memory is an in-process Cache safe for concurrent use.
type Memory struct {
	mu    sync.Mutex
	items map[string]item
	now   func() time.Time
}

// Option configures a Memory cache.
type Option func(*Memory)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates an empty in-process cache.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		items: make(map[string]item),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get implements Cache.
func (m *Memory) Get(key string, ttl time.Duration) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[key]
	if !ok {
		return nil, false
	}
	if ttl > 0 && m.now().Sub(it.storedAt) > ttl {
		delete(m.items, key)
		return nil, false
	}
	return it.value, true
}

// Set implements Cache.
func (m *Memory) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[key] = item{value: value, storedAt: m.now()}
}

// Delete implements Cache.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)
}

// DeleteByPattern implements Cache.
func (m *Memory) DeleteByPattern(pattern string) int {
	re := compilePattern(pattern)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key := range m.items {
		if re.MatchString(key) {
			delete(m.items, key)
			removed++
		}
	}
	return removed
}

// Clear implements Cache.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[string]item)
}

// Stats implements Cache. Keys are sorted.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.items))
	for key := range m.items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return Stats{Size: len(keys), Keys: keys}
}

// compilePattern turns a glob into an anchored regexp. Everything except
// '*' is matched literally.
func compilePattern(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(string, time.Duration) (any, bool) { return nil, false }
func (Noop) Set(string, any)                       {}
func (Noop) Delete(string)                         {}
func (Noop) DeleteByPattern(string) int            { return 0 }
func (Noop) Clear()                                {}
func (Noop) Stats() Stats                          { return Stats{Keys: []string{}} }

var (
	_ Cache = (*Memory)(nil)
	_ Cache = Noop{}
)

// Package dedupe keeps a bounded, TTL-limited set of recently seen event keys
// so that redelivered webhook events are processed at most once per window.
package dedupe

import (
	"container/list"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	DefaultTTL        = 10 * time.Minute
	DefaultMaxEntries = 5000
)

type entry struct {
	key       string
	expiresAt time.Time
}

// Set is a TTL set ordered by insertion. Expired entries are purged on every
// call and the oldest insertion is evicted when the set grows past maxEntries.
type Set struct {
	ttl        time.Duration
	maxEntries int

	mu      sync.Mutex
	order   *list.List
	entries map[string]*list.Element
}

// New creates a Set. Non-positive arguments fall back to the defaults.
func New(ttl time.Duration, maxEntries int) *Set {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Set{
		ttl:        ttl,
		maxEntries: maxEntries,
		order:      list.New(),
		entries:    map[string]*list.Element{},
	}
}

// Has reports whether key is recorded and unexpired at now.
func (s *Set) Has(key string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasLocked(key, now)
}

// Add records key with expiry now+ttl, moving it to the newest position.
func (s *Set) Add(key string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(key, now)
}

// Seen returns true if key was already recorded and unexpired. Otherwise it
// records key and returns false. The check and insert are one atomic step.
func (s *Set) Seen(key string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasLocked(key, now) {
		return true
	}
	s.addLocked(key, now)
	return false
}

// Len returns the number of physically stored entries.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear drops every entry.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order.Init()
	s.entries = map[string]*list.Element{}
}

// Purge drops expired entries and returns how many were removed.
func (s *Set) Purge(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(now)
}

func (s *Set) hasLocked(key string, now time.Time) bool {
	s.pruneLocked(now)
	el, ok := s.entries[key]
	if !ok {
		return false
	}
	if !el.Value.(entry).expiresAt.After(now) {
		s.removeLocked(el)
		return false
	}
	return true
}

func (s *Set) addLocked(key string, now time.Time) {
	s.pruneLocked(now)
	if el, ok := s.entries[key]; ok {
		s.removeLocked(el)
	}
	s.entries[key] = s.order.PushBack(entry{key: key, expiresAt: now.Add(s.ttl)})
	for len(s.entries) > s.maxEntries {
		oldest := s.order.Front()
		if oldest == nil {
			break
		}
		s.removeLocked(oldest)
	}
}

func (s *Set) pruneLocked(now time.Time) int {
	removed := 0
	for el := s.order.Front(); el != nil; {
		next := el.Next()
		if !el.Value.(entry).expiresAt.After(now) {
			s.removeLocked(el)
			removed++
		}
		el = next
	}
	return removed
}

func (s *Set) removeLocked(el *list.Element) {
	delete(s.entries, el.Value.(entry).key)
	s.order.Remove(el)
}

// EventKey derives the dedupe key for an inbound event. The platform message id
// is preferred. Without one, userKey and the event timestamp are combined; two
// deliveries without either value cannot be told apart and get no key.
func EventKey(messageID, userKey string, timestamp int64) string {
	if mid := strings.TrimSpace(messageID); mid != "" {
		return "mid:" + mid
	}
	if strings.TrimSpace(userKey) == "" || timestamp <= 0 {
		return ""
	}
	return "ts:" + userKey + ":" + strconv.FormatInt(timestamp, 10)
}

package conversation

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// DefaultMaxIdle is the inactivity horizon after which records may be pruned.
const DefaultMaxIdle = 7 * 24 * time.Hour

// ErrEmptyUserKey is returned by mutators called without a user key.
var ErrEmptyUserKey = errors.New("user key is required")

// Store keeps conversation records in memory. Every method is atomic with
// respect to the others and only copies leave the store.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{records: map[string]*Record{}}
}

// Get returns the record for userKey without creating it.
func (s *Store) Get(userKey string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[userKey]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// GetOrCreate returns the record for userKey, creating an IDLE one if absent.
func (s *Store) GetOrCreate(userKey string, now time.Time) (Record, error) {
	if strings.TrimSpace(userKey) == "" {
		return Record{}, ErrEmptyUserKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.getOrCreateLocked(userKey, now), nil
}

// Update applies fn to the record for userKey under the store lock, stamps
// UpdatedAt and returns the result. fn must not call back into the store.
func (s *Store) Update(userKey string, now time.Time, fn func(*Record)) (Record, error) {
	if strings.TrimSpace(userKey) == "" {
		return Record{}, ErrEmptyUserKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.getOrCreateLocked(userKey, now)
	next := *rec
	fn(&next)
	next.UserKey = userKey
	next.UpdatedAt = now
	*rec = next
	return next, nil
}

// SetStage moves the record to stage.
func (s *Store) SetStage(userKey string, stage Stage, now time.Time) (Record, error) {
	return s.Update(userKey, now, func(r *Record) { r.Stage = stage })
}

// SetPhoto stores the source photo and moves the record to AWAITING_STYLE.
func (s *Store) SetPhoto(userKey, photoURL string, now time.Time) (Record, error) {
	return s.Update(userKey, now, func(r *Record) {
		r.LastPhotoURL = photoURL
		r.Stage = StageAwaitingStyle
	})
}

// SetSelectedStyle records the style the user picked.
func (s *Store) SetSelectedStyle(userKey, style string, now time.Time) (Record, error) {
	return s.Update(userKey, now, func(r *Record) { r.SelectedStyle = style })
}

// SetPreferredLang records the language for future outbound text.
func (s *Store) SetPreferredLang(userKey, lang string, now time.Time) (Record, error) {
	return s.Update(userKey, now, func(r *Record) { r.PreferredLang = lang })
}

// SetLastGenerated stores the URL of the latest generated image.
func (s *Store) SetLastGenerated(userKey, imageURL string, now time.Time) (Record, error) {
	return s.Update(userKey, now, func(r *Record) { r.LastGeneratedURL = imageURL })
}

// PruneOlderThan removes records not updated within maxAge of now.
func (s *Store) PruneOlderThan(maxAge time.Duration, now time.Time) int {
	if maxAge <= 0 {
		maxAge = DefaultMaxIdle
	}
	cutoff := now.Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, rec := range s.records {
		if rec.UpdatedAt.Before(cutoff) {
			delete(s.records, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) getOrCreateLocked(userKey string, now time.Time) *Record {
	rec, ok := s.records[userKey]
	if !ok {
		rec = &Record{UserKey: userKey, Stage: StageIdle, UpdatedAt: now}
		s.records[userKey] = rec
	}
	return rec
}

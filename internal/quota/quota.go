// Package quota enforces a per-user daily generation limit bucketed by UTC day.
package quota

import (
	"sync"
	"time"
)

const DefaultDailyLimit = 1

// Record is the usage of one user for one UTC day.
type Record struct {
	DayKey string `json:"day_key"`
	Count  int    `json:"count"`
}

// DayKey returns the UTC calendar date of now as YYYY-MM-DD.
func DayKey(now time.Time) string {
	return now.UTC().Format(time.DateOnly)
}

// Gate tracks daily counts in memory. A record from a previous day is reset
// lazily on first access of the new day.
type Gate struct {
	limit int

	mu      sync.Mutex
	records map[string]Record
}

// NewGate creates a gate allowing limit generations per user per UTC day.
// A negative limit falls back to DefaultDailyLimit.
func NewGate(limit int) *Gate {
	if limit < 0 {
		limit = DefaultDailyLimit
	}
	return &Gate{limit: limit, records: map[string]Record{}}
}

// Limit returns the configured daily limit.
func (g *Gate) Limit() int {
	return g.limit
}

// CanGenerate reports whether userKey has allowance left for the day of now.
func (g *Gate) CanGenerate(userKey string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.currentLocked(userKey, now).Count < g.limit
}

// Increment consumes one unit of the day's allowance and returns the record.
func (g *Gate) Increment(userKey string, now time.Time) Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec := g.currentLocked(userKey, now)
	rec.Count++
	g.records[userKey] = rec
	return rec
}

// Get returns the current-day record for userKey.
func (g *Gate) Get(userKey string, now time.Time) Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.currentLocked(userKey, now)
}

// Prune removes records belonging to days before now and returns the count.
func (g *Gate) Prune(now time.Time) int {
	today := DayKey(now)
	g.mu.Lock()
	defer g.mu.Unlock()
	removed := 0
	for key, rec := range g.records {
		if rec.DayKey != today {
			delete(g.records, key)
			removed++
		}
	}
	return removed
}

func (g *Gate) currentLocked(userKey string, now time.Time) Record {
	today := DayKey(now)
	rec, ok := g.records[userKey]
	if !ok || rec.DayKey != today {
		rec = Record{DayKey: today}
		g.records[userKey] = rec
	}
	return rec
}

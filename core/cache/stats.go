// Package cache holds the hit/miss accounting shared by the per-sentence
// score memo tables and the cross-sentence model caches.
package cache

import (
	"sync/atomic"
)

// Stats tracks cache performance counters. All methods are safe for
// concurrent use.
type Stats struct {
	name      string
	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64
}

// NewStats creates counters labelled with the cache name.
func NewStats(name string) *Stats {
	return &Stats{name: name}
}

// Name returns the cache label.
func (s *Stats) Name() string { return s.name }

// RecordHit records a cache hit.
func (s *Stats) RecordHit() { s.hits.Add(1) }

// RecordMiss records a cache miss.
func (s *Stats) RecordMiss() { s.misses.Add(1) }

// RecordSet records a stored entry.
func (s *Stats) RecordSet() { s.sets.Add(1) }

// RecordEviction records an entry dropped by the cache.
func (s *Stats) RecordEviction() { s.evictions.Add(1) }

// Record records a lookup outcome.
func (s *Stats) Record(hit bool) {
	if hit {
		s.RecordHit()
		return
	}
	s.RecordMiss()
}

func (s *Stats) Hits() int64      { return s.hits.Load() }
func (s *Stats) Misses() int64    { return s.misses.Load() }
func (s *Stats) Sets() int64      { return s.sets.Load() }
func (s *Stats) Evictions() int64 { return s.evictions.Load() }

// Total returns the number of lookups (hits + misses).
func (s *Stats) Total() int64 {
	return s.Hits() + s.Misses()
}

// HitRate returns the hit rate as a value between 0 and 1.
func (s *Stats) HitRate() float64 {
	total := s.Total()
	if total == 0 {
		return 0
	}
	return float64(s.Hits()) / float64(total)
}

// Reset zeroes all counters.
func (s *Stats) Reset() {
	s.hits.Store(0)
	s.misses.Store(0)
	s.sets.Store(0)
	s.evictions.Store(0)
}

// Snapshot is a non-atomic copy of the counters for reporting.
type Snapshot struct {
	Name      string  `json:"name" yaml:"name"`
	Hits      int64   `json:"hits" yaml:"hits"`
	Misses    int64   `json:"misses" yaml:"misses"`
	Sets      int64   `json:"sets" yaml:"sets"`
	Evictions int64   `json:"evictions" yaml:"evictions"`
	HitRate   float64 `json:"hit_rate" yaml:"hit_rate"`
}

// Snapshot copies the current counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Name:      s.name,
		Hits:      s.Hits(),
		Misses:    s.Misses(),
		Sets:      s.Sets(),
		Evictions: s.Evictions(),
		HitRate:   s.HitRate(),
	}
}

// Add folds another snapshot into this one and recomputes the hit rate.
func (a Snapshot) Add(b Snapshot) Snapshot {
	out := Snapshot{
		Name:      a.Name,
		Hits:      a.Hits + b.Hits,
		Misses:    a.Misses + b.Misses,
		Sets:      a.Sets + b.Sets,
		Evictions: a.Evictions + b.Evictions,
	}
	if total := out.Hits + out.Misses; total > 0 {
		out.HitRate = float64(out.Hits) / float64(total)
	}
	return out
}

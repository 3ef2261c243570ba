package cache

import (
	"sort"
	"sync"
)

// Operation names used for stats and metrics.
const (
	OpHit    = "hit"
	OpMiss   = "miss"
	OpSet    = "set"
	OpDelete = "delete"
)

// CacheStats is the read-only snapshot for one data type.
type CacheStats struct {
	DataType        string  `json:"dataType"`
	Hits            int64   `json:"hits"`
	Misses          int64   `json:"misses"`
	Sets            int64   `json:"sets"`
	Deletes         int64   `json:"deletes"`
	TotalOperations int64   `json:"totalOperations"`
	HitRate         float64 `json:"hitRate"`
}

type counters struct {
	hits, misses, sets, deletes int64
}

// Stats accumulates per-data-type counters until Reset is called.
type Stats struct {
	mu       sync.Mutex
	byType   map[string]*counters
	recorder Recorder
}

// NewStats creates an empty tracker. recorder may be nil.
func NewStats(recorder Recorder) *Stats {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Stats{byType: make(map[string]*counters), recorder: recorder}
}

func (s *Stats) record(dataType, op string) {
	s.mu.Lock()
	c, ok := s.byType[dataType]
	if !ok {
		c = &counters{}
		s.byType[dataType] = c
	}
	switch op {
	case OpHit:
		c.hits++
	case OpMiss:
		c.misses++
	case OpSet:
		c.sets++
	case OpDelete:
		c.deletes++
	}
	s.mu.Unlock()
	s.recorder.RecordOperation(dataType, op)
}

// Hit records a hit for dataType.
func (s *Stats) Hit(dataType string) { s.record(dataType, OpHit) }

// Miss records a miss for dataType.
func (s *Stats) Miss(dataType string) { s.record(dataType, OpMiss) }

// Set records a successful set for dataType.
func (s *Stats) Set(dataType string) { s.record(dataType, OpSet) }

// Delete records a delete for dataType.
func (s *Stats) Delete(dataType string) { s.record(dataType, OpDelete) }

// Snapshot returns the counters of one data type.
func (s *Stats) Snapshot(dataType string) CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(dataType, s.byType[dataType])
}

// All returns snapshots of every data type seen, sorted by tag.
func (s *Stats) All() []CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]CacheStats, 0, len(s.byType))
	for dt, c := range s.byType {
		out = append(out, snapshot(dt, c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DataType < out[j].DataType })
	return out
}

// Reset clears all counters. Operator action only.
func (s *Stats) Reset() {
	s.mu.Lock()
	s.byType = make(map[string]*counters)
	s.mu.Unlock()
}

func snapshot(dataType string, c *counters) CacheStats {
	st := CacheStats{DataType: dataType}
	if c == nil {
		return st
	}
	st.Hits, st.Misses, st.Sets, st.Deletes = c.hits, c.misses, c.sets, c.deletes
	st.TotalOperations = c.hits + c.misses + c.sets + c.deletes
	if reads := c.hits + c.misses; reads > 0 {
		st.HitRate = float64(c.hits) / float64(reads)
	}
	return st
}

package store

import (
	"sort"
	"sync"
	"time"

	"nem_dashboard/internal/model"
)

// Kind separates independent series namespaces.
type Kind string

const (
	KindGeneration Kind = "generation" // keyed by DUID
	KindPrice      Kind = "price"      // keyed by region
)

type Point struct {
	Timestamp time.Time
	Value     float64
}

type key struct {
	kind Kind
	id   string
}

// Store holds time series in memory, indexed by kind and series ID.
type Store struct {
	mu     sync.RWMutex
	series map[key][]Point // sorted by timestamp
}

func New() *Store {
	return &Store{series: make(map[key][]Point)}
}

// Add appends points to a series, then sorts it by timestamp. A point whose
// timestamp already exists replaces the earlier one.
func (s *Store) Add(kind Kind, id string, points []Point) {
	if len(points) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{kind, id}
	all := append(s.series[k], points...)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})

	// Keep the last write for duplicate timestamps.
	out := all[:0]
	for i, p := range all {
		if i+1 < len(all) && all[i+1].Timestamp.Equal(p.Timestamp) {
			continue
		}
		out = append(out, p)
	}
	s.series[k] = out
}

// IDs returns the sorted series IDs of a kind.
func (s *Store) IDs(kind Kind) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for k := range s.series {
		if k.kind == kind {
			ids = append(ids, k.id)
		}
	}
	sort.Strings(ids)
	return ids
}

// TimeRange returns the union of the time ranges of every series of a kind.
func (s *Store) TimeRange(kind Kind) (model.TimeRange, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var start, end time.Time
	first := true

	for k, points := range s.series {
		if k.kind != kind || len(points) == 0 {
			continue
		}
		pStart := points[0].Timestamp
		pEnd := points[len(points)-1].Timestamp

		if first || pStart.Before(start) {
			start = pStart
		}
		if first || pEnd.After(end) {
			end = pEnd
		}
		first = false
	}

	if first {
		return model.TimeRange{}, false
	}
	return model.TimeRange{Start: start, End: end}, true
}

// InRange returns the points of a series between start (inclusive) and end
// (exclusive). Zero bounds are open.
func (s *Store) InRange(kind Kind, id string, start, end time.Time) []Point {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.series[key{kind, id}]
	if len(all) == 0 {
		return nil
	}

	startIdx := 0
	if !start.IsZero() {
		startIdx = sort.Search(len(all), func(i int) bool {
			return !all[i].Timestamp.Before(start)
		})
	}

	endIdx := len(all)
	if !end.IsZero() {
		endIdx = sort.Search(len(all), func(i int) bool {
			return !all[i].Timestamp.Before(end)
		})
	}

	if startIdx >= endIdx {
		return nil
	}

	result := make([]Point, endIdx-startIdx)
	copy(result, all[startIdx:endIdx])
	return result
}

// ValueAt returns the value recorded exactly at t.
func (s *Store) ValueAt(kind Kind, id string, t time.Time) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.series[key{kind, id}]
	idx := sort.Search(len(all), func(i int) bool {
		return !all[i].Timestamp.Before(t)
	})
	if idx < len(all) && all[idx].Timestamp.Equal(t) {
		return all[idx].Value, true
	}
	return 0, false
}

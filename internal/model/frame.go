package model

import (
	"math"
	"sort"
	"time"
)

// Frame is a set of numeric columns over a shared, sorted timestamp index.
// NaN marks a missing value.
type Frame struct {
	Index   []time.Time          `json:"index"`
	Columns []string             `json:"columns"`
	Values  map[string][]float64 `json:"values"`
}

// NewFrame returns a frame over index with the given columns filled with NaN.
func NewFrame(index []time.Time, columns ...string) *Frame {
	f := &Frame{
		Index:  index,
		Values: make(map[string][]float64, len(columns)),
	}
	for _, c := range columns {
		f.AddColumn(c, nil)
	}
	return f
}

// AddColumn appends a column. A nil slice is filled with NaN; otherwise values
// must match the index length.
func (f *Frame) AddColumn(name string, values []float64) {
	if values == nil {
		values = make([]float64, len(f.Index))
		for i := range values {
			values[i] = math.NaN()
		}
	}
	if _, exists := f.Values[name]; !exists {
		f.Columns = append(f.Columns, name)
	}
	f.Values[name] = values
}

func (f *Frame) Len() int { return len(f.Index) }

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	out := &Frame{
		Index:   append([]time.Time(nil), f.Index...),
		Columns: append([]string(nil), f.Columns...),
		Values:  make(map[string][]float64, len(f.Values)),
	}
	for k, v := range f.Values {
		out.Values[k] = append([]float64(nil), v...)
	}
	return out
}

// Last returns the final row as a column → value map.
func (f *Frame) Last() (time.Time, map[string]float64, bool) {
	if len(f.Index) == 0 {
		return time.Time{}, nil, false
	}
	i := len(f.Index) - 1
	row := make(map[string]float64, len(f.Columns))
	for _, c := range f.Columns {
		row[c] = f.Values[c][i]
	}
	return f.Index[i], row, true
}

// Position returns the index of t, or -1.
func (f *Frame) Position(t time.Time) int {
	i := sort.Search(len(f.Index), func(i int) bool { return !f.Index[i].Before(t) })
	if i < len(f.Index) && f.Index[i].Equal(t) {
		return i
	}
	return -1
}

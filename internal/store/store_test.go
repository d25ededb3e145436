package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makePoints(values []float64, startTime time.Time, interval time.Duration) []Point {
	points := make([]Point, len(values))
	for i, v := range values {
		points[i] = Point{Timestamp: startTime.Add(time.Duration(i) * interval), Value: v}
	}
	return points
}

var (
	duid      = "BW01"
	startTime = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	interval  = 5 * time.Minute
)

func TestStore_AddKeepsKindsApart(t *testing.T) {
	s := New()
	s.Add(KindGeneration, duid, makePoints([]float64{100, 200, 300, 400, 500}, startTime, interval))

	assert.Len(t, s.InRange(KindGeneration, duid, time.Time{}, time.Time{}), 5)
	assert.Empty(t, s.InRange(KindPrice, duid, time.Time{}, time.Time{}))
	assert.Empty(t, s.InRange(KindGeneration, "nonexistent", time.Time{}, time.Time{}))
}

func TestStore_AddSortsAndReplacesDuplicates(t *testing.T) {
	s := New()
	s.Add(KindPrice, "NSW1", []Point{
		{Timestamp: startTime.Add(interval), Value: 2},
		{Timestamp: startTime, Value: 1},
	})
	s.Add(KindPrice, "NSW1", []Point{{Timestamp: startTime, Value: 10}})

	points := s.InRange(KindPrice, "NSW1", time.Time{}, time.Time{})
	require.Len(t, points, 2)
	assert.Equal(t, 10.0, points[0].Value)
	assert.Equal(t, 2.0, points[1].Value)
}

func TestStore_IDs(t *testing.T) {
	s := New()
	s.Add(KindGeneration, "ER01", makePoints([]float64{1}, startTime, interval))
	s.Add(KindGeneration, "BW01", makePoints([]float64{1}, startTime, interval))
	s.Add(KindPrice, "NSW1", makePoints([]float64{1}, startTime, interval))

	assert.Equal(t, []string{"BW01", "ER01"}, s.IDs(KindGeneration))
	assert.Equal(t, []string{"NSW1"}, s.IDs(KindPrice))
}

func TestStore_TimeRange(t *testing.T) {
	s := New()
	s.Add(KindGeneration, "A", makePoints([]float64{1, 2, 3}, startTime, interval))
	s.Add(KindGeneration, "B", makePoints([]float64{1, 2}, startTime.Add(-interval), interval))

	tr, ok := s.TimeRange(KindGeneration)
	require.True(t, ok)
	assert.Equal(t, startTime.Add(-interval), tr.Start)
	assert.Equal(t, startTime.Add(2*interval), tr.End)

	_, ok = s.TimeRange(KindPrice)
	assert.False(t, ok)
}

func TestStore_InRange(t *testing.T) {
	s := New()
	s.Add(KindGeneration, duid, makePoints([]float64{100, 200, 300, 400, 500}, startTime, interval))

	result := s.InRange(KindGeneration, duid, startTime.Add(interval), startTime.Add(3*interval))
	require.Len(t, result, 2)
	assert.InDelta(t, 200.0, result[0].Value, 0.001)
	assert.InDelta(t, 300.0, result[1].Value, 0.001)

	result = s.InRange(KindGeneration, duid, time.Time{}, startTime.Add(interval))
	require.Len(t, result, 1)

	result = s.InRange(KindGeneration, duid, startTime.Add(3*interval), time.Time{})
	require.Len(t, result, 2)

	result = s.InRange(KindGeneration, duid, startTime.Add(10*interval), startTime.Add(11*interval))
	assert.Empty(t, result)

	result = s.InRange(KindGeneration, "nonexistent", startTime, startTime.Add(interval))
	assert.Empty(t, result)
}

func TestStore_InRangeReturnsCopy(t *testing.T) {
	s := New()
	s.Add(KindGeneration, duid, makePoints([]float64{1, 2}, startTime, interval))

	result := s.InRange(KindGeneration, duid, time.Time{}, time.Time{})
	result[0].Value = 99

	again := s.InRange(KindGeneration, duid, time.Time{}, time.Time{})
	assert.Equal(t, 1.0, again[0].Value)
}

func TestStore_ValueAt(t *testing.T) {
	s := New()
	s.Add(KindPrice, "NSW1", makePoints([]float64{50, 60}, startTime, interval))

	v, ok := s.ValueAt(KindPrice, "NSW1", startTime.Add(interval))
	require.True(t, ok)
	assert.Equal(t, 60.0, v)

	_, ok = s.ValueAt(KindPrice, "NSW1", startTime.Add(time.Minute))
	assert.False(t, ok)
	_, ok = s.ValueAt(KindPrice, "QLD1", startTime)
	assert.False(t, ok)
}

// Package repair puts rooftop-solar and transmission series onto a clean
// 5-minute grid: half-hourly data is upsampled, short flat-line artifacts in
// 5-minute data are smoothed, and gaps at the data frontier are extrapolated
// or filled.
package repair

import (
	"math"
	"sort"
	"time"

	"nem_dashboard/internal/model"
)

// Origin records how a repaired value was produced.
type Origin uint8

const (
	Measured Origin = iota
	Interpolated
	Extrapolated
	ForwardFilled
	ZeroFilled
	Flatline
)

func (o Origin) String() string {
	switch o {
	case Measured:
		return "measured"
	case Interpolated:
		return "interpolated"
	case Extrapolated:
		return "extrapolated"
	case ForwardFilled:
		return "forward_filled"
	case ZeroFilled:
		return "zero_filled"
	case Flatline:
		return "flatline"
	}
	return "unknown"
}

// Point is one sample of a repaired series.
type Point struct {
	Timestamp time.Time
	Value     float64
	Origin    Origin
}

// Series is a single column sorted by timestamp.
type Series []Point

// Values returns the series values in order.
func (s Series) Values() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Value
	}
	return out
}

type Options struct {
	// FlatRunMin and FlatRunMax bound the length of identical-value runs
	// that get smoothed.
	FlatRunMin int
	FlatRunMax int
	// Decay damps the extrapolated trend per 5-minute step.
	Decay float64
	// Horizon is the most tail slots that are trend-extrapolated.
	Horizon int
	// FillLimit caps forward filling after upsampling.
	FillLimit int
	// AlignLimit and AlignDecay govern the decaying fill in Align.
	AlignLimit int
	AlignDecay float64
}

func DefaultOptions() Options {
	return Options{
		FlatRunMin: 5,
		FlatRunMax: 12,
		Decay:      0.9,
		Horizon:    6,
		FillLimit:  6,
		AlignLimit: 24,
		AlignDecay: 0.98,
	}
}

const (
	halfHourMin = 25 * time.Minute
	halfHourMax = 35 * time.Minute
	// substeps is the number of 5-minute slots in a half hour.
	substeps = 6
	// tailCeiling bounds extrapolated values relative to the last measurement.
	tailCeiling = 1.5
)

// Report counts repaired values by origin.
type Report struct {
	Upsampled bool
	Counts    map[Origin]int
}

// Add counts the non-measured points of s.
func (r *Report) Add(s Series) {
	if r.Counts == nil {
		r.Counts = make(map[Origin]int)
	}
	for _, p := range s {
		if p.Origin != Measured {
			r.Counts[p.Origin]++
		}
	}
}

// Merge folds other into r.
func (r *Report) Merge(other Report) {
	if r.Counts == nil {
		r.Counts = make(map[Origin]int)
	}
	r.Upsampled = r.Upsampled || other.Upsampled
	for o, n := range other.Counts {
		r.Counts[o] += n
	}
}

// MedianInterval returns the median gap between consecutive timestamps, or 0
// for fewer than two.
func MedianInterval(s Series) time.Duration {
	if len(s) < 2 {
		return 0
	}
	gaps := make([]time.Duration, len(s)-1)
	for i := 1; i < len(s); i++ {
		gaps[i-1] = s[i].Timestamp.Sub(s[i-1].Timestamp)
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })
	mid := len(gaps) / 2
	if len(gaps)%2 == 0 {
		return (gaps[mid-1] + gaps[mid]) / 2
	}
	return gaps[mid]
}

// IsHalfHourly reports whether the series looks 30-minute native.
func IsHalfHourly(s Series) bool {
	m := MedianInterval(s)
	return m >= halfHourMin && m <= halfHourMax
}

// Repair upsamples a half-hourly series onto the 5-minute grid ending at end,
// or smooths flat-line runs in a series that is already 5-minute. Input
// points with a NaN value are dropped first.
func Repair(s Series, end time.Time, opts Options) (Series, Report) {
	s = clean(s)
	var r Report
	if IsHalfHourly(s) {
		s = Upsample(s, end, opts)
		r.Upsampled = true
	} else {
		s = FixFlatlines(s, opts)
	}
	r.Add(s)
	return s, r
}

// clean drops non-finite values and sorts by time. Of several points at the
// same instant the last one wins.
func clean(s Series) Series {
	out := make(Series, 0, len(s))
	for _, p := range s {
		if !math.IsNaN(p.Value) && !math.IsInf(p.Value, 0) {
			out = append(out, Point{Timestamp: p.Timestamp, Value: p.Value})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

	n := 0
	for _, p := range out {
		if n > 0 && out[n-1].Timestamp.Equal(p.Timestamp) {
			out[n-1] = p
			continue
		}
		out[n] = p
		n++
	}
	return out[:n]
}

// Upsample resamples a sorted series onto a 5-minute grid from its first
// sample to end (or its last sample, if later). Interior slots are
// interpolated with a cubic spline, or linearly below four samples. With at
// least three samples, up to Horizon tail slots follow the damped recent
// trend; otherwise the tail is forward filled for FillLimit slots and then
// zero filled. Values are clipped at zero.
func Upsample(s Series, end time.Time, opts Options) Series {
	if len(s) == 0 {
		return nil
	}
	first := s[0].Timestamp.Truncate(model.Interval)
	last := s[len(s)-1].Timestamp
	if end.Before(last) {
		end = last
	}

	x := make([]float64, len(s))
	y := make([]float64, len(s))
	for i, p := range s {
		x[i] = p.Timestamp.Sub(first).Minutes()
		y[i] = p.Value
	}
	curve := interpolator(x, y)

	measured := make(map[int64]float64, len(s))
	for _, p := range s {
		measured[p.Timestamp.UnixNano()] = p.Value
	}

	var out Series
	for ts := first; !ts.After(end); ts = ts.Add(model.Interval) {
		if v, ok := measured[ts.UnixNano()]; ok {
			out = append(out, Point{Timestamp: ts, Value: v, Origin: Measured})
			continue
		}
		if ts.Before(s[0].Timestamp) {
			continue
		}
		if !ts.After(last) {
			out = append(out, Point{Timestamp: ts, Value: curve.Predict(ts.Sub(first).Minutes()), Origin: Interpolated})
			continue
		}
		out = append(out, Point{Timestamp: ts, Value: math.NaN()})
	}

	fillTail(out, s, opts)
	for i := range out {
		if out[i].Value < 0 {
			out[i].Value = 0
		}
	}
	return out
}

// fillTail fills the NaN slots after the last measurement.
func fillTail(out, src Series, opts Options) {
	start := len(out)
	for start > 0 && math.IsNaN(out[start-1].Value) {
		start--
	}
	tail := len(out) - start
	if tail == 0 {
		return
	}
	var lastValue float64
	if start > 0 {
		lastValue = out[start-1].Value
	}

	if len(src) >= 3 && lastValue > 0 && tail <= opts.Horizon {
		step := (src[len(src)-1].Value - src[len(src)-2].Value) / substeps
		for i := 0; i < tail; i++ {
			v := lastValue + float64(i+1)*step*math.Pow(opts.Decay, float64(i))
			out[start+i].Value = math.Max(0, math.Min(v, lastValue*tailCeiling))
			out[start+i].Origin = Extrapolated
		}
		return
	}

	for i := 0; i < tail; i++ {
		if i < opts.FillLimit {
			out[start+i].Value = lastValue
			out[start+i].Origin = ForwardFilled
		} else {
			out[start+i].Value = 0
			out[start+i].Origin = ZeroFilled
		}
	}
}

// FixFlatlines replaces runs of FlatRunMin to FlatRunMax identical values
// with a curve toward the next different value. The run must be followed by
// a different value; runs reaching the end of the series are left alone.
// The curve starts at the value before the run, or at the run's own first
// value when the run opens the series. A cubic spline is used when two
// anchors exist on each side, otherwise a straight line.
func FixFlatlines(s Series, opts Options) Series {
	out := append(Series(nil), s...)
	n := len(out)
	for i := 0; i < n; {
		j := i
		for j+1 < n && out[j+1].Value == out[i].Value {
			j++
		}
		runLen := j - i + 1
		if runLen >= opts.FlatRunMin && runLen <= opts.FlatRunMax && j+1 < n {
			smooth(out, i, j)
		}
		i = j + 1
	}
	return out
}

func smooth(s Series, i, j int) {
	origin := s[0].Timestamp
	pos := func(k int) float64 { return s[k].Timestamp.Sub(origin).Minutes() }

	left, from := i-1, i
	if i == 0 {
		left, from = i, i+1
	}
	right := j + 1

	anchors := []int{left, right}
	if left > 0 && left == i-1 && right+1 < len(s) {
		anchors = []int{left - 1, left, right, right + 1}
	}
	x := make([]float64, len(anchors))
	y := make([]float64, len(anchors))
	for k, a := range anchors {
		x[k] = pos(a)
		y[k] = s[a].Value
	}

	curve := interpolator(x, y)
	for k := from; k <= j; k++ {
		s[k].Value = curve.Predict(pos(k))
		s[k].Origin = Flatline
	}
}

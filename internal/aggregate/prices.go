package aggregate

import (
	"sort"
	"time"

	"nem_dashboard/internal/model"
)

const (
	intervalsPerHour = 12
	intervalsPerDay  = 288
)

// RegionPrice is the spot price summary of one region.
type RegionPrice struct {
	Region    model.Region `json:"region"`
	Timestamp time.Time    `json:"timestamp"`
	Latest    float64      `json:"latest"`
	HourAvg   float64      `json:"hour_avg"`
	DayAvg    float64      `json:"day_avg"`
}

// SpotSummary reports, per region, the latest price and the averages of the
// last 12 and 288 intervals. Regions come back in code order.
func SpotSummary(prices []model.PriceSample) []RegionPrice {
	byRegion := make(map[model.Region][]model.PriceSample)
	for _, p := range prices {
		byRegion[p.Region] = append(byRegion[p.Region], p)
	}

	out := make([]RegionPrice, 0, len(byRegion))
	for region, series := range byRegion {
		sort.SliceStable(series, func(i, j int) bool { return series[i].Timestamp.Before(series[j].Timestamp) })
		last := series[len(series)-1]
		out = append(out, RegionPrice{
			Region:    region,
			Timestamp: last.Timestamp,
			Latest:    last.RRP,
			HourAvg:   tailMean(series, intervalsPerHour),
			DayAvg:    tailMean(series, intervalsPerDay),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Region < out[j].Region })
	return out
}

func tailMean(series []model.PriceSample, n int) float64 {
	if len(series) < n {
		n = len(series)
	}
	var sum float64
	for _, p := range series[len(series)-n:] {
		sum += p.RRP
	}
	return sum / float64(n)
}

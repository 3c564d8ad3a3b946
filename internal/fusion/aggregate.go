package fusion

import (
	"slices"

	"github.com/shopspring/decimal"
)

// Look-ahead windows expressed in 3-hour forecast buckets.
const (
	bucketsNext6h  = 2
	bucketsNext12h = 4
	bucketsNext24h = 8
)

// RainfallWindows holds forward-looking rainfall totals in millimetres.
type RainfallWindows struct {
	Next6h  float64 `json:"next6h"`
	Next12h float64 `json:"next12h"`
	Next24h float64 `json:"next24h"`
}

// Summarize sums the 3-hour rainfall of the first 2, 4 and 8 buckets.
// Buckets are ordered by timestamp first; a short sequence sums what exists and an empty one yields zeros.
// Buckets without a rain reading count as 0.
func Summarize(buckets []Observation) RainfallWindows {
	ordered := slices.Clone(buckets)
	slices.SortStableFunc(ordered, func(a, b Observation) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	var w RainfallWindows
	sum := decimal.Zero
	for i, b := range ordered {
		if i >= bucketsNext24h {
			break
		}
		rain, _ := b.Metric(MetricRain3hMM)
		sum = sum.Add(decimal.NewFromFloat(rain))

		switch i + 1 {
		case bucketsNext6h:
			w.Next6h = round2(sum)
		case bucketsNext12h:
			w.Next12h = round2(sum)
		case bucketsNext24h:
			w.Next24h = round2(sum)
		}
	}

	// Short sequences: the longer windows hold whatever was summed.
	total := round2(sum)
	n := len(ordered)
	if n < bucketsNext6h {
		w.Next6h = total
	}
	if n < bucketsNext12h {
		w.Next12h = total
	}
	if n < bucketsNext24h {
		w.Next24h = total
	}
	return w
}

// Metrics returns the windows under their observation metric names.
func (w RainfallWindows) Metrics() map[string]float64 {
	return map[string]float64{
		MetricRainNext6hMM:  w.Next6h,
		MetricRainNext12hMM: w.Next12h,
		MetricRainNext24hMM: w.Next24h,
	}
}

func round2(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

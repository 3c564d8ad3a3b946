package fusion

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/jonboulle/clockwork"
)

// Baseline values of the synthetic reading.
const (
	degradedTemperatureC = 20.0
	degradedHumidityPct  = 60.0
	degradedWindSpeedMS  = 2.0
	degradedPressureHpa  = 1013.25
)

// DegradedDefault synthesizes a clearly flagged reading without any network call.
// The reading is fixed unless a random source is supplied, in which case the
// non-rain metrics vary slightly around the baseline. Rainfall is always 0.
type DegradedDefault struct {
	clock clockwork.Clock

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewDegradedDefault returns a deterministic degraded source. rnd may be nil.
func NewDegradedDefault(clock clockwork.Clock, rnd *rand.Rand) *DegradedDefault {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &DegradedDefault{clock: clock, rnd: rnd}
}

func (d *DegradedDefault) ID() string { return DegradedSourceID }

// Fetch lets the degraded source stand in wherever a WeatherProvider is expected.
func (d *DegradedDefault) Fetch(_ context.Context, q WeatherQuery) (Observation, error) {
	return d.Current(q), nil
}

// Current returns the synthetic current-weather observation for q.
func (d *DegradedDefault) Current(q WeatherQuery) Observation {
	return Observation{
		Timestamp:   d.clock.Now().UTC(),
		SourceID:    DegradedSourceID,
		Coordinates: q.Coordinates,
		Metrics: map[string]float64{
			MetricTemperatureC: d.vary(degradedTemperatureC, 3),
			MetricHumidityPct:  d.vary(degradedHumidityPct, 10),
			MetricWindSpeedMS:  d.vary(degradedWindSpeedMS, 1),
			MetricPressureHpa:  degradedPressureHpa,
			MetricRainfallMMH:  0,
		},
		Condition:  ConditionUnknown,
		IsDegraded: true,
		Provenance: map[string]string{NeedCurrentWeather: DegradedSourceID},
	}
}

// Forecast returns no buckets, which aggregates to zero rainfall in every window.
func (d *DegradedDefault) Forecast(WeatherQuery) []Observation {
	return []Observation{}
}

func (d *DegradedDefault) vary(base, spread float64) float64 {
	if d.rnd == nil {
		return base
	}
	d.mu.Lock()
	offset := (d.rnd.Float64()*2 - 1) * spread
	d.mu.Unlock()
	return math.Round((base+offset)*10) / 10
}

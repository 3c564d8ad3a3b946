package fusion

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// Metric names used in Observation.Metrics.
const (
	MetricTemperatureC = "temperature_c"
	MetricHumidityPct  = "humidity_pct"
	MetricWindSpeedMS  = "wind_speed_ms"
	MetricPressureHpa  = "pressure_hpa"

	// MetricRainfallMMH is the current rainfall as an hourly rate (mm/h).
	MetricRainfallMMH = "rainfall_mm_h"

	// MetricRain3hMM is the accumulated rainfall of one 3-hour forecast bucket (mm).
	MetricRain3hMM = "rain_3h_mm"

	MetricRainNext6hMM  = "rain_next_6h_mm"
	MetricRainNext12hMM = "rain_next_12h_mm"
	MetricRainNext24hMM = "rain_next_24h_mm"
)

// DegradedSourceID identifies values synthesized after every real provider failed.
const DegradedSourceID = "degraded-default"

// Provenance keys for fused observations.
const (
	NeedCurrentWeather    = "current"
	NeedForecast          = "forecast"
	NeedHistoricalImagery = "historical-imagery"
	NeedCurrentImagery    = "current-imagery"
)

// Condition is a normalized high-level weather condition.
type Condition string

const (
	ConditionUnknown Condition = "unknown"
	ConditionClear   Condition = "clear"
	ConditionCloudy  Condition = "cloudy"
	ConditionRain    Condition = "rain"
	ConditionSnow    Condition = "snow"
	ConditionStorm   Condition = "storm"
	ConditionMist    Condition = "mist"
)

// Coordinates is a WGS-84 point.
type Coordinates struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

// Key returns a canonical string key for cache and record indexing, at the precision
// providers are queried with.
func (c Coordinates) Key() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

// Validate reports whether the point lies on the globe.
func (c Coordinates) Validate() error {
	if c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("%w: coordinates out of range (%g, %g)", ErrInvalidQuery, c.Lat, c.Lng)
	}
	return nil
}

// WeatherQuery asks a weather provider about one location.
type WeatherQuery struct {
	Coordinates Coordinates
}

// ImageryQuery asks an imagery provider for a snapshot of a location on a date.
// A zero Date means the most recent imagery available.
type ImageryQuery struct {
	Coordinates Coordinates
	Date        time.Time
}

// Observation is a time-stamped set of metric readings from one source.
// Observations are immutable once produced; use the accessors, which copy.
type Observation struct {
	Timestamp   time.Time          `json:"timestamp"` // always UTC
	SourceID    string             `json:"sourceId"`
	Coordinates Coordinates        `json:"coordinates"`
	Metrics     map[string]float64 `json:"metrics"`
	Condition   Condition          `json:"condition,omitempty"`

	// IsDegraded marks synthetic data substituted after provider exhaustion.
	IsDegraded bool `json:"isDegraded"`

	// Defaulted lists payload fields that were missing and replaced by defaults.
	Defaulted []string `json:"defaulted,omitempty"`

	// Provenance maps each need that contributed to this observation to the provider id used.
	Provenance map[string]string `json:"provenance,omitempty"`

	// RawPayload keeps the upstream body for audit only.
	RawPayload json.RawMessage `json:"-"`
}

// Metric returns a single metric value and whether it was present.
func (o Observation) Metric(name string) (float64, bool) {
	v, ok := o.Metrics[name]
	return v, ok
}

// Clone returns a deep copy so derived observations never share maps with their source.
func (o Observation) Clone() Observation {
	o.Metrics = maps.Clone(o.Metrics)
	o.Provenance = maps.Clone(o.Provenance)
	o.Defaulted = slices.Clone(o.Defaulted)
	o.RawPayload = slices.Clone(o.RawPayload)
	return o
}

// ImagerySnapshot is one provider's view of a location at a point in time.
type ImagerySnapshot struct {
	Timestamp    time.Time       `json:"timestamp"`
	Coordinates  Coordinates     `json:"coordinates"`
	SourceID     string          `json:"sourceId"`
	ComputedArea float64         `json:"computedArea"`
	ImageURL     string          `json:"imageUrl,omitempty"`
	Attribution  string          `json:"attribution"`
	Defaulted    []string        `json:"defaulted,omitempty"`
	RawPayload   json.RawMessage `json:"-"`
}

// Clone returns a copy that shares no slices with s.
func (s ImagerySnapshot) Clone() ImagerySnapshot {
	s.Defaulted = slices.Clone(s.Defaulted)
	s.RawPayload = slices.Clone(s.RawPayload)
	return s
}

// ChangeReport compares two imagery snapshots of the same location.
type ChangeReport struct {
	ID          string          `json:"id"`
	Coordinates Coordinates     `json:"coordinates"`
	Historical  ImagerySnapshot `json:"historical"`
	Current     ImagerySnapshot `json:"current"`

	// AreaDelta is current minus historical area; negative means shrinkage.
	AreaDelta   float64   `json:"areaDelta"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// NewChangeReport derives a report from two snapshots.
func NewChangeReport(id string, coords Coordinates, historical, current ImagerySnapshot, generatedAt time.Time) ChangeReport {
	return ChangeReport{
		ID:          id,
		Coordinates: coords,
		Historical:  historical,
		Current:     current,
		AreaDelta:   current.ComputedArea - historical.ComputedArea,
		GeneratedAt: generatedAt.UTC(),
	}
}

// Clone returns a deep copy so cached reports are never shared with callers.
func (r ChangeReport) Clone() ChangeReport {
	r.Historical = r.Historical.Clone()
	r.Current = r.Current.Clone()
	return r
}

// ProviderConfig is the static configuration of one upstream provider.
type ProviderConfig struct {
	ID          string        `json:"id" validate:"required"`
	BaseURL     string        `json:"baseUrl" validate:"omitempty,url"`
	Credentials string        `json:"-"`
	Timeout     time.Duration `json:"timeout" validate:"gt=0"`
	MaxRetries  int           `json:"maxRetries" validate:"gte=0,lte=10"`
	Priority    int           `json:"priority" validate:"gte=0"`
}

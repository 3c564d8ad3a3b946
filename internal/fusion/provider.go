package fusion

import (
	"context"
)

// Provider abstracts one upstream data source for a query type Q producing R.
// Implementations perform exactly one upstream call per Fetch and never retry.
type Provider[Q, R any] interface {
	ID() string
	Fetch(ctx context.Context, q Q) (R, error)
}

// WeatherProvider returns current conditions.
type WeatherProvider = Provider[WeatherQuery, Observation]

// ForecastProvider returns time-ordered 3-hour forecast buckets.
type ForecastProvider = Provider[WeatherQuery, []Observation]

// ImageryProvider returns one imagery snapshot.
type ImageryProvider = Provider[ImageryQuery, ImagerySnapshot]

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc[Q, R any] struct {
	Name string
	Fn   func(ctx context.Context, q Q) (R, error)
}

func (p ProviderFunc[Q, R]) ID() string { return p.Name }

func (p ProviderFunc[Q, R]) Fetch(ctx context.Context, q Q) (R, error) {
	return p.Fn(ctx, q)
}

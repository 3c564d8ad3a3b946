// Package geocode resolves place names to coordinates for the HTTP surface.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kelvins/geocoder"

	"github.com/i474232898/environmental-fusion/internal/cache"
	"github.com/i474232898/environmental-fusion/internal/fusion"
	"github.com/i474232898/environmental-fusion/internal/observability"
)

var (
	ErrNotConfigured = errors.New("geocoder not configured")
	ErrNotFound      = errors.New("place not found")
)

// Place names change far less often than weather; results are kept for a day.
const placeTTL = 24 * time.Hour

// Resolver turns a city and country into coordinates.
type Resolver interface {
	Resolve(ctx context.Context, city, country string) (fusion.Coordinates, error)
}

// the geocoder library keys requests with a package-level variable
var apiKeyMu sync.Mutex

// Google resolves places through the Google Geocoding API, caching answers.
type Google struct {
	lookup func(geocoder.Address) (geocoder.Location, error)
	places *cache.Cache[fusion.Coordinates]
}

func NewGoogle(apiKey string, clock clockwork.Clock, metrics *observability.Metrics) *Google {
	apiKeyMu.Lock()
	geocoder.ApiKey = apiKey
	apiKeyMu.Unlock()

	var lookup func(geocoder.Address) (geocoder.Location, error)
	if apiKey != "" {
		lookup = geocoder.Geocoding
	}
	return newGoogle(lookup, clock, metrics)
}

func newGoogle(lookup func(geocoder.Address) (geocoder.Location, error), clock clockwork.Clock, metrics *observability.Metrics) *Google {
	return &Google{
		lookup: lookup,
		places: cache.New[fusion.Coordinates]("geocode", clock, metrics),
	}
}

func (g *Google) Resolve(ctx context.Context, city, country string) (fusion.Coordinates, error) {
	if g.lookup == nil {
		return fusion.Coordinates{}, ErrNotConfigured
	}
	city, country = strings.TrimSpace(city), strings.TrimSpace(country)
	if city == "" {
		return fusion.Coordinates{}, fmt.Errorf("%w: city is required", fusion.ErrInvalidQuery)
	}

	key := "place:" + strings.ToLower(city) + "|" + strings.ToLower(country)
	return g.places.GetOrCompute(ctx, key, placeTTL, func(ctx context.Context) (fusion.Coordinates, error) {
		return g.geocode(ctx, city, country)
	})
}

// geocode runs the blocking library call so that ctx can still abandon it.
func (g *Google) geocode(ctx context.Context, city, country string) (fusion.Coordinates, error) {
	type result struct {
		loc geocoder.Location
		err error
	}
	done := make(chan result, 1)
	go func() {
		loc, err := g.lookup(geocoder.Address{City: city, Country: country})
		done <- result{loc: loc, err: err}
	}()

	select {
	case <-ctx.Done():
		return fusion.Coordinates{}, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return fusion.Coordinates{}, fmt.Errorf("%w: %s, %s: %v", ErrNotFound, city, country, res.err)
		}
		coords := fusion.Coordinates{Lat: res.loc.Latitude, Lng: res.loc.Longitude}
		if err := coords.Validate(); err != nil {
			return fusion.Coordinates{}, fmt.Errorf("%w: %s, %s", ErrNotFound, city, country)
		}
		return coords, nil
	}
}

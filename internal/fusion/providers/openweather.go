package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/i474232898/environmental-fusion/internal/fusion"
)

const (
	OpenWeatherID          = "openweathermap"
	openWeatherDefaultBase = "https://api.openweathermap.org/data/2.5"
)

var errMissingCredentials = errors.New("credentials are not configured")

// OpenWeather wraps the OpenWeatherMap current and 5-day/3-hour forecast endpoints.
// Both share one circuit breaker.
type OpenWeather struct {
	cfg fusion.ProviderConfig
	ep  endpoint
}

func NewOpenWeather(cfg fusion.ProviderConfig, client *http.Client) *OpenWeather {
	if cfg.ID == "" {
		cfg.ID = OpenWeatherID
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = openWeatherDefaultBase
	}
	return &OpenWeather{cfg: cfg, ep: newEndpoint(cfg.ID, client)}
}

func (p *OpenWeather) Config() fusion.ProviderConfig { return p.cfg }

// Current returns the current-conditions provider.
func (p *OpenWeather) Current() fusion.WeatherProvider {
	return fusion.ProviderFunc[fusion.WeatherQuery, fusion.Observation]{Name: p.cfg.ID, Fn: p.fetchCurrent}
}

// Forecast returns the 3-hour bucket forecast provider.
func (p *OpenWeather) Forecast() fusion.ForecastProvider {
	return fusion.ProviderFunc[fusion.WeatherQuery, []fusion.Observation]{Name: p.cfg.ID, Fn: p.fetchForecast}
}

type owmMain struct {
	Temp     *float64 `json:"temp"`
	Humidity *float64 `json:"humidity"`
	Pressure *float64 `json:"pressure"`
}

type owmRain struct {
	OneH   *float64 `json:"1h"`
	ThreeH *float64 `json:"3h"`
}

type owmCondition struct {
	Main string `json:"main"`
}

type owmCoord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type owmCurrentPayload struct {
	Dt    *int64    `json:"dt"`
	Coord *owmCoord `json:"coord"`
	Main  owmMain   `json:"main"`
	Wind  struct {
		Speed *float64 `json:"speed"`
	} `json:"wind"`
	Rain    *owmRain       `json:"rain"`
	Weather []owmCondition `json:"weather"`
}

type owmForecastPayload struct {
	List *[]struct {
		Dt   *int64  `json:"dt"`
		Main owmMain `json:"main"`
		Wind struct {
			Speed *float64 `json:"speed"`
		} `json:"wind"`
		Rain    *owmRain       `json:"rain"`
		Weather []owmCondition `json:"weather"`
	} `json:"list"`
	City struct {
		Coord *owmCoord `json:"coord"`
	} `json:"city"`
}

func (p *OpenWeather) query(q fusion.WeatherQuery) (url.Values, error) {
	if p.cfg.Credentials == "" {
		return nil, p.ep.wrap(fmt.Errorf("openweather: %w", errMissingCredentials))
	}
	if err := q.Coordinates.Validate(); err != nil {
		return nil, p.ep.wrap(err)
	}
	values := url.Values{}
	values.Set("lat", formatCoord(q.Coordinates.Lat))
	values.Set("lon", formatCoord(q.Coordinates.Lng))
	values.Set("appid", p.cfg.Credentials)
	values.Set("units", "metric")
	return values, nil
}

func (p *OpenWeather) fetchCurrent(ctx context.Context, q fusion.WeatherQuery) (fusion.Observation, error) {
	values, err := p.query(q)
	if err != nil {
		return fusion.Observation{}, err
	}

	body, err := p.ep.get(ctx, p.cfg.BaseURL, "/weather", values, nil)
	if err != nil {
		return fusion.Observation{}, err
	}

	var payload owmCurrentPayload
	if err := p.ep.decode(body, &payload); err != nil {
		return fusion.Observation{}, err
	}

	var missing []string
	if payload.Dt == nil {
		missing = append(missing, "dt")
	}
	if payload.Coord == nil {
		missing = append(missing, "coord")
	}
	if len(missing) > 0 {
		return fusion.Observation{}, p.ep.malformed(missing...)
	}

	metrics := make(map[string]float64, 5)
	putMetric(metrics, fusion.MetricTemperatureC, payload.Main.Temp)
	putMetric(metrics, fusion.MetricHumidityPct, payload.Main.Humidity)
	putMetric(metrics, fusion.MetricPressureHpa, payload.Main.Pressure)
	putMetric(metrics, fusion.MetricWindSpeedMS, payload.Wind.Speed)

	var defaulted []string
	metrics[fusion.MetricRainfallMMH] = hourlyRainRate(payload.Rain, &defaulted)

	return fusion.Observation{
		Timestamp:   time.Unix(*payload.Dt, 0).UTC(),
		SourceID:    p.cfg.ID,
		Coordinates: fusion.Coordinates{Lat: payload.Coord.Lat, Lng: payload.Coord.Lon},
		Metrics:     metrics,
		Condition:   mapOpenWeatherCondition(payload.Weather),
		Defaulted:   defaulted,
		RawPayload:  body,
	}, nil
}

func (p *OpenWeather) fetchForecast(ctx context.Context, q fusion.WeatherQuery) ([]fusion.Observation, error) {
	values, err := p.query(q)
	if err != nil {
		return nil, err
	}

	body, err := p.ep.get(ctx, p.cfg.BaseURL, "/forecast", values, nil)
	if err != nil {
		return nil, err
	}

	var payload owmForecastPayload
	if err := p.ep.decode(body, &payload); err != nil {
		return nil, err
	}
	if payload.List == nil {
		return nil, p.ep.malformed("list")
	}
	if payload.City.Coord == nil {
		return nil, p.ep.malformed("city.coord")
	}
	coords := fusion.Coordinates{Lat: payload.City.Coord.Lat, Lng: payload.City.Coord.Lon}

	items := *payload.List
	out := make([]fusion.Observation, 0, len(items))
	for i, item := range items {
		if item.Dt == nil {
			return nil, p.ep.malformed(fmt.Sprintf("list[%d].dt", i))
		}

		metrics := make(map[string]float64, 5)
		putMetric(metrics, fusion.MetricTemperatureC, item.Main.Temp)
		putMetric(metrics, fusion.MetricHumidityPct, item.Main.Humidity)
		putMetric(metrics, fusion.MetricPressureHpa, item.Main.Pressure)
		putMetric(metrics, fusion.MetricWindSpeedMS, item.Wind.Speed)

		var defaulted []string
		if item.Rain != nil && item.Rain.ThreeH != nil {
			metrics[fusion.MetricRain3hMM] = *item.Rain.ThreeH
		} else {
			metrics[fusion.MetricRain3hMM] = 0
			defaulted = append(defaulted, "rain.3h")
		}

		out = append(out, fusion.Observation{
			Timestamp:   time.Unix(*item.Dt, 0).UTC(),
			SourceID:    p.cfg.ID,
			Coordinates: coords,
			Metrics:     metrics,
			Condition:   mapOpenWeatherCondition(item.Weather),
			Defaulted:   defaulted,
		})
	}
	return out, nil
}

// hourlyRainRate prefers the 1h accumulation and falls back to an hourly rate derived from 3h.
func hourlyRainRate(r *owmRain, defaulted *[]string) float64 {
	switch {
	case r != nil && r.OneH != nil:
		return *r.OneH
	case r != nil && r.ThreeH != nil:
		return *r.ThreeH / 3
	default:
		*defaulted = append(*defaulted, "rain")
		return 0
	}
}

func mapOpenWeatherCondition(items []owmCondition) fusion.Condition {
	if len(items) == 0 {
		return fusion.ConditionUnknown
	}
	switch items[0].Main {
	case "Clear":
		return fusion.ConditionClear
	case "Clouds":
		return fusion.ConditionCloudy
	case "Rain", "Drizzle":
		return fusion.ConditionRain
	case "Snow":
		return fusion.ConditionSnow
	case "Thunderstorm":
		return fusion.ConditionStorm
	case "Mist", "Fog", "Haze", "Smoke":
		return fusion.ConditionMist
	default:
		return fusion.ConditionUnknown
	}
}

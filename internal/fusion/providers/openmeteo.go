package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/i474232898/environmental-fusion/internal/fusion"
)

const (
	OpenMeteoID          = "openmeteo"
	openMeteoDefaultBase = "https://api.open-meteo.com/v1"

	// Open-Meteo reports local ISO-8601 minutes; we always request UTC.
	openMeteoTimeLayout = "2006-01-02T15:04"
)

// OpenMeteo is the keyless fallback for current conditions and the forecast.
// Hourly precipitation is folded into 3-hour buckets so it aggregates like other forecasts.
type OpenMeteo struct {
	cfg fusion.ProviderConfig
	ep  endpoint
}

func NewOpenMeteo(cfg fusion.ProviderConfig, client *http.Client) *OpenMeteo {
	if cfg.ID == "" {
		cfg.ID = OpenMeteoID
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = openMeteoDefaultBase
	}
	return &OpenMeteo{cfg: cfg, ep: newEndpoint(cfg.ID, client)}
}

func (p *OpenMeteo) Config() fusion.ProviderConfig { return p.cfg }

func (p *OpenMeteo) Current() fusion.WeatherProvider {
	return fusion.ProviderFunc[fusion.WeatherQuery, fusion.Observation]{Name: p.cfg.ID, Fn: p.fetchCurrent}
}

func (p *OpenMeteo) Forecast() fusion.ForecastProvider {
	return fusion.ProviderFunc[fusion.WeatherQuery, []fusion.Observation]{Name: p.cfg.ID, Fn: p.fetchForecast}
}

func (p *OpenMeteo) baseQuery(q fusion.WeatherQuery) (url.Values, error) {
	if err := q.Coordinates.Validate(); err != nil {
		return nil, p.ep.wrap(err)
	}
	values := url.Values{}
	values.Set("latitude", formatCoord(q.Coordinates.Lat))
	values.Set("longitude", formatCoord(q.Coordinates.Lng))
	values.Set("timezone", "UTC")
	values.Set("wind_speed_unit", "ms")
	return values, nil
}

func (p *OpenMeteo) fetchCurrent(ctx context.Context, q fusion.WeatherQuery) (fusion.Observation, error) {
	values, err := p.baseQuery(q)
	if err != nil {
		return fusion.Observation{}, err
	}
	values.Set("current", "temperature_2m,relative_humidity_2m,surface_pressure,wind_speed_10m,precipitation,weather_code")

	body, err := p.ep.get(ctx, p.cfg.BaseURL, "/forecast", values, nil)
	if err != nil {
		return fusion.Observation{}, err
	}

	var payload struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Current   *struct {
			Time          string   `json:"time"`
			Temperature   *float64 `json:"temperature_2m"`
			Humidity      *float64 `json:"relative_humidity_2m"`
			Pressure      *float64 `json:"surface_pressure"`
			WindSpeed     *float64 `json:"wind_speed_10m"`
			Precipitation *float64 `json:"precipitation"`
			WeatherCode   *int     `json:"weather_code"`
		} `json:"current"`
	}
	if err := p.ep.decode(body, &payload); err != nil {
		return fusion.Observation{}, err
	}
	if payload.Current == nil {
		return fusion.Observation{}, p.ep.malformed("current")
	}

	var missing []string
	ts, tsErr := time.ParseInLocation(openMeteoTimeLayout, payload.Current.Time, time.UTC)
	if tsErr != nil {
		missing = append(missing, "current.time")
	}
	if payload.Latitude == nil || payload.Longitude == nil {
		missing = append(missing, "latitude/longitude")
	}
	if len(missing) > 0 {
		return fusion.Observation{}, p.ep.malformed(missing...)
	}

	metrics := make(map[string]float64, 5)
	putMetric(metrics, fusion.MetricTemperatureC, payload.Current.Temperature)
	putMetric(metrics, fusion.MetricHumidityPct, payload.Current.Humidity)
	putMetric(metrics, fusion.MetricPressureHpa, payload.Current.Pressure)
	putMetric(metrics, fusion.MetricWindSpeedMS, payload.Current.WindSpeed)

	var defaulted []string
	if payload.Current.Precipitation != nil {
		metrics[fusion.MetricRainfallMMH] = *payload.Current.Precipitation
	} else {
		metrics[fusion.MetricRainfallMMH] = 0
		defaulted = append(defaulted, "current.precipitation")
	}

	cond := fusion.ConditionUnknown
	if payload.Current.WeatherCode != nil {
		cond = mapOpenMeteoCondition(*payload.Current.WeatherCode)
	}

	return fusion.Observation{
		Timestamp:   ts,
		SourceID:    p.cfg.ID,
		Coordinates: fusion.Coordinates{Lat: *payload.Latitude, Lng: *payload.Longitude},
		Metrics:     metrics,
		Condition:   cond,
		Defaulted:   defaulted,
		RawPayload:  body,
	}, nil
}

func (p *OpenMeteo) fetchForecast(ctx context.Context, q fusion.WeatherQuery) ([]fusion.Observation, error) {
	values, err := p.baseQuery(q)
	if err != nil {
		return nil, err
	}
	values.Set("hourly", "precipitation")
	values.Set("forecast_hours", "24")

	body, err := p.ep.get(ctx, p.cfg.BaseURL, "/forecast", values, nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Hourly    *struct {
			Time          []string   `json:"time"`
			Precipitation []*float64 `json:"precipitation"`
		} `json:"hourly"`
	}
	if err := p.ep.decode(body, &payload); err != nil {
		return nil, err
	}
	if payload.Hourly == nil {
		return nil, p.ep.malformed("hourly")
	}
	if payload.Latitude == nil || payload.Longitude == nil {
		return nil, p.ep.malformed("latitude/longitude")
	}
	coords := fusion.Coordinates{Lat: *payload.Latitude, Lng: *payload.Longitude}

	hours := payload.Hourly.Time
	out := make([]fusion.Observation, 0, (len(hours)+2)/3)
	for start := 0; start < len(hours); start += 3 {
		ts, err := time.ParseInLocation(openMeteoTimeLayout, hours[start], time.UTC)
		if err != nil {
			return nil, p.ep.malformed(fmt.Sprintf("hourly.time[%d]", start))
		}

		var sum float64
		var defaulted []string
		for i := start; i < start+3 && i < len(hours); i++ {
			if i < len(payload.Hourly.Precipitation) && payload.Hourly.Precipitation[i] != nil {
				sum += *payload.Hourly.Precipitation[i]
			} else {
				defaulted = append(defaulted, fmt.Sprintf("hourly.precipitation[%d]", i))
			}
		}

		out = append(out, fusion.Observation{
			Timestamp:   ts,
			SourceID:    p.cfg.ID,
			Coordinates: coords,
			Metrics:     map[string]float64{fusion.MetricRain3hMM: sum},
			Defaulted:   defaulted,
		})
	}
	return out, nil
}

// mapOpenMeteoCondition maps WMO weather codes.
func mapOpenMeteoCondition(code int) fusion.Condition {
	switch {
	case code == 0:
		return fusion.ConditionClear
	case code >= 1 && code <= 3:
		return fusion.ConditionCloudy
	case code == 45 || code == 48:
		return fusion.ConditionMist
	case (code >= 51 && code <= 67) || (code >= 80 && code <= 82):
		return fusion.ConditionRain
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return fusion.ConditionSnow
	case code >= 95:
		return fusion.ConditionStorm
	default:
		return fusion.ConditionUnknown
	}
}

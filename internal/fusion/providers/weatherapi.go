package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/i474232898/environmental-fusion/internal/fusion"
)

const (
	WeatherAPIID          = "weatherapi"
	weatherAPIDefaultBase = "https://api.weatherapi.com/v1"
)

// WeatherAPI implements current conditions for WeatherAPI.com.
type WeatherAPI struct {
	cfg fusion.ProviderConfig
	ep  endpoint
}

func NewWeatherAPI(cfg fusion.ProviderConfig, client *http.Client) *WeatherAPI {
	if cfg.ID == "" {
		cfg.ID = WeatherAPIID
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = weatherAPIDefaultBase
	}
	return &WeatherAPI{cfg: cfg, ep: newEndpoint(cfg.ID, client)}
}

func (p *WeatherAPI) ID() string { return p.cfg.ID }

func (p *WeatherAPI) Config() fusion.ProviderConfig { return p.cfg }

func (p *WeatherAPI) Fetch(ctx context.Context, q fusion.WeatherQuery) (fusion.Observation, error) {
	if p.cfg.Credentials == "" {
		return fusion.Observation{}, p.ep.wrap(fmt.Errorf("weatherapi: %w", errMissingCredentials))
	}
	if err := q.Coordinates.Validate(); err != nil {
		return fusion.Observation{}, p.ep.wrap(err)
	}

	values := url.Values{}
	values.Set("key", p.cfg.Credentials)
	// WeatherAPI accepts "lat,lon" in q.
	values.Set("q", formatCoord(q.Coordinates.Lat)+","+formatCoord(q.Coordinates.Lng))

	body, err := p.ep.get(ctx, p.cfg.BaseURL, "/current.json", values, nil)
	if err != nil {
		return fusion.Observation{}, err
	}

	var payload struct {
		Location *struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"location"`
		Current struct {
			LastUpdatedEpoch *int64   `json:"last_updated_epoch"`
			TempC            *float64 `json:"temp_c"`
			Humidity         *float64 `json:"humidity"`
			WindKph          *float64 `json:"wind_kph"`
			PressureMb       *float64 `json:"pressure_mb"`
			PrecipMm         *float64 `json:"precip_mm"`
			Condition        struct {
				Text string `json:"text"`
			} `json:"condition"`
		} `json:"current"`
	}
	if err := p.ep.decode(body, &payload); err != nil {
		return fusion.Observation{}, err
	}

	var missing []string
	if payload.Current.LastUpdatedEpoch == nil {
		missing = append(missing, "current.last_updated_epoch")
	}
	if payload.Location == nil {
		missing = append(missing, "location")
	}
	if len(missing) > 0 {
		return fusion.Observation{}, p.ep.malformed(missing...)
	}

	metrics := make(map[string]float64, 5)
	putMetric(metrics, fusion.MetricTemperatureC, payload.Current.TempC)
	putMetric(metrics, fusion.MetricHumidityPct, payload.Current.Humidity)
	putMetric(metrics, fusion.MetricPressureHpa, payload.Current.PressureMb)
	if payload.Current.WindKph != nil {
		metrics[fusion.MetricWindSpeedMS] = *payload.Current.WindKph / 3.6
	}

	var defaulted []string
	if payload.Current.PrecipMm != nil {
		metrics[fusion.MetricRainfallMMH] = *payload.Current.PrecipMm
	} else {
		metrics[fusion.MetricRainfallMMH] = 0
		defaulted = append(defaulted, "current.precip_mm")
	}

	return fusion.Observation{
		Timestamp:   time.Unix(*payload.Current.LastUpdatedEpoch, 0).UTC(),
		SourceID:    p.cfg.ID,
		Coordinates: fusion.Coordinates{Lat: payload.Location.Lat, Lng: payload.Location.Lon},
		Metrics:     metrics,
		Condition:   mapWeatherAPICondition(payload.Current.Condition.Text),
		Defaulted:   defaulted,
		RawPayload:  body,
	}, nil
}

func mapWeatherAPICondition(text string) fusion.Condition {
	t := strings.ToLower(text)
	switch {
	case t == "":
		return fusion.ConditionUnknown
	case strings.Contains(t, "thunder") || strings.Contains(t, "storm"):
		return fusion.ConditionStorm
	case strings.Contains(t, "snow") || strings.Contains(t, "sleet") || strings.Contains(t, "blizzard"):
		return fusion.ConditionSnow
	case strings.Contains(t, "rain") || strings.Contains(t, "shower") || strings.Contains(t, "drizzle"):
		return fusion.ConditionRain
	case strings.Contains(t, "mist") || strings.Contains(t, "fog"):
		return fusion.ConditionMist
	case strings.Contains(t, "cloud") || strings.Contains(t, "overcast"):
		return fusion.ConditionCloudy
	case strings.Contains(t, "sunny") || strings.Contains(t, "clear"):
		return fusion.ConditionClear
	default:
		return fusion.ConditionUnknown
	}
}

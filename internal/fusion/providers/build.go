package providers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jonboulle/clockwork"

	"github.com/i474232898/environmental-fusion/internal/config"
	"github.com/i474232898/environmental-fusion/internal/fusion"
	"github.com/i474232898/environmental-fusion/internal/observability"
)

// Chains bundles the four fallback chains of the fusion core.
type Chains struct {
	Current           *fusion.CurrentChain
	Forecast          *fusion.ForecastChain
	HistoricalImagery *fusion.ImageryChain
	CurrentImagery    *fusion.ImageryChain
}

// BuildChains constructs every configured provider and arranges them into chains.
// Weather chains end in the degraded default; imagery chains have no synthetic fallback.
func BuildChains(cfg *config.AppConfig, client *http.Client, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) (*Chains, error) {
	if logger == nil {
		logger = slog.Default()
	}

	owm := NewOpenWeather(cfg.Providers[OpenWeatherID], client)
	meteo := NewOpenMeteo(cfg.Providers[OpenMeteoID], client)
	wapi := NewWeatherAPI(cfg.Providers[WeatherAPIID], client)
	nasa := NewNASAImagery(cfg.Providers[NASAID], client)
	regional := NewRegionalImagery(cfg.Providers[RegionalID], client)

	currentByID := map[string]struct {
		p   fusion.WeatherProvider
		cfg fusion.ProviderConfig
	}{
		OpenWeatherID: {owm.Current(), owm.Config()},
		WeatherAPIID:  {wapi, wapi.Config()},
		OpenMeteoID:   {meteo.Current(), meteo.Config()},
	}
	forecastByID := map[string]struct {
		p   fusion.ForecastProvider
		cfg fusion.ProviderConfig
	}{
		OpenWeatherID: {owm.Forecast(), owm.Config()},
		OpenMeteoID:   {meteo.Forecast(), meteo.Config()},
	}
	imageryByID := map[string]struct {
		p   fusion.ImageryProvider
		cfg fusion.ProviderConfig
	}{
		NASAID:     {nasa, nasa.Config()},
		RegionalID: {regional, regional.Config()},
	}

	degraded := fusion.NewDegradedDefault(clock, nil)
	chains := &Chains{
		Current: fusion.NewFallbackChain[fusion.WeatherQuery, fusion.Observation](fusion.NeedCurrentWeather, logger, metrics).
			WithBackoff(cfg.Backoff).
			WithDegradedDefault(degraded.Current),
		Forecast: fusion.NewFallbackChain[fusion.WeatherQuery, []fusion.Observation](fusion.NeedForecast, logger, metrics).
			WithBackoff(cfg.Backoff).
			WithDegradedDefault(degraded.Forecast),
		HistoricalImagery: fusion.NewFallbackChain[fusion.ImageryQuery, fusion.ImagerySnapshot](fusion.NeedHistoricalImagery, logger, metrics).
			WithBackoff(cfg.Backoff),
		CurrentImagery: fusion.NewFallbackChain[fusion.ImageryQuery, fusion.ImagerySnapshot](fusion.NeedCurrentImagery, logger, metrics).
			WithBackoff(cfg.Backoff),
	}

	for _, id := range cfg.CurrentWeatherProviders {
		m, ok := currentByID[id]
		if !ok {
			return nil, fmt.Errorf("provider %q cannot serve %s", id, fusion.NeedCurrentWeather)
		}
		if !usable(m.cfg) {
			logger.Warn("provider skipped: missing credentials", "need", fusion.NeedCurrentWeather, "provider", id)
			continue
		}
		chains.Current.Add(m.p, m.cfg)
	}
	for _, id := range cfg.ForecastProviders {
		m, ok := forecastByID[id]
		if !ok {
			return nil, fmt.Errorf("provider %q cannot serve %s", id, fusion.NeedForecast)
		}
		if !usable(m.cfg) {
			logger.Warn("provider skipped: missing credentials", "need", fusion.NeedForecast, "provider", id)
			continue
		}
		chains.Forecast.Add(m.p, m.cfg)
	}
	for _, w := range []struct {
		ids   []string
		chain *fusion.ImageryChain
	}{
		{cfg.HistoricalImageryProviders, chains.HistoricalImagery},
		{cfg.CurrentImageryProviders, chains.CurrentImagery},
	} {
		for _, id := range w.ids {
			m, ok := imageryByID[id]
			if !ok {
				return nil, fmt.Errorf("provider %q cannot serve %s", id, w.chain.Need())
			}
			if !usable(m.cfg) {
				logger.Warn("provider skipped: missing credentials", "need", w.chain.Need(), "provider", id)
				continue
			}
			w.chain.Add(m.p, m.cfg)
		}
	}

	return chains, nil
}

func usable(cfg fusion.ProviderConfig) bool {
	if cfg.ID == OpenMeteoID {
		return true
	}
	if cfg.ID == RegionalID && cfg.BaseURL == "" {
		return false
	}
	return cfg.Credentials != ""
}

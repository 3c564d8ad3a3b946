package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/i474232898/environmental-fusion/internal/fusion"
)

// Provider ids and the environment prefix each one is configured under.
var providerEnvPrefixes = map[string]string{
	"openweathermap": "OPENWEATHER",
	"weatherapi":     "WEATHERAPI",
	"openmeteo":      "OPENMETEO",
	"nasa":           "NASA",
	"regional":       "REGIONAL",
}

// Credential variable per provider. Open-Meteo is keyless.
var providerCredentialEnv = map[string]string{
	"openweathermap": "OPENWEATHER_API_KEY",
	"weatherapi":     "WEATHERAPI_API_KEY",
	"nasa":           "NASA_API_KEY",
	"regional":       "REGIONAL_TOKEN",
}

var validate = validator.New()

type AppConfig struct {
	// Providers holds the static configuration of every known provider, keyed by id.
	Providers map[string]fusion.ProviderConfig

	// Chain membership per need, in configuration order. Priority decides attempt order.
	CurrentWeatherProviders    []string
	ForecastProviders          []string
	HistoricalImageryProviders []string
	CurrentImageryProviders    []string

	Backoff fusion.BackoffConfig

	// HTTPTimeout is the outer client timeout; per-attempt provider timeouts are usually shorter.
	HTTPTimeout time.Duration

	WeatherCacheTTL time.Duration
	ImageryCacheTTL time.Duration
	OverallDeadline time.Duration // 0 = none

	WeatherPollInterval time.Duration
	FloodPollInterval   time.Duration
	LakePollInterval    time.Duration
	LakeHistoryOffset   time.Duration

	// Locations tracked by the polling jobs.
	Locations []fusion.Coordinates

	StoreMaxHistory int           // max records per kind (0 = unlimited)
	StoreMaxAge     time.Duration // max record age (0 = unlimited)
	SQLitePath      string        // empty = in-memory store

	KafkaBrokers []string
	KafkaTopic   string

	GeocoderAPIKey string

	PredictionURL     string
	PredictionTimeout time.Duration

	// RequestTimeout bounds the work done for one HTTP request (0 = none).
	RequestTimeout time.Duration

	Port      string
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file loaded", "error", err)
	}
	cfg := &AppConfig{}

	providers, err := loadProviders()
	if err != nil {
		return nil, err
	}
	cfg.Providers = providers

	cfg.CurrentWeatherProviders = getenvList("CURRENT_WEATHER_PROVIDERS", "openweathermap,weatherapi,openmeteo")
	cfg.ForecastProviders = getenvList("FORECAST_PROVIDERS", "openweathermap,openmeteo")
	cfg.HistoricalImageryProviders = getenvList("HISTORICAL_IMAGERY_PROVIDERS", "nasa")
	cfg.CurrentImageryProviders = getenvList("CURRENT_IMAGERY_PROVIDERS", "regional,nasa")

	for _, list := range [][]string{
		cfg.CurrentWeatherProviders,
		cfg.ForecastProviders,
		cfg.HistoricalImageryProviders,
		cfg.CurrentImageryProviders,
	} {
		for _, id := range list {
			if _, ok := providers[id]; !ok {
				return nil, fmt.Errorf("unknown provider %q in chain configuration", id)
			}
		}
	}

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"RETRY_INITIAL_INTERVAL", "500ms", &cfg.Backoff.InitialInterval},
		{"RETRY_MAX_INTERVAL", "5s", &cfg.Backoff.MaxInterval},
		{"HTTP_TIMEOUT", "30s", &cfg.HTTPTimeout},
		{"CACHE_TTL_WEATHER", "10m", &cfg.WeatherCacheTTL},
		{"CACHE_TTL_IMAGERY", "24h", &cfg.ImageryCacheTTL},
		{"FUSION_OVERALL_DEADLINE", "0s", &cfg.OverallDeadline},
		{"LAKE_HISTORY_OFFSET", "87600h", &cfg.LakeHistoryOffset}, // ten years
		{"STORE_MAX_AGE", "720h", &cfg.StoreMaxAge},
		{"PREDICTION_TIMEOUT", "15s", &cfg.PredictionTimeout},
		{"REQUEST_TIMEOUT", "30s", &cfg.RequestTimeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getenvDefault(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = v
	}

	// Polling intervals are expressed in milliseconds.
	cfg.WeatherPollInterval = getenvMillis("WEATHER_POLL_INTERVAL_MS", 15*time.Minute)
	cfg.FloodPollInterval = getenvMillis("FLOOD_POLL_INTERVAL_MS", time.Hour)
	cfg.LakePollInterval = getenvMillis("LAKE_POLL_INTERVAL_MS", 24*time.Hour)

	locs, err := parseLocations(os.Getenv("TRACKED_LOCATIONS"))
	if err != nil {
		return nil, err
	}
	cfg.Locations = locs

	cfg.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", 500)
	cfg.SQLitePath = os.Getenv("SQLITE_PATH")

	cfg.KafkaBrokers = getenvList("KAFKA_BROKERS", "")
	cfg.KafkaTopic = getenvDefault("KAFKA_TOPIC", "environmental-records")

	cfg.GeocoderAPIKey = os.Getenv("GEOCODER_API_KEY")
	cfg.PredictionURL = os.Getenv("PREDICTION_URL")

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.LogFormat = getenvDefault("LOG_FORMAT", "json")

	return cfg, nil
}

func loadProviders() (map[string]fusion.ProviderConfig, error) {
	out := make(map[string]fusion.ProviderConfig, len(providerEnvPrefixes))
	var errs []error

	for id, prefix := range providerEnvPrefixes {
		pc := fusion.ProviderConfig{
			ID:         id,
			BaseURL:    os.Getenv(prefix + "_BASE_URL"),
			Timeout:    getenvMillis(prefix+"_TIMEOUT_MS", 5*time.Second),
			MaxRetries: getenvInt(prefix+"_MAX_RETRIES", 3),
			Priority:   getenvInt(prefix+"_PRIORITY", 0),
		}
		if key, ok := providerCredentialEnv[id]; ok {
			pc.Credentials = os.Getenv(key)
		}

		if err := validate.Struct(pc); err != nil {
			errs = append(errs, fmt.Errorf("provider %s: %w", id, err))
			continue
		}
		out[id] = pc
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// parseLocations reads "lat,lng;lat,lng".
func parseLocations(s string) ([]fusion.Coordinates, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var locs []fusion.Coordinates
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.Split(pair, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid TRACKED_LOCATIONS entry %q: want lat,lng", pair)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid latitude in %q: %w", pair, err)
		}
		lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid longitude in %q: %w", pair, err)
		}
		c := fusion.Coordinates{Lat: lat, Lng: lng}
		if err := validate.Struct(c); err != nil {
			return nil, fmt.Errorf("invalid TRACKED_LOCATIONS entry %q: %w", pair, err)
		}
		locs = append(locs, c)
	}
	return locs, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvMillis(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil && n > 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return def
}

func getenvList(key, def string) []string {
	raw := getenvDefault(key, def)
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

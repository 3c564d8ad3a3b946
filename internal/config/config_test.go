package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/environmental-fusion/internal/fusion"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 10*time.Minute, cfg.WeatherCacheTTL)
	assert.Equal(t, 24*time.Hour, cfg.ImageryCacheTTL)
	assert.Zero(t, cfg.OverallDeadline)
	assert.Equal(t, 15*time.Minute, cfg.WeatherPollInterval)
	assert.Equal(t, []string{"nasa"}, cfg.HistoricalImageryProviders)
	assert.Equal(t, []string{"regional", "nasa"}, cfg.CurrentImageryProviders)
	assert.Len(t, cfg.Providers, 5)
	assert.Equal(t, 5*time.Second, cfg.Providers["openweathermap"].Timeout)
	assert.Equal(t, 3, cfg.Providers["nasa"].MaxRetries)
	assert.Empty(t, cfg.Locations)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoad_ProviderOverrides(t *testing.T) {
	t.Setenv("OPENWEATHER_API_KEY", "owm-key")
	t.Setenv("OPENWEATHER_BASE_URL", "https://owm.example.com/data/2.5")
	t.Setenv("OPENWEATHER_TIMEOUT_MS", "1500")
	t.Setenv("OPENWEATHER_MAX_RETRIES", "5")
	t.Setenv("OPENWEATHER_PRIORITY", "2")
	t.Setenv("REGIONAL_TOKEN", "tok")

	cfg, err := Load()
	require.NoError(t, err)

	owm := cfg.Providers["openweathermap"]
	assert.Equal(t, "owm-key", owm.Credentials)
	assert.Equal(t, "https://owm.example.com/data/2.5", owm.BaseURL)
	assert.Equal(t, 1500*time.Millisecond, owm.Timeout)
	assert.Equal(t, 5, owm.MaxRetries)
	assert.Equal(t, 2, owm.Priority)
	assert.Equal(t, "tok", cfg.Providers["regional"].Credentials)
	assert.Empty(t, cfg.Providers["openmeteo"].Credentials)
}

func TestLoad_RejectsInvalidProviderConfig(t *testing.T) {
	t.Setenv("NASA_BASE_URL", "not a url")
	t.Setenv("WEATHERAPI_MAX_RETRIES", "50")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider nasa")
	assert.Contains(t, err.Error(), "provider weatherapi")
}

func TestLoad_RejectsUnknownChainMember(t *testing.T) {
	t.Setenv("CURRENT_IMAGERY_PROVIDERS", "regional,sentinel")

	_, err := Load()
	assert.ErrorContains(t, err, `unknown provider "sentinel"`)
}

func TestLoad_PollingAndLists(t *testing.T) {
	t.Setenv("WEATHER_POLL_INTERVAL_MS", "60000")
	t.Setenv("LAKE_POLL_INTERVAL_MS", "garbage")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("TRACKED_LOCATIONS", "27.7172,85.3240; 28.2096,83.9856")
	t.Setenv("FUSION_OVERALL_DEADLINE", "20s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.WeatherPollInterval)
	assert.Equal(t, 24*time.Hour, cfg.LakePollInterval)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 20*time.Second, cfg.OverallDeadline)
	assert.Equal(t, []fusion.Coordinates{
		{Lat: 27.7172, Lng: 85.324},
		{Lat: 28.2096, Lng: 83.9856},
	}, cfg.Locations)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("CACHE_TTL_WEATHER", "ten minutes")

	_, err := Load()
	assert.ErrorContains(t, err, "CACHE_TTL_WEATHER")
}

func TestParseLocations(t *testing.T) {
	_, err := parseLocations("91,0")
	assert.Error(t, err)

	_, err = parseLocations("1,2,3")
	assert.Error(t, err)

	locs, err := parseLocations("  ")
	require.NoError(t, err)
	assert.Nil(t, locs)
}

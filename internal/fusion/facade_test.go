package fusion

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/environmental-fusion/internal/observability"
)

type facadeFixture struct {
	clock         *clockwork.FakeClock
	currentCalls  atomic.Int32
	forecastCalls atomic.Int32
	currentFn     func(ctx context.Context) (Observation, error)
	forecastFn    func(ctx context.Context) ([]Observation, error)
	historical    []ImageryProvider
	currentImg    []ImageryProvider
}

func newFixture() *facadeFixture {
	fx := &facadeFixture{clock: clockwork.NewFakeClockAt(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))}
	fx.currentFn = func(context.Context) (Observation, error) {
		return Observation{
			Timestamp: fx.clock.Now(),
			SourceID:  "openweathermap",
			Metrics:   map[string]float64{MetricTemperatureC: 24.5, MetricRainfallMMH: 1.2},
			Condition: ConditionRain,
		}, nil
	}
	fx.forecastFn = func(context.Context) ([]Observation, error) {
		return buckets(1, 2, 3, 4, 5, 6, 7, 8), nil
	}
	fx.historical = []ImageryProvider{imageryStub("nasa", 120, 0, nil)}
	fx.currentImg = []ImageryProvider{imageryStub("regional", 95, 0, nil)}
	return fx
}

func (fx *facadeFixture) build(cfg FacadeConfig) *Facade {
	logger := observability.DiscardLogger()
	metrics := observability.NewMetricsForTesting()
	degraded := NewDegradedDefault(fx.clock, nil)

	current := NewFallbackChain[WeatherQuery, Observation](NeedCurrentWeather, logger, metrics).
		Add(ProviderFunc[WeatherQuery, Observation]{Name: "openweathermap", Fn: func(ctx context.Context, _ WeatherQuery) (Observation, error) {
			fx.currentCalls.Add(1)
			return fx.currentFn(ctx)
		}}, ProviderConfig{ID: "openweathermap", Timeout: 2 * time.Second, MaxRetries: 1}).
		WithDegradedDefault(degraded.Current)

	forecast := NewFallbackChain[WeatherQuery, []Observation](NeedForecast, logger, metrics).
		Add(ProviderFunc[WeatherQuery, []Observation]{Name: "openweathermap", Fn: func(ctx context.Context, _ WeatherQuery) ([]Observation, error) {
			fx.forecastCalls.Add(1)
			return fx.forecastFn(ctx)
		}}, ProviderConfig{ID: "openweathermap", Timeout: 2 * time.Second, MaxRetries: 1}).
		WithDegradedDefault(degraded.Forecast)

	detector := NewChangeDetector(
		imageryChain(NeedHistoricalImagery, fx.historical...),
		imageryChain(NeedCurrentImagery, fx.currentImg...),
		fx.clock, logger,
	)

	return NewFacade(current, forecast, detector, cfg, fx.clock, logger, metrics)
}

var kathmandu = Coordinates{Lat: 27.7172, Lng: 85.324}

func TestGetCurrentSnapshot_FusesCurrentAndWindows(t *testing.T) {
	fx := newFixture()
	f := fx.build(FacadeConfig{})

	obs, err := f.GetCurrentSnapshot(context.Background(), kathmandu)
	require.NoError(t, err)

	assert.False(t, obs.IsDegraded)
	assert.Equal(t, "openweathermap", obs.SourceID)
	assert.Equal(t, 24.5, obs.Metrics[MetricTemperatureC])
	assert.Equal(t, 1.2, obs.Metrics[MetricRainfallMMH])
	assert.Equal(t, 3.0, obs.Metrics[MetricRainNext6hMM])
	assert.Equal(t, 10.0, obs.Metrics[MetricRainNext12hMM])
	assert.Equal(t, 36.0, obs.Metrics[MetricRainNext24hMM])
	assert.Equal(t, map[string]string{
		NeedCurrentWeather: "openweathermap",
		NeedForecast:       "openweathermap",
	}, obs.Provenance)
}

func TestGetCurrentSnapshot_DegradesWhenAllProvidersFail(t *testing.T) {
	fx := newFixture()
	fx.currentFn = func(context.Context) (Observation, error) { return Observation{}, ErrNetwork }
	fx.forecastFn = func(context.Context) ([]Observation, error) { return nil, ErrRateLimited }
	f := fx.build(FacadeConfig{})

	obs, err := f.GetCurrentSnapshot(context.Background(), kathmandu)
	require.NoError(t, err)

	assert.True(t, obs.IsDegraded)
	assert.Equal(t, DegradedSourceID, obs.SourceID)
	assert.Zero(t, obs.Metrics[MetricRainfallMMH])
	assert.Zero(t, obs.Metrics[MetricRainNext24hMM])
	assert.Equal(t, DegradedSourceID, obs.Provenance[NeedCurrentWeather])
}

func TestGetCurrentSnapshot_DegradedForecastFlagsSnapshot(t *testing.T) {
	fx := newFixture()
	fx.forecastFn = func(context.Context) ([]Observation, error) { return nil, ErrNetwork }
	f := fx.build(FacadeConfig{})

	obs, err := f.GetCurrentSnapshot(context.Background(), kathmandu)
	require.NoError(t, err)
	assert.True(t, obs.IsDegraded)
	assert.Equal(t, "openweathermap", obs.Provenance[NeedCurrentWeather])
	assert.Equal(t, DegradedSourceID, obs.Provenance[NeedForecast])
}

func TestGetCurrentSnapshot_CachedWithinTTL(t *testing.T) {
	fx := newFixture()
	f := fx.build(FacadeConfig{WeatherTTL: 10 * time.Minute})

	_, err := f.GetCurrentSnapshot(context.Background(), kathmandu)
	require.NoError(t, err)
	fx.clock.Advance(2 * time.Minute)
	_, err = f.GetCurrentSnapshot(context.Background(), kathmandu)
	require.NoError(t, err)

	assert.Equal(t, int32(1), fx.currentCalls.Load())
	assert.Equal(t, int32(1), fx.forecastCalls.Load())

	fx.clock.Advance(10 * time.Minute)
	_, err = f.GetCurrentSnapshot(context.Background(), kathmandu)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fx.currentCalls.Load())
}

func TestGetCurrentSnapshot_DegradedNotCached(t *testing.T) {
	fx := newFixture()
	fx.currentFn = func(context.Context) (Observation, error) { return Observation{}, ErrNetwork }
	f := fx.build(FacadeConfig{})

	_, err := f.GetCurrentSnapshot(context.Background(), kathmandu)
	require.NoError(t, err)
	_, err = f.GetCurrentSnapshot(context.Background(), kathmandu)
	require.NoError(t, err)

	assert.Equal(t, int32(2), fx.currentCalls.Load())
}

func TestGetCurrentSnapshot_ReturnsIndependentCopies(t *testing.T) {
	fx := newFixture()
	f := fx.build(FacadeConfig{})

	a, err := f.GetCurrentSnapshot(context.Background(), kathmandu)
	require.NoError(t, err)
	a.Metrics[MetricTemperatureC] = -99

	b, err := f.GetCurrentSnapshot(context.Background(), kathmandu)
	require.NoError(t, err)
	assert.Equal(t, 24.5, b.Metrics[MetricTemperatureC])
}

func TestGetCurrentSnapshot_CancellationPropagates(t *testing.T) {
	fx := newFixture()
	f := fx.build(FacadeConfig{WeatherTTL: time.Minute})

	// Prime the cache, then let the entry go stale.
	_, err := f.GetCurrentSnapshot(context.Background(), kathmandu)
	require.NoError(t, err)
	fx.clock.Advance(2 * time.Minute)

	var sawCurrent, sawForecast atomic.Bool
	started := make(chan struct{}, 2)
	fx.currentFn = func(ctx context.Context) (Observation, error) {
		started <- struct{}{}
		<-ctx.Done()
		sawCurrent.Store(true)
		return Observation{}, ctx.Err()
	}
	fx.forecastFn = func(ctx context.Context) ([]Observation, error) {
		started <- struct{}{}
		<-ctx.Done()
		sawForecast.Store(true)
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		<-started
		cancel()
	}()

	obs, err := f.GetCurrentSnapshot(ctx, kathmandu)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Observation{}, obs)

	assert.Eventually(t, func() bool { return sawCurrent.Load() && sawForecast.Load() }, time.Second, 5*time.Millisecond)
}

func TestGetCurrentSnapshot_OverallDeadline(t *testing.T) {
	fx := newFixture()
	var stalled atomic.Bool
	stalled.Store(true)
	healthy := fx.currentFn
	fx.currentFn = func(ctx context.Context) (Observation, error) {
		if !stalled.Load() {
			return healthy(ctx)
		}
		<-ctx.Done()
		return Observation{}, ctx.Err()
	}
	f := fx.build(FacadeConfig{OverallDeadline: 30 * time.Millisecond})

	obs, err := f.GetCurrentSnapshot(context.Background(), kathmandu)
	require.NoError(t, err)
	assert.True(t, obs.IsDegraded)
	assert.Equal(t, DegradedSourceID, obs.SourceID)
	assert.Equal(t, kathmandu, obs.Coordinates)
	assert.Equal(t, 0.0, obs.Metrics[MetricRainNext24hMM])
	assert.Equal(t, map[string]string{
		NeedCurrentWeather: DegradedSourceID,
		NeedForecast:       DegradedSourceID,
	}, obs.Provenance)

	// Degraded readings are never cached, so the next call goes upstream again.
	stalled.Store(false)
	obs, err = f.GetCurrentSnapshot(context.Background(), kathmandu)
	require.NoError(t, err)
	assert.False(t, obs.IsDegraded)
}

func TestGetCurrentSnapshot_CallerDeadlineIsCancellation(t *testing.T) {
	fx := newFixture()
	fx.currentFn = func(ctx context.Context) (Observation, error) {
		<-ctx.Done()
		return Observation{}, ctx.Err()
	}
	f := fx.build(FacadeConfig{OverallDeadline: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	obs, err := f.GetCurrentSnapshot(ctx, kathmandu)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Observation{}, obs)
}

func TestGetCurrentSnapshot_NearbyPointsAreDistinct(t *testing.T) {
	fx := newFixture()
	f := fx.build(FacadeConfig{})

	a := Coordinates{Lat: 27.71720, Lng: 85.32400}
	b := Coordinates{Lat: 27.71724, Lng: 85.32400}

	_, err := f.GetCurrentSnapshot(context.Background(), a)
	require.NoError(t, err)
	_, err = f.GetCurrentSnapshot(context.Background(), b)
	require.NoError(t, err)

	assert.NotEqual(t, a.Key(), b.Key())
	assert.Equal(t, int32(2), fx.currentCalls.Load())
}

func TestGetCurrentSnapshot_InvalidCoordinates(t *testing.T) {
	fx := newFixture()
	f := fx.build(FacadeConfig{})

	_, err := f.GetCurrentSnapshot(context.Background(), Coordinates{Lat: 91})
	assert.ErrorIs(t, err, ErrInvalidQuery)
	assert.Zero(t, fx.currentCalls.Load())
}

func TestGetWaterBodyChange(t *testing.T) {
	fx := newFixture()
	f := fx.build(FacadeConfig{})

	report, err := f.GetWaterBodyChange(context.Background(), lakeCoords, histDate, curDate)
	require.NoError(t, err)
	assert.Equal(t, -25.0, report.AreaDelta)
	assert.Equal(t, "nasa", report.Historical.SourceID)
	assert.Equal(t, "regional", report.Current.SourceID)
}

func TestGetWaterBodyChange_Cached(t *testing.T) {
	fx := newFixture()
	var calls atomic.Int32
	fx.historical = []ImageryProvider{imageryStub("nasa", 120, 0, &calls)}
	f := fx.build(FacadeConfig{})

	first, err := f.GetWaterBodyChange(context.Background(), lakeCoords, histDate, curDate)
	require.NoError(t, err)
	fx.clock.Advance(time.Hour)
	second, err := f.GetWaterBodyChange(context.Background(), lakeCoords, histDate, curDate)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetWaterBodyChange_ReturnsIndependentCopies(t *testing.T) {
	fx := newFixture()
	fx.historical = []ImageryProvider{ProviderFunc[ImageryQuery, ImagerySnapshot]{
		Name: "nasa",
		Fn: func(_ context.Context, q ImageryQuery) (ImagerySnapshot, error) {
			return ImagerySnapshot{
				Timestamp:    q.Date,
				Coordinates:  q.Coordinates,
				ComputedArea: 120,
				Defaulted:    []string{"date"},
				RawPayload:   []byte(`{"area":120}`),
			}, nil
		},
	}}
	f := fx.build(FacadeConfig{})

	first, err := f.GetWaterBodyChange(context.Background(), lakeCoords, histDate, curDate)
	require.NoError(t, err)
	first.Historical.Defaulted[0] = "mutated"
	first.Historical.RawPayload[0] = 'X'

	second, err := f.GetWaterBodyChange(context.Background(), lakeCoords, histDate, curDate)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, []string{"date"}, second.Historical.Defaulted)
	assert.JSONEq(t, `{"area":120}`, string(second.Historical.RawPayload))
}

func TestGetWaterBodyChange_NoSyntheticFallback(t *testing.T) {
	fx := newFixture()
	fx.currentImg = []ImageryProvider{ProviderFunc[ImageryQuery, ImagerySnapshot]{
		Name: "regional",
		Fn: func(context.Context, ImageryQuery) (ImagerySnapshot, error) {
			return ImagerySnapshot{}, errors.New("503")
		},
	}}
	f := fx.build(FacadeConfig{})

	_, err := f.GetWaterBodyChange(context.Background(), lakeCoords, histDate, curDate)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestGetWaterBodyChange_Concurrent(t *testing.T) {
	const delay = 200 * time.Millisecond

	fx := newFixture()
	fx.historical = []ImageryProvider{imageryStub("nasa", 1, delay, nil)}
	fx.currentImg = []ImageryProvider{imageryStub("regional", 2, delay, nil)}
	f := fx.build(FacadeConfig{})

	start := time.Now()
	_, err := f.GetWaterBodyChange(context.Background(), lakeCoords, histDate, curDate)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*delay-delay/4)
}

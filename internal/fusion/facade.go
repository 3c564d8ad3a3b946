package fusion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/environmental-fusion/internal/cache"
	"github.com/i474232898/environmental-fusion/internal/observability"
)

// CurrentChain resolves current conditions.
type CurrentChain = FallbackChain[WeatherQuery, Observation]

// ForecastChain resolves 3-hour forecast buckets.
type ForecastChain = FallbackChain[WeatherQuery, []Observation]

// Default staleness windows.
const (
	DefaultWeatherTTL = 10 * time.Minute
	DefaultImageryTTL = 24 * time.Hour
)

// FacadeConfig carries the facade's tunables. Zero values select defaults;
// a zero OverallDeadline leaves calls bounded only by per-attempt timeouts.
type FacadeConfig struct {
	WeatherTTL      time.Duration
	ImageryTTL      time.Duration
	OverallDeadline time.Duration
}

// Facade is the entry point of the fusion core.
type Facade struct {
	current  *CurrentChain
	forecast *ForecastChain
	detector *ChangeDetector
	degraded *DegradedDefault

	snapshots *cache.Cache[Observation]
	changes   *cache.Cache[ChangeReport]

	cfg    FacadeConfig
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewFacade wires the chains and detector behind two caches.
// Degraded snapshots are returned to callers but never cached.
func NewFacade(
	current *CurrentChain,
	forecast *ForecastChain,
	detector *ChangeDetector,
	cfg FacadeConfig,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Facade {
	if cfg.WeatherTTL <= 0 {
		cfg.WeatherTTL = DefaultWeatherTTL
	}
	if cfg.ImageryTTL <= 0 {
		cfg.ImageryTTL = DefaultImageryTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Facade{
		current:  current,
		forecast: forecast,
		detector: detector,
		degraded: NewDegradedDefault(clock, nil),
		snapshots: cache.New[Observation]("snapshot", clock, metrics).
			Admit(func(o Observation) bool { return !o.IsDegraded }),
		changes: cache.New[ChangeReport]("change", clock, metrics),
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
	}
}

// GetCurrentSnapshot returns current conditions fused with look-ahead rainfall windows.
// When every weather provider fails the result is a degraded reading, not an error;
// the only errors are an invalid query and cancellation by the caller. Running out of
// the overall deadline also yields a degraded reading.
func (f *Facade) GetCurrentSnapshot(ctx context.Context, coords Coordinates) (Observation, error) {
	if err := coords.Validate(); err != nil {
		return Observation{}, err
	}

	parent := ctx
	ctx, cancel := f.withDeadline(ctx)
	defer cancel()

	bucket := f.clock.Now().UTC().Truncate(f.cfg.WeatherTTL)
	key := fmt.Sprintf("snapshot:%s@%s", coords.Key(), bucket.Format(time.RFC3339))

	obs, err := f.snapshots.GetOrCompute(ctx, key, f.cfg.WeatherTTL, func(ctx context.Context) (Observation, error) {
		return f.fuseSnapshot(ctx, coords)
	})
	if err != nil {
		if parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			f.logger.WarnContext(parent, "overall deadline exceeded; serving degraded snapshot",
				"coordinates", coords.Key(),
				"deadline", f.cfg.OverallDeadline.String(),
			)
			return f.degradedSnapshot(coords), nil
		}
		return Observation{}, f.classify(ctx, err)
	}
	return obs.Clone(), nil
}

// GetWaterBodyChange returns the area change between historical and current imagery.
// Unlike snapshots there is no synthetic fallback; exhaustion surfaces ErrProviderUnavailable.
func (f *Facade) GetWaterBodyChange(ctx context.Context, coords Coordinates, historicalDate, currentDate time.Time) (ChangeReport, error) {
	if err := coords.Validate(); err != nil {
		return ChangeReport{}, err
	}

	ctx, cancel := f.withDeadline(ctx)
	defer cancel()

	key := fmt.Sprintf("change:%s:%s:%s", coords.Key(), dateKey(historicalDate), dateKey(currentDate))

	report, err := f.changes.GetOrCompute(ctx, key, f.cfg.ImageryTTL, func(ctx context.Context) (ChangeReport, error) {
		return f.detector.Detect(ctx, coords, historicalDate, currentDate)
	})
	if err != nil {
		return ChangeReport{}, f.classify(ctx, err)
	}
	return report.Clone(), nil
}

// fuseSnapshot resolves current conditions and the forecast concurrently.
func (f *Facade) fuseSnapshot(ctx context.Context, coords Coordinates) (Observation, error) {
	q := WeatherQuery{Coordinates: coords}

	var (
		current               Observation
		buckets               []Observation
		currentID, forecastID string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		current, currentID, err = f.current.Resolve(gctx, q)
		return err
	})
	g.Go(func() error {
		var err error
		buckets, forecastID, err = f.forecast.Resolve(gctx, q)
		return err
	})
	if err := g.Wait(); err != nil {
		return Observation{}, err
	}

	obs := current.Clone()
	if obs.SourceID == "" {
		obs.SourceID = currentID
	}
	if obs.Metrics == nil {
		obs.Metrics = make(map[string]float64)
	}
	maps.Copy(obs.Metrics, Summarize(buckets).Metrics())

	obs.Provenance = map[string]string{
		NeedCurrentWeather: currentID,
		NeedForecast:       forecastID,
	}
	obs.IsDegraded = obs.IsDegraded || currentID == DegradedSourceID || forecastID == DegradedSourceID
	if obs.IsDegraded {
		f.logger.WarnContext(ctx, "serving degraded snapshot",
			"coordinates", coords.Key(),
			"current_source", currentID,
			"forecast_source", forecastID,
		)
	}
	return obs, nil
}

// degradedSnapshot is the synthetic reading with zero look-ahead rainfall.
func (f *Facade) degradedSnapshot(coords Coordinates) Observation {
	q := WeatherQuery{Coordinates: coords}
	obs := f.degraded.Current(q)
	maps.Copy(obs.Metrics, Summarize(f.degraded.Forecast(q)).Metrics())
	obs.Provenance = map[string]string{
		NeedCurrentWeather: DegradedSourceID,
		NeedForecast:       DegradedSourceID,
	}
	return obs
}

func (f *Facade) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.cfg.OverallDeadline > 0 {
		return context.WithTimeout(ctx, f.cfg.OverallDeadline)
	}
	return context.WithCancel(ctx)
}

// classify turns any failure observed after the caller's context ended into ErrCanceled.
func (f *Facade) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil && !errors.Is(err, ErrCanceled) {
		return canceled(ctx)
	}
	return err
}

func dateKey(t time.Time) string {
	if t.IsZero() {
		return "latest"
	}
	return t.UTC().Format(time.DateOnly)
}

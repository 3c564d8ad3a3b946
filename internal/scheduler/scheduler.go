package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/environmental-fusion/internal/fusion"
	"github.com/i474232898/environmental-fusion/internal/observability"
	"github.com/i474232898/environmental-fusion/internal/prediction"
	"github.com/i474232898/environmental-fusion/internal/store"
)

const (
	JobWeather = "weather"
	JobFlood   = "flood"
	JobLake    = "lake"
)

// Fusion is the subset of the facade the polling jobs drive.
type Fusion interface {
	GetCurrentSnapshot(ctx context.Context, coords fusion.Coordinates) (fusion.Observation, error)
	GetWaterBodyChange(ctx context.Context, coords fusion.Coordinates, historicalDate, currentDate time.Time) (fusion.ChangeReport, error)
}

// Predictor forwards snapshot features to the flood-prediction function.
type Predictor interface {
	Predict(ctx context.Context, f prediction.Features) (json.RawMessage, error)
}

type Config struct {
	Locations []fusion.Coordinates

	WeatherInterval time.Duration
	FloodInterval   time.Duration
	LakeInterval    time.Duration

	// LakeHistoryOffset is how far back the historical image of a change report is taken.
	LakeHistoryOffset time.Duration

	// JobTimeout bounds the work done for one location in one run.
	JobTimeout time.Duration
}

// Scheduler periodically polls the fusion core for tracked locations.
// The weather job keeps the snapshot cache warm, the flood job persists
// predictions, and the lake job persists water-body change reports.
type Scheduler struct {
	scheduler *gocron.Scheduler
	fusion    Fusion
	predictor Predictor // nil disables the flood job
	sink      store.Sink
	cfg       Config
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// New creates a new Scheduler.
func New(cfg Config, f Fusion, predictor Predictor, sink store.Sink, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		fusion:    f,
		predictor: predictor,
		sink:      sink,
		cfg:       cfg,
		clock:     clock,
		logger:    logger.With("component", "scheduler"),
		metrics:   metrics,
	}
}

// Start schedules the periodic jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if len(s.cfg.Locations) == 0 {
		s.logger.Info("no locations configured; nothing to schedule")
		return nil
	}

	jobs := []struct {
		name     string
		interval time.Duration
		run      func(context.Context) error
	}{
		{JobWeather, s.cfg.WeatherInterval, s.RunWeather},
		{JobFlood, s.cfg.FloodInterval, s.RunFlood},
		{JobLake, s.cfg.LakeInterval, s.RunLake},
	}

	for _, j := range jobs {
		if j.interval <= 0 {
			s.logger.Info("job disabled", "job", j.name)
			continue
		}
		if j.name == JobFlood && s.predictor == nil {
			s.logger.Info("job disabled: no prediction endpoint", "job", j.name)
			continue
		}
		if _, err := s.scheduler.Every(j.interval).Do(s.track, j.name, j.run); err != nil {
			return fmt.Errorf("schedule %s job: %w", j.name, err)
		}
		s.logger.Info("job scheduled", "job", j.name, "interval", j.interval.String())
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// JobCount reports how many jobs Start registered.
func (s *Scheduler) JobCount() int {
	return s.scheduler.Len()
}

func (s *Scheduler) track(name string, run func(context.Context) error) {
	start := s.clock.Now()
	s.logger.Info("job started", "job", name)

	err := run(context.Background())

	outcome := "success"
	if err != nil {
		outcome = "error"
		s.logger.Warn("job finished with errors", "job", name, "error", err, "elapsed", s.clock.Since(start).String())
	} else {
		s.logger.Info("job finished", "job", name, "elapsed", s.clock.Since(start).String())
	}
	s.metrics.JobRuns.WithLabelValues(name, outcome).Inc()
}

// RunWeather refreshes the snapshot cache for every tracked location.
func (s *Scheduler) RunWeather(ctx context.Context) error {
	return s.forEachLocation(ctx, JobWeather, func(ctx context.Context, c fusion.Coordinates) error {
		obs, err := s.fusion.GetCurrentSnapshot(ctx, c)
		if err != nil {
			return err
		}
		if obs.IsDegraded {
			s.logger.Warn("snapshot degraded", "job", JobWeather, "location", c.Key())
		}
		return nil
	})
}

// RunFlood fetches a snapshot per location, asks the prediction function about it,
// and persists the result.
func (s *Scheduler) RunFlood(ctx context.Context) error {
	if s.predictor == nil {
		return prediction.ErrNotConfigured
	}
	return s.forEachLocation(ctx, JobFlood, func(ctx context.Context, c fusion.Coordinates) error {
		obs, err := s.fusion.GetCurrentSnapshot(ctx, c)
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		raw, err := s.predictor.Predict(ctx, prediction.FeaturesFromSnapshot(obs))
		if err != nil {
			return fmt.Errorf("predict: %w", err)
		}

		now := s.clock.Now().UTC()
		fp := prediction.FloodPrediction{
			Coordinates: c,
			Snapshot:    obs,
			Prediction:  raw,
			IsDegraded:  obs.IsDegraded,
			PredictedAt: now,
		}
		return s.save(ctx, store.KindFloodPrediction, c, fp, now)
	})
}

// RunLake compares current imagery with imagery LakeHistoryOffset ago and persists the report.
func (s *Scheduler) RunLake(ctx context.Context) error {
	return s.forEachLocation(ctx, JobLake, func(ctx context.Context, c fusion.Coordinates) error {
		now := s.clock.Now().UTC()
		report, err := s.fusion.GetWaterBodyChange(ctx, c, now.Add(-s.cfg.LakeHistoryOffset), now)
		if err != nil {
			return fmt.Errorf("water body change: %w", err)
		}
		return s.save(ctx, store.KindChangeReport, c, report, now)
	})
}

func (s *Scheduler) save(ctx context.Context, kind store.Kind, c fusion.Coordinates, payload any, now time.Time) error {
	rec, err := store.NewRecord(kind, c, payload, now)
	if err != nil {
		return err
	}
	if err := s.sink.Save(ctx, rec); err != nil {
		return fmt.Errorf("save %s: %w", kind, err)
	}
	return nil
}

// forEachLocation runs fn for all locations in parallel. A failing location does not
// stop the others; the failures are joined into the returned error.
func (s *Scheduler) forEachLocation(ctx context.Context, job string, fn func(context.Context, fusion.Coordinates) error) error {
	errs := make([]error, len(s.cfg.Locations))

	var g errgroup.Group
	for i, loc := range s.cfg.Locations {
		g.Go(func() error {
			lctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
			defer cancel()

			if err := fn(lctx, loc); err != nil {
				s.logger.Error("location failed", "job", job, "location", loc.Key(), "error", err)
				errs[i] = fmt.Errorf("%s: %w", loc.Key(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

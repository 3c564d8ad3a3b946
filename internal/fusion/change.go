package fusion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// ImageryChain resolves one imagery need.
type ImageryChain = FallbackChain[ImageryQuery, ImagerySnapshot]

// ChangeDetector compares historical and current imagery of the same location.
// The two chains are independent and may hold different providers.
type ChangeDetector struct {
	historical *ImageryChain
	current    *ImageryChain
	clock      clockwork.Clock
	logger     *slog.Logger
	newID      func() string
}

func NewChangeDetector(historical, current *ImageryChain, clock clockwork.Clock, logger *slog.Logger) *ChangeDetector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeDetector{
		historical: historical,
		current:    current,
		clock:      clock,
		logger:     logger,
		newID:      uuid.NewString,
	}
}

// Detect fetches both snapshots concurrently and returns their change report.
// If either chain is exhausted the whole detection fails; no partial report is built.
func (d *ChangeDetector) Detect(ctx context.Context, coords Coordinates, historicalDate, currentDate time.Time) (ChangeReport, error) {
	if err := coords.Validate(); err != nil {
		return ChangeReport{}, err
	}
	if !historicalDate.IsZero() && !currentDate.IsZero() && historicalDate.After(currentDate) {
		return ChangeReport{}, fmt.Errorf("%w: historical date %s is after current date %s",
			ErrInvalidQuery, historicalDate.Format(time.DateOnly), currentDate.Format(time.DateOnly))
	}

	var historical, current ImagerySnapshot
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		snap, used, err := d.historical.Resolve(gctx, ImageryQuery{Coordinates: coords, Date: historicalDate})
		if err != nil {
			return err
		}
		historical = withSource(snap, used)
		return nil
	})
	g.Go(func() error {
		snap, used, err := d.current.Resolve(gctx, ImageryQuery{Coordinates: coords, Date: currentDate})
		if err != nil {
			return err
		}
		current = withSource(snap, used)
		return nil
	})

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return ChangeReport{}, canceled(ctx)
		}
		return ChangeReport{}, err
	}

	report := NewChangeReport(d.newID(), coords, historical, current, d.clock.Now())
	d.logger.InfoContext(ctx, "change report generated",
		"coordinates", coords.Key(),
		"historical_source", historical.SourceID,
		"current_source", current.SourceID,
		"area_delta", report.AreaDelta,
	)
	return report, nil
}

func withSource(s ImagerySnapshot, used string) ImagerySnapshot {
	if s.SourceID == "" {
		s.SourceID = used
	}
	return s
}

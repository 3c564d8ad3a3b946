package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/environmental-fusion/internal/fusion"
	"github.com/i474232898/environmental-fusion/internal/observability"
	"github.com/i474232898/environmental-fusion/internal/prediction"
	"github.com/i474232898/environmental-fusion/internal/store"
)

var (
	kathmandu = fusion.Coordinates{Lat: 27.7172, Lng: 85.324}
	pokhara   = fusion.Coordinates{Lat: 28.2096, Lng: 83.9856}
	now       = time.Date(2026, 7, 15, 6, 0, 0, 0, time.UTC)
)

type fakeFusion struct {
	mu        sync.Mutex
	snapshots []fusion.Coordinates
	changes   []time.Time // historical dates requested
	failFor   map[string]error
	degraded  bool
}

func (f *fakeFusion) GetCurrentSnapshot(_ context.Context, c fusion.Coordinates) (fusion.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, c)
	if err := f.failFor[c.Key()]; err != nil {
		return fusion.Observation{}, err
	}
	return fusion.Observation{
		Coordinates: c,
		Timestamp:   now,
		Metrics:     map[string]float64{fusion.MetricRainNext24hMM: 42},
		IsDegraded:  f.degraded,
	}, nil
}

func (f *fakeFusion) GetWaterBodyChange(_ context.Context, c fusion.Coordinates, hist, cur time.Time) (fusion.ChangeReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, hist)
	if err := f.failFor[c.Key()]; err != nil {
		return fusion.ChangeReport{}, err
	}
	return fusion.ChangeReport{ID: "chg-" + c.Key(), Coordinates: c, AreaDelta: -25, GeneratedAt: cur}, nil
}

type fakePredictor struct {
	mu       sync.Mutex
	features []prediction.Features
	err      error
}

func (p *fakePredictor) Predict(_ context.Context, f prediction.Features) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.features = append(p.features, f)
	if p.err != nil {
		return nil, p.err
	}
	return json.RawMessage(`{"risk":"moderate"}`), nil
}

func newTestScheduler(f Fusion, p Predictor, sink store.Sink, metrics *observability.Metrics) *Scheduler {
	cfg := Config{
		Locations:         []fusion.Coordinates{kathmandu, pokhara},
		WeatherInterval:   time.Minute,
		FloodInterval:     time.Hour,
		LakeInterval:      24 * time.Hour,
		LakeHistoryOffset: 10 * 365 * 24 * time.Hour,
	}
	return New(cfg, f, p, sink, clockwork.NewFakeClockAt(now), observability.DiscardLogger(), metrics)
}

func TestRunWeather_PollsEveryLocation(t *testing.T) {
	ff := &fakeFusion{}
	s := newTestScheduler(ff, nil, store.NewMemoryStore(0, 0), nil)

	require.NoError(t, s.RunWeather(context.Background()))
	assert.ElementsMatch(t, []fusion.Coordinates{kathmandu, pokhara}, ff.snapshots)
}

func TestRunWeather_OneLocationFailingDoesNotStopOthers(t *testing.T) {
	ff := &fakeFusion{failFor: map[string]error{kathmandu.Key(): fusion.ErrProviderUnavailable}}
	s := newTestScheduler(ff, nil, store.NewMemoryStore(0, 0), nil)

	err := s.RunWeather(context.Background())
	assert.ErrorIs(t, err, fusion.ErrProviderUnavailable)
	assert.ErrorContains(t, err, kathmandu.Key())
	assert.Len(t, ff.snapshots, 2)
}

func TestRunFlood_PersistsPredictions(t *testing.T) {
	ff := &fakeFusion{degraded: true}
	fp := &fakePredictor{}
	mem := store.NewMemoryStore(0, 0)
	s := newTestScheduler(ff, fp, mem, nil)

	require.NoError(t, s.RunFlood(context.Background()))
	require.Len(t, fp.features, 2)
	assert.Equal(t, 42.0, fp.features[0].RainNext24hMM)

	recs, err := mem.ListRecent(context.Background(), store.Filter{Kind: store.KindFloodPrediction})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	var got prediction.FloodPrediction
	require.NoError(t, json.Unmarshal(recs[0].Payload, &got))
	assert.True(t, got.IsDegraded)
	assert.JSONEq(t, `{"risk":"moderate"}`, string(got.Prediction))
	assert.Equal(t, now, got.PredictedAt)
}

func TestRunFlood_PredictorErrorSavesNothing(t *testing.T) {
	mem := store.NewMemoryStore(0, 0)
	s := newTestScheduler(&fakeFusion{}, &fakePredictor{err: errors.New("502")}, mem, nil)

	assert.ErrorContains(t, s.RunFlood(context.Background()), "predict")

	recs, err := mem.ListRecent(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRunFlood_WithoutPredictor(t *testing.T) {
	s := newTestScheduler(&fakeFusion{}, nil, store.NewMemoryStore(0, 0), nil)
	assert.ErrorIs(t, s.RunFlood(context.Background()), prediction.ErrNotConfigured)
}

func TestRunLake_UsesHistoryOffset(t *testing.T) {
	ff := &fakeFusion{}
	mem := store.NewMemoryStore(0, 0)
	s := newTestScheduler(ff, nil, mem, nil)

	require.NoError(t, s.RunLake(context.Background()))
	require.Len(t, ff.changes, 2)
	assert.Equal(t, now.Add(-10*365*24*time.Hour), ff.changes[0])

	recs, err := mem.ListRecent(context.Background(), store.Filter{Kind: store.KindChangeReport})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	var report fusion.ChangeReport
	require.NoError(t, json.Unmarshal(recs[0].Payload, &report))
	assert.Equal(t, -25.0, report.AreaDelta)
}

func TestTrack_RecordsOutcome(t *testing.T) {
	m := observability.NewMetricsForTesting()
	s := newTestScheduler(&fakeFusion{}, nil, store.NewMemoryStore(0, 0), m)

	s.track(JobWeather, func(context.Context) error { return nil })
	s.track(JobWeather, func(context.Context) error { return errors.New("boom") })

	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues(JobWeather, "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues(JobWeather, "error")))
}

func TestStart_SkipsFloodWithoutPredictor(t *testing.T) {
	s := newTestScheduler(&fakeFusion{}, nil, store.NewMemoryStore(0, 0), nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Equal(t, 2, s.JobCount())
}

func TestStart_NoLocations(t *testing.T) {
	s := New(Config{WeatherInterval: time.Minute}, &fakeFusion{}, nil, store.NewMemoryStore(0, 0), nil, observability.DiscardLogger(), nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Equal(t, 0, s.JobCount())
}

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/environmental-fusion/internal/fusion"
)

func mustRecord(t *testing.T, kind Kind, createdAt time.Time) Record {
	t.Helper()
	r, err := NewRecord(kind, fusion.Coordinates{Lat: 27.7, Lng: 85.3}, map[string]string{"k": "v"}, createdAt)
	require.NoError(t, err)
	return r
}

func TestMemoryStore_ListRecentNewestFirst(t *testing.T) {
	s := NewMemoryStore(0, 0)
	ctx := context.Background()
	now := time.Now().UTC()

	older := mustRecord(t, KindFloodPrediction, now.Add(-2*time.Hour))
	newer := mustRecord(t, KindChangeReport, now.Add(-time.Hour))
	newest := mustRecord(t, KindFloodPrediction, now)

	for _, r := range []Record{newer, older, newest} {
		require.NoError(t, s.Save(ctx, r))
	}

	all, err := s.ListRecent(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, newest.ID, all[0].ID)
	assert.Equal(t, newer.ID, all[1].ID)
	assert.Equal(t, older.ID, all[2].ID)

	floods, err := s.ListRecent(ctx, Filter{Kind: KindFloodPrediction, Limit: 1})
	require.NoError(t, err)
	require.Len(t, floods, 1)
	assert.Equal(t, newest.ID, floods[0].ID)
}

func TestMemoryStore_RetentionByCount(t *testing.T) {
	s := NewMemoryStore(2, 0)
	ctx := context.Background()
	now := time.Now()

	var last Record
	for i := range 3 {
		last = mustRecord(t, KindChangeReport, now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.Save(ctx, last))
	}

	all, err := s.ListRecent(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, last.ID, all[0].ID)
}

func TestMemoryStore_RetentionByAge(t *testing.T) {
	s := NewMemoryStore(0, time.Hour)
	ctx := context.Background()

	stale := mustRecord(t, KindFloodPrediction, time.Now().Add(-2*time.Hour))
	fresh := mustRecord(t, KindFloodPrediction, time.Now())
	require.NoError(t, s.Save(ctx, stale))
	require.NoError(t, s.Save(ctx, fresh))

	_, err := s.Get(ctx, stale.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := s.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, got.ID)
}

type failingSink struct{ err error }

func (f failingSink) Save(context.Context, Record) error { return f.err }

type recordingSink struct{ saved []Record }

func (r *recordingSink) Save(_ context.Context, rec Record) error {
	r.saved = append(r.saved, rec)
	return nil
}

func TestTee_ForwardsAfterPrimaryWrite(t *testing.T) {
	primary := NewMemoryStore(0, 0)
	rec := &recordingSink{}
	boom := errors.New("broker down")
	tee := NewTee(primary, rec, failingSink{err: boom})

	r := mustRecord(t, KindChangeReport, time.Now())
	err := tee.Save(context.Background(), r)
	assert.ErrorIs(t, err, boom)

	require.Len(t, rec.saved, 1)
	got, getErr := tee.Get(context.Background(), r.ID)
	require.NoError(t, getErr)
	assert.Equal(t, r.ID, got.ID)
}

func TestMemoryStore_RetentionByAgeUsesClock(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 7, 15, 6, 0, 0, 0, time.UTC))
	s := NewMemoryStore(0, time.Hour).WithClock(clock)
	ctx := context.Background()

	early := mustRecord(t, KindChangeReport, clock.Now().Add(-30*time.Minute))
	require.NoError(t, s.Save(ctx, early))

	clock.Advance(45 * time.Minute)
	late := mustRecord(t, KindChangeReport, clock.Now())
	require.NoError(t, s.Save(ctx, late))

	_, err := s.Get(ctx, early.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := s.Get(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, late.ID, got.ID)
}

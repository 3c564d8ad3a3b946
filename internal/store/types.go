package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/environmental-fusion/internal/fusion"
)

// ErrNotFound is returned when no record matches.
var ErrNotFound = errors.New("record not found")

// Kind classifies finished records.
type Kind string

const (
	KindFloodPrediction Kind = "flood_prediction"
	KindChangeReport    Kind = "change_report"
)

// Record is a finished result handed to persistence. Payload is the JSON of the result.
type Record struct {
	ID          string             `json:"id"`
	Kind        Kind               `json:"kind"`
	Coordinates fusion.Coordinates `json:"coordinates"`
	CreatedAt   time.Time          `json:"createdAt"`
	Payload     json.RawMessage    `json:"payload"`
}

// NewRecord marshals payload into a record with a fresh id.
func NewRecord(kind Kind, coords fusion.Coordinates, payload any, createdAt time.Time) (Record, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Record{
		ID:          uuid.NewString(),
		Kind:        kind,
		Coordinates: coords,
		CreatedAt:   createdAt.UTC(),
		Payload:     raw,
	}, nil
}

// Filter narrows ListRecent. Zero values mean no constraint; Limit defaults to 50.
type Filter struct {
	Kind  Kind
	Limit int
}

const defaultLimit = 50

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return defaultLimit
	}
	return f.Limit
}

// Sink accepts finished records.
type Sink interface {
	Save(ctx context.Context, r Record) error
}

// Store is a Sink that can list what it holds, newest first.
type Store interface {
	Sink
	Get(ctx context.Context, id string) (Record, error)
	ListRecent(ctx context.Context, f Filter) ([]Record, error)
}

// Tee saves into a primary store and forwards to extra sinks.
// Forwarding failures are returned joined but never undo the primary write.
type Tee struct {
	Store
	sinks []Sink
}

func NewTee(primary Store, sinks ...Sink) *Tee {
	return &Tee{Store: primary, sinks: sinks}
}

func (t *Tee) Save(ctx context.Context, r Record) error {
	if err := t.Store.Save(ctx, r); err != nil {
		return err
	}
	var errs []error
	for _, s := range t.sinks {
		if err := s.Save(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/environmental-fusion/internal/fusion"
	"github.com/i474232898/environmental-fusion/internal/observability"
	"github.com/i474232898/environmental-fusion/internal/store"
)

type fakeWriter struct {
	msgs []kafkago.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func testRecord() store.Record {
	return store.Record{
		ID:          "rec-1",
		Kind:        store.KindChangeReport,
		Coordinates: fusion.Coordinates{Lat: 28.2096, Lng: 83.9856},
		CreatedAt:   time.Date(2026, 4, 26, 15, 10, 0, 0, time.UTC),
		Payload:     json.RawMessage(`{"areaDelta":-25}`),
	}
}

func TestSerializeToMessage(t *testing.T) {
	r := testRecord()

	msg, err := serializeToMessage(r)
	require.NoError(t, err)

	assert.Equal(t, []byte("28.209600,83.985600"), msg.Key)
	assert.Contains(t, string(msg.Value), `"kind":"change_report"`)
	assert.Contains(t, string(msg.Value), `"payload":{"areaDelta":-25}`)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "kind", msg.Headers[0].Key)
	assert.Equal(t, []byte("change_report"), msg.Headers[0].Value)
	assert.Equal(t, "created_at", msg.Headers[1].Key)
	assert.Equal(t, []byte("2026-04-26T15:10:00Z"), msg.Headers[1].Value)
}

func TestWriter_Save(t *testing.T) {
	fw := &fakeWriter{}
	w := &Writer{writer: fw, logger: observability.DiscardLogger()}

	require.NoError(t, w.Save(context.Background(), testRecord()))
	require.Len(t, fw.msgs, 1)
	assert.Equal(t, []byte("28.209600,83.985600"), fw.msgs[0].Key)
}

func TestWriter_SaveError(t *testing.T) {
	boom := errors.New("leader not available")
	w := &Writer{writer: &fakeWriter{err: boom}, logger: observability.DiscardLogger()}

	err := w.Save(context.Background(), testRecord())
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "rec-1")
}

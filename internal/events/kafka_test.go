package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiedye/internal/models"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

var readyAt = time.Date(2011, 6, 3, 10, 0, 0, 0, time.UTC)

func TestPhotoReadyWritesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{w: w}

	err := p.PhotoReady(context.Background(), models.PhotoReadyEvent{
		PhotoID:   42,
		Filename:  "42-photo.png",
		OwnerKind: models.OwnerWearing,
		OwnerID:   7,
		ReadyAt:   readyAt,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "42", string(w.msgs[0].Key))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &body))
	assert.Equal(t, map[string]any{
		"photo_id":   42.0,
		"filename":   "42-photo.png",
		"owner_kind": "wearing",
		"owner_id":   7.0,
		"ready_at":   "2011-06-03T10:00:00Z",
	}, body)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPhotoReadyWrapsWriterError(t *testing.T) {
	broker := errors.New("leader not available")
	p := &KafkaPublisher{w: &fakeWriter{err: broker}}

	err := p.PhotoReady(context.Background(), models.PhotoReadyEvent{PhotoID: 1})
	assert.ErrorIs(t, err, broker)
}

func TestNopPublisher(t *testing.T) {
	var n Nop
	assert.NoError(t, n.PhotoReady(context.Background(), models.PhotoReadyEvent{PhotoID: 1}))
	assert.NoError(t, n.Close())
}

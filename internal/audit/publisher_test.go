package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

type fakeProducer struct {
	records []*kgo.Record
	failAt  int // 1-based produce call that fails; 0 disables
	calls   int
}

func (f *fakeProducer) Produce(_ context.Context, r *kgo.Record) error {
	f.calls++
	if f.failAt > 0 && f.calls >= f.failAt {
		return errors.New("broker unavailable")
	}
	f.records = append(f.records, r)
	return nil
}

func TestDrainOncePublishesAndMarks(t *testing.T) {
	store := NewInMemoryStore()
	svc := NewService(store, testLogger())
	emitN(t, svc, 3)

	producer := &fakeProducer{}
	worker := NewOutboxWorker(store, producer, "veilvote.audit", time.Second, testLogger())

	require.NoError(t, worker.DrainOnce(context.Background()))
	assert.Len(t, producer.records, 3)

	pending, err := store.ListUnpublished(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	var msg outboxMessage
	require.NoError(t, json.Unmarshal(producer.records[0].Value, &msg))
	assert.Equal(t, string(EventVoteAccepted), msg.EventType)
	assert.NotEmpty(t, msg.RowHash)
	assert.Equal(t, "veilvote.audit", producer.records[0].Topic)
}

func TestDrainOnceRetriesFailedTail(t *testing.T) {
	store := NewInMemoryStore()
	svc := NewService(store, testLogger())
	emitN(t, svc, 3)

	producer := &fakeProducer{failAt: 3}
	worker := NewOutboxWorker(store, producer, "veilvote.audit", time.Second, testLogger())

	require.NoError(t, worker.DrainOnce(context.Background()))

	// Two made it out, the third stays queued for the next tick.
	pending, err := store.ListUnpublished(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestDrainOnceNoRows(t *testing.T) {
	store := NewInMemoryStore()
	producer := &fakeProducer{}
	worker := NewOutboxWorker(store, producer, "veilvote.audit", time.Second, testLogger())

	require.NoError(t, worker.DrainOnce(context.Background()))
	assert.Empty(t, producer.records)
}

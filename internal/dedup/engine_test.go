package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aggrlabs/event-aggregator/internal/logger"
	"github.com/aggrlabs/event-aggregator/internal/models"
	"github.com/aggrlabs/event-aggregator/internal/store"
)

// fakeGateway mimics the storage uniqueness constraint: the first commit
// of an identity wins, every later one reports AlreadyExists.
type fakeGateway struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{seen: map[string]bool{}}
}

func (f *fakeGateway) TryCommit(ctx context.Context, ev models.Event) (store.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	key := ev.Topic + "\x00" + ev.EventID
	if f.seen[key] {
		return store.AlreadyExists, nil
	}
	f.seen[key] = true
	return store.Committed, nil
}

func TestProcessFirstThenDuplicate(t *testing.T) {
	eng := NewEngine(newFakeGateway(), logger.Nop())
	ev := models.Event{Topic: "orders", EventID: "e1", Source: "checkout"}

	status, err := eng.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, status)

	// Same identity, different payload: still a duplicate, never an error.
	ev.Payload = map[string]any{"changed": true}
	status, err = eng.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, status)
}

func TestProcessDistinctIdentities(t *testing.T) {
	eng := NewEngine(newFakeGateway(), logger.Nop())

	for _, ev := range []models.Event{
		{Topic: "orders", EventID: "e1"},
		{Topic: "orders", EventID: "e2"},
		{Topic: "payments", EventID: "e1"}, // same id, different topic
	} {
		status, err := eng.Process(context.Background(), ev)
		require.NoError(t, err)
		assert.Equal(t, StatusProcessed, status, "identity %s/%s", ev.Topic, ev.EventID)
	}
}

func TestProcessRejectsInvalidEvents(t *testing.T) {
	gw := newFakeGateway()
	eng := NewEngine(gw, logger.Nop())

	tests := []struct {
		name string
		ev   models.Event
	}{
		{name: "missing topic", ev: models.Event{EventID: "e1"}},
		{name: "missing event_id", ev: models.Event{Topic: "orders"}},
		{name: "bad timestamp", ev: models.Event{Topic: "orders", EventID: "e1", Timestamp: "nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.Process(context.Background(), tt.ev)
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrInvalidEvent))
		})
	}

	// Validation failures never reach storage.
	assert.Empty(t, gw.seen)
}

// outcomeCounterValue reads the publish outcome counter for one label
// pair from the default registry; absent series read as zero.
func outcomeCounterValue(t *testing.T, topic, outcome string) float64 {
	t.Helper()

	fams, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	for _, mf := range fams {
		if mf.GetName() != "aggregator_ingest_publish_outcomes_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["topic"] == topic && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestProcessInvalidEventKeepsTopicOutOfLabels(t *testing.T) {
	eng := NewEngine(newFakeGateway(), logger.Nop())

	// Fails the charset check, so it never becomes a label value.
	rawTopic := "not a valid topic"
	before := outcomeCounterValue(t, "unknown", "invalid")

	_, err := eng.Process(context.Background(), models.Event{Topic: rawTopic, EventID: "e1"})
	require.ErrorIs(t, err, models.ErrInvalidEvent)

	assert.Zero(t, outcomeCounterValue(t, rawTopic, "invalid"))
	assert.Equal(t, before+1, outcomeCounterValue(t, "unknown", "invalid"))
}

func TestProcessPropagatesStorageErrors(t *testing.T) {
	gw := newFakeGateway()
	gw.err = store.ErrUnavailable
	eng := NewEngine(gw, logger.Nop())

	_, err := eng.Process(context.Background(), models.Event{Topic: "orders", EventID: "e1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrUnavailable))
}

func TestProcessConcurrentSameIdentity(t *testing.T) {
	eng := NewEngine(newFakeGateway(), logger.Nop())
	ev := models.Event{Topic: "t", EventID: "x", Source: "load-test"}

	const n = 50
	results := make(chan Status, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, err := eng.Process(context.Background(), ev)
			assert.NoError(t, err)
			results <- status
		}()
	}
	wg.Wait()
	close(results)

	var processed, duplicates int
	for status := range results {
		switch status {
		case StatusProcessed:
			processed++
		case StatusDuplicate:
			duplicates++
		}
	}
	assert.Equal(t, 1, processed, "exactly one caller must win")
	assert.Equal(t, n-1, duplicates)
}

package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aggrlabs/event-aggregator/internal/metrics"
	"github.com/aggrlabs/event-aggregator/internal/models"
	"github.com/aggrlabs/event-aggregator/internal/store"
)

// Status is the publish decision reported to callers. A duplicate is a
// successful outcome, not an error: it tells an at-least-once producer
// its delivery landed.
type Status string

const (
	StatusProcessed Status = "processed"
	StatusDuplicate Status = "duplicate"
)

// Gateway is the persistence contract the engine decides through. The
// storage-level uniqueness constraint behind TryCommit is the dedup
// arbiter, so the engine stays correct across concurrent instances
// sharing one database.
type Gateway interface {
	TryCommit(ctx context.Context, ev models.Event) (store.Outcome, error)
}

// Engine validates incoming events and maps persistence outcomes to
// publish statuses. It holds no state of its own.
type Engine struct {
	gw  Gateway
	log zerolog.Logger
}

func NewEngine(gw Gateway, log zerolog.Logger) *Engine {
	return &Engine{
		gw:  gw,
		log: log.With().Str("component", "dedup").Logger(),
	}
}

// Process runs one publish decision: validate, commit, map the outcome.
// Malformed events fail with models.ErrInvalidEvent before any storage
// access; storage failures come back wrapped from the gateway.
func (e *Engine) Process(ctx context.Context, ev models.Event) (Status, error) {
	if err := ev.Validate(); err != nil {
		// The topic is unvalidated client input here; keep it out of the
		// label set so bad producers cannot inflate metric cardinality.
		metrics.IncPublishOutcome("", "invalid")
		return "", err
	}

	started := time.Now()
	outcome, err := e.gw.TryCommit(ctx, ev)
	if err != nil {
		metrics.IncPublishOutcome(ev.Topic, "error")
		return "", fmt.Errorf("commit %s/%s: %w", ev.Topic, ev.EventID, err)
	}
	metrics.ObserveCommit(time.Since(started))

	switch outcome {
	case store.Committed:
		metrics.IncPublishOutcome(ev.Topic, string(StatusProcessed))
		e.log.Info().
			Str("topic", ev.Topic).
			Str("event_id", ev.EventID).
			Str("source", ev.Source).
			Msg("processed new event")
		return StatusProcessed, nil
	case store.AlreadyExists:
		metrics.IncPublishOutcome(ev.Topic, string(StatusDuplicate))
		e.log.Info().
			Str("topic", ev.Topic).
			Str("event_id", ev.EventID).
			Msg("duplicate detected")
		return StatusDuplicate, nil
	default:
		return "", fmt.Errorf("unknown commit outcome %d for %s/%s", outcome, ev.Topic, ev.EventID)
	}
}

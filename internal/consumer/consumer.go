package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aggrlabs/event-aggregator/internal/dedup"
	"github.com/aggrlabs/event-aggregator/internal/models"
)

// Processor is the decision layer the consumer feeds; the HTTP publish
// path and this channel path share the same one.
type Processor interface {
	Process(ctx context.Context, ev models.Event) (dedup.Status, error)
}

// Consumer subscribes to a Redis pub/sub channel and runs incoming
// events through the deduplication engine with a fixed worker pool.
// Malformed messages are logged and dropped; the channel gives no way
// to reject them back to the producer.
type Consumer struct {
	rdb     *redis.Client
	channel string
	workers int
	proc    Processor
	log     zerolog.Logger
}

func New(rdb *redis.Client, channel string, workers int, proc Processor, log zerolog.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		rdb:     rdb,
		channel: channel,
		workers: workers,
		proc:    proc,
		log:     log.With().Str("component", "consumer").Logger(),
	}
}

// Run blocks until ctx is canceled or the subscription fails.
func (c *Consumer) Run(ctx context.Context) error {
	pubsub := c.rdb.Subscribe(ctx, c.channel)
	defer pubsub.Close()

	// Receive forces the SUBSCRIBE round-trip so a bad address fails
	// here instead of silently consuming nothing.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.channel, err)
	}
	c.log.Info().Str("channel", c.channel).Int("workers", c.workers).Msg("subscribed")

	msgs := pubsub.Channel()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case msg, ok := <-msgs:
					if !ok {
						return nil
					}
					c.handleMessage(ctx, []byte(msg.Payload))
				}
			}
		})
	}
	return g.Wait()
}

// handleMessage decodes and processes a single channel message. Errors
// never stop the worker: an invalid message is dropped, a storage
// failure is logged and the message abandoned (the producer's delivery
// contract is at-least-once, so it may republish).
func (c *Consumer) handleMessage(ctx context.Context, payload []byte) {
	var ev models.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		c.log.Error().Err(err).Msg("invalid JSON message dropped")
		return
	}

	if _, err := c.proc.Process(ctx, ev); err != nil {
		if errors.Is(err, models.ErrInvalidEvent) {
			c.log.Error().Err(err).
				Str("topic", ev.Topic).
				Str("event_id", ev.EventID).
				Msg("invalid event dropped")
			return
		}
		c.log.Error().Err(err).
			Str("topic", ev.Topic).
			Str("event_id", ev.EventID).
			Msg("failed to process event")
	}
}

package models

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrInvalidEvent marks publish attempts rejected before any storage
// access. Wrapped errors carry the specific reason.
var ErrInvalidEvent = errors.New("invalid event")

// topicRe restricts topics to alphanumerics plus ._- so they stay safe
// as identifiers in queries, metrics labels and log lines.
var topicRe = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// Event is the wire-level publish payload. Identity is the
// (topic, event_id) pair; payload is opaque to the aggregator.
type Event struct {
	Topic     string         `json:"topic"`
	EventID   string         `json:"event_id"`
	Timestamp string         `json:"timestamp,omitempty"`
	Source    string         `json:"source,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Validate checks the fields the aggregator depends on. Two publish
// attempts with the same identity are the same logical event even when
// timestamp, source or payload differ, so only identity fields and
// timestamp syntax are checked here.
func (e Event) Validate() error {
	if e.Topic == "" {
		return fmt.Errorf("%w: topic required", ErrInvalidEvent)
	}
	if !topicRe.MatchString(e.Topic) {
		return fmt.Errorf("%w: topic must match %s", ErrInvalidEvent, topicRe.String())
	}
	if e.EventID == "" {
		return fmt.Errorf("%w: event_id required", ErrInvalidEvent)
	}
	if e.Timestamp != "" {
		if _, err := time.Parse(time.RFC3339, e.Timestamp); err != nil {
			return fmt.Errorf("%w: timestamp must be RFC3339", ErrInvalidEvent)
		}
	}
	return nil
}

// EventBatch is the POST /publish/batch payload.
type EventBatch struct {
	Events []Event `json:"events"`
}

// MaxBatchSize caps a single batch publish.
const MaxBatchSize = 1000

// PublishResponse is returned by POST /publish.
type PublishResponse struct {
	Status  string `json:"status"` // "processed" or "duplicate"
	Topic   string `json:"topic"`
	EventID string `json:"event_id"`
}

// BatchPublishResponse is returned by POST /publish/batch.
type BatchPublishResponse struct {
	Accepted int               `json:"accepted"`
	Results  []PublishResponse `json:"results"`
}

// ProcessedEventResponse is one element of the GET /events listing.
type ProcessedEventResponse struct {
	Topic       string    `json:"topic"`
	EventID     string    `json:"event_id"`
	Source      string    `json:"source"`
	ProcessedAt time.Time `json:"processed_at"`
}

// TopicStatsResponse is one per-topic entry of the GET /stats snapshot.
type TopicStatsResponse struct {
	Topic           string     `json:"topic"`
	ProcessedCount  int64      `json:"processed_count"`
	DuplicateCount  int64      `json:"duplicate_count"`
	LastProcessedAt *time.Time `json:"last_processed_at,omitempty"`
}

// StatsResponse is the GET /stats snapshot.
type StatsResponse struct {
	TotalProcessed  int64                `json:"total_processed"`
	TotalDuplicates int64                `json:"total_duplicates"`
	Topics          int                  `json:"topics"`
	UptimeSeconds   float64              `json:"uptime_seconds"`
	PerTopic        []TopicStatsResponse `json:"per_topic"`
}

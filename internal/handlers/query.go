package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aggrlabs/event-aggregator/internal/models"
	"github.com/aggrlabs/event-aggregator/internal/store"
)

// defaultEventsLimit applies when GET /events has no limit parameter.
const defaultEventsLimit = 100

// Reader serves the read endpoints from committed state.
type Reader interface {
	Stats(ctx context.Context) (store.Snapshot, error)
	Topics(ctx context.Context) ([]string, error)
	RecentEvents(ctx context.Context, topic string, limit, offset int) ([]store.ProcessedEvent, error)
}

// RegisterQueryRoutes registers the read endpoints.
//
// GET /stats  — totals plus per-topic breakdown
// GET /topics — distinct topics with recorded activity
// GET /events — recent ledger rows, processed_at descending
func RegisterQueryRoutes(r gin.IRoutes, rd Reader, startedAt time.Time) {
	r.GET("/stats", func(c *gin.Context) {
		snap, err := rd.Stats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
			return
		}

		perTopic := make([]models.TopicStatsResponse, 0, len(snap.PerTopic))
		for _, ts := range snap.PerTopic {
			perTopic = append(perTopic, models.TopicStatsResponse{
				Topic:           ts.Topic,
				ProcessedCount:  ts.ProcessedCount,
				DuplicateCount:  ts.DuplicateCount,
				LastProcessedAt: ts.LastProcessedAt,
			})
		}

		c.JSON(http.StatusOK, models.StatsResponse{
			TotalProcessed:  snap.TotalProcessed,
			TotalDuplicates: snap.TotalDuplicates,
			Topics:          len(perTopic),
			UptimeSeconds:   time.Since(startedAt).Seconds(),
			PerTopic:        perTopic,
		})
	})

	r.GET("/topics", func(c *gin.Context) {
		topics, err := rd.Topics(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
			return
		}
		if topics == nil {
			topics = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"topics": topics})
	})

	r.GET("/events", func(c *gin.Context) {
		limit, ok := intQuery(c, "limit", defaultEventsLimit)
		if !ok || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		offset, ok := intQuery(c, "offset", 0)
		if !ok || offset < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
			return
		}
		topic := c.Query("topic")

		events, err := rd.RecentEvents(c.Request.Context(), topic, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
			return
		}

		out := make([]models.ProcessedEventResponse, 0, len(events))
		for _, ev := range events {
			out = append(out, models.ProcessedEventResponse{
				Topic:       ev.Topic,
				EventID:     ev.EventID,
				Source:      ev.Source,
				ProcessedAt: ev.ProcessedAt,
			})
		}
		c.JSON(http.StatusOK, out)
	})
}

// intQuery parses an optional integer query parameter.
func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

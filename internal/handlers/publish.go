package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aggrlabs/event-aggregator/internal/dedup"
	"github.com/aggrlabs/event-aggregator/internal/models"
	"github.com/aggrlabs/event-aggregator/internal/store"
)

// Publisher is the decision layer behind the ingestion endpoints.
type Publisher interface {
	Process(ctx context.Context, ev models.Event) (dedup.Status, error)
}

// RegisterPublishRoutes registers the ingestion-path endpoints.
//
// POST /publish
// - Durable: returns success only after the commit transaction completes
// - Idempotent: duplicates detected via the (topic, event_id) constraint
// POST /publish/batch
// - Same semantics per event, 1..MaxBatchSize events per request
func RegisterPublishRoutes(r gin.IRoutes, pub Publisher) {
	r.POST("/publish", func(c *gin.Context) {
		var ev models.Event
		if err := c.ShouldBindJSON(&ev); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}

		status, err := pub.Process(c.Request.Context(), ev)
		if err != nil {
			writePublishError(c, err)
			return
		}

		// 201 for new events, 200 for duplicates (idempotent success).
		code := http.StatusCreated
		if status == dedup.StatusDuplicate {
			code = http.StatusOK
		}
		c.JSON(code, models.PublishResponse{
			Status:  string(status),
			Topic:   ev.Topic,
			EventID: ev.EventID,
		})
	})

	r.POST("/publish/batch", func(c *gin.Context) {
		var batch models.EventBatch
		if err := c.ShouldBindJSON(&batch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}
		if len(batch.Events) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "events must contain at least one event"})
			return
		}
		if len(batch.Events) > models.MaxBatchSize {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("events must contain at most %d events", models.MaxBatchSize),
			})
			return
		}

		// Reject the whole batch before touching storage if any event is
		// malformed; partial validation failures are confusing to retry.
		for i, ev := range batch.Events {
			if err := ev.Validate(); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": fmt.Sprintf("events[%d]: %s", i, err.Error()),
				})
				return
			}
		}

		resp := models.BatchPublishResponse{Results: make([]models.PublishResponse, 0, len(batch.Events))}
		for _, ev := range batch.Events {
			status, err := pub.Process(c.Request.Context(), ev)
			if err != nil {
				writePublishError(c, err)
				return
			}
			resp.Accepted++
			resp.Results = append(resp.Results, models.PublishResponse{
				Status:  string(status),
				Topic:   ev.Topic,
				EventID: ev.EventID,
			})
		}
		c.JSON(http.StatusOK, resp)
	})
}

// writePublishError maps engine errors onto the response taxonomy:
// invalid input → 400, exhausted storage retries → 503, anything else → 500.
func writePublishError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidEvent):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable, retry later"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

package api

import (
	"io"
	"net/http"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/pingone-bulk-console/internal/models"
	"github.com/pingone-bulk-console/internal/service"
)

// ProgressHandler serves the server-push progress stream
type ProgressHandler struct {
	services *service.Services
	log      zerolog.Logger
}

// NewProgressHandler creates a new ProgressHandler
func NewProgressHandler(services *service.Services, log zerolog.Logger) *ProgressHandler {
	return &ProgressHandler{
		services: services,
		log:      log.With().Str("handler", "progress").Logger(),
	}
}

// Stream handles GET /v1/progress/:operation_id as an SSE stream of
// ProgressEvent payloads (`data: <json>` framing). The stream is torn down
// when the operation reaches a terminal state or the connection closes.
func (h *ProgressHandler) Stream(c *gin.Context) {
	operationID := c.Param("operation_id")
	if _, ok := h.services.Operations.Get(operationID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "operation not found"})
		return
	}

	ch := h.services.Progress.Subscribe(c.Request.Context(), operationID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	writeEvent(c.Writer, models.ProgressEvent{Type: models.ProgressConnected})
	c.Writer.Flush()

	// Late subscriber: the snapshot is taken after Subscribe, so an
	// operation that finished in between is still caught here and its
	// terminal event replayed instead of waiting on a closed channel
	if op, ok := h.services.Operations.Get(operationID); ok && op.Terminal() {
		writeEvent(c.Writer, terminalEvent(op))
		c.Writer.Flush()
		return
	}

	h.log.Debug().Str("operation_id", operationID).Msg("Progress stream opened")

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case event, open := <-ch:
			if !open {
				return false
			}
			writeEvent(w, event)
			return event.Type != models.ProgressComplete && event.Type != models.ProgressError
		case <-clientGone:
			return false
		}
	})

	h.log.Debug().Str("operation_id", operationID).Msg("Progress stream closed")
}

func writeEvent(w io.Writer, event models.ProgressEvent) {
	// sse.Event with no Event name emits the bare `data: <json>` framing
	sse.Encode(w, sse.Event{Data: event})
}

// terminalEvent synthesizes the final event from a finished operation
func terminalEvent(op *models.Operation) models.ProgressEvent {
	event := models.ProgressEvent{Type: models.ProgressComplete}
	if op.Status == models.OperationStatusFailed {
		event.Type = models.ProgressError
		event.Message = op.Error
	}
	if op.Summary != nil {
		event.Current = op.Summary.Total
		event.Total = op.Summary.Total
		event.SuccessCount = op.Summary.SuccessCount
		event.ErrorCount = op.Summary.ErrorCount
		event.SkippedCount = op.Summary.SkippedCount
	}
	return event
}

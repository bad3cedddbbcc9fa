package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"sceneforge/internal/logging"
	"sceneforge/internal/task"
)

const sseHeartbeatInterval = 15 * time.Second

// SSEHandler streams task events over Server-Sent Events.
//
// Each frame carries the event's sequence number as its SSE id, so a
// reconnecting client resumes from Last-Event-ID (or the after_seq
// query parameter) without gaps. A cursor older than the server's
// retention window gets 410 Gone and must fall back to polling.
type SSEHandler struct {
	manager *task.Manager
	logger  logging.Logger
}

// NewSSEHandler creates the SSE endpoint handler.
func NewSSEHandler(manager *task.Manager) *SSEHandler {
	return &SSEHandler{
		manager: manager,
		logger:  logging.NewComponentLogger("SSEHandler"),
	}
}

// HandleStream serves GET /api/v1/tasks/:id/events.
func (h *SSEHandler) HandleStream(c *gin.Context) {
	taskID := c.Param("id")

	afterSeq, err := resumeCursor(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	events, err := h.manager.Subscribe(c.Request.Context(), taskID, afterSeq)
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, task.ErrSeqTruncated):
		c.JSON(http.StatusGone, gin.H{"error": "events before the requested cursor were evicted; poll the task status instead"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.Flush()

	h.logger.Info("SSE stream open task=%s after_seq=%d", taskID, afterSeq)

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				// Terminal event delivered, subscriber fell behind, or
				// the task context ended. Either way the stream is over.
				return
			}
			if err := writeSSEEvent(c.Writer, event); err != nil {
				h.logger.Debug("SSE write failed task=%s: %v", taskID, err)
				return
			}
			c.Writer.Flush()
			if event.Kind.Terminal() {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(c.Writer, ": heartbeat\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

// resumeCursor resolves the subscriber's cursor: the after_seq query
// parameter wins, then the standard Last-Event-ID reconnect header.
func resumeCursor(c *gin.Context) (uint64, error) {
	raw := c.Query("after_seq")
	if raw == "" {
		raw = c.GetHeader("Last-Event-ID")
	}
	if raw == "" {
		return 0, nil
	}
	cursor, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid event cursor %q", raw)
	}
	return cursor, nil
}

func writeSSEEvent(w http.ResponseWriter, event task.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Seq, event.Kind, data)
	return err
}

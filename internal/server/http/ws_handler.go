package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"sceneforge/internal/logging"
	"sceneforge/internal/task"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// WSHandler streams task events over a WebSocket as JSON frames. It
// carries the same per-task event log as the SSE endpoint, so clients
// pick whichever transport suits them.
type WSHandler struct {
	manager  *task.Manager
	upgrader websocket.Upgrader
	logger   logging.Logger
}

// NewWSHandler creates the WebSocket endpoint handler. originCheck
// decides which Origin headers may upgrade; nil allows all.
func NewWSHandler(manager *task.Manager, originCheck func(r *http.Request) bool) *WSHandler {
	if originCheck == nil {
		originCheck = func(*http.Request) bool { return true }
	}
	return &WSHandler{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originCheck,
		},
		logger: logging.NewComponentLogger("WSHandler"),
	}
}

// HandleStream serves GET /api/v1/tasks/:id/ws.
func (h *WSHandler) HandleStream(c *gin.Context) {
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

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed task=%s: %v", taskID, err)
		return
	}
	defer conn.Close()

	h.logger.Info("websocket open task=%s after_seq=%d", taskID, afterSeq)

	// Drain client frames so pongs and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				h.closeGracefully(conn, "stream ended")
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug("websocket write failed task=%s: %v", taskID, err)
				return
			}
			if event.Kind.Terminal() {
				h.closeGracefully(conn, "task finished")
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (h *WSHandler) closeGracefully(conn *websocket.Conn, reason string) {
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage, message)
}

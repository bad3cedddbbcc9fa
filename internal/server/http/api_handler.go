package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"sceneforge/internal/logging"
	"sceneforge/internal/pipeline"
	"sceneforge/internal/task"
)

const maxTopicBytes = 4 * 1024

// PipelineRunner executes one generation run to its terminal result.
// *pipeline.Orchestrator satisfies it; tests substitute fakes.
type PipelineRunner interface {
	Run(ctx context.Context, runID string, req pipeline.Request, rep pipeline.Reporter) (*pipeline.Result, error)
}

// APIHandler serves the task-facing JSON endpoints.
type APIHandler struct {
	manager  *task.Manager
	runner   PipelineRunner
	defaults pipeline.Request
	logger   logging.Logger
}

// NewAPIHandler wires the task manager and pipeline runner together.
// defaults supplies max_retries, quality, and stage timeouts for
// submissions that omit them.
func NewAPIHandler(manager *task.Manager, runner PipelineRunner, defaults pipeline.Request) *APIHandler {
	return &APIHandler{
		manager:  manager,
		runner:   runner,
		defaults: defaults,
		logger:   logging.NewComponentLogger("APIHandler"),
	}
}

type submitRequest struct {
	Topic        string   `json:"topic" binding:"required"`
	Requirements []string `json:"requirements"`
	Audience     string   `json:"audience"`
	Style        string   `json:"style"`
	MaxRetries   *int     `json:"max_retries"`
	Quality      string   `json:"quality"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// HandleSubmit accepts a topic, enqueues a pipeline run, and returns
// its task ID without waiting for the run to start.
func (h *APIHandler) HandleSubmit(c *gin.Context) {
	var body submitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	body.Topic = strings.TrimSpace(body.Topic)
	if body.Topic == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "topic must not be empty"})
		return
	}
	if len(body.Topic) > maxTopicBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "topic too long"})
		return
	}

	req := h.defaults
	req.Topic = body.Topic
	req.Requirements = body.Requirements
	req.Audience = body.Audience
	req.Style = body.Style
	if body.MaxRetries != nil {
		if *body.MaxRetries < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "max_retries must be >= 0"})
			return
		}
		req.MaxRetries = *body.MaxRetries
	}
	if body.Quality != "" {
		req.Quality = body.Quality
	}

	id, err := h.manager.Submit("pipeline", func(ctx context.Context, taskID string, rep task.Reporter) (any, error) {
		res, err := h.runner.Run(ctx, taskID, req, rep)
		if err != nil {
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		if errors.Is(err, task.ErrManagerClosed) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server is shutting down"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.logger.Info("submitted task %s topic=%q", id, req.Topic)
	c.JSON(http.StatusAccepted, submitResponse{TaskID: id, Status: string(task.StatusQueued)})
}

// HandleStatus returns the current snapshot of one task.
func (h *APIHandler) HandleStatus(c *gin.Context) {
	snapshot, err := h.manager.Status(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// HandleList returns task snapshots, newest first, paginated by
// limit/offset query parameters.
func (h *APIHandler) HandleList(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 50)
	offset := parseIntQuery(c, "offset", 0)
	if limit < 0 || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit and offset must be >= 0"})
		return
	}

	snapshots, total := h.manager.List(limit, offset)
	c.JSON(http.StatusOK, gin.H{
		"tasks":  snapshots,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// HandleCancel requests cancellation of a task. Cancelling a terminal
// task is a no-op success.
func (h *APIHandler) HandleCancel(c *gin.Context) {
	id := c.Param("id")
	if err := h.manager.Cancel(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": id, "cancelled": true})
}

func parseIntQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return value
}

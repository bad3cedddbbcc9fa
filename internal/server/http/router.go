package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"sceneforge/internal/logging"
	"sceneforge/internal/observability"
	"sceneforge/internal/pipeline"
	"sceneforge/internal/task"
)

// RouterConfig carries everything the router needs beyond the handlers.
type RouterConfig struct {
	AllowedOrigins []string
	Defaults       pipeline.Request
	Metrics        *observability.MetricsCollector
	Logger         logging.Logger
	Version        string
}

// NewRouter assembles the full HTTP surface: the task API, the two
// streaming transports, health, and the metrics scrape endpoint.
func NewRouter(manager *task.Manager, runner PipelineRunner, cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogger(cfg.Logger))
	engine.Use(MetricsMiddleware(cfg.Metrics))
	engine.Use(corsMiddleware(cfg.AllowedOrigins))

	apiHandler := NewAPIHandler(manager, runner, cfg.Defaults)
	sseHandler := NewSSEHandler(manager)
	wsHandler := NewWSHandler(manager, originChecker(cfg.AllowedOrigins))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": cfg.Version,
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})

	if cfg.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	v1 := engine.Group("/api/v1")
	{
		v1.POST("/tasks", apiHandler.HandleSubmit)
		v1.GET("/tasks", apiHandler.HandleList)
		v1.GET("/tasks/:id", apiHandler.HandleStatus)
		v1.POST("/tasks/:id/cancel", apiHandler.HandleCancel)
		v1.GET("/tasks/:id/events", sseHandler.HandleStream)
		v1.GET("/tasks/:id/ws", wsHandler.HandleStream)
	}

	return engine
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Last-Event-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if allowsAll(allowedOrigins) {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func originChecker(allowedOrigins []string) func(r *http.Request) bool {
	if allowsAll(allowedOrigins) {
		return nil
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[strings.ToLower(origin)] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := strings.ToLower(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

func allowsAll(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}

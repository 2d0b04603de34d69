// Package httpapi exposes the todo service over REST.
package httpapi

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"todo-miniapp/internal/service"
)

const headerRequestID = "X-Request-ID"

// NewRouter wires the todo routes. Any origin may call them: the web client is
// served from elsewhere and there is no auth.
func NewRouter(svc *service.TodoService, logger *log.Logger) *gin.Engine {
	r := gin.New()
	r.Use(requestID(), accessLog(logger.WithPrefix("http")), gin.Recovery())
	r.Use(cors.New(corsConfig()))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	h := NewTodoHandler(svc, logger.WithPrefix("http"))
	registerTodoRoutes(r, h)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "not found"})
	})
	return r
}

func registerTodoRoutes(r gin.IRoutes, h *TodoHandler) {
	r.GET("/todos", h.List)
	r.POST("/todos", h.Create)
	r.PUT("/todos/:id", h.Update)
	r.DELETE("/todos/:id", h.Delete)
}

func corsConfig() cors.Config {
	return cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"},
		AllowHeaders:    []string{"*"},
		ExposeHeaders:   []string{headerRowsAffected, headerRequestID},
		MaxAge:          12 * time.Hour,
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

func accessLog(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		status := c.Writer.Status()
		kv := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"took", time.Since(started).Round(time.Microsecond),
			"rid", c.GetString("request_id"),
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request", kv...)
		case status >= http.StatusBadRequest:
			logger.Warn("request", kv...)
		default:
			logger.Info("request", kv...)
		}
	}
}

package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter crea el engine con recuperación de pánicos y log de accesos.
func NewRouter(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), accessLog(log))
	return r
}

// RegisterRoutes registra las rutas HTTP del relay.
func RegisterRoutes(r *gin.Engine, handler *EventHandler) {
	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	r.GET("/readyz", handler.Ready)

	v1 := r.Group("/v1")
	{
		v1.POST("/events", handler.SubmitEvent)       // Encolar un evento
		v1.POST("/events/batch", handler.SubmitBatch) // Encolar un lote (todo o nada)
		v1.GET("/aggregates/:id/events", handler.ListAggregateEvents)
		v1.GET("/outbox/health", handler.OutboxHealth)
		if handler.trends != nil {
			v1.GET("/outbox/deliveries", handler.DeliveryTrends)
		}
	}
}

func accessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= 500 {
			log.Warn("HTTP request", fields...)
			return
		}
		log.Debug("HTTP request", fields...)
	}
}

package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/internal/outbox/application"
	"github.com/davicafu/eventrelay/internal/outbox/domain"
	"github.com/davicafu/eventrelay/internal/shared/events"
	"github.com/davicafu/eventrelay/pkg/utils"
)

const (
	maxSingleBody = 2 << 20
	maxBatchBody  = 16 << 20
	maxListLimit  = 1000
)

// Ingestor es la parte del servicio de ingesta que expone HTTP.
type Ingestor interface {
	Submit(ctx context.Context, req application.SubmitRequest) (application.SubmitResult, error)
	SubmitBatch(ctx context.Context, reqs []application.SubmitRequest) ([]application.SubmitResult, error)
}

type HealthReporter interface {
	Snapshot(ctx context.Context) (domain.HealthSnapshot, error)
}

// ReadyCheck devuelve nil si la dependencia está disponible.
type ReadyCheck func(ctx context.Context) error

// EventHandler encapsula los endpoints HTTP de ingesta, auditoría y salud.
type EventHandler struct {
	ingestor Ingestor
	audit    domain.AuditReader
	health   HealthReporter
	trends   domain.DeliveryTrendReader // opcional
	checks   map[string]ReadyCheck
	log      *zap.Logger
}

func NewEventHandler(ingestor Ingestor, audit domain.AuditReader, health HealthReporter, log *zap.Logger) *EventHandler {
	return &EventHandler{
		ingestor: ingestor,
		audit:    audit,
		health:   health,
		checks:   make(map[string]ReadyCheck),
		log:      log,
	}
}

// WithDeliveryTrends habilita GET /v1/outbox/deliveries.
func (h *EventHandler) WithDeliveryTrends(r domain.DeliveryTrendReader) *EventHandler {
	h.trends = r
	return h
}

// WithReadyCheck añade una dependencia a /readyz.
func (h *EventHandler) WithReadyCheck(name string, check ReadyCheck) *EventHandler {
	h.checks[name] = check
	return h
}

type submitRequest struct {
	EventType     string          `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	Payload       json.RawMessage `json:"payload"`
	Priority      *int            `json:"priority,omitempty"`
	SchemaVersion int             `json:"schema_version,omitempty"`
}

// toApp aplica la prioridad por defecto (normal) cuando no se envía.
func (r submitRequest) toApp() application.SubmitRequest {
	priority := int(events.PriorityNormal)
	if r.Priority != nil {
		priority = *r.Priority
	}
	return application.SubmitRequest{
		EventType:     r.EventType,
		AggregateID:   r.AggregateID,
		Payload:       r.Payload,
		Priority:      priority,
		SchemaVersion: r.SchemaVersion,
	}
}

// SubmitEvent endpoint POST /v1/events
func (h *EventHandler) SubmitEvent(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSingleBody)

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	res, err := h.ingestor.Submit(c.Request.Context(), req.toApp())
	if err != nil {
		h.sendIngestError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

// SubmitBatch endpoint POST /v1/events/batch
func (h *EventHandler) SubmitBatch(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBatchBody)

	var req struct {
		Events []submitRequest `json:"events"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	reqs := make([]application.SubmitRequest, 0, len(req.Events))
	for _, e := range req.Events {
		reqs = append(reqs, e.toApp())
	}

	results, err := h.ingestor.SubmitBatch(c.Request.Context(), reqs)
	if err != nil {
		h.sendIngestError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"results": results})
}

func (h *EventHandler) sendIngestError(c *gin.Context, err error) {
	if application.IsInvalidArgument(err) {
		utils.SendBadRequest(c, err.Error())
		return
	}
	h.log.Error("❌ Error de ingesta", zap.Error(err))
	utils.SendInternalServerError(c, "event could not be stored")
}

// ListAggregateEvents endpoint GET /v1/aggregates/:id/events
func (h *EventHandler) ListAggregateEvents(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil || id == uuid.Nil {
		utils.SendBadRequest(c, "invalid aggregate id")
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 1 || limit > maxListLimit {
		utils.SendBadRequest(c, "limit must be between 1 and "+strconv.Itoa(maxListLimit))
		return
	}

	envs, err := h.audit.ListByAggregate(c.Request.Context(), id, c.Query("event_type"), limit)
	if err != nil {
		h.log.Error("❌ Error listando eventos del agregado", zap.String("aggregate_id", id.String()), zap.Error(err))
		utils.SendInternalServerError(c, "could not list events")
		return
	}
	if envs == nil {
		envs = []domain.Envelope{}
	}
	c.JSON(http.StatusOK, gin.H{"events": envs})
}

type healthResponse struct {
	Status                  domain.HealthStatus `json:"status"`
	PendingCount            int64               `json:"pending_count"`
	OldestPendingAge        string              `json:"oldest_pending_age"`
	OldestPendingAgeSeconds float64             `json:"oldest_pending_age_seconds"`
	FailedCount             int64               `json:"failed_count"`
	CheckedAt               time.Time           `json:"checked_at"`
}

// OutboxHealth endpoint GET /v1/outbox/health. Responde 503 en estado crítico.
func (h *EventHandler) OutboxHealth(c *gin.Context) {
	snap, err := h.health.Snapshot(c.Request.Context())
	if err != nil {
		h.log.Error("❌ Error obteniendo salud del outbox", zap.Error(err))
		utils.SendServiceUnavailable(c, "outbox health unavailable")
		return
	}

	code := http.StatusOK
	if snap.Status == domain.StatusCritical {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, healthResponse{
		Status:                  snap.Status,
		PendingCount:            snap.PendingCount,
		OldestPendingAge:        snap.OldestPendingAge.Round(time.Millisecond).String(),
		OldestPendingAgeSeconds: snap.OldestPendingAge.Seconds(),
		FailedCount:             snap.FailedCount,
		CheckedAt:               snap.CheckedAt,
	})
}

// DeliveryTrends endpoint GET /v1/outbox/deliveries?from=...&to=... (RFC3339)
func (h *EventHandler) DeliveryTrends(c *gin.Context) {
	to := time.Now().UTC()
	from := to.Add(-7 * 24 * time.Hour)

	var err error
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			utils.SendBadRequest(c, "from must be RFC3339")
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			utils.SendBadRequest(c, "to must be RFC3339")
			return
		}
	}
	if !from.Before(to) {
		utils.SendBadRequest(c, "from must be before to")
		return
	}

	trends, err := h.trends.DailyTrend(c.Request.Context(), from, to)
	if err != nil {
		h.log.Error("❌ Error consultando tendencias de entrega", zap.Error(err))
		utils.SendInternalServerError(c, "could not query delivery trends")
		return
	}
	if trends == nil {
		trends = []domain.DeliveryTrend{}
	}
	c.JSON(http.StatusOK, gin.H{"trends": trends})
}

// Ready endpoint GET /readyz
func (h *EventHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	failing := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "failing": failing})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

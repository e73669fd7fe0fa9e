package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/internal/outbox/domain"
	"github.com/davicafu/eventrelay/internal/shared/events"
)

// StatusQueued es la única respuesta de éxito: el sobre está guardado, no publicado.
const StatusQueued = "QUEUED"

// MaxBatchSize limita SubmitBatch.
const MaxBatchSize = 500

// SchemaValidator es la parte del Schema Registry que usa la ingesta.
type SchemaValidator interface {
	Validate(eventType string, version int, payload []byte) (int, error)
}

type SubmitRequest struct {
	EventType     string
	AggregateID   string
	Payload       []byte
	Priority      int
	SchemaVersion int // 0 = última versión registrada
}

type SubmitResult struct {
	EventID uuid.UUID `json:"event_id"`
	Status  string    `json:"status"`
}

// IngestionService acepta eventos de productores externos y los deja en el outbox.
type IngestionService struct {
	repo     domain.EnvelopeWriter
	registry SchemaValidator
	log      *zap.Logger
	now      func() time.Time
}

func NewIngestionService(repo domain.EnvelopeWriter, registry SchemaValidator, log *zap.Logger) *IngestionService {
	return &IngestionService{repo: repo, registry: registry, log: log, now: time.Now}
}

// Submit valida y persiste un evento. Con error no se escribe nada.
func (s *IngestionService) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	env, err := s.build(req)
	if err != nil {
		s.log.Debug("Evento rechazado en ingesta", zap.String("event_type", req.EventType), zap.Error(err))
		return SubmitResult{}, err
	}

	if err := s.repo.Insert(ctx, env); err != nil {
		s.log.Error("❌ Error guardando evento en outbox",
			zap.String("event_id", env.ID.String()),
			zap.String("event_type", env.EventType),
			zap.Error(err))
		return SubmitResult{}, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	s.log.Debug("📥 Evento encolado",
		zap.String("event_id", env.ID.String()),
		zap.String("aggregate_id", env.AggregateID.String()),
		zap.String("event_type", env.EventType),
		zap.Int("priority", int(env.Priority)))
	return SubmitResult{EventID: env.ID, Status: StatusQueued}, nil
}

// SubmitBatch es todo o nada: si una petición es inválida no se inserta ninguna.
func (s *IngestionService) SubmitBatch(ctx context.Context, reqs []SubmitRequest) ([]SubmitResult, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: empty batch", domain.ErrInvalidArgument)
	}
	if len(reqs) > MaxBatchSize {
		return nil, fmt.Errorf("%w: batch exceeds %d events", domain.ErrInvalidArgument, MaxBatchSize)
	}

	envs := make([]*domain.Envelope, 0, len(reqs))
	for i, req := range reqs {
		env, err := s.build(req)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		envs = append(envs, env)
	}

	if err := s.repo.InsertBatch(ctx, envs); err != nil {
		s.log.Error("❌ Error guardando lote en outbox", zap.Int("size", len(envs)), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	results := make([]SubmitResult, len(envs))
	for i, env := range envs {
		results[i] = SubmitResult{EventID: env.ID, Status: StatusQueued}
	}
	s.log.Debug("📥 Lote encolado", zap.Int("size", len(envs)))
	return results, nil
}

func (s *IngestionService) build(req SubmitRequest) (*domain.Envelope, error) {
	eventType := strings.TrimSpace(req.EventType)
	if eventType == "" {
		return nil, fmt.Errorf("%w: event_type is required", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(req.AggregateID) == "" {
		return nil, fmt.Errorf("%w: aggregate_id is required", domain.ErrInvalidArgument)
	}
	aggregateID, err := uuid.Parse(req.AggregateID)
	if err != nil || aggregateID == uuid.Nil {
		return nil, fmt.Errorf("%w: aggregate_id must be a non-nil UUID", domain.ErrInvalidArgument)
	}
	if len(req.Payload) == 0 {
		return nil, fmt.Errorf("%w: payload is required", domain.ErrInvalidArgument)
	}
	if !json.Valid(req.Payload) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", domain.ErrInvalidArgument)
	}
	priority, err := events.ParsePriority(req.Priority)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}

	version, err := s.registry.Validate(eventType, req.SchemaVersion, req.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}

	payload := append(json.RawMessage(nil), req.Payload...)
	return domain.NewEnvelope(aggregateID, eventType, payload, priority, version, s.now())
}

// IsInvalidArgument indica si el error es un rechazo de validación.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, domain.ErrInvalidArgument)
}

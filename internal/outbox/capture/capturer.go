package capture

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/internal/outbox/domain"
	"github.com/davicafu/eventrelay/internal/shared/events"
)

const savepoint = "outbox_capture"

// TxInserter lo implementan los repositorios SQL del outbox.
type TxInserter interface {
	InsertTx(ctx context.Context, tx *sql.Tx, env *domain.Envelope) error
}

// Capturer añade el envelope de un evento dentro de la transacción de
// negocio del llamante.
type Capturer struct {
	inserter TxInserter
	log      *zap.Logger
	now      func() time.Time
}

func NewCapturer(inserter TxInserter, log *zap.Logger) *Capturer {
	return &Capturer{inserter: inserter, log: log, now: time.Now}
}

// Append inserta el evento bajo un SAVEPOINT. Si la inserción falla se
// vuelve al savepoint, se registra el fallo y se devuelve nil para que la
// transacción de negocio pueda confirmarse igualmente. Sólo devuelve error
// si la propia transacción queda inutilizable.
func (c *Capturer) Append(ctx context.Context, tx *sql.Tx, evt events.DomainEvent) error {
	env, err := domain.FromDomainEvent(evt, c.now())
	if err != nil {
		c.log.Error("❌ Evento no capturable",
			zap.String("event_type", evt.EventType()),
			zap.String("aggregate_id", evt.AggregateID().String()),
			zap.Error(err))
		return nil
	}

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
		c.log.Error("❌ No se pudo abrir el savepoint de captura",
			zap.String("event_id", env.ID.String()),
			zap.Error(err))
		return nil
	}

	if err := c.inserter.InsertTx(ctx, tx, env); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
			return fmt.Errorf("rollback capture savepoint: %w", rbErr)
		}
		c.log.Error("❌ Fallo capturando evento en el outbox, se continúa sin él",
			zap.String("event_id", env.ID.String()),
			zap.String("event_type", env.EventType),
			zap.String("aggregate_id", env.AggregateID.String()),
			zap.Error(err))
		return nil
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
		return fmt.Errorf("release capture savepoint: %w", err)
	}
	c.log.Debug("📝 Evento capturado",
		zap.String("event_id", env.ID.String()),
		zap.String("event_type", env.EventType))
	return nil
}

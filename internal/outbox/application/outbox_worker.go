package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/internal/outbox/domain"
	"github.com/davicafu/eventrelay/internal/shared/infra/platform/bus"
)

const (
	maxErrorLen          = 1024
	deliveryAuditTimeout = 2 * time.Second
)

type WorkerConfig struct {
	Interval      time.Duration
	BatchSize     int
	SendTimeout   time.Duration
	ShutdownGrace time.Duration
	TopicPrefix   string
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Interval <= 0 {
		c.Interval = 100 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 5 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 10 * time.Second
	}
	return c
}

type WorkerOption func(*Worker)

// WithDeliveryRecorder guarda cada intento de envío en un log de auditoría.
func WithDeliveryRecorder(r domain.DeliveryRecorder) WorkerOption {
	return func(w *Worker) { w.recorder = r }
}

// WithLease hace que el worker solo publique mientras tenga la lease.
func WithLease(l domain.Lease) WorkerOption {
	return func(w *Worker) { w.lease = l }
}

func WithClock(now func() time.Time) WorkerOption {
	return func(w *Worker) { w.now = now }
}

// WithMeter sustituye el Meter global de otel.
func WithMeter(m metric.Meter) WorkerOption {
	return func(w *Worker) { w.meter = m }
}

// CycleResult resume una vuelta del bucle.
type CycleResult struct {
	Selected  int
	Published int
	Failed    int
	Skipped   int  // no enviados: un envío anterior del mismo agregado falló o se agotó el margen de apagado
	Standby   bool // otra instancia tiene la lease
}

// Worker es el Publisher: el único proceso que marca sobres como publicados o fallidos.
type Worker struct {
	repo      domain.OutboxRepository
	publisher bus.EventBus
	cfg       WorkerConfig
	log       *zap.Logger
	recorder  domain.DeliveryRecorder
	lease     domain.Lease
	now       func() time.Time
	meter     metric.Meter
	metrics   workerMetrics

	published atomic.Int64
	failed    atomic.Int64
}

func NewOutboxWorker(repo domain.OutboxRepository, publisher bus.EventBus, cfg WorkerConfig, log *zap.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg.withDefaults(),
		log:       log,
		now:       time.Now,
		meter:     defaultMeter(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.metrics = newWorkerMetrics(w.meter, log)
	return w
}

// Start ejecuta el bucle de polling hasta que ctx se cancela. Tras la
// cancelación no empieza ningún lote nuevo; el lote en curso dispone de
// ShutdownGrace para terminar.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info("🚀 Outbox worker iniciado",
		zap.Duration("interval", w.cfg.Interval),
		zap.Int("batch_size", w.cfg.BatchSize))

	defer w.releaseLease(ctx)

	for {
		if ctx.Err() != nil {
			w.log.Info("🛑 Outbox worker detenido",
				zap.Int64("published_total", w.published.Load()),
				zap.Int64("failed_total", w.failed.Load()))
			return
		}

		res, err := w.ProcessBatch(ctx)
		if err == nil && res.Published > 0 {
			// Hay backlog y el broker responde: siguiente lote sin esperar.
			continue
		}
		sleep(ctx, w.cfg.Interval)
	}
}

// ProcessBatch selecciona un lote, lo envía y registra el resultado de cada sobre.
func (w *Worker) ProcessBatch(ctx context.Context) (CycleResult, error) {
	if w.lease != nil {
		held, err := w.lease.Acquire(ctx)
		if err != nil {
			w.log.Warn("⚠️ No se pudo comprobar la lease del publisher", zap.Error(err))
			return CycleResult{}, fmt.Errorf("acquire lease: %w", err)
		}
		if !held {
			return CycleResult{Standby: true}, nil
		}
	}

	envs, err := w.repo.FetchPending(ctx, w.cfg.BatchSize)
	if err != nil {
		w.log.Warn("⚠️ Error al obtener eventos pendientes", zap.Error(err))
		return CycleResult{}, fmt.Errorf("fetch pending: %w", err)
	}
	if len(envs) == 0 {
		return CycleResult{}, nil
	}
	w.log.Debug("📬 Eventos pendientes seleccionados", zap.Int("count", len(envs)))

	runCtx, stop := w.drainContext(ctx)
	defer stop()

	outcomes := w.sendGroups(runCtx, groupByAggregate(envs))
	res := w.collect(runCtx, outcomes)
	res.Selected = len(envs)

	w.published.Add(int64(res.Published))
	w.failed.Add(int64(res.Failed))
	w.metrics.record(context.WithoutCancel(ctx), res)

	if res.Failed > 0 || res.Skipped > 0 {
		w.log.Warn("⚠️ Lote con fallos",
			zap.Int("selected", res.Selected),
			zap.Int("published", res.Published),
			zap.Int("failed", res.Failed),
			zap.Int("skipped", res.Skipped))
	} else {
		w.log.Info("✅ Lote publicado", zap.Int("published", res.Published))
	}
	return res, nil
}

// Totals devuelve los contadores acumulados desde el arranque.
func (w *Worker) Totals() (published, failed int64) {
	return w.published.Load(), w.failed.Load()
}

type outcome struct {
	env     domain.Envelope
	topic   string
	err     error
	latency time.Duration
	sent    bool
}

// sendGroups envía cada agregado en su propia goroutine; dentro del agregado
// los envíos son secuenciales y el primer fallo detiene el resto del grupo.
func (w *Worker) sendGroups(ctx context.Context, groups [][]domain.Envelope) []outcome {
	results := make([][]outcome, len(groups))

	var wg sync.WaitGroup
	for i, group := range groups {
		wg.Add(1)
		go func(i int, group []domain.Envelope) {
			defer wg.Done()
			out := make([]outcome, 0, len(group))
			blocked := false
			for _, env := range group {
				topic := env.Topic(w.cfg.TopicPrefix)
				if blocked || ctx.Err() != nil {
					out = append(out, outcome{env: env, topic: topic})
					continue
				}
				start := time.Now()
				err := w.send(ctx, &env, topic)
				out = append(out, outcome{env: env, topic: topic, err: err, latency: time.Since(start), sent: true})
				blocked = err != nil
			}
			results[i] = out
		}(i, group)
	}
	wg.Wait()

	var flat []outcome
	for _, r := range results {
		flat = append(flat, r...)
	}
	return flat
}

func (w *Worker) send(ctx context.Context, env *domain.Envelope, topic string) error {
	wire := env.Wire()
	value, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
	defer cancel()

	return w.publisher.Publish(sendCtx, bus.NewMessage(topic, env, value, wire.Headers()))
}

// collect escribe published_at solo para los envíos confirmados por el broker.
func (w *Worker) collect(ctx context.Context, outcomes []outcome) CycleResult {
	var res CycleResult
	attempts := make([]domain.DeliveryAttempt, 0, len(outcomes))

	for _, o := range outcomes {
		id := o.env.ID
		fields := []zap.Field{
			zap.String("event_id", id.String()),
			zap.String("aggregate_id", o.env.AggregateID.String()),
			zap.String("event_type", o.env.EventType),
			zap.String("topic", o.topic),
		}

		switch {
		case !o.sent:
			res.Skipped++
			continue

		case o.err == nil:
			res.Published++
			if err := w.repo.MarkPublished(ctx, id, w.now()); err != nil {
				// Quedará pendiente y se reenviará: el consumidor lo deduplica.
				w.log.Warn("⚠️ No se pudo marcar evento como publicado", append(fields, zap.Error(err))...)
			} else {
				w.log.Debug("✅ Evento publicado y marcado", fields...)
			}

		case ctx.Err() != nil && errors.Is(o.err, context.Canceled):
			// Interrumpido por el apagado: no cuenta como intento fallido.
			res.Skipped++
			continue

		default:
			res.Failed++
			reason := truncate(o.err.Error(), maxErrorLen)
			if err := w.repo.MarkFailed(ctx, id, reason); err != nil {
				w.log.Warn("⚠️ No se pudo registrar el fallo del evento", append(fields, zap.Error(err))...)
			}
			w.log.Warn("⚠️ No se pudo publicar evento",
				append(fields, zap.Int("retry_count", o.env.RetryCount+1), zap.Error(o.err))...)
		}

		attempts = append(attempts, w.attemptFor(o))
	}

	w.record(ctx, attempts)
	return res
}

func (w *Worker) attemptFor(o outcome) domain.DeliveryAttempt {
	a := domain.DeliveryAttempt{
		EventID:     o.env.ID,
		AggregateID: o.env.AggregateID,
		EventType:   o.env.EventType,
		Topic:       o.topic,
		Priority:    int(o.env.Priority),
		Attempt:     o.env.RetryCount + 1,
		Success:     o.err == nil,
		LatencyMs:   o.latency.Milliseconds(),
		AttemptedAt: w.now().UTC(),
	}
	if o.err != nil {
		a.Error = truncate(o.err.Error(), maxErrorLen)
	}
	return a
}

func (w *Worker) record(ctx context.Context, attempts []domain.DeliveryAttempt) {
	if w.recorder == nil || len(attempts) == 0 {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, deliveryAuditTimeout)
	defer cancel()
	if err := w.recorder.RecordAttempts(rctx, attempts); err != nil {
		w.log.Warn("⚠️ No se pudo guardar la auditoría de entregas", zap.Int("attempts", len(attempts)), zap.Error(err))
	}
}

// drainContext devuelve un contexto que sobrevive a la cancelación de parent
// durante ShutdownGrace, para que el lote en curso pueda terminar.
func (w *Worker) drainContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stopWatch := context.AfterFunc(parent, func() {
		w.log.Info("⏳ Apagado solicitado, esperando al lote en curso", zap.Duration("grace", w.cfg.ShutdownGrace))
		timer := time.NewTimer(w.cfg.ShutdownGrace)
		defer timer.Stop()
		select {
		case <-timer.C:
			w.log.Warn("⌛ Margen de apagado agotado, se abandona el lote")
			cancel()
		case <-ctx.Done():
		}
	})
	return ctx, func() {
		stopWatch()
		cancel()
	}
}

func (w *Worker) releaseLease(ctx context.Context) {
	if w.lease == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := w.lease.Release(rctx); err != nil {
		w.log.Warn("⚠️ No se pudo liberar la lease del publisher", zap.Error(err))
	}
}

// groupByAggregate agrupa por clave de partición conservando el orden de
// selección entre grupos; dentro de cada grupo ordena por creación.
func groupByAggregate(envs []domain.Envelope) [][]domain.Envelope {
	index := make(map[string]int)
	var groups [][]domain.Envelope
	for _, env := range envs {
		key := env.PartitionKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], env)
	}
	for _, g := range groups {
		sortByCreation(g)
	}
	return groups
}

func sortByCreation(g []domain.Envelope) {
	sort.SliceStable(g, func(i, j int) bool { return createdBefore(&g[i], &g[j]) })
}

func createdBefore(a, b *domain.Envelope) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}

// sleep espera d o hasta que ctx se cancele.
func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// truncate recorta a n bytes sin dejar UTF-8 inválido.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/internal/config"
	"github.com/davicafu/eventrelay/internal/outbox/application"
	"github.com/davicafu/eventrelay/internal/outbox/capture"
	"github.com/davicafu/eventrelay/internal/outbox/domain"
	grpcIn "github.com/davicafu/eventrelay/internal/outbox/infra/inbound/grpc"
	httpIn "github.com/davicafu/eventrelay/internal/outbox/infra/inbound/http"
	"github.com/davicafu/eventrelay/internal/outbox/infra/outbound/analytics/clickhouse"
	"github.com/davicafu/eventrelay/internal/outbox/infra/outbound/db/mongodb"
	"github.com/davicafu/eventrelay/internal/outbox/infra/outbound/db/postgres"
	"github.com/davicafu/eventrelay/internal/outbox/infra/outbound/db/sqlite"
	busOut "github.com/davicafu/eventrelay/internal/outbox/infra/outbound/events"
	"github.com/davicafu/eventrelay/internal/outbox/infra/outbound/lease"
	"github.com/davicafu/eventrelay/internal/schema"
	"github.com/davicafu/eventrelay/internal/shared/infra/kafkax"
	"github.com/davicafu/eventrelay/internal/shared/infra/platform/bus"
	"github.com/davicafu/eventrelay/internal/shared/infra/platform/cache"
	"github.com/davicafu/eventrelay/internal/shared/infra/utils"
	"github.com/davicafu/eventrelay/pkg/logger"
)

const startupAttempts = 5

// storage agrupa lo que main necesita del backend elegido.
type storage struct {
	store domain.Store
	sqlDB *sql.DB       // nil con MongoDB
	mongo *mongo.Client // nil con SQL
	ready httpIn.ReadyCheck
}

// ---------------- Main ----------------
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Init("info")
		logger.Logger().Fatal("❌ Configuración inválida", zap.Error(err))
	}

	logger.Init(cfg.LogLevel) // inicializa zap
	log := logger.Logger()    // obtiene logger estructurado
	defer logger.Sync()       // flush buffers al salir

	otel.SetTextMapPropagator(propagation.TraceContext{})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------- DB ----------------
	st, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal("❌ No se pudo abrir el almacenamiento del outbox", zap.String("driver", cfg.StorageDriver), zap.Error(err))
	}
	defer st.close(log)

	if err := st.store.EnsureSchema(ctx); err != nil {
		log.Fatal("❌ No se pudo crear el esquema del outbox", zap.Error(err))
	}

	// ---------------- Capture ----------------
	if cfg.CaptureSpecPath != "" {
		if err := installCapture(ctx, cfg, st, log); err != nil {
			log.Fatal("❌ No se pudieron instalar los triggers de captura", zap.Error(err))
		}
	}

	// ---------------- Cache / Redis ----------------
	var rdb *redis.Client
	var cacheInstance cache.Cache
	if cfg.UseRedis {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("⚠️ Redis no disponible, cache en memoria", zap.Error(err))
			_ = rdb.Close()
			rdb = nil
		}
	}
	if rdb != nil {
		defer rdb.Close()
		cacheInstance = cache.NewRedisCache(rdb, time.Duration(cfg.HealthCacheTTL)*time.Second)
		log.Info("✅ Redis conectado, cache habilitado")
	} else {
		mem := cache.NewInMemoryCache(time.Duration(cfg.HealthCacheTTL)*time.Second, time.Minute)
		defer mem.Stop()
		cacheInstance = mem
	}

	// ---------------- Events ---------------
	var publisher bus.EventBus
	var memBus *busOut.InMemoryEventBus
	if cfg.UseKafka {
		log.Info("🚀 Usando Kafka como bus de eventos", zap.Strings("brokers", cfg.KafkaBrokers))
		kp := busOut.NewKafkaPublisher(busOut.NewKafkaWriter(cfg.KafkaBrokers), log)
		defer kp.Close()
		publisher = kp
	} else {
		log.Info("⚡️Usando bus de eventos en memoria (canales de Go)")
		memBus = busOut.NewInMemoryEventBus()
		defer memBus.Close()
		publisher = memBus
	}

	// ---------------- Analytics ----------------
	var workerOpts []application.WorkerOption
	var trends domain.DeliveryTrendReader
	if cfg.ClickHouseAddr != "" {
		dl, err := clickhouse.NewDeliveryLog(ctx, cfg.ClickHouseAddr, cfg.ClickHouseDB)
		if err == nil {
			err = dl.InitSchema(ctx)
		}
		if err != nil {
			log.Warn("⚠️ ClickHouse no disponible, sin registro de entregas", zap.Error(err))
		} else {
			defer dl.Close()
			workerOpts = append(workerOpts, application.WithDeliveryRecorder(dl))
			trends = dl
			log.Info("📊 Registro de entregas en ClickHouse habilitado")
		}
	}

	// ---------------- Lease ----------------
	if cfg.PublisherLease {
		if rdb == nil {
			log.Fatal("❌ PUBLISHER_LEASE requiere Redis")
		}
		l, err := lease.NewRedisLease(rdb, cfg.PublisherLeaseKey, cfg.PublisherLeaseTTL)
		if err != nil {
			log.Fatal("❌ Lease inválido", zap.Error(err))
		}
		workerOpts = append(workerOpts, application.WithLease(l))
		log.Info("🔒 Publicación con lease exclusivo", zap.String("key", cfg.PublisherLeaseKey), zap.String("token", l.Token()))
	}

	// --------------- Servicios --------------
	registry := schema.DefaultRegistry()
	ingestion := application.NewIngestionService(st.store, registry, log)
	thresholds := domain.HealthThresholds{
		DegradedPending:  cfg.HealthDegradedPending,
		CriticalPending:  cfg.HealthCriticalPending,
		DegradedAge:      cfg.HealthDegradedAge,
		CriticalAge:      cfg.HealthCriticalAge,
		FailureThreshold: cfg.OutboxFailureThreshold,
	}
	monitor := application.NewHealthMonitor(st.store, thresholds, cacheInstance, cfg.HealthCacheTTL, log)
	if reg, err := monitor.RegisterMetrics(otel.Meter("github.com/davicafu/eventrelay/outbox")); err != nil {
		log.Warn("⚠️ No se pudieron registrar las métricas del outbox", zap.Error(err))
	} else {
		defer reg.Unregister()
	}

	// ------------ Outbox Worker ------------
	worker := application.NewOutboxWorker(st.store, publisher, application.WorkerConfig{
		Interval:      cfg.OutboxPeriod,
		BatchSize:     cfg.OutboxLimit,
		SendTimeout:   cfg.OutboxSendTimeout,
		ShutdownGrace: cfg.OutboxShutdownGrace,
		TopicPrefix:   cfg.TopicPrefix,
	}, log, workerOpts...)

	// ------------ Consumer ------------
	// Antes que el worker: el bus en memoria sólo entrega a quien ya está suscrito.
	var wg sync.WaitGroup
	if err := startConsumer(ctx, cfg, st, rdb, memBus, registry, log, &wg); err != nil {
		log.Fatal("❌ No se pudo iniciar el consumidor de referencia", zap.Error(err))
	}

	wg.Add(2)
	go func() { defer wg.Done(); worker.Start(ctx) }()
	go func() { defer wg.Done(); monitor.Start(ctx, cfg.HealthPeriod) }()

	// ---------------- HTTP ----------------
	handler := httpIn.NewEventHandler(ingestion, st.store, monitor, log).
		WithReadyCheck("storage", st.ready)
	if trends != nil {
		handler = handler.WithDeliveryTrends(trends)
	}
	if cfg.UseKafka {
		handler = handler.WithReadyCheck("kafka", kafkax.ReadyCheck(cfg.KafkaBrokers))
	}
	router := httpIn.NewRouter(log)
	httpIn.RegisterRoutes(router, handler)

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("🚀 Server running", zap.String("url", "http://localhost:"+cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("❌ Servidor HTTP caído", zap.Error(err))
			stop()
		}
	}()

	// ---------------- gRPC ----------------
	grpcServer := grpcIn.NewServer(ingestion, log)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		log.Fatal("❌ No se pudo abrir el puerto gRPC", zap.String("port", cfg.GRPCPort), zap.Error(err))
	}
	go func() {
		log.Info("🚀 gRPC server running", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("❌ Servidor gRPC caído", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("🛑 Señal recibida, apagando...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.OutboxShutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("⚠️ Cierre HTTP incompleto", zap.Error(err))
	}
	grpcServer.GracefulStop()

	// El worker termina su lote en curso dentro de su propio margen.
	wg.Wait()
	published, failed := worker.Totals()
	log.Info("👋 eventrelay detenido", zap.Int64("published_total", published), zap.Int64("failed_total", failed))
}

func openStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (*storage, error) {
	st := &storage{}
	var err error
	connect := func() error {
		switch cfg.StorageDriver {
		case config.StoragePostgres:
			st.sqlDB, err = postgres.Open(ctx, cfg.PostgresDSN)
		case config.StorageMongo:
			st.mongo, err = mongodb.Connect(ctx, cfg.MongoURI)
		default:
			st.sqlDB, err = sqlite.Open(ctx, cfg.SQLitePath)
		}
		if err != nil {
			log.Warn("⚠️ Almacenamiento no disponible, reintentando", zap.String("driver", cfg.StorageDriver), zap.Error(err))
		}
		return err
	}
	if err := utils.Retry(ctx, startupAttempts, time.Second, 10*time.Second, connect); err != nil {
		return nil, err
	}

	switch cfg.StorageDriver {
	case config.StoragePostgres:
		st.store = postgres.NewOutboxRepoPostgres(st.sqlDB)
	case config.StorageMongo:
		st.store = mongodb.NewOutboxRepoMongoDB(st.mongo, cfg.MongoDB)
	default:
		st.store = sqlite.NewOutboxRepoSQLite(st.sqlDB)
	}

	if st.mongo != nil {
		client := st.mongo
		st.ready = func(ctx context.Context) error { return client.Ping(ctx, readpref.Primary()) }
	} else {
		db := st.sqlDB
		st.ready = db.PingContext
	}
	log.Info("✅ Almacenamiento del outbox listo", zap.String("driver", cfg.StorageDriver))
	return st, nil
}

func (s *storage) close(log *zap.Logger) {
	if s.sqlDB != nil {
		if err := s.sqlDB.Close(); err != nil {
			log.Warn("⚠️ Error cerrando la base de datos", zap.Error(err))
		}
	}
	if s.mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.mongo.Disconnect(ctx); err != nil {
			log.Warn("⚠️ Error desconectando MongoDB", zap.Error(err))
		}
	}
}

func installCapture(ctx context.Context, cfg *config.Config, st *storage, log *zap.Logger) error {
	if st.sqlDB == nil {
		return errors.New("capture triggers need a SQL storage driver")
	}
	tables, err := capture.LoadWatchedTables(cfg.CaptureSpecPath)
	if err != nil {
		return err
	}
	dialect := capture.DialectSQLite
	if cfg.StorageDriver == config.StoragePostgres {
		dialect = capture.DialectPostgres
	}
	if err := capture.InstallTriggers(ctx, st.sqlDB, dialect, tables); err != nil {
		return err
	}
	log.Info("🪝 Triggers de captura instalados", zap.Int("tables", len(tables)), zap.String("dialect", string(dialect)))
	return nil
}

// Server runs the detection event pipeline: the device/labeler HTTP API, the gRPC health
// service, the notification dispatch workers and the sweeper.
package main

import (
	"context"
	"crypto"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"trailwatch/backend/internal/audit"
	auditrepo "trailwatch/backend/internal/audit/repository"
	"trailwatch/backend/internal/blobstore"
	capturerepo "trailwatch/backend/internal/capture/repository"
	"trailwatch/backend/internal/config"
	"trailwatch/backend/internal/correlator"
	"trailwatch/backend/internal/db"
	"trailwatch/backend/internal/dispatch"
	"trailwatch/backend/internal/dispatch/sms"
	"trailwatch/backend/internal/errs"
	"trailwatch/backend/internal/ingest"
	labelrepo "trailwatch/backend/internal/label/repository"
	"trailwatch/backend/internal/labeling"
	"trailwatch/backend/internal/logging"
	"trailwatch/backend/internal/metrics"
	"trailwatch/backend/internal/mirror"
	notificationrepo "trailwatch/backend/internal/notification/repository"
	"trailwatch/backend/internal/policy/engine"
	"trailwatch/backend/internal/security"
	"trailwatch/backend/internal/server"
	"trailwatch/backend/internal/server/httpapi"
	"trailwatch/backend/internal/server/middleware"
	"trailwatch/backend/internal/sweeper"
	"trailwatch/backend/internal/telemetry"
	otelemitter "trailwatch/backend/internal/telemetry/otel"
	"trailwatch/backend/internal/telemetry/producer"
	settingsrepo "trailwatch/backend/internal/tenantsettings/repository"
)

const (
	serviceName     = "trailwatch-backend"
	shutdownTimeout = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", slog.Any("err", err))
		os.Exit(1)
	}
	logging.SetDefault(logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error(ctx, "server: exited with error", slog.Any("err", errs.Loggable(err)))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return errs.Wrap(err, "open database")
	}
	defer conn.Close()

	tokens, err := tokenProvider(cfg)
	if err != nil {
		return err
	}
	hasher := security.NewHasher(cfg.BcryptCost)
	labelerAuth := security.NewLabelerAuthenticator(hasher, cfg.LabelerTokenHash)
	if cfg.LabelerTokenHash == "" {
		logging.Warn(ctx, "server: LABELER_TOKEN_HASH is empty, label callbacks will be rejected")
	}

	otelProviders, err := otelemitter.NewProviders(ctx, otelemitter.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		ServiceName: serviceName,
		Environment: cfg.Env,
	})
	if err != nil {
		return errs.Wrap(err, "otel providers")
	}
	otelProviders.SetGlobal()

	var emitters telemetry.MultiEmitter
	kafkaProducer := producer.NewKafkaProducer(cfg.PipelineKafkaBrokersList(), cfg.PipelineKafkaTopic)
	if kafkaProducer != nil {
		emitters = append(emitters, kafkaProducer)
		defer kafkaProducer.Close()
	}
	if cfg.OTLPEndpoint != "" {
		emitters = append(emitters, otelemitter.NewEventEmitter(otelProviders.LoggerProvider))
	}
	var emitter telemetry.EventEmitter
	if len(emitters) > 0 {
		emitter = emitters
	}

	m := metrics.New()

	captures := capturerepo.NewPostgresRepository(conn)
	labels := labelrepo.NewPostgresRepository(conn)
	attempts := notificationrepo.NewPostgresRepository(conn)
	settings := settingsrepo.NewCachedRepository(settingsrepo.NewPostgresRepository(conn), cfg.TenantSettingsCacheTTLDuration())
	auditLog := auditrepo.NewPostgresRepository(conn)
	auditLogger := audit.NewLogger(auditLog, middleware.ClientIP)

	blobs, err := blobstore.NewFSStore(cfg.BlobDir, cfg.BlobPublicBaseURL)
	if err != nil {
		return errs.Wrap(err, "blob store")
	}

	policy := engine.NewOPAEvaluator()
	if err := policy.HealthCheck(ctx); err != nil {
		return errs.Wrap(err, "alert policy")
	}

	providers := sms.NewRegistry(
		sms.NewSMSLocalClient(cfg.SMSLocalBaseURL),
		sms.NewTwilioClient(cfg.TwilioBaseURL),
	)
	dispatcher := dispatch.NewDispatcher(attempts, providers,
		dispatch.WithPolicy(policy),
		dispatch.WithEmitter(emitter),
		dispatch.WithMetrics(m),
		dispatch.WithSendTimeout(cfg.SMSTimeoutDuration()),
	)
	queue := dispatch.NewQueue(dispatcher, settings, cfg.DispatchWorkers, cfg.DispatchQueueSize, m)

	mirrorAdapter := mirror.NewAdapter(settings,
		mirror.NewHTTPPublisher(cfg.ThingSpeakBaseURL),
		mirror.NewMQTTPublisher(cfg.ThingSpeakMQTTBroker),
		mirror.WithMaxRetries(cfg.MirrorMaxRetries),
		mirror.WithTimeout(cfg.MirrorTimeoutDuration()),
		mirror.WithMetrics(m),
		mirror.WithEmitter(emitter),
	)
	labeler := labeling.NewTrigger(settings, cfg.LabelerURL, blobs.URL, m)

	ingestSvc := ingest.NewService(captures, blobs, mirrorAdapter, labeler, emitter, m, cfg.MaxUploadBytes)
	correlatorSvc := correlator.NewService(captures, labels, queue, auditLogger, emitter, m)

	sweep := sweeper.New(captures, labels, attempts, queue, m, sweeper.Config{
		Interval:              cfg.SweepIntervalDuration(),
		StaleCaptureAfter:     cfg.StaleCaptureAfterDuration(),
		PendingAttemptTimeout: cfg.PendingAttemptTimeoutDuration(),
	})

	httpSrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Ingest:         ingestSvc,
			Correlator:     correlatorSvc,
			Captures:       captures,
			Tokens:         tokens,
			Labeler:        labelerAuth,
			Audit:          auditLogger,
			AuditLog:       auditLog,
			Metrics:        m,
			DB:             conn,
			MaxUploadBytes: cfg.MaxUploadBytes,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcSrv := server.NewGRPCServer()
	server.RegisterServices(grpcSrv, server.Deps{HealthPinger: conn, HealthPolicyChecker: policy})

	// Workers outlive the signal context so queued jobs can drain during shutdown.
	workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorkers()
	queue.Start(workerCtx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info(gctx, "server: http listening", slog.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errs.Wrap(err, "http serve")
		}
		return nil
	})
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return errs.Wrap(err, "grpc listen")
		}
		g.Go(func() error {
			logging.Info(gctx, "server: grpc listening", slog.String("addr", cfg.GRPCAddr))
			return grpcSrv.Serve(lis)
		})
	}
	g.Go(func() error {
		return sweep.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdown(cfg, httpSrv, grpcSrv.GracefulStop, queue, mirrorAdapter, labeler, otelProviders)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

type waiter interface {
	Wait(ctx context.Context) error
}

// shutdown stops intake first, then drains background work, then flushes telemetry.
func shutdown(cfg *config.Config, httpSrv *http.Server, stopGRPC func(), queue *dispatch.Queue, mirrorAdapter, labeler waiter, otelProviders *otelemitter.Providers) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logging.Info(ctx, "server: shutting down")

	if err := httpSrv.Shutdown(ctx); err != nil {
		logging.Warn(ctx, "server: http shutdown", slog.Any("err", errs.Loggable(err)))
	}
	if cfg.GRPCAddr != "" {
		stopGRPC()
	}
	if err := queue.Shutdown(ctx); err != nil {
		logging.Warn(ctx, "server: dispatch queue did not drain", slog.Any("err", errs.Loggable(err)))
	}
	for name, w := range map[string]waiter{"mirror": mirrorAdapter, "labeling": labeler} {
		if err := w.Wait(ctx); err != nil {
			logging.Warn(ctx, "server: background work did not drain", slog.String("component", name), slog.Any("err", errs.Loggable(err)))
		}
	}

	// Async pipeline events get their emit window before the providers go away.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if otelProviders.Shutdown != nil {
		if err := otelProviders.Shutdown(ctx); err != nil {
			logging.Warn(ctx, "server: otel shutdown", slog.Any("err", errs.Loggable(err)))
		}
	}
	logging.Info(ctx, "server: stopped")
}

func tokenProvider(cfg *config.Config) (*security.TokenProvider, error) {
	if cfg.JWTPublicKey == "" && cfg.JWTPrivateKey == "" {
		return nil, errors.New("JWT_PUBLIC_KEY is required")
	}
	var (
		signer crypto.Signer
		pub    crypto.PublicKey
	)
	if cfg.JWTPrivateKey != "" {
		k, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
		if err != nil {
			return nil, errs.Wrap(err, "JWT_PRIVATE_KEY")
		}
		signer = k
	}
	if cfg.JWTPublicKey != "" {
		k, err := security.ParsePublicKey(cfg.JWTPublicKey)
		if err != nil {
			return nil, errs.Wrap(err, "JWT_PUBLIC_KEY")
		}
		pub = k
	}
	return security.NewTokenProvider(signer, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL()), nil
}

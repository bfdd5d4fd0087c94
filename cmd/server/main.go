package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"livecheck/internal/capture"
	"livecheck/internal/detection"
	"livecheck/internal/events"
	"livecheck/internal/evidence"
	"livecheck/internal/facescan"
	jwttoken "livecheck/internal/jwt_token"
	"livecheck/internal/liveness"
	"livecheck/internal/platform/config"
	"livecheck/internal/platform/httpserver"
	"livecheck/internal/platform/logger"
	platformmetrics "livecheck/internal/platform/metrics"
	"livecheck/internal/platform/middleware"
	"livecheck/internal/platform/postgres"
	"livecheck/internal/platform/ratelimit"
	"livecheck/internal/platform/redis"
	"livecheck/internal/scoring"
	"livecheck/internal/submission"
	"livecheck/internal/submission/boundary"
	submissionmetrics "livecheck/internal/submission/metrics"
	submissionstore "livecheck/internal/submission/store"
	"livecheck/internal/verification"
	"livecheck/internal/verification/adapters"
	"livecheck/internal/verification/handler"
	verificationmetrics "livecheck/internal/verification/metrics"
)

const (
	sweepInterval = time.Minute
	pruneInterval = 5 * time.Minute
)

// main wires dependencies and runs the HTTP server, the event publisher and
// the session sweeper until a signal arrives.
func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	if cfg.Submission.URL == "" {
		return errors.New("SUBMISSION_URL not set")
	}

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	g, gctx := errgroup.WithContext(ctx)

	// Events
	var publisher events.Publisher = events.NewLogPublisher(log)
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, events.WithLogger(log))
		if err != nil {
			return err
		}
		defer kafka.Close()
		g.Go(func() error { return kafka.Run(gctx) })
		publisher = events.Fanout{publisher, kafka}
	}

	// Evidence blobs
	var blobs evidence.Store = evidence.NewMemoryStore()
	if cfg.Blob.AzureConnectionString != "" {
		azure, err := evidence.NewAzureStore(cfg.Blob.AzureConnectionString, cfg.Blob.Container)
		if err != nil {
			return err
		}
		blobs = azure
	}

	// Detection
	var detector detection.Detector = detection.Derive(detection.NewHTTPDetector(cfg.Detector.URL, cfg.Detector.Timeout,
		detection.WithLogger(log),
	))
	if redisClient != nil && cfg.Detector.CacheTTL > 0 {
		detector = detection.NewCachedDetector(detector, redisClient.Client, cfg.Detector.CacheTTL, log)
	}

	verificationMetrics := verificationmetrics.New()
	engine := cfg.Engine
	sequencer := liveness.NewSequencer(detector,
		liveness.WithPublisher(publisher),
		liveness.WithLogger(log),
		liveness.WithMetrics(verificationMetrics),
		liveness.WithGracePeriod(engine.GracePeriod),
		liveness.WithSampleRate(engine.SampleRate),
	)
	scanner := facescan.NewScanner(detector,
		facescan.WithPublisher(publisher),
		facescan.WithLogger(log),
		facescan.WithMetrics(verificationMetrics),
		facescan.WithStepDuration(engine.ScanStepDuration),
		facescan.WithSampleRate(engine.SampleRate),
		facescan.WithEvidenceStride(engine.EvidenceStride),
		facescan.WithEvidenceCap(engine.EvidenceCap),
	)

	// Submission
	var receipts submission.ReceiptStore = submissionstore.NewInMemoryReceiptStore()
	if redisClient != nil {
		receipts = submissionstore.NewRedisReceiptStore(redisClient.Client)
	}
	pipelineOpts := []submission.Option{
		submission.WithEvidenceStore(blobs),
		submission.WithPublisher(publisher),
		submission.WithLogger(log),
		submission.WithMetrics(submissionmetrics.New()),
	}
	if db != nil {
		archive := submissionstore.NewPostgresArchive(db)
		if err := archive.Migrate(ctx); err != nil {
			return err
		}
		pipelineOpts = append(pipelineOpts, submission.WithArchive(archive))
	}
	pipeline, err := submission.New(
		boundary.New(cfg.Submission.URL, cfg.Submission.Timeout, boundary.WithLogger(log)),
		receipts,
		pipelineOpts...,
	)
	if err != nil {
		return err
	}

	// Verification
	verificationOpts := []verification.Option{
		verification.WithPublisher(publisher),
		verification.WithLogger(log),
		verification.WithMetrics(verificationMetrics),
		verification.WithThresholds(scoring.Thresholds{
			Liveness:       engine.LivenessThreshold,
			Quality:        engine.QualityThreshold,
			NeutralQuality: engine.NeutralQuality,
		}),
		verification.WithChallengeDuration(engine.ChallengeDuration),
		verification.WithSessionTTL(engine.SessionTTL),
		verification.WithMaxFrameSide(engine.MaxFrameSide),
	}
	if cfg.Document.URL != "" {
		verificationOpts = append(verificationOpts, verification.WithDocumentChecker(
			adapters.NewDocumentClient(cfg.Document.URL, cfg.Document.Timeout, adapters.WithLogger(log)),
		))
	}
	service, err := verification.New(
		verification.NewInMemoryStore(),
		capture.NewRegistry(capture.WithLogger(log)),
		sequencer,
		scanner,
		pipeline,
		verificationOpts...,
	)
	if err != nil {
		return err
	}

	// HTTP
	httpMetrics := platformmetrics.New()
	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer)
	window := ratelimit.NewSlidingWindow()
	limits := ratelimit.NewMiddleware(window, log)
	router := chi.NewRouter()
	router.Use(middleware.RequestContext)
	router.Use(middleware.AccessLog(log))
	router.Use(middleware.Latency(httpMetrics))
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			if err := redisClient.Health(r.Context()); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(jwtService, log))
		handler.New(service, log, httpMetrics, handler.WithRateLimits(limits,
			ratelimit.Rule{Name: "start", Limit: cfg.RateLimit.StartLimit, Window: cfg.RateLimit.StartWindow},
			ratelimit.Rule{Name: "frames", Limit: cfg.RateLimit.FrameLimit, Window: cfg.RateLimit.FrameWindow},
		)).Register(r)
	})

	srv := httpserver.New(cfg.Addr, router)

	g.Go(func() error {
		log.Info("starting livecheck", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		service.RunSweeper(gctx, sweepInterval)
		return nil
	})
	g.Go(func() error {
		window.RunPruner(gctx, pruneInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		return service.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

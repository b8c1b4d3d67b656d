// Package main is the entry point for the Plotline API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/plotline/internal/api"
	"github.com/onnwee/plotline/internal/auth"
	"github.com/onnwee/plotline/internal/config"
	"github.com/onnwee/plotline/internal/db"
	"github.com/onnwee/plotline/internal/health"
	"github.com/onnwee/plotline/internal/idempotency"
	"github.com/onnwee/plotline/internal/jobs"
	"github.com/onnwee/plotline/internal/ledger"
	"github.com/onnwee/plotline/internal/middleware"
	"github.com/onnwee/plotline/internal/notify"
	"github.com/onnwee/plotline/internal/revenue"
	"github.com/onnwee/plotline/internal/slotlock"
	"github.com/onnwee/plotline/internal/storage"
	"github.com/onnwee/plotline/internal/tracing"
	"github.com/onnwee/plotline/internal/tree"
	"github.com/onnwee/plotline/internal/verifier"
)

// idempotency key retention; retried verification calls outside this window
// fall through to the ledger, which is itself retry-safe.
const (
	idempotencyCleanupInterval = time.Hour
	idempotencyKeyExpiry       = 24 * time.Hour
)

// routerConfig carries the wired handlers and cross-cutting dependencies
// into newRouter. uploads is nil when no asset storage is configured.
type routerConfig struct {
	logger      *slog.Logger
	httpMetrics *middleware.Metrics
	cors        middleware.CORSConfig
	validator   middleware.TokenValidator
	limiter     middleware.RateLimitStore
	idem        idempotency.Repository

	movies     *api.MovieHandlers
	scenes     *api.SceneHandlers
	slots      *api.SlotHandlers
	escrows    *api.EscrowHandlers
	earnings   *api.EarningsHandlers
	ledgerConf *api.ConfigHandlers
	events     *api.EventStreamHandlers
	uploads    *api.UploadHandlers
	health     *api.HealthHandlers
	metrics    http.Handler
}

// newRouter assembles the route table and middleware chain. Health, metrics
// and the event stream are public; everything else sits behind bearer auth.
func newRouter(rc routerConfig) http.Handler {
	verifyRoutes := map[string]bool{
		"/slots/verify-payment":      true,
		"/slots/verify-confirmation": true,
		"/slots/verify-refund":       true,
	}
	verifyLimit := middleware.RateLimiter(rc.limiter, middleware.DefaultVerifyLimit(), middleware.UserKeyFunc())

	authed := http.NewServeMux()
	authed.HandleFunc("/movies", rc.movies.CreateMovie)
	authed.HandleFunc("/movies/", rc.movies.MovieByID)
	authed.HandleFunc("/scenes/", rc.scenes.SceneByID)
	authed.HandleFunc("/slots", rc.scenes.GetSlot)
	authed.HandleFunc("/slots/lock", rc.slots.LockSlot)
	authed.Handle("/slots/verify-payment", verifyLimit(http.HandlerFunc(rc.slots.VerifyPayment)))
	authed.Handle("/slots/verify-confirmation", verifyLimit(http.HandlerFunc(rc.slots.VerifyConfirmation)))
	authed.Handle("/slots/verify-refund", verifyLimit(http.HandlerFunc(rc.slots.VerifyRefund)))
	authed.HandleFunc("/escrows", rc.escrows.SubmitClaim)
	authed.HandleFunc("/escrows/", rc.escrows.EscrowByID)
	authed.HandleFunc("/receipts/", rc.escrows.GetReceipt)
	authed.HandleFunc("/earnings", rc.earnings.GetEarnings)
	authed.HandleFunc("/earnings/withdraw", rc.earnings.Withdraw)
	authed.HandleFunc("/config", rc.ledgerConf.Config)
	if rc.uploads != nil {
		authed.HandleFunc("/uploads", rc.uploads.SignUpload)
	}
	authed.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
		api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
	})

	var protected http.Handler = authed
	protected = middleware.IdempotencyMiddleware(rc.idem, verifyRoutes)(protected)
	protected = middleware.RequireAuth(rc.validator)(protected)

	root := http.NewServeMux()
	root.HandleFunc("/health", rc.health.Health)
	root.HandleFunc("/ready", rc.health.Ready)
	root.Handle("/metrics", rc.metrics)
	root.HandleFunc("/events/ws", rc.events.Stream)
	root.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			if _, err := w.Write([]byte(`{"service":"plotline-api","version":"0.0.1"}`)); err != nil {
				slog.Error("failed to write response", "error", err)
			}
			return
		}
		protected.ServeHTTP(w, r)
	}))

	globalLimit := middleware.RateLimiter(rc.limiter, middleware.DefaultGlobalLimit(), middleware.IPKeyFunc())

	var handler http.Handler = root
	handler = globalLimit(handler)
	handler = middleware.CORS(rc.cors)(handler)
	handler = middleware.HTTPMetrics(rc.httpMetrics)(handler)
	handler = middleware.Tracing("plotline-api")(handler)
	handler = middleware.Logging(rc.logger)(handler)
	handler = middleware.RequestID(handler)
	return handler
}

func main() {
	configFile := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Plotline API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configFile)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	summary := cfg.LogSummary()
	args := make([]any, 0, len(summary)*2)
	for k, v := range summary {
		args = append(args, k, v)
	}
	logger.Info("configuration loaded", args...)

	tracer, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "plotline-api",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: os.Getenv("TRACING_EXPORTER"),
		OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
		SamplingRate: 1.0,
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown tracer", "error", err)
		}
	}()

	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer sqlDB.Close()
	mirror := tree.NewPostgresStore(sqlDB)

	var (
		rdb       *redis.Client
		slotCache *tree.SlotCache
		limiter   middleware.RateLimitStore = middleware.NewInMemoryRateLimitStore()
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		slotCache = tree.NewSlotCache(rdb, mirror, 0)
		limiter = middleware.NewRedisRateLimitStore(rdb)
	}

	reg := prometheus.NewRegistry()
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(reg); err != nil {
		logger.Error("failed to register http metrics", "error", err)
		os.Exit(1)
	}
	ledgerMetrics := ledger.NewMetrics()
	if err := ledgerMetrics.Register(reg); err != nil {
		logger.Error("failed to register ledger metrics", "error", err)
		os.Exit(1)
	}
	jobMetrics := jobs.NewMetrics()
	if err := jobMetrics.Register(reg); err != nil {
		logger.Error("failed to register job metrics", "error", err)
		os.Exit(1)
	}

	led := ledger.New(cfg.OperatorAddress, cfg.PlatformAddress, ledger.Config{
		EscrowDuration:       cfg.EscrowDuration(),
		RefundPercentage:     cfg.RefundPercentage,
		MovieCreationDeposit: cfg.MovieCreationDeposit,
		DefaultScenePrice:    cfg.DefaultScenePrice,
		Shares: revenue.Shares{
			ParentBp:           cfg.ParentShareBp,
			GrandparentBp:      cfg.GrandparentShareBp,
			GreatGrandparentBp: cfg.GreatGrandparentShareBp,
			MovieOwnerBp:       cfg.MovieOwnerShareBp,
			PlatformBp:         cfg.PlatformShareBp,
		},
	}, ledger.NewJournal(), ledgerMetrics)

	hub := api.NewEventHub()
	led.Observe(hub.Broadcast)

	var amqpChecker api.HealthChecker
	if cfg.AMQPURL != "" {
		pub, err := notify.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			logger.Error("failed to connect to amqp broker", "error", err)
			os.Exit(1)
		}
		defer pub.Close()
		led.Observe(notify.Observer(pub))
		amqpChecker = health.NewAMQPChecker(pub.Connection())
	}

	var uploadHandlers *api.UploadHandlers
	if cfg.S3BucketName != "" {
		signer, err := storage.NewS3Signer(storage.Config{
			Bucket:          cfg.S3BucketName,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Endpoint:        cfg.S3Endpoint,
			MaxSizeMB:       cfg.S3MaxUploadSizeMB,
		})
		if err != nil {
			logger.Error("failed to configure asset storage", "error", err)
			os.Exit(1)
		}
		uploadHandlers = api.NewUploadHandlers(signer)
	}

	locks := slotlock.NewManager(mirror, slotCache, cfg.LockDuration(), cfg.EscrowDuration())
	ver := verifier.New(led, mirror, slotCache)

	jwtService := auth.NewJWTServiceWithRotation(cfg.JWTSecret, os.Getenv("JWT_SECRET_PREVIOUS"))

	idemRepo := idempotency.NewInMemoryRepository()
	stopCleanup := make(chan struct{})
	go idempotency.RunPeriodicCleanup(idemRepo, idempotencyCleanupInterval, idempotencyKeyExpiry, stopCleanup)

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go jobs.NewEscrowSweeper(led, jobMetrics, time.Minute).Run(sweepCtx)

	var redisChecker api.HealthChecker
	if rdb != nil {
		redisChecker = health.NewRedisChecker(rdb)
	}
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{
		DBChecker:    health.NewDBChecker(sqlDB),
		RedisChecker: redisChecker,
		AMQPChecker:  amqpChecker,
	})

	corsCfg := middleware.CORSConfig{
		AllowCredentials: true,
		MaxAge:           300,
	}
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		corsCfg.AllowedOrigins = strings.Split(origins, ",")
	}

	handler := newRouter(routerConfig{
		logger:      logger,
		httpMetrics: httpMetrics,
		cors:        corsCfg,
		validator:   jwtService,
		limiter:     limiter,
		idem:        idemRepo,
		movies:      api.NewMovieHandlers(led, mirror),
		scenes:      api.NewSceneHandlers(mirror, slotCache),
		slots:       api.NewSlotHandlers(locks, ver),
		escrows:     api.NewEscrowHandlers(led),
		earnings:    api.NewEarningsHandlers(led),
		ledgerConf:  api.NewConfigHandlers(led),
		events:      api.NewEventStreamHandlers(hub),
		uploads:     uploadHandlers,
		health:      healthHandlers,
		metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	close(stopCleanup)
	stopSweeper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

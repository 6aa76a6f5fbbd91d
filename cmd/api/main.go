package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"verifyme/internal/audit"
	"verifyme/internal/auth"
	"verifyme/internal/cloudinary"
	"verifyme/internal/config"
	"verifyme/internal/faceclient"
	"verifyme/internal/handler"
	"verifyme/internal/httpmiddleware"
	"verifyme/internal/logging"
	"verifyme/internal/metrics"
	"verifyme/internal/qr"
	"verifyme/internal/queue"
	"verifyme/internal/registration"
	"verifyme/internal/scansession"
	"verifyme/internal/store"
	"verifyme/internal/student"
	"verifyme/internal/verification"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Env)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.App, logger *slog.Logger) error {
	db, err := store.NewDB(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	var redisClient *store.Redis
	if cfg.NeedsRedis() {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	repo := student.NewRepository(db.Client)
	g, ctx := errgroup.WithContext(ctx)

	var sink verification.AuditSink = audit.NewStoreSink(repo)
	if cfg.AuditMode == "queue" {
		var q queue.Queue
		if cfg.QueueBackend == "memory" {
			mem := queue.NewInMemory(1024)
			q = mem
			worker := audit.NewWorker(mem, repo, logger.With("component", "audit-worker"))
			g.Go(func() error { return worker.Run(ctx) })
		} else {
			q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey, logger)
		}
		sink = audit.NewQueueSink(q)
	}

	var view verification.View = verification.NewMemoryView()
	if cfg.ViewBackend == "redis" {
		view = verification.NewRedisView(redisClient.Client, "", cfg.ViewTTL)
	}

	verifier := verification.NewService(repo, sink, view,
		verification.WithLogger(logger.With("component", "verification")),
		verification.WithMetrics(m),
	)

	admins := auth.NewAdminStore(db.Client)
	if cfg.AdminEmail != "" && cfg.AdminPassword != "" {
		created, err := admins.Seed(ctx, cfg.AdminEmail, cfg.AdminPassword)
		if err != nil {
			return err
		}
		if created {
			logger.Info("seeded admin account", "email", cfg.AdminEmail)
		}
	}
	authSvc := auth.NewService(admins, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL, logger)

	var photos registration.PhotoHost
	if cfg.CloudinaryConfigured() {
		photos = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryUploadPreset, cfg.CloudinaryFolder)
		logger.Info("cloudinary configured", "cloud", cfg.CloudinaryCloudName)
	} else {
		logger.Warn("cloudinary not configured, registrations will fail")
	}
	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	if !cfg.FaceSkip {
		if err := face.Health(ctx); err != nil {
			logger.Warn("face service not available", "error", err)
		}
	}
	registrar := registration.NewService(repo, photos, face, logger.With("component", "registration"), m)

	sessions := scansession.NewManager(verifier, qr.NewDecoder(),
		scansession.WithInterval(cfg.ScanFrameInterval),
		scansession.WithTTL(cfg.ScanSessionTTL),
		scansession.WithLogger(logger.With("component", "scansession")),
		scansession.WithMetrics(m),
	)
	defer sessions.Shutdown()

	health := map[string]handler.HealthCheck{"db": db.Healthy}
	if redisClient != nil {
		health["redis"] = redisClient.Healthy
	}

	h := handler.New(handler.Deps{
		Verifier:  verifier,
		Registrar: registrar,
		Auth:      authSvc,
		Sessions:  sessions,
		Decoder:   qr.NewDecoder(),
		Health:    health,
		Logger:    logger,
	})

	limiter := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	loginLimiter := httpmiddleware.NewTokenBucket(cfg.LoginRateLimitPerMin, cfg.LoginRateLimitPerMin)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.CORS(cfg.CORSOrigins))
	r.Use(httpmiddleware.SecurityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	api := r.Group("", limiter.GinMiddleware())
	h.Routes(api, auth.AdminAuth(cfg.JWTSigningKey, cfg.JWTIssuer), loginLimiter.GinMiddleware())

	if _, err := os.Stat(filepath.Join(cfg.WebDir, "index.html")); err == nil {
		r.StaticFile("/", filepath.Join(cfg.WebDir, "index.html"))
		r.Static("/static", filepath.Join(cfg.WebDir, "static"))
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		logger.Info("starting server", "addr", srv.Addr, "db", cfg.DatabaseDriver, "audit", cfg.AuditMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return sessions.Reap(ctx) })
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				limiter.Prune(10 * time.Minute)
				loginLimiter.Prune(10 * time.Minute)
			}
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sessions.Shutdown()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

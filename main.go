package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fasthttp/router"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"licenseserver/internal/config"
	"licenseserver/internal/db"
	"licenseserver/internal/http/handlers"
	appmw "licenseserver/internal/http/middleware"
	"licenseserver/internal/license"
	"licenseserver/internal/logger"
	ui "licenseserver/web"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		sqlDB  *gorm.DB
		events *db.EventLog
		err    error
	)
	if cfg.DatabaseURL != "" {
		sqlDB, err = db.Connect(cfg)
		if err != nil {
			log.Error("failed to connect database", "error", err)
			os.Exit(1)
		}
		events = db.NewEventLog(sqlDB, cfg.AuditRetentionDays)
		db.StartRetentionWorker(ctx, sqlDB, log)
	}

	store, err := db.NewKeyStore(cfg, sqlDB, log)
	if err != nil {
		log.Error("failed to open key store", "driver", cfg.StorageDriver, "error", err)
		os.Exit(1)
	}

	opts := []license.Option{
		license.WithLogger(log),
		license.WithStrictActivation(cfg.StrictActivation),
	}
	if events != nil {
		opts = append(opts, license.WithAuditor(events))
	}
	engine := license.New(store, opts...)

	creds, err := appmw.NewCredentials(cfg.AdminUser, cfg.AdminPassword, 0)
	if err != nil {
		log.Error("failed to hash admin password", "error", err)
		os.Exit(1)
	}
	if cfg.AdminPassword == "admin123" {
		log.Warn("admin password is the built-in default; set APP_ADMIN_PASSWORD")
	}
	sessions := appmw.NewSessions(cfg.SessionTTL)
	trialLimiter := appmw.NewIPRateLimiter(cfg.TrialRatePerHour)

	handlers.InitPrometheusMetrics()

	r := router.New()
	r.SaveMatchedRoutePath = true

	// Global middleware chain: request logger, then instrumentation, then router
	handler := handlers.RequestLogger(log)(appmw.Instrument(handlers.HTTPRequestDuration)(r.Handler))

	admin := appmw.AdminAuth(sessions)

	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})

	r.ServeFS("/static/{filepath:*}", ui.StaticFS())

	r.GET("/", handlers.IndexPage())
	r.GET("/admin", handlers.AdminPage(engine, sessions))
	r.GET("/verify", handlers.VerifyPage())
	r.GET("/get-key", handlers.GetKeyPage())

	r.POST("/api/login", handlers.Login(creds, sessions, log))
	r.POST("/api/logout", handlers.Logout(sessions))

	r.POST("/api/generate", admin(handlers.Generate(engine, log)))
	r.POST("/api/public-generate", appmw.RateLimit(trialLimiter)(handlers.PublicGenerate(engine, log)))
	r.POST("/api/verify", handlers.Verify(engine))
	r.POST("/api/activate", handlers.Activate(engine, log))

	r.GET("/api/keys", admin(handlers.ListKeys(engine)))
	r.GET("/api/keys/{hash}", admin(handlers.GetKey(engine)))
	r.DELETE("/api/keys/{hash}", admin(handlers.DeleteKey(engine, log)))
	r.POST("/api/keys/{hash}/toggle", admin(handlers.ToggleKey(engine, log)))
	r.GET("/api/keys/{hash}/events", admin(handlers.KeyEvents(events, log)))

	r.GET("/metrics", admin(handlers.MetricsHandler(prometheus.DefaultGatherer)))

	srv := &fasthttp.Server{
		Handler:            handler,
		Name:               "licenseserver",
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        time.Minute,
		MaxRequestBodySize: 1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("licenseserver listening", "addr", cfg.ListenAddr, "storage", cfg.StorageDriver, "audit", events != nil)
		return srv.ListenAndServe(cfg.ListenAddr)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		return srv.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

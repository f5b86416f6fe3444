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

	"consult-platform/internal/audit"
	"consult-platform/internal/auth"
	"consult-platform/internal/config"
	"consult-platform/internal/httpapi"
	"consult-platform/internal/metering"
	"consult-platform/internal/notify"
	"consult-platform/internal/presence"
	"consult-platform/internal/rates"
	"consult-platform/internal/recovery"
	"consult-platform/internal/reporting"
	"consult-platform/internal/session"
	"consult-platform/internal/signaling"
	"consult-platform/internal/tips"
	"consult-platform/internal/topup"
	"consult-platform/internal/transport"
	"consult-platform/internal/wallet"
	"consult-platform/pkg/logger"
	"consult-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if os.Getenv("APP_ENV") != "production" {
		_ = godotenv.Load()
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Stores. Postgres holds the durable records (sessions, ledger, tips,
	// rates, audit); Redis holds the volatile ones (presence, pointers,
	// heartbeats) where TTL expiry is the cleanup mechanism.
	sessions := session.NewPostgresStore(db)
	walletStore := wallet.NewPostgresStore(db)
	tipStore := tips.NewPostgresStore(db)
	rateRepo := rates.NewPostgresRepo(db)
	auditRepo := audit.NewPostgresRepo(db)
	reportRepo := reporting.NewPostgresRepo(db)
	pres := presence.NewRedisTracker(rdb, cfg.Engine.PresenceTTL)
	pointers := recovery.NewRedisPointerStore(rdb, cfg.Engine.PointerTTL)
	beats := recovery.NewRedisHeartbeatStore(rdb)

	// Services. Construction order matters only for the recovery/metering
	// pair: the watchdog needs the engine to finalize interrupted sessions,
	// and the engine needs the manager to mirror pointers, so the meter is
	// injected after both exist.
	wallets := wallet.NewService(walletStore)
	rateSvc := rates.NewService(rateRepo)
	auditor := audit.NewService(auditRepo)
	notifier := notify.NewLogNotifier(log)
	tr := transport.NewNoop()

	recoverer := recovery.NewManager(sessions, pointers, beats, auditor, recovery.Config{
		GraceWindow:       cfg.Engine.GraceWindow,
		ScanInterval:      cfg.Engine.ScanInterval,
		PaymentPendingTTL: cfg.Engine.PaymentPendingTTL,
	}, log)

	engine := metering.NewEngine(wallets, sessions, recoverer, pres, tr, notifier, metering.Config{
		TickInterval:      cfg.Engine.TickInterval,
		LowBalanceSeconds: cfg.Engine.LowBalanceSeconds,
	}, log)
	recoverer.SetMeter(engine)

	coordinator := signaling.NewCoordinator(sessions, pres, rateSvc, tr, notifier, recoverer, engine, wallets, signaling.Config{
		RingTimeout: cfg.Engine.RingTimeout,
	}, log)

	tipSvc := tips.NewService(tipStore, wallets, engine, notifier, log)
	topupSvc := topup.NewService(topup.NewSandboxGateway(), wallets, coordinator, log)
	reportSvc := reporting.NewService(reportRepo)

	go recoverer.RunWatchdog(rootCtx)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	handlers := httpapi.Handlers{
		Auth:        authManager,
		Coordinator: coordinator,
		Tips:        tipSvc,
		Recovery:    recoverer,
		Wallet:      wallets,
		TopUps:      topupSvc,
		Reports:     reportSvc,
	}
	admin := httpapi.AdminHandlers{Base: handlers, Audit: auditor}

	registerRoutes(r, auth.RequireAccessToken(authManager), handlers, admin)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	// Stop ring timers and cancel the metering runners. Their sessions are
	// left ongoing in the store, not finalized here; the next process's
	// watchdog reconciles them once the heartbeat grace window lapses.
	coordinator.Shutdown()
	engine.Close()
}

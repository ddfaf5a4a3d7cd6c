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

	"callbridge/internal/auth"
	"callbridge/internal/calls"
	"callbridge/internal/config"
	"callbridge/internal/correlator"
	"callbridge/internal/crm"
	"callbridge/internal/messaging"
	"callbridge/internal/notify"
	"callbridge/internal/permissions"
	"callbridge/internal/telephony"
	"callbridge/pkg/logger"
	"callbridge/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// .env is a local convenience; absence is fine.
	_ = godotenv.Load()

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

	// Collaborator adapters.
	provider := telephony.NewProvider(cfg.Telephony)
	messenger := messaging.NewClient(cfg.Messaging)
	crmClient := crm.NewClient(cfg.CRM)

	// Core services.
	hub := notify.NewHub(1024)
	permSvc := permissions.NewService(
		permissions.NewPostgresRepo(db),
		permissions.NewRedisLimiter(rdb),
		messenger,
		hub,
		permissions.PolicyFromConfig(cfg.Policy),
		cfg.Messaging.ConsentTemplate,
	)
	callSvc := calls.NewService(
		calls.NewPostgresRepo(db),
		permSvc,
		provider,
		crmClient,
		crmClient,
		hub,
		cfg.Telephony.FromAddress,
	)
	cor := correlator.New(callSvc, permSvc)

	// Background sweep for permissions past their TTL.
	go runExpirySweep(rootCtx, log, permSvc)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		cfg:   cfg,
		auth:  authManager,
		calls: callSvc,
		perms: permSvc,
		cor:   cor,
		hub:   hub,
		db:    db,
	})

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
}

// runExpirySweep periodically expires pending and approved permissions
// whose TTL elapsed without a provider event triggering the transition.
func runExpirySweep(ctx context.Context, log *slog.Logger, perms *permissions.Service) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := perms.ExpireStale(ctx, 100)
			if err != nil {
				log.Warn("permission expiry sweep failed", "err", err)
				continue
			}
			if n > 0 {
				log.Info("permissions expired", "count", n)
			}
		}
	}
}

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

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"leasing-telephony/internal/auth"
	"leasing-telephony/internal/config"
	"leasing-telephony/pkg/logger"
	"leasing-telephony/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	app := wire(cfg, db, rdb, log)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, cfg, app, authManager)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	workers, workersCtx := errgroup.WithContext(rootCtx)
	workers.Go(func() error {
		return app.hub.Run(workersCtx, rdb, cfg.Telephony.NotificationsChannel)
	})
	workers.Go(func() error {
		return app.presenceResponder.Run(workersCtx)
	})
	workers.Go(func() error {
		err := app.queue.RunEndOfDaySweeper(workersCtx, cfg.Telephony.EndOfDayInterval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

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
	if err := workers.Wait(); err != nil {
		log.Error("background worker failed", "err", err)
	}
	if err := app.scheduler.Wait(shutdownCtx); err != nil {
		log.Warn("pending timers abandoned", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

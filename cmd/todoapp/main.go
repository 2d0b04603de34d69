package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"todo-miniapp/internal/bot"
	"todo-miniapp/internal/config"
	"todo-miniapp/internal/events"
	"todo-miniapp/internal/httpapi"
	"todo-miniapp/internal/logging"
	"todo-miniapp/internal/repository"
	"todo-miniapp/internal/service"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatal("load .env", "err", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config", "err", err)
	}

	logger := logging.New(cfg.LogLevel)
	gin.SetMode(cfg.HTTP.Mode)

	db, err := repository.NewDB(cfg.DB.DSN, repository.Options{
		BusyTimeout: cfg.DB.BusyTimeout.Duration(),
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("db", "err", err)
	}
	sqlDB, err := db.DB()
	if err == nil {
		defer sqlDB.Close()
	}

	bus := events.NewBus(logger)
	defer bus.Close()

	todoRepo := repository.NewTodoRepository(db)
	todoSvc := service.NewTodoService(todoRepo, bus, logger)

	telegramBot, err := bot.New(cfg.TelegramToken, cfg.WebAppURL, todoSvc, logger)
	if err != nil {
		logger.Fatal("bot", "err", err)
	}

	notices, err := bus.Subscribe(ctx)
	if err != nil {
		logger.Fatal("subscribe to todo events", "err", err)
	}

	scheduler := service.NewSchedulerService(time.Local, logger)
	if interval := cfg.MaintenanceInterval.Duration(); interval > 0 {
		maintenance := service.NewMaintenanceService(todoRepo, logger)
		if _, err := scheduler.ScheduleInterval(interval, maintenance.Job()); err != nil {
			logger.Fatal("schedule maintenance", "err", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	server := httpapi.NewServer(cfg.HTTP.Addr, httpapi.NewRouter(todoSvc, logger), httpapi.Timeouts{
		Read:  cfg.HTTP.ReadTimeout.Duration(),
		Write: cfg.HTTP.WriteTimeout.Duration(),
		Idle:  cfg.HTTP.IdleTimeout.Duration(),
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		return telegramBot.Start(gctx)
	})
	g.Go(func() error {
		telegramBot.ForwardEvents(gctx, notices)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		telegramBot.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info("todo service started", "addr", cfg.HTTP.Addr)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("stopped with error", "err", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/lmittmann/tint"

	"github.com/rmartins/event-access-control/internal/cache"
	"github.com/rmartins/event-access-control/internal/config"
	"github.com/rmartins/event-access-control/internal/database"
	"github.com/rmartins/event-access-control/internal/handler"
	"github.com/rmartins/event-access-control/internal/queue"
	"github.com/rmartins/event-access-control/internal/repository"
	"github.com/rmartins/event-access-control/internal/router"
	"github.com/rmartins/event-access-control/internal/service"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments use the environment

	cfg := config.Load()

	level := slog.LevelInfo
	if cfg.Env == "dev" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level})))

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	rdb := config.NewRedisClient()
	if rdb == nil {
		slog.Warn("redis unavailable, caching and rate limiting disabled")
	}
	statsCache := cache.New(rdb, "access", time.Duration(cfg.StatsCacheTTLSec)*time.Second)

	// Repositories.
	events := repository.NewEventRepo(db)
	stands := repository.NewStandRepo(db)
	participants := repository.NewParticipantRepo(db)
	logs := repository.NewAccessLogRepo(db)
	stats := repository.NewStatsRepo(db)
	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)

	// Stores and services.
	accessStore := repository.NewAccessStore(db, participants, logs, stats)
	regStore := repository.NewRegistrationStore(db, events, stands, participants)
	admission := service.NewAdmissionService(accessStore, statsCache, cfg.AMQPURL)
	registration := service.NewRegistrationService(regStore, statsCache)
	statsService := service.NewStatsService(events, stats, logs, participants, statsCache)

	// Background workers.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go statsService.RunReconcileLoop(ctx, time.Duration(cfg.ReconcileEveryMin)*time.Minute)
	if cfg.AMQPURL != "" {
		go func() {
			if err := queue.StartAccessConsumer(cfg.AMQPURL); err != nil {
				slog.Error("access consumer stopped", "err", err)
			}
		}()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())

	router.Register(e, router.Handlers{
		Auth:         handler.NewAuthHandler(cfg, users, tokens),
		Access:       handler.NewAccessHandler(admission, events, participants, logs),
		Stats:        handler.NewStatsHandler(statsService),
		Logs:         handler.NewLogsHandler(logs),
		Events:       handler.NewEventHandler(events),
		Stands:       handler.NewStandHandler(stands, events),
		Participants: handler.NewParticipantHandler(registration, events, stands, participants),
	}, cfg.JWTSecret, rdb)

	addr := ":" + cfg.Port
	slog.Info("listening", "addr", addr, "env", cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}

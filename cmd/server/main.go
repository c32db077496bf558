// Package main is the entry point for the Guardrail fund compliance monitor.
// The service validates trades against fund cash and positions, evaluates
// concentration and prohibition rules before settlement, and holds breaching
// trades until every alert is reviewed.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/guardrail/internal/config"
	"github.com/aristath/guardrail/internal/database"
	"github.com/aristath/guardrail/internal/scheduler"
	"github.com/aristath/guardrail/internal/server"
	"github.com/aristath/guardrail/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting Guardrail")

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("Failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply database schema")
	}
	log.Info().Str("path", cfg.DatabasePath).Msg("Database ready")

	srv := server.New(server.Config{
		Log:     log,
		DB:      db,
		Config:  cfg,
		DevMode: cfg.DevMode,
	})

	sched := scheduler.New(log)
	sweep := scheduler.NewPortfolioComplianceJob(srv.Compliance, log)
	if err := sched.AddJob(cfg.PortfolioSchedule, sweep); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.PortfolioSchedule).Msg("Failed to register portfolio compliance job")
	}
	sched.Start()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutdown signal received")

	sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	log.Info().Msg("Guardrail stopped")
}

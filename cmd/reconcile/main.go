package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"vidforge/internal/bootstrap"
	"vidforge/internal/domain"
	"vidforge/internal/infra"
	"vidforge/internal/orchestrator"
)

func main() {
	_ = godotenv.Load()

	var (
		owner   string
		limit   int
		timeout time.Duration
	)
	flag.StringVar(&owner, "owner", "", "reconcile only this owner's jobs and print their views")
	flag.IntVar(&limit, "limit", 200, "maximum number of jobs to poll")
	flag.DurationVar(&timeout, "timeout", 5*time.Minute, "overall deadline")
	flag.Parse()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "reconcile").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rt, err := bootstrap.New(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("reconcile: failed to initialise services")
	}
	defer rt.Close()

	if owner == "" {
		n, err := rt.Orchestrator.ReconcileAll(ctx, rt.Jobs, limit)
		if err != nil {
			logger.Fatal().Err(err).Msg("reconcile: failed")
		}
		logger.Info().Int("jobs", n).Msg("reconcile: done")
		return
	}

	jobs, err := rt.Orchestrator.ListJobs(ctx, owner, domain.JobFilter{Limit: limit}, true)
	if err != nil {
		logger.Fatal().Err(err).Str("owner_id", owner).Msg("reconcile: list failed")
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(orchestrator.NewViews(jobs)); err != nil {
		logger.Fatal().Err(err).Msg("reconcile: write output")
	}
	logger.Info().Str("owner_id", owner).Int("jobs", len(jobs)).Msg("reconcile: done")
}

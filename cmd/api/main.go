package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"vidforge/internal/bootstrap"
	"vidforge/internal/http/handlers"
	httpapi "vidforge/internal/http/httpapi"
	"vidforge/internal/infra"
	"vidforge/internal/infra/geoip"
	"vidforge/internal/middleware"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.New(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise services")
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to release resources")
		}
	}()

	var lookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	} else if resolver != nil {
		defer resolver.Close()
		lookup = resolver.Lookup()
	}

	app := handlers.NewApp(rt.Orchestrator, rt.Ledger, &logger)
	app.Ping = rt.Ping

	opts := httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		DefaultLocale:   cfg.DefaultLocale,
		CountryLookup:   lookup,
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Logger:          &logger,
	}
	if rt.Redis != nil && cfg.RateLimitPerMin > 0 {
		opts.RateLimiter = middleware.NewRedisLimiter(rt.Redis, cfg.RateLimitPerMin, time.Minute)
	}
	if cfg.StorageDriver == "file" {
		opts.StaticDir = rt.StaticDir
	}
	router := httpapi.NewRouter(app, opts)

	server := infra.NewHTTPServer(cfg, router)
	logger.Info().Msgf("API listening on %s", server.Addr())
	if err := server.Run(ctx, nil); err != nil {
		logger.Error().Err(err).Msg("http server failed")
	}
	logger.Info().Msg("server stopped")
}

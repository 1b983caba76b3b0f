// Package bootstrap assembles the orchestrator and its collaborators from
// configuration. Both the API and the reconcile command start from here.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"vidforge/internal/adapter/repo"
	"vidforge/internal/adapter/sqlitestore"
	"vidforge/internal/domain"
	"vidforge/internal/infra"
	"vidforge/internal/infra/credentials"
	"vidforge/internal/infra/pollgate"
	"vidforge/internal/ingest"
	"vidforge/internal/ledger"
	"vidforge/internal/orchestrator"
	"vidforge/internal/providers/runway"
	"vidforge/internal/providers/sora"
	"vidforge/internal/providers/veo"
	"vidforge/internal/providers/video"
	"vidforge/internal/storage"
)

// Jobs is what the runtime needs from a datastore.
type Jobs interface {
	domain.JobRepository
	orchestrator.PendingLister
}

// Runtime holds the wired service plus everything that must be closed.
type Runtime struct {
	Orchestrator *orchestrator.Orchestrator
	Ledger       *ledger.Ledger
	Jobs         Jobs
	Providers    *video.Registry
	// StaticDir is the file storage root, empty for GCS.
	StaticDir string
	Ping      func(ctx context.Context) error
	// Redis is nil unless REDIS_URL is set and reachable.
	Redis *redis.Client

	closers []func() error
}

// Close releases resources in reverse order of acquisition.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Runtime) onClose(fn func() error) {
	r.closers = append(r.closers, fn)
}

// New connects the datastore, storage and providers described by cfg.
func New(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (*Runtime, error) {
	logger = infra.OrDiscard(logger)
	rt := &Runtime{}
	ok := false
	defer func() {
		if !ok {
			_ = rt.Close()
		}
	}()

	var (
		ledgerRepo domain.LedgerRepository
		keys       *credentials.Store
	)
	if cfg.UsesSQLite() {
		store, err := sqlitestore.Open(cfg.SQLitePath())
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		rt.onClose(store.Close)
		rt.Jobs, ledgerRepo, rt.Ping = store, store, store.Ping
		logger.Info().Str("path", cfg.SQLitePath()).Msg("bootstrap: using sqlite store")
	} else {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		rt.onClose(func() error { pool.Close(); return nil })
		if err := repo.EnsureSchema(ctx, pool); err != nil {
			return nil, err
		}
		runner := infra.NewSQLRunner(pool, *logger)
		rt.Jobs = repo.NewJobRepository(runner)
		ledgerRepo = repo.NewLedgerRepository(runner)
		keys = credentials.NewStore(runner)
		rt.Ping = pool.Ping
	}

	objects, objectReader, err := openStorage(ctx, cfg, rt)
	if err != nil {
		return nil, err
	}
	ingester := ingest.New(ingest.Options{
		Store:   objects,
		Objects: objectReader,
		Logger:  logger,
	})

	registry, err := buildProviders(ctx, cfg, keys, logger)
	if err != nil {
		return nil, err
	}
	rt.Providers = registry

	var gate pollgate.Gate
	if cfg.RedisURL != "" {
		client, err := pollgate.Dial(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("bootstrap: redis unavailable, poll gate and shared rate limit disabled")
		} else {
			rt.onClose(client.Close)
			rt.Redis = client
			if cfg.PollMinInterval > 0 {
				gate = pollgate.NewRedisGate(client, cfg.PollMinInterval)
			}
		}
	}

	pricing := ledger.Pricing{PerSegment: cfg.CreditsPerSegment, PerExtension: cfg.CreditsPerExtension}
	orch, err := orchestrator.New(orchestrator.Options{
		Jobs:             rt.Jobs,
		Providers:        registry,
		Ingester:         ingester,
		Pricing:          pricing,
		Gate:             gate,
		Logger:           logger,
		SegmentSeconds:   cfg.SegmentSeconds,
		ExtensionSeconds: cfg.ExtensionSeconds,
		MaxChainSegments: cfg.MaxChainSegments,
		ClaimTimeout:     cfg.ExtensionClaimTimeout,
		BackendTimeout:   cfg.BackendTimeout,
		Concurrency:      cfg.ReconcileConcurrency,
	})
	if err != nil {
		return nil, err
	}
	rt.Orchestrator = orch
	rt.Ledger = ledger.New(ledgerRepo)
	ok = true
	return rt, nil
}

func openStorage(ctx context.Context, cfg *infra.Config, rt *Runtime) (storage.ObjectStore, ingest.ObjectReader, error) {
	switch cfg.StorageDriver {
	case "gcs":
		gcs, err := storage.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCDNDomain)
		if err != nil {
			return nil, nil, err
		}
		rt.onClose(gcs.Close)
		return gcs, gcs, nil
	default:
		path := cfg.StoragePath
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		files, err := storage.NewFileStore(path, cfg.StorageBaseURL)
		if err != nil {
			return nil, nil, err
		}
		rt.StaticDir = files.BasePath()
		if !cfg.GCSReadMedia {
			return files, nil, nil
		}
		reader, err := storage.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCDNDomain)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs media reader: %w", err)
		}
		rt.onClose(reader.Close)
		return files, reader, nil
	}
}

func buildProviders(ctx context.Context, cfg *infra.Config, keys *credentials.Store, logger *infra.Logger) (*video.Registry, error) {
	resolve := func(provider, explicit string) string {
		key, err := keys.Resolve(ctx, provider, explicit)
		if err != nil {
			logger.Warn().Err(err).Str("provider", provider).Msg("bootstrap: failed to load stored api key")
			return explicit
		}
		return key
	}
	httpClient := &http.Client{Timeout: cfg.BackendTimeout + 30*time.Second}

	soraClient, err := sora.NewClient(sora.Options{
		APIKey:     resolve(credentials.ProviderSora, cfg.SoraAPIKey),
		BaseURL:    cfg.SoraBaseURL,
		Model:      cfg.SoraModel,
		HTTPClient: httpClient,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("configure sora client: %w", err)
	}
	veoClient, err := veo.NewClient(veo.Options{
		APIKey:     resolve(credentials.ProviderVeo, cfg.VeoAPIKey),
		BaseURL:    cfg.VeoBaseURL,
		Model:      cfg.VeoModel,
		HTTPClient: httpClient,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("configure veo client: %w", err)
	}
	runwayClient, err := runway.NewClient(runway.Options{
		APIKey:     resolve(credentials.ProviderRunway, cfg.RunwayAPIKey),
		BaseURL:    cfg.RunwayBaseURL,
		Model:      cfg.RunwayModel,
		APIVersion: cfg.RunwayAPIVersion,
		HTTPClient: httpClient,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("configure runway client: %w", err)
	}

	opOpts := video.OperationOptions{
		Estimator: video.Estimator{
			Short:     cfg.OperationExpectedShort,
			Long:      cfg.OperationExpectedLong,
			ShortClip: 5,
		},
		SegmentSeconds: cfg.SegmentSeconds,
	}
	registry := video.NewRegistry(
		video.NewPercentAdapter(soraClient),
		video.NewOperationAdapter(veoClient, opOpts),
		video.NewChainedAdapter(veoClient, opOpts),
		video.NewTaskRatioAdapter(runwayClient),
	)
	for _, tag := range registry.Available() {
		logger.Info().Str("provider", string(tag)).Msg("bootstrap: provider available")
	}
	return registry, nil
}

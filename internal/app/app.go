// Package app builds the long-lived services from configuration and owns
// their shutdown. It acts as the dependency injection container for the
// serve and scrape commands.
package app

import (
	"context"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/vehicle-scraper/internal/api"
	"github.com/JakeFAU/vehicle-scraper/internal/clock/system"
	"github.com/JakeFAU/vehicle-scraper/internal/config"
	"github.com/JakeFAU/vehicle-scraper/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/vehicle-scraper/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/vehicle-scraper/internal/fetcher/headless"
	"github.com/JakeFAU/vehicle-scraper/internal/hash/sha256"
	"github.com/JakeFAU/vehicle-scraper/internal/id/uuid"
	"github.com/JakeFAU/vehicle-scraper/internal/importer"
	"github.com/JakeFAU/vehicle-scraper/internal/metrics"
	"github.com/JakeFAU/vehicle-scraper/internal/orchestrator"
	"github.com/JakeFAU/vehicle-scraper/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/vehicle-scraper/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/vehicle-scraper/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/vehicle-scraper/internal/queue/memory"
	"github.com/JakeFAU/vehicle-scraper/internal/review"
	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
	"github.com/JakeFAU/vehicle-scraper/internal/source"
	"github.com/JakeFAU/vehicle-scraper/internal/source/html"
	"github.com/JakeFAU/vehicle-scraper/internal/storage/gcs"
	"github.com/JakeFAU/vehicle-scraper/internal/storage/local"
	"github.com/JakeFAU/vehicle-scraper/internal/storage/memory"
	"github.com/JakeFAU/vehicle-scraper/internal/storage/postgres"
	rediscache "github.com/JakeFAU/vehicle-scraper/internal/storage/redis"
	"github.com/JakeFAU/vehicle-scraper/internal/storage/s3"
)

// App holds the shared services for one process.
type App struct {
	Store        scraper.Store
	Queue        *queuememory.Queue
	Orchestrator *orchestrator.Orchestrator
	Dispatcher   *dispatcher.Dispatcher
	Reviews      *review.Service
	Importer     *importer.Merger
	Server       *api.Server

	logger  *zap.Logger
	closers []func()
}

// Overrides replaces collaborators that would otherwise be built from
// configuration. Tests use it to avoid network fetchers.
type Overrides struct {
	Adapters []scraper.Adapter
	Clock    scraper.Clock
}

// New initializes every service described by cfg. It fails fast when a
// configured backend cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, overrides Overrides) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	ready := map[string]api.ReadinessCheck{}

	store, err := a.buildStore(ctx, cfg, ready)
	if err != nil {
		return nil, err
	}
	a.Store = store

	configStore, err := a.buildConfigCache(ctx, cfg, store, ready)
	if err != nil {
		return nil, err
	}

	blobs, err := a.buildArchive(ctx, cfg)
	if err != nil {
		return nil, err
	}

	publisher, err := a.buildPublisher(ctx, cfg)
	if err != nil {
		return nil, err
	}

	registry, err := a.buildRegistry(cfg, overrides.Adapters)
	if err != nil {
		return nil, err
	}

	clock := overrides.Clock
	if clock == nil {
		clock = system.New()
	}
	ids := uuid.New()
	a.Queue = queuememory.NewQueue(cfg.Scraper.QueueDepth)
	a.closers = append(a.closers, a.Queue.Close)

	deps := orchestrator.Deps{
		Store:     store,
		Config:    configStore,
		Registry:  registry,
		Queue:     a.Queue,
		Publisher: publisher,
		Clock:     clock,
		IDs:       ids,
	}
	if blobs != nil {
		deps.Blobs = blobs
		deps.Hasher = sha256.New()
	}
	a.Orchestrator, err = orchestrator.New(deps, orchestrator.Config{
		AdapterTimeout: cfg.Scraper.AdapterTimeout,
		FetchDetails:   cfg.Scraper.FetchDetails,
		ArchivePrefix:  cfg.Archive.Prefix,
		EventsTopic:    cfg.PubSub.TopicName,
		PreviewSize:    cfg.Scraper.PreviewSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}
	a.Dispatcher = dispatcher.New(a.Queue, a.Orchestrator, cfg.Scraper.MaxConcurrentJobs, logger)
	a.Reviews = review.New(store, clock, logger)
	a.Importer = importer.New(store, clock, ids, logger)
	a.Server = api.NewServer(api.Deps{
		Jobs:    a.Orchestrator,
		Reviews: a.Reviews,
		Imports: a.Importer,
		Config:  configStore,
		Ready:   ready,
	}, cfg, logger)

	logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("archive", cfg.Archive.Backend),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Bool("pubsub", cfg.PubSub.Enabled),
		zap.Int("sources", len(registry.Sources())),
	)
	return a, nil
}

// ScrapeOnce starts a job and drives it to a terminal state on the calling
// goroutine. The dispatcher must not be running.
func (a *App) ScrapeOnce(ctx context.Context, src scraper.Source, targetCount int, executedBy string) (scraper.Job, error) {
	job, err := a.Orchestrator.StartJob(ctx, src, targetCount, executedBy)
	if err != nil {
		return scraper.Job{}, err
	}
	item, err := a.Queue.Dequeue(ctx)
	if err != nil {
		return scraper.Job{}, fmt.Errorf("dequeue job %s: %w", job.ID, err)
	}
	a.Orchestrator.Run(ctx, item)
	return a.Store.GetJob(context.WithoutCancel(ctx), job.ID)
}

// Close releases every resource in reverse construction order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) buildStore(ctx context.Context, cfg config.Config, ready map[string]api.ReadinessCheck) (scraper.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		if cfg.DB.MigrateOnStart {
			if err := postgres.MigrateUp(cfg.DB.DSN); err != nil {
				return nil, err
			}
			a.logger.Info("database migrations applied")
		}
		store, err := postgres.NewStore(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: cfg.DB.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize postgres store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		ready["postgres"] = store.Ping
		return store, nil
	case config.BackendMemory, "":
		a.logger.Warn("using in-memory storage; data is lost on restart")
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}

func (a *App) buildConfigCache(
	ctx context.Context,
	cfg config.Config,
	store scraper.ConfigStore,
	ready map[string]api.ReadinessCheck,
) (scraper.ConfigStore, error) {
	if !cfg.Redis.Enabled {
		return store, nil
	}
	client, err := rediscache.Dial(ctx, rediscache.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() {
		if err := client.Close(); err != nil {
			a.logger.Warn("close redis client", zap.Error(err))
		}
	})
	cache := rediscache.NewConfigCache(client, store, cfg.Redis.TTL, a.logger)
	ready["redis"] = cache.Ping
	return cache, nil
}

func (a *App) buildArchive(ctx context.Context, cfg config.Config) (scraper.BlobStore, error) {
	switch cfg.Archive.Backend {
	case config.ArchiveNone, "":
		return nil, nil
	case config.ArchiveMemory:
		return memory.NewBlobStore(), nil
	case config.ArchiveLocal:
		blobs, err := local.New(local.Config{BaseDir: cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("initialize local archive: %w", err)
		}
		return blobs, nil
	case config.ArchiveGCS:
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("close gcs client", zap.Error(err))
			}
		})
		blobs, err := gcs.New(client, gcs.Config{Bucket: cfg.Archive.GCS.Bucket})
		if err != nil {
			return nil, fmt.Errorf("initialize gcs archive: %w", err)
		}
		return blobs, nil
	case config.ArchiveS3:
		s3cfg := s3.Config{
			Bucket:    cfg.Archive.S3.Bucket,
			Region:    cfg.Archive.S3.Region,
			Endpoint:  cfg.Archive.S3.Endpoint,
			PathStyle: cfg.Archive.S3.PathStyle,
		}
		client, err := s3.NewClient(ctx, s3cfg)
		if err != nil {
			return nil, err
		}
		blobs, err := s3.New(client, s3cfg)
		if err != nil {
			return nil, fmt.Errorf("initialize s3 archive: %w", err)
		}
		return blobs, nil
	default:
		return nil, fmt.Errorf("unknown archive backend: %s", cfg.Archive.Backend)
	}
}

func (a *App) buildPublisher(ctx context.Context, cfg config.Config) (scraper.Publisher, error) {
	if !cfg.PubSub.Enabled {
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	publisher, err := pubsubpublisher.New(client, cfg.PubSub.TopicName)
	if err != nil {
		_ = client.Close() //nolint:errcheck // client never used
		return nil, err
	}
	a.closers = append(a.closers, func() {
		publisher.Close()
		if err := client.Close(); err != nil {
			a.logger.Warn("close pubsub client", zap.Error(err))
		}
	})
	return publisher, nil
}

func (a *App) buildRegistry(cfg config.Config, adapters []scraper.Adapter) (*source.Registry, error) {
	registry := source.NewRegistry()
	if len(adapters) == 0 {
		built, err := a.buildAdapters(cfg)
		if err != nil {
			return nil, err
		}
		adapters = built
	}
	for _, adapter := range adapters {
		if err := registry.Register(adapter); err != nil {
			return nil, fmt.Errorf("register adapter: %w", err)
		}
	}
	if len(registry.Sources()) == 0 {
		return nil, errors.New("no source adapters registered")
	}
	return registry, nil
}

func (a *App) buildAdapters(cfg config.Config) ([]scraper.Adapter, error) {
	sources, err := cfg.SourceConfigs()
	if err != nil {
		return nil, err
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		RespectRobots: cfg.HTTP.RespectRobots,
		Timeout:       cfg.HTTP.Timeout,
	})
	var renderer scraper.Fetcher = headlessfetcher.NewNoop()
	if cfg.Headless.Enabled {
		chrome, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTTP.UserAgent,
			NavigationTimeout: cfg.Headless.NavTimeout,
			WaitSelector:      cfg.Headless.WaitSelector,
			ScrollPasses:      cfg.Headless.ScrollPasses,
		})
		if err != nil {
			a.logger.Warn("headless fetcher init failed; rendering disabled", zap.Error(err))
		} else {
			renderer = chrome
			a.closers = append(a.closers, chrome.Close)
		}
	}
	limiter := ratelimit.New(cfg.RateLimit.Limiter())

	adapters := make([]scraper.Adapter, 0, len(sources))
	for _, sc := range sources {
		adapter, err := html.New(sc, fetcher, renderer, limiter, a.logger.Named("source"))
		if err != nil {
			return nil, fmt.Errorf("build %s adapter: %w", sc.Source, err)
		}
		adapters = append(adapters, adapter)
	}
	return adapters, nil
}

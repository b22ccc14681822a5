// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcsstorage "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/music-content-pipeline/internal/clock"
	"github.com/JakeFAU/music-content-pipeline/internal/config"
	"github.com/JakeFAU/music-content-pipeline/internal/content"
	"github.com/JakeFAU/music-content-pipeline/internal/discovery"
	"github.com/JakeFAU/music-content-pipeline/internal/extractor"
	"github.com/JakeFAU/music-content-pipeline/internal/fetcher"
	collyfetcher "github.com/JakeFAU/music-content-pipeline/internal/fetcher/colly"
	"github.com/JakeFAU/music-content-pipeline/internal/hash/sha256"
	"github.com/JakeFAU/music-content-pipeline/internal/id/uuid"
	"github.com/JakeFAU/music-content-pipeline/internal/pipeline"
	"github.com/JakeFAU/music-content-pipeline/internal/policy/ratelimit"
	pubmemory "github.com/JakeFAU/music-content-pipeline/internal/publisher/memory"
	"github.com/JakeFAU/music-content-pipeline/internal/publisher/pubsub"
	"github.com/JakeFAU/music-content-pipeline/internal/safety"
	"github.com/JakeFAU/music-content-pipeline/internal/storage/gcs"
	"github.com/JakeFAU/music-content-pipeline/internal/storage/local"
	"github.com/JakeFAU/music-content-pipeline/internal/storage/memory"
	"github.com/JakeFAU/music-content-pipeline/internal/storage/postgres"
	"github.com/JakeFAU/music-content-pipeline/internal/storage/s3"
	"github.com/JakeFAU/music-content-pipeline/internal/uploader"
	"github.com/JakeFAU/music-content-pipeline/internal/validator"
)

// recentEvents bounds the in-memory notification log.
const recentEvents = 100

// App holds the shared, long-lived services for one process. It is built
// once at startup from Config and closed on shutdown.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store     content.ObjectStore
	runs      content.RunStore
	ledger    *postgres.LedgerStore
	pool      *pgxpool.Pool
	publisher content.Publisher
	ids       content.IDGenerator
	clock     content.Clock
	scraper   *pipeline.Scraper

	closers []func() error
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Scraper returns the configured pipeline orchestrator.
func (a *App) Scraper() *pipeline.Scraper {
	return a.scraper
}

// Runs returns the run status store. It is Postgres-backed when a DSN is
// configured and in-memory otherwise.
func (a *App) Runs() content.RunStore {
	return a.runs
}

// Publisher returns the batch notification publisher.
func (a *App) Publisher() content.Publisher {
	return a.publisher
}

// Store returns the artifact object store.
func (a *App) Store() content.ObjectStore {
	return a.store
}

// IDs returns the shared identifier generator.
func (a *App) IDs() content.IDGenerator {
	return a.ids
}

// Clock returns the shared clock.
func (a *App) Clock() content.Clock {
	return a.clock
}

// Ping reports whether the ledger database is reachable. It is a no-op
// without a configured DSN.
func (a *App) Ping(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// New builds every service described by cfg. It fails fast when a
// configured backend cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		ids:    uuid.New(),
		clock:  clock.NewSystem(),
	}
	if err := a.init(ctx); err != nil {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("cleanup after failed init", zap.Error(cerr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	a.logger.Info("initializing application services")

	store, err := a.buildObjectStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.store = store

	if err := a.initDatabase(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if a.cfg.PubSub.ProjectID != "" {
		a.logger.Info("connecting to pubsub", zap.String("topic", a.cfg.PubSub.TopicName))
		pub, err := pubsub.Connect(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
		if err != nil {
			return fmt.Errorf("failed to initialize publisher: %w", err)
		}
		a.publisher = pub
		a.closers = append(a.closers, pub.Close)
	} else {
		a.logger.Info("pubsub disabled; batch notifications are kept in memory")
		a.publisher = pubmemory.New(recentEvents, a.logger.Named("publisher"))
	}

	scraper, err := a.buildScraper()
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	a.scraper = scraper
	return nil
}

func (a *App) buildObjectStore(ctx context.Context) (content.ObjectStore, error) {
	sc := a.cfg.Storage
	switch sc.Provider {
	case config.StorageMemory, "":
		a.logger.Info("using in-memory object store; artifacts are discarded on exit")
		return memory.NewBlobStore(), nil
	case config.StorageLocal:
		a.logger.Info("using local object store", zap.String("base_dir", sc.BaseDir))
		store, err := local.New(local.Config{BaseDir: sc.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local store: %w", err)
		}
		return store, nil
	case config.StorageGCS:
		a.logger.Info("using gcs object store", zap.String("bucket", sc.Bucket))
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcs.New(client, gcs.Config{Bucket: sc.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs store: %w", err)
		}
		return store, nil
	case config.StorageS3:
		a.logger.Info("using s3 object store", zap.String("endpoint", sc.S3.Endpoint), zap.String("bucket", sc.Bucket))
		store, err := s3.New(s3.Config{
			Endpoint:  sc.S3.Endpoint,
			Bucket:    sc.Bucket,
			Region:    sc.S3.Region,
			AccessKey: sc.S3.AccessKey,
			SecretKey: sc.S3.SecretKey,
			UseSSL:    sc.S3.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", sc.Provider)
	}
}

func (a *App) initDatabase(ctx context.Context) error {
	db := a.cfg.DB
	if db.DSN == "" {
		a.logger.Info("no database configured; run status is kept in memory and the ledger is disabled")
		a.runs = memory.NewRunStore()
		return nil
	}

	a.logger.Info("connecting to postgres")
	pool, err := postgres.Connect(ctx, postgres.Config{DSN: db.DSN, MaxConns: db.MaxConns})
	if err != nil {
		return err
	}
	a.pool = pool
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})

	ledger, err := postgres.NewLedgerStore(pool, db.BatchTable, db.RecordTable)
	if err != nil {
		return fmt.Errorf("ledger store: %w", err)
	}
	if err := ledger.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ledger schema: %w", err)
	}
	runs, err := postgres.NewRunStore(pool, db.RunTable)
	if err != nil {
		return fmt.Errorf("run store: %w", err)
	}
	if err := runs.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("run schema: %w", err)
	}
	a.ledger = ledger
	a.runs = runs
	return nil
}

func (a *App) buildScraper() (*pipeline.Scraper, error) {
	fc := a.cfg.Fetcher
	getter := collyfetcher.New(collyfetcher.Config{
		UserAgent:             fc.UserAgent,
		Timeout:               seconds(fc.TimeoutSeconds),
		ConnectTimeout:        seconds(fc.ConnectTimeoutSeconds),
		MaxConnections:        fc.MaxConnections,
		MaxConnectionsPerHost: fc.MaxConnectionsPerHost,
	})
	limiter := ratelimit.New(ratelimit.Config{RequestsPerSecond: fc.RateLimitRPS})
	fetch := fetcher.New(getter, limiter, fetcher.Config{
		MinContentChars:  fc.MinContentChars,
		BatchConcurrency: fc.BatchConcurrency,
	}, a.logger.Named("fetcher"))

	extract := extractor.New(a.ids, a.clock, extractor.Config{
		ReadabilityEnabled: a.cfg.Extractor.ReadabilityEnabled,
	}, a.logger.Named("extractor"))

	vc := a.cfg.Validator
	val := validator.New(validator.Config{
		Factors:             vc.Factors,
		KnownSources:        validator.KnownSources,
		MinBatchSuccessRate: vc.MinBatchSuccessRate,
		MinBatchMeanScore:   vc.MinBatchMeanScore,
	}, a.logger.Named("validator"))

	gate := safety.New(val, a.cfg.Safety.MaxBatchSize, a.logger.Named("safety"))

	uc := a.cfg.Uploader
	up, err := uploader.New(a.store, sha256.New(), a.clock, uploader.Config{
		Bucket:           a.cfg.Storage.Bucket,
		Version:          uc.Version,
		ProcessorVersion: uc.ProcessorVersion,
		Retry: uploader.NewRetryPolicy(uc.MaxAttempts,
			time.Duration(uc.BackoffInitialMs)*time.Millisecond,
			time.Duration(uc.BackoffMaxMs)*time.Millisecond),
	}, a.logger.Named("uploader"))
	if err != nil {
		return nil, fmt.Errorf("uploader: %w", err)
	}

	deps := pipeline.Deps{
		Discoverer: discovery.NewStatic(a.cfg.SourceURLs()),
		Fetcher:    fetch,
		Extractor:  extract,
		Enhancer:   pipeline.DefaultEnhancer{},
		Validator:  val,
		Gate:       gate,
		Uploader:   up,
		Publisher:  a.publisher,
		IDs:        a.ids,
		Clock:      a.clock,
	}
	// A nil *LedgerStore must not become a non-nil interface.
	if a.ledger != nil {
		deps.Ledger = a.ledger
	}

	pc := a.cfg.Pipeline
	scraper, err := pipeline.New(deps, pipeline.Config{
		Concurrency:        pc.Concurrency,
		MaxArticles:        pc.MaxArticlesPerRun,
		ValidationRequired: pc.ValidationRequired,
		RelevanceMinHits:   pc.RelevanceMinHits,
		DisplayNames:       a.cfg.DisplayNames(),
	}, a.logger.Named("pipeline"))
	if err != nil {
		return nil, fmt.Errorf("scraper: %w", err)
	}
	return scraper, nil
}

// Close releases every service in reverse construction order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close services: %w", err)
	}
	a.logger.Info("application services closed")
	return nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Package app builds the long-lived services shared by the ingest, gaps and
// serve commands from a loaded configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/Isagog/copertinefull/internal/api"
	"github.com/Isagog/copertinefull/internal/asset"
	rediscache "github.com/Isagog/copertinefull/internal/cache/redis"
	"github.com/Isagog/copertinefull/internal/clock/system"
	"github.com/Isagog/copertinefull/internal/config"
	"github.com/Isagog/copertinefull/internal/edition"
	collyfetcher "github.com/Isagog/copertinefull/internal/fetcher/colly"
	headlessfetcher "github.com/Isagog/copertinefull/internal/fetcher/headless"
	"github.com/Isagog/copertinefull/internal/fetcher/promote"
	"github.com/Isagog/copertinefull/internal/gaps"
	"github.com/Isagog/copertinefull/internal/headless/detector"
	"github.com/Isagog/copertinefull/internal/id/uuid"
	"github.com/Isagog/copertinefull/internal/pipeline"
	"github.com/Isagog/copertinefull/internal/policy/ratelimit"
	gcppublisher "github.com/Isagog/copertinefull/internal/publisher/pubsub"
	"github.com/Isagog/copertinefull/internal/source/cms"
	"github.com/Isagog/copertinefull/internal/source/html"
	gcsstorage "github.com/Isagog/copertinefull/internal/storage/gcs"
	localstorage "github.com/Isagog/copertinefull/internal/storage/local"
	memorystorage "github.com/Isagog/copertinefull/internal/storage/memory"
	pgstore "github.com/Isagog/copertinefull/internal/storage/postgres"
	"github.com/Isagog/copertinefull/internal/store"
	"github.com/Isagog/copertinefull/internal/upsert"
)

// App holds the services built from a Config. Close releases them.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     store.Client
	blobs     edition.BlobStore
	publisher edition.Publisher
	clock     *system.Clock

	gcsClient *storage.Client
	pubsub    *gcppublisher.Publisher
	headless  *headlessfetcher.Fetcher
	cache     *rediscache.Cache
}

// Build connects the document store, asset store and optional publisher.
// The store collection is ensured here, so an unreachable store fails fast.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.NewIn(cfg.Location()),
	}

	if err := a.setupStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.setupBlobs(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.setupPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// WithStore builds an App around existing stores. Used by tests and tools
// that manage their own connections.
func WithStore(cfg config.Config, docs store.Client, blobs edition.BlobStore, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  docs,
		blobs:  blobs,
		clock:  system.NewIn(cfg.Location()),
	}
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.Store.Provider {
	case "postgres":
		docs, err := pgstore.NewDocumentStore(ctx, pgstore.Config{
			DSN:      a.cfg.Store.DSN,
			Table:    a.cfg.Store.Table,
			MaxConns: a.cfg.Store.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("document store init failed: %w", err)
		}
		a.store = docs
		a.logger.Info("using postgres document store", zap.String("table", a.cfg.Store.Table))
	default:
		a.store = memorystorage.NewDocumentStore()
		a.logger.Warn("using in-memory document store, editions are lost on exit")
	}
	if err := a.store.EnsureCollection(ctx, a.cfg.Store.Collection); err != nil {
		return fmt.Errorf("ensure collection %s: %w", a.cfg.Store.Collection, err)
	}
	return nil
}

func (a *App) setupBlobs(ctx context.Context) error {
	switch a.cfg.Assets.Provider {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		a.blobs, err = gcsstorage.New(client, gcsstorage.Config{
			Bucket: a.cfg.Assets.GCSBucket,
			Prefix: a.cfg.Assets.GCSPrefix,
		})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS asset store", zap.String("bucket", a.cfg.Assets.GCSBucket))
	default:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Assets.Dir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobs = blobs
		a.logger.Info("using local asset store", zap.String("dir", blobs.Dir()))
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.Topic == "" {
		a.logger.Debug("no Pub/Sub topic configured, ingestion events disabled")
		return nil
	}
	pub, err := gcppublisher.New(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.pubsub = pub
	a.publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return nil
}

// Store returns the document store.
func (a *App) Store() store.Client { return a.store }

// Clock returns the publication-zone clock.
func (a *App) Clock() *system.Clock { return a.clock }

// Pipeline wires sources, asset resolution and the upsert engine. The CMS
// adapter is only built for the cms source, so its credentials are not
// required for HTML runs.
func (a *App) Pipeline(source edition.SourceKind) (*pipeline.Pipeline, error) {
	fetcher, err := a.fetcher()
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Publisher: a.publisher,
		Clock:     a.clock,
	}

	var images asset.ImageResolver
	switch source {
	case edition.SourceCMS:
		if err := a.cfg.ValidateCMS(); err != nil {
			return nil, fmt.Errorf("cms source: %w", err)
		}
		adapter, err := cms.New(cms.Config{
			BaseURL:           a.cfg.CMS.BaseURL,
			Token:             a.cfg.CMS.Token,
			SyncSource:        a.cfg.CMS.SyncSource,
			CoverField:        a.cfg.CMS.CoverField,
			ServerSideNonNull: a.cfg.CMS.ServerSideNonNull,
		}, fetcher, a.logger.Named("cms"))
		if err != nil {
			return nil, fmt.Errorf("cms adapter: %w", err)
		}
		deps.CMS = adapter
		images = adapter
	case edition.SourceHTML:
		limiter := ratelimit.New(ratelimit.Config{Interval: a.cfg.PageDelay()})
		adapter, err := html.New(html.Config{
			SiteOrigin:  a.cfg.HTML.SiteOrigin,
			EditionPath: a.cfg.HTML.EditionPath,
		}, fetcher, limiter, a.logger.Named("html"))
		if err != nil {
			return nil, fmt.Errorf("html adapter: %w", err)
		}
		deps.HTML = adapter
	default:
		return nil, fmt.Errorf("unknown source %q", source)
	}

	deps.Assets, err = asset.New(asset.Config{SiteOrigin: a.cfg.HTML.SiteOrigin},
		fetcher, a.blobs, images, a.logger.Named("asset"))
	if err != nil {
		return nil, fmt.Errorf("asset resolver: %w", err)
	}

	engine, err := a.Engine()
	if err != nil {
		return nil, err
	}
	deps.Engine = engine

	base, ceiling := a.cfg.Backoff()
	deps.Retry = pipeline.NewExponentialRetryPolicy(a.cfg.HTTP.MaxRetries, base, ceiling)

	p, err := pipeline.New(pipeline.Config{
		PublisherName: a.cfg.Edition.PublisherName,
		Topic:         a.cfg.PubSub.Topic,
	}, deps, a.logger.Named("pipeline"))
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	return p, nil
}

// Engine builds the upsert engine over the document store.
func (a *App) Engine() (*upsert.Engine, error) {
	engine, err := upsert.New(a.store, uuid.New(a.cfg.Store.Namespace), upsert.Config{
		Collection:     a.cfg.Store.Collection,
		LookupLimit:    a.cfg.Store.LookupLimit,
		VerifyAttempts: a.cfg.Store.VerifyAttempts,
		VerifyDelay:    a.cfg.VerifyDelay(),
	}, a.logger.Named("upsert"))
	if err != nil {
		return nil, fmt.Errorf("upsert engine: %w", err)
	}
	return engine, nil
}

// fetcher returns the colly fetcher, promoted to headless Chrome for pages
// that arrive unrendered when html.headless is set.
func (a *App) fetcher() (edition.Fetcher, error) {
	primary := collyfetcher.New(collyfetcher.Config{
		UserAgent:    a.cfg.HTTP.UserAgent,
		Timeout:      a.cfg.HTTPTimeout(),
		MaxBodyBytes: a.cfg.HTTP.MaxBodyBytes,
	})
	if !a.cfg.HTML.Headless {
		return primary, nil
	}
	if a.headless == nil {
		a.headless = headlessfetcher.NewChromedp(headlessfetcher.Config{
			UserAgent:         a.cfg.HTTP.UserAgent,
			NavigationTimeout: a.cfg.HTTPTimeout(),
			WaitSelector:      "body",
			Settle:            500 * time.Millisecond,
		})
		a.logger.Info("headless promotion enabled")
	}
	f, err := promote.New(primary, a.headless, detector.NewHeuristic(0, html.RenderedMarker), a.logger.Named("fetch"))
	if err != nil {
		return nil, fmt.Errorf("promoting fetcher: %w", err)
	}
	return f, nil
}

// Calendar builds the publication calendar from the gaps settings.
func (a *App) Calendar() (gaps.Calendar, error) {
	off, err := gaps.ParseWeekday(a.cfg.Gaps.OffDay)
	if err != nil {
		return gaps.Calendar{}, fmt.Errorf("gaps.off_day: %w", err)
	}
	holidays, err := gaps.ParseHolidays(a.cfg.Gaps.Holidays)
	if err != nil {
		return gaps.Calendar{}, fmt.Errorf("gaps.holidays: %w", err)
	}
	return gaps.Calendar{OffDay: off, Holidays: holidays}, nil
}

// Detector builds the gap detector over the document store.
func (a *App) Detector() (*gaps.Detector, error) {
	d, err := gaps.NewDetector(a.store, a.clock, a.cfg.Store.Collection, a.cfg.Gaps.LoadLimit, a.logger.Named("gaps"))
	if err != nil {
		return nil, fmt.Errorf("gap detector: %w", err)
	}
	return d, nil
}

// APIServer builds the read API, caching through redis when configured.
func (a *App) APIServer(ctx context.Context) *api.Server {
	var cache api.Cache
	if a.cfg.Server.RedisAddr != "" {
		c := rediscache.New(a.cfg.Server.RedisAddr, a.cfg.CacheTTL())
		if err := c.Ping(ctx); err != nil {
			a.logger.Warn("redis unreachable, serving without cache",
				zap.String("addr", a.cfg.Server.RedisAddr), zap.Error(err))
			if cerr := c.Close(); cerr != nil {
				a.logger.Debug("redis close failed", zap.Error(cerr))
			}
		} else {
			a.cache = c
			cache = c
			a.logger.Info("redis response cache enabled", zap.String("addr", a.cfg.Server.RedisAddr))
		}
	}
	return api.NewServer(a.store, cache, api.Config{
		Collection: a.cfg.Store.Collection,
		APIKey:     a.cfg.Server.APIKey,
	}, a.logger.Named("api"))
}

// Close releases every service Build created.
func (a *App) Close() {
	var errs []error
	if a.headless != nil {
		a.headless.Close()
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.pubsub != nil {
		errs = append(errs, a.pubsub.Close())
	}
	if a.gcsClient != nil {
		errs = append(errs, a.gcsClient.Close())
	}
	if a.store != nil {
		a.store.Close()
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown errors", zap.Error(err))
	}
}

// Package app composes every enrichment-pipeline component into one
// running process: explicitly-constructed services at startup, wired
// in one place (one function loading config and constructing the
// service layer) rather than left to package-level init.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/NukkadFoods/Webstorybackend/internal/config"
	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/ai"
	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/article"
	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/cache"
	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/cacheshard"
	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/credential"
	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/fetcher"
	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/queue"
	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/scheduler"
	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/store"
	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/threshold"
	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/worker"
	"github.com/NukkadFoods/Webstorybackend/internal/logger"
)

// Sections is the closed enumeration fixed at startup. A real
// deployment would source this from configuration.
var Sections = []string{"politics", "us", "world", "business", "technology", "sports", "arts"}

// sectionSourceSelectors maps each section to its publisher listing
// page selectors; New picks each section's credential pool. In
// production these selectors would be read from configuration per
// publisher; fixed here as a static section -> selector map.
var sectionSourceSelectors = map[string]fetcher.ItemSelector{
	"politics":   {ListingURL: "https://example-publisher-a.test/politics", Item: ".story", Title: ".headline", Link: "a", Abstract: ".dek", Image: "img"},
	"us":         {ListingURL: "https://example-publisher-a.test/us", Item: ".story", Title: ".headline", Link: "a", Abstract: ".dek", Image: "img"},
	"world":      {ListingURL: "https://example-publisher-b.test/world", Item: ".story", Title: ".headline", Link: "a", Abstract: ".dek", Image: "img"},
	"business":   {ListingURL: "https://example-publisher-b.test/business", Item: ".story", Title: ".headline", Link: "a", Abstract: ".dek", Image: "img"},
	"technology": {ListingURL: "https://example-publisher-b.test/technology", Item: ".story", Title: ".headline", Link: "a", Abstract: ".dek", Image: "img"},
	"sports":     {ListingURL: "https://example-publisher-a.test/sports", Item: ".story", Title: ".headline", Link: "a", Abstract: ".dek", Image: "img"},
	"arts":       {ListingURL: "https://example-publisher-a.test/arts", Item: ".story", Title: ".headline", Link: "a", Abstract: ".dek", Image: "img"},
}

// App holds every constructed service for the process's lifetime.
type App struct {
	Config      *config.Config
	CacheShards *cacheshard.Pool
	Cache       *cache.Facade
	AICreds     *credential.Pool
	Store       *store.Adapter
	Threshold   *threshold.Gate
	Queue       *queue.Queue
	Worker      *worker.Worker
	Fetcher     *fetcher.Fetcher
	Scheduler   *scheduler.Scheduler
}

// allSectionsGate adapts the threshold gate for the fetcher: cache
// admission is open only while every section meets the threshold.
type allSectionsGate struct{ g *threshold.Gate }

func (a allSectionsGate) IsOpen(string) bool { return a.g.AllMet() }

// New constructs every component in dependency order: shard pool,
// cache facade, AI credential pool, store adapter, gate, worker and
// queue, then the publisher credential pools, fetcher and scheduler.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	shardEndpoints := make([]cacheshard.ShardEndpoint, 0, len(cfg.CacheShards))
	for _, s := range cfg.CacheShards {
		shardEndpoints = append(shardEndpoints, cacheshard.ShardEndpoint{ID: s.ID, Endpoint: s.Endpoint, Token: s.Token})
	}
	shardPool := cacheshard.NewPool(shardEndpoints, 100000, cfg.CacheDisabled)
	shardPool.StartHealthChecks(ctx)

	cacheFacade := cache.New(shardPool)

	aiParams := credential.DefaultAIParams()
	aiSecrets := make([]string, 0, len(cfg.AICredentials))
	for _, c := range cfg.AICredentials {
		aiSecrets = append(aiSecrets, c.Secret)
	}
	aiPool := credential.New("ai", aiSecrets, 1_000_000, aiParams)

	storeAdapter, err := store.Connect(ctx, cfg.StoreURI, "enrichment", "articles")
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}

	gate := threshold.New(storeAdapter, Sections, cfg.SectionThreshold)

	aiFactory := func(ctx context.Context, secret string) (worker.AIClient, error) {
		return ai.NewClient(ctx, secret, "")
	}
	w := worker.New(cacheFacade, storeAdapter, aiPool, aiFactory)

	q := queue.New(storeAdapter, cacheFacade, queue.Options{})
	q.SetHandler(func(ctx context.Context, job *queue.Job) error {
		result, err := w.Enrich(ctx, worker.Request{
			ArticleID:   job.ArticleID,
			Title:       job.Title,
			Section:     job.Section,
			Snapshot:    job.Snapshot,
			Attempts:    job.Attempts,
			MaxAttempts: job.MaxAttempts,
		})
		if err != nil {
			return err
		}
		_ = result
		return nil
	})

	publisherBParams := credential.DefaultPublisherParams()
	publisherBSecrets := make([]string, 0, len(cfg.PublisherBCredentials))
	for _, c := range cfg.PublisherBCredentials {
		publisherBSecrets = append(publisherBSecrets, c.Secret)
	}
	publisherBPool := credential.New("publisher-b", publisherBSecrets, 1000, publisherBParams)

	var publisherASecrets []string
	if cfg.PublisherACredential.Secret != "" {
		publisherASecrets = append(publisherASecrets, cfg.PublisherACredential.Secret)
	}
	publisherAPool := credential.New("publisher-a", publisherASecrets, 1000, credential.DefaultPublisherParams())

	sources := make(map[string]fetcher.Source, len(sectionSourceSelectors))
	for section, selector := range sectionSourceSelectors {
		pool := publisherAPool
		sourceName := "publisher-a"
		if section == "world" || section == "business" || section == "technology" {
			pool = publisherBPool
			sourceName = "publisher-b"
		}
		sources[section] = fetcher.NewHTMLSource(selector, sourceName, pool)
	}

	f := fetcher.New(sources, storeAdapter, cacheFacade, allSectionsGate{gate}, w)

	period := time.Duration(cfg.RotationPeriodSec) * time.Second
	sched := scheduler.New(Sections, period, f)

	return &App{
		Config:      cfg,
		CacheShards: shardPool,
		Cache:       cacheFacade,
		AICreds:     aiPool,
		Store:       storeAdapter,
		Threshold:   gate,
		Queue:       q,
		Worker:      w,
		Fetcher:     f,
		Scheduler:   sched,
	}, nil
}

// Start launches the scheduler, the queue dispatcher, and a periodic
// threshold re-check.
func (a *App) Start(ctx context.Context) {
	a.Scheduler.Start(ctx)
	a.Queue.Start(ctx)
	go a.thresholdLoop(ctx)
}

func (a *App) thresholdLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Threshold.CheckThreshold(ctx); err != nil {
				logger.Warn("threshold check failed", "error", err)
			}
		}
	}
}

// Shutdown closes every component in order: workers -> queue ->
// scheduler -> adapters (cache, store, balancers).
func (a *App) Shutdown(ctx context.Context) {
	a.Queue.Stop()
	a.Queue.Wait()
	a.Scheduler.Stop()
	a.CacheShards.Close()
	_ = a.Store.Close(ctx)
}

// SubmitAdHoc submits one high-priority job for an already-known
// article, used by the `enrich` CLI command.
func (a *App) SubmitAdHoc(ctx context.Context, art article.Article) (queue.AdmitResult, error) {
	return a.Queue.Submit(ctx, art, 1, 0)
}

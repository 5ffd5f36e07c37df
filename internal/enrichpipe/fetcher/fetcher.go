// Package fetcher pulls a batch from a section's upstream source,
// normalizes to the canonical Article shape, dedupes against the store
// by URL, and drives enrichment synchronously per item.
package fetcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/article"
	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/worker"
	"github.com/NukkadFoods/Webstorybackend/internal/logger"
)

const courtesyPause = 2 * time.Second

// Source pulls a raw batch for one section from its upstream and
// normalizes each item to the canonical Article shape. Each concrete
// publisher adapter (e.g. an RSS/HTML source wrapped in goquery
// extraction, or a JSON API behind a publisher credential pool)
// implements this.
type Source interface {
	Fetch(ctx context.Context, section string, max int) ([]article.Article, error)
}

// Store is the subset of the Document Store Adapter the fetcher needs.
type Store interface {
	FindByURL(ctx context.Context, url string) (*article.Article, error)
	UpsertByURL(ctx context.Context, a article.Article) error
}

// Cache is the subset of the Tiered Cache Facade the fetcher needs for
// post-enrichment article caching and section-list invalidation.
type Cache interface {
	SetRaw(ctx context.Context, key, value string, ttl time.Duration) error
	Invalidate(ctx context.Context, patterns []string) (int, error)
}

// ThresholdGate reports whether the cache-admission gate is open.
type ThresholdGate interface {
	IsOpen(section string) bool
}

// Fetcher is the Article Fetcher.
type Fetcher struct {
	sources map[string]Source
	store   Store
	cache   Cache
	gate    ThresholdGate
	worker  *worker.Worker
}

// New constructs a Fetcher with a static section->source map.
func New(sources map[string]Source, store Store, c Cache, gate ThresholdGate, w *worker.Worker) *Fetcher {
	return &Fetcher{sources: sources, store: store, cache: c, gate: gate, worker: w}
}

// Run pulls up to maxToProcess new items for section, enriches each
// synchronously, and returns how many were enriched and persisted.
func (f *Fetcher) Run(ctx context.Context, section string, maxToProcess int) (int, error) {
	source, ok := f.sources[section]
	if !ok {
		return 0, errUnknownSection(section)
	}

	items, err := source.Fetch(ctx, section, maxToProcess)
	if err != nil {
		return 0, err
	}

	enriched := 0
	for i, item := range items {
		if enriched >= maxToProcess {
			break
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return enriched, ctx.Err()
			case <-time.After(courtesyPause):
			}
		}

		existing, _ := f.store.FindByURL(ctx, item.URL)
		if existing != nil && existing.IsComplete() {
			continue
		}

		result, err := f.worker.Enrich(ctx, worker.Request{
			ArticleID:   item.ID,
			Title:       item.Title,
			Section:     item.Section,
			Snapshot:    item,
			Attempts:    1,
			MaxAttempts: 1,
		})
		if err != nil {
			logger.Warn("inline enrichment failed", "articleId", item.ID, "url", item.URL, "error", err)
			continue
		}

		item.AICommentary = result.Commentary
		item.CommentarySource = result.Source
		if err := f.store.UpsertByURL(ctx, item); err != nil {
			logger.Warn("store upsert failed after enrichment", "articleId", item.ID, "error", err)
			continue
		}

		if f.gate != nil && f.gate.IsOpen(section) {
			if encoded, err := encodeArticle(item); err == nil {
				if err := f.cache.SetRaw(ctx, "article:"+item.ID, encoded, 1800*time.Second); err != nil {
					logger.Warn("failed to cache published article", "articleId", item.ID, "error", err)
				}
			}
		}

		enriched++
	}

	if enriched > 0 {
		if _, err := f.cache.Invalidate(ctx, []string{"section:" + section + ":*"}); err != nil {
			logger.Warn("section cache invalidation failed", "section", section, "error", err)
		}
	}
	return enriched, nil
}

func encodeArticle(a article.Article) (string, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type unknownSectionError string

func (e unknownSectionError) Error() string {
	return "fetcher: no source configured for section " + string(e)
}

func errUnknownSection(section string) error { return unknownSectionError(section) }

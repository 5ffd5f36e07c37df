// Package worker implements the enrichment worker: the cache-first AI
// lookup, article snapshot caching, store persistence, and the
// deterministic fallback path invoked on terminal queue failure.
// Shared by the synchronous fetcher path and the asynchronous job
// queue path.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/article"
	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/cache"
	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/credential"
	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/errs"
	"github.com/NukkadFoods/Webstorybackend/internal/logger"
)

const (
	articleSnapshotTTL = 1800 * time.Second
	aiCallTimeout      = 30 * time.Second
)

// AIClient is the subset of ai.Client the worker needs, narrowed so
// this package depends only on the signature, not the genai wiring.
type AIClient interface {
	GenerateCommentary(ctx context.Context, title, section string) (string, int64, error)
}

// AIClientFactory constructs an AIClient bound to one credential's
// secret; the credential pool calls this once per dispatch attempt so
// each attempt uses an isolated client.
type AIClientFactory func(ctx context.Context, secret string) (AIClient, error)

// Cache is the subset of the Tiered Cache Facade the worker needs.
type Cache interface {
	GetOrSet(ctx context.Context, key string, ttl cache.TTLClass, fetch cache.FetchFunc) (string, error)
	SetRaw(ctx context.Context, key, value string, ttl time.Duration) error
}

// Store is the subset of the Document Store Adapter the worker needs.
type Store interface {
	UpsertByURL(ctx context.Context, a article.Article) error
}

// Worker performs enrichment for a single article at a time; callers
// (queue or fetcher) provide concurrency.
type Worker struct {
	cache      Cache
	store      Store
	credential *credential.Pool
	newClient  AIClientFactory
}

func New(c Cache, s Store, pool *credential.Pool, factory AIClientFactory) *Worker {
	return &Worker{cache: c, store: s, credential: pool, newClient: factory}
}

// Request carries what the worker needs for one article; both the
// queue and the fetcher construct this from their own job/item shapes.
type Request struct {
	ArticleID   string
	Title       string
	Section     string
	Snapshot    article.Article
	Attempts    int
	MaxAttempts int
}

// Result reports the commentary produced and which path produced it.
type Result struct {
	Commentary string
	Source     article.CommentarySource
}

// Enrich runs the worker's five-step process. A non-nil error
// wrapping errs.ErrRateLimit or errs.ErrExhaustedAllCredentials signals
// the caller should retry rather than treat this as terminal; all
// other errors are also retryable until the caller's own attempt
// budget is spent, at which point Enrich itself takes the fallback
// path once MaxAttempts is reached.
func (w *Worker) Enrich(ctx context.Context, req Request) (Result, error) {
	commentaryKey := cache.CommentaryKey(req.ArticleID)

	text, err := w.cache.GetOrSet(ctx, commentaryKey, cache.TTLCommentary, func(ctx context.Context) (string, error) {
		return w.generate(ctx, req.Title, req.Section)
	})

	if err != nil {
		if req.Attempts >= req.MaxAttempts {
			return w.fallback(ctx, req)
		}
		if errors.Is(err, errs.ErrRateLimit) || errors.Is(err, errs.ErrExhaustedAllCredentials) {
			return Result{}, err
		}
		return Result{}, err
	}

	result := Result{Commentary: text, Source: article.CommentarySourceAI}
	w.cacheSnapshot(ctx, req, result)
	w.persist(ctx, req, result)
	return result, nil
}

func (w *Worker) generate(ctx context.Context, title, section string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, aiCallTimeout)
	defer cancel()

	var text string
	_, err := w.credential.Dispatch(ctx, func(ctx context.Context, secret string) (int64, error) {
		client, cerr := w.newClient(ctx, secret)
		if cerr != nil {
			return 0, cerr
		}
		generated, tokens, gerr := client.GenerateCommentary(ctx, title, section)
		if gerr != nil {
			return 0, gerr
		}
		text = generated
		return tokens, nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// cacheSnapshot caches the full enriched article record for 30
// minutes.
func (w *Worker) cacheSnapshot(ctx context.Context, req Request, result Result) {
	snapshot := req.Snapshot
	snapshot.AICommentary = result.Commentary
	snapshot.CommentaryGeneratedAt = time.Now()
	snapshot.CommentarySource = result.Source

	encoded, err := encodeSnapshot(snapshot)
	if err != nil {
		logger.Warn("failed to encode article snapshot", "articleId", req.ArticleID, "error", err)
		return
	}
	if err := w.cache.SetRaw(ctx, cache.ArticleKey(req.ArticleID), encoded, articleSnapshotTTL); err != nil {
		logger.Warn("failed to cache article snapshot", "articleId", req.ArticleID, "error", err)
	}
}

// persist writes the enriched article to the store; writes are
// skipped for temporary ids and a store failure never fails the job.
func (w *Worker) persist(ctx context.Context, req Request, result Result) {
	if article.IsTemporary(req.ArticleID) {
		return
	}
	snapshot := req.Snapshot
	snapshot.AICommentary = result.Commentary
	snapshot.CommentaryGeneratedAt = time.Now()
	snapshot.CommentarySource = result.Source

	if err := w.store.UpsertByURL(ctx, snapshot); err != nil {
		logger.Warn("store persistence failed after enrichment", "articleId", req.ArticleID, "error", err)
	}
}

// fallback synthesizes a deterministic commentary from title + section
// and writes it to both tiers.
func (w *Worker) fallback(ctx context.Context, req Request) (Result, error) {
	text := fallbackCommentary(req.Title, req.Section)
	result := Result{Commentary: text, Source: article.CommentarySourceFallback}

	commentaryKey := cache.CommentaryKey(req.ArticleID)
	if _, err := w.cache.GetOrSet(ctx, commentaryKey, cache.TTLCommentary, func(context.Context) (string, error) {
		return text, nil
	}); err != nil {
		logger.Warn("failed to cache fallback commentary", "articleId", req.ArticleID, "error", err)
	}

	w.cacheSnapshot(ctx, req, result)
	w.persist(ctx, req, result)
	return result, nil
}

func fallbackCommentary(title, section string) string {
	return fmt.Sprintf(
		"Key Points: %s is a developing story in the %s section; full analysis is temporarily unavailable.\n"+
			"Impact Analysis: Readers following %s should expect coverage to be updated as details are confirmed.\n"+
			"Future Outlook: Check back for a complete analysis once automated commentary generation succeeds.",
		title, section, section,
	)
}

func encodeSnapshot(a article.Article) (string, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Package cache implements the tiered cache facade: TTL classes,
// pattern invalidation, FIFO section lists, and the top-N hot-list
// pattern, wrapping the cache shard pool.
package cache

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/NukkadFoods/Webstorybackend/internal/logger"
)

// TTLClass names one of the facade's fixed TTL tiers.
type TTLClass string

const (
	TTLCommentary TTLClass = "commentary"
	TTLArticle    TTLClass = "article"
	TTLUpstream   TTLClass = "upstream"
	TTLShort      TTLClass = "short"
	TTLLong       TTLClass = "long"
)

// Seconds returns the TTL class's duration.
func (c TTLClass) Seconds() time.Duration {
	switch c {
	case TTLCommentary:
		return 86400 * time.Second
	case TTLArticle:
		return 300 * time.Second
	case TTLUpstream:
		return 1800 * time.Second
	case TTLShort:
		return 60 * time.Second
	case TTLLong:
		return 604800 * time.Second
	default:
		return 300 * time.Second
	}
}

// ShardPool is the subset of the Cache Shard Pool the facade depends on.
// Satisfied structurally by *cacheshard.Pool.
type ShardPool interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	LPush(ctx context.Context, key string, values ...string) (int64, error)
	RPush(ctx context.Context, key string, values ...string) (int64, error)
	LRange(ctx context.Context, key string, start, stop int) ([]string, error)
	LLen(ctx context.Context, key string) (int64, error)
	LTrim(ctx context.Context, key string, start, stop int) error
}

// Facade is the Tiered Cache Facade.
type Facade struct {
	shards ShardPool
	sf     singleflight.Group
}

func New(shards ShardPool) *Facade {
	return &Facade{shards: shards}
}

// FetchFunc produces a value to cache on a miss. Its errors propagate
// unmasked: a cache-layer error must never hide a fetch error.
type FetchFunc func(ctx context.Context) (string, error)

// GetOrSet returns the cached value if present; otherwise calls fetch
// exactly once per key even under concurrent callers, stores the
// result at the TTL class's duration, and returns it.
func (f *Facade) GetOrSet(ctx context.Context, key string, ttl TTLClass, fetch FetchFunc) (string, error) {
	if v, ok, err := f.shards.Get(ctx, key); err == nil && ok {
		return v, nil
	}

	v, err, _ := f.sf.Do(key, func() (any, error) {
		// Re-check: another caller may have populated the key while we
		// waited to enter the singleflight group.
		if v, ok, err := f.shards.Get(ctx, key); err == nil && ok {
			return v, nil
		}
		value, ferr := fetch(ctx)
		if ferr != nil {
			return "", ferr
		}
		if serr := f.shards.SetEX(ctx, key, value, ttl.Seconds()); serr != nil {
			logger.Warn("cache write failed after fetch", "key", key, "error", serr)
		}
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// SetRaw writes value at key with an explicit TTL, bypassing the TTL
// classes. Used where a component needs a duration that deviates from
// its class default (article snapshots use 1,800 s while the article
// class default is 300 s).
func (f *Facade) SetRaw(ctx context.Context, key, value string, ttl time.Duration) error {
	return f.shards.SetEX(ctx, key, value, ttl)
}

// Peek returns the cached value for key without invoking any fetch
// path; used by the job queue's admission check.
func (f *Facade) Peek(ctx context.Context, key string) (string, bool, error) {
	return f.shards.Get(ctx, key)
}

// Keys lists every cache key matching pattern; used by the job queue
// to rehydrate persisted state on startup.
func (f *Facade) Keys(ctx context.Context, pattern string) ([]string, error) {
	return f.shards.Keys(ctx, pattern)
}

// Delete removes keys directly, with no glob expansion; used by the
// job queue to drop a job's persisted snapshot once it's been retained
// long enough to evict.
func (f *Facade) Delete(ctx context.Context, keys ...string) (int, error) {
	n, err := f.shards.Del(ctx, keys...)
	return int(n), err
}

// Invalidate deletes every key matching each glob pattern and reports
// the total count removed.
func (f *Facade) Invalidate(ctx context.Context, patterns []string) (int, error) {
	var total int
	for _, pattern := range patterns {
		keys, err := f.shards.Keys(ctx, pattern)
		if err != nil {
			return total, fmt.Errorf("listing keys for pattern %q: %w", pattern, err)
		}
		if len(keys) == 0 {
			continue
		}
		n, err := f.shards.Del(ctx, keys...)
		if err != nil {
			return total, fmt.Errorf("deleting keys for pattern %q: %w", pattern, err)
		}
		total += int(n)
	}
	return total, nil
}

// PushToList implements the top-N homepage rotation pattern: left-push
// ids, then trim to [0, maxLen-1].
func (f *Facade) PushToList(ctx context.Context, listKey string, ids []string, maxLen int) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := f.shards.LPush(ctx, listKey, ids...); err != nil {
		return err
	}
	return f.shards.LTrim(ctx, listKey, 0, maxLen-1)
}

// FIFOResult reports the outcome of ManageSectionCacheFIFO.
type FIFOResult struct {
	Added   int
	Removed int
}

// ManageSectionCacheFIFO right-pushes newIds onto the section's article
// list and, if the list now exceeds maxArticles, left-trims the excess
// and deletes their companion per-article keys (invariants C1, C2).
func (f *Facade) ManageSectionCacheFIFO(ctx context.Context, section string, newIds []string, maxArticles int) (FIFOResult, error) {
	listKey := sectionListKey(section)

	if len(newIds) > 0 {
		if _, err := f.shards.RPush(ctx, listKey, newIds...); err != nil {
			return FIFOResult{}, err
		}
	}

	length, err := f.shards.LLen(ctx, listKey)
	if err != nil {
		return FIFOResult{}, err
	}

	result := FIFOResult{Added: len(newIds)}
	if int(length) <= maxArticles {
		return result, nil
	}

	excess := int(length) - maxArticles
	evicted, err := f.shards.LRange(ctx, listKey, 0, excess-1)
	if err != nil {
		return result, err
	}
	if err := f.shards.LTrim(ctx, listKey, excess, -1); err != nil {
		return result, err
	}

	var companionKeys []string
	for _, id := range evicted {
		companionKeys = append(companionKeys, articleKey(id))
	}
	if len(companionKeys) > 0 {
		if _, err := f.shards.Del(ctx, companionKeys...); err != nil {
			return result, err
		}
	}
	result.Removed = len(evicted)
	return result, nil
}

// GetSectionArticles returns the last count article ids in the section's
// FIFO list, newest first.
func (f *Facade) GetSectionArticles(ctx context.Context, section string, count int) ([]string, error) {
	listKey := sectionListKey(section)
	ids, err := f.shards.LRange(ctx, listKey, -count, -1)
	if err != nil {
		return nil, err
	}
	reversed := make([]string, len(ids))
	for i, id := range ids {
		reversed[len(ids)-1-i] = id
	}
	return reversed, nil
}

func sectionListKey(section string) string {
	return fmt.Sprintf("section:%s:articles", section)
}

func articleKey(id string) string {
	return fmt.Sprintf("article:%s", id)
}

// CommentaryKey returns the cache key for an article's commentary.
func CommentaryKey(articleID string) string {
	return fmt.Sprintf("commentary:%s", articleID)
}

// ArticleKey returns the cache key for a full enriched-article snapshot.
func ArticleKey(articleID string) string {
	return articleKey(articleID)
}

// HomepageTopListKey is the hot-path homepage top-N list key.
const HomepageTopListKey = "homepage:top20"

package queue

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/article"
)

type fakeStore struct {
	mu       sync.Mutex
	byID     map[string]article.Article
	upserted []article.Article
}

func newFakeStore() *fakeStore {
	return &fakeStore{byID: make(map[string]article.Article)}
}

func (s *fakeStore) FindByID(_ context.Context, id string) (*article.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.byID[id]; ok {
		return &a, nil
	}
	return nil, nil
}

func (s *fakeStore) UpsertByURL(_ context.Context, a article.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[a.ID] = a
	s.upserted = append(s.upserted, a)
	return nil
}

type fakeCache struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[string]string)}
}

func (c *fakeCache) Peek(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *fakeCache) SetRaw(_ context.Context, key, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *fakeCache) Keys(_ context.Context, pattern string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var out []string
	for k := range c.values {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (c *fakeCache) Delete(_ context.Context, keys ...string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, k := range keys {
		if _, ok := c.values[k]; ok {
			delete(c.values, k)
			n++
		}
	}
	return n, nil
}

func TestSubmitEnqueuesNewArticle(t *testing.T) {
	q := New(newFakeStore(), newFakeCache(), Options{})
	result, err := q.Submit(context.Background(), article.Article{ID: "a1", Section: "tech"}, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != AdmitEnqueued {
		t.Fatalf("expected AdmitEnqueued, got %v", result)
	}
	if state, ok := q.JobState("commentary-a1"); !ok || state != StateWaiting {
		t.Fatalf("expected job in waiting state, got %v ok=%v", state, ok)
	}
}

func TestSubmitIsIdempotentForDuplicates(t *testing.T) {
	q := New(newFakeStore(), newFakeCache(), Options{})
	ctx := context.Background()

	if _, err := q.Submit(ctx, article.Article{ID: "a1"}, 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err := q.Submit(ctx, article.Article{ID: "a1"}, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != AdmitDuplicate {
		t.Fatalf("expected AdmitDuplicate for an already-queued article, got %v", result)
	}
}

func TestSubmitShortCircuitsWhenStoreHasCompletedArticle(t *testing.T) {
	store := newFakeStore()
	store.byID["a1"] = article.Article{ID: "a1", AICommentary: "already done"}
	q := New(store, newFakeCache(), Options{})

	result, err := q.Submit(context.Background(), article.Article{ID: "a1"}, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != AdmitAlreadyDone {
		t.Fatalf("expected AdmitAlreadyDone, got %v", result)
	}
}

func TestSubmitBackfillsStoreFromCache(t *testing.T) {
	store := newFakeStore()
	cache := newFakeCache()
	cache.values["commentary:a1"] = "cached take"
	q := New(store, cache, Options{})

	result, err := q.Submit(context.Background(), article.Article{ID: "a1", Title: "T"}, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != AdmitAlreadyDone {
		t.Fatalf("expected AdmitAlreadyDone after cache back-fill, got %v", result)
	}
	saved, ok := store.byID["a1"]
	if !ok || saved.AICommentary != "cached take" {
		t.Fatalf("expected store to be back-filled with the cached commentary, got %+v", saved)
	}
}

func TestSubmitRejectsEmptyArticleID(t *testing.T) {
	q := New(newFakeStore(), newFakeCache(), Options{})
	if _, err := q.Submit(context.Background(), article.Article{}, 0, 0); err == nil {
		t.Fatalf("expected an error for an empty article id")
	}
}

func TestComputePriorityRecentArticleInPriorityDesk(t *testing.T) {
	a := article.Article{Section: "world", PublishedDate: time.Now().Add(-1 * time.Hour)}
	if got := computePriority(a); got != 1 {
		t.Fatalf("expected priority 1 for a fresh priority-desk article, got %d", got)
	}
}

func TestComputePriorityOldArticleNonPriorityDesk(t *testing.T) {
	a := article.Article{Section: "arts", PublishedDate: time.Now().Add(-72 * time.Hour)}
	if got := computePriority(a); got != 5 {
		t.Fatalf("expected default priority 5 for an old non-desk article, got %d", got)
	}
}

func TestComputePriorityNeverGoesBelowOne(t *testing.T) {
	a := article.Article{Section: "politics", PublishedDate: time.Now().Add(-1 * time.Minute)}
	if got := computePriority(a); got != 1 {
		t.Fatalf("expected priority clamped at 1, got %d", got)
	}
}

func TestSubmitPersistsJobSnapshotToCache(t *testing.T) {
	cache := newFakeCache()
	q := New(newFakeStore(), cache, Options{})

	if _, err := q.Submit(context.Background(), article.Article{ID: "a1", Section: "tech"}, 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw, ok, err := cache.Peek(context.Background(), queueKey("commentary-a1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || raw == "" {
		t.Fatalf("expected a persisted snapshot at %s", queueKey("commentary-a1"))
	}
}

func TestStartRehydratesWaitingJobsFromCache(t *testing.T) {
	cache := newFakeCache()
	seed := New(newFakeStore(), cache, Options{})
	if _, err := seed.Submit(context.Background(), article.Article{ID: "a1", Section: "tech"}, 2, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	q := New(newFakeStore(), cache, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	defer func() {
		cancel()
		q.Stop()
		q.Wait()
	}()

	state, ok := q.JobState("commentary-a1")
	if !ok || state != StateWaiting {
		t.Fatalf("expected rehydrated job waiting, got %v ok=%v", state, ok)
	}
}

func TestDispatchRunsSubmittedJobToCompletion(t *testing.T) {
	store := newFakeStore()
	q := New(store, newFakeCache(), Options{MaxAttempts: 3})
	q.SetHandler(func(_ context.Context, job *Job) error {
		return nil
	})

	if _, err := q.Submit(context.Background(), article.Article{ID: "a1"}, 1, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	defer func() {
		cancel()
		q.Stop()
		q.Wait()
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if state, ok := q.JobState("commentary-a1"); ok && state == StateCompleted {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected job to complete before the deadline")
}

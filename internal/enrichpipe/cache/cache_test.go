package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeShards is a minimal in-memory ShardPool used to exercise the
// Tiered Cache Facade without a real cache shard.
type fakeShards struct {
	mu    sync.Mutex
	kv    map[string]string
	lists map[string][]string
}

func newFakeShards() *fakeShards {
	return &fakeShards{kv: make(map[string]string), lists: make(map[string][]string)}
}

func (f *fakeShards) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.kv[key]
	return v, ok, nil
}

func (f *fakeShards) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kv[key] = value
	return nil
}

func (f *fakeShards) SetEX(ctx context.Context, key, value string, _ time.Duration) error {
	return f.Set(ctx, key, value)
}

func (f *fakeShards) Del(_ context.Context, keys ...string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.kv[k]; ok {
			delete(f.kv, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeShards) Keys(_ context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var out []string
	for k := range f.kv {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *fakeShards) LPush(_ context.Context, key string, values ...string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[key] = append(append([]string{}, reverse(values)...), f.lists[key]...)
	return int64(len(f.lists[key])), nil
}

func (f *fakeShards) RPush(_ context.Context, key string, values ...string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[key] = append(f.lists[key], values...)
	return int64(len(f.lists[key])), nil
}

func (f *fakeShards) LRange(_ context.Context, key string, start, stop int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.lists[key]
	s, e := normalizeRange(len(list), start, stop)
	if s > e {
		return nil, nil
	}
	return append([]string{}, list[s:e+1]...), nil
}

func (f *fakeShards) LLen(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.lists[key])), nil
}

func (f *fakeShards) LTrim(_ context.Context, key string, start, stop int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.lists[key]
	s, e := normalizeRange(len(list), start, stop)
	if s > e {
		f.lists[key] = nil
		return nil
	}
	f.lists[key] = append([]string{}, list[s:e+1]...)
	return nil
}

func reverse(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}

func normalizeRange(length, start, stop int) (int, int) {
	if start < 0 {
		start = length + start
	}
	if stop < 0 {
		stop = length + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	return start, stop
}

func TestGetOrSetCachesOnMiss(t *testing.T) {
	f := New(newFakeShards())
	calls := 0
	fetch := func(context.Context) (string, error) {
		calls++
		return "fetched", nil
	}

	v, err := f.GetOrSet(context.Background(), "k1", TTLShort, fetch)
	if err != nil || v != "fetched" {
		t.Fatalf("unexpected result: %v %v", v, err)
	}

	v2, err := f.GetOrSet(context.Background(), "k1", TTLShort, fetch)
	if err != nil || v2 != "fetched" {
		t.Fatalf("unexpected result on second call: %v %v", v2, err)
	}
	if calls != 1 {
		t.Fatalf("expected fetch to run once, ran %d times", calls)
	}
}

func TestGetOrSetPropagatesFetchError(t *testing.T) {
	f := New(newFakeShards())
	wantErr := errors.New("upstream failed")

	_, err := f.GetOrSet(context.Background(), "k2", TTLShort, func(context.Context) (string, error) {
		return "", wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected fetch error to propagate unmasked, got %v", err)
	}
}

func TestGetOrSetSingleFlight(t *testing.T) {
	f := New(newFakeShards())
	var calls int32Counter
	start := make(chan struct{})

	fetch := func(context.Context) (string, error) {
		<-start
		calls.inc()
		time.Sleep(10 * time.Millisecond)
		return "v", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := f.GetOrSet(context.Background(), "shared", TTLShort, fetch)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results[i] = v
		}(i)
	}
	close(start)
	wg.Wait()

	if calls.get() != 1 {
		t.Fatalf("expected exactly 1 fetch under concurrent callers, got %d", calls.get())
	}
	for _, r := range results {
		if r != "v" {
			t.Fatalf("expected every caller to get the fetched value, got %q", r)
		}
	}
}

type int32Counter struct {
	mu sync.Mutex
	n  int
}

func (c *int32Counter) inc() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func (c *int32Counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestManageSectionCacheFIFOEvictsOldest(t *testing.T) {
	shards := newFakeShards()
	f := New(shards)
	ctx := context.Background()

	for i := 1; i <= 25; i++ {
		id := fmt.Sprintf("a%d", i)
		_ = shards.Set(ctx, "article:"+id, "snapshot")
		if _, err := f.ManageSectionCacheFIFO(ctx, "tech", []string{id}, 20); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	length, _ := shards.LLen(ctx, "section:tech:articles")
	if length != 20 {
		t.Fatalf("expected FIFO list capped at 20, got %d", length)
	}

	if _, ok, _ := shards.Get(ctx, "article:a1"); ok {
		t.Fatalf("expected evicted article's companion key to be removed")
	}
	if _, ok, _ := shards.Get(ctx, "article:a25"); !ok {
		t.Fatalf("expected most recent article's companion key to remain")
	}
}

func TestInvalidateDeletesMatchingKeys(t *testing.T) {
	shards := newFakeShards()
	f := New(shards)
	ctx := context.Background()

	_ = shards.Set(ctx, "section:tech:articles", "x")
	_ = shards.Set(ctx, "section:tech:meta", "y")
	_ = shards.Set(ctx, "section:world:articles", "z")

	n, err := f.Invalidate(ctx, []string{"section:tech:*"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 keys invalidated, got %d", n)
	}
	if _, ok, _ := shards.Get(ctx, "section:world:articles"); !ok {
		t.Fatalf("expected unrelated section key to survive invalidation")
	}
}

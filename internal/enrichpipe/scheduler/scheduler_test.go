package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeRunner struct {
	mu   sync.Mutex
	runs []string
}

func (r *fakeRunner) Run(_ context.Context, section string, _ int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, section)
	return 0, nil
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func TestStartRunsImmediateFirstTick(t *testing.T) {
	runner := &fakeRunner{}
	s := New([]string{"tech", "world"}, time.Hour, runner)

	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if runner.count() >= 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if runner.count() < 1 {
		t.Fatalf("expected an immediate tick at start, got %d runs", runner.count())
	}
}

func TestStartIsIdempotent(t *testing.T) {
	runner := &fakeRunner{}
	s := New([]string{"tech"}, time.Hour, runner)

	s.Start(context.Background())
	s.Start(context.Background())
	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(20 * time.Millisecond)
	if runner.count() > 1 {
		t.Fatalf("expected only one worker loop to run ticks, got %d runs", runner.count())
	}
}

func TestRotationAdvancesThroughSections(t *testing.T) {
	runner := &fakeRunner{}
	s := New([]string{"a", "b", "c"}, 10*time.Millisecond, runner)

	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if runner.count() >= 4 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.runs) < 4 {
		t.Fatalf("expected at least 4 ticks to observe rotation, got %v", runner.runs)
	}
	if runner.runs[0] != "a" || runner.runs[1] != "b" || runner.runs[2] != "c" || runner.runs[3] != "a" {
		t.Fatalf("expected round-robin order a,b,c,a,..., got %v", runner.runs)
	}
}

func TestStopIsIdempotentAndBlocksUntilLoopExits(t *testing.T) {
	runner := &fakeRunner{}
	s := New([]string{"tech"}, time.Hour, runner)
	s.Start(context.Background())

	s.Stop()
	s.Stop() // must not panic or deadlock on a second call
}

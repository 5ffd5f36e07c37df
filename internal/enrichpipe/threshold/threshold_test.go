package threshold

import (
	"context"
	"testing"
)

type fakeStore struct {
	counts map[string]int64
	err    error
}

func (s *fakeStore) AggregateCountsBySection(context.Context) (map[string]int64, error) {
	return s.counts, s.err
}

func TestCheckThresholdReportsPerSectionAndOverall(t *testing.T) {
	store := &fakeStore{counts: map[string]int64{"tech": 10, "world": 3}}
	g := New(store, []string{"tech", "world"}, 8)

	allMet, err := g.CheckThreshold(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allMet {
		t.Fatalf("expected allMet to be false when one section is below threshold")
	}
	if !g.IsOpen("tech") {
		t.Fatalf("expected tech to be open at count 10 >= threshold 8")
	}
	if g.IsOpen("world") {
		t.Fatalf("expected world to be closed at count 3 < threshold 8")
	}
	if g.AllMet() {
		t.Fatalf("expected AllMet to be false")
	}
}

func TestCheckThresholdAllMetWhenEverySectionMeetsIt(t *testing.T) {
	store := &fakeStore{counts: map[string]int64{"tech": 9, "world": 8}}
	g := New(store, []string{"tech", "world"}, 8)

	allMet, err := g.CheckThreshold(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allMet || !g.AllMet() {
		t.Fatalf("expected every section at or above threshold to report allMet")
	}
}

func TestNewAppliesDefaultThreshold(t *testing.T) {
	store := &fakeStore{counts: map[string]int64{"tech": 8}}
	g := New(store, []string{"tech"}, 0)

	if _, err := g.CheckThreshold(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !g.IsOpen("tech") {
		t.Fatalf("expected default threshold of 8 to be met by a count of 8")
	}
}

func TestCountsReturnsACopy(t *testing.T) {
	store := &fakeStore{counts: map[string]int64{"tech": 5}}
	g := New(store, []string{"tech"}, 8)
	if _, err := g.CheckThreshold(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	counts := g.Counts()
	counts["tech"] = 999

	if g.Counts()["tech"] != 5 {
		t.Fatalf("expected mutating the returned map to not affect the gate's internal state")
	}
}

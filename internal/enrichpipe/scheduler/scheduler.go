// Package scheduler implements the section rotation scheduler:
// round-robins a fixed section list on a fixed period, invoking the
// article fetcher once per tick, behind an idempotent Start/Stop and a
// single-worker loop.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/NukkadFoods/Webstorybackend/internal/logger"
)

// Runner is the subset of the Article Fetcher the scheduler drives.
type Runner interface {
	Run(ctx context.Context, section string, maxToProcess int) (int, error)
}

// Scheduler is the Section Rotation Scheduler.
type Scheduler struct {
	sections []string
	period   time.Duration
	runner   Runner

	mu           sync.Mutex
	currentIndex int
	running      bool
	cancel       context.CancelFunc
	done         chan struct{}
}

// New constructs a Scheduler over a fixed, ordered section list.
func New(sections []string, period time.Duration, runner Runner) *Scheduler {
	return &Scheduler{sections: sections, period: period, runner: runner}
}

// Start is idempotent: a second call while already running is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	go s.loop(runCtx)
}

// Stop is idempotent and blocks until the single worker loop exits.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
}

// loop is the single worker: concurrent invocations are structurally
// impossible because Start only ever spawns one.
func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	s.tick(ctx) // immediate first tick; the gate and store naturally
	// absorb an early redundant pass at boot.

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if len(s.sections) == 0 {
		return
	}

	s.mu.Lock()
	section := s.sections[s.currentIndex]
	s.mu.Unlock()

	n, err := s.runner.Run(ctx, section, 1)
	if err != nil {
		logger.Warn("scheduler tick failed", "section", section, "error", err)
	} else {
		logger.Info("scheduler tick complete", "section", section, "enriched", n)
	}

	s.mu.Lock()
	s.currentIndex = (s.currentIndex + 1) % len(s.sections)
	wrapped := s.currentIndex == 0
	s.mu.Unlock()

	if wrapped {
		logger.Info("rotation complete", "sections", len(s.sections))
	}
}

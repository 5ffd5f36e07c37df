// Package credential implements a key-pool load balancer: round-robin
// dispatch across N credentials for one upstream, per-credential daily
// quotas, UTC-midnight reset, and failure-driven quarantine.
package credential

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/errs"
	"github.com/NukkadFoods/Webstorybackend/internal/logger"
)

// Params configures one pool's quota arithmetic. AI pools use a token
// budget with a safety buffer; publisher pools count whole requests
// with no buffer.
type Params struct {
	SafetyBuffer    int64
	ReservedQuantum int64
}

// DefaultAIParams returns the standard quota parameters for an AI
// credential pool.
func DefaultAIParams() Params {
	return Params{SafetyBuffer: 1000, ReservedQuantum: 600}
}

// DefaultPublisherParams returns the standard quota parameters for a
// publisher credential pool.
func DefaultPublisherParams() Params {
	return Params{SafetyBuffer: 0, ReservedQuantum: 1}
}

// state is one credential's live counters.
type state struct {
	id              int
	secret          string
	dailyLimit      int64
	tokensUsedToday int64
	isAvailable     bool
	isDead          bool
	permanentDead   bool
	lastError       error
}

// Snapshot is one credential's stats as reported by Stats().
type Snapshot struct {
	ID              int
	TokensUsedToday int64
	DailyLimit      int64
	IsAvailable     bool
	IsDead          bool
}

// PoolStats is the aggregate snapshot returned by Stats().
type PoolStats struct {
	Credentials []Snapshot
	TotalUsed   int64
	NextResetAt time.Time
}

// Op is the operation dispatched against a chosen credential's secret. It
// returns the quantity to charge against the credential's daily usage
// (observed tokens for AI, 1 for publisher request-count quotas) and an
// error classified via the errs package taxonomy.
type Op func(ctx context.Context, secret string) (used int64, err error)

// Pool is a Key-Pool Load Balancer over one upstream's credentials.
type Pool struct {
	mu                sync.Mutex
	name              string
	params            Params
	creds             []*state
	nextIndex         int
	lastResetObserved string // "2006-01-02" in UTC
}

// New constructs a Pool. dailyLimit applies uniformly to every
// credential in the pool.
func New(name string, secrets []string, dailyLimit int64, params Params) *Pool {
	creds := make([]*state, 0, len(secrets))
	for i, secret := range secrets {
		creds = append(creds, &state{
			id:          i + 1,
			secret:      secret,
			dailyLimit:  dailyLimit,
			isAvailable: true,
		})
	}
	return &Pool{
		name:              name,
		params:            params,
		creds:             creds,
		lastResetObserved: utcDateString(time.Now()),
	}
}

func utcDateString(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// resetIfDayRolled zeros counters and clears isDead at the first
// operation after UTC midnight (permanent-dead credentials stay dead;
// auth failures do not heal with the calendar).
func (p *Pool) resetIfDayRolled(now time.Time) {
	today := utcDateString(now)
	if today == p.lastResetObserved {
		return
	}
	p.lastResetObserved = today
	for _, c := range p.creds {
		c.tokensUsedToday = 0
		if !c.permanentDead {
			c.isDead = false
			c.isAvailable = true
			c.lastError = nil
		}
	}
	logger.Info("credential pool reset at UTC midnight", "pool", p.name)
}

func (c *state) eligible(params Params) bool {
	if c.isDead {
		return false
	}
	return c.tokensUsedToday+params.ReservedQuantum < c.dailyLimit-params.SafetyBuffer
}

// Dispatch invokes op with a chosen credential's secret, retrying with
// the next eligible credential on failure.
func (p *Pool) Dispatch(ctx context.Context, op Op) (int64, error) {
	p.mu.Lock()
	p.resetIfDayRolled(time.Now())
	order := p.candidateOrder()
	p.mu.Unlock()

	if len(order) == 0 {
		if c := p.leastUsedFallback(); c != nil {
			order = []int{c.id}
		}
	}
	if len(order) == 0 {
		return 0, errs.ErrExhaustedAllCredentials
	}

	var lastErr error
	for _, id := range order {
		c := p.byID(id)
		if c == nil {
			continue
		}
		used, err := op(ctx, c.secret)
		if err == nil {
			p.recordSuccess(c.id, used)
			return used, nil
		}
		lastErr = err
		p.recordFailure(c.id, err)
	}

	if lastErr == nil {
		lastErr = errs.ErrExhaustedAllCredentials
	}
	if errors.Is(lastErr, errs.ErrRateLimit) || errors.Is(lastErr, errs.ErrAuthError) {
		return 0, errs.ErrExhaustedAllCredentials
	}
	return 0, lastErr
}

// candidateOrder returns credential ids starting at nextIndex, round
// robin, limited to currently-eligible credentials.
func (p *Pool) candidateOrder() []int {
	n := len(p.creds)
	if n == 0 {
		return nil
	}
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		c := p.creds[(p.nextIndex+i)%n]
		if c.eligible(p.params) {
			order = append(order, c.id)
		}
	}
	p.nextIndex = (p.nextIndex + 1) % n
	return order
}

// leastUsedFallback is the last-resort attempt when no credential is
// eligible under quota.
func (p *Pool) leastUsedFallback() *state {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *state
	for _, c := range p.creds {
		if c.isDead {
			continue
		}
		if best == nil || c.tokensUsedToday < best.tokensUsedToday {
			best = c
		}
	}
	return best
}

func (p *Pool) byID(id int) *state {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.creds {
		if c.id == id {
			return c
		}
	}
	return nil
}

func (p *Pool) recordSuccess(id int, used int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.creds {
		if c.id == id {
			c.tokensUsedToday += used
			return
		}
	}
}

func (p *Pool) recordFailure(id int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.creds {
		if c.id != id {
			continue
		}
		c.lastError = err
		switch {
		case errors.Is(err, errs.ErrAuthError):
			c.isDead = true
			c.isAvailable = false
			c.permanentDead = true
			logger.Warn("credential permanently dead (auth error)", "pool", p.name, "credential", id)
		case errors.Is(err, errs.ErrRateLimit):
			c.isDead = true
			c.isAvailable = false
			logger.Warn("credential quarantined until UTC midnight (rate limit)", "pool", p.name, "credential", id)
		default:
			// UPSTREAM_TRANSIENT: unhealthy, not quarantined; may be
			// retried on the next dispatch.
			logger.Warn("credential transient failure", "pool", p.name, "credential", id, "error", err)
		}
		return
	}
}

// Stats returns the pool's observability snapshot.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := PoolStats{NextResetAt: nextUTCMidnight(time.Now())}
	for _, c := range p.creds {
		out.Credentials = append(out.Credentials, Snapshot{
			ID:              c.id,
			TokensUsedToday: c.tokensUsedToday,
			DailyLimit:      c.dailyLimit,
			IsAvailable:     c.isAvailable,
			IsDead:          c.isDead,
		})
		out.TotalUsed += c.tokensUsedToday
	}
	sort.Slice(out.Credentials, func(i, j int) bool { return out.Credentials[i].ID < out.Credentials[j].ID })
	return out
}

func nextUTCMidnight(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day()+1, 0, 0, 0, 0, time.UTC)
}

package cacheshard

import (
	"context"
	"errors"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/NukkadFoods/Webstorybackend/internal/logger"
)

// ShardEndpoint is one remote shard's connection details (mirrors
// config.CacheShardConfig without importing the config package, keeping
// this package configuration-agnostic).
type ShardEndpoint struct {
	ID       int
	Endpoint string
	Token    string
}

type shardState struct {
	id                int
	shard             Shard
	healthy           bool
	dead              bool
	dailyRequests     int64
	latency           time.Duration
	lastHealthCheckAt time.Time
}

// ShardSnapshot is one shard's stats as reported by Stats().
type ShardSnapshot struct {
	ID            int
	Healthy       bool
	Dead          bool
	DailyRequests int64
	Latency       time.Duration
}

// Pool is the cache shard pool: M remote shards plus an in-process
// fallback map, with consistent-hash routing for keyed ops,
// scatter-gather for global ops, and lowest-load routing for unkeyed
// ops.
type Pool struct {
	mu                sync.Mutex
	shards            []*shardState
	dailyQuota        int64
	lastResetObserved string
	fallback          *fallbackMap
	stopHealth        chan struct{}
}

// NewPool constructs a Pool and performs the startup ping sweep. If
// endpoints is empty or disabled is true, the pool operates purely on
// its in-process fallback map.
func NewPool(endpoints []ShardEndpoint, dailyQuota int64, disabled bool) *Pool {
	p := &Pool{
		dailyQuota:        dailyQuota,
		lastResetObserved: utcDateString(time.Now()),
		fallback:          newFallbackMap(),
		stopHealth:        make(chan struct{}),
	}
	if disabled {
		return p
	}
	for _, e := range endpoints {
		p.shards = append(p.shards, &shardState{
			id:    e.ID,
			shard: newHTTPShard(e.ID, e.Endpoint, e.Token),
		})
	}
	p.pingAll(context.Background())
	return p
}

func utcDateString(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (p *Pool) resetIfDayRolled() {
	today := utcDateString(time.Now())
	p.mu.Lock()
	defer p.mu.Unlock()
	if today == p.lastResetObserved {
		return
	}
	p.lastResetObserved = today
	for _, s := range p.shards {
		s.dailyRequests = 0
		s.dead = false
	}
}

// StartHealthChecks launches the periodic (5 minute) re-ping loop.
// Stop via Close.
func (p *Pool) StartHealthChecks(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopHealth:
				return
			case <-ticker.C:
				p.resetIfDayRolled()
				p.pingAll(ctx)
				p.fallback.sweep()
			}
		}
	}()
}

// Close stops the health-check loop.
func (p *Pool) Close() {
	close(p.stopHealth)
}

func (p *Pool) pingAll(ctx context.Context) {
	p.mu.Lock()
	shards := append([]*shardState{}, p.shards...)
	p.mu.Unlock()

	for _, s := range shards {
		start := time.Now()
		err := s.shard.Ping(ctx)
		latency := time.Since(start)

		p.mu.Lock()
		s.latency = latency
		s.lastHealthCheckAt = time.Now()
		if err != nil {
			s.healthy = false
			logger.Warn("cache shard ping failed", "shard", s.id, "error", err)
		} else {
			s.healthy = true
		}
		p.mu.Unlock()
	}
}

func (p *Pool) healthyUnderQuota() []*shardState {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*shardState
	for _, s := range p.shards {
		if s.healthy && !s.dead && s.dailyRequests < p.dailyQuota {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (p *Pool) shardForKey(key string) *shardState {
	healthy := p.healthyUnderQuota()
	if len(healthy) == 0 {
		return nil
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	idx := int(h.Sum32() % uint32(len(healthy)))
	return healthy[idx]
}

func (p *Pool) lowestLoadShard() *shardState {
	healthy := p.healthyUnderQuota()
	if len(healthy) == 0 {
		return nil
	}
	best := healthy[0]
	for _, s := range healthy[1:] {
		if s.dailyRequests < best.dailyRequests {
			best = s
		}
	}
	return best
}

func (p *Pool) recordUse(s *shardState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s.dailyRequests++
	if err == nil {
		return
	}
	var quotaErr *quotaExceededError
	if errors.As(err, &quotaErr) {
		s.dead = true
		logger.Warn("cache shard marked dead for UTC day (quota exceeded)", "shard", s.id)
		return
	}
	s.healthy = false
}

// Get implements the keyed Get operation, falling through to the
// in-process map when no shard is eligible.
func (p *Pool) Get(ctx context.Context, key string) (string, bool, error) {
	p.resetIfDayRolled()
	s := p.shardForKey(key)
	if s == nil {
		v, ok := p.fallback.get(key)
		return v, ok, nil
	}
	v, ok, err := s.shard.Get(ctx, key)
	p.recordUse(s, err)
	if err != nil {
		v2, ok2 := p.fallback.get(key)
		return v2, ok2, nil
	}
	return v, ok, nil
}

func (p *Pool) Set(ctx context.Context, key, value string) error {
	p.resetIfDayRolled()
	p.fallback.set(key, value, 0)
	s := p.shardForKey(key)
	if s == nil {
		return nil
	}
	err := s.shard.Set(ctx, key, value)
	p.recordUse(s, err)
	return nil // degrade silently; the in-process fallback already has the write
}

func (p *Pool) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	p.resetIfDayRolled()
	p.fallback.set(key, value, ttl)
	s := p.shardForKey(key)
	if s == nil {
		return nil
	}
	err := s.shard.SetEX(ctx, key, value, ttl)
	p.recordUse(s, err)
	return nil
}

func (p *Pool) Del(ctx context.Context, keys ...string) (int64, error) {
	p.resetIfDayRolled()
	n := p.fallback.del(keys...)
	for _, key := range keys {
		s := p.shardForKey(key)
		if s == nil {
			continue
		}
		_, err := s.shard.Del(ctx, key)
		p.recordUse(s, err)
	}
	return n, nil
}

func (p *Pool) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := p.Get(ctx, key)
	return ok, err
}

func (p *Pool) TTL(ctx context.Context, key string) (time.Duration, error) {
	p.resetIfDayRolled()
	s := p.shardForKey(key)
	if s == nil {
		return 0, nil
	}
	d, err := s.shard.TTL(ctx, key)
	p.recordUse(s, err)
	return d, err
}

func (p *Pool) Incr(ctx context.Context, key string) (int64, error) {
	p.resetIfDayRolled()
	s := p.shardForKey(key)
	if s == nil {
		return 0, nil
	}
	n, err := s.shard.Incr(ctx, key)
	p.recordUse(s, err)
	return n, err
}

func (p *Pool) Expire(ctx context.Context, key string, ttl time.Duration) error {
	p.resetIfDayRolled()
	s := p.shardForKey(key)
	if s == nil {
		return nil
	}
	err := s.shard.Expire(ctx, key, ttl)
	p.recordUse(s, err)
	return err
}

func (p *Pool) HGet(ctx context.Context, key, field string) (string, bool, error) {
	p.resetIfDayRolled()
	s := p.shardForKey(key)
	if s == nil {
		return "", false, nil
	}
	v, ok, err := s.shard.HGet(ctx, key, field)
	p.recordUse(s, err)
	return v, ok, err
}

func (p *Pool) HSet(ctx context.Context, key, field, value string) error {
	p.resetIfDayRolled()
	s := p.shardForKey(key)
	if s == nil {
		return nil
	}
	err := s.shard.HSet(ctx, key, field, value)
	p.recordUse(s, err)
	return err
}

func (p *Pool) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	p.resetIfDayRolled()
	s := p.shardForKey(key)
	if s == nil {
		return nil, nil
	}
	m, err := s.shard.HGetAll(ctx, key)
	p.recordUse(s, err)
	return m, err
}

// Info reports the least-loaded healthy shard's backend info string.
func (p *Pool) Info(ctx context.Context) (string, error) {
	p.resetIfDayRolled()
	s := p.lowestLoadShard()
	if s == nil {
		return "", nil
	}
	v, err := s.shard.Info(ctx)
	p.recordUse(s, err)
	return v, err
}

func (p *Pool) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	p.resetIfDayRolled()
	s := p.shardForKey(key)
	if s == nil {
		return 0, nil
	}
	n, err := s.shard.LPush(ctx, key, values...)
	p.recordUse(s, err)
	return n, err
}

func (p *Pool) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	p.resetIfDayRolled()
	s := p.shardForKey(key)
	if s == nil {
		return 0, nil
	}
	n, err := s.shard.RPush(ctx, key, values...)
	p.recordUse(s, err)
	return n, err
}

func (p *Pool) LRange(ctx context.Context, key string, start, stop int) ([]string, error) {
	p.resetIfDayRolled()
	s := p.shardForKey(key)
	if s == nil {
		return nil, nil
	}
	v, err := s.shard.LRange(ctx, key, start, stop)
	p.recordUse(s, err)
	return v, err
}

func (p *Pool) LLen(ctx context.Context, key string) (int64, error) {
	p.resetIfDayRolled()
	s := p.shardForKey(key)
	if s == nil {
		return 0, nil
	}
	n, err := s.shard.LLen(ctx, key)
	p.recordUse(s, err)
	return n, err
}

func (p *Pool) LTrim(ctx context.Context, key string, start, stop int) error {
	p.resetIfDayRolled()
	s := p.shardForKey(key)
	if s == nil {
		return nil
	}
	err := s.shard.LTrim(ctx, key, start, stop)
	p.recordUse(s, err)
	return err
}

// Keys scatters to every healthy shard and gathers the union.
func (p *Pool) Keys(ctx context.Context, pattern string) ([]string, error) {
	p.resetIfDayRolled()
	var all []string
	for _, s := range p.healthyUnderQuota() {
		v, err := s.shard.Keys(ctx, pattern)
		p.recordUse(s, err)
		if err == nil {
			all = append(all, v...)
		}
	}
	return all, nil
}

func (p *Pool) DBSize(ctx context.Context) (int64, error) {
	p.resetIfDayRolled()
	var total int64
	for _, s := range p.healthyUnderQuota() {
		n, err := s.shard.DBSize(ctx)
		p.recordUse(s, err)
		if err == nil {
			total += n
		}
	}
	return total, nil
}

func (p *Pool) FlushDB(ctx context.Context) error {
	p.resetIfDayRolled()
	for _, s := range p.healthyUnderQuota() {
		err := s.shard.FlushDB(ctx)
		p.recordUse(s, err)
	}
	return nil
}

// Ping picks the least-loaded healthy shard.
func (p *Pool) Ping(ctx context.Context) error {
	p.resetIfDayRolled()
	s := p.lowestLoadShard()
	if s == nil {
		return nil
	}
	err := s.shard.Ping(ctx)
	p.recordUse(s, err)
	return err
}

// Stats returns the pool's observability snapshot.
func (p *Pool) Stats() []ShardSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]ShardSnapshot, 0, len(p.shards))
	for _, s := range p.shards {
		out = append(out, ShardSnapshot{
			ID:            s.id,
			Healthy:       s.healthy,
			Dead:          s.dead,
			DailyRequests: s.dailyRequests,
			Latency:       s.latency,
		})
	}
	return out
}

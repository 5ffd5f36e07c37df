// Package queue implements the enrichment job queue: idempotent
// admission keyed on articleId, priority ordering, a rate-limited
// dispatcher, exponential backoff retries, and a retention policy
// applied on terminal transitions.
package queue

import (
	"container/heap"
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/article"
	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/errs"
	"github.com/NukkadFoods/Webstorybackend/internal/logger"
)

// queuePrefix namespaces every persisted job snapshot in the cache
// tier (the queue:* key prefix).
const queuePrefix = "queue:"

func queueKey(jobID string) string { return queuePrefix + jobID }

// State is an EnrichmentJob's lifecycle state.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDelayed   State = "delayed"
)

// AdmitResult reports the outcome of Submit.
type AdmitResult string

const (
	AdmitEnqueued    AdmitResult = "enqueued"
	AdmitAlreadyDone AdmitResult = "already_done"
	AdmitDuplicate   AdmitResult = "duplicate"
)

const (
	defaultMaxAttempts  = 3
	backoffBase         = 5 * time.Second
	removeOnCompleteN   = 100
	removeOnCompleteAge = 24 * time.Hour
	removeOnFailN       = 500
	removeOnFailAge     = 7 * 24 * time.Hour

	dispatchRatePerMinute = 10
	dispatchConcurrency   = 2
	drainDelay            = 30 * time.Second
	stalledCheckPeriod    = 60 * time.Second
	lockDuration          = 5 * time.Minute
)

// Job is one EnrichmentJob.
type Job struct {
	JobID       string
	ArticleID   string
	Title       string
	Content     string
	Section     string
	Snapshot    article.Article
	Priority    int
	Attempts    int
	MaxAttempts int
	NextRunAt   time.Time
	State       State

	enqueuedAt    time.Time
	completedAt   time.Time
	lockExpiresAt time.Time
	index         int // heap bookkeeping
}

// Store is the subset of the Document Store Adapter the queue needs
// for admission short-circuits (ALREADY_DONE) and store back-fill.
type Store interface {
	FindByID(ctx context.Context, id string) (*article.Article, error)
	UpsertByURL(ctx context.Context, a article.Article) error
}

// Cache is the subset of the Tiered Cache Facade the queue needs: a
// commentary-presence check during admission, plus a small persistence
// surface so queue state survives a process restart (spec's
// cache-tier-backed queue: state lives in the cache-shard pool, not
// only in this process's memory).
type Cache interface {
	Peek(ctx context.Context, key string) (string, bool, error)
	SetRaw(ctx context.Context, key, value string, ttl time.Duration) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Delete(ctx context.Context, keys ...string) (int, error)
}

// jobSnapshot is the persisted form of a Job written under queueKey,
// deliberately excluding the heap/lock bookkeeping fields that only
// make sense within a single process's run.
type jobSnapshot struct {
	JobID       string          `json:"jobId"`
	ArticleID   string          `json:"articleId"`
	Title       string          `json:"title"`
	Section     string          `json:"section"`
	Snapshot    article.Article `json:"snapshot"`
	Priority    int             `json:"priority"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	NextRunAt   time.Time       `json:"nextRunAt"`
	State       State           `json:"state"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
}

// Handler performs the actual enrichment for one job (implemented by
// the worker package). Returning an error that wraps errs.ErrRateLimit
// or errs.ErrExhaustedAllCredentials causes a retry rather than an
// immediate dead-letter.
type Handler func(ctx context.Context, job *Job) error

// Options tunes the queue's admission/dispatch policy; zero value uses
// the package defaults.
type Options struct {
	MaxAttempts int
}

// Queue is the Enrichment Job Queue.
type Queue struct {
	mu      sync.Mutex
	byJobID map[string]*Job
	pq      priorityQueue
	store   Store
	cache   Cache
	limiter *rate.Limiter
	sem     chan struct{}
	handler Handler
	opts    Options

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Queue backed by store and cache for admission
// lookups. Call SetHandler before Start.
func New(store Store, cache Cache, opts Options) *Queue {
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	q := &Queue{
		byJobID: make(map[string]*Job),
		store:   store,
		cache:   cache,
		limiter: rate.NewLimiter(rate.Every(time.Minute/dispatchRatePerMinute), 1),
		sem:     make(chan struct{}, dispatchConcurrency),
		opts:    opts,
		stop:    make(chan struct{}),
	}
	heap.Init(&q.pq)
	return q
}

// SetHandler wires the worker's enrichment function.
func (q *Queue) SetHandler(h Handler) {
	q.handler = h
}

// persist writes job's current state to the cache tier under its
// queueKey. Best-effort: a failed write only costs a restart's worth
// of durability, not the job itself, so errors are logged, not
// returned.
func (q *Queue) persist(ctx context.Context, job *Job) {
	snap := jobSnapshot{
		JobID:       job.JobID,
		ArticleID:   job.ArticleID,
		Title:       job.Title,
		Section:     job.Section,
		Snapshot:    job.Snapshot,
		Priority:    job.Priority,
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		NextRunAt:   job.NextRunAt,
		State:       job.State,
		EnqueuedAt:  job.enqueuedAt,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		logger.Warn("queue snapshot marshal failed", "jobId", job.JobID, "error", err)
		return
	}
	if err := q.cache.SetRaw(ctx, queueKey(job.JobID), string(data), removeOnFailAge); err != nil {
		logger.Warn("queue snapshot persist failed", "jobId", job.JobID, "error", err)
	}
}

// forget deletes jobIDs' persisted snapshots once retainOrEvict has
// dropped them from byJobID.
func (q *Queue) forget(ctx context.Context, jobIDs ...string) {
	if len(jobIDs) == 0 {
		return
	}
	keys := make([]string, len(jobIDs))
	for i, id := range jobIDs {
		keys[i] = queueKey(id)
	}
	if _, err := q.cache.Delete(ctx, keys...); err != nil {
		logger.Warn("queue snapshot delete failed", "jobIds", jobIDs, "error", err)
	}
}

// rehydrate scans the cache tier for persisted jobs and rebuilds
// byJobID/pq from them, so a process restart preserves waiting,
// delayed, and terminal (for idempotency) jobs. A job found Active
// means the process that held its lock is gone; it's requeued as
// Waiting rather than left to wait out a lock nothing will renew.
func (q *Queue) rehydrate(ctx context.Context) {
	keys, err := q.cache.Keys(ctx, queuePrefix+"*")
	if err != nil {
		logger.Warn("queue rehydrate: listing persisted jobs failed", "error", err)
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	restored := 0
	for _, key := range keys {
		raw, ok, err := q.cache.Peek(ctx, key)
		if err != nil || !ok {
			continue
		}
		var snap jobSnapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			logger.Warn("queue rehydrate: decode snapshot failed", "key", key, "error", err)
			continue
		}
		if _, exists := q.byJobID[snap.JobID]; exists {
			continue
		}

		job := &Job{
			JobID:       snap.JobID,
			ArticleID:   snap.ArticleID,
			Title:       snap.Title,
			Section:     snap.Section,
			Snapshot:    snap.Snapshot,
			Priority:    snap.Priority,
			Attempts:    snap.Attempts,
			MaxAttempts: snap.MaxAttempts,
			NextRunAt:   snap.NextRunAt,
			State:       snap.State,
			enqueuedAt:  snap.EnqueuedAt,
		}
		if job.State == StateActive {
			job.State = StateWaiting
			job.NextRunAt = time.Now()
		}
		q.byJobID[job.JobID] = job
		if job.State == StateWaiting || job.State == StateDelayed {
			heap.Push(&q.pq, job)
		}
		restored++
	}
	if restored > 0 {
		logger.Info("queue rehydrated from cache tier", "jobs", restored)
	}
}

// Submit implements admission: idempotent by articleId, with
// ALREADY_DONE / DUPLICATE short-circuits.
func (q *Queue) Submit(ctx context.Context, snapshot article.Article, priority int, delay time.Duration) (AdmitResult, error) {
	articleID := snapshot.ID
	if articleID == "" {
		return "", errs.ErrInvalid
	}
	jobID := "commentary-" + articleID

	if existing, err := q.store.FindByID(ctx, articleID); err == nil && existing != nil && existing.IsComplete() {
		return AdmitAlreadyDone, nil
	}

	if commentary, ok, err := q.cache.Peek(ctx, "commentary:"+articleID); err == nil && ok && commentary != "" {
		backfill := snapshot
		backfill.AICommentary = commentary
		backfill.CommentaryGeneratedAt = time.Now()
		if backfill.CommentarySource == "" {
			backfill.CommentarySource = article.CommentarySourceAI
		}
		if err := q.store.UpsertByURL(ctx, backfill); err != nil {
			logger.Warn("store back-fill from cache failed", "articleId", articleID, "error", err)
		}
		return AdmitAlreadyDone, nil
	}

	q.mu.Lock()

	if existing, ok := q.byJobID[jobID]; ok {
		switch existing.State {
		case StateWaiting, StateActive, StateDelayed:
			q.mu.Unlock()
			return AdmitDuplicate, nil
		}
	}

	if priority <= 0 {
		priority = computePriority(snapshot)
	}

	now := time.Now()
	job := &Job{
		JobID:       jobID,
		ArticleID:   articleID,
		Title:       snapshot.Title,
		Section:     snapshot.Section,
		Snapshot:    snapshot,
		Priority:    priority,
		MaxAttempts: q.opts.MaxAttempts,
		NextRunAt:   now.Add(delay),
		State:       StateWaiting,
		enqueuedAt:  now,
	}
	if delay > 0 {
		job.State = StateDelayed
	}
	q.byJobID[jobID] = job
	heap.Push(&q.pq, job)
	q.mu.Unlock()

	q.persist(ctx, job)
	return AdmitEnqueued, nil
}

// computePriority applies age/section adjustments. Default 5; age < 6h
// => 1, < 24h => 2, < 48h => 3; politics/us/world/business subtract 1,
// clamped at 1.
func computePriority(a article.Article) int {
	priority := 5
	if !a.PublishedDate.IsZero() {
		age := time.Since(a.PublishedDate)
		switch {
		case age < 6*time.Hour:
			priority = 1
		case age < 24*time.Hour:
			priority = 2
		case age < 48*time.Hour:
			priority = 3
		}
	}
	switch a.Section {
	case "politics", "us", "world", "business":
		priority--
	}
	if priority < 1 {
		priority = 1
	}
	return priority
}

// Start rehydrates persisted jobs from the cache tier, then launches
// the dispatcher loop and the stalled-job detector.
func (q *Queue) Start(ctx context.Context) {
	q.rehydrate(ctx)
	q.wg.Add(2)
	go q.dispatchLoop(ctx)
	go q.stalledLoop(ctx)
}

// Stop halts dispatch; in-flight jobs are allowed to finish by the
// caller awaiting Wait() before closing downstream adapters.
func (q *Queue) Stop() {
	close(q.stop)
}

func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) dispatchLoop(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		default:
		}

		job := q.nextRunnable()
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-q.stop:
				return
			case <-time.After(drainDelay):
			}
			continue
		}

		if err := q.limiter.Wait(ctx); err != nil {
			return
		}

		select {
		case q.sem <- struct{}{}:
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		}

		q.wg.Add(1)
		go func(j *Job) {
			defer q.wg.Done()
			defer func() { <-q.sem }()
			q.runJob(ctx, j)
		}(job)
	}
}

// nextRunnable pops the highest-priority job whose NextRunAt has
// elapsed, re-queuing anything not yet due.
func (q *Queue) nextRunnable() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var deferred []*Job
	var found *Job
	now := time.Now()
	for q.pq.Len() > 0 {
		j := heap.Pop(&q.pq).(*Job)
		if j.State != StateWaiting && j.State != StateDelayed {
			continue // terminal or already active; drop from the ready heap
		}
		if j.NextRunAt.After(now) {
			deferred = append(deferred, j)
			continue
		}
		found = j
		break
	}
	for _, d := range deferred {
		heap.Push(&q.pq, d)
	}
	if found != nil {
		found.State = StateActive
		found.lockExpiresAt = now.Add(lockDuration)
	}
	return found
}

func (q *Queue) runJob(ctx context.Context, job *Job) {
	job.Attempts++
	err := q.handler(ctx, job)

	q.mu.Lock()

	if err == nil {
		job.State = StateCompleted
		job.completedAt = time.Now()
		evicted := q.retainOrEvict(job)
		q.mu.Unlock()
		q.persist(ctx, job)
		q.forget(ctx, evicted...)
		return
	}

	if job.Attempts >= job.MaxAttempts {
		job.State = StateFailed
		job.completedAt = time.Now()
		logger.Warn("job reached max attempts", "jobId", job.JobID, "attempts", job.Attempts, "error", err)
		evicted := q.retainOrEvict(job)
		q.mu.Unlock()
		q.persist(ctx, job)
		q.forget(ctx, evicted...)
		return
	}

	backoff := backoffBase * time.Duration(1<<uint(job.Attempts-1))
	job.State = StateWaiting
	job.NextRunAt = time.Now().Add(backoff)
	heap.Push(&q.pq, job)
	logger.Info("job retrying after backoff", "jobId", job.JobID, "attempts", job.Attempts, "backoff", backoff.String())
	q.mu.Unlock()
	q.persist(ctx, job)
}

// retainOrEvict applies the removeOnComplete/removeOnFail retention
// policy by dropping the index entry once the caps would be exceeded;
// the job stays reachable in byJobID until then for admission
// idempotency checks. Returns the jobIDs evicted so the caller can
// drop their persisted snapshots too.
func (q *Queue) retainOrEvict(job *Job) []string {
	var cap int
	var age time.Duration
	if job.State == StateCompleted {
		cap, age = removeOnCompleteN, removeOnCompleteAge
	} else {
		cap, age = removeOnFailN, removeOnFailAge
	}

	var sameState []*Job
	for _, j := range q.byJobID {
		if j.State == job.State {
			sameState = append(sameState, j)
		}
	}
	if len(sameState) <= cap {
		return nil
	}
	var evicted []string
	now := time.Now()
	for _, j := range sameState {
		if now.Sub(j.completedAt) > age {
			delete(q.byJobID, j.JobID)
			evicted = append(evicted, j.JobID)
		}
	}
	return evicted
}

// stalledLoop re-enqueues jobs whose lock expired without completion,
// checking every 60 seconds.
func (q *Queue) stalledLoop(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(stalledCheckPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case <-ticker.C:
			q.recoverStalled(ctx)
		}
	}
}

func (q *Queue) recoverStalled(ctx context.Context) {
	q.mu.Lock()
	now := time.Now()
	var recovered []*Job
	for _, j := range q.byJobID {
		if j.State == StateActive && now.After(j.lockExpiresAt) {
			j.State = StateWaiting
			j.NextRunAt = now
			heap.Push(&q.pq, j)
			recovered = append(recovered, j)
			logger.Warn("recovered stalled job", "jobId", j.JobID)
		}
	}
	q.mu.Unlock()
	for _, j := range recovered {
		q.persist(ctx, j)
	}
}

// Stats reports the queue's depth per state.
func (q *Queue) Stats() map[State]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[State]int)
	for _, j := range q.byJobID {
		out[j.State]++
	}
	return out
}

// JobState reports the current state of jobId, if known.
func (q *Queue) JobState(jobID string) (State, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.byJobID[jobID]
	if !ok {
		return "", false
	}
	return j.State, true
}

// priorityQueue orders by (priority, enqueueTime): lower Priority
// value runs first; ties break FIFO by enqueuedAt.
type priorityQueue []*Job

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].Priority != pq[j].Priority {
		return pq[i].Priority < pq[j].Priority
	}
	return pq[i].enqueuedAt.Before(pq[j].enqueuedAt)
}
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index, pq[j].index = i, j
}
func (pq *priorityQueue) Push(x any) {
	j := x.(*Job)
	j.index = len(*pq)
	*pq = append(*pq, j)
}
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return j
}

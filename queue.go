package assetpreview

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// JobStatus is the state of a generation job.
type JobStatus int

const (
	JobQueued JobStatus = iota
	JobRunning
	JobDone
	JobFailed
)

func (s JobStatus) String() string {
	switch s {
	case JobQueued:
		return "queued"
	case JobRunning:
		return "running"
	case JobDone:
		return "done"
	case JobFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s JobStatus) terminal() bool {
	return s == JobDone || s == JobFailed
}

type jobKind int

const (
	jobThumbnail jobKind = iota
	jobMetadata
)

func (k jobKind) String() string {
	if k == jobMetadata {
		return "metadata"
	}
	return "thumbnail"
}

// job is one unit of generation work. At most one Queued or Running job
// exists per key.
type job struct {
	key       string
	kind      jobKind
	asset     asset
	size      Size
	tier      Tier
	forceFull bool
	queuedAt  time.Time

	mu      sync.Mutex
	status  JobStatus
	handles []*Handle
	discard bool
}

// hostBound reports whether the job runs on the host worker.
func (j *job) hostBound() bool {
	return j.tier >= Tier2
}

// executor runs jobs for the queue. Previewer implements it.
type executor interface {
	// cached returns a result for j without running it.
	cached(j *job) (Result, bool)
	execute(ctx context.Context, j *job) (Result, error)
	// apply writes the result of j into the stores. It is the only place
	// results reach the stores, and it runs before any caller is notified.
	apply(j *job, res Result)
}

// GenerationQueue deduplicates requests and runs them: tier-2 jobs one at a
// time on a single host worker, tier-1 jobs concurrently up to a bound.
type GenerationQueue struct {
	cfg     *config
	exec    executor
	metrics *metrics
	sem     *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	registry map[string]*job
	pending  []*job // host lane, FIFO
	queued   int
	closed   bool
	wake     chan struct{}
}

func newGenerationQueue(cfg *config, exec executor, m *metrics) *GenerationQueue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &GenerationQueue{
		cfg:      cfg,
		exec:     exec,
		metrics:  m,
		sem:      semaphore.NewWeighted(max(1, cfg.tier1Concurrency)),
		ctx:      ctx,
		cancel:   cancel,
		registry: make(map[string]*job),
		wake:     make(chan struct{}, 1),
	}
	q.wg.Add(1)
	go q.hostWorker()
	return q
}

// enqueue attaches a new handle to the job with the same key, answers from
// the cache, or schedules j.
func (q *GenerationQueue) enqueue(j *job) (*Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}

	if existing, ok := q.registry[j.key]; ok {
		h := newHandle(q, existing)
		existing.mu.Lock()
		existing.handles = append(existing.handles, h)
		existing.mu.Unlock()
		q.cfg.logger.Debug().Str("path", existing.asset.Path).Str("job", existing.kind.String()).Msg("attached to in-flight job")
		return h, nil
	}

	if !j.forceFull {
		if res, ok := q.exec.cached(j); ok {
			return completedHandle(res, nil), nil
		}
	}

	if q.cfg.maxQueueDepth > 0 && q.queued >= q.cfg.maxQueueDepth {
		return nil, fmt.Errorf("%w: %d jobs queued", ErrQueueOverflow, q.queued)
	}

	j.status = JobQueued
	j.queuedAt = q.cfg.now()
	h := newHandle(q, j)
	j.handles = []*Handle{h}
	q.registry[j.key] = j
	q.queued++
	q.metrics.queueDepth.Set(float64(q.queued))

	if j.hostBound() {
		q.pending = append(q.pending, j)
		select {
		case q.wake <- struct{}{}:
		default:
		}
	} else {
		q.wg.Add(1)
		go q.tier1Worker(j)
	}
	return h, nil
}

func (q *GenerationQueue) hostWorker() {
	defer q.wg.Done()
	for {
		j, ok := q.next()
		if !ok {
			return
		}
		q.run(j)

		// Give the host event loop a turn between jobs.
		runtime.Gosched()
		if q.cfg.tick > 0 {
			select {
			case <-time.After(q.cfg.tick):
			case <-q.ctx.Done():
			}
		}
	}
}

// next blocks until a host job is pending or the queue closes.
func (q *GenerationQueue) next() (*job, bool) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			j := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return j, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}
		select {
		case <-q.wake:
		case <-q.ctx.Done():
		}
	}
}

func (q *GenerationQueue) tier1Worker(j *job) {
	defer q.wg.Done()
	if err := q.sem.Acquire(q.ctx, 1); err != nil {
		return
	}
	defer q.sem.Release(1)
	q.run(j)
}

// run executes j unless it was removed while queued. A panic in the
// executor fails the job and the queue keeps going.
func (q *GenerationQueue) run(j *job) {
	q.mu.Lock()
	j.mu.Lock()
	if j.status != JobQueued {
		j.mu.Unlock()
		q.mu.Unlock()
		return
	}
	j.status = JobRunning
	j.mu.Unlock()
	q.queued--
	q.metrics.queueDepth.Set(float64(q.queued))
	q.mu.Unlock()

	ctx, span := tracer.Start(context.Background(), "job."+j.kind.String(), trace.WithAttributes(
		attribute.String("path", j.asset.Path),
		attribute.String("tier", j.tier.String()),
		attribute.String("size", j.size.String()),
	))
	defer span.End()

	logger := q.cfg.logger.With().
		Str("path", j.asset.Path).
		Str("job", j.kind.String()).
		Str("tier", j.tier.String()).
		Logger()
	logger.Debug().Dur("waited", q.cfg.now().Sub(j.queuedAt)).Msg("job started")

	res, err := q.execute(ctx, j)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Msg("job failed")
	}
	q.finish(j, res, err)
}

func (q *GenerationQueue) execute(ctx context.Context, j *job) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = Result{}, fmt.Errorf("job panicked: %v", r)
		}
	}()
	return q.exec.execute(ctx, j)
}

// finish applies the result, then notifies every attached handle. The
// discard flag is read and the result applied under q.mu, so a job
// discarded by a concurrent Invalidate never reaches the stores.
func (q *GenerationQueue) finish(j *job, res Result, err error) {
	status := JobDone
	if err != nil {
		status = JobFailed
	}

	q.mu.Lock()
	j.mu.Lock()
	discard := j.discard
	j.mu.Unlock()
	if err == nil && !discard {
		q.exec.apply(j, res)
	}
	if q.registry[j.key] == j {
		delete(q.registry, j.key)
	}
	j.mu.Lock()
	j.status = status
	handles := j.handles
	j.handles = nil
	j.mu.Unlock()
	q.mu.Unlock()

	q.metrics.jobs.WithLabelValues(j.tier.String(), status.String()).Inc()
	if discard {
		q.cfg.logger.Debug().Str("path", j.asset.Path).Msg("job result discarded")
	}
	for _, h := range handles {
		h.complete(res.clone(), err)
	}
}

// detach removes h from its job. A queued job left without handles is
// removed from the queue; a running one has its result discarded.
func (q *GenerationQueue) detach(h *Handle) {
	j := h.job
	q.mu.Lock()
	defer q.mu.Unlock()

	j.mu.Lock()
	defer j.mu.Unlock()
	for i, other := range j.handles {
		if other == h {
			j.handles = append(j.handles[:i], j.handles[i+1:]...)
			break
		}
	}
	if len(j.handles) > 0 {
		return
	}
	switch j.status {
	case JobQueued:
		q.removeLocked(j)
	case JobRunning:
		q.discardLocked(j)
	}
}

// discardLocked keeps a running job from writing its result and takes it
// out of the registry, so the next request for its key starts a new job.
// q.mu and j.mu must be held.
func (q *GenerationQueue) discardLocked(j *job) {
	j.discard = true
	if q.registry[j.key] == j {
		delete(q.registry, j.key)
	}
}

// removeLocked takes a queued job off the queue. q.mu and j.mu must be held.
func (q *GenerationQueue) removeLocked(j *job) {
	j.status = JobFailed
	if q.registry[j.key] == j {
		delete(q.registry, j.key)
	}
	for i, p := range q.pending {
		if p == j {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	q.queued--
	q.metrics.queueDepth.Set(float64(q.queued))
}

// cancelIdentity removes queued jobs of the identity and marks running ones
// so that their results never reach the stores. Removed jobs report
// ErrCancelled to their handles.
func (q *GenerationQueue) cancelIdentity(id Identity) int {
	var cancelled []*Handle
	q.mu.Lock()
	n := 0
	for _, j := range q.registry {
		if j.asset.Path != id.Path {
			continue
		}
		j.mu.Lock()
		switch j.status {
		case JobQueued:
			q.removeLocked(j)
			cancelled = append(cancelled, j.handles...)
			j.handles = nil
			n++
		case JobRunning:
			q.discardLocked(j)
			n++
		}
		j.mu.Unlock()
	}
	q.mu.Unlock()

	for _, h := range cancelled {
		h.complete(Result{}, ErrCancelled)
	}
	return n
}

// Len returns the number of queued jobs.
func (q *GenerationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queued
}

// close stops accepting work, fails queued jobs with ErrClosed and waits
// for running jobs to finish.
func (q *GenerationQueue) close() {
	var dropped []*Handle
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, j := range q.registry {
		j.mu.Lock()
		if j.status == JobQueued {
			q.removeLocked(j)
			dropped = append(dropped, j.handles...)
			j.handles = nil
		}
		j.mu.Unlock()
	}
	q.mu.Unlock()

	q.cancel()
	for _, h := range dropped {
		h.complete(Result{}, ErrClosed)
	}
	q.wg.Wait()
}

// Handle is one caller's view of a generation job. Each handle receives its
// own copy of the result.
type Handle struct {
	queue *GenerationQueue
	job   *job
	done  chan struct{}

	mu        sync.Mutex
	finished  bool
	result    Result
	err       error
	callbacks []func(Result, error)
}

func newHandle(q *GenerationQueue, j *job) *Handle {
	return &Handle{queue: q, job: j, done: make(chan struct{})}
}

// completedHandle returns a handle that already holds its outcome.
func completedHandle(res Result, err error) *Handle {
	h := &Handle{done: make(chan struct{})}
	h.complete(res, err)
	return h
}

func (h *Handle) complete(res Result, err error) {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return
	}
	h.finished = true
	h.result, h.err = res, err
	callbacks := h.callbacks
	h.callbacks = nil
	close(h.done)
	h.mu.Unlock()

	for _, fn := range callbacks {
		go fn(res, err)
	}
}

// Done is closed when the result is available.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the job finishes or ctx is done. Giving up on ctx does
// not cancel the job; use Cancel for that.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, h.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// OnComplete calls fn on its own goroutine once the result is available.
func (h *Handle) OnComplete(fn func(Result, error)) {
	h.mu.Lock()
	if !h.finished {
		h.callbacks = append(h.callbacks, fn)
		h.mu.Unlock()
		return
	}
	res, err := h.result, h.err
	h.mu.Unlock()
	go fn(res, err)
}

// Status returns the state of the job as seen by this handle.
func (h *Handle) Status() JobStatus {
	h.mu.Lock()
	if h.finished {
		defer h.mu.Unlock()
		if h.err != nil {
			return JobFailed
		}
		return JobDone
	}
	h.mu.Unlock()

	h.job.mu.Lock()
	defer h.job.mu.Unlock()
	return h.job.status
}

// Cancel detaches the handle, which then reports ErrCancelled. The job is
// removed if it is still queued and nobody else waits for it; a running job
// finishes but its result is discarded.
func (h *Handle) Cancel() {
	h.mu.Lock()
	finished := h.finished
	h.mu.Unlock()
	if finished || h.job == nil {
		return
	}
	h.queue.detach(h)
	h.complete(Result{}, ErrCancelled)
}

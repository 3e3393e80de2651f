package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/umbra/cryptoengine"
	"github.com/MrEthical07/umbra/fault"
	"github.com/MrEthical07/umbra/internal/protocol"
	"github.com/MrEthical07/umbra/worker"
)

var (
	// ErrClosed is returned for jobs submitted to, or queued in, a closed scheduler.
	ErrClosed = errors.New("pool: scheduler closed")
	// ErrWorkerCreation is the rejection of a job whose worker could not be created.
	ErrWorkerCreation = errors.New("pool: worker creation failed")
)

// Observer receives scheduler events. Calls come from the event loop and
// must not block.
type Observer interface {
	JobSubmitted(kind protocol.Kind)
	JobDispatched(kind protocol.Kind, workerID int)
	JobRejected(kind protocol.Kind, err error)
	WorkerCreated(workerID int)
	WorkerCreationFailed(err error)
	WorkerEvicted(workerID int, cause error)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) JobSubmitted(protocol.Kind)       {}
func (NopObserver) JobDispatched(protocol.Kind, int) {}
func (NopObserver) JobRejected(protocol.Kind, error) {}
func (NopObserver) WorkerCreated(int)                {}
func (NopObserver) WorkerCreationFailed(error)       {}
func (NopObserver) WorkerEvicted(int, error)         {}

// Options configure a Scheduler.
type Options struct {
	// EndpointURL is handed to every worker during its configure phase.
	EndpointURL string
	// ReadyTimeout bounds each startup phase of a new worker.
	ReadyTimeout time.Duration
	Factory      worker.EngineFactory
	Logger       *slog.Logger
	Observer     Observer
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers  int
	Busy     int
	Queued   int
	Creating bool
}

// Pending is a job accepted for execution.
type Pending struct {
	job      *worker.Job
	accepted chan error
}

// ID returns the job id.
func (p *Pending) ID() string { return p.job.ID }

// Await blocks for the job's result. The caller owns secrets in the response.
func (p *Pending) Await(ctx context.Context) (protocol.Response, error) {
	return p.job.Wait(ctx)
}

type creation struct {
	w   *worker.Worker
	err error
}

type withdrawal struct {
	p   *Pending
	err error
}

type eviction struct {
	w     *worker.Worker
	cause error
}

// Scheduler dispatches jobs onto workers.
type Scheduler struct {
	opts   Options
	logger *slog.Logger
	obs    Observer

	submitCh   chan *Pending
	withdrawCh chan withdrawal
	freedCh    chan *worker.Worker
	evictedCh  chan eviction
	createdCh  chan creation
	statsCh    chan chan Stats

	ctx       context.Context
	cancel    context.CancelFunc
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// spawned, when set, sees every worker before its creation starts.
	spawned func(*worker.Worker)

	// Owned by the event loop.
	queue    []*Pending
	workers  []*worker.Worker
	creating bool
	nextID   int
}

// New starts a scheduler with an empty pool.
func New(opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		opts:       opts,
		logger:     opts.Logger,
		obs:        opts.Observer,
		submitCh:   make(chan *Pending),
		withdrawCh: make(chan withdrawal),
		freedCh:    make(chan *worker.Worker, 16),
		evictedCh:  make(chan eviction, 16),
		createdCh:  make(chan creation),
		statsCh:    make(chan chan Stats),
		ctx:        ctx,
		cancel:     cancel,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go s.run()
	return s
}

// Submit enqueues req and blocks until it is accepted by a worker or
// rejected. A request that fails validation is rejected before queuing. If
// ctx ends while the job is still queued the job is withdrawn.
func (s *Scheduler) Submit(ctx context.Context, req protocol.Request, progress func(cryptoengine.Progress)) (*Pending, error) {
	if err := req.Validate(); err != nil {
		req.Release()
		return nil, fault.Tag(fault.ErrConfiguration, err)
	}
	p := &Pending{job: worker.NewJob(req, progress), accepted: make(chan error, 1)}

	select {
	case s.submitCh <- p:
	case <-s.done:
		p.job.Fail(ErrClosed)
		return nil, ErrClosed
	case <-ctx.Done():
		p.job.Fail(ctx.Err())
		return nil, ctx.Err()
	}

	select {
	case err := <-p.accepted:
		if err != nil {
			return nil, err
		}
		return p, nil
	case <-ctx.Done():
		select {
		case s.withdrawCh <- withdrawal{p: p, err: ctx.Err()}:
		case <-s.done:
		}
		// The loop resolves acceptance exactly once: dispatched, withdrawn or closed.
		if err := <-p.accepted; err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Run submits req and waits for its result.
func (s *Scheduler) Run(ctx context.Context, req protocol.Request, progress func(cryptoengine.Progress)) (protocol.Response, error) {
	p, err := s.Submit(ctx, req, progress)
	if err != nil {
		return nil, err
	}
	return p.Await(ctx)
}

// Stats returns a snapshot of the pool.
func (s *Scheduler) Stats() Stats {
	reply := make(chan Stats, 1)
	select {
	case s.statsCh <- reply:
		return <-reply
	case <-s.done:
		return Stats{}
	}
}

// Close rejects queued jobs, evicts every worker and stops the loop.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		close(s.stop)
		<-s.done
	})
}

func (s *Scheduler) run() {
	defer close(s.done)
	for {
		select {
		case p := <-s.submitCh:
			s.obs.JobSubmitted(p.job.Request.Kind())
			s.queue = append(s.queue, p)
		case wd := <-s.withdrawCh:
			s.withdraw(wd.p, wd.err)
		case <-s.freedCh:
		case ev := <-s.evictedCh:
			s.remove(ev.w, ev.cause)
		case c := <-s.createdCh:
			s.adopt(c)
		case reply := <-s.statsCh:
			reply <- s.stats()
			continue
		case <-s.stop:
			s.shutdown()
			return
		}
		s.drain()
	}
}

// drain dispatches queued jobs, strict FIFO over jobs and first-fit over workers.
func (s *Scheduler) drain() {
	for len(s.queue) > 0 {
		w := s.firstAvailable()
		if w == nil {
			s.spawn()
			return
		}
		p := s.queue[0]
		if !w.Post(p.job) {
			// Lost a race with eviction; the worker is no longer available.
			continue
		}
		s.queue[0] = nil
		s.queue = s.queue[1:]
		p.accepted <- nil
		s.obs.JobDispatched(p.job.Request.Kind(), w.ID())
		s.logger.Debug("job dispatched", "job_id", p.job.ID, "kind", p.job.Request.Kind(), "worker_id", w.ID())
	}
}

func (s *Scheduler) firstAvailable() *worker.Worker {
	for _, w := range s.workers {
		if w.Available() {
			return w
		}
	}
	return nil
}

// spawn starts at most one worker creation at a time.
func (s *Scheduler) spawn() {
	if s.creating {
		return
	}
	s.creating = true
	s.nextID++
	w := worker.New(s.nextID, worker.Options{
		Factory: s.opts.Factory,
		Logger:  s.logger,
		Hooks: worker.Hooks{
			Freed:   s.onFreed,
			Evicted: s.onEvicted,
		},
	})
	if s.spawned != nil {
		s.spawned(w)
	}
	go func() {
		err := w.EnsureReady(s.ctx, s.opts.EndpointURL, s.opts.ReadyTimeout)
		// createdCh is unbuffered: a send completes only while the loop runs,
		// so a worker finished after Close is closed here instead of leaking.
		select {
		case s.createdCh <- creation{w: w, err: err}:
		case <-s.stop:
			w.Close()
		}
	}()
}

func (s *Scheduler) adopt(c creation) {
	s.creating = false
	if c.err == nil && c.w.State() != worker.Ready {
		c.err = c.w.Cause()
	}
	if c.err != nil {
		c.w.Close()
		err := c.err
		if fault.Category(err) == nil {
			err = fault.Tag(fault.ErrTransport, err)
		}
		err = fmt.Errorf("%w: %w", ErrWorkerCreation, err)
		s.obs.WorkerCreationFailed(err)
		s.logger.Warn("worker creation failed", "worker_id", c.w.ID(), "err", err)
		if len(s.queue) > 0 {
			head := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.reject(head, err)
		}
		return
	}
	s.workers = append(s.workers, c.w)
	s.obs.WorkerCreated(c.w.ID())
	s.logger.Info("worker created", "worker_id", c.w.ID(), "pool_size", len(s.workers))
}

// remove drops w from the pool. Unknown workers are ignored, which makes
// repeated eviction reports harmless.
func (s *Scheduler) remove(w *worker.Worker, cause error) {
	for i, cur := range s.workers {
		if cur != w {
			continue
		}
		s.workers = append(s.workers[:i], s.workers[i+1:]...)
		s.obs.WorkerEvicted(w.ID(), cause)
		s.logger.Warn("worker removed from pool", "worker_id", w.ID(), "pool_size", len(s.workers), "err", cause)
		return
	}
}

func (s *Scheduler) withdraw(p *Pending, err error) {
	for i, cur := range s.queue {
		if cur == p {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			s.reject(p, err)
			return
		}
	}
}

func (s *Scheduler) reject(p *Pending, err error) {
	p.job.Fail(err)
	p.accepted <- err
	s.obs.JobRejected(p.job.Request.Kind(), err)
}

func (s *Scheduler) shutdown() {
	for _, p := range s.queue {
		s.reject(p, ErrClosed)
	}
	s.queue = nil
	for _, w := range s.workers {
		w.Close()
	}
	s.workers = nil
}

func (s *Scheduler) stats() Stats {
	st := Stats{Workers: len(s.workers), Queued: len(s.queue), Creating: s.creating}
	for _, w := range s.workers {
		if w.Busy() {
			st.Busy++
		}
	}
	return st
}

func (s *Scheduler) onFreed(w *worker.Worker) {
	select {
	case s.freedCh <- w:
	case <-s.stop:
	}
}

func (s *Scheduler) onEvicted(w *worker.Worker, cause error) {
	select {
	case s.evictedCh <- eviction{w: w, cause: cause}:
	case <-s.stop:
	}
}

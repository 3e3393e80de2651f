package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/umbra/cryptoengine"
	"github.com/MrEthical07/umbra/fault"
	"github.com/MrEthical07/umbra/internal/protocol"
)

var (
	// ErrNotReady is returned when a job is posted before startup finished.
	ErrNotReady = errors.New("worker: not ready")
	// ErrEvicted is the failure of a job whose worker was evicted.
	ErrEvicted = errors.New("worker: evicted")
	// ErrStartupTimeout is returned when a startup phase does not finish in time.
	ErrStartupTimeout = errors.New("worker: startup timed out")
	// ErrAlreadyStarted is returned when EnsureReady is called twice.
	ErrAlreadyStarted = errors.New("worker: already started")
	// ErrClosed is the eviction cause of a worker shut down by its owner.
	ErrClosed = errors.New("worker: closed")
)

// State is a worker lifecycle state.
type State int32

const (
	Created State = iota
	Booting
	ConfiguringEndpoint
	Ready
	Evicted
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Booting:
		return "booting"
	case ConfiguringEndpoint:
		return "configuring_endpoint"
	case Ready:
		return "ready"
	case Evicted:
		return "evicted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// EngineFactory builds the engine a unit hosts. It runs on the unit during
// the init phase.
type EngineFactory func() (cryptoengine.Engine, error)

// Hooks receive worker notifications. They are called from the pump
// goroutine and must not block.
type Hooks struct {
	// Freed is called when a ready worker becomes free again.
	Freed func(w *Worker)
	// Evicted is called once when a ready worker is evicted.
	Evicted func(w *Worker, cause error)
}

// Options configure a Worker.
type Options struct {
	Factory EngineFactory
	Hooks   Hooks
	Logger  *slog.Logger
	// ProgressBuffer bounds queued progress reports; excess reports are dropped.
	ProgressBuffer int
}

type envelope struct {
	jobID string
	req   protocol.Request
}

// Worker is one execution unit and its busy/free bookkeeping.
type Worker struct {
	id      int
	factory EngineFactory
	hooks   Hooks
	logger  *slog.Logger

	state atomic.Int32
	busy  atomic.Bool

	mu      sync.Mutex
	current *Job

	in      chan envelope
	out     chan protocol.Event
	faults  chan error
	stop    chan struct{}
	startup chan struct{}

	evictOnce sync.Once
	cause     error

	// Owned by the unit goroutine.
	engine  cryptoengine.Engine
	baseURL string
}

// New starts the unit and pump goroutines of a worker in state Created.
func New(id int, opts Options) *Worker {
	if opts.Factory == nil {
		opts.Factory = func() (cryptoengine.Engine, error) { return cryptoengine.New(), nil }
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.ProgressBuffer <= 0 {
		opts.ProgressBuffer = 64
	}
	w := &Worker{
		id:      id,
		factory: opts.Factory,
		hooks:   opts.Hooks,
		logger:  opts.Logger.With("worker_id", id),
		in:      make(chan envelope),
		out:     make(chan protocol.Event, opts.ProgressBuffer),
		faults:  make(chan error, 1),
		stop:    make(chan struct{}),
		startup: make(chan struct{}, 1),
	}
	go w.unit()
	go w.pump()
	return w
}

// ID returns the worker id.
func (w *Worker) ID() int { return w.id }

// State returns the current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

// Busy reports whether a job is outstanding.
func (w *Worker) Busy() bool { return w.busy.Load() }

// Available reports Ready and free.
func (w *Worker) Available() bool { return w.State() == Ready && !w.Busy() }

// Cause returns why the worker was evicted, or nil.
func (w *Worker) Cause() error {
	if w.State() != Evicted {
		return nil
	}
	return w.cause
}

// Post forwards job to the unit. It returns false without side effects if
// the worker is busy, not ready or evicted. On true the worker owns the
// request's secrets and the job completes when the unit answers.
func (w *Worker) Post(job *Job) bool {
	if w.State() != Ready {
		return false
	}
	return w.post(job)
}

func (w *Worker) post(job *Job) bool {
	if !w.busy.CompareAndSwap(false, true) {
		return false
	}
	if w.State() == Evicted {
		w.busy.Store(false)
		return false
	}
	if err := job.Request.Validate(); err != nil {
		w.busy.Store(false)
		job.Fail(fault.Tag(fault.ErrConfiguration, err))
		return true
	}

	w.mu.Lock()
	w.current = job
	w.mu.Unlock()

	env := envelope{jobID: job.ID, req: job.Request.Transfer()}
	select {
	case w.in <- env:
		w.logger.Debug("job posted", "job_id", job.ID, "kind", env.req.Kind())
		return true
	case <-w.stop:
		// Evicted between the state check and the hand-off.
		env.req.Release()
		w.takeCurrent(job.ID)
		job.Fail(w.evictionError())
		return true
	}
}

// EnsureReady boots the engine and assigns baseURL, waiting at most timeout
// for each phase. On error the worker is evicted and must be discarded.
func (w *Worker) EnsureReady(ctx context.Context, baseURL string, timeout time.Duration) error {
	if !w.state.CompareAndSwap(int32(Created), int32(Booting)) {
		return ErrAlreadyStarted
	}
	w.logger.Debug("worker booting", "state", Booting.String())

	if err := w.phase(ctx, protocol.Init{}, timeout); err != nil {
		w.discard(err)
		return err
	}
	if !w.state.CompareAndSwap(int32(Booting), int32(ConfiguringEndpoint)) {
		return w.evictionError()
	}

	if err := w.phase(ctx, protocol.SetBaseURL{URL: baseURL}, timeout); err != nil {
		w.discard(err)
		return err
	}
	if !w.state.CompareAndSwap(int32(ConfiguringEndpoint), int32(Ready)) {
		return w.evictionError()
	}
	w.logger.Info("worker ready", "state", Ready.String())
	return nil
}

// phase runs one startup request and waits for its freed notification.
func (w *Worker) phase(ctx context.Context, req protocol.Request, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	job := NewJob(req, nil)
	if !w.post(job) {
		return fmt.Errorf("worker %d: %s: %w", w.id, req.Kind(), ErrNotReady)
	}
	if _, err := job.Wait(ctx); err != nil {
		return w.phaseError(req.Kind(), err)
	}
	select {
	case <-w.startup:
		return nil
	case <-w.stop:
		return w.evictionError()
	case <-ctx.Done():
		return w.phaseError(req.Kind(), ctx.Err())
	}
}

func (w *Worker) phaseError(kind protocol.Kind, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("worker %d: %s: %w", w.id, kind, ErrStartupTimeout)
	}
	return fmt.Errorf("worker %d: %s: %w", w.id, kind, err)
}

// Close evicts the worker. The in-flight job, if any, fails.
func (w *Worker) Close() {
	w.evict(ErrClosed, false)
}

func (w *Worker) discard(cause error) {
	w.evict(cause, false)
}

func (w *Worker) evictionError() error {
	return fault.Tag(fault.ErrTransport, fmt.Errorf("worker %d: %w: %w", w.id, ErrEvicted, w.cause))
}

// evict moves the worker to Evicted exactly once.
func (w *Worker) evict(cause error, notify bool) {
	w.evictOnce.Do(func() {
		w.cause = cause
		prev := State(w.state.Swap(int32(Evicted)))
		close(w.stop)

		w.mu.Lock()
		job := w.current
		w.current = nil
		w.mu.Unlock()
		if job != nil {
			job.Fail(w.evictionError())
		}

		w.logger.Warn("worker evicted", "state", prev.String(), "err", cause)
		if notify && prev == Ready && w.hooks.Evicted != nil {
			w.hooks.Evicted(w, cause)
		}
	})
}

func (w *Worker) takeCurrent(jobID string) *Job {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil || w.current.ID != jobID {
		return nil
	}
	job := w.current
	w.current = nil
	return job
}

func (w *Worker) currentJob() *Job {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// pump routes unit events until the worker is evicted.
func (w *Worker) pump() {
	for {
		select {
		case <-w.stop:
			return
		case err := <-w.faults:
			w.evict(err, true)
			return
		case ev := <-w.out:
			if err := w.route(ev); err != nil {
				w.evict(err, true)
				return
			}
		}
	}
}

func (w *Worker) route(ev protocol.Event) error {
	switch e := ev.(type) {
	case protocol.Reply:
		job := w.currentJob()
		if job == nil || job.ID != e.JobID {
			if e.Response != nil {
				e.Response.Release()
			}
			return fault.Tag(fault.ErrTransport, fmt.Errorf("reply for unknown job %q", e.JobID))
		}
		if err := protocol.Check(job.Request.Kind(), e.Response); err != nil {
			if e.Response != nil {
				e.Response.Release()
			}
			return fault.Tag(fault.ErrTransport, fmt.Errorf("undeliverable response: %w", err))
		}
		w.takeCurrent(e.JobID)
		if f, ok := e.Response.(protocol.Failure); ok {
			job.complete(nil, fault.Tag(fault.ErrEngine, f.Err))
			return nil
		}
		job.complete(e.Response, nil)
	case protocol.Progress:
		if job := w.currentJob(); job != nil && job.ID == e.JobID {
			job.report(e.Progress)
		}
	case protocol.Freed:
		w.busy.Store(false)
		if w.State() == Ready {
			if w.hooks.Freed != nil {
				w.hooks.Freed(w)
			}
			return nil
		}
		select {
		case w.startup <- struct{}{}:
		default:
		}
	default:
		return fault.Tag(fault.ErrTransport, fmt.Errorf("unknown event %T", ev))
	}
	return nil
}

package umbra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/umbra/cryptoengine"
	"github.com/MrEthical07/umbra/fault"
	"github.com/MrEthical07/umbra/handshake"
	"github.com/MrEthical07/umbra/internal/audit"
	"github.com/MrEthical07/umbra/internal/protocol"
	"github.com/MrEthical07/umbra/jwt"
	"github.com/MrEthical07/umbra/pool"
	"github.com/MrEthical07/umbra/sensitive"
)

// Client owns one session record, the worker pool that runs its crypto
// jobs and the handshake that establishes it. Methods are safe for
// concurrent use; handshake steps are serialized.
type Client struct {
	config  Config
	logger  *slog.Logger
	metrics *Metrics
	audit   *audit.Dispatcher
	bearer  *jwt.Manager

	pool      *pool.Scheduler
	handshake *handshake.Handshake

	closers   []func() error
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// State reports where the handshake stands.
func (c *Client) State() handshake.State {
	return c.handshake.State()
}

// Challenge returns the pending captcha and proof-of-work challenge, if any.
func (c *Client) Challenge() (handshake.Challenge, bool) {
	return c.handshake.Challenge()
}

// Handshake runs the state machine until the session is established.
// answer is called once per introduced challenge.
func (c *Client) Handshake(ctx context.Context, answer handshake.AnswerFunc) error {
	if err := c.open(); err != nil {
		return err
	}
	return c.handshake.Run(ctx, answer)
}

// Step performs exactly one transition and returns the new state.
func (c *Client) Step(ctx context.Context, answer handshake.AnswerFunc) (handshake.State, error) {
	if err := c.open(); err != nil {
		return c.State(), err
	}
	return c.handshake.Step(ctx, answer)
}

// SolvePoW solves the proof of work of the current challenge.
func (c *Client) SolvePoW(ctx context.Context, progressID string, progress func(cryptoengine.Progress)) (uint64, error) {
	if err := c.open(); err != nil {
		return 0, err
	}
	return c.handshake.SolveChallenge(ctx, progressID, progress)
}

// SolveProofOfWork solves an arbitrary puzzle on the pool.
func (c *Client) SolveProofOfWork(ctx context.Context, req handshake.PoWRequest, progress func(cryptoengine.Progress)) (uint64, error) {
	if err := c.open(); err != nil {
		return 0, err
	}
	return c.handshake.SolveProofOfWork(ctx, req, progress)
}

// Encrypt seals data under key on the pool. key is consumed.
func (c *Client) Encrypt(ctx context.Context, key *sensitive.Buffer, data []byte, label string, difficulty int) (*cryptoengine.Sealed, error) {
	if err := c.open(); err != nil {
		key.Destroy()
		return nil, err
	}
	resp, err := c.pool.Run(ctx, protocol.Encrypt{EncryptInput: cryptoengine.EncryptInput{
		Key:        key,
		Data:       data,
		Context:    label,
		Difficulty: difficulty,
	}}, nil)
	if err != nil {
		return nil, err
	}
	res, ok := resp.(protocol.Encrypted)
	if !ok {
		resp.Release()
		return nil, fault.Tag(fault.ErrTransport, fmt.Errorf("%w: %s answered with %T", protocol.ErrUnexpectedResponse, protocol.KindEncrypt, resp))
	}
	return res.Sealed, nil
}

// Ready reports whether the vault holds an established session.
func (c *Client) Ready(ctx context.Context) (bool, error) {
	return c.handshake.Session().Ready(ctx)
}

// SessionID returns the wire encoding of the established session id.
func (c *Client) SessionID(ctx context.Context) (string, error) {
	if err := c.requireReady(ctx); err != nil {
		return "", err
	}
	sid, err := c.handshake.Session().SessionID(ctx)
	if err != nil {
		return "", err
	}
	defer sid.Destroy()
	var out string
	_ = sid.Use(func(b []byte) error {
		out = cryptoengine.Encoding.EncodeToString(b)
		return nil
	})
	return out, nil
}

// Expiry returns the server's expiry hint, or the zero time.
func (c *Client) Expiry(ctx context.Context) (time.Time, error) {
	return c.handshake.Session().Expiry(ctx)
}

// Logout clears the session record from any state.
func (c *Client) Logout(ctx context.Context) error {
	err := c.handshake.Reset(ctx)
	c.metrics.Inc(MetricLogout)
	return err
}

// MintBearer returns a short-lived bearer token for the established
// session, signed with the session token.
func (c *Client) MintBearer(ctx context.Context) (string, error) {
	if err := c.open(); err != nil {
		return "", err
	}
	if c.bearer == nil {
		return "", fault.Tag(fault.ErrConfiguration, ErrBearerDisabled)
	}
	sid, err := c.SessionID(ctx)
	if err != nil {
		return "", err
	}
	token, err := c.handshake.Session().Token(ctx)
	if err != nil {
		return "", err
	}
	defer token.Destroy()

	var signed string
	err = token.Use(func(key []byte) error {
		var mintErr error
		signed, mintErr = c.bearer.Mint(sid, key)
		return mintErr
	})
	if err != nil {
		return "", fault.Tag(fault.ErrEngine, err)
	}
	c.metrics.Inc(MetricBearerMinted)
	return signed, nil
}

// PoolStats returns a snapshot of the worker pool.
func (c *Client) PoolStats() pool.Stats {
	return c.pool.Stats()
}

// MetricsSnapshot returns a point-in-time copy of the client metrics.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// AuditDropped is the number of audit events dropped under backpressure.
func (c *Client) AuditDropped() uint64 {
	return c.audit.Dropped()
}

// Close stops the pool, flushes audit events and releases backends the
// client opened. The session record is left in place.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.closeResources()
	})
	return c.closeErr
}

func (c *Client) closeResources() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	c.audit.Close()
	return errors.Join(errs...)
}

func (c *Client) open() error {
	if c.closed.Load() {
		return fault.Tag(fault.ErrConfiguration, ErrClosed)
	}
	return nil
}

func (c *Client) requireReady(ctx context.Context) error {
	ready, err := c.Ready(ctx)
	if err != nil {
		return err
	}
	if !ready {
		return fault.Tag(fault.ErrConfiguration, ErrNotReady)
	}
	return nil
}

func (c *Client) emit(e AuditEvent) {
	e.Timestamp = time.Now()
	c.audit.Emit(context.Background(), e)
}

// clientObserver turns pool and handshake events into metrics and audit
// records.
type clientObserver struct {
	c *Client
}

var (
	_ pool.Observer      = (*clientObserver)(nil)
	_ handshake.Observer = (*clientObserver)(nil)
)

func (o *clientObserver) JobSubmitted(protocol.Kind) {
	o.c.metrics.Inc(MetricJobSubmitted)
}

func (o *clientObserver) JobDispatched(protocol.Kind, int) {
	o.c.metrics.Inc(MetricJobDispatched)
}

func (o *clientObserver) JobRejected(protocol.Kind, error) {
	o.c.metrics.Inc(MetricJobRejected)
}

func (o *clientObserver) WorkerCreated(id int) {
	o.c.metrics.Inc(MetricWorkerCreated)
	o.c.emit(AuditEvent{Type: AuditWorkerCreated, WorkerID: id, Success: true})
}

func (o *clientObserver) WorkerCreationFailed(err error) {
	o.c.metrics.Inc(MetricWorkerCreationFailed)
	o.c.emit(AuditEvent{Type: AuditWorkerCreated, Error: err.Error()})
}

func (o *clientObserver) WorkerEvicted(id int, cause error) {
	o.c.metrics.Inc(MetricWorkerEvicted)
	e := AuditEvent{Type: AuditWorkerEvicted, WorkerID: id}
	if cause != nil {
		e.Error = cause.Error()
	}
	o.c.emit(e)
}

func (o *clientObserver) StepCompleted(from, to handshake.State, elapsed time.Duration) {
	switch to {
	case handshake.KeypairGenerated:
		o.c.metrics.Inc(MetricKeypairGenerated)
	case handshake.Introduced:
		o.c.metrics.Inc(MetricServerIntroduced)
	case handshake.CaptchaVerified:
		o.c.metrics.Inc(MetricCaptchaVerified)
	}
	o.c.metrics.Observe(MetricStepLatency, elapsed)
	o.c.emit(AuditEvent{
		Type:     AuditHandshakeStep,
		State:    to.String(),
		Success:  true,
		Elapsed:  elapsed,
		Metadata: map[string]string{"from": from.String()},
	})
}

func (o *clientObserver) StepFailed(at handshake.State, err error) {
	o.c.metrics.Inc(MetricStepFailure)
	meta := map[string]string{}
	if cat := fault.Category(err); cat != nil {
		meta["category"] = cat.Error()
	}
	o.c.emit(AuditEvent{Type: AuditHandshakeStep, State: at.String(), Error: err.Error(), Metadata: meta})
}

func (o *clientObserver) CaptchaRejected() {
	o.c.metrics.Inc(MetricCaptchaFormatRejected)
	o.c.emit(AuditEvent{Type: AuditCaptchaRejected})
}

func (o *clientObserver) PoWSolved(elapsed time.Duration) {
	o.c.metrics.Inc(MetricPoWSolved)
	o.c.emit(AuditEvent{Type: AuditPoWSolved, Success: true, Elapsed: elapsed})
}

func (o *clientObserver) SessionCleared() {
	o.c.emit(AuditEvent{Type: AuditSessionCleared, Success: true})
}

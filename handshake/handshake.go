package handshake

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/MrEthical07/umbra/cryptoengine"
	"github.com/MrEthical07/umbra/fault"
	"github.com/MrEthical07/umbra/internal/protocol"
	"github.com/MrEthical07/umbra/sensitive"
)

// State is the handshake's position in the session state machine.
type State int

const (
	Uninitialized State = iota
	KeypairGenerated
	Introduced
	CaptchaVerified
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case KeypairGenerated:
		return "keypair_generated"
	case Introduced:
		return "introduced"
	case CaptchaVerified:
		return "captcha_verified"
	default:
		return "unknown"
	}
}

// Runner executes engine jobs. *pool.Scheduler implements it.
type Runner interface {
	Run(ctx context.Context, req protocol.Request, progress func(cryptoengine.Progress)) (protocol.Response, error)
}

// Challenge is the public part of an introduction: what the user has to
// solve before the session is established.
type Challenge struct {
	CaptchaPNG   []byte
	PoWChallenge []byte
	PoWSalt      []byte
	PoWParams    cryptoengine.PoWParams
	ExpiresAt    time.Time
}

// AnswerFunc asks the user for the captcha answer.
type AnswerFunc func(ctx context.Context, c Challenge) (string, error)

// Observer receives step outcomes. Calls must not block.
type Observer interface {
	StepCompleted(from, to State, elapsed time.Duration)
	StepFailed(at State, err error)
	CaptchaRejected()
	PoWSolved(elapsed time.Duration)
	SessionCleared()
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) StepCompleted(State, State, time.Duration) {}
func (NopObserver) StepFailed(State, error)                   {}
func (NopObserver) CaptchaRejected()                          {}
func (NopObserver) PoWSolved(time.Duration)                   {}
func (NopObserver) SessionCleared()                           {}

// Options configure a Handshake. Session, Runner and Transport are required.
type Options struct {
	Session   *Session
	Runner    Runner
	Transport Transport
	Logger    *slog.Logger
	Observer  Observer
	// StepTimeout bounds each step; 0 means no timeout. Time spent waiting
	// for the captcha answer is not counted.
	StepTimeout time.Duration
}

var captchaPattern = regexp.MustCompile(`^\d{6}$`)

// Handshake drives one Session through the state machine.
type Handshake struct {
	session   *Session
	runner    Runner
	transport Transport
	logger    *slog.Logger
	obs       Observer
	timeout   time.Duration

	// step serializes transitions; mu guards the fields below and is only
	// held briefly.
	step sync.Mutex
	mu   sync.Mutex

	state State
	// identity is the public half of the committed soul, kept so the init
	// request can be re-sent without touching the soul.
	identity *InitRequest
	// pending is the server answer waiting to be introduced. It is kept
	// until the captcha succeeds so a failed captcha can re-introduce it.
	pending   *InitResponse
	challenge *Challenge
}

// New validates opts and returns a handshake in the Uninitialized state.
// Call Restore to pick up an already established session.
func New(opts Options) (*Handshake, error) {
	if opts.Session == nil || opts.Runner == nil || opts.Transport == nil {
		return nil, fault.Tag(fault.ErrConfiguration, fmt.Errorf("%w: session, runner and transport are required", ErrInvalidConfig))
	}
	if opts.StepTimeout < 0 {
		return nil, fault.Tag(fault.ErrConfiguration, fmt.Errorf("%w: negative step timeout", ErrInvalidConfig))
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	return &Handshake{
		session:   opts.Session,
		runner:    opts.Runner,
		transport: opts.Transport,
		logger:    opts.Logger,
		obs:       opts.Observer,
		timeout:   opts.StepTimeout,
	}, nil
}

// Restore initializes the session record and moves to CaptchaVerified when
// it is already ready.
func (h *Handshake) Restore(ctx context.Context) error {
	h.step.Lock()
	defer h.step.Unlock()

	if err := h.session.Init(ctx); err != nil {
		return err
	}
	ready, err := h.session.Ready(ctx)
	if err != nil {
		return err
	}
	if ready {
		h.setState(CaptchaVerified)
	}
	return nil
}

// Session returns the record this handshake drives.
func (h *Handshake) Session() *Session { return h.session }

// State returns the current state.
func (h *Handshake) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Challenge returns the current challenge, or false outside the Introduced state.
func (h *Handshake) Challenge() (Challenge, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.challenge == nil {
		return Challenge{}, false
	}
	return *h.challenge, true
}

func (h *Handshake) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// GenerateKeypair runs Uninitialized -> KeypairGenerated and sends the public
// keys to the server. The transition is committed once the soul is stored; a
// network failure after that still leaves the handshake in KeypairGenerated
// and IntroduceServer re-sends the keys.
func (h *Handshake) GenerateKeypair(ctx context.Context) error {
	return h.do(ctx, Uninitialized, h.generateKeypair)
}

// IntroduceServer runs KeypairGenerated -> Introduced.
func (h *Handshake) IntroduceServer(ctx context.Context) error {
	return h.do(ctx, KeypairGenerated, h.introduceServer)
}

// CheckoutCaptcha runs Introduced -> CaptchaVerified. The answer format is
// checked before anything else.
func (h *Handshake) CheckoutCaptcha(ctx context.Context, answer string) error {
	if !captchaPattern.MatchString(answer) {
		h.obs.CaptchaRejected()
		return fault.Tag(fault.ErrConfiguration, ErrCaptchaFormat)
	}
	return h.do(ctx, Introduced, func(ctx context.Context) error {
		return h.checkoutCaptcha(ctx, answer)
	})
}

// Step runs the transition for the current state. answer is consulted only
// in the Introduced state. It returns the state after the step.
func (h *Handshake) Step(ctx context.Context, answer AnswerFunc) (State, error) {
	var err error
	switch h.State() {
	case Uninitialized:
		err = h.GenerateKeypair(ctx)
	case KeypairGenerated:
		err = h.IntroduceServer(ctx)
	case Introduced:
		if answer == nil {
			return Introduced, fault.Tag(fault.ErrConfiguration, ErrNoAnswer)
		}
		c, ok := h.Challenge()
		if !ok {
			return Introduced, fault.Tag(fault.ErrProtocol, fmt.Errorf("%w: no challenge recorded", ErrOutOfOrder))
		}
		var text string
		text, err = answer(ctx, c)
		if err == nil {
			err = h.CheckoutCaptcha(ctx, text)
		}
	case CaptchaVerified:
	}
	return h.State(), err
}

// Run steps until the session is established or a step fails.
func (h *Handshake) Run(ctx context.Context, answer AnswerFunc) error {
	for {
		state, err := h.Step(ctx, answer)
		if err != nil {
			return err
		}
		if state == CaptchaVerified {
			return nil
		}
	}
}

// Reset clears the session record from any state. It waits for an in-flight
// step to finish.
func (h *Handshake) Reset(ctx context.Context) error {
	h.step.Lock()
	defer h.step.Unlock()

	err := h.session.Clear(ctx)
	h.mu.Lock()
	h.state = Uninitialized
	h.identity = nil
	h.pending = nil
	h.challenge = nil
	h.mu.Unlock()
	h.obs.SessionCleared()
	h.logger.Info("session cleared", "err", err)
	return err
}

// do runs one transition from state want under the step lock and the step
// timeout.
func (h *Handshake) do(ctx context.Context, want State, fn func(ctx context.Context) error) error {
	h.step.Lock()
	defer h.step.Unlock()

	from := h.State()
	if from != want {
		return fault.Tag(fault.ErrConfiguration, fmt.Errorf("%w: in %s, step needs %s", ErrOutOfOrder, from, want))
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	to := h.State()
	if err != nil {
		h.obs.StepFailed(from, err)
		h.logger.Warn("handshake step failed", "state", from.String(), "now", to.String(), "err", err)
		return err
	}
	elapsed := time.Since(start)
	h.obs.StepCompleted(from, to, elapsed)
	h.logger.Info("handshake step completed", "state", to.String(), "elapsed", elapsed)
	return nil
}

func (h *Handshake) generateKeypair(ctx context.Context) error {
	resp, err := h.runner.Run(ctx, protocol.GenerateKeypair{}, nil)
	if err != nil {
		return err
	}
	res, ok := resp.(protocol.KeypairGenerated)
	if !ok {
		resp.Release()
		return unexpected(protocol.KindGenerateKeypair, resp)
	}
	kp := res.Keypair
	if err := h.session.put(ctx, SecretSoul, kp.Soul); err != nil {
		return err
	}

	id := &InitRequest{EdPub: kp.EdPub, XPub: kp.XPub, XPubSig: kp.XPubSig}
	h.mu.Lock()
	h.state = KeypairGenerated
	h.identity = id
	h.mu.Unlock()

	return h.sendInit(ctx, id)
}

func (h *Handshake) sendInit(ctx context.Context, id *InitRequest) error {
	resp, err := h.transport.InitSession(ctx, *id)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.pending = resp
	h.mu.Unlock()
	return nil
}

func (h *Handshake) introduceServer(ctx context.Context) error {
	h.mu.Lock()
	pending, id := h.pending, h.identity
	h.mu.Unlock()

	if pending == nil {
		if id == nil {
			return fault.Tag(fault.ErrProtocol, fmt.Errorf("%w: public keys lost, reset the session", ErrOutOfOrder))
		}
		if err := h.sendInit(ctx, id); err != nil {
			return err
		}
		h.mu.Lock()
		pending = h.pending
		h.mu.Unlock()
	}

	if err := h.session.put(ctx, SecretServerEdPub, sensitive.Clone(pending.ServerEdPub)); err != nil {
		return err
	}
	if err := h.session.put(ctx, SecretServerXPub, sensitive.Clone(pending.ServerXPub)); err != nil {
		return err
	}
	if err := h.session.put(ctx, SecretSessionID, sensitive.Clone(pending.SessionID)); err != nil {
		return err
	}

	soul, err := h.session.Soul(ctx)
	if err != nil {
		return err
	}
	defer soul.Destroy()

	resp, err := h.runner.Run(ctx, protocol.IntroduceServer{IntroduceInput: cryptoengine.IntroduceInput{
		Soul:          soul,
		ServerEdPub:   pending.ServerEdPub,
		ServerXPub:    pending.ServerXPub,
		ServerXPubSig: pending.ServerXPubSig,
		Payload:       pending.Payload,
		Signature:     pending.Signature,
	}}, nil)
	if err != nil {
		return err
	}
	res, ok := resp.(protocol.ServerIntroduced)
	if !ok {
		resp.Release()
		return unexpected(protocol.KindIntroduceServer, resp)
	}
	intro := res.Introduction
	defer intro.Destroy()

	if intro.SessionID != nil && !bytes.Equal(intro.SessionID, pending.SessionID) {
		return fault.Tag(fault.ErrProtocol, ErrSessionIDMismatch)
	}
	if err := h.session.put(ctx, SecretTokenCiphered, intro.TokenCiphered.Move()); err != nil {
		return err
	}
	if err := h.session.put(ctx, SecretTokenCipherKeySalt, intro.TokenCipherKeySalt.Move()); err != nil {
		return err
	}
	if !intro.ExpiresAt.IsZero() {
		if err := h.session.setExpiry(ctx, intro.ExpiresAt); err != nil {
			return err
		}
	}

	h.mu.Lock()
	h.state = Introduced
	h.challenge = &Challenge{
		CaptchaPNG:   intro.CaptchaPNG,
		PoWChallenge: intro.PoWChallenge,
		PoWSalt:      intro.PoWSalt,
		PoWParams:    intro.PoWParams,
		ExpiresAt:    intro.ExpiresAt,
	}
	h.mu.Unlock()
	return nil
}

func (h *Handshake) checkoutCaptcha(ctx context.Context, answer string) (err error) {
	// The ciphered token survives one attempt only.
	defer func() {
		if clearErr := h.session.clearTransient(context.WithoutCancel(ctx)); clearErr != nil {
			h.logger.Error("transient session fields not cleared", "err", clearErr)
		}
		if err != nil {
			h.mu.Lock()
			h.state = KeypairGenerated
			h.challenge = nil
			h.mu.Unlock()
		}
	}()

	n, err := strconv.ParseUint(answer, 10, 64)
	if err != nil {
		return fault.Tag(fault.ErrConfiguration, ErrCaptchaFormat)
	}

	ciphered, err := h.session.require(ctx, SecretTokenCiphered)
	if err != nil {
		return err
	}
	defer ciphered.Destroy()
	salt, err := h.session.require(ctx, SecretTokenCipherKeySalt)
	if err != nil {
		return err
	}
	defer salt.Destroy()
	sid, err := h.session.SessionID(ctx)
	if err != nil {
		return err
	}
	defer sid.Destroy()

	resp, err := h.runner.Run(ctx, protocol.CheckoutCaptcha{CaptchaInput: cryptoengine.CaptchaInput{
		Answer:             n,
		TokenCiphered:      ciphered,
		TokenCipherKeySalt: salt,
		SessionID:          sid,
	}}, nil)
	if err != nil {
		return err
	}
	res, ok := resp.(protocol.CaptchaChecked)
	if !ok {
		resp.Release()
		return unexpected(protocol.KindCheckoutCaptcha, resp)
	}
	if err := h.session.put(ctx, SecretToken, res.Token); err != nil {
		return err
	}

	h.mu.Lock()
	h.state = CaptchaVerified
	h.pending = nil
	h.challenge = nil
	h.mu.Unlock()
	return nil
}

func unexpected(want protocol.Kind, got protocol.Response) error {
	return fault.Tag(fault.ErrTransport, fmt.Errorf("%w: %s answered with %s", protocol.ErrUnexpectedResponse, want, got.Answers()))
}

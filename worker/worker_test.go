package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/umbra/cryptoengine"
	"github.com/MrEthical07/umbra/fault"
	"github.com/MrEthical07/umbra/internal/protocol"
	"github.com/MrEthical07/umbra/sensitive"
)

// stubEngine panics on any capability it does not override.
type stubEngine struct {
	cryptoengine.Engine
	keypair func() (*cryptoengine.Keypair, error)
	pow     func(cryptoengine.PoWInput, cryptoengine.ProgressFunc) (uint64, error)
	encrypt func(cryptoengine.EncryptInput) (*cryptoengine.Sealed, error)
}

func (s *stubEngine) GenerateSessionKeypair() (*cryptoengine.Keypair, error) {
	if s.keypair == nil {
		return s.Engine.GenerateSessionKeypair()
	}
	return s.keypair()
}

func (s *stubEngine) ComputeProofOfWork(in cryptoengine.PoWInput, p cryptoengine.ProgressFunc) (uint64, error) {
	if s.pow == nil {
		return s.Engine.ComputeProofOfWork(in, p)
	}
	return s.pow(in, p)
}

func (s *stubEngine) AuthenticatedEncrypt(in cryptoengine.EncryptInput) (*cryptoengine.Sealed, error) {
	if s.encrypt == nil {
		return s.Engine.AuthenticatedEncrypt(in)
	}
	return s.encrypt(in)
}

func powRequest() protocol.ProofOfWork {
	return protocol.ProofOfWork{PoWInput: cryptoengine.PoWInput{
		ProgressID: "p-1",
		Challenge:  []byte{1},
		Salt:       []byte{2},
		Params:     cryptoengine.PoWParams{MemoryMB: 1, Iterations: 1, Parallelism: 1},
	}}
}

type hookRecorder struct {
	freed   chan *Worker
	evicted chan error
}

func newHookRecorder() *hookRecorder {
	return &hookRecorder{freed: make(chan *Worker, 16), evicted: make(chan error, 16)}
}

func (h *hookRecorder) hooks() Hooks {
	return Hooks{
		Freed:   func(w *Worker) { h.freed <- w },
		Evicted: func(_ *Worker, cause error) { h.evicted <- cause },
	}
}

func newReadyWorker(t *testing.T, eng cryptoengine.Engine, hooks Hooks) *Worker {
	t.Helper()
	w := New(1, Options{
		Factory: func() (cryptoengine.Engine, error) { return eng, nil },
		Hooks:   hooks,
	})
	if err := w.EnsureReady(context.Background(), "http://localhost:8080", time.Second); err != nil {
		t.Fatalf("ensure ready: %v", err)
	}
	t.Cleanup(w.Close)
	return w
}

func waitJob(t *testing.T, job *Job) (protocol.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := job.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("job %s never completed", job.ID)
	}
	return resp, err
}

func TestEnsureReadyThenGenerateKeypair(t *testing.T) {
	w := newReadyWorker(t, cryptoengine.New(), Hooks{})
	if w.State() != Ready || w.Busy() {
		t.Fatalf("expected ready and free, got %s busy=%v", w.State(), w.Busy())
	}

	job := NewJob(protocol.GenerateKeypair{}, nil)
	if !w.Post(job) {
		t.Fatalf("post refused on a free worker")
	}
	resp, err := waitJob(t, job)
	if err != nil {
		t.Fatalf("keypair job: %v", err)
	}
	kp := resp.(protocol.KeypairGenerated).Keypair
	defer kp.Soul.Destroy()
	if kp.Soul.Len() != cryptoengine.SoulSize {
		t.Fatalf("unexpected soul length %d", kp.Soul.Len())
	}
}

func TestEnsureReadyTwice(t *testing.T) {
	w := newReadyWorker(t, cryptoengine.New(), Hooks{})
	if err := w.EnsureReady(context.Background(), "http://localhost", time.Second); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestPostRefusedWhileBusy(t *testing.T) {
	release := make(chan struct{})
	eng := &stubEngine{pow: func(cryptoengine.PoWInput, cryptoengine.ProgressFunc) (uint64, error) {
		<-release
		return 7, nil
	}}
	rec := newHookRecorder()
	w := newReadyWorker(t, eng, rec.hooks())

	first := NewJob(powRequest(), nil)
	if !w.Post(first) {
		t.Fatalf("first post refused")
	}
	if w.Post(NewJob(protocol.GenerateKeypair{}, nil)) {
		t.Fatalf("busy worker accepted a second job")
	}
	close(release)

	resp, err := waitJob(t, first)
	if err != nil {
		t.Fatalf("pow job: %v", err)
	}
	if resp.(protocol.ProofFound).Nonce != 7 {
		t.Fatalf("unexpected nonce")
	}
	select {
	case got := <-rec.freed:
		if got != w {
			t.Fatalf("freed hook got another worker")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("freed hook never called")
	}
	if !w.Available() {
		t.Fatalf("worker must be available after freed")
	}
}

func TestProgressForwardedToJob(t *testing.T) {
	eng := &stubEngine{pow: func(in cryptoengine.PoWInput, p cryptoengine.ProgressFunc) (uint64, error) {
		for _, pct := range []float64{0, 50, 100} {
			p(cryptoengine.Progress{Kind: cryptoengine.ProgressKindPoW, ID: in.ProgressID, Percentage: pct})
		}
		return 1, nil
	}}
	w := newReadyWorker(t, eng, Hooks{})

	got := make(chan cryptoengine.Progress, 8)
	job := NewJob(powRequest(), func(p cryptoengine.Progress) { got <- p })
	if !w.Post(job) {
		t.Fatalf("post refused")
	}
	if _, err := waitJob(t, job); err != nil {
		t.Fatalf("pow job: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 progress reports before the reply, got %d", len(got))
	}
	if p := <-got; p.ID != "p-1" || p.Percentage != 0 {
		t.Fatalf("unexpected first report %+v", p)
	}
}

func TestEngineErrorKeepsWorker(t *testing.T) {
	boom := errors.New("boom")
	eng := &stubEngine{keypair: func() (*cryptoengine.Keypair, error) { return nil, boom }}
	rec := newHookRecorder()
	w := newReadyWorker(t, eng, rec.hooks())

	job := NewJob(protocol.GenerateKeypair{}, nil)
	if !w.Post(job) {
		t.Fatalf("post refused")
	}
	_, err := waitJob(t, job)
	if !errors.Is(err, boom) || !errors.Is(err, fault.ErrEngine) {
		t.Fatalf("expected tagged engine error, got %v", err)
	}
	<-rec.freed
	if w.State() != Ready {
		t.Fatalf("engine error must not evict, state=%s", w.State())
	}
}

func TestEnginePanicEvictsOnce(t *testing.T) {
	rec := newHookRecorder()
	// No keypair override: the embedded nil Engine panics.
	w := newReadyWorker(t, &stubEngine{}, rec.hooks())

	job := NewJob(protocol.GenerateKeypair{}, nil)
	if !w.Post(job) {
		t.Fatalf("post refused")
	}
	_, err := waitJob(t, job)
	if !errors.Is(err, ErrEvicted) || !errors.Is(err, fault.ErrTransport) {
		t.Fatalf("expected eviction failure, got %v", err)
	}

	select {
	case cause := <-rec.evicted:
		if !errors.Is(cause, fault.ErrTransport) {
			t.Fatalf("unexpected eviction cause %v", cause)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("evicted hook never called")
	}
	w.Close()
	select {
	case <-rec.evicted:
		t.Fatalf("evicted hook called twice")
	case <-time.After(50 * time.Millisecond):
	}

	if w.State() != Evicted {
		t.Fatalf("expected evicted, got %s", w.State())
	}
	if w.Post(NewJob(protocol.GenerateKeypair{}, nil)) {
		t.Fatalf("evicted worker accepted a job")
	}
}

func TestMalformedResponseEvicts(t *testing.T) {
	eng := &stubEngine{keypair: func() (*cryptoengine.Keypair, error) {
		return &cryptoengine.Keypair{EdPub: []byte{1}, Soul: sensitive.Clone([]byte{1})}, nil
	}}
	rec := newHookRecorder()
	w := newReadyWorker(t, eng, rec.hooks())

	job := NewJob(protocol.GenerateKeypair{}, nil)
	if !w.Post(job) {
		t.Fatalf("post refused")
	}
	if _, err := waitJob(t, job); !errors.Is(err, ErrEvicted) {
		t.Fatalf("expected eviction, got %v", err)
	}
	cause := <-rec.evicted
	if !errors.Is(cause, protocol.ErrInvalidMessage) {
		t.Fatalf("expected validation failure as cause, got %v", cause)
	}
}

func TestPostMovesSecrets(t *testing.T) {
	w := newReadyWorker(t, cryptoengine.New(), Hooks{})
	key := sensitive.Clone(make([]byte, 32))
	job := NewJob(protocol.Encrypt{EncryptInput: cryptoengine.EncryptInput{
		Key: key, Data: []byte("x"), Context: "@T", Difficulty: 1,
	}}, nil)
	if !w.Post(job) {
		t.Fatalf("post refused")
	}
	if !key.Destroyed() {
		t.Fatalf("caller key must be invalidated by post")
	}
	if _, err := waitJob(t, job); err != nil {
		t.Fatalf("encrypt job: %v", err)
	}
}

func TestServedSecretsWipedWhenEngineKeepsThem(t *testing.T) {
	seen := make(chan *sensitive.Buffer, 1)
	eng := &stubEngine{encrypt: func(in cryptoengine.EncryptInput) (*cryptoengine.Sealed, error) {
		// Leaves the key alone.
		seen <- in.Key
		return &cryptoengine.Sealed{Cipher: []byte("c"), Salt: []byte("s")}, nil
	}}
	w := newReadyWorker(t, eng, Hooks{})
	job := NewJob(protocol.Encrypt{EncryptInput: cryptoengine.EncryptInput{
		Key: sensitive.Clone([]byte{7, 7, 7}), Data: []byte("x"), Context: "@T",
	}}, nil)
	if !w.Post(job) {
		t.Fatalf("post refused")
	}
	if _, err := waitJob(t, job); err != nil {
		t.Fatalf("encrypt job: %v", err)
	}
	if key := <-seen; !key.Destroyed() {
		t.Fatalf("transferred key must be wiped once the request is served")
	}
}

func TestInvalidRequestFailsWithoutBusy(t *testing.T) {
	w := newReadyWorker(t, cryptoengine.New(), Hooks{})
	job := NewJob(protocol.Encrypt{}, nil)
	if !w.Post(job) {
		t.Fatalf("post refused")
	}
	if _, err := waitJob(t, job); !errors.Is(err, fault.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if w.Busy() {
		t.Fatalf("rejected request must not leave the worker busy")
	}
}

func TestEnsureReadyFactoryFailure(t *testing.T) {
	w := New(2, Options{Factory: func() (cryptoengine.Engine, error) { return nil, errors.New("no engine") }})
	err := w.EnsureReady(context.Background(), "http://localhost", time.Second)
	if err == nil {
		t.Fatalf("expected startup failure")
	}
	if w.State() != Evicted {
		t.Fatalf("failed startup must evict, got %s", w.State())
	}
}

func TestEnsureReadyTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	w := New(3, Options{Factory: func() (cryptoengine.Engine, error) {
		<-block
		return cryptoengine.New(), nil
	}})
	err := w.EnsureReady(context.Background(), "http://localhost", 50*time.Millisecond)
	if !errors.Is(err, ErrStartupTimeout) {
		t.Fatalf("expected ErrStartupTimeout, got %v", err)
	}
	if w.State() != Evicted {
		t.Fatalf("timed out worker must be evicted, got %s", w.State())
	}
}

func TestEnsureReadyRejectsBadBaseURL(t *testing.T) {
	w := New(4, Options{})
	err := w.EnsureReady(context.Background(), "not a url", time.Second)
	if !errors.Is(err, fault.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if w.State() != Evicted {
		t.Fatalf("expected evicted, got %s", w.State())
	}
}

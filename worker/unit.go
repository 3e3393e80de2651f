package worker

import (
	"fmt"

	"github.com/MrEthical07/umbra/cryptoengine"
	"github.com/MrEthical07/umbra/fault"
	"github.com/MrEthical07/umbra/internal/protocol"
)

// unit is the execution unit: it owns the engine and serves one request at a
// time until the worker is evicted or the engine crashes.
func (w *Worker) unit() {
	for {
		select {
		case <-w.stop:
			return
		case env := <-w.in:
			resp, crashed := w.serve(env)
			if crashed {
				return
			}
			if !w.send(protocol.Reply{JobID: env.jobID, Response: resp}) {
				resp.Release()
				return
			}
			if !w.send(protocol.Freed{ProcessType: env.req.Kind()}) {
				return
			}
		}
	}
}

func (w *Worker) send(ev protocol.Event) bool {
	select {
	case w.out <- ev:
		return true
	case <-w.stop:
		return false
	}
}

// progress forwards a report without blocking the engine; reports that do
// not fit are dropped.
func (w *Worker) progress(jobID string, p cryptoengine.Progress) {
	select {
	case w.out <- protocol.Progress{JobID: jobID, Progress: p}:
	default:
	}
}

// serve runs one request and then wipes its transferred secrets, whatever
// the engine did with them. A panic is reported as a fault and ends the unit.
func (w *Worker) serve(env envelope) (resp protocol.Response, crashed bool) {
	defer func() {
		env.req.Release()
		if r := recover(); r != nil {
			select {
			case w.faults <- fault.Tag(fault.ErrTransport, fmt.Errorf("engine panic during %s: %v", env.req.Kind(), r)):
			default:
			}
			resp, crashed = nil, true
		}
	}()
	return w.dispatch(env), false
}

func (w *Worker) dispatch(env envelope) protocol.Response {
	kind := env.req.Kind()
	failure := func(err error) protocol.Response {
		return protocol.Failure{Of: kind, Err: err}
	}

	switch req := env.req.(type) {
	case protocol.Init:
		if w.engine == nil {
			eng, err := w.factory()
			if err != nil {
				return failure(fmt.Errorf("boot engine: %w", err))
			}
			w.engine = eng
		}
		return protocol.Ready{}
	case protocol.SetBaseURL:
		w.baseURL = req.URL
		return protocol.BaseURLSet{URL: req.URL}
	}

	if w.engine == nil {
		return failure(ErrNotReady)
	}

	switch req := env.req.(type) {
	case protocol.GenerateKeypair:
		kp, err := w.engine.GenerateSessionKeypair()
		if err != nil {
			return failure(err)
		}
		return protocol.KeypairGenerated{Keypair: kp}
	case protocol.IntroduceServer:
		in, err := w.engine.IntroduceServer(req.IntroduceInput)
		if err != nil {
			return failure(err)
		}
		return protocol.ServerIntroduced{Introduction: in}
	case protocol.ProofOfWork:
		nonce, err := w.engine.ComputeProofOfWork(req.PoWInput, func(p cryptoengine.Progress) {
			w.progress(env.jobID, p)
		})
		if err != nil {
			return failure(err)
		}
		return protocol.ProofFound{ProgressID: req.ProgressID, Nonce: nonce}
	case protocol.CheckoutCaptcha:
		token, err := w.engine.CheckoutCaptcha(req.CaptchaInput)
		if err != nil {
			return failure(err)
		}
		return protocol.CaptchaChecked{Token: token}
	case protocol.Encrypt:
		sealed, err := w.engine.AuthenticatedEncrypt(req.EncryptInput)
		if err != nil {
			return failure(err)
		}
		return protocol.Encrypted{Sealed: sealed}
	default:
		return failure(fmt.Errorf("%w: unsupported request %s", protocol.ErrInvalidMessage, kind))
	}
}

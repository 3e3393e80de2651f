package handshake

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/umbra/cryptoengine"
	"github.com/MrEthical07/umbra/fault"
	"github.com/MrEthical07/umbra/internal/protocol"
	"github.com/google/uuid"
)

// PoWRequest is one proof-of-work puzzle. An empty ProgressID is replaced
// with a random one.
type PoWRequest struct {
	ProgressID string
	Challenge  []byte
	Salt       []byte
	Params     cryptoengine.PoWParams
}

// SolveProofOfWork solves req on the runner and returns the nonce. Progress
// reports are tagged with req.ProgressID. It does not touch the session
// record and may run concurrently with the state machine steps.
func (h *Handshake) SolveProofOfWork(ctx context.Context, req PoWRequest, progress func(cryptoengine.Progress)) (uint64, error) {
	if req.ProgressID == "" {
		req.ProgressID = uuid.NewString()
	}
	start := time.Now()
	resp, err := h.runner.Run(ctx, protocol.ProofOfWork{PoWInput: cryptoengine.PoWInput{
		ProgressID: req.ProgressID,
		Challenge:  req.Challenge,
		Salt:       req.Salt,
		Params:     req.Params,
	}}, progress)
	if err != nil {
		return 0, err
	}
	res, ok := resp.(protocol.ProofFound)
	if !ok {
		resp.Release()
		return 0, unexpected(protocol.KindProofOfWork, resp)
	}
	elapsed := time.Since(start)
	h.obs.PoWSolved(elapsed)
	h.logger.Debug("proof of work solved", "progress_id", res.ProgressID, "elapsed", elapsed)
	return res.Nonce, nil
}

// SolveChallenge solves the puzzle of the current challenge.
func (h *Handshake) SolveChallenge(ctx context.Context, progressID string, progress func(cryptoengine.Progress)) (uint64, error) {
	c, ok := h.Challenge()
	if !ok {
		return 0, fault.Tag(fault.ErrConfiguration, fmt.Errorf("%w: no challenge outside %s", ErrOutOfOrder, Introduced))
	}
	return h.SolveProofOfWork(ctx, PoWRequest{
		ProgressID: progressID,
		Challenge:  c.PoWChallenge,
		Salt:       c.PoWSalt,
		Params:     c.PoWParams,
	}, progress)
}

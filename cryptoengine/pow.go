package cryptoengine

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/crypto/argon2"
)

// targetPoWFailProbability bounds how often an honest solver gives up.
const targetPoWFailProbability = 0.0001

type powPlan struct {
	perAttempt  float64
	maxAttempts uint64
	reportEvery uint64
}

// planPoW sizes the search for a prefix match of challengeLen bytes: the
// attempt cap N is the smallest with (1-p)^N <= targetPoWFailProbability.
func planPoW(challengeLen int) (powPlan, error) {
	p := math.Exp2(-8.0 * float64(challengeLen))
	if p <= 0 || p >= 1 {
		return powPlan{}, ErrPoWChallenge
	}
	n := math.Ceil(math.Log(targetPoWFailProbability) / math.Log1p(-p))
	if n <= 0 || n >= float64(math.MaxUint64) || math.IsInf(n, 0) || math.IsNaN(n) {
		return powPlan{}, fmt.Errorf("%w: attempt cap overflows", ErrPoWChallenge)
	}
	limit := uint64(n)
	return powPlan{perAttempt: p, maxAttempts: limit, reportEvery: limit/1000 + 1}, nil
}

// percentage is the probability of having succeeded by attempt, scaled so
// the attempt cap reads as 100.
func (pl powPlan) percentage(attempt uint64) float64 {
	success := 1.0 - math.Pow(1.0-pl.perAttempt, float64(attempt))
	pct := 100.0 * success / (1.0 - targetPoWFailProbability)
	if pct > 100.0 {
		return 100.0
	}
	return pct
}

// PoWHash is argon2id over the big-endian nonce.
func PoWHash(nonce uint64, salt []byte, p PoWParams) []byte {
	var in [8]byte
	binary.BigEndian.PutUint64(in[:], nonce)
	return argon2.IDKey(in[:], salt, p.Iterations, p.MemoryMB*1024, uint8(p.Parallelism), 32)
}

// VerifyPoW reports whether nonce solves the puzzle.
func VerifyPoW(nonce uint64, challenge, salt []byte, p PoWParams) bool {
	if len(challenge) == 0 || len(challenge) > 32 || p.Validate() != nil {
		return false
	}
	return bytes.Equal(PoWHash(nonce, salt, p)[:len(challenge)], challenge)
}

// ComputeProofOfWork searches nonces 0, 1, 2, ... for a hash whose prefix
// equals the challenge. It reports 0% before the first attempt and then
// roughly every thousandth of the attempt cap.
func (d *Default) ComputeProofOfWork(in PoWInput, progress ProgressFunc) (uint64, error) {
	if err := in.Params.Validate(); err != nil {
		return 0, err
	}
	if len(in.Challenge) > 32 {
		return 0, ErrPoWChallenge
	}
	plan, err := planPoW(len(in.Challenge))
	if err != nil {
		return 0, err
	}

	report := func(pct float64) {
		if progress != nil {
			progress(Progress{Kind: ProgressKindPoW, ID: in.ProgressID, Percentage: pct})
		}
	}
	report(0)

	for attempt := uint64(1); attempt <= plan.maxAttempts; attempt++ {
		if attempt%plan.reportEvery == 0 {
			report(plan.percentage(attempt))
		}
		nonce := attempt - 1
		if bytes.Equal(PoWHash(nonce, in.Salt, in.Params)[:len(in.Challenge)], in.Challenge) {
			return nonce, nil
		}
	}
	return 0, fmt.Errorf("%w after %d attempts (target fail probability %.5f%%)",
		ErrPoWExhausted, plan.maxAttempts, targetPoWFailProbability*100.0)
}

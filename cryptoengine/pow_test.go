package cryptoengine

import (
	"errors"
	"testing"
)

var cheapPoW = PoWParams{MemoryMB: 1, Iterations: 1, Parallelism: 1}

func TestPlanPoWSingleByteChallenge(t *testing.T) {
	plan, err := planPoW(1)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.maxAttempts != 2354 {
		t.Fatalf("expected 2354 attempts, got %d", plan.maxAttempts)
	}
	if plan.reportEvery != 3 {
		t.Fatalf("expected report every 3 attempts, got %d", plan.reportEvery)
	}
	if pct := plan.percentage(plan.maxAttempts); pct != 100 {
		t.Fatalf("expected 100%% at the cap, got %f", pct)
	}
	if pct := plan.percentage(1); pct <= 0 || pct >= 1 {
		t.Fatalf("unexpected first-attempt percentage %f", pct)
	}
}

func TestPlanPoWRejectsDegenerateChallenges(t *testing.T) {
	if _, err := planPoW(0); !errors.Is(err, ErrPoWChallenge) {
		t.Fatalf("expected ErrPoWChallenge for empty challenge, got %v", err)
	}
	if _, err := planPoW(16); !errors.Is(err, ErrPoWChallenge) {
		t.Fatalf("expected ErrPoWChallenge for overflowing cap, got %v", err)
	}
}

func TestComputeProofOfWorkFindsVerifiableNonce(t *testing.T) {
	salt := []byte("0123456789ab")
	challenge := PoWHash(5, salt, cheapPoW)[:1]

	var reports []Progress
	nonce, err := New().ComputeProofOfWork(PoWInput{
		ProgressID: "p-1",
		Challenge:  challenge,
		Salt:       salt,
		Params:     cheapPoW,
	}, func(p Progress) { reports = append(reports, p) })
	if err != nil {
		t.Fatalf("pow: %v", err)
	}
	if nonce > 5 {
		t.Fatalf("solver skipped nonce 5, got %d", nonce)
	}
	if !VerifyPoW(nonce, challenge, salt, cheapPoW) {
		t.Fatalf("nonce %d does not verify", nonce)
	}
	if len(reports) == 0 || reports[0].Percentage != 0 {
		t.Fatalf("expected an initial 0%% report, got %+v", reports)
	}
	last := -1.0
	for _, r := range reports {
		if r.Kind != ProgressKindPoW || r.ID != "p-1" {
			t.Fatalf("unexpected report %+v", r)
		}
		if r.Percentage < last {
			t.Fatalf("progress went backwards: %+v", reports)
		}
		last = r.Percentage
	}
}

func TestComputeProofOfWorkRejectsZeroParams(t *testing.T) {
	e := New()
	for _, p := range []PoWParams{
		{MemoryMB: 0, Iterations: 1, Parallelism: 1},
		{MemoryMB: 1, Iterations: 0, Parallelism: 1},
		{MemoryMB: 1, Iterations: 1, Parallelism: 0},
	} {
		if _, err := e.ComputeProofOfWork(PoWInput{Challenge: []byte{1}, Params: p}, nil); !errors.Is(err, ErrPoWParams) {
			t.Fatalf("params %+v: expected ErrPoWParams, got %v", p, err)
		}
	}
}

func TestVerifyPoWRejectsWrongNonce(t *testing.T) {
	salt := []byte("salt-salt-12")
	h := PoWHash(9, salt, cheapPoW)
	if VerifyPoW(9, h[:4], salt, cheapPoW) == false {
		t.Fatalf("nonce 9 should verify its own prefix")
	}
	if VerifyPoW(10, h[:4], salt, cheapPoW) {
		t.Fatalf("4-byte prefix collision is implausible")
	}
}

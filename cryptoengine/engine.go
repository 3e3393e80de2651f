package cryptoengine

import (
	"time"

	"github.com/MrEthical07/umbra/sensitive"
)

// Engine is the capability set one worker hosts.
//
// Calls are synchronous and not cancellable once started. Every
// *sensitive.Buffer argument is consumed: the Engine destroys it before
// returning, on success and on failure.
type Engine interface {
	GenerateSessionKeypair() (*Keypair, error)
	IntroduceServer(in IntroduceInput) (*Introduction, error)
	ComputeProofOfWork(in PoWInput, progress ProgressFunc) (uint64, error)
	CheckoutCaptcha(in CaptchaInput) (*sensitive.Buffer, error)
	AuthenticatedEncrypt(in EncryptInput) (*Sealed, error)
}

// Keypair is the client half of a fresh session. Soul is the only secret.
type Keypair struct {
	EdPub   []byte
	XPub    []byte
	XPubSig []byte
	Soul    *sensitive.Buffer
}

// IntroduceInput carries the server's /session/init answer to the engine.
type IntroduceInput struct {
	Soul          *sensitive.Buffer
	ServerEdPub   []byte
	ServerXPub    []byte
	ServerXPubSig []byte
	Payload       []byte
	Signature     []byte
}

// PoWParams are the argon2id cost parameters of the proof-of-work puzzle.
type PoWParams struct {
	MemoryMB    uint32 `json:"memory_mb"`
	Iterations  uint32 `json:"iterations"`
	Parallelism uint32 `json:"parallelism"`
}

// Validate reports ErrPoWParams when any parameter is zero or parallelism
// does not fit argon2's lane count.
func (p PoWParams) Validate() error {
	if p.MemoryMB == 0 || p.Iterations == 0 || p.Parallelism == 0 || p.Parallelism > 255 {
		return ErrPoWParams
	}
	return nil
}

// Introduction is what the client learns from the decrypted server payload.
//
// SessionID is nil when the payload does not carry one. TokenCiphered and
// TokenCipherKeySalt are transient: they survive only until the captcha step.
type Introduction struct {
	SessionID          []byte
	CaptchaPNG         []byte
	PoWChallenge       []byte
	PoWSalt            []byte
	PoWParams          PoWParams
	TokenCiphered      *sensitive.Buffer
	TokenCipherKeySalt *sensitive.Buffer
	ExpiresAt          time.Time
}

// Destroy wipes the transient secrets. Safe on nil.
func (in *Introduction) Destroy() {
	if in == nil {
		return
	}
	in.TokenCiphered.Destroy()
	in.TokenCipherKeySalt.Destroy()
}

// PoWInput is one proof-of-work puzzle.
type PoWInput struct {
	ProgressID string
	Challenge  []byte
	Salt       []byte
	Params     PoWParams
}

// Progress is an out-of-band progress report.
type Progress struct {
	Kind       string
	ID         string
	Percentage float64
}

// ProgressKindPoW tags proof-of-work progress reports.
const ProgressKindPoW = "pow"

// ProgressFunc receives progress reports. It must not block.
type ProgressFunc func(Progress)

// CaptchaInput is the captcha checkout request. Answer is the numeric value
// of the six-digit answer.
type CaptchaInput struct {
	Answer             uint64
	TokenCiphered      *sensitive.Buffer
	TokenCipherKeySalt *sensitive.Buffer
	SessionID          *sensitive.Buffer
}

// EncryptInput is a general authenticated-encryption request.
type EncryptInput struct {
	Key        *sensitive.Buffer
	Data       []byte
	Context    string
	Difficulty int
}

// Sealed is an authenticated ciphertext and the salt it was derived with.
// Cipher is tag || ciphertext.
type Sealed struct {
	Cipher []byte
	Salt   []byte
}

package protocol

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/MrEthical07/umbra/cryptoengine"
	"github.com/MrEthical07/umbra/sensitive"
)

var (
	// ErrInvalidMessage is returned by Validate for malformed messages.
	ErrInvalidMessage = errors.New("protocol: invalid message")
	// ErrUnexpectedResponse is returned when a response does not answer its request.
	ErrUnexpectedResponse = errors.New("protocol: unexpected response")
)

// Kind tags a message.
type Kind string

const (
	KindInit            Kind = "init"
	KindSetBaseURL      Kind = "setBaseURL"
	KindGenerateKeypair Kind = "generateKeypair"
	KindIntroduceServer Kind = "introduceServer"
	KindProofOfWork     Kind = "proofOfWork"
	KindCheckoutCaptcha Kind = "checkoutCaptcha"
	KindEncrypt         Kind = "encrypt"

	KindProgress Kind = "progress"
	KindFreed    Kind = "freed"
	KindFailure  Kind = "error"
)

// Request is sent to a worker unit.
type Request interface {
	Kind() Kind
	Validate() error
	// Transfer returns a request owning the secrets; the receiver's buffers
	// are left destroyed.
	Transfer() Request
	// Release destroys any secrets the request still owns.
	Release()
	isRequest()
}

func invalid(k Kind, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidMessage, k, fmt.Sprintf(format, args...))
}

// Init boots the engine.
type Init struct{}

func (Init) Kind() Kind          { return KindInit }
func (Init) Validate() error     { return nil }
func (r Init) Transfer() Request { return r }
func (Init) Release()            {}
func (Init) isRequest()          {}

// SetBaseURL assigns the endpoint the worker talks to.
type SetBaseURL struct {
	URL string
}

func (SetBaseURL) Kind() Kind { return KindSetBaseURL }

func (r SetBaseURL) Validate() error {
	u, err := url.Parse(r.URL)
	if err != nil {
		return invalid(KindSetBaseURL, "parse url: %v", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid(KindSetBaseURL, "url must be absolute http(s)")
	}
	return nil
}

func (r SetBaseURL) Transfer() Request { return r }
func (SetBaseURL) Release()            {}
func (SetBaseURL) isRequest()          {}

// GenerateKeypair asks for a fresh soul and its public keys.
type GenerateKeypair struct{}

func (GenerateKeypair) Kind() Kind          { return KindGenerateKeypair }
func (GenerateKeypair) Validate() error     { return nil }
func (r GenerateKeypair) Transfer() Request { return r }
func (GenerateKeypair) Release()            {}
func (GenerateKeypair) isRequest()          {}

// IntroduceServer authenticates the server and opens its payload.
type IntroduceServer struct {
	cryptoengine.IntroduceInput
}

func (IntroduceServer) Kind() Kind { return KindIntroduceServer }

func (r IntroduceServer) Validate() error {
	switch {
	case r.Soul == nil || r.Soul.Destroyed():
		return invalid(KindIntroduceServer, "soul missing")
	case len(r.ServerEdPub) != 32 || len(r.ServerXPub) != 32:
		return invalid(KindIntroduceServer, "server public keys must be 32 bytes")
	case len(r.ServerXPubSig) != 64 || len(r.Signature) != 64:
		return invalid(KindIntroduceServer, "signatures must be 64 bytes")
	case len(r.Payload) == 0:
		return invalid(KindIntroduceServer, "payload empty")
	}
	return nil
}

func (r IntroduceServer) Transfer() Request {
	r.Soul = r.Soul.Move()
	return r
}

func (r IntroduceServer) Release() { r.Soul.Destroy() }
func (IntroduceServer) isRequest() {}

// ProofOfWork solves a puzzle, emitting progress events keyed by ProgressID.
type ProofOfWork struct {
	cryptoengine.PoWInput
}

func (ProofOfWork) Kind() Kind { return KindProofOfWork }

func (r ProofOfWork) Validate() error {
	if r.ProgressID == "" {
		return invalid(KindProofOfWork, "progress id missing")
	}
	if len(r.Challenge) == 0 {
		return invalid(KindProofOfWork, "challenge empty")
	}
	if err := r.Params.Validate(); err != nil {
		return invalid(KindProofOfWork, "%v", err)
	}
	return nil
}

func (r ProofOfWork) Transfer() Request { return r }
func (ProofOfWork) Release()            {}
func (ProofOfWork) isRequest()          {}

// CheckoutCaptcha opens the ciphered session token with the captcha answer.
type CheckoutCaptcha struct {
	cryptoengine.CaptchaInput
}

func (CheckoutCaptcha) Kind() Kind { return KindCheckoutCaptcha }

func (r CheckoutCaptcha) Validate() error {
	for name, b := range map[string]*sensitive.Buffer{
		"session token ciphered":        r.TokenCiphered,
		"session token cipher key salt": r.TokenCipherKeySalt,
		"session id":                    r.SessionID,
	} {
		if b == nil || b.Destroyed() || b.Len() == 0 {
			return invalid(KindCheckoutCaptcha, "%s missing", name)
		}
	}
	if r.Answer > 999999 {
		return invalid(KindCheckoutCaptcha, "answer out of range")
	}
	return nil
}

func (r CheckoutCaptcha) Transfer() Request {
	r.TokenCiphered = r.TokenCiphered.Move()
	r.TokenCipherKeySalt = r.TokenCipherKeySalt.Move()
	r.SessionID = r.SessionID.Move()
	return r
}

func (r CheckoutCaptcha) Release() {
	r.TokenCiphered.Destroy()
	r.TokenCipherKeySalt.Destroy()
	r.SessionID.Destroy()
}

func (CheckoutCaptcha) isRequest() {}

// Encrypt runs authenticated encryption under a caller key.
type Encrypt struct {
	cryptoengine.EncryptInput
}

func (Encrypt) Kind() Kind { return KindEncrypt }

func (r Encrypt) Validate() error {
	if r.Key == nil || r.Key.Destroyed() || r.Key.Len() == 0 {
		return invalid(KindEncrypt, "key missing")
	}
	if r.Context == "" {
		return invalid(KindEncrypt, "context missing")
	}
	return nil
}

func (r Encrypt) Transfer() Request {
	r.Key = r.Key.Move()
	return r
}

func (r Encrypt) Release() { r.Key.Destroy() }
func (Encrypt) isRequest() {}

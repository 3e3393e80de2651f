package protocol

import (
	"fmt"

	"github.com/MrEthical07/umbra/cryptoengine"
	"github.com/MrEthical07/umbra/sensitive"
)

// Response answers exactly one Request. Answers reports which request kind.
type Response interface {
	Answers() Kind
	Validate() error
	// Release destroys any secrets the response still owns.
	Release()
	isResponse()
}

// Ready answers Init.
type Ready struct{}

func (Ready) Answers() Kind   { return KindInit }
func (Ready) Validate() error { return nil }
func (Ready) Release()        {}
func (Ready) isResponse()     {}

// BaseURLSet answers SetBaseURL.
type BaseURLSet struct {
	URL string
}

func (BaseURLSet) Answers() Kind { return KindSetBaseURL }

func (r BaseURLSet) Validate() error {
	if r.URL == "" {
		return invalid(KindSetBaseURL, "empty url in response")
	}
	return nil
}

func (BaseURLSet) Release()    {}
func (BaseURLSet) isResponse() {}

// KeypairGenerated answers GenerateKeypair.
type KeypairGenerated struct {
	Keypair *cryptoengine.Keypair
}

func (KeypairGenerated) Answers() Kind { return KindGenerateKeypair }

func (r KeypairGenerated) Validate() error {
	kp := r.Keypair
	switch {
	case kp == nil:
		return invalid(KindGenerateKeypair, "keypair missing")
	case len(kp.EdPub) != 32 || len(kp.XPub) != 32 || len(kp.XPubSig) != 64:
		return invalid(KindGenerateKeypair, "public key material has wrong length")
	case kp.Soul == nil || kp.Soul.Len() != cryptoengine.SoulSize:
		return invalid(KindGenerateKeypair, "soul has wrong length")
	}
	return nil
}

func (r KeypairGenerated) Release() {
	if r.Keypair != nil {
		r.Keypair.Soul.Destroy()
	}
}

func (KeypairGenerated) isResponse() {}

// ServerIntroduced answers IntroduceServer.
type ServerIntroduced struct {
	Introduction *cryptoengine.Introduction
}

func (ServerIntroduced) Answers() Kind { return KindIntroduceServer }

func (r ServerIntroduced) Validate() error {
	in := r.Introduction
	switch {
	case in == nil:
		return invalid(KindIntroduceServer, "introduction missing")
	case in.TokenCiphered == nil || in.TokenCipherKeySalt == nil:
		return invalid(KindIntroduceServer, "ciphered token missing")
	}
	return nil
}

func (r ServerIntroduced) Release()  { r.Introduction.Destroy() }
func (ServerIntroduced) isResponse() {}

// ProofFound answers ProofOfWork.
type ProofFound struct {
	ProgressID string
	Nonce      uint64
}

func (ProofFound) Answers() Kind { return KindProofOfWork }

func (r ProofFound) Validate() error {
	if r.ProgressID == "" {
		return invalid(KindProofOfWork, "progress id missing in response")
	}
	return nil
}

func (ProofFound) Release()    {}
func (ProofFound) isResponse() {}

// CaptchaChecked answers CheckoutCaptcha with the plaintext session token.
type CaptchaChecked struct {
	Token *sensitive.Buffer
}

func (CaptchaChecked) Answers() Kind { return KindCheckoutCaptcha }

func (r CaptchaChecked) Validate() error {
	if r.Token == nil || r.Token.Len() != cryptoengine.TokenSize {
		return invalid(KindCheckoutCaptcha, "token has wrong length")
	}
	return nil
}

func (r CaptchaChecked) Release()  { r.Token.Destroy() }
func (CaptchaChecked) isResponse() {}

// Encrypted answers Encrypt.
type Encrypted struct {
	Sealed *cryptoengine.Sealed
}

func (Encrypted) Answers() Kind { return KindEncrypt }

func (r Encrypted) Validate() error {
	if r.Sealed == nil || len(r.Sealed.Salt) == 0 || len(r.Sealed.Cipher) == 0 {
		return invalid(KindEncrypt, "sealed output missing")
	}
	return nil
}

func (Encrypted) Release()    {}
func (Encrypted) isResponse() {}

// Failure is an application-level error response: the engine rejected the
// request. It does not harm the worker.
type Failure struct {
	Of  Kind
	Err error
}

func (r Failure) Answers() Kind { return r.Of }

func (r Failure) Validate() error {
	if r.Err == nil || r.Of == "" {
		return invalid(KindFailure, "failure without cause")
	}
	return nil
}

func (Failure) Release()    {}
func (Failure) isResponse() {}

// Check validates resp and that it answers req.
func Check(req Kind, resp Response) error {
	if resp == nil {
		return invalid(req, "nil response")
	}
	if err := resp.Validate(); err != nil {
		return err
	}
	if resp.Answers() != req {
		return fmt.Errorf("%w: %s answered by %s", ErrUnexpectedResponse, req, resp.Answers())
	}
	return nil
}

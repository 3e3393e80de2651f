package cryptoengine

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/MrEthical07/umbra/sensitive"
)

// Default is the production [Engine].
type Default struct {
	random  io.Reader
	captcha StretchParams
}

// Option customises a [Default] engine.
type Option func(*Default)

// WithRandom replaces crypto/rand as the entropy source.
func WithRandom(r io.Reader) Option {
	return func(d *Default) { d.random = r }
}

// WithCaptchaStretch overrides the captcha key-stretching costs. Client and
// server must agree on them.
func WithCaptchaStretch(p StretchParams) Option {
	return func(d *Default) { d.captcha = p }
}

// New returns a Default engine.
func New(opts ...Option) *Default {
	d := &Default{random: rand.Reader, captcha: DefaultCaptchaStretch}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var _ Engine = (*Default)(nil)

func (d *Default) GenerateSessionKeypair() (*Keypair, error) {
	soul := make([]byte, SoulSize)
	if _, err := io.ReadFull(d.random, soul); err != nil {
		sensitive.Wipe(soul)
		return nil, fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	id, err := DeriveIdentity(soul)
	if err != nil {
		sensitive.Wipe(soul)
		return nil, err
	}
	return &Keypair{
		EdPub:   id.EdPub,
		XPub:    id.XPub,
		XPubSig: id.XPubSig,
		Soul:    sensitive.New(soul),
	}, nil
}

func (d *Default) IntroduceServer(in IntroduceInput) (*Introduction, error) {
	defer in.Soul.Destroy()

	if !Verify(in.ServerEdPub, in.ServerXPub, in.ServerXPubSig) {
		return nil, ErrServerKeys
	}
	if !Verify(in.ServerEdPub, in.Payload, in.Signature) {
		return nil, ErrPayloadSignature
	}

	var sharedKey []byte
	err := in.Soul.Use(func(soul []byte) error {
		k, err := SharedKey(soul, in.ServerXPub)
		sharedKey = k
		return err
	})
	if errors.Is(err, sensitive.ErrDestroyed) {
		return nil, fmt.Errorf("%w: soul already consumed", ErrInvalidKey)
	}
	if err != nil {
		return nil, err
	}
	defer sensitive.Wipe(sharedKey)

	plain, err := openEnvelope(sharedKey, in.Payload, nil, ctxPayload, payloadDifficulty)
	if err != nil {
		if errors.Is(err, errEnvelopeAuth) {
			return nil, ErrPayloadAuth
		}
		return nil, err
	}
	defer sensitive.Wipe(plain)

	var raw SessionPayload
	if err := json.Unmarshal(plain, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return raw.introduction()
}

func (d *Default) CheckoutCaptcha(in CaptchaInput) (*sensitive.Buffer, error) {
	defer in.TokenCiphered.Destroy()
	defer in.TokenCipherKeySalt.Destroy()
	defer in.SessionID.Destroy()

	var key []byte
	if err := in.TokenCipherKeySalt.Use(func(salt []byte) error {
		key = CaptchaKey(in.Answer, salt, d.captcha)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("%w: token cipher key salt: %v", ErrInvalidKey, err)
	}
	defer sensitive.Wipe(key)

	var token []byte
	err := in.TokenCiphered.Use(func(envelope []byte) error {
		return in.SessionID.Use(func(sid []byte) error {
			var openErr error
			token, openErr = openEnvelope(key, envelope, sid, ctxSessionToken, tokenDifficulty)
			return openErr
		})
	})
	if err != nil {
		if errors.Is(err, errEnvelopeAuth) {
			return nil, ErrWrongCaptcha
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(token) != TokenSize {
		sensitive.Wipe(token)
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrTokenLength, len(token), TokenSize)
	}
	return sensitive.New(token), nil
}

func (d *Default) AuthenticatedEncrypt(in EncryptInput) (*Sealed, error) {
	defer in.Key.Destroy()

	var envelope []byte
	err := in.Key.Use(func(key []byte) error {
		var sealErr error
		envelope, sealErr = sealEnvelope(d.random, key, in.Data, nil, in.Context, in.Difficulty)
		return sealErr
	})
	if errors.Is(err, sensitive.ErrDestroyed) {
		return nil, fmt.Errorf("%w: key already consumed", ErrInvalidKey)
	}
	if err != nil {
		return nil, err
	}
	return &Sealed{Cipher: envelope[saltSize:], Salt: envelope[:saltSize]}, nil
}

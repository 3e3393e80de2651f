package cryptoengine

import (
	"errors"
	"fmt"
	"io"

	"github.com/MrEthical07/umbra/sensitive"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	saltSize = chacha20poly1305.NonceSize
	tagSize  = chacha20poly1305.Overhead

	ctxPayload        = "@RESPONSE-PAYLOAD"
	ctxSessionToken   = "@SESSION-TOKEN"
	payloadDifficulty = 8
	tokenDifficulty   = 2
)

var errEnvelopeAuth = errors.New("envelope authentication failed")

// subkey chains difficulty HKDF rounds over key, salted with salt.
func subkey(key, salt []byte, context string, difficulty int) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrInvalidKey
	}
	if difficulty < 1 {
		difficulty = 1
	}
	k := make([]byte, len(key))
	copy(k, key)
	for round := 0; round < difficulty; round++ {
		next, err := kdf(k, salt, fmt.Sprintf("%s#%d", context, round), chacha20poly1305.KeySize)
		sensitive.Wipe(k)
		if err != nil {
			return nil, err
		}
		k = next
	}
	return k, nil
}

func associatedData(context string, mixin []byte) []byte {
	ad := make([]byte, 0, len(context)+len(mixin))
	ad = append(ad, context...)
	return append(ad, mixin...)
}

// seal returns the salt and ciphertext || tag.
func seal(random io.Reader, key, plaintext, mixin []byte, context string, difficulty int) ([]byte, []byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(random, salt); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	sk, err := subkey(key, salt, context, difficulty)
	if err != nil {
		return nil, nil, err
	}
	defer sensitive.Wipe(sk)

	aead, err := chacha20poly1305.New(sk)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return salt, aead.Seal(nil, salt, plaintext, associatedData(context, mixin)), nil
}

func open(key, salt, ctTag, mixin []byte, context string, difficulty int) ([]byte, error) {
	if len(salt) != saltSize || len(ctTag) < tagSize {
		return nil, errEnvelopeAuth
	}
	sk, err := subkey(key, salt, context, difficulty)
	if err != nil {
		return nil, err
	}
	defer sensitive.Wipe(sk)

	aead, err := chacha20poly1305.New(sk)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	plain, err := aead.Open(nil, salt, ctTag, associatedData(context, mixin))
	if err != nil {
		return nil, errEnvelopeAuth
	}
	return plain, nil
}

// pack lays out salt || tag || ciphertext.
func pack(salt, ctTag []byte) []byte {
	n := len(ctTag) - tagSize
	out := make([]byte, 0, saltSize+len(ctTag))
	out = append(out, salt...)
	out = append(out, ctTag[n:]...)
	return append(out, ctTag[:n]...)
}

// unpack splits an envelope into its salt and ciphertext || tag.
func unpack(envelope []byte) ([]byte, []byte, bool) {
	if len(envelope) < saltSize+tagSize {
		return nil, nil, false
	}
	salt := envelope[:saltSize]
	tag := envelope[saltSize : saltSize+tagSize]
	ct := envelope[saltSize+tagSize:]
	ctTag := make([]byte, len(ct)+tagSize)
	copy(ctTag, ct)
	copy(ctTag[len(ct):], tag)
	return salt, ctTag, true
}

func sealEnvelope(random io.Reader, key, plaintext, mixin []byte, context string, difficulty int) ([]byte, error) {
	salt, ctTag, err := seal(random, key, plaintext, mixin, context, difficulty)
	if err != nil {
		return nil, err
	}
	return pack(salt, ctTag), nil
}

func openEnvelope(key, envelope, mixin []byte, context string, difficulty int) ([]byte, error) {
	salt, ctTag, ok := unpack(envelope)
	if !ok {
		return nil, errEnvelopeAuth
	}
	return open(key, salt, ctTag, mixin, context, difficulty)
}

// Open reverses [Engine.AuthenticatedEncrypt].
func Open(key []byte, s *Sealed, context string, difficulty int) ([]byte, error) {
	if s == nil || len(s.Cipher) < tagSize {
		return nil, ErrPayloadAuth
	}
	envelope := make([]byte, 0, len(s.Salt)+len(s.Cipher))
	envelope = append(envelope, s.Salt...)
	envelope = append(envelope, s.Cipher...)
	plain, err := openEnvelope(key, envelope, nil, context, difficulty)
	if errors.Is(err, errEnvelopeAuth) {
		return nil, ErrPayloadAuth
	}
	return plain, err
}

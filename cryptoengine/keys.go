package cryptoengine

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/MrEthical07/umbra/sensitive"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// SoulSize is the length of a session soul.
	SoulSize = 32
	// TokenSize is the length of a plaintext session token.
	TokenSize = 24
	// SessionIDSize is the length of a server-issued session id.
	SessionIDSize = 24

	ctxEdDerivation = "@ED25519-PRIVATEKEY-DERIVATION"
	ctxXDerivation  = "@X25519-PRIVATEKEY-DERIVATION"
	ctxSharedKey    = "@SESSION-SHARED-KEY"
)

// Encoding is the base64 alphabet used for binary fields on the wire.
var Encoding = base64.RawStdEncoding

// Identity is the public half of a soul: both public keys and the ed25519
// signature over the x25519 key.
type Identity struct {
	EdPub   []byte
	XPub    []byte
	XPubSig []byte
}

func kdf(secret, salt []byte, info string, size int) ([]byte, error) {
	out := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("%w: hkdf: %v", ErrInvalidKey, err)
	}
	return out, nil
}

func edPrivateKey(soul []byte) (ed25519.PrivateKey, error) {
	if len(soul) != SoulSize {
		return nil, ErrInvalidKey
	}
	seed, err := kdf(soul, nil, ctxEdDerivation, ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	defer sensitive.Wipe(seed)
	return ed25519.NewKeyFromSeed(seed), nil
}

func xPrivateKey(soul []byte) ([]byte, error) {
	if len(soul) != SoulSize {
		return nil, ErrInvalidKey
	}
	return kdf(soul, nil, ctxXDerivation, curve25519.ScalarSize)
}

// DeriveIdentity derives both public keys from soul and signs the x25519 key.
func DeriveIdentity(soul []byte) (Identity, error) {
	edPriv, err := edPrivateKey(soul)
	if err != nil {
		return Identity{}, err
	}
	defer sensitive.Wipe(edPriv)

	xPriv, err := xPrivateKey(soul)
	if err != nil {
		return Identity{}, err
	}
	defer sensitive.Wipe(xPriv)

	xPub, err := curve25519.X25519(xPriv, curve25519.Basepoint)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	edPub := make([]byte, ed25519.PublicKeySize)
	copy(edPub, edPriv.Public().(ed25519.PublicKey))

	return Identity{
		EdPub:   edPub,
		XPub:    xPub,
		XPubSig: ed25519.Sign(edPriv, xPub),
	}, nil
}

// Sign signs msg with the ed25519 key derived from soul.
func Sign(soul, msg []byte) ([]byte, error) {
	edPriv, err := edPrivateKey(soul)
	if err != nil {
		return nil, err
	}
	defer sensitive.Wipe(edPriv)
	return ed25519.Sign(edPriv, msg), nil
}

// Verify reports whether sig is a valid ed25519 signature of msg by pub.
func Verify(pub, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}

// SharedKey runs x25519 between the soul's private key and peerXPub and
// derives the 32-byte session shared key from the result.
func SharedKey(soul, peerXPub []byte) ([]byte, error) {
	if len(peerXPub) != curve25519.PointSize {
		return nil, ErrInvalidKey
	}
	xPriv, err := xPrivateKey(soul)
	if err != nil {
		return nil, err
	}
	defer sensitive.Wipe(xPriv)

	shared, err := curve25519.X25519(xPriv, peerXPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	defer sensitive.Wipe(shared)
	return kdf(shared, nil, ctxSharedKey, 32)
}

package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/MrEthical07/umbra/sensitive"
	"golang.org/x/crypto/chacha20poly1305"
)

// MasterKeySize is the required master key length in bytes.
const MasterKeySize = chacha20poly1305.KeySize

// Sealer encrypts and authenticates individual secrets under a master key
// that cannot be read back out.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer from a 32-byte master key. The key bytes are
// zeroed once the cipher is initialised.
func NewSealer(masterKey []byte) (*Sealer, error) {
	defer sensitive.Wipe(masterKey)
	if len(masterKey) != MasterKeySize {
		return nil, ErrInvalidMasterKey
	}
	aead, err := chacha20poly1305.New(masterKey)
	if err != nil {
		return nil, fmt.Errorf("vault: init sealer: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// NewEphemeralSealer generates a random master key that lives only as long
// as the process. Secrets sealed with it are unreadable after restart.
func NewEphemeralSealer() (*Sealer, error) {
	key := make([]byte, MasterKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("vault: read master key entropy: %w", err)
	}
	return NewSealer(key)
}

// seal returns nonce || ciphertext.
func (s *Sealer) seal(name string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("vault: read nonce entropy: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, []byte(name)), nil
}

func (s *Sealer) open(name string, record []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(record) < ns+s.aead.Overhead() {
		return nil, ErrCorrupt
	}
	plaintext, err := s.aead.Open(nil, record[:ns], record[ns:], []byte(name))
	if err != nil {
		return nil, ErrCorrupt
	}
	return plaintext, nil
}

package handshake

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/umbra/fault"
	"github.com/MrEthical07/umbra/sensitive"
	"github.com/MrEthical07/umbra/vault"
)

// Store names of the session record.
const (
	SecretSessionID          = "session_id"
	SecretToken              = "session_token"
	SecretSoul               = "session_soul"
	SecretServerEdPub        = "server_ed_pubkey"
	SecretServerXPub         = "server_x_pubkey"
	SecretTokenCiphered      = "token_ciphered"
	SecretTokenCipherKeySalt = "token_cipher_key_salt"
	SecretExpiry             = "session_expiry_unix_millisec"
)

var (
	readyFields     = []string{SecretSessionID, SecretToken, SecretSoul}
	persistedFields = []string{SecretSessionID, SecretToken, SecretSoul, SecretServerEdPub, SecretServerXPub}
	transientFields = []string{SecretTokenCiphered, SecretTokenCipherKeySalt}
)

// Session is the persistent session record. It holds no secrets itself;
// every accessor goes to the store and hands back a caller-owned buffer.
type Session struct {
	store vault.Store
}

// NewSession returns a Session over store.
func NewSession(store vault.Store) *Session {
	return &Session{store: store}
}

// Init runs at process start. A session that is not ready gets its id, token
// and soul reset to present-but-empty.
func (s *Session) Init(ctx context.Context) error {
	ready, err := s.Ready(ctx)
	if err != nil {
		return err
	}
	if ready {
		return nil
	}
	for _, name := range readyFields {
		if err := s.put(ctx, name, sensitive.Empty()); err != nil {
			return err
		}
	}
	return nil
}

// Ready reports whether session id, token and soul are all present and
// non-empty.
func (s *Session) Ready(ctx context.Context) (bool, error) {
	for _, name := range readyFields {
		buf, err := s.store.Get(ctx, name)
		if errors.Is(err, vault.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, storeError(name, err)
		}
		n := buf.Len()
		buf.Destroy()
		if n == 0 {
			return false, nil
		}
	}
	return true, nil
}

// Clear resets every persisted field to an empty buffer and removes the
// transient fields and the expiry. It always visits every field and reports
// all failures.
func (s *Session) Clear(ctx context.Context) error {
	var errs []error
	for _, name := range persistedFields {
		if err := s.put(ctx, name, sensitive.Empty()); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.clearTransient(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.Clear(ctx, SecretExpiry); err != nil {
		errs = append(errs, storeError(SecretExpiry, err))
	}
	return errors.Join(errs...)
}

// Logout is Clear.
func (s *Session) Logout(ctx context.Context) error { return s.Clear(ctx) }

// SessionID returns the server-issued session id.
func (s *Session) SessionID(ctx context.Context) (*sensitive.Buffer, error) {
	return s.require(ctx, SecretSessionID)
}

// Token returns the plaintext session token.
func (s *Session) Token(ctx context.Context) (*sensitive.Buffer, error) {
	return s.require(ctx, SecretToken)
}

// Soul returns the client's long-term session secret.
func (s *Session) Soul(ctx context.Context) (*sensitive.Buffer, error) {
	return s.require(ctx, SecretSoul)
}

// ServerKeys returns the server's ed25519 and x25519 public keys.
func (s *Session) ServerKeys(ctx context.Context) (ed, x []byte, err error) {
	edBuf, err := s.require(ctx, SecretServerEdPub)
	if err != nil {
		return nil, nil, err
	}
	defer edBuf.Destroy()
	xBuf, err := s.require(ctx, SecretServerXPub)
	if err != nil {
		return nil, nil, err
	}
	defer xBuf.Destroy()
	_ = edBuf.Use(func(b []byte) error { ed = append([]byte(nil), b...); return nil })
	_ = xBuf.Use(func(b []byte) error { x = append([]byte(nil), b...); return nil })
	return ed, x, nil
}

// Expiry returns the server's expiry hint, or the zero time when none was
// recorded.
func (s *Session) Expiry(ctx context.Context) (time.Time, error) {
	buf, err := s.store.Get(ctx, SecretExpiry)
	if errors.Is(err, vault.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, storeError(SecretExpiry, err)
	}
	defer buf.Destroy()

	var at time.Time
	err = buf.Use(func(b []byte) error {
		switch len(b) {
		case 0:
			return nil
		case 8:
			at = time.UnixMilli(int64(binary.BigEndian.Uint64(b))).UTC()
			return nil
		default:
			return fmt.Errorf("%w: %s has %d bytes", ErrMalformedResponse, SecretExpiry, len(b))
		}
	})
	if err != nil {
		return time.Time{}, fault.Tag(fault.ErrProtocol, err)
	}
	return at, nil
}

func (s *Session) setExpiry(ctx context.Context, at time.Time) error {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(at.UnixMilli()))
	return s.put(ctx, SecretExpiry, sensitive.New(b))
}

func (s *Session) clearTransient(ctx context.Context) error {
	var errs []error
	for _, name := range transientFields {
		if err := s.store.Clear(ctx, name); err != nil {
			errs = append(errs, storeError(name, err))
		}
	}
	return errors.Join(errs...)
}

// put stores secret under name. secret is destroyed in every case.
func (s *Session) put(ctx context.Context, name string, secret *sensitive.Buffer) error {
	if err := s.store.Put(ctx, name, secret); err != nil {
		return storeError(name, err)
	}
	return nil
}

// require returns a non-empty secret or an ErrMissingSecret protocol error.
func (s *Session) require(ctx context.Context, name string) (*sensitive.Buffer, error) {
	buf, err := s.store.Get(ctx, name)
	if errors.Is(err, vault.ErrNotFound) {
		return nil, fault.Tag(fault.ErrProtocol, fmt.Errorf("%w: %s", ErrMissingSecret, name))
	}
	if err != nil {
		return nil, storeError(name, err)
	}
	if buf.Len() == 0 {
		buf.Destroy()
		return nil, fault.Tag(fault.ErrProtocol, fmt.Errorf("%w: %s is empty", ErrMissingSecret, name))
	}
	return buf, nil
}

func storeError(name string, err error) error {
	return fault.Tag(fault.ErrProtocol, fmt.Errorf("%w: %s: %w", ErrSessionStore, name, err))
}

package vault

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/umbra/sensitive"
)

// Store is the secret storage contract consumed by the session layer.
type Store interface {
	// Put seals secret under name, replacing any previous value. Put always
	// destroys secret before returning, on success and on failure.
	Put(ctx context.Context, name string, secret *sensitive.Buffer) error
	// Get returns a fresh Buffer owned by the caller, or ErrNotFound.
	Get(ctx context.Context, name string) (*sensitive.Buffer, error)
	// Clear removes the secret. Clearing a missing name is not an error.
	Clear(ctx context.Context, name string) error
}

// emptySentinel is what an empty secret is stored as.
const emptySentinel byte = 0x00

type backend interface {
	load(ctx context.Context, name string) ([]byte, error)
	save(ctx context.Context, name string, record []byte) error
	remove(ctx context.Context, name string) error
}

// sealedStore implements Store over any raw-record backend.
type sealedStore struct {
	sealer  *Sealer
	backend backend
}

func (s *sealedStore) Put(ctx context.Context, name string, secret *sensitive.Buffer) error {
	defer secret.Destroy()
	if err := validateName(name); err != nil {
		return err
	}

	var record []byte
	err := secret.Use(func(plain []byte) error {
		if len(plain) == 0 {
			plain = []byte{emptySentinel}
		}
		var sealErr error
		record, sealErr = s.sealer.seal(name, plain)
		return sealErr
	})
	if errors.Is(err, sensitive.ErrDestroyed) {
		// A destroyed buffer is stored as empty.
		record, err = s.sealer.seal(name, []byte{emptySentinel})
	}
	if err != nil {
		return err
	}
	return s.backend.save(ctx, name, record)
}

func (s *sealedStore) Get(ctx context.Context, name string) (*sensitive.Buffer, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	record, err := s.backend.load(ctx, name)
	if err != nil {
		return nil, err
	}
	plain, err := s.sealer.open(name, record)
	if err != nil {
		return nil, err
	}
	if len(plain) == 1 && plain[0] == emptySentinel {
		sensitive.Wipe(plain)
		return sensitive.Empty(), nil
	}
	return sensitive.New(plain), nil
}

func (s *sealedStore) Clear(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	return s.backend.remove(ctx, name)
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidName
	}
	return nil
}

package vault

import "errors"

var (
	// ErrNotFound is returned by Get when no secret is stored under the name.
	ErrNotFound = errors.New("vault: secret not found")
	// ErrInvalidName is returned for empty secret names.
	ErrInvalidName = errors.New("vault: invalid secret name")
	// ErrCorrupt is returned when a sealed record fails authentication.
	ErrCorrupt = errors.New("vault: sealed record corrupt")
	// ErrInvalidMasterKey is returned by NewSealer for keys of the wrong size.
	ErrInvalidMasterKey = errors.New("vault: master key must be 32 bytes")
	// ErrUnavailable wraps backend I/O failures.
	ErrUnavailable = errors.New("vault: backend unavailable")
)

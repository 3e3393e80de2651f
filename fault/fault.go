// Package fault holds the error categories shared by every layer.
//
// Concrete errors are tagged with exactly one category via [Tag], so callers
// can branch on errors.Is(err, fault.ErrProtocol) without knowing which
// package produced the error.
//
//   - ErrConfiguration: rejected before any cryptographic or network work; never retried.
//   - ErrTransport: a worker crashed or sent an unreadable message; the worker is evicted.
//   - ErrProtocol: the server answer or a stored secret is missing or malformed.
//   - ErrEngine: the crypto engine rejected the request.
package fault

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrTransport     = errors.New("transport fault")
	ErrProtocol      = errors.New("protocol error")
	ErrEngine        = errors.New("engine error")
)

// Tag returns an error matching both category and err. A nil err stays nil,
// and an err already tagged with category is returned as is.
func Tag(category, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, category) {
		return err
	}
	return fmt.Errorf("%w: %w", category, err)
}

// Category reports which category err belongs to, or nil.
func Category(err error) error {
	for _, c := range []error{ErrConfiguration, ErrTransport, ErrProtocol, ErrEngine} {
		if errors.Is(err, c) {
			return c
		}
	}
	return nil
}

package umbra

import (
	"errors"

	"github.com/MrEthical07/umbra/fault"
)

// Error categories. Every error returned by a Client matches exactly one
// of them with errors.Is.
var (
	ErrConfiguration = fault.ErrConfiguration
	ErrTransport     = fault.ErrTransport
	ErrProtocol      = fault.ErrProtocol
	ErrEngine        = fault.ErrEngine
)

var (
	// ErrBuilderUsed is returned by a second call to Build.
	ErrBuilderUsed = errors.New("umbra: builder already used")
	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("umbra: invalid config")
	// ErrNotReady is returned by operations that need an established session.
	ErrNotReady = errors.New("umbra: session not established")
	// ErrBearerDisabled is returned by MintBearer when no bearer TTL is configured.
	ErrBearerDisabled = errors.New("umbra: bearer tokens disabled")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("umbra: client closed")
)

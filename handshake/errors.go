package handshake

import "errors"

var (
	// ErrCaptchaFormat rejects answers that are not exactly six ASCII digits.
	ErrCaptchaFormat = errors.New("handshake: captcha answer must be six digits")
	// ErrOutOfOrder is returned when a step is called in the wrong state.
	ErrOutOfOrder = errors.New("handshake: step not allowed in current state")
	// ErrNoAnswer is returned by Run when the handshake needs a captcha answer
	// and no answer source was given.
	ErrNoAnswer = errors.New("handshake: no captcha answer source")
	// ErrMissingSecret is returned when a secret the current step depends on
	// is absent or empty in the store.
	ErrMissingSecret = errors.New("handshake: expected secret missing")
	// ErrSessionStore wraps store failures other than a missing secret.
	ErrSessionStore = errors.New("handshake: session store failure")
	// ErrServerRejected is returned when /session/init answers with a non-ok status.
	ErrServerRejected = errors.New("handshake: server rejected session init")
	// ErrMalformedResponse is returned for undecodable or incomplete server answers.
	ErrMalformedResponse = errors.New("handshake: malformed server response")
	// ErrNetwork wraps failures to reach the server.
	ErrNetwork = errors.New("handshake: network failure")
	// ErrSessionIDMismatch is returned when the payload names another session.
	ErrSessionIDMismatch = errors.New("handshake: payload session id mismatch")
	// ErrInvalidConfig is returned by constructors for missing dependencies.
	ErrInvalidConfig = errors.New("handshake: invalid configuration")
)

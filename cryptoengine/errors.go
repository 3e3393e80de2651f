package cryptoengine

import "errors"

var (
	// ErrInvalidKey is returned when a key or soul has the wrong length or is low-order.
	ErrInvalidKey = errors.New("cryptoengine: invalid key material")
	// ErrServerKeys is returned when the server x25519 key is not signed by its ed25519 key.
	ErrServerKeys = errors.New("cryptoengine: invalid server session keys")
	// ErrPayloadSignature is returned when the payload signature does not verify.
	ErrPayloadSignature = errors.New("cryptoengine: invalid signature over payload")
	// ErrPayloadAuth is returned when the payload envelope fails authentication.
	ErrPayloadAuth = errors.New("cryptoengine: payload authentication failed")
	// ErrMalformedPayload is returned when the decrypted payload cannot be parsed.
	ErrMalformedPayload = errors.New("cryptoengine: malformed payload")
	// ErrWrongCaptcha is returned when the captcha answer does not open the session token.
	ErrWrongCaptcha = errors.New("cryptoengine: wrong captcha solution")
	// ErrTokenLength is returned when a decrypted session token is not TokenSize bytes.
	ErrTokenLength = errors.New("cryptoengine: invalid session token length")
	// ErrPoWParams is returned for non-positive or out-of-range proof-of-work parameters.
	ErrPoWParams = errors.New("cryptoengine: memory, iterations and parallelism must be greater than 0")
	// ErrPoWChallenge is returned when the challenge length makes the solver meaningless.
	ErrPoWChallenge = errors.New("cryptoengine: invalid proof-of-work challenge length")
	// ErrPoWExhausted is returned when no nonce was found within the attempt cap.
	ErrPoWExhausted = errors.New("cryptoengine: no valid nonce found")
	// ErrEntropy is returned when the random source fails.
	ErrEntropy = errors.New("cryptoengine: could not read entropy")
)

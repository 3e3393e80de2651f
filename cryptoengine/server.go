package cryptoengine

import (
	"crypto/rand"
	"fmt"
)

// SealPayload encrypts a marshalled [SessionPayload] for the client under the
// shared key. The server signs the returned envelope.
func SealPayload(sharedKey, plaintext []byte) ([]byte, error) {
	return sealEnvelope(rand.Reader, sharedKey, plaintext, nil, ctxPayload, payloadDifficulty)
}

// SealSessionToken encrypts the session token under the captcha key, bound to
// the session id.
func SealSessionToken(captchaKey, token, sessionID []byte) ([]byte, error) {
	if len(token) != TokenSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrTokenLength, len(token), TokenSize)
	}
	return sealEnvelope(rand.Reader, captchaKey, token, sessionID, ctxSessionToken, tokenDifficulty)
}

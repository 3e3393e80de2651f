package cryptoengine

import (
	"fmt"
	"time"

	"github.com/MrEthical07/umbra/sensitive"
)

// SessionPayload is the JSON document sealed inside the /session/init response.
// Binary fields use [Encoding].
type SessionPayload struct {
	SessionID          string    `json:"session_id,omitempty"`
	CaptchaChallenge   string    `json:"captcha_challenge"`
	PoWChallenge       string    `json:"pow_challenge"`
	PoWParams          PoWParams `json:"pow_params"`
	PoWSalt            string    `json:"pow_salt"`
	TokenCiphered      string    `json:"session_token_ciphered"`
	TokenCipherKeySalt string    `json:"session_token_cipher_key_salt"`
	// ExpiresAt is unix milliseconds; zero when the server sends no hint.
	ExpiresAt int64 `json:"expires_at,omitempty"`
}

func decodeField(name, value string, required bool) ([]byte, error) {
	if value == "" {
		if required {
			return nil, fmt.Errorf("%w: missing %s", ErrMalformedPayload, name)
		}
		return nil, nil
	}
	b, err := Encoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, name, err)
	}
	return b, nil
}

func (p *SessionPayload) introduction() (*Introduction, error) {
	sid, err := decodeField("session_id", p.SessionID, false)
	if err != nil {
		return nil, err
	}
	captcha, err := decodeField("captcha_challenge", p.CaptchaChallenge, false)
	if err != nil {
		return nil, err
	}
	powChallenge, err := decodeField("pow_challenge", p.PoWChallenge, true)
	if err != nil {
		return nil, err
	}
	powSalt, err := decodeField("pow_salt", p.PoWSalt, true)
	if err != nil {
		return nil, err
	}
	if err := p.PoWParams.Validate(); err != nil {
		return nil, fmt.Errorf("%w: pow_params: %v", ErrMalformedPayload, err)
	}
	tokenCiphered, err := decodeField("session_token_ciphered", p.TokenCiphered, true)
	if err != nil {
		return nil, err
	}
	tokenSalt, err := decodeField("session_token_cipher_key_salt", p.TokenCipherKeySalt, true)
	if err != nil {
		sensitive.Wipe(tokenCiphered)
		return nil, err
	}

	in := &Introduction{
		SessionID:          sid,
		CaptchaPNG:         captcha,
		PoWChallenge:       powChallenge,
		PoWSalt:            powSalt,
		PoWParams:          p.PoWParams,
		TokenCiphered:      sensitive.New(tokenCiphered),
		TokenCipherKeySalt: sensitive.New(tokenSalt),
	}
	if p.ExpiresAt > 0 {
		in.ExpiresAt = time.UnixMilli(p.ExpiresAt).UTC()
	}
	return in, nil
}

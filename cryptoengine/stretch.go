package cryptoengine

import (
	"encoding/binary"
	"errors"

	"github.com/MrEthical07/umbra/sensitive"
	"golang.org/x/crypto/argon2"
)

// StretchParams are argon2id costs for turning a captcha answer into a key.
type StretchParams struct {
	Iterations  uint32
	MemoryMB    uint32
	Parallelism uint8
}

// DefaultCaptchaStretch matches what servers use to cipher the session token.
var DefaultCaptchaStretch = StretchParams{Iterations: 24, MemoryMB: 12, Parallelism: 1}

// Validate rejects zero costs.
func (p StretchParams) Validate() error {
	if p.Iterations == 0 {
		return errors.New("cryptoengine: stretch iterations must be > 0")
	}
	if p.MemoryMB == 0 {
		return errors.New("cryptoengine: stretch memory must be > 0")
	}
	if p.Parallelism == 0 {
		return errors.New("cryptoengine: stretch parallelism must be > 0")
	}
	return nil
}

// CaptchaKey stretches the numeric captcha answer (big-endian uint64) with salt.
func CaptchaKey(answer uint64, salt []byte, p StretchParams) []byte {
	var in [8]byte
	binary.BigEndian.PutUint64(in[:], answer)
	defer sensitive.Wipe(in[:])
	return argon2.IDKey(in[:], salt, p.Iterations, p.MemoryMB*1024, p.Parallelism, 32)
}

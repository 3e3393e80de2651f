package sensitive

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
)

// ErrDestroyed is returned when a destroyed or moved-from Buffer is read.
var ErrDestroyed = errors.New("sensitive buffer destroyed")

// Buffer owns a mutable byte sequence holding secret material.
//
// The zero value is an empty, live buffer. Buffer must not be copied after
// first use; pass *Buffer.
type Buffer struct {
	mu        sync.Mutex
	value     []byte
	destroyed bool
}

// New takes ownership of b. The caller must not use b afterwards.
func New(b []byte) *Buffer {
	return &Buffer{value: b}
}

// Clone copies b into a fresh Buffer, leaving b untouched. Use it at the
// boundary where bytes arrive from memory the caller does not own.
func Clone(b []byte) *Buffer {
	v := make([]byte, len(b))
	copy(v, b)
	return &Buffer{value: v}
}

// Empty returns a live Buffer of length zero.
func Empty() *Buffer {
	return &Buffer{value: []byte{}}
}

// FromEncoded decodes a standard base64 string into a new Buffer.
func FromEncoded(text string) (*Buffer, error) {
	v, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("decode sensitive buffer: %w", err)
	}
	return &Buffer{value: v}, nil
}

// Len reports the logical length. Destroyed buffers have length zero.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.value)
}

// Destroyed reports whether Destroy or Move has been called.
func (b *Buffer) Destroyed() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.destroyed
}

// Destroy overwrites every byte with zero and drops the reference.
// It is idempotent and safe on a nil receiver.
func (b *Buffer) Destroy() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	wipe(b.value)
	b.value = nil
	b.destroyed = true
}

// Move transfers ownership of the bytes to a new Buffer. The receiver is left
// destroyed and empty; its old backing array now belongs to the result.
func (b *Buffer) Move() *Buffer {
	if b == nil {
		return Empty()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	v := b.value
	b.value = nil
	b.destroyed = true
	if v == nil {
		v = []byte{}
	}
	return &Buffer{value: v}
}

// ExportEncoded returns the standard base64 encoding of the current bytes
// without mutating them. Every call is an explicit, auditable copy.
func (b *Buffer) ExportEncoded() string {
	if b == nil {
		return ""
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return base64.StdEncoding.EncodeToString(b.value)
}

// Use runs fn with a view of the bytes while holding the buffer. fn must not
// retain the slice after it returns.
func (b *Buffer) Use(fn func(secret []byte) error) error {
	if b == nil {
		return ErrDestroyed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return ErrDestroyed
	}
	return fn(b.value)
}

// Equal reports whether the contents match other. The comparison time
// depends on the lengths but not on the contents.
func (b *Buffer) Equal(other []byte) bool {
	equal := false
	_ = b.Use(func(secret []byte) error {
		equal = subtle.ConstantTimeCompare(secret, other) == 1
		return nil
	})
	return equal
}

// GoString keeps secret bytes out of %#v output.
func (b *Buffer) GoString() string {
	return fmt.Sprintf("sensitive.Buffer{len:%d}", b.Len())
}

// String keeps secret bytes out of %v and %s output.
func (b *Buffer) String() string {
	return b.GoString()
}

// Wipe zeroes p in place. Exported for callers that hold transient copies.
func Wipe(p []byte) {
	wipe(p)
}

func wipe(p []byte) {
	for i := range p {
		p[i] = 0
	}
}

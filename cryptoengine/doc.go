// Package cryptoengine implements the compute-heavy cryptographic operations of
// the session handshake behind the [Engine] interface.
//
// One Engine instance is hosted by each worker. The handshake never calls the
// primitives directly; it submits jobs and the worker calls the Engine.
//
// # Key material
//
// A session is rooted in a 32-byte soul. The ed25519 signing seed and the
// x25519 private key are both derived from the soul with HKDF-SHA256 under
// fixed context strings, so the soul is the only secret that has to be stored.
//
// # Envelopes
//
// Encrypted blobs travel as salt(12) || tag(16) || ciphertext. The AEAD is
// ChaCha20-Poly1305 under a subkey derived from the shared key, the salt, a
// context string and a difficulty (number of HKDF rounds). The salt doubles as
// the nonce; every envelope draws a fresh random salt.
//
// # Server side
//
// [DeriveIdentity], [SharedKey], [SealPayload], [CaptchaKey] and
// [SealSessionToken] expose the counterpart operations a server needs to
// answer the handshake. They are used by the reference server in this module.
//
// # What this package must NOT do
//
//   - Persist or log secrets.
//   - Perform network I/O.
//   - Depend on worker, pool or handshake.
package cryptoengine

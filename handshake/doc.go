// Package handshake establishes a client session with an umbra server.
//
// A [Session] is the persistent record: every field lives in a [vault.Store]
// under a fixed name, so secrets are never held in memory longer than one
// step needs them. A [Handshake] drives the record through four states:
//
//	Uninitialized -> KeypairGenerated -> Introduced -> CaptchaVerified
//
// Each transition is one method ([Handshake.GenerateKeypair],
// [Handshake.IntroduceServer], [Handshake.CheckoutCaptcha]) and all
// cryptography runs as jobs on a [Runner], normally a *pool.Scheduler.
// [Handshake.Run] is the outer driver that calls them in order.
//
// A failed step reports its error and leaves the state at the last committed
// transition. Nothing is retried automatically. The one exception to "retry
// the failed step" is the captcha: its ciphered token is consumed by the first
// attempt, so a wrong answer moves the handshake back to KeypairGenerated and
// the server payload must be introduced again.
//
// [Handshake.SolveProofOfWork] is independent of the state machine and may run
// concurrently with it.
//
// # Protocol variant
//
// The server sends session_id in cleartext next to the signed payload. When
// the decrypted payload also carries a session id the two must match. The
// server's x25519 signature is verified during introduction and not stored.
//
// # What this package must NOT do
//
//   - Keep secret material in memory between steps.
//   - Perform cryptography itself; that is the engine's job.
//   - Retry failed steps.
package handshake

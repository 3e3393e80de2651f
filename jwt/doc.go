// Package jwt mints and verifies short-lived bearer tokens for an established
// session.
//
// Tokens are HS256 JWTs keyed by the plaintext session token, which both
// sides hold after the captcha step. The sid claim carries the session id in
// the wire base64 encoding so the verifier can look up the right key before
// checking the signature.
//
// # What this package must NOT do
//
//   - Keep signing keys after a call returns.
//   - Accept any algorithm other than HS256.
package jwt

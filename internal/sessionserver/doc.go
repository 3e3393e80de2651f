// Package sessionserver is a reference implementation of the server side of
// the session handshake. Tests and the demo command run it; production
// servers are separate programs.
//
// Per /session/init request it draws a fresh server soul, a session id, a
// session token and a six-digit captcha, ciphers the token under the
// stretched captcha answer and seals the challenge payload for the client.
// Proof-of-work cost grows with the number of init requests the client
// identity made in the current window.
package sessionserver

// Package middleware guards HTTP handlers with the bearer tokens a client
// mints once its session is established.
//
// [RequireBearer] reads the Authorization header, verifies the token with
// a [jwt.Manager] against the session token returned by a lookup, and
// stores the claims in the request context for [ClaimsFromContext].
//
// # What this package must NOT do
//
//   - Mint tokens.
//   - Know how session tokens are stored. The lookup owns that.
//   - Leak why a token was rejected to the caller.
package middleware

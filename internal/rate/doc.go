// Package rate counts requests per client identity in fixed windows on Redis.
//
// # Window semantics
//
// INCR plus EXPIRE on the first hit of a window. Keys are
// "<prefix>:rl:<identity>"; the identity is opaque to this package.
//
// # What this package must NOT do
//
//   - Decide what a count means for the caller (the session server maps it
//     to proof-of-work cost).
//   - Be imported outside this module.
package rate

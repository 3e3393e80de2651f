// Package sensitive provides [Buffer], an owned byte buffer for secret material
// held in process memory.
//
// # Ownership
//
// A Buffer has exactly one owner at a time. Ownership moves with [Buffer.Move],
// which hands the bytes to a new Buffer and leaves the source empty. Code that
// writes a Buffer's contents anywhere else (a secret store, the network, a
// crypto engine) must call [Buffer.Destroy] immediately afterwards.
//
// # What this package must NOT do
//
//   - Copy secret bytes implicitly (no String, no fmt formatting of contents).
//   - Import any other umbra package.
package sensitive

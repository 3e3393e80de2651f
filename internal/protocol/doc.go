// Package protocol defines the closed set of messages exchanged between the
// scheduler side and a worker unit.
//
// Requests and responses are tagged unions: each is an interface with an
// unexported marker method, so only the types in this package satisfy it.
// Every message is validated with Validate at the boundary before use; a
// response that fails validation is a transport fault, not an application
// error.
//
// Secret-bearing requests are moved across the boundary with Transfer, which
// invalidates the sender's buffers.
package protocol

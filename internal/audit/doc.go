// Package audit relays client audit events to a sink without blocking the
// pool event loop or the handshake.
//
// # What this package must NOT do
//
//   - Decide which events are emitted. The root package does that.
//   - Carry secrets, keys or captcha answers in an [Event].
//   - Import umbra or any sibling internal package.
package audit

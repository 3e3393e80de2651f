// Package vault provides per-name encrypted storage of byte secrets.
//
// Every secret is sealed individually with ChaCha20-Poly1305 under a
// store-local master key held by a [Sealer]. The master key never leaves the
// Sealer; there is no accessor for it. The secret name is bound as
// associated data so a sealed record cannot be replayed under another name.
//
// # Backends
//
//   - [MemoryStore]: process-local map, for tests and ephemeral clients.
//   - [RedisStore]: go-redis client, one key per secret, optional TTL.
//   - [SQLStore]: bun over SQLite (modernc.org/sqlite), one row per secret.
//
// # Empty secrets
//
// Put with an empty secret stores a one-byte 0x00 sentinel and Get maps the
// sentinel back to an empty buffer. A genuine one-byte secret equal to 0x00
// therefore reads back as empty.
//
// # What this package must NOT do
//
//   - Keep plaintext secrets after Put returns. Put consumes and destroys its input.
//   - Interpret secret names beyond using them as keys and associated data.
package vault

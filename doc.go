// Package umbra is the client side of a captcha-gated session handshake.
//
// A [Client] owns a sealed session record in a vault, a lazily grown pool
// of crypto workers and the handshake state machine that walks the record
// from a fresh keypair, through the server's introduction, to a verified
// captcha. Build one with [New] and [Builder.Build]:
//
//	c, err := umbra.New().WithConfig(cfg).Build(ctx)
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//	err = c.Handshake(ctx, askUser)
//
// Errors raised by the client, its pool and its vault match one of
// [ErrConfiguration], [ErrTransport], [ErrProtocol] or [ErrEngine]. Errors
// returned by a caller's AnswerFunc are passed through unchanged.
//
// # Architecture boundaries
//
// The root package wires the pieces and owns metrics and audit. Session
// semantics live in handshake, job dispatch in pool and worker, secret
// persistence in vault.
//
// # What this package must NOT do
//
//   - Expose session secrets except through MintBearer or the vault.
//   - Log or audit key material, tokens or captcha answers.
//   - Retry a failed step on its own.
package umbra

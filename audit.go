package umbra

import (
	"io"

	"github.com/MrEthical07/umbra/internal/audit"
)

// Audit event types.
const (
	AuditWorkerCreated   = "worker_created"
	AuditWorkerEvicted   = "worker_evicted"
	AuditHandshakeStep   = "handshake_step"
	AuditCaptchaRejected = "captcha_rejected"
	AuditSessionCleared  = "session_cleared"
	AuditPoWSolved       = "pow_solved"
)

type (
	AuditEvent = audit.Event
	AuditSink  = audit.Sink
	NoOpSink   = audit.NoOpSink
)

func NewChannelSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *audit.JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

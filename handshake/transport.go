package handshake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrEthical07/umbra/cryptoengine"
	"github.com/MrEthical07/umbra/fault"
)

// InitRequest is the client half of /session/init.
type InitRequest struct {
	EdPub   []byte
	XPub    []byte
	XPubSig []byte
}

// InitResponse is a successful /session/init answer with every field decoded.
type InitResponse struct {
	ServerEdPub   []byte
	ServerXPub    []byte
	ServerXPubSig []byte
	Payload       []byte
	Signature     []byte
	SessionID     []byte
}

// Transport carries the handshake to the server.
type Transport interface {
	InitSession(ctx context.Context, req InitRequest) (*InitResponse, error)
}

type initRequestBody struct {
	ClientEdPubkey    string `json:"client_ed_pubkey"`
	ClientXPubkey     string `json:"client_x_pubkey"`
	ClientXPubkeySign string `json:"client_x_pubkey_sign"`
}

type initResponseBody struct {
	Status            string `json:"status"`
	Message           string `json:"message,omitempty"`
	ServerEdPubkey    string `json:"server_ed_pubkey"`
	ServerXPubkey     string `json:"server_x_pubkey"`
	ServerXPubkeySign string `json:"server_x_pubkey_sign"`
	Payload           string `json:"payload"`
	Signature         string `json:"signature"`
	SessionID         string `json:"session_id"`
}

// HTTPOptions tune an HTTPTransport.
type HTTPOptions struct {
	// InitPath defaults to /session/init.
	InitPath string
	// Timeout bounds one request; 0 leaves it to the context.
	Timeout time.Duration
	// MaxResponseBytes caps the response body; defaults to 1 MiB.
	MaxResponseBytes int64
	// Client replaces the default http.Client.
	Client *http.Client
}

// HTTPTransport speaks JSON over HTTP.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
	maxBytes int64
}

// NewHTTPTransport validates baseURL and returns a transport rooted at it.
func NewHTTPTransport(baseURL string, opts HTTPOptions) (*HTTPTransport, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fault.Tag(fault.ErrConfiguration, fmt.Errorf("%w: base url %q must be absolute http(s)", ErrInvalidConfig, baseURL))
	}
	if opts.InitPath == "" {
		opts.InitPath = "/session/init"
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = 1 << 20
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &HTTPTransport{
		endpoint: strings.TrimRight(u.String(), "/") + "/" + strings.TrimLeft(opts.InitPath, "/"),
		client:   client,
		maxBytes: opts.MaxResponseBytes,
	}, nil
}

// InitSession posts the client's public keys and decodes the answer.
func (t *HTTPTransport) InitSession(ctx context.Context, req InitRequest) (*InitResponse, error) {
	body, err := json.Marshal(initRequestBody{
		ClientEdPubkey:    cryptoengine.Encoding.EncodeToString(req.EdPub),
		ClientXPubkey:     cryptoengine.Encoding.EncodeToString(req.XPub),
		ClientXPubkeySign: cryptoengine.Encoding.EncodeToString(req.XPubSig),
	})
	if err != nil {
		return nil, fmt.Errorf("encode init request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fault.Tag(fault.ErrConfiguration, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fault.Tag(fault.ErrProtocol, fmt.Errorf("%w: %w", ErrNetwork, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes+1))
	if err != nil {
		return nil, fault.Tag(fault.ErrProtocol, fmt.Errorf("%w: read body: %w", ErrNetwork, err))
	}
	if int64(len(raw)) > t.maxBytes {
		return nil, malformed("body exceeds %d bytes", t.maxBytes)
	}

	var decoded initResponseBody
	jsonErr := json.Unmarshal(raw, &decoded)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(raw))
		if jsonErr == nil && decoded.Message != "" {
			msg = decoded.Message
		}
		return nil, fault.Tag(fault.ErrProtocol, fmt.Errorf("%w: http %d: %s", ErrServerRejected, resp.StatusCode, truncate(msg, 200)))
	}
	if jsonErr != nil {
		return nil, malformed("%v", jsonErr)
	}
	if decoded.Status != "ok" {
		return nil, fault.Tag(fault.ErrProtocol, fmt.Errorf("%w: status %q: %s", ErrServerRejected, decoded.Status, truncate(decoded.Message, 200)))
	}
	return decoded.decode()
}

func (b *initResponseBody) decode() (*InitResponse, error) {
	var out InitResponse
	fields := []struct {
		name string
		in   string
		out  *[]byte
	}{
		{"server_ed_pubkey", b.ServerEdPubkey, &out.ServerEdPub},
		{"server_x_pubkey", b.ServerXPubkey, &out.ServerXPub},
		{"server_x_pubkey_sign", b.ServerXPubkeySign, &out.ServerXPubSig},
		{"payload", b.Payload, &out.Payload},
		{"signature", b.Signature, &out.Signature},
		{"session_id", b.SessionID, &out.SessionID},
	}
	for _, f := range fields {
		if f.in == "" {
			return nil, malformed("missing %s", f.name)
		}
		v, err := cryptoengine.Encoding.DecodeString(f.in)
		if err != nil {
			return nil, malformed("%s: %v", f.name, err)
		}
		*f.out = v
	}
	return &out, nil
}

func malformed(format string, args ...any) error {
	return fault.Tag(fault.ErrProtocol, fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...)))
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

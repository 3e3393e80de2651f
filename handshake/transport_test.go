package handshake

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/MrEthical07/umbra/cryptoengine"
	"github.com/MrEthical07/umbra/fault"
)

func serveBody(t *testing.T, code int, body string) *HTTPTransport {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	tr, err := NewHTTPTransport(srv.URL, HTTPOptions{MaxResponseBytes: 4096})
	if err != nil {
		t.Fatalf("transport: %v", err)
	}
	return tr
}

func okBody(drop string) string {
	enc := cryptoengine.Encoding.EncodeToString
	fields := map[string]string{
		"server_ed_pubkey":     enc(make([]byte, 32)),
		"server_x_pubkey":      enc(make([]byte, 32)),
		"server_x_pubkey_sign": enc(make([]byte, 64)),
		"payload":              enc([]byte("payload")),
		"signature":            enc(make([]byte, 64)),
		"session_id":           enc(make([]byte, 24)),
	}
	var b strings.Builder
	b.WriteString(`{"status":"ok"`)
	for k, v := range fields {
		if k == drop {
			continue
		}
		b.WriteString(`,"` + k + `":"` + v + `"`)
	}
	b.WriteString("}")
	return b.String()
}

func TestHTTPTransportDecodesAnswer(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/session/init" {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		got = string(raw)
		_, _ = io.WriteString(w, okBody(""))
	}))
	defer srv.Close()

	tr, err := NewHTTPTransport(srv.URL+"/api/", HTTPOptions{InitPath: "session/init"})
	if err != nil {
		t.Fatalf("transport: %v", err)
	}
	resp, err := tr.InitSession(context.Background(), InitRequest{EdPub: []byte{1}, XPub: []byte{2}, XPubSig: []byte{3}})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if len(resp.ServerEdPub) != 32 || len(resp.SessionID) != 24 || string(resp.Payload) != "payload" {
		t.Fatalf("unexpected decoded response %+v", resp)
	}
	if !strings.Contains(got, `"client_ed_pubkey":"AQ"`) || !strings.Contains(got, `"client_x_pubkey_sign":"Aw"`) {
		t.Fatalf("unexpected request body %s", got)
	}
}

func TestHTTPTransportFailures(t *testing.T) {
	cases := []struct {
		name string
		code int
		body string
		want error
	}{
		{"non-ok status", 200, `{"status":"error","message":"nope"}`, ErrServerRejected},
		{"http error", 500, "boom", ErrServerRejected},
		{"rate limited", 429, `{"status":"rate_limited"}`, ErrServerRejected},
		{"not json", 200, "<html>", ErrMalformedResponse},
		{"missing session id", 200, okBody("session_id"), ErrMalformedResponse},
		{"missing payload", 200, okBody("payload"), ErrMalformedResponse},
		{"bad base64", 200, `{"status":"ok","server_ed_pubkey":"!!"}`, ErrMalformedResponse},
		{"oversized", 200, `{"status":"ok","payload":"` + strings.Repeat("A", 5000) + `"}`, ErrMalformedResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := serveBody(t, tc.code, tc.body).InitSession(context.Background(), InitRequest{})
			if !errors.Is(err, tc.want) || !errors.Is(err, fault.ErrProtocol) {
				t.Fatalf("expected %v as protocol error, got %v", tc.want, err)
			}
		})
	}
}

func TestHTTPTransportRejectionKeepsRunesWhole(t *testing.T) {
	// Byte 200 of the body falls inside a two-byte rune.
	body := strings.Repeat("a", 199) + strings.Repeat("é", 10)
	_, err := serveBody(t, http.StatusBadGateway, body).InitSession(context.Background(), InitRequest{})
	if !errors.Is(err, ErrServerRejected) {
		t.Fatalf("expected ErrServerRejected, got %v", err)
	}
	if !utf8.ValidString(err.Error()) {
		t.Fatalf("error message is not valid UTF-8: %q", err.Error())
	}
	if !strings.HasSuffix(err.Error(), strings.Repeat("a", 199)) {
		t.Fatalf("expected the message cut before the split rune, got %q", err.Error())
	}
}

func TestHTTPTransportNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tr, _ := NewHTTPTransport(url, HTTPOptions{})
	_, err := tr.InitSession(context.Background(), InitRequest{})
	if !errors.Is(err, ErrNetwork) || !errors.Is(err, fault.ErrProtocol) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestNewHTTPTransportRejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "localhost:8080", "ftp://host", "http://"} {
		if _, err := NewHTTPTransport(u, HTTPOptions{}); !errors.Is(err, fault.ErrConfiguration) {
			t.Fatalf("url %q: expected configuration error, got %v", u, err)
		}
	}
}

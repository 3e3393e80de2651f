package sessionserver

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/MrEthical07/umbra/cryptoengine"
	"github.com/MrEthical07/umbra/internal/rate"
	"github.com/MrEthical07/umbra/jwt"
	"github.com/MrEthical07/umbra/middleware"
	"github.com/MrEthical07/umbra/sensitive"
)

const (
	powChallengeSize = 1
	powSaltSize      = 12
	powMemoryMB      = 12
	powParallelism   = 1
	powIterationsMin = 2
	powIterationsMax = 7

	tokenSaltSize   = 12
	captchaDigits   = 6
	maxRequestBytes = 64 << 10
)

// Options configure a Server. The zero value is usable.
type Options struct {
	Logger *slog.Logger
	// Limiter counts init requests per client; nil treats every request as
	// the first of its window.
	Limiter *rate.Limiter
	// Bearer verifies tokens on /session/whoami; with nil every call is
	// rejected.
	Bearer *jwt.Manager
	// Stretch must match the clients' captcha stretch.
	Stretch cryptoengine.StretchParams
	// PoWMemoryMB overrides the puzzle memory cost.
	PoWMemoryMB uint32
	// FixedPoWIterations disables load-dependent iterations when > 0.
	FixedPoWIterations uint32
	// ExpiryOffset is the session lifetime; defaults to 300s.
	ExpiryOffset time.Duration
	Random       io.Reader
	Now          func() time.Time
}

// Record is what the server keeps per session.
type Record struct {
	SessionID    []byte
	Token        []byte
	Answer       string
	ClientEdPub  []byte
	ClientXPub   []byte
	PoWChallenge []byte
	PoWSalt      []byte
	PoWParams    cryptoengine.PoWParams
	PoWSolved    bool
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Server serves the session endpoints.
type Server struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Record
}

// New returns a server with defaults applied.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Stretch == (cryptoengine.StretchParams{}) {
		opts.Stretch = cryptoengine.DefaultCaptchaStretch
	}
	if opts.PoWMemoryMB == 0 {
		opts.PoWMemoryMB = powMemoryMB
	}
	if opts.ExpiryOffset <= 0 {
		opts.ExpiryOffset = 300 * time.Second
	}
	if opts.Random == nil {
		opts.Random = rand.Reader
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{opts: opts, logger: opts.Logger, sessions: make(map[string]*Record)}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /session/init", s.handleInit)
	mux.HandleFunc("POST /session/pow", s.handlePoW)
	mux.Handle("GET /session/whoami", middleware.RequireBearer(s.opts.Bearer, s.sessionToken)(http.HandlerFunc(s.handleWhoami)))
	return mux
}

// Lookup returns a copy of the record for sessionID.
func (s *Server) Lookup(sessionID []byte) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[cryptoengine.Encoding.EncodeToString(sessionID)]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Sweep drops sessions expired at now and returns how many were removed.
func (s *Server) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, rec := range s.sessions {
		if !now.Before(rec.ExpiresAt) {
			sensitive.Wipe(rec.Token)
			delete(s.sessions, k)
			removed++
		}
	}
	return removed
}

// StartJanitor sweeps expired sessions every interval until ctx ends.
func (s *Server) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(s.opts.Now()); n > 0 {
					s.logger.Debug("expired sessions swept", "removed", n)
				}
			}
		}
	}()
}

type initRequest struct {
	ClientEdPubkey    string `json:"client_ed_pubkey"`
	ClientXPubkey     string `json:"client_x_pubkey"`
	ClientXPubkeySign string `json:"client_x_pubkey_sign"`
}

type initResponse struct {
	Status            string `json:"status"`
	ServerEdPubkey    string `json:"server_ed_pubkey"`
	ServerXPubkey     string `json:"server_x_pubkey"`
	ServerXPubkeySign string `json:"server_x_pubkey_sign"`
	Payload           string `json:"payload"`
	Signature         string `json:"signature"`
	SessionID         string `json:"session_id"`
}

type statusResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	var body initRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&body); err != nil {
		writeStatus(w, http.StatusBadRequest, "invalid request body")
		return
	}
	edPub, err1 := cryptoengine.Encoding.DecodeString(body.ClientEdPubkey)
	xPub, err2 := cryptoengine.Encoding.DecodeString(body.ClientXPubkey)
	xSig, err3 := cryptoengine.Encoding.DecodeString(body.ClientXPubkeySign)
	if err := errors.Join(err1, err2, err3); err != nil {
		writeStatus(w, http.StatusBadRequest, "invalid base64 encoding")
		return
	}
	if len(edPub) != 32 || len(xPub) != 32 {
		writeStatus(w, http.StatusBadRequest, "invalid ed-pubkey or x-pubkey length")
		return
	}
	if !cryptoengine.Verify(edPub, xPub, xSig) {
		writeStatus(w, http.StatusBadRequest, "invalid signature over client_x_pubkey")
		return
	}

	count := int64(1)
	if s.opts.Limiter != nil {
		n, retryAfter, err := s.opts.Limiter.Register(r.Context(), clientIdentity(r))
		switch {
		case errors.Is(err, rate.ErrRateLimited):
			w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
			writeStatus(w, http.StatusTooManyRequests, "too many session initialization requests")
			return
		case err != nil:
			s.logger.Error("session init tracker failed", "err", err)
			writeStatus(w, http.StatusInternalServerError, "could not update session-init tracker")
			return
		}
		count = n
	}

	resp, err := s.issue(edPub, xPub, count)
	if err != nil {
		s.logger.Error("session init failed", "err", err)
		writeStatus(w, http.StatusInternalServerError, "could not initialize session")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// issue creates and stores a session and builds the client answer.
func (s *Server) issue(edPub, xPub []byte, requestCount int64) (*initResponse, error) {
	soul, err := s.random(cryptoengine.SoulSize)
	if err != nil {
		return nil, err
	}
	defer sensitive.Wipe(soul)
	id, err := cryptoengine.DeriveIdentity(soul)
	if err != nil {
		return nil, err
	}

	sessionID, err := s.random(cryptoengine.SessionIDSize)
	if err != nil {
		return nil, err
	}
	token, err := s.random(cryptoengine.TokenSize)
	if err != nil {
		return nil, err
	}
	tokenSalt, err := s.random(tokenSaltSize)
	if err != nil {
		return nil, err
	}
	powChallenge, err := s.random(powChallengeSize)
	if err != nil {
		return nil, err
	}
	powSalt, err := s.random(powSaltSize)
	if err != nil {
		return nil, err
	}
	answer, err := randomDigits(s.opts.Random, captchaDigits)
	if err != nil {
		return nil, err
	}
	png, err := renderCaptcha(s.opts.Random, answer)
	if err != nil {
		return nil, err
	}

	numeric, _ := strconv.ParseUint(answer, 10, 64)
	captchaKey := cryptoengine.CaptchaKey(numeric, tokenSalt, s.opts.Stretch)
	defer sensitive.Wipe(captchaKey)
	tokenCiphered, err := cryptoengine.SealSessionToken(captchaKey, token, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.opts.Now().UTC()
	params := cryptoengine.PoWParams{
		MemoryMB:    s.opts.PoWMemoryMB,
		Iterations:  s.powIterations(requestCount),
		Parallelism: powParallelism,
	}
	rec := &Record{
		SessionID:    sessionID,
		Token:        token,
		Answer:       answer,
		ClientEdPub:  edPub,
		ClientXPub:   xPub,
		PoWChallenge: powChallenge,
		PoWSalt:      powSalt,
		PoWParams:    params,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.opts.ExpiryOffset),
	}

	enc := cryptoengine.Encoding.EncodeToString
	plain, err := json.Marshal(cryptoengine.SessionPayload{
		SessionID:          enc(sessionID),
		CaptchaChallenge:   enc(png),
		PoWChallenge:       enc(powChallenge),
		PoWParams:          params,
		PoWSalt:            enc(powSalt),
		TokenCiphered:      enc(tokenCiphered),
		TokenCipherKeySalt: enc(tokenSalt),
		ExpiresAt:          rec.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return nil, err
	}
	defer sensitive.Wipe(plain)

	shared, err := cryptoengine.SharedKey(soul, xPub)
	if err != nil {
		return nil, err
	}
	defer sensitive.Wipe(shared)
	payload, err := cryptoengine.SealPayload(shared, plain)
	if err != nil {
		return nil, err
	}
	signature, err := cryptoengine.Sign(soul, payload)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[enc(sessionID)] = rec
	s.mu.Unlock()
	s.logger.Debug("session issued", "pow_iterations", params.Iterations, "request_count", requestCount)

	return &initResponse{
		Status:            "ok",
		ServerEdPubkey:    enc(id.EdPub),
		ServerXPubkey:     enc(id.XPub),
		ServerXPubkeySign: enc(id.XPubSig),
		Payload:           enc(payload),
		Signature:         enc(signature),
		SessionID:         enc(sessionID),
	}, nil
}

type powRequest struct {
	SessionID string `json:"session_id"`
	Nonce     uint64 `json:"nonce"`
}

func (s *Server) handlePoW(w http.ResponseWriter, r *http.Request) {
	var body powRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&body); err != nil {
		writeStatus(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.mu.Lock()
	rec, ok := s.sessions[body.SessionID]
	s.mu.Unlock()
	if !ok || !s.opts.Now().Before(rec.ExpiresAt) {
		writeStatus(w, http.StatusNotFound, "unknown session")
		return
	}
	if !cryptoengine.VerifyPoW(body.Nonce, rec.PoWChallenge, rec.PoWSalt, rec.PoWParams) {
		writeStatus(w, http.StatusBadRequest, "invalid proof of work")
		return
	}
	s.mu.Lock()
	rec.PoWSolved = true
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", SessionID: body.SessionID})
}

func (s *Server) handleWhoami(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", SessionID: claims.SID})
}

// sessionToken returns a copy of the token of a live session.
func (s *Server) sessionToken(sid string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sid]
	if !ok || !s.opts.Now().Before(rec.ExpiresAt) {
		return nil, errors.New("unknown session")
	}
	return append([]byte(nil), rec.Token...), nil
}

func (s *Server) random(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(s.opts.Random, b); err != nil {
		return nil, err
	}
	return b, nil
}

// powIterations maps the request count onto [powIterationsMin,
// powIterationsMax] along a logistic curve centred at 55% of the budget.
func (s *Server) powIterations(requestCount int64) uint32 {
	if s.opts.FixedPoWIterations > 0 {
		return s.opts.FixedPoWIterations
	}
	budget := 32
	if s.opts.Limiter != nil {
		budget = s.opts.Limiter.MaxRequests()
	}
	return dynamicIterations(requestCount, budget)
}

func dynamicIterations(requestCount int64, budget int) uint32 {
	if requestCount < 1 {
		requestCount = 1
	}
	density := math.Min(float64(requestCount)/float64(budget), 1)

	const k, mid = 10.0, 0.55
	logistic := func(x float64) float64 { return 1 / (1 + math.Exp(-k*(x-mid))) }
	lo, hi := logistic(0), logistic(1)
	normalized := (logistic(density) - lo) / (hi - lo)

	it := math.Round(powIterationsMin + normalized*(powIterationsMax-powIterationsMin))
	return uint32(math.Max(powIterationsMin, math.Min(powIterationsMax, it)))
}

// clientIdentity hashes the remote host so raw addresses never reach Redis.
func clientIdentity(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		host = r.RemoteAddr
	}
	sum := sha256.Sum256([]byte(host))
	return cryptoengine.Encoding.EncodeToString(sum[:16])
}

func writeStatus(w http.ResponseWriter, code int, msg string) {
	status := "error"
	if code == http.StatusTooManyRequests {
		status = "rate_limited"
	}
	writeJSON(w, code, statusResponse{Status: status, Message: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

package sessionserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/MrEthical07/umbra/cryptoengine"
	"github.com/MrEthical07/umbra/internal/rate"
	"github.com/MrEthical07/umbra/jwt"
	"github.com/MrEthical07/umbra/sensitive"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var fastStretch = cryptoengine.StretchParams{Iterations: 1, MemoryMB: 1, Parallelism: 1}

func fastServer(opts Options) *Server {
	opts.Stretch = fastStretch
	opts.PoWMemoryMB = 1
	opts.FixedPoWIterations = 1
	return New(opts)
}

func postInit(t *testing.T, h http.Handler, kp *cryptoengine.Keypair) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(initRequest{
		ClientEdPubkey:    cryptoengine.Encoding.EncodeToString(kp.EdPub),
		ClientXPubkey:     cryptoengine.Encoding.EncodeToString(kp.XPub),
		ClientXPubkeySign: cryptoengine.Encoding.EncodeToString(kp.XPubSig),
	})
	req := httptest.NewRequest(http.MethodPost, "/session/init", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeInit(t *testing.T, rec *httptest.ResponseRecorder) initResponse {
	t.Helper()
	var resp initResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func mustDecode(t *testing.T, s string) []byte {
	t.Helper()
	b, err := cryptoengine.Encoding.DecodeString(s)
	if err != nil {
		t.Fatalf("decode %q: %v", s, err)
	}
	return b
}

func TestInitAnswerOpensWithClientEngine(t *testing.T) {
	// Sub-millisecond part on purpose: expiry travels as unix milliseconds.
	now := time.Unix(time.Now().Unix(), 123456789)
	srv := fastServer(Options{Now: func() time.Time { return now }})
	eng := cryptoengine.New(cryptoengine.WithCaptchaStretch(fastStretch))
	kp, err := eng.GenerateSessionKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}

	rec := postInit(t, srv.Handler(), kp)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeInit(t, rec)
	if resp.Status != "ok" {
		t.Fatalf("unexpected status %q", resp.Status)
	}
	sid := mustDecode(t, resp.SessionID)

	intro, err := eng.IntroduceServer(cryptoengine.IntroduceInput{
		Soul:          kp.Soul,
		ServerEdPub:   mustDecode(t, resp.ServerEdPubkey),
		ServerXPub:    mustDecode(t, resp.ServerXPubkey),
		ServerXPubSig: mustDecode(t, resp.ServerXPubkeySign),
		Payload:       mustDecode(t, resp.Payload),
		Signature:     mustDecode(t, resp.Signature),
	})
	if err != nil {
		t.Fatalf("introduce: %v", err)
	}
	if !bytes.Equal(intro.SessionID, sid) {
		t.Fatalf("payload session id differs from cleartext one")
	}
	if !bytes.HasPrefix(intro.CaptchaPNG, []byte("\x89PNG")) {
		t.Fatalf("captcha challenge is not a PNG")
	}

	stored, ok := srv.Lookup(sid)
	if !ok {
		t.Fatalf("session not stored")
	}
	answer, _ := strconv.ParseUint(stored.Answer, 10, 64)
	token, err := eng.CheckoutCaptcha(cryptoengine.CaptchaInput{
		Answer:             answer,
		TokenCiphered:      intro.TokenCiphered,
		TokenCipherKeySalt: intro.TokenCipherKeySalt,
		SessionID:          sensitive.Clone(sid),
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	defer token.Destroy()
	if !token.Equal(stored.Token) {
		t.Fatalf("client token differs from server token")
	}
	if !stored.CreatedAt.Equal(now) {
		t.Fatalf("expected created at %s, got %s", now, stored.CreatedAt)
	}
	want := now.Add(300 * time.Second).Truncate(time.Millisecond)
	if !intro.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %s, got %s", want, intro.ExpiresAt)
	}
}

func TestInitRejectsForgedClientSignature(t *testing.T) {
	srv := fastServer(Options{})
	kp, _ := cryptoengine.New().GenerateSessionKeypair()
	defer kp.Soul.Destroy()
	kp.XPubSig[0] ^= 0xff

	rec := postInit(t, srv.Handler(), kp)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body statusResponse
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body.Status != "error" {
		t.Fatalf("expected error status, got %q", body.Status)
	}
}

func TestInitRejectsMalformedBody(t *testing.T) {
	srv := fastServer(Options{})
	req := httptest.NewRequest(http.MethodPost, "/session/init", bytes.NewReader([]byte("{")))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestInitRateLimited(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	srv := fastServer(Options{Limiter: rate.New(rdb, rate.Config{Window: time.Minute, MaxRequests: 1})})
	kp, _ := cryptoengine.New().GenerateSessionKeypair()
	defer kp.Soul.Destroy()

	if rec := postInit(t, srv.Handler(), kp); rec.Code != http.StatusOK {
		t.Fatalf("first init: %d", rec.Code)
	}
	rec := postInit(t, srv.Handler(), kp)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestDynamicIterations(t *testing.T) {
	if got := dynamicIterations(0, 32); got != powIterationsMin {
		t.Fatalf("expected minimum for first request, got %d", got)
	}
	if got := dynamicIterations(32, 32); got != powIterationsMax {
		t.Fatalf("expected maximum at budget, got %d", got)
	}
	if got := dynamicIterations(1000, 32); got != powIterationsMax {
		t.Fatalf("expected clamp above budget, got %d", got)
	}
	prev := uint32(0)
	for n := int64(1); n <= 32; n++ {
		got := dynamicIterations(n, 32)
		if got < prev {
			t.Fatalf("iterations decreased at %d: %d < %d", n, got, prev)
		}
		prev = got
	}
}

func TestPoWEndpoint(t *testing.T) {
	srv := fastServer(Options{})
	eng := cryptoengine.New()
	kp, _ := eng.GenerateSessionKeypair()
	defer kp.Soul.Destroy()
	resp := decodeInit(t, postInit(t, srv.Handler(), kp))
	stored, _ := srv.Lookup(mustDecode(t, resp.SessionID))

	nonce, err := eng.ComputeProofOfWork(cryptoengine.PoWInput{
		ProgressID: "p",
		Challenge:  stored.PoWChallenge,
		Salt:       stored.PoWSalt,
		Params:     stored.PoWParams,
	}, func(cryptoengine.Progress) {})
	if err != nil {
		t.Fatalf("pow: %v", err)
	}

	post := func(n uint64) int {
		body, _ := json.Marshal(powRequest{SessionID: resp.SessionID, Nonce: n})
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/session/pow", bytes.NewReader(body)))
		return rec.Code
	}
	if !cryptoengine.VerifyPoW(nonce+1, stored.PoWChallenge, stored.PoWSalt, stored.PoWParams) {
		if code := post(nonce + 1); code != http.StatusBadRequest {
			t.Fatalf("expected 400 for a wrong nonce, got %d", code)
		}
	}
	if code := post(nonce); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if rec, _ := srv.Lookup(stored.SessionID); !rec.PoWSolved {
		t.Fatalf("session not marked solved")
	}
}

func TestWhoamiVerifiesBearer(t *testing.T) {
	bearer, err := jwt.NewManager(jwt.Config{TTL: time.Minute})
	if err != nil {
		t.Fatalf("jwt manager: %v", err)
	}
	srv := fastServer(Options{Bearer: bearer})
	kp, _ := cryptoengine.New().GenerateSessionKeypair()
	defer kp.Soul.Destroy()
	resp := decodeInit(t, postInit(t, srv.Handler(), kp))
	stored, _ := srv.Lookup(mustDecode(t, resp.SessionID))

	call := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/session/whoami", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	good, err := bearer.Mint(resp.SessionID, stored.Token)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if code := call(good); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	forged, _ := bearer.Mint(resp.SessionID, []byte("not-the-session-token-xx"))
	if code := call(forged); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a forged token, got %d", code)
	}
	if code := call(""); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", code)
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	srv := fastServer(Options{Now: func() time.Time { return now }})
	kp, _ := cryptoengine.New().GenerateSessionKeypair()
	defer kp.Soul.Destroy()
	resp := decodeInit(t, postInit(t, srv.Handler(), kp))

	if n := srv.Sweep(now.Add(299 * time.Second)); n != 0 {
		t.Fatalf("swept %d live sessions", n)
	}
	if n := srv.Sweep(now.Add(300 * time.Second)); n != 1 {
		t.Fatalf("expected 1 expired session, got %d", n)
	}
	if _, ok := srv.Lookup(mustDecode(t, resp.SessionID)); ok {
		t.Fatalf("expired session still present")
	}
}

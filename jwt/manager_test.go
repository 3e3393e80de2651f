package jwt

import (
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func keyring(keys map[string][]byte) KeyFunc {
	return func(sid string) ([]byte, error) {
		k, ok := keys[sid]
		if !ok {
			return nil, errors.New("unknown session")
		}
		return append([]byte(nil), k...), nil
	}
}

func TestMintParseRoundTrip(t *testing.T) {
	m, err := NewManager(Config{TTL: time.Minute, Issuer: "umbra", Audience: "api"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	key := []byte("0123456789abcdef01234567")
	token, err := m.Mint("s1", key)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	claims, err := m.Parse(token, keyring(map[string][]byte{"s1": key}))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.SID != "s1" || claims.ID == "" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if string(key) != "0123456789abcdef01234567" {
		t.Fatalf("mint must not modify the caller key")
	}
}

func TestParseRejectsOtherSessionKey(t *testing.T) {
	m, _ := NewManager(Config{TTL: time.Minute})
	token, err := m.Mint("s1", []byte("key-one-key-one-key-one!"))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := m.Parse(token, keyring(map[string][]byte{"s1": []byte("key-two-key-two-key-two!")})); err == nil {
		t.Fatalf("expected signature failure")
	}
	if _, err := m.Parse(token, keyring(nil)); err == nil {
		t.Fatalf("expected unknown session failure")
	}
}

func TestParseRejectsWrongAlgorithm(t *testing.T) {
	m, _ := NewManager(Config{TTL: time.Minute})
	claims := Claims{SID: "s1", RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute))}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS512, claims).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Parse(token, keyring(map[string][]byte{"s1": []byte("k")})); err == nil {
		t.Fatalf("expected HS512 to be rejected")
	}
}

func TestParseIssuerAudienceAndLeeway(t *testing.T) {
	m, _ := NewManager(Config{TTL: time.Minute, Issuer: "umbra", Audience: "api", Leeway: 30 * time.Second})
	key := []byte("k")
	keys := keyring(map[string][]byte{"s1": key})
	sign := func(c Claims) string {
		t.Helper()
		s, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, c).SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}
	base := func(iss, aud string, exp time.Duration) Claims {
		return Claims{SID: "s1", RegisteredClaims: gjwt.RegisteredClaims{
			Issuer:    iss,
			Audience:  gjwt.ClaimStrings{aud},
			IssuedAt:  gjwt.NewNumericDate(time.Now().Add(-time.Minute)),
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(exp)),
		}}
	}

	if _, err := m.Parse(sign(base("other", "api", time.Minute)), keys); err == nil {
		t.Fatalf("expected wrong issuer to fail")
	}
	if _, err := m.Parse(sign(base("umbra", "other", time.Minute)), keys); err == nil {
		t.Fatalf("expected wrong audience to fail")
	}
	if _, err := m.Parse(sign(base("umbra", "api", -15*time.Second)), keys); err != nil {
		t.Fatalf("expected token within leeway to pass: %v", err)
	}
	if _, err := m.Parse(sign(base("umbra", "api", -2*time.Minute)), keys); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestParseRequiresSIDAndExpiry(t *testing.T) {
	m, _ := NewManager(Config{TTL: time.Minute})
	key := []byte("k")
	noSID, _ := gjwt.NewWithClaims(gjwt.SigningMethodHS256, Claims{RegisteredClaims: gjwt.RegisteredClaims{
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}).SignedString(key)
	if _, err := m.Parse(noSID, keyring(map[string][]byte{"": key})); !errors.Is(err, ErrMissingSession) {
		t.Fatalf("expected ErrMissingSession, got %v", err)
	}
	noExp, _ := gjwt.NewWithClaims(gjwt.SigningMethodHS256, Claims{SID: "s1"}).SignedString(key)
	if _, err := m.Parse(noExp, keyring(map[string][]byte{"s1": key})); err == nil {
		t.Fatalf("expected missing exp to fail")
	}
}

func TestParseRejectsFarFutureIssuedAt(t *testing.T) {
	m, _ := NewManager(Config{TTL: time.Hour, MaxFutureIAT: time.Minute})
	key := []byte("k")
	token, _ := gjwt.NewWithClaims(gjwt.SigningMethodHS256, Claims{SID: "s1", RegisteredClaims: gjwt.RegisteredClaims{
		IssuedAt:  gjwt.NewNumericDate(time.Now().Add(10 * time.Minute)),
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}).SignedString(key)
	_, err := m.Parse(token, keyring(map[string][]byte{"s1": key}))
	if !errors.Is(err, ErrIssuedInFuture) || !errors.Is(err, gjwt.ErrTokenUsedBeforeIssued) {
		t.Fatalf("expected ErrIssuedInFuture, got %v", err)
	}
}

func TestMintRejectsEmptyInputs(t *testing.T) {
	m, _ := NewManager(Config{TTL: time.Minute})
	if _, err := m.Mint("", []byte("k")); !errors.Is(err, ErrMissingSession) {
		t.Fatalf("expected ErrMissingSession, got %v", err)
	}
	if _, err := m.Mint("s1", nil); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestNewManagerValidation(t *testing.T) {
	for _, cfg := range []Config{
		{},
		{TTL: time.Minute, Leeway: time.Hour},
		{TTL: time.Minute, MaxFutureIAT: -time.Second},
	} {
		if _, err := NewManager(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("expected ErrInvalidConfig for %+v, got %v", cfg, err)
		}
	}
}

func FuzzParse(f *testing.F) {
	m, err := NewManager(Config{TTL: 5 * time.Minute, Leeway: 30 * time.Second})
	if err != nil {
		f.Fatal(err)
	}
	valid, err := m.Mint("s1", []byte("fuzz-key"))
	if err != nil {
		f.Fatal(err)
	}
	f.Add(valid)
	f.Add("")
	f.Add("not.a.jwt")
	f.Add("eyJhbGciOiJub25lIn0.eyJzaWQiOiJzMSJ9.")
	f.Add(strings.Repeat("a", 64))

	keys := keyring(map[string][]byte{"s1": []byte("fuzz-key")})
	f.Fuzz(func(t *testing.T, input string) {
		claims, err := m.Parse(input, keys)
		if err == nil && claims == nil {
			t.Fatal("Parse returned nil claims without error")
		}
	})
}

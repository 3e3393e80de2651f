package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidConfig is returned by NewManager.
	ErrInvalidConfig = errors.New("jwt: invalid configuration")
	// ErrMissingSession is returned for tokens without a sid claim.
	ErrMissingSession = errors.New("jwt: missing sid claim")
	// ErrEmptyKey is returned when a signing key is empty.
	ErrEmptyKey = errors.New("jwt: empty signing key")
	// ErrIssuedInFuture is returned when iat is later than MaxFutureIAT allows.
	ErrIssuedInFuture = errors.New("jwt: iat too far in the future")
)

// Config holds token policy.
type Config struct {
	TTL          time.Duration
	Issuer       string
	Audience     string
	Leeway       time.Duration
	MaxFutureIAT time.Duration
}

// Claims are the bearer token claims.
type Claims struct {
	SID string `json:"sid"`
	jwt.RegisteredClaims
}

// KeyFunc returns the signing key for a session id. The returned slice is
// wiped after use.
type KeyFunc func(sid string) ([]byte, error)

// Manager mints and parses bearer tokens. It is immutable after NewManager.
type Manager struct {
	config Config
	now    func() time.Time
}

// NewManager validates cfg.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("%w: ttl must be > 0", ErrInvalidConfig)
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, fmt.Errorf("%w: leeway must be within [0, 2m]", ErrInvalidConfig)
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, fmt.Errorf("%w: max future iat must be within (0, 24h]", ErrInvalidConfig)
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	return &Manager{config: cfg, now: time.Now}, nil
}

// Mint returns a token for sid signed with key. The caller keeps ownership
// of key.
func (m *Manager) Mint(sid string, key []byte) (string, error) {
	if sid == "" {
		return "", ErrMissingSession
	}
	if len(key) == 0 {
		return "", ErrEmptyKey
	}
	now := m.now()
	claims := Claims{
		SID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TTL)),
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// Parse verifies token. lookup is called with the unverified sid claim and
// must return that session's key.
func (m *Manager) Parse(token string, lookup KeyFunc) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	var used []byte
	defer func() { clear(used) }()
	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		claims, ok := t.Claims.(*Claims)
		if !ok || claims.SID == "" {
			return nil, ErrMissingSession
		}
		key, err := lookup(claims.SID)
		if err != nil {
			return nil, err
		}
		used = key
		if len(key) == 0 {
			return nil, ErrEmptyKey
		}
		return key, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.IssuedAt != nil && claims.IssuedAt.After(m.now().Add(m.config.MaxFutureIAT)) {
		return nil, fmt.Errorf("%w: %w", ErrIssuedInFuture, jwt.ErrTokenUsedBeforeIssued)
	}
	return claims, nil
}

package httptransport

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the lifetime of tokens minted by JWTSource.
const DefaultTokenTTL = time.Hour

// refreshMargin is how long before expiry a cached token is replaced.
const refreshMargin = time.Minute

var (
	ErrMissingToken = errors.New("authorization header required")
	ErrInvalidToken = errors.New("invalid token")
)

// TokenSource supplies the bearer token attached to every gateway request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token. The empty token disables the
// Authorization header.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// Claims identifies the client device. Subject carries the user.
type Claims struct {
	DeviceID string `json:"did,omitempty"`
	jwt.RegisteredClaims
}

// JWTSource mints HS256 tokens and caches them until shortly before they
// expire.
type JWTSource struct {
	secret   []byte
	subject  string
	deviceID string
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	cached  string
	expires time.Time
}

// NewJWTSource creates a token source. A non-positive ttl uses
// DefaultTokenTTL.
func NewJWTSource(secret, subject, deviceID string, ttl time.Duration) (*JWTSource, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if subject == "" {
		return nil, errors.New("jwt subject is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &JWTSource{
		secret:   []byte(secret),
		subject:  subject,
		deviceID: deviceID,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Token returns the cached token or signs a new one.
func (s *JWTSource) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.cached != "" && now.Add(refreshMargin).Before(s.expires) {
		return s.cached, nil
	}
	token, err := s.sign(now)
	if err != nil {
		return "", err
	}
	s.cached, s.expires = token, now.Add(s.ttl)
	return token, nil
}

// Mint signs a fresh token without touching the cache.
func (s *JWTSource) Mint() (string, time.Time, error) {
	now := s.now()
	token, err := s.sign(now)
	return token, now.Add(s.ttl), err
}

func (s *JWTSource) sign(now time.Time) (string, error) {
	claims := &Claims{
		DeviceID: s.deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "boxsync",
			Subject:   s.subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verifier authenticates a bearer token presented to the Handler and
// returns the subject it belongs to.
type Verifier interface {
	Verify(token string) (subject string, err error)
}

// StaticVerifier accepts exactly one token.
type StaticVerifier string

func (v StaticVerifier) Verify(token string) (string, error) {
	if v == "" || subtle.ConstantTimeCompare([]byte(v), []byte(token)) != 1 {
		return "", ErrInvalidToken
	}
	return "static", nil
}

// JWTVerifier validates HS256 tokens signed with the shared secret.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// bearerToken extracts the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: bearer token required", ErrInvalidToken)
	}
	return strings.TrimSpace(token), nil
}

var (
	_ TokenSource = StaticToken("")
	_ TokenSource = (*JWTSource)(nil)
	_ Verifier    = StaticVerifier("")
	_ Verifier    = (*JWTVerifier)(nil)
)

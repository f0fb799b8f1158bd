package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"system-toolbox/internal/config"
)

var (
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrInvalidAPIKey = errors.New("invalid api key")
	ErrEmptySecret   = errors.New("jwt secret is empty")
)

const issuer = "system-toolbox"

// Claims carry the caller's identity and roles.
type Claims struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// JWTManager issues and validates HS256 tokens.
type JWTManager struct {
	secret []byte
	expiry time.Duration
	keys   []config.APIKey
	now    func() time.Time
}

func NewJWTManager(secret string, expiry time.Duration, keys []config.APIKey) (*JWTManager, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &JWTManager{secret: []byte(secret), expiry: expiry, keys: keys, now: time.Now}, nil
}

// Expiry is the lifetime of issued tokens.
func (m *JWTManager) Expiry() time.Duration {
	return m.expiry
}

// GenerateToken signs a token for subject with roles.
func (m *JWTManager) GenerateToken(subject string, roles []string) (string, time.Time, error) {
	now := m.now()
	expires := now.Add(m.expiry)
	claims := &Claims{
		Name:  subject,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// ValidateToken parses tokenStr and returns its claims.
func (m *JWTManager) ValidateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Exchange trades a configured API key for a token.
func (m *JWTManager) Exchange(key string) (token string, expires time.Time, roles []string, err error) {
	for _, k := range m.keys {
		if k.Key != "" && subtle.ConstantTimeCompare([]byte(k.Key), []byte(key)) == 1 {
			token, expires, err = m.GenerateToken(k.Name, k.Roles)
			return token, expires, k.Roles, err
		}
	}
	return "", time.Time{}, nil, ErrInvalidAPIKey
}

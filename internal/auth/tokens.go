// Package auth issues and verifies the API's HS256 access and refresh tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenType string

const (
	AccessToken  TokenType = "access"
	RefreshToken TokenType = "refresh"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carry the user id in "sub". TokenType keeps a refresh token from
// being accepted as an access token even if both secrets were equal.
type Claims struct {
	jwt.RegisteredClaims
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}

type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type Config struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

type Issuer struct {
	cfg Config
	now func() time.Time
}

func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("access and refresh secrets are required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 30 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "mindpal"
	}
	return &Issuer{cfg: cfg, now: time.Now}, nil
}

// Issue signs a fresh access/refresh pair for userID.
func (i *Issuer) Issue(userID, role string) (*TokenPair, error) {
	now := i.now()
	access, accessExp, err := i.sign(userID, role, AccessToken, now)
	if err != nil {
		return nil, err
	}
	refresh, _, err := i.sign(userID, role, RefreshToken, now)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: "bearer", ExpiresAt: accessExp}, nil
}

func (i *Issuer) sign(userID, role string, typ TokenType, now time.Time) (string, time.Time, error) {
	secret, ttl := i.secretFor(typ)
	exp := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Role:      role,
		TokenType: typ,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return s, exp, nil
}

func (i *Issuer) secretFor(typ TokenType) ([]byte, time.Duration) {
	if typ == RefreshToken {
		return []byte(i.cfg.RefreshSecret), i.cfg.RefreshTTL
	}
	return []byte(i.cfg.AccessSecret), i.cfg.AccessTTL
}

// Parse verifies raw as a token of the given type.
func (i *Issuer) Parse(raw string, typ TokenType) (*Claims, error) {
	secret, _ := i.secretFor(typ)
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || tok == nil || !tok.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.TokenType != typ {
		return nil, fmt.Errorf("%w: expected %s token", ErrInvalidToken, typ)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

package jwtinfra

import (
	"errors"
	"fmt"
	"time"

	"github.com/ecolens-api/internal/config"
	"github.com/ecolens-api/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind distinguishes the three token families. Each is signed with its own secret.
type Kind string

const (
	KindAccess       Kind = "access"
	KindRefresh      Kind = "refresh"
	KindVerification Kind = "verification"
)

// ErrInvalidToken is returned by Rotate when the refresh token does not verify.
var ErrInvalidToken = fmt.Errorf("invalid or expired refresh token: %w", domain.ErrUnauthorized)

// Claims holds the JWT payload fields.
type Claims struct {
	UserID string `json:"uid"`
	Email  string `json:"email,omitempty"`
	Kind   Kind   `json:"kind"`
	jwt.RegisteredClaims
}

// Rotation is the fresh token pair minted from a valid refresh token.
type Rotation struct {
	AccessToken  string
	RefreshToken string
	UserID       string
}

type signingKey struct {
	secret []byte
	ttl    time.Duration
}

// Provider signs and verifies HS256 JWTs for access, refresh and verification tokens.
type Provider struct {
	keys map[Kind]signingKey
	now  func() time.Time
}

// NewProvider fails with domain.ErrConfig when any secret is missing.
func NewProvider(cfg config.TokenConfig) (*Provider, error) {
	missing := []string{}
	if cfg.AccessSecret == "" {
		missing = append(missing, "ACCESS_TOKEN_SECRET")
	}
	if cfg.RefreshSecret == "" {
		missing = append(missing, "REFRESH_TOKEN_SECRET")
	}
	if cfg.VerificationSecret == "" {
		missing = append(missing, "VERIFICATION_TOKEN_SECRET")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing token secrets %v: %w", missing, domain.ErrConfig)
	}
	return &Provider{
		keys: map[Kind]signingKey{
			KindAccess:       {secret: []byte(cfg.AccessSecret), ttl: cfg.AccessTTL},
			KindRefresh:      {secret: []byte(cfg.RefreshSecret), ttl: cfg.RefreshTTL},
			KindVerification: {secret: []byte(cfg.VerificationSecret), ttl: cfg.VerificationTTL},
		},
		now: time.Now,
	}, nil
}

// WithClock returns a copy of p that reads time from now. Used by tests.
func (p *Provider) WithClock(now func() time.Time) *Provider {
	cp := *p
	cp.now = now
	return &cp
}

func (p *Provider) SignAccess(userID string) (string, error) {
	return p.sign(KindAccess, userID, "")
}

func (p *Provider) SignRefresh(userID string) (string, error) {
	return p.sign(KindRefresh, userID, "")
}

func (p *Provider) SignVerification(userID, email string) (string, error) {
	return p.sign(KindVerification, userID, email)
}

// VerifyAccess returns the claims of a valid access token, or nil.
func (p *Provider) VerifyAccess(tokenStr string) *Claims {
	return p.verify(KindAccess, tokenStr)
}

// VerifyRefresh returns the claims of a valid refresh token, or nil.
func (p *Provider) VerifyRefresh(tokenStr string) *Claims {
	return p.verify(KindRefresh, tokenStr)
}

// VerifyVerification returns the claims of a valid verification token, or nil.
func (p *Provider) VerifyVerification(tokenStr string) *Claims {
	return p.verify(KindVerification, tokenStr)
}

// Rotate mints a fresh access and refresh token for the subject of refreshToken.
// The old refresh token stays valid until it expires.
func (p *Provider) Rotate(refreshToken string) (*Rotation, error) {
	claims := p.VerifyRefresh(refreshToken)
	if claims == nil {
		return nil, ErrInvalidToken
	}
	access, err := p.SignAccess(claims.UserID)
	if err != nil {
		return nil, err
	}
	refresh, err := p.SignRefresh(claims.UserID)
	if err != nil {
		return nil, err
	}
	return &Rotation{AccessToken: access, RefreshToken: refresh, UserID: claims.UserID}, nil
}

func (p *Provider) sign(kind Kind, userID, email string) (string, error) {
	if p == nil {
		return "", fmt.Errorf("token provider not configured: %w", domain.ErrConfig)
	}
	key, ok := p.keys[kind]
	if !ok || len(key.secret) == 0 {
		return "", fmt.Errorf("no secret for %s tokens: %w", kind, domain.ErrConfig)
	}
	now := p.now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(key.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(key.secret)
}

func (p *Provider) verify(kind Kind, tokenStr string) *Claims {
	if p == nil || tokenStr == "" {
		return nil
	}
	key, ok := p.keys[kind]
	if !ok || len(key.secret) == 0 {
		return nil
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return key.secret, nil
	}, jwt.WithTimeFunc(p.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Kind != kind || claims.UserID == "" {
		return nil
	}
	return claims
}

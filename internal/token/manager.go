package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"marketplace/internal/config"
	"marketplace/internal/model"
)

var (
	ErrInvalidToken = errors.New("token expired or invalid")
	ErrInvalidRole  = errors.New("token carries an invalid role")
)

// Claims bind an account identity and role to a signature. Role lives inside
// the signed payload, so privilege cannot be escalated without the secret.
type Claims struct {
	AccountID string     `json:"id"`
	Role      model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Pair is an access/refresh token pair issued together on login.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// Manager signs and verifies token pairs. Access and refresh tokens use
// separate secrets so one cannot stand in for the other.
type Manager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func NewManager(cfg config.JWTConfig) (*Manager, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("token secrets are required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	return &Manager{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
	}, nil
}

// IssuePair mints a fresh access/refresh pair for an account.
func (m *Manager) IssuePair(accountID string, role model.Role) (*Pair, error) {
	access, err := m.IssueAccess(accountID, role)
	if err != nil {
		return nil, err
	}
	refresh, err := m.sign(accountID, role, m.refreshSecret, m.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &Pair{AccessToken: access, RefreshToken: refresh}, nil
}

// IssueAccess mints an access token alone. Used on refresh, which never
// rotates the refresh token.
func (m *Manager) IssueAccess(accountID string, role model.Role) (string, error) {
	return m.sign(accountID, role, m.accessSecret, m.accessTTL)
}

func (m *Manager) VerifyAccess(tokenString string) (*Claims, error) {
	return m.verify(tokenString, m.accessSecret)
}

func (m *Manager) VerifyRefresh(tokenString string) (*Claims, error) {
	return m.verify(tokenString, m.refreshSecret)
}

func (m *Manager) sign(accountID string, role model.Role, secret []byte, ttl time.Duration) (string, error) {
	if !role.Valid() {
		return "", ErrInvalidRole
	}
	now := time.Now()
	claims := Claims{
		AccountID: accountID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (m *Manager) verify(tokenString string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.AccountID == "" || !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

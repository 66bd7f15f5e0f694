package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/internal/config"
	"marketplace/internal/model"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.JWTConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	})
	require.NoError(t, err)
	return m
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(config.JWTConfig{AccessSecret: "", RefreshSecret: "x", AccessTTL: time.Minute, RefreshTTL: time.Minute})
	assert.Error(t, err)

	_, err = NewManager(config.JWTConfig{AccessSecret: "a", RefreshSecret: "b", AccessTTL: 0, RefreshTTL: time.Minute})
	assert.Error(t, err)
}

func TestIssueAndVerifyPair(t *testing.T) {
	m := testManager(t)

	pair, err := m.IssuePair("account-1", model.RoleSeller)
	require.NoError(t, err)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	claims, err := m.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "account-1", claims.AccountID)
	assert.Equal(t, model.RoleSeller, claims.Role)

	claims, err = m.VerifyRefresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "account-1", claims.AccountID)
}

func TestTokensAreNotInterchangeable(t *testing.T) {
	m := testManager(t)

	pair, err := m.IssuePair("account-1", model.RoleUser)
	require.NoError(t, err)

	_, err = m.VerifyAccess(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.VerifyRefresh(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	m := testManager(t)
	other, err := NewManager(config.JWTConfig{
		AccessSecret:  "other-access",
		RefreshSecret: "other-refresh",
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Minute,
	})
	require.NoError(t, err)

	access, err := other.IssueAccess("account-1", model.RoleUser)
	require.NoError(t, err)

	_, err = m.VerifyAccess(access)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m, err := NewManager(config.JWTConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     time.Millisecond,
		RefreshTTL:    time.Minute,
	})
	require.NoError(t, err)

	access, err := m.IssueAccess("account-1", model.RoleUser)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = m.VerifyAccess(access)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSignRejectsInvalidRole(t *testing.T) {
	m := testManager(t)
	_, err := m.IssueAccess("account-1", model.Role("admin"))
	assert.ErrorIs(t, err, ErrInvalidRole)
}

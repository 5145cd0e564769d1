package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkgrade/inkgrade-backend/internal/config"
)

func newTestAuthService() *AuthService {
	return NewAuthService(&config.Config{
		JWTSecret:        "unit-test-secret",
		JWTExpiry:        time.Hour,
		JWTRefreshExpiry: 24 * time.Hour,
		BcryptCost:       4, // min cost, keeps the test fast
	}, nil, nil)
}

func TestPasswordHashRoundtrip(t *testing.T) {
	s := newTestAuthService()

	hash, err := s.HashPassword("s3cret-pass")
	require.NoError(t, err)
	require.NotEqual(t, "s3cret-pass", hash)

	assert.NoError(t, s.CheckPassword(hash, "s3cret-pass"))
	assert.ErrorIs(t, s.CheckPassword(hash, "wrong"), ErrInvalidCredentials)
}

func TestGenerateTokenPair(t *testing.T) {
	s := newTestAuthService()

	pair, err := s.GenerateTokenPair(42, RoleStudent)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, int64(3600), pair.ExpiresIn)

	access, err := s.ValidateToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, TokenKindAccess, access.TokenType)
	assert.Equal(t, RoleStudent, access.Role)
	assert.Equal(t, 42, access.UserID)

	refresh, err := s.ValidateToken(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, TokenKindRefresh, refresh.TokenType)
	assert.Equal(t, 42, refresh.UserID)
}

func TestRefreshRequiresRefreshToken(t *testing.T) {
	s := newTestAuthService()

	pair, err := s.GenerateTokenPair(7, RoleTeacher)
	require.NoError(t, err)

	// The access token must not mint new pairs.
	_, err = s.Refresh(pair.AccessToken)
	assert.ErrorIs(t, err, ErrNotRefreshToken)

	next, err := s.Refresh(pair.RefreshToken)
	require.NoError(t, err)

	claims, err := s.ValidateToken(next.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, RoleTeacher, claims.Role)
	assert.Equal(t, 7, claims.UserID)
}

func TestValidateTokenRejectsForgery(t *testing.T) {
	s := newTestAuthService()
	other := NewAuthService(&config.Config{
		JWTSecret:        "a-different-secret",
		JWTExpiry:        time.Hour,
		JWTRefreshExpiry: time.Hour,
	}, nil, nil)

	pair, err := other.GenerateTokenPair(1, RoleStudent)
	require.NoError(t, err)

	_, err = s.ValidateToken(pair.AccessToken)
	assert.Error(t, err)

	_, err = s.ValidateToken("not-a-jwt")
	assert.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	s := NewAuthService(&config.Config{
		JWTSecret:        "unit-test-secret",
		JWTExpiry:        -time.Minute, // already expired at issue time
		JWTRefreshExpiry: time.Hour,
	}, nil, nil)

	pair, err := s.GenerateTokenPair(42, RoleStudent)
	require.NoError(t, err)

	_, err = s.ValidateToken(pair.AccessToken)
	assert.Error(t, err)
}

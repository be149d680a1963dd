package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateAccessToken(t *testing.T) {
	s := NewJWTService("secret", "guardian-test")

	token, err := s.GenerateAccessToken("elder-1", RoleElder, time.Hour)
	require.NoError(t, err)

	claims, err := s.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "elder-1", claims.UserID)
	assert.Equal(t, RoleElder, claims.Role)
	assert.Equal(t, "elder-1", claims.Subject)
}

func TestGenerateRejectsUnknownRole(t *testing.T) {
	s := NewJWTService("secret", "guardian-test")

	_, err := s.GenerateAccessToken("u1", "admin", time.Hour)
	assert.ErrorIs(t, err, ErrInvalidRole)
	_, err = s.GenerateAccessToken("", RoleCaregiver, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidClaims)
}

func TestValidateRejectsForeignTokens(t *testing.T) {
	s := NewJWTService("secret", "guardian-test")
	token, err := s.GenerateAccessToken("child-1", RoleCaregiver, time.Hour)
	require.NoError(t, err)

	_, err = NewJWTService("other-secret", "guardian-test").ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewJWTService("secret", "someone-else").ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = s.ValidateAccessToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateExpiredToken(t *testing.T) {
	s := NewJWTService("secret", "guardian-test")
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return issued }

	token, err := s.GenerateAccessToken("elder-1", RoleElder, time.Minute)
	require.NoError(t, err)

	s.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = s.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestExtractTokenFromBearer(t *testing.T) {
	assert.Equal(t, "abc", ExtractTokenFromBearer("Bearer abc"))
	assert.Equal(t, "", ExtractTokenFromBearer("Basic abc"))
	assert.Equal(t, "", ExtractTokenFromBearer(""))
}

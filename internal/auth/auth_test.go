package auth

import (
	"testing"
	"time"

	"trustwork_backend/internal/models"
	"trustwork_backend/pkg/apperrors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	m := NewTokenManager("secret", time.Hour)
	tok, err := m.GenerateToken("user-1", "employer")
	require.NoError(t, err)

	claims, err := m.ParseToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "employer", claims.Role)
}

func TestParseToken_RejectsForeignSecretAndExpiry(t *testing.T) {
	tok, err := NewTokenManager("other", time.Hour).GenerateToken("u", "admin")
	require.NoError(t, err)
	_, err = NewTokenManager("secret", time.Hour).ParseToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := NewTokenManager("secret", -time.Minute).GenerateToken("u", "admin")
	require.NoError(t, err)
	_, err = NewTokenManager("secret", time.Hour).ParseToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseToken_RejectsNoneAlgorithm(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u"})
	s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = NewTokenManager("secret", time.Hour).ParseToken(s)
	assert.Error(t, err)
}

func TestRequireRoleAndActor(t *testing.T) {
	p := &Principal{UserID: "u1", Role: models.RoleFreelancer}

	assert.NoError(t, RequireRole(p, models.RoleFreelancer))
	assert.True(t, apperrors.HasCode(RequireRole(p, models.RoleEmployer), apperrors.CodeUnauthorized))
	assert.True(t, apperrors.HasCode(RequireRole(nil, models.RoleEmployer), apperrors.CodeUnauthenticated))
	assert.NoError(t, RequireActor(p, "u1"))
	assert.Error(t, RequireActor(p, "u2"))

	admin := &Principal{UserID: "a", Role: models.RoleAdmin}
	assert.NoError(t, RequireSelfOrAdmin(admin, "u1"))
	assert.Error(t, RequireSelfOrAdmin(p, "u2"))
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"trustwork_backend/internal/auth"
	"trustwork_backend/internal/models"
	"trustwork_backend/internal/repositories"
	"trustwork_backend/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) (*gin.Engine, *auth.TokenManager, *testutil.Fixtures) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.NewTestDB(t)
	tokens := auth.NewTokenManager("test-secret", time.Hour)

	r := gin.New()
	r.Use(RequestIDMiddleware())
	api := r.Group("/api", AuthMiddleware(tokens, repositories.NewProfileRepository(), db))
	api.GET("/me", func(c *gin.Context) {
		p, _ := GetPrincipal(c)
		c.JSON(http.StatusOK, p)
	})
	api.GET("/admin", RequireRoles(models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r, tokens, testutil.NewFixtures(t, db)
}

func do(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	r, tokens, fx := newRouter(t)
	profile, _ := fx.Freelancer("alice")

	t.Run("missing header", func(t *testing.T) {
		w := do(r, "/api/me", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "UNAUTHENTICATED")
		assert.NotEmpty(t, w.Header().Get(requestIDHeader))
	})

	t.Run("garbage token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do(r, "/api/me", "not-a-jwt").Code)
	})

	t.Run("role comes from the profile", func(t *testing.T) {
		token, err := tokens.GenerateToken(profile.ID, string(models.RoleAdmin))
		require.NoError(t, err)

		w := do(r, "/api/me", token)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"role":"freelancer"`)

		assert.Equal(t, http.StatusForbidden, do(r, "/api/admin", token).Code)
	})

	t.Run("unknown profile", func(t *testing.T) {
		token, err := tokens.GenerateToken("7b0c8e0e-7d0e-4c55-9d59-1a8f1e3f8a11", "")
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, do(r, "/api/me", token).Code)
	})
}

func TestRequestID_KeepsClientValue(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	id := "0d7f9a52-52a8-4b8c-a4f3-6c31d1f1e0aa"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, id)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, id, w.Header().Get(requestIDHeader))
}

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(0.001, 2)
	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, do(r, "/", "").Code)
	assert.Equal(t, http.StatusOK, do(r, "/", "").Code)
	w := do(r, "/", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_LIMITED")

	rl.idle = 0
	rl.Cleanup()
	assert.Equal(t, http.StatusOK, do(r, "/", "").Code)
}

package middleware

import (
	"errors"
	"strings"

	"trustwork_backend/internal/auth"
	"trustwork_backend/internal/logger"
	"trustwork_backend/internal/models"
	"trustwork_backend/internal/repositories"
	"trustwork_backend/pkg/apperrors"
	"trustwork_backend/pkg/contextkeys"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AuthMiddleware проверяет bearer токен и перечитывает профиль:
// роль и верификация берутся из базы, а не из токена.
func AuthMiddleware(tokens *auth.TokenManager, profiles repositories.ProfileRepository, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			apperrors.HandleError(c, apperrors.NewUnauthenticatedError("Authorization header missing or invalid"))
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := tokens.ParseToken(tokenStr)
		if err != nil {
			apperrors.HandleError(c, apperrors.NewUnauthenticatedError("Invalid token"))
			return
		}

		profile, err := profiles.FindByID(db.WithContext(c.Request.Context()), claims.UserID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				apperrors.HandleError(c, apperrors.NewUnauthenticatedError("Profile not found"))
				return
			}
			apperrors.HandleError(c, apperrors.InternalError(err))
			return
		}

		principal := auth.PrincipalFromProfile(profile)
		c.Set(string(contextkeys.PrincipalContextKey), principal)
		c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), principal.UserID))
		c.Next()
	}
}

// RequireRoles пропускает только перечисленные роли
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := GetPrincipal(c)
		if !ok {
			apperrors.HandleError(c, apperrors.NewUnauthenticatedError("Authentication required"))
			return
		}
		if err := auth.RequireRole(&p, roles...); err != nil {
			apperrors.HandleError(c, err)
			return
		}
		c.Next()
	}
}

// GetPrincipal извлекает принципала из контекста
func GetPrincipal(c *gin.Context) (auth.Principal, bool) {
	v, exists := c.Get(string(contextkeys.PrincipalContextKey))
	if !exists {
		return auth.Principal{}, false
	}
	p, ok := v.(auth.Principal)
	return p, ok
}

// GetUserID извлекает ID пользователя из контекста
func GetUserID(c *gin.Context) string {
	p, ok := GetPrincipal(c)
	if !ok {
		return ""
	}
	return p.UserID
}

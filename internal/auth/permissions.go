package auth

import (
	"trustwork_backend/internal/models"
	"trustwork_backend/pkg/apperrors"
)

// Principal - аутентифицированный участник операции
type Principal struct {
	UserID   string          `json:"user_id"`
	Role     models.UserRole `json:"role"`
	Verified bool            `json:"verified"`
}

// PrincipalFromProfile строит принципала по строке профиля
func PrincipalFromProfile(p *models.Profile) Principal {
	return Principal{UserID: p.ID, Role: p.Role, Verified: p.Verified}
}

func (p Principal) IsAdmin() bool {
	return p.Role == models.RoleAdmin
}

func (p Principal) Is(role models.UserRole) bool {
	return p.Role == role
}

// RequireAuthenticated - принципал должен существовать
func RequireAuthenticated(p *Principal) error {
	if p == nil || p.UserID == "" {
		return apperrors.NewUnauthenticatedError("Authentication required")
	}
	return nil
}

// RequireRole проверяет, что у принципала одна из ролей
func RequireRole(p *Principal, roles ...models.UserRole) error {
	if err := RequireAuthenticated(p); err != nil {
		return err
	}
	for _, r := range roles {
		if p.Role == r {
			return nil
		}
	}
	return apperrors.ErrRoleRequired
}

// RequireActor - принципал должен быть назначенным исполнителем перехода
func RequireActor(p *Principal, actorID string) error {
	if err := RequireAuthenticated(p); err != nil {
		return err
	}
	if p.UserID != actorID {
		return apperrors.ErrNotOwner
	}
	return nil
}

// RequireSelfOrAdmin - чтение/запись собственных данных либо админ
func RequireSelfOrAdmin(p *Principal, ownerID string) error {
	if err := RequireAuthenticated(p); err != nil {
		return err
	}
	if p.UserID == ownerID || p.IsAdmin() {
		return nil
	}
	return apperrors.ErrNotOwner
}

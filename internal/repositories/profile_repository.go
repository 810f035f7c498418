package repositories

import (
	"errors"

	"trustwork_backend/internal/models"

	"gorm.io/gorm"
)

type ProfileRepository interface {
	Create(db *gorm.DB, profile *models.Profile) error
	FindByID(db *gorm.DB, id string) (*models.Profile, error)
	FindByIDs(db *gorm.DB, ids []string) (map[string]*models.Profile, error)
	ListAdmins(db *gorm.DB) ([]models.Profile, error)
}

type ProfileRepositoryImpl struct{}

func NewProfileRepository() ProfileRepository {
	return &ProfileRepositoryImpl{}
}

func (r *ProfileRepositoryImpl) Create(db *gorm.DB, profile *models.Profile) error {
	return translate(db.Create(profile).Error)
}

func (r *ProfileRepositoryImpl) FindByID(db *gorm.DB, id string) (*models.Profile, error) {
	var profile models.Profile
	if err := db.First(&profile, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &profile, nil
}

// FindByIDs - пакетная загрузка для проекций списков
func (r *ProfileRepositoryImpl) FindByIDs(db *gorm.DB, ids []string) (map[string]*models.Profile, error) {
	out := make(map[string]*models.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var profiles []models.Profile
	if err := db.Where("id IN ?", ids).Find(&profiles).Error; err != nil {
		return nil, err
	}
	for i := range profiles {
		out[profiles[i].ID] = &profiles[i]
	}
	return out, nil
}

func (r *ProfileRepositoryImpl) ListAdmins(db *gorm.DB) ([]models.Profile, error) {
	var admins []models.Profile
	err := db.Where("role = ?", models.RoleAdmin).Order("created_at").Find(&admins).Error
	return admins, err
}

// ============================================================================

type BankAccountRepository interface {
	FindByOwner(db *gorm.DB, ownerID string) (*models.BankAccount, error)
	Upsert(db *gorm.DB, account *models.BankAccount) error
	SetVerified(db *gorm.DB, ownerID string, verified bool) error
}

type BankAccountRepositoryImpl struct{}

func NewBankAccountRepository() BankAccountRepository {
	return &BankAccountRepositoryImpl{}
}

func (r *BankAccountRepositoryImpl) FindByOwner(db *gorm.DB, ownerID string) (*models.BankAccount, error) {
	var account models.BankAccount
	if err := db.First(&account, "owner_id = ?", ownerID).Error; err != nil {
		return nil, translate(err)
	}
	return &account, nil
}

// Upsert - одна запись на владельца; изменение реквизитов снимает верификацию
func (r *BankAccountRepositoryImpl) Upsert(db *gorm.DB, account *models.BankAccount) error {
	existing, err := r.FindByOwner(db, account.OwnerID)
	switch {
	case errors.Is(err, ErrNotFound):
		account.Verified = false
		return translate(db.Create(account).Error)
	case err != nil:
		return err
	}

	account.ID = existing.ID
	account.CreatedAt = existing.CreatedAt
	account.Verified = false
	return db.Model(existing).Updates(map[string]interface{}{
		"bank_name":      account.BankName,
		"account_number": account.AccountNumber,
		"account_holder": account.AccountHolder,
		"verified":       false,
		"updated_at":     models.NowUTC(),
	}).Error
}

func (r *BankAccountRepositoryImpl) SetVerified(db *gorm.DB, ownerID string, verified bool) error {
	res := db.Model(&models.BankAccount{}).
		Where("owner_id = ?", ownerID).
		Updates(map[string]interface{}{"verified": verified, "updated_at": models.NowUTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

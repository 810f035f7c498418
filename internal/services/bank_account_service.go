package services

import (
	"context"

	"trustwork_backend/internal/auth"
	"trustwork_backend/internal/logger"
	"trustwork_backend/internal/models"
	"trustwork_backend/internal/repositories"
	"trustwork_backend/internal/services/dto"
	"trustwork_backend/pkg/apperrors"

	"gorm.io/gorm"
)

// BankAccountService - реквизиты для выплат фрилансеру
type BankAccountService interface {
	Upsert(ctx context.Context, db *gorm.DB, p auth.Principal, req *dto.BankAccountRequest) (*dto.BankAccountResponse, error)
	Get(ctx context.Context, db *gorm.DB, p auth.Principal) (*dto.BankAccountResponse, error)
	Verify(ctx context.Context, db *gorm.DB, p auth.Principal, ownerID string) (*dto.BankAccountResponse, error)
}

type bankAccountService struct {
	bankRepo    repositories.BankAccountRepository
	profileRepo repositories.ProfileRepository
}

func NewBankAccountService(bankRepo repositories.BankAccountRepository, profileRepo repositories.ProfileRepository) BankAccountService {
	return &bankAccountService{bankRepo: bankRepo, profileRepo: profileRepo}
}

func (s *bankAccountService) Upsert(ctx context.Context, db *gorm.DB, p auth.Principal, req *dto.BankAccountRequest) (*dto.BankAccountResponse, error) {
	if err := auth.RequireRole(&p, models.RoleFreelancer); err != nil {
		return nil, err
	}

	tx, err := beginTx(ctx, db)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	account := &models.BankAccount{
		OwnerID:       p.UserID,
		BankName:      req.BankName,
		AccountNumber: req.AccountNumber,
		AccountHolder: req.AccountHolder,
	}
	if err := s.bankRepo.Upsert(tx, account); err != nil {
		return nil, repoError(err, "bank_account", "Bank account not found")
	}
	saved, err := s.bankRepo.FindByOwner(tx, p.UserID)
	if err != nil {
		return nil, repoError(err, "bank_account", "Bank account not found")
	}
	if err := commitTx(tx); err != nil {
		return nil, err
	}

	logger.CtxInfo(ctx, "Bank account saved, verification reset", "owner_id", p.UserID)
	return dto.NewBankAccountResponse(saved), nil
}

func (s *bankAccountService) Get(ctx context.Context, db *gorm.DB, p auth.Principal) (*dto.BankAccountResponse, error) {
	if err := auth.RequireAuthenticated(&p); err != nil {
		return nil, err
	}
	account, err := s.bankRepo.FindByOwner(db.WithContext(ctx), p.UserID)
	if err != nil {
		return nil, repoError(err, "bank_account", "Bank account not found")
	}
	return dto.NewBankAccountResponse(account), nil
}

func (s *bankAccountService) Verify(ctx context.Context, db *gorm.DB, p auth.Principal, ownerID string) (*dto.BankAccountResponse, error) {
	if err := auth.RequireRole(&p, models.RoleAdmin); err != nil {
		return nil, err
	}
	db = db.WithContext(ctx)
	if err := s.bankRepo.SetVerified(db, ownerID, true); err != nil {
		return nil, repoError(err, "bank_account", "Bank account not found")
	}
	account, err := s.bankRepo.FindByOwner(db, ownerID)
	if err != nil {
		return nil, apperrors.InternalError(err)
	}
	logger.CtxInfo(ctx, "Bank account verified", "owner_id", ownerID, "admin_id", p.UserID)
	return dto.NewBankAccountResponse(account), nil
}

package repository

import (
	"context"

	"github.com/ManuelReschke/GearMarket/app/models"
	"gorm.io/gorm"
)

// merchantAccountRepository implements the MerchantAccountRepository interface
type merchantAccountRepository struct {
	db *gorm.DB
}

// NewMerchantAccountRepository creates a new merchant account repository instance
func NewMerchantAccountRepository(db *gorm.DB) MerchantAccountRepository {
	return &merchantAccountRepository{db: db}
}

func (r *merchantAccountRepository) Create(ctx context.Context, account *models.MerchantAccount) error {
	return translateError(r.db.WithContext(ctx).Create(account).Error)
}

func (r *merchantAccountRepository) GetBySellerID(ctx context.Context, sellerID uint) (*models.MerchantAccount, error) {
	var account models.MerchantAccount
	if err := r.db.WithContext(ctx).Where("seller_id = ?", sellerID).First(&account).Error; err != nil {
		return nil, translateError(err)
	}
	return &account, nil
}

func (r *merchantAccountRepository) GetByProcessorAccountID(ctx context.Context, accountID string) (*models.MerchantAccount, error) {
	var account models.MerchantAccount
	if err := r.db.WithContext(ctx).Where("processor_account_id = ?", accountID).First(&account).Error; err != nil {
		return nil, translateError(err)
	}
	return &account, nil
}

func (r *merchantAccountRepository) UpdateStatus(ctx context.Context, account *models.MerchantAccount) error {
	return translateError(r.db.WithContext(ctx).
		Model(account).
		Select("onboarding_status", "charges_enabled", "payouts_enabled", "status_checked_at", "updated_at").
		Updates(account).Error)
}

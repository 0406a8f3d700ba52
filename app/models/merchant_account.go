package models

import "time"

// OnboardingStatus mirrors the processor-side state of a connected account.
type OnboardingStatus string

const (
	OnboardingNotStarted OnboardingStatus = "not_started"
	OnboardingPending    OnboardingStatus = "pending"
	OnboardingActive     OnboardingStatus = "active"
	OnboardingRestricted OnboardingStatus = "restricted"
)

// MerchantAccount links a seller to the connected payout account at the
// payment processor. Status columns are only written from processor polls.
type MerchantAccount struct {
	ID                 uint             `gorm:"primaryKey" json:"id"`
	SellerID           uint             `gorm:"not null;uniqueIndex" json:"seller_id"`
	ProcessorAccountID string           `gorm:"type:varchar(191);not null;uniqueIndex" json:"processor_account_id"`
	OnboardingStatus   OnboardingStatus `gorm:"type:varchar(16);not null;default:'not_started'" json:"onboarding_status"`
	ChargesEnabled     bool             `gorm:"not null;default:false" json:"charges_enabled"`
	PayoutsEnabled     bool             `gorm:"not null;default:false" json:"payouts_enabled"`
	StatusCheckedAt    *time.Time       `gorm:"default:null" json:"status_checked_at,omitempty"`
	CreatedAt          time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

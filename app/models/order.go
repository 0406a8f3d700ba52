package models

import "time"

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Review reasons attached to paid orders that need an operator decision.
const (
	ReviewReasonListingUnavailable = "listing_unavailable"
	ReviewReasonAmountMismatch     = "amount_mismatch"
)

// IsTerminal reports whether the status can no longer change.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusPaid, OrderStatusFailed, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Order is a buyer's purchase attempt for one listing, keyed by the
// processor's checkout session id.
type Order struct {
	ID                   uint        `gorm:"primaryKey" json:"-"`
	Reference            string      `gorm:"type:varchar(32);not null;uniqueIndex" json:"reference"`
	ListingID            uint        `gorm:"not null;index;<-:create" json:"listing_id"`
	BuyerID              uint        `gorm:"not null;index" json:"buyer_id"`
	SellerID             uint        `gorm:"not null;index" json:"seller_id"`
	Amount               int64       `gorm:"not null" json:"amount"`
	Currency             string      `gorm:"type:varchar(3);not null" json:"currency"`
	ApplicationFee       int64       `gorm:"not null;default:0" json:"application_fee"`
	PaymentRef           string      `gorm:"type:varchar(191);not null;uniqueIndex" json:"payment_ref"`
	MerchantAccountID    string      `gorm:"type:varchar(191);not null" json:"-"`
	Status               OrderStatus `gorm:"type:varchar(16);not null;default:'pending';index:idx_orders_status_created,priority:1" json:"status"`
	RequiresManualReview bool        `gorm:"not null;default:false;index" json:"requires_manual_review"`
	ReviewReason         string      `gorm:"type:varchar(64);not null;default:''" json:"review_reason,omitempty"`
	PaidAt               *time.Time  `gorm:"default:null" json:"paid_at,omitempty"`
	ClosedAt             *time.Time  `gorm:"default:null" json:"closed_at,omitempty"`
	// ReconciledAt is the last sweep attempt; stale orders are swept oldest attempt first.
	ReconciledAt         *time.Time  `gorm:"default:null" json:"-"`
	CreatedAt            time.Time   `gorm:"autoCreateTime;index:idx_orders_status_created,priority:2" json:"created_at"`
	UpdatedAt            time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsParticipant reports whether the user is the buyer or the seller of the order.
func (o *Order) IsParticipant(userID uint) bool {
	return userID != 0 && (o.BuyerID == userID || o.SellerID == userID)
}

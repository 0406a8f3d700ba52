package models

import "time"

// Ledger sources.
const (
	EventSourceWebhook   = "webhook"
	EventSourceReconcile = "reconcile"
)

// Ledger outcomes.
const (
	EventOutcomeApplied      = "applied"
	EventOutcomeNoop         = "noop"
	EventOutcomeManualReview = "manual_review"
	EventOutcomeReserved     = "reserved"
	EventOutcomeUnmatched    = "unmatched"
	EventOutcomeIgnored      = "ignored"
	EventOutcomeRejected     = "rejected"
	EventOutcomeSynced       = "synced"
)

// ProcessedEvent is the append-only idempotency ledger. The unique event id
// is what makes redelivery of the same processor event a no-op.
type ProcessedEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	EventID   string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"event_id"`
	EventType string    `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Source    string    `gorm:"type:varchar(16);not null;default:'webhook'" json:"source"`
	OrderID   *uint     `gorm:"default:null;index" json:"order_id,omitempty"`
	Outcome   string    `gorm:"type:varchar(32);not null" json:"outcome"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

package models

import "time"

// Availability is the sale state of a listing.
type Availability string

const (
	AvailabilityAvailable Availability = "available"
	AvailabilityReserved  Availability = "reserved"
	AvailabilitySold      Availability = "sold"
)

// Listing is an item offered by a seller. Once a checkout exists for it,
// availability is only changed by the fulfillment state machine.
type Listing struct {
	ID              uint         `gorm:"primaryKey" json:"id"`
	SellerID        uint         `gorm:"not null;index" json:"seller_id"`
	Title           string       `gorm:"type:varchar(200);not null" json:"title" validate:"required,max=200"`
	Price           int64        `gorm:"not null" json:"price" validate:"gt=0"`
	Currency        string       `gorm:"type:varchar(3);not null;default:'eur'" json:"currency" validate:"required,len=3"`
	Availability    Availability `gorm:"type:varchar(16);not null;default:'available';index" json:"availability"`
	ReservedOrderID *uint        `gorm:"default:null" json:"reserved_order_id,omitempty"`
	Version         uint         `gorm:"not null;default:1" json:"version"`
	CreatedAt       time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsPurchasable reports whether a new checkout may be opened for the listing.
func (l *Listing) IsPurchasable() bool {
	return l.Availability == AvailabilityAvailable
}

// IsReservedBy reports whether an in-flight payment of the given order holds the listing.
func (l *Listing) IsReservedBy(orderID uint) bool {
	return l.Availability == AvailabilityReserved && l.ReservedOrderID != nil && *l.ReservedOrderID == orderID
}

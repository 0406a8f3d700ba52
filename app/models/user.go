package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	ROLE_USER       = "user"
	ROLE_SELLER     = "seller"
	ROLE_ADMIN      = "admin"
	STATUS_ACTIVE   = "active"
	STATUS_INACTIVE = "inactive"
	STATUS_DISABLED = "disabled"
)

// User is the marketplace principal. Rows are owned by the hosted auth and
// profile platform; this service only reads them.
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"type:varchar(150)" json:"name" validate:"required,min=3,max=150"`
	Email     string         `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,min=5,max=200"`
	Country   string         `gorm:"type:varchar(2);default:''" json:"country" validate:"omitempty,len=2"`
	Role      string         `gorm:"type:varchar(50);default:'user'" json:"role" validate:"oneof=user seller admin"`
	Status    string         `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active inactive disabled"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// IsActive reports whether the user status is active
func (u *User) IsActive() bool {
	return u.Status == STATUS_ACTIVE
}

// CanSell reports whether the user may onboard a payout account.
func (u *User) CanSell() bool {
	return u.Role == ROLE_SELLER || u.Role == ROLE_ADMIN
}

// ContactEmail returns the trimmed email or an empty string.
func (u *User) ContactEmail() string {
	return strings.TrimSpace(u.Email)
}

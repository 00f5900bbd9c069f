package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/canteen-backend/pkg/enums"
)

// User is an account holder with a prepaid balance. BalanceCents is only
// mutated through the balance ledger.
type User struct {
	ID                 uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	Name               string         `gorm:"column:name;not null"`
	RegistrationNumber *string        `gorm:"column:registration_number;uniqueIndex"`
	Role               enums.UserRole `gorm:"column:role;type:text;not null"`
	BalanceCents       int64          `gorm:"column:balance_cents;not null"`
	CreatedAt          time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = enums.UserRoleStudent
	}
	return nil
}

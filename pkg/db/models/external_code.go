package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ExternalCode is the time-limited pickup code of an externally issued order.
type ExternalCode struct {
	ID           uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	Code         string     `gorm:"column:code;not null;uniqueIndex:ux_external_codes_code"`
	OrderID      uuid.UUID  `gorm:"column:order_id;type:uuid;not null;index"`
	IssuedBy     *uuid.UUID `gorm:"column:issued_by;type:uuid"`
	IssuedToName *string    `gorm:"column:issued_to_name"`
	ExpiresAt    time.Time  `gorm:"column:expires_at;not null"`
	Used         bool       `gorm:"column:used;not null"`
	UsedAt       *time.Time `gorm:"column:used_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (c *ExternalCode) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// ExpiredAt reports whether the code is no longer redeemable at t.
func (c ExternalCode) ExpiredAt(t time.Time) bool {
	return !t.Before(c.ExpiresAt)
}

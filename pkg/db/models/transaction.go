package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/canteen-backend/pkg/enums"
)

// Transaction is an append-only balance ledger entry. External sales carry no
// user and no before/after snapshot.
type Transaction struct {
	ID            uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	Type          enums.TransactionType `gorm:"column:type;type:text;not null;index"`
	AmountCents   int64                 `gorm:"column:amount_cents;not null"`
	BalanceBefore *int64                `gorm:"column:balance_before"`
	BalanceAfter  *int64                `gorm:"column:balance_after"`
	UserID        *uuid.UUID            `gorm:"column:user_id;type:uuid;index"`
	OrderID       *uuid.UUID            `gorm:"column:order_id;type:uuid;index"`
	ActorID       *uuid.UUID            `gorm:"column:actor_id;type:uuid"`
	Note          *string               `gorm:"column:note"`
	CreatedAt     time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (t *Transaction) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

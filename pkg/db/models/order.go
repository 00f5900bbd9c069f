package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbtypes "github.com/angelmondragon/canteen-backend/pkg/db/types"
	"github.com/angelmondragon/canteen-backend/pkg/enums"
)

// Order is the immutable record of what was ordered and at which price.
type Order struct {
	ID               uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	Code             string                      `gorm:"column:code;not null;uniqueIndex:ux_orders_code"`
	Items            dbtypes.JSON[[]OrderItem]   `gorm:"column:items;not null"`
	TotalCents       int64                       `gorm:"column:total_cents;not null"`
	Status           enums.OrderStatus           `gorm:"column:status;type:text;not null;index"`
	UserID           *uuid.UUID                  `gorm:"column:user_id;type:uuid;index"`
	PreparedBy       *uuid.UUID                  `gorm:"column:prepared_by;type:uuid"`
	IssuedBy         *uuid.UUID                  `gorm:"column:issued_by;type:uuid"`
	PrepStationID    *string                     `gorm:"column:prep_station_id"`
	OrderingWindowID *string                     `gorm:"column:ordering_window_id"`
	External         bool                        `gorm:"column:external;not null"`
	Metadata         dbtypes.JSON[OrderMetadata] `gorm:"column:metadata;not null"`
	ExpiresAt        *time.Time                  `gorm:"column:expires_at"`
	ReconciledAt     *time.Time                  `gorm:"column:reconciled_at"`
	// InventoryRestoredAt is set by the one refund allowed to return stock.
	InventoryRestoredAt *time.Time `gorm:"column:inventory_restored_at"`
	CreatedAt           time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Status == "" {
		o.Status = enums.OrderStatusPlaced
	}
	return nil
}

// OrderItem is a frozen snapshot of one cart line.
type OrderItem struct {
	ProductID      uuid.UUID `json:"product_id"`
	Name           string    `json:"name"`
	Category       string    `json:"category"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	Allergens      []string  `json:"allergens,omitempty"`
	Qty            int       `json:"qty"`
	Notes          string    `json:"notes,omitempty"`
	PreparedQty    int       `json:"prepared_qty"`
}

// LineTotalCents returns unit price times quantity.
func (i OrderItem) LineTotalCents() int64 {
	return i.UnitPriceCents * int64(i.Qty)
}

// OrderMetadata records what was applied on the order's behalf.
type OrderMetadata struct {
	InventoryChanges    []InventoryChange   `json:"inventory_changes,omitempty"`
	InventoryRestored   bool                `json:"inventory_restored"`
	InventoryRestoredAt *time.Time          `json:"inventory_restored_at,omitempty"`
	AutoPrepared        []uuid.UUID         `json:"auto_prepared,omitempty"`
	ReconciliationFlag  *ReconciliationFlag `json:"reconciliation_flag,omitempty"`
}

// InventoryChange is one decrement taken from one inventory record.
type InventoryChange struct {
	RecordID  uuid.UUID `json:"record_id"`
	ProductID uuid.UUID `json:"product_id"`
	Location  string    `json:"location"`
	QtyTaken  int       `json:"qty_taken"`
	Before    int       `json:"before"`
	After     int       `json:"after"`
}

// ReconciliationFlag marks an order left inconsistent by the fallback path.
type ReconciliationFlag struct {
	Reason    string    `json:"reason"`
	FlaggedAt time.Time `json:"flagged_at"`
}

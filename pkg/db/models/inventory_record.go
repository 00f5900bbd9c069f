package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultInventoryLocation names the record provisioned for untouched products.
const DefaultInventoryLocation = "Main"

// InventoryRecord holds the stock of one product at one location.
type InventoryRecord struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ProductID uuid.UUID `gorm:"column:product_id;type:uuid;not null;uniqueIndex:ux_inventory_records_product_location,priority:1"`
	Location  string    `gorm:"column:location;not null;uniqueIndex:ux_inventory_records_product_location,priority:2"`
	Quantity  int       `gorm:"column:quantity;not null;check:chk_inventory_records_quantity,quantity >= 0"`
	Active    bool      `gorm:"column:active;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *InventoryRecord) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Location == "" {
		r.Location = DefaultInventoryLocation
	}
	return nil
}

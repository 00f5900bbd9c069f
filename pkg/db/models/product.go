package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbtypes "github.com/angelmondragon/canteen-backend/pkg/db/types"
)

// Product is a sellable menu item. Orders snapshot its name, price and
// allergens so later edits never reach historical orders.
type Product struct {
	ID             uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	Name           string                 `gorm:"column:name;not null"`
	Category       string                 `gorm:"column:category;not null;index"`
	PriceCents     int64                  `gorm:"column:price_cents;not null"`
	Available      bool                   `gorm:"column:available;not null"`
	Allergens      dbtypes.JSON[[]string] `gorm:"column:allergens"`
	AvailableFrom  *string                `gorm:"column:available_from"`
	AvailableUntil *string                `gorm:"column:available_until"`
	Inventory      []InventoryRecord      `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// OrderableAt reports whether the product can be ordered at t. The optional
// window is expressed as "HH:MM" wall-clock bounds in t's location; a window
// whose end precedes its start wraps past midnight.
func (p Product) OrderableAt(t time.Time) (bool, error) {
	if !p.Available {
		return false, nil
	}
	if p.AvailableFrom == nil && p.AvailableUntil == nil {
		return true, nil
	}
	minute := t.Hour()*60 + t.Minute()
	from, until := 0, 24*60
	var err error
	if p.AvailableFrom != nil {
		if from, err = parseClock(*p.AvailableFrom); err != nil {
			return false, err
		}
	}
	if p.AvailableUntil != nil {
		if until, err = parseClock(*p.AvailableUntil); err != nil {
			return false, err
		}
	}
	if from <= until {
		return minute >= from && minute < until, nil
	}
	return minute >= from || minute < until, nil
}

func parseClock(value string) (int, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("invalid availability time %q: %w", value, err)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

package refunds

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/canteen-backend/internal/inventory"
	"github.com/angelmondragon/canteen-backend/internal/uow"
	"github.com/angelmondragon/canteen-backend/pkg/db/models"
)

// RefundInput credits a user and, when OrderRef names an order, returns its
// stock. OrderRef is an order id or pickup code.
type RefundInput struct {
	AdminID     uuid.UUID
	UserRef     string
	AmountCents int64
	Note        string
	OrderRef    string
}

type RefundResult struct {
	User              *models.User            `json:"user"`
	Transaction       *models.Transaction     `json:"transaction,omitempty"`
	Order             *models.Order           `json:"order,omitempty"`
	OrderFound        bool                    `json:"order_found"`
	InventoryRestored []inventory.Restoration `json:"inventory_restored"`
	Warnings          []uow.Warning           `json:"warnings,omitempty"`
}

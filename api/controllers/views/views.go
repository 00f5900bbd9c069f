// Package views maps persisted models onto the JSON shapes the API returns.
// Amounts render as decimal strings; storage keeps integer cents.
package views

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/canteen-backend/internal/inventory"
	"github.com/angelmondragon/canteen-backend/internal/uow"
	"github.com/angelmondragon/canteen-backend/pkg/db/models"
	"github.com/angelmondragon/canteen-backend/pkg/enums"
	"github.com/angelmondragon/canteen-backend/pkg/money"
)

type OrderItem struct {
	ProductID   uuid.UUID    `json:"product_id"`
	Name        string       `json:"name"`
	Category    string       `json:"category"`
	UnitPrice   money.Amount `json:"unit_price"`
	Allergens   []string     `json:"allergens,omitempty"`
	Qty         int          `json:"qty"`
	Notes       string       `json:"notes,omitempty"`
	PreparedQty int          `json:"prepared_qty"`
	LineTotal   money.Amount `json:"line_total"`
}

type Order struct {
	ID                 uuid.UUID                  `json:"id"`
	Code               string                     `json:"code"`
	Status             enums.OrderStatus          `json:"status"`
	Total              money.Amount               `json:"total"`
	Items              []OrderItem                `json:"items"`
	UserID             *uuid.UUID                 `json:"user_id,omitempty"`
	External           bool                       `json:"external"`
	PreparedBy         *uuid.UUID                 `json:"prepared_by,omitempty"`
	IssuedBy           *uuid.UUID                 `json:"issued_by,omitempty"`
	PrepStationID      *string                    `json:"prep_station_id,omitempty"`
	OrderingWindowID   *string                    `json:"ordering_window_id,omitempty"`
	InventoryRestored  bool                       `json:"inventory_restored"`
	ReconciliationFlag *models.ReconciliationFlag `json:"reconciliation_flag,omitempty"`
	ExpiresAt          *time.Time                 `json:"expires_at,omitempty"`
	CreatedAt          time.Time                  `json:"created_at"`
}

type Transaction struct {
	ID            uuid.UUID             `json:"id"`
	Type          enums.TransactionType `json:"type"`
	Amount        money.Amount          `json:"amount"`
	BalanceBefore *money.Amount         `json:"balance_before,omitempty"`
	BalanceAfter  *money.Amount         `json:"balance_after,omitempty"`
	UserID        *uuid.UUID            `json:"user_id,omitempty"`
	OrderID       *uuid.UUID            `json:"order_id,omitempty"`
	ActorID       *uuid.UUID            `json:"actor_id,omitempty"`
	Note          *string               `json:"note,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
}

type User struct {
	ID                 uuid.UUID      `json:"id"`
	Name               string         `json:"name"`
	RegistrationNumber *string        `json:"registration_number,omitempty"`
	Role               enums.UserRole `json:"role"`
	Balance            money.Amount   `json:"balance"`
}

type ExternalCode struct {
	Code         string     `json:"code"`
	OrderID      uuid.UUID  `json:"order_id"`
	IssuedToName *string    `json:"issued_to_name,omitempty"`
	ExpiresAt    time.Time  `json:"expires_at"`
	Used         bool       `json:"used"`
	UsedAt       *time.Time `json:"used_at,omitempty"`
}

// Warning mirrors a tolerated partial failure so clients can surface it.
type Warning struct {
	Step    string `json:"step"`
	Message string `json:"message"`
}

func NewOrder(order *models.Order) *Order {
	if order == nil {
		return nil
	}
	items := make([]OrderItem, 0, len(order.Items.Data))
	for _, item := range order.Items.Data {
		items = append(items, OrderItem{
			ProductID:   item.ProductID,
			Name:        item.Name,
			Category:    item.Category,
			UnitPrice:   money.Amount(item.UnitPriceCents),
			Allergens:   item.Allergens,
			Qty:         item.Qty,
			Notes:       item.Notes,
			PreparedQty: item.PreparedQty,
			LineTotal:   money.Amount(item.LineTotalCents()),
		})
	}
	meta := order.Metadata.Data
	return &Order{
		ID:                 order.ID,
		Code:               order.Code,
		Status:             order.Status,
		Total:              money.Amount(order.TotalCents),
		Items:              items,
		UserID:             order.UserID,
		External:           order.External,
		PreparedBy:         order.PreparedBy,
		IssuedBy:           order.IssuedBy,
		PrepStationID:      order.PrepStationID,
		OrderingWindowID:   order.OrderingWindowID,
		InventoryRestored:  meta.InventoryRestored,
		ReconciliationFlag: meta.ReconciliationFlag,
		ExpiresAt:          order.ExpiresAt,
		CreatedAt:          order.CreatedAt,
	}
}

func NewTransaction(tx *models.Transaction) *Transaction {
	if tx == nil {
		return nil
	}
	return &Transaction{
		ID:            tx.ID,
		Type:          tx.Type,
		Amount:        money.Amount(tx.AmountCents),
		BalanceBefore: amountPtr(tx.BalanceBefore),
		BalanceAfter:  amountPtr(tx.BalanceAfter),
		UserID:        tx.UserID,
		OrderID:       tx.OrderID,
		ActorID:       tx.ActorID,
		Note:          tx.Note,
		CreatedAt:     tx.CreatedAt,
	}
}

func NewUser(user *models.User) *User {
	if user == nil {
		return nil
	}
	return &User{
		ID:                 user.ID,
		Name:               user.Name,
		RegistrationNumber: user.RegistrationNumber,
		Role:               user.Role,
		Balance:            money.Amount(user.BalanceCents),
	}
}

func NewExternalCode(code *models.ExternalCode) *ExternalCode {
	if code == nil {
		return nil
	}
	return &ExternalCode{
		Code:         code.Code,
		OrderID:      code.OrderID,
		IssuedToName: code.IssuedToName,
		ExpiresAt:    code.ExpiresAt,
		Used:         code.Used,
		UsedAt:       code.UsedAt,
	}
}

func NewWarnings(warnings []uow.Warning) []Warning {
	if len(warnings) == 0 {
		return nil
	}
	out := make([]Warning, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, Warning{Step: w.Step, Message: w.Message})
	}
	return out
}

// Restorations passes inventory restorations through unchanged; the ledger
// type already carries its JSON shape.
func Restorations(restored []inventory.Restoration) []inventory.Restoration {
	if restored == nil {
		return []inventory.Restoration{}
	}
	return restored
}

func amountPtr(cents *int64) *money.Amount {
	if cents == nil {
		return nil
	}
	a := money.Amount(*cents)
	return &a
}

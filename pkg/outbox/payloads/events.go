package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/canteen-backend/pkg/enums"
)

// InventoryMovement is one record-level stock change carried in events.
type InventoryMovement struct {
	RecordID  uuid.UUID `json:"record_id"`
	ProductID uuid.UUID `json:"product_id"`
	Qty       int       `json:"qty"`
	Heuristic bool      `json:"heuristic,omitempty"`
}

// OrderPlacedEvent is emitted once the order, stock and balance are settled.
type OrderPlacedEvent struct {
	OrderID      uuid.UUID           `json:"order_id"`
	Code         string              `json:"code"`
	UserID       *uuid.UUID          `json:"user_id,omitempty"`
	External     bool                `json:"external"`
	TotalCents   int64               `json:"total_cents"`
	Status       enums.OrderStatus   `json:"status"`
	Inventory    []InventoryMovement `json:"inventory"`
	AutoPrepared []uuid.UUID         `json:"auto_prepared,omitempty"`
}

// OrderStatusChangedEvent reports a lifecycle move.
type OrderStatusChangedEvent struct {
	OrderID uuid.UUID         `json:"order_id"`
	Code    string            `json:"code"`
	From    enums.OrderStatus `json:"from"`
	To      enums.OrderStatus `json:"to"`
	ActorID *uuid.UUID        `json:"actor_id,omitempty"`
}

// OrderRefundedEvent reports a refund credited against a user.
type OrderRefundedEvent struct {
	OrderID     *uuid.UUID          `json:"order_id,omitempty"`
	UserID      uuid.UUID           `json:"user_id"`
	AmountCents int64               `json:"amount_cents"`
	Restored    []InventoryMovement `json:"restored,omitempty"`
}

// OrderReconciliationFlaggedEvent asks an operator to look at an order left
// inconsistent by the non-transactional path.
type OrderReconciliationFlaggedEvent struct {
	OrderID uuid.UUID `json:"order_id"`
	Code    string    `json:"code"`
	Reason  string    `json:"reason"`
}

// ExternalOrderIssuedEvent reports a walk-up order and its pickup code.
type ExternalOrderIssuedEvent struct {
	OrderID    uuid.UUID  `json:"order_id"`
	Code       string     `json:"code"`
	IssuedBy   *uuid.UUID `json:"issued_by,omitempty"`
	TotalCents int64      `json:"total_cents"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

// ExternalCodeRedeemedEvent reports a pickup code being consumed.
type ExternalCodeRedeemedEvent struct {
	OrderID    uuid.UUID `json:"order_id"`
	Code       string    `json:"code"`
	RedeemedAt time.Time `json:"redeemed_at"`
}

// BalanceChangedEvent mirrors a balance ledger entry.
type BalanceChangedEvent struct {
	UserID        uuid.UUID             `json:"user_id"`
	TransactionID uuid.UUID             `json:"transaction_id"`
	Type          enums.TransactionType `json:"type"`
	AmountCents   int64                 `json:"amount_cents"`
	BalanceBefore int64                 `json:"balance_before"`
	BalanceAfter  int64                 `json:"balance_after"`
}

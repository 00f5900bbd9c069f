package placement

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/canteen-backend/internal/uow"
	"github.com/angelmondragon/canteen-backend/pkg/db/models"
)

// ItemInput is one requested cart line.
type ItemInput struct {
	ProductID uuid.UUID
	Qty       int
	Notes     string
}

// PlaceInput describes an order. UserRef is a user id or registration number
// and is ignored for external orders. With TrustBalanceCheck unset the
// pre-flight balance comparison is skipped and only the conditional debit
// guards the balance.
type PlaceInput struct {
	UserRef           string
	Items             []ItemInput
	PrepStationID     *string
	OrderingWindowID  *string
	External          bool
	IssuedBy          *uuid.UUID
	TrustBalanceCheck bool
	ExpiresAt         *time.Time
}

// PlaceResult is the created order and the ledger entry that settled it.
type PlaceResult struct {
	Order       *models.Order       `json:"order"`
	Transaction *models.Transaction `json:"transaction,omitempty"`
	Warnings    []uow.Warning       `json:"warnings,omitempty"`
	Mode        uow.Mode            `json:"-"`
}

// ExternalInput issues a walk-up order paid outside the balance ledger.
type ExternalInput struct {
	AdminID          uuid.UUID
	Items            []ItemInput
	IssuedToName     string
	ExpiresInMinutes int
	PrepStationID    *string
}

// ExternalResult is the order, its pickup code and a QR rendering of it.
type ExternalResult struct {
	Order        *models.Order        `json:"order"`
	ExternalCode *models.ExternalCode `json:"external_code"`
	Transaction  *models.Transaction  `json:"transaction,omitempty"`
	QRCodePNG    []byte               `json:"qr_code_png,omitempty"`
	Warnings     []uow.Warning        `json:"warnings,omitempty"`
}

// CodeView pairs a pickup code with the order it releases.
type CodeView struct {
	ExternalCode *models.ExternalCode `json:"external_code"`
	Order        *models.Order        `json:"order"`
}

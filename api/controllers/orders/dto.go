package orders

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/canteen-backend/api/controllers/views"
	"github.com/angelmondragon/canteen-backend/api/validators"
	"github.com/angelmondragon/canteen-backend/internal/placement"
	"github.com/angelmondragon/canteen-backend/pkg/enums"
)

const maxNotesLength = 280

type ItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Qty       int       `json:"qty" validate:"gt=0"`
	Notes     string    `json:"notes"`
}

type PlaceRequest struct {
	UserRef           string        `json:"user_ref"`
	Items             []ItemRequest `json:"items" validate:"required,min=1,dive"`
	PrepStationID     *string       `json:"prep_station_id"`
	OrderingWindowID  *string       `json:"ordering_window_id"`
	TrustBalanceCheck bool          `json:"trust_balance_check"`
}

func (r PlaceRequest) itemInputs() []placement.ItemInput {
	return ItemInputs(r.Items)
}

// ItemInputs converts request lines into placement lines.
func ItemInputs(items []ItemRequest) []placement.ItemInput {
	out := make([]placement.ItemInput, 0, len(items))
	for _, item := range items {
		out = append(out, placement.ItemInput{
			ProductID: item.ProductID,
			Qty:       item.Qty,
			Notes:     validators.SanitizeString(item.Notes, maxNotesLength),
		})
	}
	return out
}

type PlaceResponse struct {
	Order       *views.Order       `json:"order"`
	Transaction *views.Transaction `json:"transaction,omitempty"`
	Warnings    []views.Warning    `json:"warnings,omitempty"`
}

type TransitionRequest struct {
	Status string `json:"status" validate:"required"`
}

type TransitionResponse struct {
	Order    *views.Order      `json:"order"`
	From     enums.OrderStatus `json:"from"`
	Warnings []views.Warning   `json:"warnings,omitempty"`
}

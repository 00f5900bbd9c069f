package refunds

import (
	"context"
	"net/http"

	"github.com/angelmondragon/canteen-backend/api/controllers/views"
	"github.com/angelmondragon/canteen-backend/api/middleware"
	"github.com/angelmondragon/canteen-backend/api/responses"
	"github.com/angelmondragon/canteen-backend/api/validators"
	"github.com/angelmondragon/canteen-backend/internal/inventory"
	internalrefunds "github.com/angelmondragon/canteen-backend/internal/refunds"
	pkgerrors "github.com/angelmondragon/canteen-backend/pkg/errors"
	"github.com/angelmondragon/canteen-backend/pkg/logger"
	"github.com/angelmondragon/canteen-backend/pkg/money"
)

const maxNoteLength = 500

type Refunder interface {
	Refund(ctx context.Context, input internalrefunds.RefundInput) (*internalrefunds.RefundResult, error)
}

// Request credits a user; order_ref optionally names the order (id or pickup
// code) whose stock should go back on the shelf.
type Request struct {
	UserRef  string       `json:"user_ref" validate:"required"`
	Amount   money.Amount `json:"amount" validate:"gt=0"`
	Note     string       `json:"note"`
	OrderRef string       `json:"order_ref"`
}

type Response struct {
	User              *views.User             `json:"user"`
	Transaction       *views.Transaction      `json:"transaction,omitempty"`
	Order             *views.Order            `json:"order,omitempty"`
	OrderFound        bool                    `json:"order_found"`
	InventoryRestored []inventory.Restoration `json:"inventory_restored"`
	Warnings          []views.Warning         `json:"warnings,omitempty"`
}

func Refund(svc Refunder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refund service unavailable"))
			return
		}
		adminID, err := middleware.ActorID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req Request
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Refund(r.Context(), internalrefunds.RefundInput{
			AdminID:     adminID,
			UserRef:     req.UserRef,
			AmountCents: req.Amount.Cents(),
			Note:        validators.SanitizeString(req.Note, maxNoteLength),
			OrderRef:    req.OrderRef,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteCreated(w, Response{
			User:              views.NewUser(result.User),
			Transaction:       views.NewTransaction(result.Transaction),
			Order:             views.NewOrder(result.Order),
			OrderFound:        result.OrderFound,
			InventoryRestored: views.Restorations(result.InventoryRestored),
			Warnings:          views.NewWarnings(result.Warnings),
		})
	}
}

package inventory

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/canteen-backend/api/responses"
	"github.com/angelmondragon/canteen-backend/api/validators"
	pkgerrors "github.com/angelmondragon/canteen-backend/pkg/errors"
	"github.com/angelmondragon/canteen-backend/pkg/logger"
)

type Totaler interface {
	TotalQuantity(ctx context.Context, productID uuid.UUID) (int, error)
}

type TotalResponse struct {
	ProductID     uuid.UUID `json:"product_id"`
	TotalQuantity int       `json:"total_quantity"`
}

// Total sums the active stock of a product across every location.
func Total(ledger Totaler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ledger == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory ledger unavailable"))
			return
		}
		productID, err := validators.UUIDParam(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		total, err := ledger.TotalQuantity(r.Context(), productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum inventory"))
			return
		}
		responses.WriteSuccess(w, TotalResponse{ProductID: productID, TotalQuantity: total})
	}
}

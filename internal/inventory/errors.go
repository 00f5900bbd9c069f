package inventory

import (
	"fmt"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/canteen-backend/pkg/errors"
)

// StockShortfall is the detail payload of an insufficient stock error.
type StockShortfall struct {
	ProductID uuid.UUID `json:"product_id"`
	Name      string    `json:"name,omitempty"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
}

func insufficientStock(req DeductRequest, available int) *pkgerrors.Error {
	label := req.Name
	if label == "" {
		label = req.ProductID.String()
	}
	if available < 0 {
		available = 0
	}
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, fmt.Sprintf("insufficient stock for %s", label)).
		WithDetails(StockShortfall{
			ProductID: req.ProductID,
			Name:      req.Name,
			Requested: req.Qty,
			Available: available,
		})
}

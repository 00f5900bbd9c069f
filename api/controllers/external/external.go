package external

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/canteen-backend/api/controllers/orders"
	"github.com/angelmondragon/canteen-backend/api/controllers/views"
	"github.com/angelmondragon/canteen-backend/api/middleware"
	"github.com/angelmondragon/canteen-backend/api/responses"
	"github.com/angelmondragon/canteen-backend/api/validators"
	"github.com/angelmondragon/canteen-backend/internal/placement"
	pkgerrors "github.com/angelmondragon/canteen-backend/pkg/errors"
	"github.com/angelmondragon/canteen-backend/pkg/logger"
)

const maxIssuedToNameLength = 120

// Service is the external-order surface of the placement engine.
type Service interface {
	IssueExternal(ctx context.Context, input placement.ExternalInput) (*placement.ExternalResult, error)
	LookupExternalCode(ctx context.Context, code string) (*placement.CodeView, error)
	RedeemExternalCode(ctx context.Context, code string, actorID *uuid.UUID) (*placement.CodeView, error)
}

type IssueRequest struct {
	Items            []orders.ItemRequest `json:"items" validate:"required,min=1,dive"`
	IssuedToName     string               `json:"issued_to_name"`
	ExpiresInMinutes int                  `json:"expires_in_minutes" validate:"gte=0"`
	PrepStationID    *string              `json:"prep_station_id"`
}

type IssueResponse struct {
	Order        *views.Order        `json:"order"`
	ExternalCode *views.ExternalCode `json:"external_code"`
	Transaction  *views.Transaction  `json:"transaction,omitempty"`
	QRCodePNG    string              `json:"qr_code_png,omitempty"`
	Warnings     []views.Warning     `json:"warnings,omitempty"`
}

type CodeResponse struct {
	ExternalCode *views.ExternalCode `json:"external_code"`
	Order        *views.Order        `json:"order"`
}

// Issue places a walk-up order paid outside the balance ledger and returns
// its pickup code with a base64 PNG QR rendering.
func Issue(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "placement service unavailable"))
			return
		}
		adminID, err := middleware.ActorID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req IssueRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.IssueExternal(r.Context(), placement.ExternalInput{
			AdminID:          adminID,
			Items:            orders.ItemInputs(req.Items),
			IssuedToName:     validators.SanitizeString(req.IssuedToName, maxIssuedToNameLength),
			ExpiresInMinutes: req.ExpiresInMinutes,
			PrepStationID:    req.PrepStationID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := IssueResponse{
			Order:        views.NewOrder(result.Order),
			ExternalCode: views.NewExternalCode(result.ExternalCode),
			Transaction:  views.NewTransaction(result.Transaction),
			Warnings:     views.NewWarnings(result.Warnings),
		}
		if len(result.QRCodePNG) > 0 {
			resp.QRCodePNG = base64.StdEncoding.EncodeToString(result.QRCodePNG)
		}
		responses.WriteCreated(w, resp)
	}
}

// Lookup shows a pickup code and its order if it is still redeemable.
func Lookup(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "placement service unavailable"))
			return
		}
		code, err := validators.StringParam(r, "code")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.LookupExternalCode(r.Context(), code)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, codeResponse(view))
	}
}

// Redeem consumes a pickup code at the counter. A code redeems exactly once.
func Redeem(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "placement service unavailable"))
			return
		}
		code, err := validators.StringParam(r, "code")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actorID, err := middleware.ActorID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.RedeemExternalCode(r.Context(), code, &actorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, codeResponse(view))
	}
}

func codeResponse(view *placement.CodeView) CodeResponse {
	if view == nil {
		return CodeResponse{}
	}
	return CodeResponse{
		ExternalCode: views.NewExternalCode(view.ExternalCode),
		Order:        views.NewOrder(view.Order),
	}
}

package accounts

import (
	"context"
	"net/http"

	"github.com/angelmondragon/canteen-backend/api/controllers/views"
	"github.com/angelmondragon/canteen-backend/api/middleware"
	"github.com/angelmondragon/canteen-backend/api/responses"
	"github.com/angelmondragon/canteen-backend/api/validators"
	internalaccounts "github.com/angelmondragon/canteen-backend/internal/accounts"
	pkgerrors "github.com/angelmondragon/canteen-backend/pkg/errors"
	"github.com/angelmondragon/canteen-backend/pkg/logger"
	"github.com/angelmondragon/canteen-backend/pkg/money"
)

const maxNoteLength = 500

type Service interface {
	TopUp(ctx context.Context, input internalaccounts.TopUpInput) (*internalaccounts.AccountResult, error)
	Withdraw(ctx context.Context, input internalaccounts.WithdrawInput) (*internalaccounts.AccountResult, error)
}

type TopUpRequest struct {
	UserRef string       `json:"user_ref" validate:"required"`
	Amount  money.Amount `json:"amount" validate:"gt=0"`
	Note    string       `json:"note"`
}

type WithdrawRequest struct {
	UserRef       string       `json:"user_ref" validate:"required"`
	Amount        money.Amount `json:"amount" validate:"gt=0"`
	Note          string       `json:"note"`
	AllowNegative bool         `json:"allow_negative"`
}

type Response struct {
	User        *views.User        `json:"user"`
	Transaction *views.Transaction `json:"transaction,omitempty"`
	Warnings    []views.Warning    `json:"warnings,omitempty"`
}

func TopUp(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "accounts service unavailable"))
			return
		}
		adminID, err := middleware.ActorID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req TopUpRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.TopUp(r.Context(), internalaccounts.TopUpInput{
			AdminID:     adminID,
			UserRef:     req.UserRef,
			AmountCents: req.Amount.Cents(),
			Note:        validators.SanitizeString(req.Note, maxNoteLength),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, newResponse(result))
	}
}

func Withdraw(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "accounts service unavailable"))
			return
		}
		adminID, err := middleware.ActorID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req WithdrawRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Withdraw(r.Context(), internalaccounts.WithdrawInput{
			AdminID:       adminID,
			UserRef:       req.UserRef,
			AmountCents:   req.Amount.Cents(),
			Note:          validators.SanitizeString(req.Note, maxNoteLength),
			AllowNegative: req.AllowNegative,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, newResponse(result))
	}
}

func newResponse(result *internalaccounts.AccountResult) Response {
	return Response{
		User:        views.NewUser(result.User),
		Transaction: views.NewTransaction(result.Transaction),
		Warnings:    views.NewWarnings(result.Warnings),
	}
}

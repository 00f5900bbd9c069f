package orders

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/canteen-backend/api/controllers/views"
	"github.com/angelmondragon/canteen-backend/api/middleware"
	"github.com/angelmondragon/canteen-backend/api/responses"
	"github.com/angelmondragon/canteen-backend/api/validators"
	internalorders "github.com/angelmondragon/canteen-backend/internal/orders"
	"github.com/angelmondragon/canteen-backend/internal/placement"
	"github.com/angelmondragon/canteen-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/canteen-backend/pkg/errors"
	"github.com/angelmondragon/canteen-backend/pkg/logger"
)

type Placer interface {
	Place(ctx context.Context, input placement.PlaceInput) (*placement.PlaceResult, error)
}

type Transitioner interface {
	Transition(ctx context.Context, input internalorders.TransitionInput) (*internalorders.TransitionResult, error)
}

// Place creates an order for the caller. Staff may place on behalf of another
// account by naming it in user_ref.
func Place(svc Placer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "placement service unavailable"))
			return
		}

		actorID, err := middleware.ActorID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req PlaceRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userRef := actorID.String()
		if ref := strings.TrimSpace(req.UserRef); ref != "" && ref != userRef {
			if !enums.UserRole(middleware.RoleFromContext(r.Context())).IsStaff() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "only staff may order on behalf of another user"))
				return
			}
			userRef = ref
		}

		input := placement.PlaceInput{
			UserRef:           userRef,
			Items:             req.itemInputs(),
			PrepStationID:     req.PrepStationID,
			OrderingWindowID:  req.OrderingWindowID,
			TrustBalanceCheck: req.TrustBalanceCheck,
		}
		if userRef != actorID.String() {
			input.IssuedBy = &actorID
		}

		result, err := svc.Place(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteCreated(w, PlaceResponse{
			Order:       views.NewOrder(result.Order),
			Transaction: views.NewTransaction(result.Transaction),
			Warnings:    views.NewWarnings(result.Warnings),
		})
	}
}

// Transition moves an order along its lifecycle on behalf of canteen staff.
func Transition(svc Transitioner, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := validators.UUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actorID, err := middleware.ActorID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req TransitionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		target, err := enums.ParseOrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status").WithDetails(map[string]string{"status": "is invalid"}))
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, orderID.String())
		}
		result, err := svc.Transition(ctx, internalorders.TransitionInput{
			OrderID: orderID,
			Target:  target,
			ActorID: uuidPtr(actorID),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, TransitionResponse{
			Order:    views.NewOrder(result.Order),
			From:     result.From,
			Warnings: views.NewWarnings(result.Warnings),
		})
	}
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	return &id
}

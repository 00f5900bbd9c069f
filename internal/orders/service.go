package orders

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/canteen-backend/internal/audit"
	"github.com/angelmondragon/canteen-backend/internal/uow"
	"github.com/angelmondragon/canteen-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/canteen-backend/pkg/db/types"
	"github.com/angelmondragon/canteen-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/canteen-backend/pkg/errors"
	"github.com/angelmondragon/canteen-backend/pkg/outbox"
	"github.com/angelmondragon/canteen-backend/pkg/outbox/payloads"
)

const (
	stepAudit  = "audit"
	stepOutbox = "outbox"
)

type unitRunner interface {
	Do(ctx context.Context, name string, fn func(ctx context.Context, w uow.Work) error) (uow.Report, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service defines order lifecycle operations beyond repository reads.
type Service interface {
	Transition(ctx context.Context, input TransitionInput) (*TransitionResult, error)
}

type service struct {
	repo   Repository
	units  unitRunner
	audit  audit.Recorder
	outbox outboxPublisher
}

// NewService builds the lifecycle service with the required dependencies.
func NewService(repo Repository, units unitRunner, auditor audit.Recorder, outbox outboxPublisher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if units == nil {
		return nil, fmt.Errorf("unit of work runner required")
	}
	if auditor == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{repo: repo, units: units, audit: auditor, outbox: outbox}, nil
}

func (s *service) Transition(ctx context.Context, input TransitionInput) (*TransitionResult, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown order status %q", input.Target))
	}
	if input.Target == enums.OrderStatusRefunded {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "orders are refunded through the refund endpoint")
	}

	result := &TransitionResult{}
	report, err := s.units.Do(ctx, "order_transition", func(ctx context.Context, w uow.Work) error {
		order, err := s.repo.WithTx(w.Lock()).FindByID(ctx, input.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if !order.Status.CanTransitionTo(input.Target) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot move order from %s to %s", order.Status, input.Target)).
				WithDetails(map[string]any{"from": order.Status, "to": input.Target})
		}

		updates := map[string]any{"status": input.Target}
		if recordsPreparer(input.Target) && order.PreparedBy == nil && input.ActorID != nil {
			updates["prepared_by"] = *input.ActorID
		}
		if input.Target == enums.OrderStatusReady {
			items := order.Items.Data
			for i := range items {
				items[i].PreparedQty = items[i].Qty
			}
			updates["items"] = dbtypes.NewJSON(items)
		}

		repo := s.repo.WithTx(w.DB())
		ok, err := repo.UpdateStatus(ctx, order.ID, order.Status, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed concurrently")
		}
		updated, err := repo.FindByID(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
		if updated == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		result.Order = updated
		result.From = order.Status

		s.annotate(ctx, w, updated, order.Status, input.ActorID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Warnings = report.Warnings
	return result, nil
}

func (s *service) annotate(ctx context.Context, w uow.Work, order *models.Order, from enums.OrderStatus, actorID *uuid.UUID) {
	w.Annotate(ctx, stepAudit, func(db *gorm.DB) error {
		return s.audit.Record(ctx, db, audit.Entry{
			ActorID:    actorID,
			Action:     enums.AuditActionOrderStatusChanged,
			TargetType: enums.AuditTargetOrder,
			TargetID:   order.ID,
			Payload: map[string]any{
				"from": from,
				"to":   order.Status,
			},
		})
	})

	var actor *outbox.ActorRef
	if actorID != nil {
		actor = &outbox.ActorRef{UserID: *actorID}
	}
	w.Annotate(ctx, stepOutbox, func(db *gorm.DB) error {
		return s.outbox.Emit(ctx, db, outbox.DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actor,
			Data: payloads.OrderStatusChangedEvent{
				OrderID: order.ID,
				Code:    order.Code,
				From:    from,
				To:      order.Status,
				ActorID: actorID,
			},
		})
	})
}

func recordsPreparer(status enums.OrderStatus) bool {
	return status == enums.OrderStatusReady || status == enums.OrderStatusCollected
}

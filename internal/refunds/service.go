package refunds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/canteen-backend/internal/accounts"
	"github.com/angelmondragon/canteen-backend/internal/audit"
	"github.com/angelmondragon/canteen-backend/internal/balance"
	"github.com/angelmondragon/canteen-backend/internal/inventory"
	"github.com/angelmondragon/canteen-backend/internal/orders"
	"github.com/angelmondragon/canteen-backend/internal/uow"
	"github.com/angelmondragon/canteen-backend/pkg/db/models"
	"github.com/angelmondragon/canteen-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/canteen-backend/pkg/errors"
	"github.com/angelmondragon/canteen-backend/pkg/logger"
	"github.com/angelmondragon/canteen-backend/pkg/outbox"
	"github.com/angelmondragon/canteen-backend/pkg/outbox/payloads"
)

const (
	stepOrderLookup      = "order_lookup"
	stepHeuristicRestore = "heuristic_restore"
	stepOrderUpdate      = "order_update"
	stepRestoreClaim     = "inventory_restore_claim"
	stepAudit            = "audit"
	stepOutbox           = "outbox"
)

type unitRunner interface {
	Do(ctx context.Context, name string, fn func(ctx context.Context, w uow.Work) error) (uow.Report, error)
}

type refundRecorder interface {
	ObserveRefund(mode, outcome string)
}

type ServiceParams struct {
	Units     unitRunner
	Orders    orders.Repository
	Inventory *inventory.Ledger
	Balances  *balance.Ledger
	Audit     audit.Recorder
	Events    outbox.Emitter
	Metrics   refundRecorder
	Logger    *logger.Logger
	Now       func() time.Time
}

// Service reverses charges. Stock of a referenced order is returned at most
// once however many refunds name it.
type Service struct {
	units     unitRunner
	orders    orders.Repository
	inventory *inventory.Ledger
	balances  *balance.Ledger
	audit     audit.Recorder
	events    outbox.Emitter
	metrics   refundRecorder
	logg      *logger.Logger
	now       func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Units == nil:
		return nil, errors.New("unit of work runner required")
	case params.Orders == nil:
		return nil, errors.New("orders repository required")
	case params.Inventory == nil:
		return nil, errors.New("inventory ledger required")
	case params.Balances == nil:
		return nil, errors.New("balance ledger required")
	case params.Audit == nil:
		return nil, errors.New("audit recorder required")
	case params.Events == nil:
		return nil, errors.New("outbox emitter required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		units:     params.Units,
		orders:    params.Orders,
		inventory: params.Inventory,
		balances:  params.Balances,
		audit:     params.Audit,
		events:    params.Events,
		metrics:   params.Metrics,
		logg:      params.Logger,
		now:       now,
	}, nil
}

func (s *Service) Refund(ctx context.Context, input RefundInput) (*RefundResult, error) {
	if input.AdminID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "admin id required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	result := &RefundResult{InventoryRestored: []inventory.Restoration{}}
	report, err := s.units.Do(ctx, "refund", func(ctx context.Context, w uow.Work) error {
		return s.refund(ctx, w, input, result)
	})
	s.observe(report.Mode, err)
	if err != nil {
		if s.logg != nil {
			s.logg.WarnErr(s.logg.WithField(ctx, "order_ref", input.OrderRef), "refund failed", err)
		}
		return nil, err
	}
	result.Warnings = append(report.Warnings, result.Warnings...)
	s.logRefund(ctx, result)
	return result, nil
}

func (s *Service) refund(ctx context.Context, w uow.Work, input RefundInput, result *RefundResult) error {
	user, err := accounts.ResolveUser(ctx, w.DB(), input.UserRef)
	if err != nil {
		return err
	}

	order, err := s.orders.WithTx(w.Lock()).FindByRef(ctx, input.OrderRef)
	if err != nil {
		if w.Transactional() {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		w.Warn(ctx, stepOrderLookup, err.Error())
		order = nil
	}
	if order != nil {
		result.OrderFound = true
		if err := s.reverseOrder(ctx, w, order, result); err != nil {
			return err
		}
		result.Order = order
	}

	var orderID *uuid.UUID
	if order != nil {
		orderID = &order.ID
	}
	movement, err := s.balances.Credit(ctx, w, balance.CreditInput{
		UserID:      user.ID,
		AmountCents: input.AmountCents,
		Type:        enums.TransactionTypeRefund,
		OrderID:     orderID,
		ActorID:     &input.AdminID,
		Note:        input.Note,
	})
	if err != nil {
		return err
	}
	user.BalanceCents = movement.After
	result.User = user
	result.Transaction = movement.Transaction

	s.record(ctx, w, input, user, orderID, result)
	return nil
}

// reverseOrder returns the order's stock unless an earlier refund already
// did, then moves the order to refunded.
func (s *Service) reverseOrder(ctx context.Context, w uow.Work, order *models.Order, result *RefundResult) error {
	claimed, err := s.claimRestore(ctx, w, order)
	if err != nil {
		return err
	}
	if claimed {
		restored, err := s.restore(ctx, w, order)
		if err != nil {
			return err
		}
		result.InventoryRestored = restored
		for _, r := range restored {
			if r.Heuristic {
				result.Warnings = append(result.Warnings, uow.Warning{
					Step:    stepHeuristicRestore,
					Message: fmt.Sprintf("product %s restored to %s without provenance", r.ProductID, r.Location),
				})
			}
		}
	}

	if order.Status == enums.OrderStatusCancelled || order.Status == enums.OrderStatusRefunded {
		return nil
	}
	from := order.Status
	return w.Settle(ctx, stepOrderUpdate, func(db *gorm.DB) error {
		ok, err := s.orders.WithTx(db).UpdateStatus(ctx, order.ID, from, map[string]any{"status": enums.OrderStatusRefunded})
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed during refund")
		}
		order.Status = enums.OrderStatusRefunded
		return nil
	})
}

// claimRestore wins the right to return the order's stock. The conditional
// update is the guard in both modes, so of two concurrent refunds only one
// restores.
func (s *Service) claimRestore(ctx context.Context, w uow.Work, order *models.Order) (bool, error) {
	if order.InventoryRestoredAt != nil || order.Metadata.Data.InventoryRestored {
		return false, nil
	}
	previous := order.Metadata.Data
	restoredAt := s.now().UTC()
	metadata := previous
	metadata.InventoryRestored = true
	metadata.InventoryRestoredAt = &restoredAt

	var claimed bool
	if err := w.Attempt(ctx, stepRestoreClaim, func(db *gorm.DB) error {
		ok, err := s.orders.WithTx(db).ClaimInventoryRestore(ctx, order.ID, metadata, restoredAt)
		claimed = ok
		return err
	}); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim inventory restore")
	}
	if !claimed {
		return false, nil
	}
	w.Compensate(stepRestoreClaim, func(ctx context.Context) error {
		return s.orders.ReleaseInventoryRestore(ctx, order.ID, previous)
	})
	order.Metadata.Data = metadata
	order.InventoryRestoredAt = &restoredAt
	return true, nil
}

// restore replays the recorded decrements. Orders without provenance put each
// line back on the product's largest record.
func (s *Service) restore(ctx context.Context, w uow.Work, order *models.Order) ([]inventory.Restoration, error) {
	if changes := order.Metadata.Data.InventoryChanges; len(changes) > 0 {
		return s.inventory.Restore(ctx, w, changes)
	}
	out := make([]inventory.Restoration, 0, len(order.Items.Data))
	for _, item := range order.Items.Data {
		if item.Qty <= 0 {
			continue
		}
		restoration, err := s.inventory.RestoreHeuristic(ctx, w, item.ProductID, item.Qty)
		if err != nil {
			if w.Transactional() {
				return out, err
			}
			w.Warn(ctx, stepHeuristicRestore, fmt.Sprintf("product %s: %v", item.ProductID, err))
			continue
		}
		out = append(out, *restoration)
	}
	return out, nil
}

func (s *Service) record(ctx context.Context, w uow.Work, input RefundInput, user *models.User, orderID *uuid.UUID, result *RefundResult) {
	movements := make([]payloads.InventoryMovement, 0, len(result.InventoryRestored))
	for _, r := range result.InventoryRestored {
		movements = append(movements, payloads.InventoryMovement{
			RecordID:  r.RecordID,
			ProductID: r.ProductID,
			Qty:       r.Qty,
			Heuristic: r.Heuristic,
		})
	}

	targetType, targetID := enums.AuditTargetUser, user.ID
	if orderID != nil {
		targetType, targetID = enums.AuditTargetOrder, *orderID
	}
	w.Annotate(ctx, stepAudit, func(db *gorm.DB) error {
		payload := map[string]any{
			"user_id":            user.ID.String(),
			"amount_cents":       input.AmountCents,
			"order_found":        result.OrderFound,
			"inventory_restored": result.InventoryRestored,
		}
		if note := strings.TrimSpace(input.Note); note != "" {
			payload["note"] = note
		}
		if ref := strings.TrimSpace(input.OrderRef); ref != "" {
			payload["order_ref"] = ref
		}
		return s.audit.Record(ctx, db, audit.Entry{
			ActorID:    &input.AdminID,
			Action:     enums.AuditActionOrderRefunded,
			TargetType: targetType,
			TargetID:   targetID,
			Payload:    payload,
		})
	})

	aggregateType, aggregateID := enums.AggregateUser, user.ID
	if orderID != nil {
		aggregateType, aggregateID = enums.AggregateOrder, *orderID
	}
	adminID := input.AdminID
	w.Annotate(ctx, stepOutbox, func(db *gorm.DB) error {
		return s.events.Emit(ctx, db, outbox.DomainEvent{
			EventType:     enums.EventOrderRefunded,
			AggregateType: aggregateType,
			AggregateID:   aggregateID,
			Actor:         &outbox.ActorRef{UserID: adminID},
			Data: payloads.OrderRefundedEvent{
				OrderID:     orderID,
				UserID:      user.ID,
				AmountCents: input.AmountCents,
				Restored:    movements,
			},
		})
	})
}

func (s *Service) observe(mode uow.Mode, err error) {
	if s.metrics == nil {
		return
	}
	if mode == "" {
		mode = uow.ModeTransactional
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		if typed := pkgerrors.As(err); typed != nil {
			outcome = strings.ToLower(string(typed.Code()))
		}
	}
	s.metrics.ObserveRefund(string(mode), outcome)
}

func (s *Service) logRefund(ctx context.Context, result *RefundResult) {
	if s.logg == nil {
		return
	}
	ctx = s.logg.WithUserID(ctx, result.User.ID.String())
	if result.Order != nil {
		ctx = s.logg.WithOrderID(ctx, result.Order.ID.String())
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_found":      result.OrderFound,
		"records_restored": len(result.InventoryRestored),
		"warnings":         len(result.Warnings),
		"balance_cents":    result.User.BalanceCents,
	})
	s.logg.Info(ctx, "refund applied")
}

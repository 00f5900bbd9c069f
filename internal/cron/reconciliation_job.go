package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/canteen-backend/internal/audit"
	"github.com/angelmondragon/canteen-backend/internal/orders"
	"github.com/angelmondragon/canteen-backend/internal/uow"
	"github.com/angelmondragon/canteen-backend/pkg/db/models"
	"github.com/angelmondragon/canteen-backend/pkg/enums"
	"github.com/angelmondragon/canteen-backend/pkg/logger"
	"github.com/angelmondragon/canteen-backend/pkg/outbox"
	"github.com/angelmondragon/canteen-backend/pkg/outbox/payloads"
)

const (
	defaultReconcileAfter = 15 * time.Minute
	reconcileBatchSize    = 100

	reasonUnsettled = "unsettled"

	stepReconcileAudit = "reconciliation_audit"
	stepReconcileEvent = "reconciliation_event"
)

type ReconciliationJobParams struct {
	Logger    *logger.Logger
	Units     unitRunner
	Orders    orders.Repository
	Outbox    outboxEmitter
	Audit     auditRecorder
	After     time.Duration
	BatchSize int
}

// NewReconciliationJob builds the sweep that reports orders left without a
// settling ledger entry, typically by the non-transactional fallback.
func NewReconciliationJob(params ReconciliationJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Units == nil {
		return nil, fmt.Errorf("unit runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	after := params.After
	if after <= 0 {
		after = defaultReconcileAfter
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = reconcileBatchSize
	}
	return &reconciliationJob{
		logg:   params.Logger,
		units:  params.Units,
		orders: params.Orders,
		outbox: params.Outbox,
		audit:  params.Audit,
		after:  after,
		batch:  batch,
		now:    time.Now,
	}, nil
}

type reconciliationJob struct {
	logg   *logger.Logger
	units  unitRunner
	orders orders.Repository
	outbox outboxEmitter
	audit  auditRecorder
	after  time.Duration
	batch  int
	now    func() time.Time
}

func (j *reconciliationJob) Name() string { return "order-reconciliation" }

func (j *reconciliationJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := now.Add(-j.after)
	pending, err := j.orders.ListUnsettled(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("query unsettled orders: %w", err)
	}

	var errs error
	flagged := 0
	for _, order := range pending {
		ok, err := j.flag(ctx, order, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("flag order %s: %w", order.ID, err))
			continue
		}
		if ok {
			flagged++
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"scanned": len(pending),
		"flagged": flagged,
	})
	if flagged > 0 {
		j.logg.Warn(logCtx, "orders flagged for reconciliation")
	} else {
		j.logg.Info(logCtx, "order reconciliation sweep complete")
	}
	return errs
}

func (j *reconciliationJob) flag(ctx context.Context, order models.Order, now time.Time) (bool, error) {
	metadata := order.Metadata.Data
	if metadata.ReconciliationFlag == nil {
		metadata.ReconciliationFlag = &models.ReconciliationFlag{Reason: reasonUnsettled, FlaggedAt: now}
	}
	reason := metadata.ReconciliationFlag.Reason

	// reconciled_at is the guard: whichever sweep stamps it owns the audit
	// entry and the event.
	var marked bool
	report, err := j.units.Do(ctx, j.Name(), func(ctx context.Context, w uow.Work) error {
		ok, err := j.orders.WithTx(w.DB()).MarkReconciled(ctx, order.ID, metadata, now)
		if err != nil || !ok {
			return err
		}
		marked = true
		if err := w.Settle(ctx, stepReconcileAudit, func(db *gorm.DB) error {
			return j.audit.Record(ctx, db, audit.Entry{
				Action:     enums.AuditActionOrderReconciliation,
				TargetType: enums.AuditTargetOrder,
				TargetID:   order.ID,
				Payload: map[string]any{
					"code":        order.Code,
					"reason":      reason,
					"total_cents": order.TotalCents,
					"status":      order.Status,
				},
			})
		}); err != nil {
			return err
		}
		return w.Settle(ctx, stepReconcileEvent, func(db *gorm.DB) error {
			return j.outbox.Emit(ctx, db, outbox.DomainEvent{
				EventType:     enums.EventOrderReconciliationFlagged,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Version:       1,
				OccurredAt:    now,
				Data: payloads.OrderReconciliationFlaggedEvent{
					OrderID: order.ID,
					Code:    order.Code,
					Reason:  reason,
				},
			})
		})
	})
	if err != nil {
		return false, err
	}
	if len(report.Warnings) > 0 {
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"order_id": order.ID,
			"warnings": report.Warnings,
		})
		j.logg.Warn(logCtx, "order reconciled with degraded side effects")
	}
	return marked, nil
}

package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/canteen-backend/internal/orders"
	"github.com/angelmondragon/canteen-backend/pkg/db/models"
	"github.com/angelmondragon/canteen-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/canteen-backend/pkg/errors"
	"github.com/angelmondragon/canteen-backend/pkg/logger"
)

const expiryBatchSize = 100

type expiredCodeReader interface {
	ListExpiredOpen(ctx context.Context, now time.Time, limit int) ([]models.ExternalCode, error)
}

type orderTransitioner interface {
	Transition(ctx context.Context, input orders.TransitionInput) (*orders.TransitionResult, error)
}

type ExternalCodeExpiryJobParams struct {
	Logger    *logger.Logger
	Codes     expiredCodeReader
	Orders    orderTransitioner
	BatchSize int
}

// NewExternalCodeExpiryJob cancels external orders whose pickup code lapsed
// before anyone collected them.
func NewExternalCodeExpiryJob(params ExternalCodeExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Codes == nil {
		return nil, fmt.Errorf("external code reader required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order lifecycle service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = expiryBatchSize
	}
	return &externalCodeExpiryJob{
		logg:   params.Logger,
		codes:  params.Codes,
		orders: params.Orders,
		batch:  batch,
		now:    time.Now,
	}, nil
}

type externalCodeExpiryJob struct {
	logg   *logger.Logger
	codes  expiredCodeReader
	orders orderTransitioner
	batch  int
	now    func() time.Time
}

func (j *externalCodeExpiryJob) Name() string { return "external-code-expiry" }

func (j *externalCodeExpiryJob) Run(ctx context.Context) error {
	expired, err := j.codes.ListExpiredOpen(ctx, j.now().UTC(), j.batch)
	if err != nil {
		return fmt.Errorf("query expired codes: %w", err)
	}

	var errs error
	cancelled := 0
	for _, code := range expired {
		_, err := j.orders.Transition(ctx, orders.TransitionInput{
			OrderID: code.OrderID,
			Target:  enums.OrderStatusCancelled,
		})
		switch {
		case err == nil:
			cancelled++
		case pkgerrors.Is(err, pkgerrors.CodeStateConflict):
			// collected or cancelled between the query and the transition
		default:
			errs = multierr.Append(errs, fmt.Errorf("cancel order %s: %w", code.OrderID, err))
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"expired":   len(expired),
		"cancelled": cancelled,
	})
	j.logg.Info(logCtx, "external code expiry sweep complete")
	return errs
}

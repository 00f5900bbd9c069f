package placement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/canteen-backend/internal/audit"
	"github.com/angelmondragon/canteen-backend/internal/uow"
	"github.com/angelmondragon/canteen-backend/pkg/db/models"
	"github.com/angelmondragon/canteen-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/canteen-backend/pkg/errors"
	"github.com/angelmondragon/canteen-backend/pkg/outbox"
	"github.com/angelmondragon/canteen-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/canteen-backend/pkg/pickup"
)

// IssueExternal places an order paid outside the balance ledger and hands back
// a time-limited pickup code for it.
func (s *Service) IssueExternal(ctx context.Context, input ExternalInput) (*ExternalResult, error) {
	if input.AdminID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "issuing admin required")
	}
	if input.ExpiresInMinutes < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "expiry must not be negative")
	}
	ttl := s.externalTTL
	if input.ExpiresInMinutes > 0 {
		ttl = time.Duration(input.ExpiresInMinutes) * time.Minute
	}
	expiresAt := s.now().UTC().Add(ttl)
	adminID := input.AdminID
	place := PlaceInput{
		Items:         input.Items,
		PrepStationID: input.PrepStationID,
		External:      true,
		IssuedBy:      &adminID,
		ExpiresAt:     &expiresAt,
	}
	if err := validatePlaceInput(place); err != nil {
		s.observe("", err)
		return nil, err
	}

	placed := &PlaceResult{}
	result := &ExternalResult{}
	report, err := s.units.Do(ctx, "external_order", func(ctx context.Context, w uow.Work) error {
		if err := s.place(ctx, w, place, placed); err != nil {
			return err
		}
		code := &models.ExternalCode{
			Code:      placed.Order.Code,
			OrderID:   placed.Order.ID,
			IssuedBy:  &adminID,
			ExpiresAt: expiresAt,
		}
		if name := strings.TrimSpace(input.IssuedToName); name != "" {
			code.IssuedToName = &name
		}
		if err := NewCodeRepository(w.DB()).Create(ctx, code); err != nil {
			return fmt.Errorf("%s: %w", stepExternalCode, err)
		}
		codeID := code.ID
		w.Compensate(stepExternalCode, func(ctx context.Context) error {
			return w.DB().WithContext(ctx).Delete(&models.ExternalCode{}, "id = ?", codeID).Error
		})
		result.ExternalCode = code

		w.Annotate(ctx, stepOutbox, func(db *gorm.DB) error {
			return s.events.Emit(ctx, db, outbox.DomainEvent{
				EventType:     enums.EventExternalOrderIssued,
				AggregateType: enums.AggregateExternalCode,
				AggregateID:   code.ID,
				Actor:         actorRef(&adminID),
				Data: payloads.ExternalOrderIssuedEvent{
					OrderID:    placed.Order.ID,
					Code:       code.Code,
					IssuedBy:   &adminID,
					TotalCents: placed.Order.TotalCents,
					ExpiresAt:  code.ExpiresAt,
				},
			})
		})
		return nil
	})
	s.observe(report.Mode, err)
	if err != nil {
		s.logFailure(ctx, "external order failed", report, err)
		return nil, err
	}

	result.Order = placed.Order
	result.Transaction = placed.Transaction
	result.Warnings = report.Warnings
	png, qrErr := s.qr.Encode(result.ExternalCode.Code)
	if qrErr != nil {
		result.Warnings = append(result.Warnings, uow.Warning{Step: stepQRCode, Message: qrErr.Error()})
	} else {
		result.QRCodePNG = png
	}
	s.logPlaced(ctx, result.Order, report)
	return result, nil
}

// LookupExternalCode returns the code with its order while it can still be
// redeemed. Expiry is evaluated at read time.
func (s *Service) LookupExternalCode(ctx context.Context, code string) (*CodeView, error) {
	view, err := s.loadCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := redeemable(view.ExternalCode, s.now()); err != nil {
		return nil, err
	}
	return view, nil
}

// RedeemExternalCode consumes the code exactly once.
func (s *Service) RedeemExternalCode(ctx context.Context, code string, actorID *uuid.UUID) (*CodeView, error) {
	normalized := pickup.Normalize(code)
	if normalized == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "code required")
	}

	var view *CodeView
	_, err := s.units.Do(ctx, "external_code_redeem", func(ctx context.Context, w uow.Work) error {
		repo := NewCodeRepository(w.DB())
		row, err := repo.FindByCode(ctx, normalized)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load external code")
		}
		if row == nil {
			return codeNotFound(normalized)
		}
		now := s.now().UTC()
		if err := redeemable(row, now); err != nil {
			return err
		}
		ok, err := repo.MarkUsed(ctx, normalized, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "redeem external code")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "external code already used or expired").
				WithDetails(map[string]any{"code": normalized})
		}
		row.Used = true
		row.UsedAt = &now

		order, err := s.orders.WithTx(w.DB()).FindByID(ctx, row.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		view = &CodeView{ExternalCode: row, Order: order}

		actor := actorID
		if actor == nil {
			actor = row.IssuedBy
		}
		w.Annotate(ctx, stepAudit, func(db *gorm.DB) error {
			return s.audit.Record(ctx, db, audit.Entry{
				ActorID:    actor,
				Action:     enums.AuditActionExternalCodeRedeemed,
				TargetType: enums.AuditTargetExternalCode,
				TargetID:   row.ID,
				Payload: map[string]any{
					"code":     row.Code,
					"order_id": row.OrderID,
				},
			})
		})
		w.Annotate(ctx, stepOutbox, func(db *gorm.DB) error {
			return s.events.Emit(ctx, db, outbox.DomainEvent{
				EventType:     enums.EventExternalCodeRedeemed,
				AggregateType: enums.AggregateExternalCode,
				AggregateID:   row.ID,
				Actor:         actorRef(actor),
				Data: payloads.ExternalCodeRedeemedEvent{
					OrderID:    row.OrderID,
					Code:       row.Code,
					RedeemedAt: now,
				},
			})
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, view.ExternalCode.OrderID.String())
		s.logg.Info(s.logg.WithField(logCtx, "code", view.ExternalCode.Code), "external code redeemed")
	}
	return view, nil
}

func (s *Service) loadCode(ctx context.Context, code string) (*CodeView, error) {
	normalized := pickup.Normalize(code)
	if normalized == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "code required")
	}
	var view *CodeView
	_, err := s.units.Do(ctx, "external_code_lookup", func(ctx context.Context, w uow.Work) error {
		row, err := NewCodeRepository(w.DB()).FindByCode(ctx, normalized)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load external code")
		}
		if row == nil {
			return codeNotFound(normalized)
		}
		order, err := s.orders.WithTx(w.DB()).FindByID(ctx, row.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		view = &CodeView{ExternalCode: row, Order: order}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func redeemable(code *models.ExternalCode, now time.Time) error {
	switch {
	case code.Used:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "external code already used").
			WithDetails(map[string]any{"code": code.Code, "used_at": code.UsedAt})
	case code.ExpiredAt(now):
		return pkgerrors.New(pkgerrors.CodeStateConflict, "external code expired").
			WithDetails(map[string]any{"code": code.Code, "expires_at": code.ExpiresAt})
	}
	return nil
}

func codeNotFound(code string) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "external code not found").
		WithDetails(map[string]any{"code": code})
}

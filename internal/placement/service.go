package placement

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
	"github.com/angelmondragon/canteen-backend/internal/ledger"
	"github.com/angelmondragon/canteen-backend/internal/orders"
	product "github.com/angelmondragon/canteen-backend/internal/products"
	"github.com/angelmondragon/canteen-backend/internal/uow"
	dbpkg "github.com/angelmondragon/canteen-backend/pkg/db"
	"github.com/angelmondragon/canteen-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/canteen-backend/pkg/db/types"
	"github.com/angelmondragon/canteen-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/canteen-backend/pkg/errors"
	"github.com/angelmondragon/canteen-backend/pkg/logger"
	"github.com/angelmondragon/canteen-backend/pkg/outbox"
	"github.com/angelmondragon/canteen-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/canteen-backend/pkg/pickup"
)

const (
	maxCodeAttempts = 5

	stepOrderCreate  = "order_create"
	stepExternalCode = "external_code"
	stepExternalSale = "external_sale"
	stepAudit        = "audit"
	stepOutbox       = "outbox"
	stepQRCode       = "qr_code"

	reasonCompensationIncomplete = "compensation_incomplete"
)

type unitRunner interface {
	Do(ctx context.Context, name string, fn func(ctx context.Context, w uow.Work) error) (uow.Report, error)
}

type codeGenerator interface {
	Next() (string, error)
}

type placementRecorder interface {
	ObservePlacement(mode, outcome string)
}

type Config struct {
	AutoPrepareCategories []string
	ExternalCodeTTL       time.Duration
}

type ServiceParams struct {
	Units     unitRunner
	Products  *product.Repository
	Orders    orders.Repository
	Inventory *inventory.Ledger
	Balances  *balance.Ledger
	Entries   ledger.Service
	Audit     audit.Recorder
	Events    outbox.Emitter
	Codes     codeGenerator
	QR        pickup.QREncoder
	Metrics   placementRecorder
	Logger    *logger.Logger
	Config    Config
	Now       func() time.Time
}

// Service places orders: it deducts stock, charges the balance or records an
// external sale, and writes the order with its pickup code as one unit.
type Service struct {
	units       unitRunner
	products    *product.Repository
	orders      orders.Repository
	inventory   *inventory.Ledger
	balances    *balance.Ledger
	entries     ledger.Service
	audit       audit.Recorder
	events      outbox.Emitter
	codes       codeGenerator
	qr          pickup.QREncoder
	metrics     placementRecorder
	logg        *logger.Logger
	autoPrepare AutoPrepareRule
	externalTTL time.Duration
	now         func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Units == nil:
		return nil, errors.New("unit of work runner required")
	case params.Products == nil:
		return nil, errors.New("product repository required")
	case params.Orders == nil:
		return nil, errors.New("orders repository required")
	case params.Inventory == nil:
		return nil, errors.New("inventory ledger required")
	case params.Balances == nil:
		return nil, errors.New("balance ledger required")
	case params.Entries == nil:
		return nil, errors.New("ledger entry service required")
	case params.Audit == nil:
		return nil, errors.New("audit recorder required")
	case params.Events == nil:
		return nil, errors.New("outbox emitter required")
	}
	codes := params.Codes
	if codes == nil {
		codes = pickup.NewGenerator(pickup.DefaultPrefix, pickup.DefaultLength)
	}
	qr := params.QR
	if qr == nil {
		qr = pickup.PNGEncoder{}
	}
	ttl := params.Config.ExternalCodeTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		units:       params.Units,
		products:    params.Products,
		orders:      params.Orders,
		inventory:   params.Inventory,
		balances:    params.Balances,
		entries:     params.Entries,
		audit:       params.Audit,
		events:      params.Events,
		codes:       codes,
		qr:          qr,
		metrics:     params.Metrics,
		logg:        params.Logger,
		autoPrepare: NewAutoPrepareRule(params.Config.AutoPrepareCategories),
		externalTTL: ttl,
		now:         now,
	}, nil
}

// Place creates an order for a student, or an external order when
// input.External is set.
func (s *Service) Place(ctx context.Context, input PlaceInput) (*PlaceResult, error) {
	if err := validatePlaceInput(input); err != nil {
		s.observe("", err)
		return nil, err
	}

	result := &PlaceResult{}
	report, err := s.units.Do(ctx, "order_placement", func(ctx context.Context, w uow.Work) error {
		return s.place(ctx, w, input, result)
	})
	s.observe(report.Mode, err)
	if err != nil {
		s.logFailure(ctx, "order placement failed", report, err)
		return nil, err
	}
	result.Mode = report.Mode
	result.Warnings = report.Warnings
	s.logPlaced(ctx, result.Order, report)
	return result, nil
}

func (s *Service) place(ctx context.Context, w uow.Work, input PlaceInput, result *PlaceResult) error {
	var user *models.User
	if !input.External {
		resolved, err := accounts.ResolveUser(ctx, w.DB(), input.UserRef)
		if err != nil {
			return err
		}
		user = resolved
	}

	items, total, err := s.snapshot(ctx, w.DB(), input.Items)
	if err != nil {
		return err
	}

	if user != nil && input.TrustBalanceCheck && user.BalanceCents < total {
		return balance.InsufficientBalance(user.ID, total, user.BalanceCents)
	}

	order := &models.Order{
		Items:            dbtypes.NewJSON(items),
		TotalCents:       total,
		Status:           enums.OrderStatusPlaced,
		IssuedBy:         input.IssuedBy,
		PrepStationID:    input.PrepStationID,
		OrderingWindowID: input.OrderingWindowID,
		External:         input.External,
		Metadata:         dbtypes.NewJSON(models.OrderMetadata{}),
		ExpiresAt:        input.ExpiresAt,
	}
	if user != nil {
		order.UserID = &user.ID
	}
	if err := s.createWithCode(ctx, w, order); err != nil {
		return err
	}

	requests := make([]inventory.DeductRequest, 0, len(items))
	for _, item := range items {
		requests = append(requests, inventory.DeductRequest{ProductID: item.ProductID, Name: item.Name, Qty: item.Qty})
	}
	changes, err := s.inventory.Deduct(ctx, w, requests)
	if err != nil {
		return err
	}

	metadata := order.Metadata.Data
	metadata.InventoryChanges = changes
	prepared, allPrepared := s.autoPrepare.Apply(items)
	metadata.AutoPrepared = prepared
	if allPrepared {
		order.Status = enums.OrderStatusReady
		if input.IssuedBy != nil {
			order.PreparedBy = input.IssuedBy
		}
	}
	order.Items = dbtypes.NewJSON(items)
	order.Metadata = dbtypes.NewJSON(metadata)
	if err := s.orders.WithTx(w.DB()).Save(ctx, order); err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	result.Order = order

	if user != nil {
		if total > 0 {
			movement, err := s.balances.Debit(ctx, w, balance.DebitInput{
				UserID:      user.ID,
				AmountCents: total,
				Type:        enums.TransactionTypeOrder,
				OrderID:     &order.ID,
				ActorID:     input.IssuedBy,
			})
			if err != nil {
				return err
			}
			result.Transaction = movement.Transaction
		}
	} else if total > 0 {
		err := w.Settle(ctx, stepExternalSale, func(db *gorm.DB) error {
			tx, err := s.entries.WithTx(db).RecordEntry(ctx, ledger.RecordEntryInput{
				Type:        enums.TransactionTypeExternal,
				AmountCents: total,
				OrderID:     &order.ID,
				ActorID:     input.IssuedBy,
				Note:        "external sale " + order.Code,
			})
			if err != nil {
				return err
			}
			result.Transaction = tx
			return nil
		})
		if err != nil {
			return err
		}
	}

	s.recordPlacement(ctx, w, order, changes, prepared)
	return nil
}

// snapshot freezes name, category, price and allergens of every line.
func (s *Service) snapshot(ctx context.Context, db *gorm.DB, lines []ItemInput) ([]models.OrderItem, int64, error) {
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	found, err := s.products.WithTx(db).FindByIDs(ctx, ids)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}

	now := s.now()
	items := make([]models.OrderItem, 0, len(lines))
	var total int64
	for _, line := range lines {
		p, ok := found[line.ProductID]
		if !ok {
			return nil, 0, pkgerrors.New(pkgerrors.CodeProductNotFound, fmt.Sprintf("product %s not found", line.ProductID)).
				WithDetails(map[string]any{"product_id": line.ProductID.String()})
		}
		orderable, err := p.OrderableAt(now)
		if err != nil {
			return nil, 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "evaluate product window")
		}
		if !orderable {
			return nil, 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s is not available right now", p.Name)).
				WithDetails(map[string]any{"product_id": p.ID.String()})
		}
		item := models.OrderItem{
			ProductID:      p.ID,
			Name:           p.Name,
			Category:       p.Category,
			UnitPriceCents: p.PriceCents,
			Allergens:      append([]string(nil), p.Allergens.Data...),
			Qty:            line.Qty,
			Notes:          strings.TrimSpace(line.Notes),
		}
		total += item.LineTotalCents()
		items = append(items, item)
	}
	return items, total, nil
}

// createWithCode inserts the order under a fresh pickup code, regenerating
// the code when it collides with an existing one.
func (s *Service) createWithCode(ctx context.Context, w uow.Work, order *models.Order) error {
	var lastErr error
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.codes.Next()
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate pickup code")
		}
		order.Code = code
		err = w.Attempt(ctx, stepOrderCreate, func(db *gorm.DB) error {
			return s.orders.WithTx(db).Create(ctx, order)
		})
		if err == nil {
			s.compensateOrder(w, order)
			return nil
		}
		if !dbpkg.IsUniqueViolation(err, "ux_orders_code") {
			return fmt.Errorf("create order: %w", err)
		}
		lastErr = err
	}
	return pkgerrors.Wrap(pkgerrors.CodeConflict, lastErr, "could not allocate a unique pickup code")
}

// compensateOrder removes the order if a later step of a best-effort unit
// fails. When an earlier undo already failed the order is kept and flagged so
// the reconciliation sweep can find it.
func (s *Service) compensateOrder(w uow.Work, order *models.Order) {
	orderID := order.ID
	w.Compensate(stepOrderCreate, func(ctx context.Context) error {
		repo := s.orders.WithTx(w.DB())
		if !compensationFailed(w.Warnings()) {
			return repo.Delete(ctx, orderID)
		}
		metadata := order.Metadata.Data
		metadata.ReconciliationFlag = &models.ReconciliationFlag{
			Reason:    reasonCompensationIncomplete,
			FlaggedAt: s.now().UTC(),
		}
		return repo.UpdateMetadata(ctx, orderID, metadata)
	})
}

func compensationFailed(warnings []uow.Warning) bool {
	for _, warning := range warnings {
		if strings.HasPrefix(warning.Step, "compensate:") {
			return true
		}
	}
	return false
}

func (s *Service) recordPlacement(ctx context.Context, w uow.Work, order *models.Order, changes []inventory.Change, prepared []uuid.UUID) {
	action := enums.AuditActionOrderPlaced
	if order.External {
		action = enums.AuditActionExternalOrderIssued
	}
	w.Annotate(ctx, stepAudit, func(db *gorm.DB) error {
		return s.audit.Record(ctx, db, audit.Entry{
			ActorID:    actorFor(order),
			Action:     action,
			TargetType: enums.AuditTargetOrder,
			TargetID:   order.ID,
			Payload: map[string]any{
				"code":              order.Code,
				"total_cents":       order.TotalCents,
				"items":             order.Items.Data,
				"inventory_changes": changes,
				"auto_prepared":     prepared,
				"status":            order.Status,
			},
		})
	})

	movements := make([]payloads.InventoryMovement, 0, len(changes))
	for _, change := range changes {
		movements = append(movements, payloads.InventoryMovement{
			RecordID:  change.RecordID,
			ProductID: change.ProductID,
			Qty:       change.QtyTaken,
		})
	}
	w.Annotate(ctx, stepOutbox, func(db *gorm.DB) error {
		return s.events.Emit(ctx, db, outbox.DomainEvent{
			EventType:     enums.EventOrderPlaced,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actorRef(actorFor(order)),
			Data: payloads.OrderPlacedEvent{
				OrderID:      order.ID,
				Code:         order.Code,
				UserID:       order.UserID,
				External:     order.External,
				TotalCents:   order.TotalCents,
				Status:       order.Status,
				Inventory:    movements,
				AutoPrepared: prepared,
			},
		})
	})
}

func actorFor(order *models.Order) *uuid.UUID {
	if order.IssuedBy != nil {
		return order.IssuedBy
	}
	return order.UserID
}

func actorRef(id *uuid.UUID) *outbox.ActorRef {
	if id == nil {
		return nil
	}
	return &outbox.ActorRef{UserID: *id}
}

func validatePlaceInput(input PlaceInput) error {
	if !input.External && strings.TrimSpace(input.UserRef) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "user reference required")
	}
	if len(input.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "order must contain at least one item")
	}
	for i, item := range input.Items {
		if item.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("items[%d]: product id required", i))
		}
		if item.Qty <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("items[%d]: quantity must be positive", i)).
				WithDetails(map[string]any{"product_id": item.ProductID.String(), "qty": item.Qty})
		}
	}
	return nil
}

func (s *Service) observe(mode uow.Mode, err error) {
	if s.metrics == nil {
		return
	}
	if mode == "" {
		mode = uow.ModeTransactional
	}
	s.metrics.ObservePlacement(string(mode), outcomeOf(err))
}

func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	if typed := pkgerrors.As(err); typed != nil {
		return strings.ToLower(string(typed.Code()))
	}
	return "error"
}

func (s *Service) logPlaced(ctx context.Context, order *models.Order, report uow.Report) {
	if s.logg == nil || order == nil {
		return
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	ctx = s.logg.WithFields(ctx, map[string]any{
		"code":        order.Code,
		"status":      order.Status,
		"total_cents": order.TotalCents,
		"mode":        report.Mode,
		"warnings":    len(report.Warnings),
	})
	if len(report.Warnings) > 0 {
		s.logg.Warn(ctx, "order placed with partial failures")
		return
	}
	s.logg.Info(ctx, "order placed")
}

func (s *Service) logFailure(ctx context.Context, msg string, report uow.Report, err error) {
	if s.logg == nil {
		return
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"mode":     report.Mode,
		"warnings": len(report.Warnings),
	})
	if compensationFailed(report.Warnings) {
		s.logg.Error(ctx, msg, err)
		return
	}
	s.logg.WarnErr(ctx, msg, err)
}

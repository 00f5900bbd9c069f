package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/canteen-backend/internal/audit"
	"github.com/angelmondragon/canteen-backend/internal/uow"
	dbpkg "github.com/angelmondragon/canteen-backend/pkg/db"
	"github.com/angelmondragon/canteen-backend/pkg/db/models"
	"github.com/angelmondragon/canteen-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/canteen-backend/pkg/errors"
	"github.com/angelmondragon/canteen-backend/pkg/logger"
)

const (
	maxDeductAttempts = 8

	stepDeduct  = "inventory_deduct"
	stepRestore = "inventory_restore"
)

// Change records how much was taken from one inventory record.
type Change = models.InventoryChange

// DeductRequest asks for qty units of a product. Name is only used in errors.
type DeductRequest struct {
	ProductID uuid.UUID
	Name      string
	Qty       int
}

// Restoration records units returned to one inventory record.
type Restoration struct {
	RecordID  uuid.UUID `json:"record_id"`
	ProductID uuid.UUID `json:"product_id"`
	Location  string    `json:"location"`
	Qty       int       `json:"qty"`
	Before    int       `json:"before"`
	After     int       `json:"after"`
	Heuristic bool      `json:"heuristic"`
}

type LedgerParams struct {
	DB     *gorm.DB
	Repo   Repository
	Audit  audit.Recorder
	Logger *logger.Logger
}

// Ledger owns stock levels across the inventory records of each product.
type Ledger struct {
	db    *gorm.DB
	repo  Repository
	audit audit.Recorder
	logg  *logger.Logger
}

func NewLedger(params LedgerParams) (*Ledger, error) {
	if params.DB == nil {
		return nil, errors.New("database handle required")
	}
	repo := params.Repo
	if repo == nil {
		repo = NewRepository(params.DB)
	}
	return &Ledger{
		db:    params.DB,
		repo:  repo,
		audit: params.Audit,
		logg:  params.Logger,
	}, nil
}

// TotalQuantity sums the active records of a product; 0 when there are none.
func (l *Ledger) TotalQuantity(ctx context.Context, productID uuid.UUID) (int, error) {
	return l.repo.WithTx(l.db).SumActive(ctx, productID)
}

func (l *Ledger) CountRecords(ctx context.Context, productID uuid.UUID) (int64, error) {
	return l.repo.WithTx(l.db).CountRecords(ctx, productID)
}

// EnsureRecord returns an existing record of the product, provisioning an
// empty Main record when it has none.
func (l *Ledger) EnsureRecord(ctx context.Context, productID uuid.UUID) (*models.InventoryRecord, error) {
	repo := l.repo.WithTx(l.db)
	exists, err := repo.ProductExists(ctx, productID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup product")
	}
	if !exists {
		return nil, productNotFound(productID)
	}

	record, err := repo.FirstForProduct(ctx, productID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup inventory record")
	}
	if record != nil {
		return record, nil
	}

	record = &models.InventoryRecord{
		ProductID: productID,
		Location:  models.DefaultInventoryLocation,
		Quantity:  0,
		Active:    true,
	}
	if err := repo.Create(ctx, record); err != nil {
		if !dbpkg.IsUniqueViolation(err, "ux_inventory_records_product_location") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "provision inventory record")
		}
		// lost the race to a concurrent provisioner
		existing, findErr := repo.FirstForProduct(ctx, productID)
		if findErr != nil || existing == nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "provision inventory record")
		}
		return existing, nil
	}

	if l.audit != nil {
		l.audit.RecordQuietly(ctx, l.db, audit.Entry{
			Action:     enums.AuditActionInventoryProvisioned,
			TargetType: enums.AuditTargetInventory,
			TargetID:   record.ID,
			Payload: map[string]any{
				"product_id": productID.String(),
				"location":   record.Location,
			},
		})
	}
	return record, nil
}

// Deduct takes the requested quantities from the largest active records
// first. Requests for the same product are merged.
func (l *Ledger) Deduct(ctx context.Context, w uow.Work, items []DeductRequest) ([]Change, error) {
	merged, err := mergeRequests(items)
	if err != nil {
		return nil, err
	}

	changes := make([]Change, 0, len(merged))
	for _, req := range merged {
		var taken []Change
		if w.Transactional() {
			taken, err = l.deductLocked(ctx, w, req)
		} else {
			taken, err = l.deductConditional(ctx, w, req)
		}
		changes = append(changes, taken...)
		if err != nil {
			return changes, err
		}
	}
	return changes, nil
}

func (l *Ledger) deductLocked(ctx context.Context, w uow.Work, req DeductRequest) ([]Change, error) {
	records, err := l.repo.WithTx(w.Lock()).ActiveRecords(ctx, req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("load inventory records: %w", err)
	}
	available := sumQuantity(records)
	if available < req.Qty {
		return nil, insufficientStock(req, available)
	}

	repo := l.repo.WithTx(w.DB())
	remaining := req.Qty
	var changes []Change
	for _, record := range records {
		if remaining == 0 {
			break
		}
		if record.Quantity <= 0 {
			continue
		}
		take := min(record.Quantity, remaining)
		after, ok, err := repo.Decrement(ctx, record.ID, take)
		if err != nil {
			return changes, fmt.Errorf("decrement inventory record %s: %w", record.ID, err)
		}
		if !ok {
			return changes, insufficientStock(req, available-(req.Qty-remaining))
		}
		changes = append(changes, changeFor(record, take, after))
		remaining -= take
	}
	return changes, nil
}

// deductConditional runs without row locks: every decrement is guarded by
// the quantity it expects and a lost race re-reads the records.
func (l *Ledger) deductConditional(ctx context.Context, w uow.Work, req DeductRequest) ([]Change, error) {
	repo := l.repo.WithTx(w.DB())
	records, err := repo.ActiveRecords(ctx, req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("load inventory records: %w", err)
	}
	if available := sumQuantity(records); available < req.Qty {
		return nil, insufficientStock(req, available)
	}

	remaining := req.Qty
	var changes []Change
	for attempt := 1; ; attempt++ {
		for _, record := range records {
			if remaining == 0 {
				break
			}
			if record.Quantity <= 0 {
				continue
			}
			take := min(record.Quantity, remaining)
			after, ok, err := repo.Decrement(ctx, record.ID, take)
			if err != nil {
				return changes, fmt.Errorf("decrement inventory record %s: %w", record.ID, err)
			}
			if !ok {
				break
			}
			changes = append(changes, changeFor(record, take, after))
			remaining -= take

			recordID, qty := record.ID, take
			w.Compensate(stepDeduct, func(ctx context.Context) error {
				_, _, err := l.repo.WithTx(w.DB()).Increment(ctx, recordID, qty)
				return err
			})
		}
		if remaining == 0 {
			return changes, nil
		}
		if attempt >= maxDeductAttempts {
			return changes, insufficientStock(req, req.Qty-remaining)
		}

		records, err = repo.ActiveRecords(ctx, req.ProductID)
		if err != nil {
			return changes, fmt.Errorf("reload inventory records: %w", err)
		}
		if available := sumQuantity(records); available < remaining {
			return changes, insufficientStock(req, available+req.Qty-remaining)
		}
	}
}

// Restore returns each change to the record it was taken from. A record that
// no longer exists falls back to the heuristic target.
func (l *Ledger) Restore(ctx context.Context, w uow.Work, changes []Change) ([]Restoration, error) {
	repo := l.repo.WithTx(w.DB())
	out := make([]Restoration, 0, len(changes))
	for _, change := range changes {
		if change.QtyTaken <= 0 {
			continue
		}
		restoration, err := l.restoreOne(ctx, w, repo, change)
		if err != nil {
			if w.Transactional() {
				return out, err
			}
			w.Warn(ctx, stepRestore, fmt.Sprintf("record %s: %v", change.RecordID, err))
			continue
		}
		out = append(out, *restoration)
	}
	return out, nil
}

func (l *Ledger) restoreOne(ctx context.Context, w uow.Work, repo Repository, change Change) (*Restoration, error) {
	after, ok, err := repo.Increment(ctx, change.RecordID, change.QtyTaken)
	if err != nil {
		return nil, fmt.Errorf("increment inventory record: %w", err)
	}
	if !ok {
		return l.RestoreHeuristic(ctx, w, change.ProductID, change.QtyTaken)
	}
	l.undoRestore(w, change.RecordID, change.QtyTaken)
	return &Restoration{
		RecordID:  change.RecordID,
		ProductID: change.ProductID,
		Location:  change.Location,
		Qty:       change.QtyTaken,
		Before:    after - change.QtyTaken,
		After:     after,
	}, nil
}

// undoRestore takes restored units back out if a best-effort unit fails later.
func (l *Ledger) undoRestore(w uow.Work, recordID uuid.UUID, qty int) {
	if w.Transactional() {
		return
	}
	w.Compensate(stepRestore, func(ctx context.Context) error {
		_, ok, err := l.repo.WithTx(w.DB()).Decrement(ctx, recordID, qty)
		if err == nil && !ok {
			err = fmt.Errorf("inventory record %s no longer holds %d restored units", recordID, qty)
		}
		return err
	})
}

// RestoreHeuristic adds qty to the largest active record of the product,
// provisioning a Main record when there is none.
func (l *Ledger) RestoreHeuristic(ctx context.Context, w uow.Work, productID uuid.UUID, qty int) (*Restoration, error) {
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "restore quantity must be positive")
	}
	records, err := l.repo.WithTx(w.Lock()).ActiveRecords(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("load inventory records: %w", err)
	}

	repo := l.repo.WithTx(w.DB())
	var target models.InventoryRecord
	if len(records) > 0 {
		target = records[0]
	} else {
		provisioned, err := l.provisionMain(ctx, repo, productID)
		if err != nil {
			return nil, err
		}
		target = *provisioned
	}

	after, ok, err := repo.Increment(ctx, target.ID, qty)
	if err != nil {
		return nil, fmt.Errorf("increment inventory record: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("inventory record %s disappeared during restore", target.ID)
	}
	l.undoRestore(w, target.ID, qty)
	return &Restoration{
		RecordID:  target.ID,
		ProductID: productID,
		Location:  target.Location,
		Qty:       qty,
		Before:    after - qty,
		After:     after,
		Heuristic: true,
	}, nil
}

// provisionMain reuses an inactive Main record before creating one so no
// statement inside a transaction can hit the unique index.
func (l *Ledger) provisionMain(ctx context.Context, repo Repository, productID uuid.UUID) (*models.InventoryRecord, error) {
	existing, err := repo.FindByLocation(ctx, productID, models.DefaultInventoryLocation)
	if err != nil {
		return nil, fmt.Errorf("lookup main inventory record: %w", err)
	}
	if existing != nil {
		if err := repo.Activate(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("activate inventory record: %w", err)
		}
		existing.Active = true
		return existing, nil
	}

	exists, err := repo.ProductExists(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("lookup product: %w", err)
	}
	if !exists {
		return nil, productNotFound(productID)
	}
	record := &models.InventoryRecord{
		ProductID: productID,
		Location:  models.DefaultInventoryLocation,
		Quantity:  0,
		Active:    true,
	}
	if err := repo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("provision inventory record: %w", err)
	}
	return record, nil
}

func mergeRequests(items []DeductRequest) ([]DeductRequest, error) {
	index := make(map[uuid.UUID]int, len(items))
	merged := make([]DeductRequest, 0, len(items))
	for _, item := range items {
		if item.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
		}
		if item.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity for %s must be positive", item.ProductID))
		}
		if i, ok := index[item.ProductID]; ok {
			merged[i].Qty += item.Qty
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}

func sumQuantity(records []models.InventoryRecord) int {
	total := 0
	for _, record := range records {
		if record.Quantity > 0 {
			total += record.Quantity
		}
	}
	return total
}

// changeFor builds provenance from the quantity the decrement returned.
func changeFor(record models.InventoryRecord, take, after int) Change {
	return Change{
		RecordID:  record.ID,
		ProductID: record.ProductID,
		Location:  record.Location,
		QtyTaken:  take,
		Before:    after + take,
		After:     after,
	}
}

func productNotFound(productID uuid.UUID) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeProductNotFound, fmt.Sprintf("product %s not found", productID)).
		WithDetails(map[string]any{"product_id": productID.String()})
}

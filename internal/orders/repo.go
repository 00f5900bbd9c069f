package orders

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/canteen-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/canteen-backend/pkg/db/types"
	"github.com/angelmondragon/canteen-backend/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) Save(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Save(order).Error
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.Order{}, "id = ?", id).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *repository) FindByCode(ctx context.Context, code string) (*models.Order, error) {
	return r.first(ctx, "code = ?", strings.ToUpper(strings.TrimSpace(code)))
}

// FindByRef accepts an order id or a pickup code.
func (r *repository) FindByRef(ctx context.Context, ref string) (*models.Order, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}
	if id, err := uuid.Parse(ref); err == nil {
		return r.FindByID(ctx, id)
	}
	return r.FindByCode(ctx, ref)
}

func (r *repository) first(ctx context.Context, query string, args ...any) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Where(query, args...).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateStatus applies updates only while the order is still in status from.
func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, from enums.OrderStatus, updates map[string]any) (bool, error) {
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

func (r *repository) UpdateMetadata(ctx context.Context, id uuid.UUID, metadata models.OrderMetadata) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"metadata":   dbtypes.NewJSON(metadata),
			"updated_at": time.Now().UTC(),
		}).Error
}

// ClaimInventoryRestore stamps inventory_restored_at and stores metadata only
// while the column is still empty. Exactly one caller per order gets true.
func (r *repository) ClaimInventoryRestore(ctx context.Context, id uuid.UUID, metadata models.OrderMetadata, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND inventory_restored_at IS NULL", id).
		Updates(map[string]any{
			"metadata":              dbtypes.NewJSON(metadata),
			"inventory_restored_at": at.UTC(),
			"updated_at":            at.UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

// ReleaseInventoryRestore undoes a claim whose restore did not go through.
func (r *repository) ReleaseInventoryRestore(ctx context.Context, id uuid.UUID, metadata models.OrderMetadata) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"metadata":              dbtypes.NewJSON(metadata),
			"inventory_restored_at": gorm.Expr("NULL"),
			"updated_at":            time.Now().UTC(),
		}).Error
}

// ListUnsettled returns chargeable orders older than before that have no
// settling ledger entry and were not yet reported, oldest first.
func (r *repository) ListUnsettled(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("created_at < ?", before.UTC()).
		Where("total_cents > 0 AND reconciled_at IS NULL").
		Where("NOT EXISTS (SELECT 1 FROM transactions t WHERE t.order_id = orders.id AND t.type IN ?)",
			[]enums.TransactionType{enums.TransactionTypeOrder, enums.TransactionTypeExternal}).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// MarkReconciled stores the flag and stamps reconciled_at once; false when
// another sweep got there first.
func (r *repository) MarkReconciled(ctx context.Context, id uuid.UUID, metadata models.OrderMetadata, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND reconciled_at IS NULL", id).
		Updates(map[string]any{
			"metadata":      dbtypes.NewJSON(metadata),
			"reconciled_at": at.UTC(),
			"updated_at":    at.UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

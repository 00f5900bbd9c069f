package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/canteen-backend/pkg/db/models"
)

// Repository manages persistence for inventory records. Quantity changes are
// always single conditional statements.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ProductExists(ctx context.Context, productID uuid.UUID) (bool, error)
	ActiveRecords(ctx context.Context, productID uuid.UUID) ([]models.InventoryRecord, error)
	SumActive(ctx context.Context, productID uuid.UUID) (int, error)
	CountRecords(ctx context.Context, productID uuid.UUID) (int64, error)
	FindByLocation(ctx context.Context, productID uuid.UUID, location string) (*models.InventoryRecord, error)
	FirstForProduct(ctx context.Context, productID uuid.UUID) (*models.InventoryRecord, error)
	Create(ctx context.Context, record *models.InventoryRecord) error
	Activate(ctx context.Context, id uuid.UUID) error
	Decrement(ctx context.Context, id uuid.UUID, qty int) (int, bool, error)
	Increment(ctx context.Context, id uuid.UUID, qty int) (int, bool, error)
}

var returningQuantity = clause.Returning{Columns: []clause.Column{{Name: "quantity"}}}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an inventory repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ProductExists(ctx context.Context, productID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Product{}).Where("id = ?", productID).Count(&count).Error
	return count > 0, err
}

// ActiveRecords lists active records largest first.
func (r *repository) ActiveRecords(ctx context.Context, productID uuid.UUID) ([]models.InventoryRecord, error) {
	var records []models.InventoryRecord
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND active = ?", productID, true).
		Order("quantity DESC").
		Order("created_at ASC").
		Order("id ASC").
		Find(&records).Error
	return records, err
}

func (r *repository) SumActive(ctx context.Context, productID uuid.UUID) (int, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.InventoryRecord{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("product_id = ? AND active = ?", productID, true).
		Scan(&total).Error
	return int(total), err
}

func (r *repository) CountRecords(ctx context.Context, productID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.InventoryRecord{}).Where("product_id = ?", productID).Count(&count).Error
	return count, err
}

func (r *repository) FindByLocation(ctx context.Context, productID uuid.UUID, location string) (*models.InventoryRecord, error) {
	var record models.InventoryRecord
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND location = ?", productID, location).
		Limit(1).
		Find(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == uuid.Nil {
		return nil, nil
	}
	return &record, nil
}

func (r *repository) FirstForProduct(ctx context.Context, productID uuid.UUID) (*models.InventoryRecord, error) {
	var record models.InventoryRecord
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("active DESC").
		Order("quantity DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) Create(ctx context.Context, record *models.InventoryRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) Activate(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.InventoryRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{"active": true, "updated_at": time.Now().UTC()}).Error
}

// Decrement subtracts qty only while the record still holds at least qty and
// returns the quantity the statement left behind.
func (r *repository) Decrement(ctx context.Context, id uuid.UUID, qty int) (int, bool, error) {
	var record models.InventoryRecord
	res := r.db.WithContext(ctx).
		Model(&record).
		Clauses(returningQuantity).
		Where("id = ? AND active = ? AND quantity >= ?", id, true, qty).
		Updates(map[string]any{
			"quantity":   gorm.Expr("quantity - ?", qty),
			"updated_at": time.Now().UTC(),
		})
	return record.Quantity, res.RowsAffected == 1, res.Error
}

// Increment adds qty unconditionally; false means the record no longer exists.
func (r *repository) Increment(ctx context.Context, id uuid.UUID, qty int) (int, bool, error) {
	var record models.InventoryRecord
	res := r.db.WithContext(ctx).
		Model(&record).
		Clauses(returningQuantity).
		Where("id = ?", id).
		Updates(map[string]any{
			"quantity":   gorm.Expr("quantity + ?", qty),
			"updated_at": time.Now().UTC(),
		})
	return record.Quantity, res.RowsAffected == 1, res.Error
}

package placement

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/canteen-backend/pkg/db/models"
	"github.com/angelmondragon/canteen-backend/pkg/enums"
)

// CodeRepository persists external pickup codes.
type CodeRepository struct {
	db *gorm.DB
}

func NewCodeRepository(db *gorm.DB) *CodeRepository {
	return &CodeRepository{db: db}
}

func (r *CodeRepository) Create(ctx context.Context, code *models.ExternalCode) error {
	return r.db.WithContext(ctx).Create(code).Error
}

func (r *CodeRepository) FindByCode(ctx context.Context, code string) (*models.ExternalCode, error) {
	var row models.ExternalCode
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// MarkUsed consumes the code only while it is unused and unexpired at now.
func (r *CodeRepository) MarkUsed(ctx context.Context, code string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ExternalCode{}).
		Where("code = ? AND used = ? AND expires_at > ?", code, false, now.UTC()).
		Updates(map[string]any{"used": true, "used_at": now.UTC()})
	return res.RowsAffected == 1, res.Error
}

// ListExpiredOpen returns unused codes that expired before now while their
// order is still waiting for pickup, oldest expiry first.
func (r *CodeRepository) ListExpiredOpen(ctx context.Context, now time.Time, limit int) ([]models.ExternalCode, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.ExternalCode
	err := r.db.WithContext(ctx).
		Select("external_codes.*").
		Joins("JOIN orders ON orders.id = external_codes.order_id").
		Where("external_codes.used = ? AND external_codes.expires_at <= ?", false, now.UTC()).
		Where("orders.status IN ?", []enums.OrderStatus{
			enums.OrderStatusPlaced,
			enums.OrderStatusPreparing,
			enums.OrderStatusReady,
		}).
		Order("external_codes.expires_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

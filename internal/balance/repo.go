package balance

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/canteen-backend/pkg/db/models"
)

// Repository reads and moves user balances.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	SetBalance(ctx context.Context, id uuid.UUID, balanceCents int64) error
	Decrement(ctx context.Context, id uuid.UUID, amountCents int64, guarded bool) (int64, bool, error)
	Increment(ctx context.Context, id uuid.UUID, amountCents int64) (int64, bool, error)
}

var returningBalance = clause.Returning{Columns: []clause.Column{{Name: "balance_cents"}}}

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

// FindUser returns nil when the user does not exist.
func (r *repository) FindUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) SetBalance(ctx context.Context, id uuid.UUID, balanceCents int64) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]any{"balance_cents": balanceCents, "updated_at": time.Now().UTC()}).Error
}

// Decrement subtracts amountCents and returns the balance the same statement
// left behind. A guarded decrement only applies while the balance covers the
// amount; ok is false when no row changed.
func (r *repository) Decrement(ctx context.Context, id uuid.UUID, amountCents int64, guarded bool) (int64, bool, error) {
	var user models.User
	query := r.db.WithContext(ctx).Model(&user).Clauses(returningBalance).Where("id = ?", id)
	if guarded {
		query = query.Where("balance_cents >= ?", amountCents)
	}
	res := query.Updates(map[string]any{
		"balance_cents": gorm.Expr("balance_cents - ?", amountCents),
		"updated_at":    time.Now().UTC(),
	})
	return user.BalanceCents, res.RowsAffected == 1, res.Error
}

// Increment adds amountCents and returns the resulting balance.
func (r *repository) Increment(ctx context.Context, id uuid.UUID, amountCents int64) (int64, bool, error) {
	var user models.User
	res := r.db.WithContext(ctx).
		Model(&user).
		Clauses(returningBalance).
		Where("id = ?", id).
		Updates(map[string]any{
			"balance_cents": gorm.Expr("balance_cents + ?", amountCents),
			"updated_at":    time.Now().UTC(),
		})
	return user.BalanceCents, res.RowsAffected == 1, res.Error
}

package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/canteen-backend/pkg/db/models"
	"github.com/angelmondragon/canteen-backend/pkg/enums"
)

// Repository persists orders. Find methods return nil when nothing matches.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	Save(ctx context.Context, order *models.Order) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByCode(ctx context.Context, code string) (*models.Order, error)
	FindByRef(ctx context.Context, ref string) (*models.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from enums.OrderStatus, updates map[string]any) (bool, error)
	UpdateMetadata(ctx context.Context, id uuid.UUID, metadata models.OrderMetadata) error
	ListUnsettled(ctx context.Context, before time.Time, limit int) ([]models.Order, error)
	ClaimInventoryRestore(ctx context.Context, id uuid.UUID, metadata models.OrderMetadata, at time.Time) (bool, error)
	ReleaseInventoryRestore(ctx context.Context, id uuid.UUID, metadata models.OrderMetadata) error
	MarkReconciled(ctx context.Context, id uuid.UUID, metadata models.OrderMetadata, at time.Time) (bool, error)
}

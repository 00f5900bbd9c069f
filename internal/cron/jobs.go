package cron

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/canteen-backend/internal/audit"
	"github.com/angelmondragon/canteen-backend/internal/uow"
	"github.com/angelmondragon/canteen-backend/pkg/outbox"
)

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type auditRecorder interface {
	Record(ctx context.Context, db *gorm.DB, entry audit.Entry) error
}

// unitRunner runs job writes as a unit of work so sweeps keep working when
// storage rejects transactions.
type unitRunner interface {
	Do(ctx context.Context, name string, fn func(ctx context.Context, w uow.Work) error) (uow.Report, error)
}

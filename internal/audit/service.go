package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/canteen-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/canteen-backend/pkg/db/types"
	"github.com/angelmondragon/canteen-backend/pkg/enums"
	"github.com/angelmondragon/canteen-backend/pkg/logger"
)

// Entry describes one audited action.
type Entry struct {
	ActorID    *uuid.UUID
	Action     enums.AuditAction
	TargetType enums.AuditTarget
	TargetID   uuid.UUID
	Payload    map[string]any
}

// Recorder appends audit entries through the caller's handle.
type Recorder interface {
	Record(ctx context.Context, db *gorm.DB, entry Entry) error
	RecordQuietly(ctx context.Context, db *gorm.DB, entry Entry)
}

type Service struct {
	logg *logger.Logger
}

func NewService(logg *logger.Logger) *Service {
	return &Service{logg: logg}
}

// Record inserts the entry and returns any storage error.
func (s *Service) Record(ctx context.Context, db *gorm.DB, entry Entry) error {
	if db == nil {
		return errors.New("database handle required")
	}
	if entry.Action == "" || entry.TargetType == "" || entry.TargetID == uuid.Nil {
		return fmt.Errorf("audit entry requires action, target type and target id")
	}
	row := &models.AuditLog{
		ActorID:    entry.ActorID,
		Action:     entry.Action,
		TargetType: entry.TargetType,
		TargetID:   entry.TargetID,
		Payload:    dbtypes.NewJSON(entry.Payload),
	}
	return db.WithContext(ctx).Create(row).Error
}

// RecordQuietly writes the entry and logs, never returns, a failure.
func (s *Service) RecordQuietly(ctx context.Context, db *gorm.DB, entry Entry) {
	if err := s.Record(ctx, db, entry); err != nil && s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"audit_action": entry.Action,
			"target_id":    entry.TargetID.String(),
		})
		s.logg.WarnErr(logCtx, "audit write failed", err)
	}
}

// ListForTarget returns the audit history of one document, oldest first.
func (s *Service) ListForTarget(ctx context.Context, db *gorm.DB, targetType enums.AuditTarget, targetID uuid.UUID) ([]models.AuditLog, error) {
	var rows []models.AuditLog
	err := db.WithContext(ctx).
		Where("target_type = ? AND target_id = ?", targetType, targetID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

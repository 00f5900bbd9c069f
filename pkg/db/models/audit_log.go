package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbtypes "github.com/angelmondragon/canteen-backend/pkg/db/types"
	"github.com/angelmondragon/canteen-backend/pkg/enums"
)

// AuditLog records who did what to which document.
type AuditLog struct {
	ID         uuid.UUID                    `gorm:"column:id;type:uuid;primaryKey"`
	ActorID    *uuid.UUID                   `gorm:"column:actor_id;type:uuid"`
	Action     enums.AuditAction            `gorm:"column:action;type:text;not null;index"`
	TargetType enums.AuditTarget            `gorm:"column:target_type;type:text;not null"`
	TargetID   uuid.UUID                    `gorm:"column:target_id;type:uuid;not null;index"`
	Payload    dbtypes.JSON[map[string]any] `gorm:"column:payload"`
	CreatedAt  time.Time                    `gorm:"column:created_at;autoCreateTime"`
}

func (a *AuditLog) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

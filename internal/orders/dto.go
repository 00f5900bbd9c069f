package orders

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/canteen-backend/internal/uow"
	"github.com/angelmondragon/canteen-backend/pkg/db/models"
	"github.com/angelmondragon/canteen-backend/pkg/enums"
)

// TransitionInput moves one order along its lifecycle.
type TransitionInput struct {
	OrderID uuid.UUID
	Target  enums.OrderStatus
	ActorID *uuid.UUID
}

// TransitionResult carries the updated order and any tolerated failures.
type TransitionResult struct {
	Order    *models.Order
	From     enums.OrderStatus
	Warnings []uow.Warning
}

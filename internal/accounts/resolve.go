package accounts

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/canteen-backend/internal/users"
	"github.com/angelmondragon/canteen-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/canteen-backend/pkg/errors"
)

// ResolveUser finds a user by id, then by registration number.
func ResolveUser(ctx context.Context, db *gorm.DB, ref string) (*models.User, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user reference required")
	}
	repo := users.NewRepository(db)

	if id, err := uuid.Parse(ref); err == nil {
		user, err := repo.FindByID(ctx, id)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup user")
		}
		if user != nil {
			return user, nil
		}
	}
	user, err := repo.FindByRegistrationNumber(ctx, ref)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup user")
	}
	if user == nil {
		return nil, pkgerrors.New(pkgerrors.CodeUserNotFound, "user not found").
			WithDetails(map[string]any{"user_ref": ref})
	}
	return user, nil
}

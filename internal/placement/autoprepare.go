package placement

import (
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/canteen-backend/pkg/db/models"
)

// AutoPrepareRule marks items whose category needs no kitchen work as
// prepared the moment they are ordered.
type AutoPrepareRule struct {
	categories map[string]struct{}
}

func NewAutoPrepareRule(categories []string) AutoPrepareRule {
	set := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		if c = normalizeCategory(c); c != "" {
			set[c] = struct{}{}
		}
	}
	return AutoPrepareRule{categories: set}
}

// Matches reports whether category is auto-prepared. Comparison ignores case
// and surrounding space.
func (r AutoPrepareRule) Matches(category string) bool {
	_, ok := r.categories[normalizeCategory(category)]
	return ok
}

// Apply sets prepared_qty on matching items in place. It returns the product
// ids it prepared and whether every item matched.
func (r AutoPrepareRule) Apply(items []models.OrderItem) ([]uuid.UUID, bool) {
	var prepared []uuid.UUID
	for i := range items {
		if !r.Matches(items[i].Category) {
			continue
		}
		items[i].PreparedQty = items[i].Qty
		prepared = append(prepared, items[i].ProductID)
	}
	return prepared, len(items) > 0 && len(prepared) == len(items)
}

func normalizeCategory(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}

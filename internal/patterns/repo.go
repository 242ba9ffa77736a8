package patterns

import (
	"context"

	"github.com/miradorstack/mirador-triage/internal/models"
)

// StoreFunc adapts a function to the Store interface.
type StoreFunc func(ctx context.Context, patterns []models.AttackPattern) error

// StorePatterns implements Store.
func (f StoreFunc) StorePatterns(ctx context.Context, patterns []models.AttackPattern) error {
	return f(ctx, patterns)
}

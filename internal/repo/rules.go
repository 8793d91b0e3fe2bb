package repo

import (
	"context"

	"go.uber.org/zap"

	"github.com/rampartlabs/rampart/internal/backend"
	"github.com/rampartlabs/rampart/internal/cache"
	"github.com/rampartlabs/rampart/internal/domain"
)

// Rules is the read facade over persisted policy rules. The generator
// invalidates this repository's cache key after a successful create, so
// the next read observes the new rule.
type Rules struct {
	col *collection[domain.PolicyRule]
}

// NewRules creates a rule repository. Pass the same cache instance to
// the generator so mutations invalidate it.
func NewRules(invoker backend.Invoker, c *cache.Cache[[]domain.PolicyRule], logger *zap.Logger) *Rules {
	return &Rules{
		col: newCollection(backend.ChannelGetRules, invoker, c,
			func(r domain.PolicyRule) string { return r.ID }, logger),
	}
}

func (r *Rules) FindAll(ctx context.Context) ([]domain.PolicyRule, error) {
	items, _, err := r.col.fetch(ctx)
	return items, err
}

func (r *Rules) FindByID(ctx context.Context, id string) (*domain.PolicyRule, error) {
	return r.col.findByID(ctx, "rule", id)
}

func (r *Rules) FindByFilter(ctx context.Context, f domain.RuleFilter) ([]domain.PolicyRule, error) {
	return r.col.filter(ctx, f.Matches)
}

// Ensure Rules implements domain.RuleRepository.
var _ domain.RuleRepository = (*Rules)(nil)

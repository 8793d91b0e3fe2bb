package repo

import (
	"context"

	"go.uber.org/zap"

	"github.com/rampartlabs/rampart/internal/backend"
	"github.com/rampartlabs/rampart/internal/cache"
	"github.com/rampartlabs/rampart/internal/domain"
)

// Users is the read facade over directory-service users.
type Users struct {
	col *collection[domain.DirectoryUser]
}

func NewUsers(invoker backend.Invoker, c *cache.Cache[[]domain.DirectoryUser], logger *zap.Logger) *Users {
	return &Users{
		col: newCollection(backend.ChannelGetUsers, invoker, c,
			func(u domain.DirectoryUser) string { return u.ID }, logger),
	}
}

func (r *Users) FindAll(ctx context.Context) ([]domain.DirectoryUser, error) {
	items, _, err := r.col.fetch(ctx)
	return items, err
}

func (r *Users) FindByID(ctx context.Context, id string) (*domain.DirectoryUser, error) {
	return r.col.findByID(ctx, "user", id)
}

func (r *Users) FindByFilter(ctx context.Context, f domain.UserFilter) ([]domain.DirectoryUser, error) {
	return r.col.filter(ctx, f.Matches)
}

// Ensure Users implements domain.UserRepository.
var _ domain.UserRepository = (*Users)(nil)

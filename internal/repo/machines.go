package repo

import (
	"context"

	"go.uber.org/zap"

	"github.com/rampartlabs/rampart/internal/backend"
	"github.com/rampartlabs/rampart/internal/cache"
	"github.com/rampartlabs/rampart/internal/domain"
)

// Machines is the read facade over the machine inventory.
type Machines struct {
	col *collection[domain.Machine]
}

// NewMachines creates a machine repository. A nil cache gets an
// internal one with the default collection TTL.
func NewMachines(invoker backend.Invoker, c *cache.Cache[[]domain.Machine], logger *zap.Logger) *Machines {
	return &Machines{
		col: newCollection(backend.ChannelGetMachines, invoker, c,
			func(m domain.Machine) string { return m.ID }, logger),
	}
}

// FindAll fetches every machine in one logical call.
func (r *Machines) FindAll(ctx context.Context) ([]domain.Machine, error) {
	items, _, err := r.col.fetch(ctx)
	return items, err
}

// FindByID returns ErrNotFound for an absent machine and ErrUnavailable
// when the backend cannot be asked.
func (r *Machines) FindByID(ctx context.Context, id string) (*domain.Machine, error) {
	return r.col.findByID(ctx, "machine", id)
}

// FindByFilter filters the fetched collection in memory.
func (r *Machines) FindByFilter(ctx context.Context, f domain.MachineFilter) ([]domain.Machine, error) {
	return r.col.filter(ctx, f.Matches)
}

// Ensure Machines implements domain.MachineRepository.
var _ domain.MachineRepository = (*Machines)(nil)

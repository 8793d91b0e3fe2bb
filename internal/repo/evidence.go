package repo

import (
	"context"

	"go.uber.org/zap"

	"github.com/rampartlabs/rampart/internal/backend"
	"github.com/rampartlabs/rampart/internal/cache"
	"github.com/rampartlabs/rampart/internal/domain"
)

// EvidenceRecords is the read facade over compliance evidence.
type EvidenceRecords struct {
	col *collection[domain.Evidence]
}

func NewEvidenceRecords(invoker backend.Invoker, c *cache.Cache[[]domain.Evidence], logger *zap.Logger) *EvidenceRecords {
	return &EvidenceRecords{
		col: newCollection(backend.ChannelGetEvidence, invoker, c,
			func(e domain.Evidence) string { return e.ID }, logger),
	}
}

func (r *EvidenceRecords) FindAll(ctx context.Context) ([]domain.Evidence, error) {
	items, _, err := r.col.fetch(ctx)
	return items, err
}

func (r *EvidenceRecords) FindByID(ctx context.Context, id string) (*domain.Evidence, error) {
	return r.col.findByID(ctx, "evidence", id)
}

func (r *EvidenceRecords) FindByFilter(ctx context.Context, f domain.EvidenceFilter) ([]domain.Evidence, error) {
	return r.col.filter(ctx, f.Matches)
}

// Ensure EvidenceRecords implements domain.EvidenceRepository.
var _ domain.EvidenceRepository = (*EvidenceRecords)(nil)

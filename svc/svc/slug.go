package svc

import (
	"context"
	"ctrlv/metrics"
	"ctrlv/pkg/domain"
	"ctrlv/svc/db"
	"ctrlv/svc/util"
	"time"

	"github.com/pkg/errors"
)

// SlugAllocator claims custom URLs. The claim and the write of the paste are
// one store operation guarded by the store's unique index, so a failed write
// never leaves a slug reserved.
type SlugAllocator struct {
	store db.Store
}

func NewSlugAllocator(store db.Store) *SlugAllocator {
	return &SlugAllocator{store: store}
}

// Claim persists p, reserving p.CustomURL when set. A slug held by a live
// paste yields domain.ErrSlugTaken. Pastes without a slug never conflict.
func (a *SlugAllocator) Claim(ctx context.Context, p *domain.Paste, now time.Time) error {
	err := a.store.Insert(ctx, p, now)
	if errors.Is(err, db.ErrDuplicateSlug) {
		metrics.SlugConflicts.Inc()
		util.Debug().Str("custom_url", p.CustomURL).Msg("custom url already taken")
		return domain.ErrSlugTaken
	}
	return errors.Wrap(err, "create paste")
}

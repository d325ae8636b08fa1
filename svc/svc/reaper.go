package svc

import (
	"context"
	"ctrlv/metrics"
	"ctrlv/svc/db"
	"ctrlv/svc/util"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	defaultReaperInterval = time.Hour
	defaultReaperBatch    = 100
	maxReaperBatches      = 10000
)

// Reaper physically removes expired pastes. Reads already hide them, so a
// missed or failed pass only delays reclaiming space.
type Reaper struct {
	store    db.Store
	interval time.Duration
	batch    int
	pace     *rate.Limiter
	now      func() time.Time
}
type ReaperOption func(*Reaper)

func WithReaperClock(now func() time.Time) ReaperOption {
	return func(r *Reaper) { r.now = now }
}

// WithBatchPace caps how many delete batches run per second.
func WithBatchPace(perSecond float64) ReaperOption {
	return func(r *Reaper) { r.pace = rate.NewLimiter(rate.Limit(perSecond), 1) }
}
func NewReaper(store db.Store, interval time.Duration, batch int, opts ...ReaperOption) *Reaper {
	if interval <= 0 {
		interval = defaultReaperInterval
	}
	if batch <= 0 {
		batch = defaultReaperBatch
	}
	r := &Reaper{
		store:    store,
		interval: interval,
		batch:    batch,
		pace:     rate.NewLimiter(rate.Every(10*time.Millisecond), 1),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run purges every interval until ctx is done. Failed passes are logged and
// retried on the next tick.
func (r *Reaper) Run(ctx context.Context) error {
	reaperID := util.NewRequestID()
	ctx = util.SetRequestID(ctx, reaperID)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	util.Info().
		Str("request_id", reaperID).
		Dur("interval", r.interval).
		Msg("reaper started")
	for {
		select {
		case <-ctx.Done():
			util.Info().Str("request_id", reaperID).Msg("reaper shutting down")
			return nil
		case <-ticker.C:
			deleted, err := r.RunOnce(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				util.Error().
					Err(err).
					Int("deleted", deleted).
					Str("request_id", reaperID).
					Msg("reaper pass failed")
			} else if deleted > 0 {
				util.Info().
					Int("deleted", deleted).
					Str("request_id", reaperID).
					Msg("reaper pass completed")
			}
		}
	}
}

// RunOnce deletes expired pastes in paced batches until none are left.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	metrics.ReaperCycles.Inc()
	now := r.now()
	total := 0
	for i := 0; i < maxReaperBatches; i++ {
		if err := r.pace.Wait(ctx); err != nil {
			return total, err
		}
		n, err := r.store.PurgeExpired(ctx, now, r.batch)
		total += n
		metrics.ReaperPurged.Add(float64(n))
		if err != nil {
			return total, errors.Wrap(err, "purge expired")
		}
		if n < r.batch {
			return total, nil
		}
	}
	return total, errors.New("reaper hit batch limit, more records may exist")
}

package db

import (
	"context"
	"ctrlv/pkg/domain"
	"time"

	"github.com/pkg/errors"
)

// ErrDuplicateSlug is returned by Insert when a live paste already holds the
// custom URL. Nothing is written in that case.
var ErrDuplicateSlug = errors.New("custom url already claimed")

// Store owns paste records. Every mutation is a single atomic storage
// operation; callers must not cache views or existence across calls.
// now is passed in so that visibility is decided by the caller's clock.
type Store interface {
	// Insert persists p. An expired record still holding p.CustomURL is
	// removed in the same atomic unit; a live holder yields ErrDuplicateSlug.
	Insert(ctx context.Context, p *domain.Paste, now time.Time) error
	// IncrViews looks key up as an id, then as a custom URL, and increments
	// views of the visible match. Returns domain.ErrPasteNotFound otherwise.
	IncrViews(ctx context.Context, key string, now time.Time) (*domain.Paste, error)
	List(ctx context.Context, now time.Time) ([]domain.Paste, error)
	ListPublic(ctx context.Context, now time.Time, limit int) ([]domain.Paste, error)
	Search(ctx context.Context, params domain.SearchParams, now time.Time, limit int) ([]domain.Paste, error)
	// Delete removes by id only. Absent or already expired records report
	// domain.ErrPasteNotFound.
	Delete(ctx context.Context, id string, now time.Time) error
	// PurgeExpired physically removes at most batch records with
	// expiresAt <= now and reports how many went.
	PurgeExpired(ctx context.Context, now time.Time, batch int) (int, error)
	DeleteAll(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

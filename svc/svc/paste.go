package svc

import (
	"context"
	"ctrlv/cfg"
	"ctrlv/metrics"
	"ctrlv/pkg/domain"
	"ctrlv/svc/db"
	"ctrlv/svc/util"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

const (
	maxSearchResults   = 20
	defaultRecentLimit = 10
)

// Paste is the paste store service. It holds no paste state of its own:
// every read and write goes straight to the backing store.
type Paste struct {
	store    db.Store
	slugs    *SlugAllocator
	cfg      *cfg.Cfg
	now      func() time.Time
	shutdown atomic.Bool
	opWg     sync.WaitGroup
}
type Option func(*Paste)

func WithClock(now func() time.Time) Option {
	return func(p *Paste) { p.now = now }
}
func NewPaste(store db.Store, c *cfg.Cfg, opts ...Option) *Paste {
	if store == nil || c == nil {
		panic("paste service: nil dependency (store or cfg)")
	}
	p := &Paste{
		store: store,
		slugs: NewSlugAllocator(store),
		cfg:   c,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}
func (p *Paste) begin() error {
	if p.shutdown.Load() {
		return domain.ErrShuttingDown
	}
	p.opWg.Add(1)
	return nil
}

// Shutdown refuses new writes and waits for in-flight ones.
func (p *Paste) Shutdown() {
	p.shutdown.Store(true)
	p.opWg.Wait()
	util.Debug().Msg("paste service shutdown complete")
}
func (p *Paste) Create(ctx context.Context, params domain.CreateParams) (*domain.Paste, error) {
	if err := p.begin(); err != nil {
		return nil, err
	}
	defer p.opWg.Done()
	if strings.TrimSpace(params.Content) == "" {
		return nil, domain.ErrContentRequired
	}
	params = params.Normalize()
	if params.CustomURL != "" {
		if err := domain.ValidateCustomURL(params.CustomURL); err != nil {
			return nil, err
		}
	}
	id, err := util.GenID()
	if err != nil {
		return nil, errors.Wrap(err, "gen id")
	}
	now := p.now().UTC()
	paste := &domain.Paste{
		ID:             id,
		Content:        params.Content,
		SyntaxLanguage: params.SyntaxLanguage,
		Title:          params.Title,
		CustomURL:      params.CustomURL,
		IsPrivate:      params.IsPrivate,
		CreatedAt:      now,
		ExpiresAt:      domain.ResolveExpiration(params.Expiration, now),
		ClientIPHash:   params.ClientIPHash,
	}
	if err := p.slugs.Claim(ctx, paste, now); err != nil {
		return nil, err
	}
	metrics.PasteCreated.Inc()
	util.Info().
		Str("paste_id", id).
		Bool("custom_url", paste.CustomURL != "").
		Bool("private", paste.IsPrivate).
		Str("request_id", util.GetRequestID(ctx)).
		Msg("paste created")
	return paste, nil
}

// Get resolves key as an id, then as a custom URL, and counts the view in
// the same store operation. Expired and absent pastes are indistinguishable.
func (p *Paste) Get(ctx context.Context, key string) (*domain.Paste, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, domain.ErrPasteNotFound
	}
	paste, err := p.store.IncrViews(ctx, key, p.now())
	if errors.Is(err, domain.ErrPasteNotFound) {
		return nil, domain.ErrPasteNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get paste")
	}
	metrics.PasteRetrieved.Inc()
	return paste, nil
}

// List returns every visible paste, private ones included. It is meant for
// administrative use.
func (p *Paste) List(ctx context.Context) ([]domain.Paste, error) {
	out, err := p.store.List(ctx, p.now())
	return out, errors.Wrap(err, "list pastes")
}
func (p *Paste) ListRecentPublic(ctx context.Context, limit int) ([]domain.Paste, error) {
	if limit <= 0 {
		limit = p.cfg.RecentDefaultLimit
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	out, err := p.store.ListPublic(ctx, p.now(), limit)
	return out, errors.Wrap(err, "list recent pastes")
}
func (p *Paste) Search(ctx context.Context, params domain.SearchParams) ([]domain.Paste, error) {
	params.Query = strings.TrimSpace(params.Query)
	params.Language = strings.TrimSpace(params.Language)
	if params.Query == "" {
		return nil, domain.ErrQueryRequired
	}
	out, err := p.store.Search(ctx, params, p.now(), maxSearchResults)
	if err != nil {
		return nil, errors.Wrap(err, "search pastes")
	}
	metrics.SearchQueries.Inc()
	return out, nil
}

// Delete removes a paste by id. Custom URLs are not accepted here.
func (p *Paste) Delete(ctx context.Context, id string) error {
	if err := p.begin(); err != nil {
		return err
	}
	defer p.opWg.Done()
	err := p.store.Delete(ctx, strings.TrimSpace(id), p.now())
	if errors.Is(err, domain.ErrPasteNotFound) {
		return domain.ErrPasteNotFound
	}
	if err != nil {
		return errors.Wrap(err, "delete paste")
	}
	metrics.PasteDeleted.Inc()
	util.Info().Str("paste_id", id).Str("request_id", util.GetRequestID(ctx)).Msg("paste deleted")
	return nil
}

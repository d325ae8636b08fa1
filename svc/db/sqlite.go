package db

import (
	"context"
	"ctrlv/pkg/domain"
	"database/sql"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"golang.org/x/text/cases"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

const (
	defaultMaxOpenConns = 25
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
)

const pasteCols = `id, content, syntax_language, title, custom_url, is_private, created_at, expires_at, views`

// visibleClause is the read-time expiry predicate; its one argument is now
// in unix nanoseconds.
const visibleClause = `(expires_at IS NULL OR expires_at > ?)`

type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
}

func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

// NewSQLiteWithConfig opens path and migrates the schema. Writes take the
// database lock up front (BEGIN IMMEDIATE) so a slug claim never upgrades a
// read lock mid-transaction.
func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	dsn := path + "?_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL&_synchronous=FULL"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := newSQLite(db, queryTimeout)
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}
func newSQLite(db *sql.DB, queryTimeout time.Duration) *SQLite {
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	return &SQLite{db: db, queryTimeout: queryTimeout}
}
func (s *SQLite) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}
func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		isUniqueViolation(err) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}
func (s *SQLite) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS pastes (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		syntax_language TEXT NOT NULL,
		title TEXT NOT NULL,
		custom_url TEXT,
		is_private INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		expires_at INTEGER,
		views INTEGER NOT NULL DEFAULT 0,
		client_ip_hash TEXT,
		title_fold TEXT NOT NULL,
		content_fold TEXT NOT NULL,
		CHECK (expires_at IS NULL OR expires_at > created_at),
		CHECK (views >= 0)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_custom_url ON pastes(custom_url) WHERE custom_url IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_private_created ON pastes(is_private, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_expires_at ON pastes(expires_at) WHERE expires_at IS NOT NULL;
	`
	_, err := s.db.Exec(query)
	return err
}

// fold lowers s for case-insensitive matching. A Caser holds state, so one is
// built per call.
func fold(s string) string {
	return cases.Fold().String(s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaste(r rowScanner) (*domain.Paste, error) {
	var (
		p         domain.Paste
		customURL sql.NullString
		private   int
		created   int64
		expires   sql.NullInt64
	)
	if err := r.Scan(&p.ID, &p.Content, &p.SyntaxLanguage, &p.Title, &customURL, &private, &created, &expires, &p.Views); err != nil {
		return nil, err
	}
	p.CustomURL = customURL.String
	p.IsPrivate = private != 0
	p.CreatedAt = time.Unix(0, created).UTC()
	if expires.Valid {
		at := time.Unix(0, expires.Int64).UTC()
		p.ExpiresAt = &at
	}
	return &p, nil
}
func nullableSlug(slug string) any {
	if slug == "" {
		return nil
	}
	return slug
}
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}
func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
func (s *SQLite) Insert(ctx context.Context, p *domain.Paste, now time.Time) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	err := s.insertTx(queryCtx, p, now)
	s.recordError(err)
	if isUniqueViolation(err) {
		return ErrDuplicateSlug
	}
	return errors.Wrap(err, "db insert")
}
func (s *SQLite) insertTx(ctx context.Context, p *domain.Paste, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if p.CustomURL != "" {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM pastes WHERE custom_url = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
			p.CustomURL, now.UnixNano(),
		); err != nil {
			return err
		}
	}
	q := `
	INSERT INTO pastes (id, content, syntax_language, title, custom_url, is_private, created_at, expires_at, views, client_ip_hash, title_fold, content_fold)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, q,
		p.ID, p.Content, p.SyntaxLanguage, p.Title, nullableSlug(p.CustomURL), boolInt(p.IsPrivate),
		p.CreatedAt.UnixNano(), nullableTime(p.ExpiresAt), p.ClientIPHash, fold(p.Title), fold(p.Content),
	); err != nil {
		return err
	}
	return tx.Commit()
}
func (s *SQLite) IncrViews(ctx context.Context, key string, now time.Time) (*domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	for _, col := range []string{"id", "custom_url"} {
		q := `UPDATE pastes SET views = views + 1 WHERE ` + col + ` = ? AND ` + visibleClause + ` RETURNING ` + pasteCols
		p, err := scanPaste(s.db.QueryRowContext(queryCtx, q, key, now.UnixNano()))
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		s.recordError(err)
		if err != nil {
			return nil, errors.Wrap(err, "db incr views")
		}
		return p, nil
	}
	return nil, domain.ErrPasteNotFound
}
func (s *SQLite) query(ctx context.Context, op, q string, args ...any) ([]domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(queryCtx, q, args...)
	if err != nil {
		s.recordError(err)
		return nil, errors.Wrap(err, op)
	}
	defer rows.Close()
	out := []domain.Paste{}
	for rows.Next() {
		p, err := scanPaste(rows)
		if err != nil {
			s.recordError(err)
			return nil, errors.Wrap(err, op)
		}
		out = append(out, *p)
	}
	err = rows.Err()
	s.recordError(err)
	return out, errors.Wrap(err, op)
}
func (s *SQLite) List(ctx context.Context, now time.Time) ([]domain.Paste, error) {
	q := `SELECT ` + pasteCols + ` FROM pastes WHERE ` + visibleClause + ` ORDER BY created_at DESC, rowid DESC`
	return s.query(ctx, "db list", q, now.UnixNano())
}
func (s *SQLite) ListPublic(ctx context.Context, now time.Time, limit int) ([]domain.Paste, error) {
	q := `SELECT ` + pasteCols + ` FROM pastes WHERE is_private = 0 AND ` + visibleClause + `
	ORDER BY created_at DESC, rowid DESC LIMIT ?`
	return s.query(ctx, "db list public", q, now.UnixNano(), limit)
}

// Search matches the case-folded query against case-folded title and content.
// Folding is case only: "ÉCOLE" finds "école" but not "ecole".
func (s *SQLite) Search(ctx context.Context, params domain.SearchParams, now time.Time, limit int) ([]domain.Paste, error) {
	needle := fold(strings.TrimSpace(params.Query))
	var b strings.Builder
	b.WriteString(`SELECT ` + pasteCols + ` FROM pastes WHERE is_private = 0 AND ` + visibleClause)
	b.WriteString(` AND (instr(title_fold, ?) > 0 OR instr(content_fold, ?) > 0)`)
	args := []any{now.UnixNano(), needle, needle}
	if params.Language != "" {
		b.WriteString(` AND syntax_language = ?`)
		args = append(args, params.Language)
	}
	b.WriteString(` ORDER BY created_at DESC, rowid DESC LIMIT ?`)
	args = append(args, limit)
	return s.query(ctx, "db search", b.String(), args...)
}
func (s *SQLite) Delete(ctx context.Context, id string, now time.Time) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var expires sql.NullInt64
	err := s.db.QueryRowContext(queryCtx, `DELETE FROM pastes WHERE id = ? RETURNING expires_at`, id).Scan(&expires)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrPasteNotFound
	}
	s.recordError(err)
	if err != nil {
		return errors.Wrap(err, "delete paste")
	}
	if expires.Valid && expires.Int64 <= now.UnixNano() {
		return domain.ErrPasteNotFound
	}
	return nil
}
func (s *SQLite) PurgeExpired(ctx context.Context, now time.Time, batch int) (int, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	result, err := s.db.ExecContext(queryCtx, `
		DELETE FROM pastes
		WHERE id IN (
			SELECT id FROM pastes
			WHERE expires_at IS NOT NULL AND expires_at <= ?
			LIMIT ?
		)
	`, now.UnixNano(), batch)
	s.recordError(err)
	if err != nil {
		return 0, errors.Wrap(err, "purge batch failed")
	}
	deleted, _ := result.RowsAffected()
	return int(deleted), nil
}
func (s *SQLite) DeleteAll(ctx context.Context) (int, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM pastes`)
	s.recordError(err)
	if err != nil {
		return 0, errors.Wrap(err, "delete all")
	}
	deleted, _ := result.RowsAffected()
	return int(deleted), nil
}
func (s *SQLite) Close() error {
	return s.db.Close()
}

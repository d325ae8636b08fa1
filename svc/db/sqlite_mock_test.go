package db

import (
	"context"
	"ctrlv/pkg/domain"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func newMockSQLite(t *testing.T) (*SQLite, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return newSQLite(sqlDB, time.Second), mock
}

func TestInsertRollsBackOnWriteFailure(t *testing.T) {
	s, mock := newMockSQLite(t)
	p := testPaste("p1", t0)
	p.CustomURL = "slug"

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM pastes WHERE custom_url`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO pastes`).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err := s.Insert(context.Background(), p, t0)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrDuplicateSlug)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertMapsUniqueViolation(t *testing.T) {
	s, mock := newMockSQLite(t)
	p := testPaste("p1", t0)
	p.CustomURL = "slug"

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM pastes WHERE custom_url`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO pastes`).
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique})
	mock.ExpectRollback()

	err := s.Insert(context.Background(), p, t0)
	require.ErrorIs(t, err, ErrDuplicateSlug)
	require.Equal(t, "closed", s.CircuitState())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertWithoutSlugSkipsRelease(t *testing.T) {
	s, mock := newMockSQLite(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO pastes`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Insert(context.Background(), testPaste("p1", t0), t0))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCircuitOpensAfterRepeatedFailures(t *testing.T) {
	s, mock := newMockSQLite(t)
	for i := 0; i < maxFailures; i++ {
		mock.ExpectQuery(`UPDATE pastes SET views = views \+ 1`).
			WillReturnError(errors.New("database disk image is malformed"))
	}
	for i := 0; i < maxFailures; i++ {
		_, err := s.IncrViews(context.Background(), "p1", t0)
		require.Error(t, err)
		require.NotErrorIs(t, err, domain.ErrPasteNotFound)
	}
	require.Equal(t, "open", s.CircuitState())

	_, err := s.IncrViews(context.Background(), "p1", t0)
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotFoundDoesNotTripCircuit(t *testing.T) {
	s, mock := newMockSQLite(t)
	for i := 0; i < maxFailures+1; i++ {
		mock.ExpectQuery(`DELETE FROM pastes WHERE id = \? RETURNING expires_at`).
			WillReturnRows(sqlmock.NewRows([]string{"expires_at"}))
	}
	for i := 0; i < maxFailures+1; i++ {
		require.ErrorIs(t, s.Delete(context.Background(), "missing", t0), domain.ErrPasteNotFound)
	}
	require.Equal(t, "closed", s.CircuitState())
	require.NoError(t, mock.ExpectationsWereMet())
}

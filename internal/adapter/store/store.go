// Package store is the handle on the local analytical database shared by all stages.
//
// Every stage receives a Store from the engine, issues whole-table statements against it, and
// never holds on to it past its own run. The DuckDB implementation lives in duckdb.go.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tigerroll/taxiemissions/internal/support/exception"
)

const moduleName = "store"

// Store is the subset of relational operations the pipeline issues.
type Store interface {
	// Exec runs a statement and returns the number of affected rows.
	Exec(ctx context.Context, query string, args ...interface{}) (int64, error)
	// Query runs a statement that returns rows.
	Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	// QueryRow runs a statement expected to return at most one row.
	QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row
	// QueryInt64 runs a statement that returns a single integer.
	QueryInt64(ctx context.Context, query string, args ...interface{}) (int64, error)
	// TableExists reports whether the schema catalog lists the table.
	TableExists(ctx context.Context, table string) (bool, error)
	// Count returns the row count of a table.
	Count(ctx context.Context, table string) (int64, error)
	Close() error
}

// Opener opens a fresh Store handle. The engine opens one per step.
type Opener interface {
	Open(ctx context.Context) (Store, error)
}

// SQLStore implements Store over a database/sql handle.
type SQLStore struct {
	db    *sql.DB
	name  string
	close func() error
}

// NewSQLStore wraps an already opened handle. name is used in log and error messages only.
func NewSQLStore(db *sql.DB, name string) *SQLStore {
	return &SQLStore{db: db, name: name, close: db.Close}
}

// DB returns the underlying handle.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, queryError(query, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Some statements (DDL) report no affected rows.
		return 0, nil
	}
	return n, nil
}

func (s *SQLStore) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, queryError(query, err)
	}
	return rows, nil
}

func (s *SQLStore) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

func (s *SQLStore) QueryInt64(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var n sql.NullInt64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, queryError(query, err)
	}
	return n.Int64, nil
}

func (s *SQLStore) TableExists(ctx context.Context, table string) (bool, error) {
	n, err := s.QueryInt64(ctx, "SELECT COUNT(*) FROM information_schema.tables WHERE table_name = ?", table)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLStore) Count(ctx context.Context, table string) (int64, error) {
	return s.QueryInt64(ctx, "SELECT COUNT(*) FROM "+QuoteIdent(table))
}

func (s *SQLStore) Close() error {
	if s.close == nil {
		return nil
	}
	closeFn := s.close
	s.close = nil
	if err := closeFn(); err != nil {
		return exception.NewBatchErrorf(moduleName, exception.KindIO, "failed to close %s", s.name, err)
	}
	return nil
}

// QuoteIdent quotes a table or column name for interpolation into SQL.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral quotes a string literal for interpolation into SQL, for positions
// (table functions, DDL) where the engine does not accept bind parameters.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func queryError(query string, err error) error {
	return exception.NewBatchError(moduleName, exception.KindQuery, fmt.Sprintf("statement failed: %s", compact(query)), err)
}

// compact folds whitespace so multi-line statements read on one log line.
func compact(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

var _ Store = (*SQLStore)(nil)

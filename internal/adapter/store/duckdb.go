package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tigerroll/taxiemissions/internal/config"
	"github.com/tigerroll/taxiemissions/internal/support/exception"
	"github.com/tigerroll/taxiemissions/internal/support/logger"
)

// DriverName is the database/sql driver registered by duckdb-go.
const DriverName = "duckdb"

// DuckDBOpener opens the store file named in the configuration.
type DuckDBOpener struct {
	path    string
	threads int
}

// NewDuckDBOpener creates a DuckDBOpener from the store section of the configuration.
func NewDuckDBOpener(cfg *config.Config) *DuckDBOpener {
	return &DuckDBOpener{path: cfg.Emissions.Store.Path, threads: cfg.Emissions.Store.Threads}
}

// Open connects to the DuckDB file. An empty path opens an in-memory database.
// The handle is pinned to a single connection.
func (o *DuckDBOpener) Open(ctx context.Context) (Store, error) {
	return OpenDuckDB(ctx, o.path, o.threads)
}

// OpenDuckDB opens path and applies the thread limit when threads > 0.
func OpenDuckDB(ctx context.Context, path string, threads int) (*SQLStore, error) {
	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, exception.NewBatchErrorf(moduleName, exception.KindIO, "failed to open DuckDB at '%s'", path, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, exception.NewBatchErrorf(moduleName, exception.KindIO, "failed to connect to DuckDB at '%s'", path, err)
	}
	if threads > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET threads = %d", threads)); err != nil {
			db.Close()
			return nil, exception.NewBatchErrorf(moduleName, exception.KindConfig, "failed to set DuckDB threads to %d", threads, err)
		}
	}

	name := path
	if name == "" {
		name = ":memory:"
	}
	logger.Infof("Connected to DuckDB at %s", name)

	s := NewSQLStore(db, name)
	s.close = func() error {
		err := db.Close()
		if err == nil {
			logger.Infof("DuckDB connection closed")
		}
		return err
	}
	return s, nil
}

var _ Opener = (*DuckDBOpener)(nil)

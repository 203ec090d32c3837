// Package database opens the metadata database that holds the job history.
// The analytical trip data lives elsewhere (see adapter/store); this database only
// records job and step executions.
package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/fx"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tigerroll/taxiemissions/internal/config"
	"github.com/tigerroll/taxiemissions/internal/support/exception"
	"github.com/tigerroll/taxiemissions/internal/support/logger"
)

const moduleName = "metadata"

// Config holds metadata database connection settings.
type Config struct {
	Type                   string `mapstructure:"type"`
	Database               string `mapstructure:"database"`
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes"`
}

// DialectorFactory builds a gorm.Dialector from Config.
type DialectorFactory func(cfg Config) (gorm.Dialector, error)

var (
	dialectors   = make(map[string]DialectorFactory)
	dialectorsMu sync.RWMutex
)

// RegisterDialector makes a database type available to Open.
func RegisterDialector(dbType string, factory DialectorFactory) {
	dialectorsMu.Lock()
	defer dialectorsMu.Unlock()
	dialectors[dbType] = factory
}

func init() {
	RegisterDialector("sqlite", func(cfg Config) (gorm.Dialector, error) {
		if cfg.Database == "" {
			return nil, fmt.Errorf("SQLite database path cannot be empty")
		}
		return sqlite.Open(cfg.Database), nil
	})
}

// DecodeConfig decodes the free-form metadata.database section.
// Values coming from environment variables are strings, so input is weakly typed.
func DecodeConfig(raw map[string]interface{}) (Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return cfg, err
	}
	if err := decoder.Decode(raw); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Open connects to the metadata database and applies pool settings.
func Open(cfg Config) (*gorm.DB, error) {
	dialectorsMu.RLock()
	factory, ok := dialectors[cfg.Type]
	dialectorsMu.RUnlock()
	if !ok {
		return nil, exception.NewBatchErrorf(moduleName, exception.KindConfig, "unsupported metadata database type: %q", cfg.Type)
	}
	dialector, err := factory(cfg)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, exception.KindConfig, "failed to create dialector", err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: newGormLogger()})
	if err != nil {
		return nil, exception.NewBatchError(moduleName, exception.KindIO, "failed to open metadata database", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, exception.NewBatchError(moduleName, exception.KindIO, "failed to get underlying sql.DB", err)
	}

	// Every new connection to ":memory:" is a fresh, empty database.
	if cfg.Database == ":memory:" {
		cfg.MaxOpenConns = 1
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	}
	return db, nil
}

// gormWriter forwards gorm's own messages to the package logger at DEBUG.
type gormWriter struct{}

func (gormWriter) Printf(format string, args ...interface{}) {
	logger.Debugf(format, args...)
}

func newGormLogger() gormlogger.Interface {
	return gormlogger.New(gormWriter{}, gormlogger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// NewMetadataDB is an Fx provider: it opens the metadata database, migrates it and closes it on stop.
func NewMetadataDB(lc fx.Lifecycle, cfg *config.Config) (*gorm.DB, error) {
	dbCfg, err := DecodeConfig(cfg.Emissions.Metadata.Database)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, exception.KindConfig, "failed to decode metadata.database", err)
	}
	db, err := Open(dbCfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, exception.NewBatchError(moduleName, exception.KindIO, "failed to get underlying sql.DB", err)
	}
	if err := Migrate(context.Background(), sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Debugf("Closing metadata database %s.", dbCfg.Database)
			return sqlDB.Close()
		},
	})
	return db, nil
}

// Module provides the metadata *gorm.DB.
var Module = fx.Options(
	fx.Provide(NewMetadataDB),
)

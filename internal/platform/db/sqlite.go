package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const gormTxKey contextKey = "gorm_tx"

// OpenSQLite opens (creating if needed) the SQLite database at path through
// gorm. ":memory:" and "file:" DSNs are passed through untouched.
func OpenSQLite(path string, logger zerolog.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" && !isURIPath(path) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", filepath.Dir(path), err)
		}
	}

	gormLog := logger.With().Str("component", "gorm").Logger()
	cfg := &gorm.Config{
		Logger: gormlogger.New(&gormLog, gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		}),
		PrepareStmt:    true,
		TranslateError: true,
	}

	gdb, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get database handle: %w", err)
	}

	// SQLite serializes writers; one connection keeps transactions from
	// tripping over "database is locked". An in-memory database lives only
	// as long as its connection, so that connection is never recycled.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(connLifetime(path))

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	return gdb, nil
}

func isURIPath(path string) bool {
	return strings.HasPrefix(path, "file:")
}

func isMemoryPath(path string) bool {
	return path == ":memory:" || (isURIPath(path) && strings.Contains(path, "mode=memory"))
}

// connLifetime is zero (unlimited) for in-memory databases.
func connLifetime(path string) time.Duration {
	if isMemoryPath(path) {
		return 0
	}
	return time.Hour
}

// GormFromContext returns the transaction bound by GormTransactor, or base.
func GormFromContext(ctx context.Context, base *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(gormTxKey).(*gorm.DB); ok && tx != nil {
		return tx.WithContext(ctx)
	}
	return base.WithContext(ctx)
}

// GormTransactor is the gorm counterpart of Transactor.
type GormTransactor struct {
	db *gorm.DB
}

func NewGormTransactor(db *gorm.DB) *GormTransactor {
	return &GormTransactor{db: db}
}

func (t *GormTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(gormTxKey).(*gorm.DB); ok {
		return fn(ctx)
	}
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, gormTxKey, tx))
	})
}

// SQLitePinger adapts a gorm handle to Pinger.
type SQLitePinger struct {
	DB *gorm.DB
}

func (p SQLitePinger) Ping(ctx context.Context) error {
	sqlDB, err := p.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// CloseSQLite closes the underlying connection pool.
func CloseSQLite(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

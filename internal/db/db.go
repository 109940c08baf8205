// Package db provides PostgreSQL persistence for jobs, subjects, documents and brains.
package db

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/jonathan/knowledge-brain/internal/logger"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// PostgreSQL error codes
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Ping checks the connection; the health endpoint uses it.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Migrate applies the embedded migrations that have not run yet.
func (db *DB) Migrate(ctx context.Context, log *logger.Logger) error {
	if log == nil {
		log = logger.Nop()
	}
	goose.SetLogger(&gooseLogger{log: log.With("component", "migrations")})
	goose.SetBaseFS(migrationFiles)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	sqlDB := stdlib.OpenDBFromPool(db.pool)
	defer sqlDB.Close()

	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Jobs returns the job store backed by this database.
func (db *DB) Jobs() *JobStore {
	return &JobStore{pool: db.pool}
}

// Documents returns the subject and document repository backed by this database.
func (db *DB) Documents() *DocumentRepository {
	return &DocumentRepository{pool: db.pool}
}

// Brains returns the brain store backed by this database.
func (db *DB) Brains() *BrainStore {
	return &BrainStore{pool: db.pool}
}

// gooseLogger implements goose.Logger
type gooseLogger struct {
	log *logger.Logger
}

func (l *gooseLogger) Printf(format string, v ...interface{}) {
	l.log.SugaredLogger.Infof(format, v...)
}

func (l *gooseLogger) Fatalf(format string, v ...interface{}) {
	l.log.SugaredLogger.Fatalf(format, v...)
}

func pgErrorCode(err error) (code, constraint string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

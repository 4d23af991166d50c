package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prxgr4mmer/perps-metrics-service/internal/config"
	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
)

// DB wraps the PostgreSQL connection pool used by the bar and fee ledger
// repositories
type DB struct {
	Pool   *pgxpool.Pool
	config config.DatabaseConfig
	logger *slog.Logger
}

// NewDB creates a new PostgreSQL connection pool
func NewDB(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDatabaseConnection, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %v", domain.ErrDatabaseConnection, err)
	}

	logger.Info("database connection established",
		"max_conns", cfg.MaxOpenConns,
		"min_conns", cfg.MaxIdleConns,
	)

	if cfg.MigrationsPath == "" {
		cfg.MigrationsPath = "file://migrations"
	}

	return &DB{
		Pool:   pool,
		config: cfg,
		logger: logger.With("component", "postgres"),
	}, nil
}

// Migrate applies every pending migration
func (db *DB) Migrate() error {
	return Migrate(db.config, db.logger)
}

// Migrate applies every pending migration without opening a pool
func Migrate(cfg config.DatabaseConfig, logger *slog.Logger) error {
	logger.Info("running database migrations", "path", cfg.MigrationsPath)

	m, err := migrate.New(cfg.MigrationsPath, cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	logger.Info("migrations completed", "version", version, "dirty", dirty)
	return nil
}

// MigrateDown rolls back every migration
func MigrateDown(cfg config.DatabaseConfig, logger *slog.Logger) error {
	logger.Info("rolling back migrations", "path", cfg.MigrationsPath)

	m, err := migrate.New(cfg.MigrationsPath, cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to rollback migrations: %w", err)
	}
	return nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.logger.Info("closing database connection")
	db.Pool.Close()
}

// Ping checks if the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

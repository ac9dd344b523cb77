package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/pantrypilot/pantrypilot-backend/pkg/config"
	"github.com/pantrypilot/pantrypilot-backend/pkg/logger"
)

const healthTimeout = time.Second

// DB is the service's sqlx pool.
type DB struct {
	*sqlx.DB
	logger *logger.Logger
}

// New opens the pool described by cfg and verifies it with a ping.
func New(cfg *config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	log.Info().
		Int("max_open_conns", cfg.MaxOpenConns).
		Int("max_idle_conns", cfg.MaxIdleConns).
		Msg("connected to database")

	return Wrap(db, log), nil
}

// Wrap adopts an existing sqlx handle, e.g. one backed by sqlmock.
func Wrap(db *sqlx.DB, log *logger.Logger) *DB {
	return &DB{DB: db, logger: log.WithComponent("database")}
}

// Close closes the pool.
func (db *DB) Close() error {
	return db.DB.Close()
}

// Health pings the database with a short timeout.
func (db *DB) Health(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return map[string]string{"status": "down", "error": err.Error()}
	}
	stats := db.Stats()
	return map[string]string{
		"status":     "up",
		"open_conns": fmt.Sprint(stats.OpenConnections),
		"in_use":     fmt.Sprint(stats.InUse),
	}
}

// Transaction runs fn in a transaction. It rolls back when fn returns an
// error or panics and commits otherwise.
func (db *DB) Transaction(ctx context.Context, fn func(*sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error().Err(rbErr).Msg("failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

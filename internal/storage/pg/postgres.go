package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"voicebot/internal/models"
)

type PostgresDB struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresDB opens a Postgres connection pool from a postgres:// DSN
func NewPostgresDB(dsn string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open Postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &PostgresDB{db: db, now: time.Now}, nil
}

// DB exposes the underlying pool for migrations
func (p *PostgresDB) DB() *sql.DB {
	return p.db
}

// Initialize is a no-op - tables are managed via migrations
func (p *PostgresDB) Initialize(ctx context.Context) error {
	return nil
}

// UpsertUserValue deletes prior identical rows and inserts a fresh one in a single transaction.
// A transaction-scoped advisory lock on the user serializes concurrent upserts.
func (p *PostgresDB) UpsertUserValue(ctx context.Context, userID int64, value string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, userID); err != nil {
		return fmt.Errorf("failed to lock user values: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM user_values WHERE user_id = $1 AND value = $2`, userID, value); err != nil {
		return fmt.Errorf("failed to delete previous user value: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_values (user_id, value, created_at) VALUES ($1, $2, $3)`,
		userID, value, p.now().UTC()); err != nil {
		return fmt.Errorf("failed to insert user value: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit user value: %w", err)
	}
	return nil
}

// ListUserValues returns the values of a user, newest first
func (p *PostgresDB) ListUserValues(ctx context.Context, userID int64) ([]models.UserValue, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT user_id, value, created_at FROM user_values WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user values: %w", err)
	}
	defer rows.Close()

	var values []models.UserValue
	for rows.Next() {
		var v models.UserValue
		if err := rows.Scan(&v.UserID, &v.Value, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user value: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// Close closes the connection pool
func (p *PostgresDB) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

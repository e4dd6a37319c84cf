package ch

import (
	"context"
	"fmt"
	"time"

	"voicebot/internal/models"

	"github.com/ClickHouse/clickhouse-go/v2"
)

type ClickHouseDB struct {
	conn clickhouse.Conn
	now  func() time.Time
}

// NewClickHouseDB creates a new ClickHouse database connection from a clickhouse:// DSN
func NewClickHouseDB(dsn string) (*ClickHouseDB, error) {
	options, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid ClickHouse DSN: %w", err)
	}
	options.Protocol = clickhouse.Native

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	// Test the connection
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn, now: time.Now}, nil
}

// Initialize is a no-op - tables are managed via migrations
func (db *ClickHouseDB) Initialize(ctx context.Context) error {
	// Tables are managed via migrations (see internal/migrations/clickhouse)
	return nil
}

// UpsertUserValue removes prior identical rows with a lightweight delete and inserts a fresh one.
// Lightweight deletes mask rows synchronously, so the follow-up insert is the only visible row.
func (db *ClickHouseDB) UpsertUserValue(ctx context.Context, userID int64, value string) error {
	err := db.conn.Exec(ctx, `DELETE FROM user_values WHERE user_id = ? AND value = ?`, userID, value)
	if err != nil {
		return fmt.Errorf("failed to delete previous user value: %w", err)
	}

	err = db.conn.Exec(ctx, `INSERT INTO user_values (user_id, value, created_at) VALUES (?, ?, ?)`,
		userID, value, db.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert user value: %w", err)
	}
	return nil
}

// ListUserValues returns the values of a user, newest first
func (db *ClickHouseDB) ListUserValues(ctx context.Context, userID int64) ([]models.UserValue, error) {
	rows, err := db.conn.Query(ctx,
		`SELECT user_id, value, created_at FROM user_values WHERE user_id = ? ORDER BY created_at DESC`, userID)
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

// Close closes the database connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

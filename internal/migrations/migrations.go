// Package migrations embeds the goose SQL migrations for every supported dialect.
package migrations

import (
	"embed"
	"fmt"
	"strings"
)

// FS holds one directory of migrations per goose dialect
//
//go:embed postgres/*.sql clickhouse/*.sql
var FS embed.FS

// Dir returns the migrations directory for a goose dialect
func Dir(dialect string) string {
	return dialect
}

// Target resolves the database/sql driver and goose dialect for a DATABASE_URL
func Target(databaseURL string) (driver, dialect string, err error) {
	switch {
	case strings.HasPrefix(databaseURL, "clickhouse://"):
		return "clickhouse", "clickhouse", nil
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return "postgres", "postgres", nil
	default:
		return "", "", fmt.Errorf("unsupported DATABASE_URL scheme")
	}
}

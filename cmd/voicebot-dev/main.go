package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"

	"voicebot/internal/app"
	"voicebot/internal/migrations"
)

func main() {
	ctx := context.Background()

	log.Println("Starting ClickHouse testcontainer...")

	clickhouseContainer, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.3.102-alpine",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword("devpassword"),
		clickhouse.WithDatabase("default"),
	)
	if err != nil {
		log.Fatalf("Failed to start ClickHouse container: %v", err)
	}

	// Ensure container cleanup on exit
	defer func() {
		log.Println("Stopping ClickHouse container...")
		if err := clickhouseContainer.Terminate(ctx); err != nil {
			log.Printf("Failed to terminate container: %v", err)
		}
	}()

	host, err := clickhouseContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	port, err := clickhouseContainer.MappedPort(ctx, "9000/tcp")
	if err != nil {
		log.Fatalf("Failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("clickhouse://default:devpassword@%s:%s/default", host, port.Port())
	log.Printf("ClickHouse started at %s:%s", host, port.Port())

	if err := migrate(dsn); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	os.Setenv("DATABASE_URL", dsn)
	os.Setenv("USE_MOCK_DB", "false")
	os.Setenv("WEBHOOK_MODE", "false")
	if os.Getenv("THREAD_STORE") == "" {
		os.Setenv("THREAD_STORE", "bolt")
		os.Setenv("THREAD_STORE_PATH", filepath.Join(os.TempDir(), "voicebot-dev", "threads.bolt"))
	}
	if os.Getenv("LOG_LEVEL") == "" {
		os.Setenv("LOG_LEVEL", "debug")
	}

	if os.Getenv("TELEGRAM_BOT_TOKEN") == "" || os.Getenv("OPENAI_API_KEY") == "" || os.Getenv("OPENAI_ASSISTANT_ID") == "" {
		log.Println("TELEGRAM_BOT_TOKEN, OPENAI_API_KEY and OPENAI_ASSISTANT_ID must be set in .env or the environment.")
	}

	log.Println("Starting application with ClickHouse backend...")

	application, err := app.New(ctx)
	if err != nil {
		log.Printf("Failed to create application: %v", err)
		return
	}

	if err := application.Run(ctx); err != nil {
		log.Printf("Application error: %v", err)
	}
}

func migrate(dsn string) error {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("clickhouse"); err != nil {
		return err
	}
	return goose.Up(db, migrations.Dir("clickhouse"))
}

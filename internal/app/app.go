package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"voicebot/internal/analytics"
	"voicebot/internal/assistant"
	"voicebot/internal/bot"
	"voicebot/internal/config"
	"voicebot/internal/mood"
	"voicebot/internal/speech"
	"voicebot/internal/storage"
	"voicebot/internal/storage/ch"
	"voicebot/internal/storage/pg"
	"voicebot/internal/storage/stubs"
	"voicebot/internal/threads"
	"voicebot/internal/transcode"
	"voicebot/internal/validator"
)

// App represents the application
type App struct {
	config       *config.Config
	logger       *zap.Logger
	db           storage.Storage
	threads      threads.Store
	tracker      *analytics.Tracker
	orchestrator *assistant.Orchestrator
	bot          *bot.Bot
	server       *http.Server
}

// New creates and initializes a new application instance
func New(ctx context.Context) (*App, error) {
	// Load .env file if it exists
	envErr := godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if envErr != nil {
		logger.Info("No .env file found, using system environment variables")
	}

	app := &App{config: cfg, logger: logger}
	logger.Info("Starting voice assistant bot...")

	if err := app.initStores(ctx); err != nil {
		app.closeStores()
		return nil, err
	}

	if err := app.initBot(); err != nil {
		app.closeStores()
		return nil, err
	}

	app.initHTTPServer(ctx)
	return app, nil
}

// NewLogger builds the production JSON logger at the given level
func NewLogger(level string) (*zap.Logger, error) {
	atomic, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = atomic
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// initStores connects persistence and the thread store concurrently
func (a *App) initStores(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		db, err := a.openDatabase(gctx)
		if err != nil {
			return err
		}
		a.db = db
		return nil
	})

	g.Go(func() error {
		store, err := a.openThreadStore(gctx)
		if err != nil {
			return err
		}
		a.threads = store
		return nil
	})

	return g.Wait()
}

func (a *App) openDatabase(ctx context.Context) (storage.Storage, error) {
	var db storage.Storage
	switch {
	case a.config.UseMockDB:
		a.logger.Info("Using mock database")
		db = stubs.NewMockDB()
	case strings.HasPrefix(a.config.DatabaseURL, "clickhouse"):
		a.logger.Info("Connecting to ClickHouse")
		clickhouseDB, err := ch.NewClickHouseDB(a.config.DatabaseURL)
		if err != nil {
			return nil, err
		}
		db = clickhouseDB
	default:
		a.logger.Info("Connecting to Postgres")
		postgresDB, err := pg.NewPostgresDB(a.config.DatabaseURL)
		if err != nil {
			return nil, err
		}
		db = postgresDB
	}

	if err := db.Initialize(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.logger.Info("Database initialized successfully")
	return db, nil
}

func (a *App) openThreadStore(ctx context.Context) (threads.Store, error) {
	a.logger.Info("Opening thread store", zap.String("backend", a.config.ThreadStore))

	switch a.config.ThreadStore {
	case config.ThreadStoreRedis:
		store, err := threads.NewRedisStore(ctx, a.config.RedisURL, a.config.ThreadTTL)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.ThreadStoreBolt:
		store, err := threads.NewBoltStore(a.config.ThreadStorePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return threads.NewMemoryStore(), nil
	}
}

// initBot wires the OpenAI client, the exchange pipeline and the Telegram bot
func (a *App) initBot() error {
	cfg := a.config

	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		a.logger.Error("Failed to create bot API", zap.Error(err))
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	a.logger.Info("Telegram client ready", zap.String("bot_username", api.Self.UserName))

	client := openai.NewClient(cfg.OpenAIKey)

	var sink analytics.Sink
	if cfg.AmplitudeKey != "" {
		sink = analytics.NewAmplitudeSink(cfg.AmplitudeKey)
	} else {
		a.logger.Info("AMPLITUDE_API_KEY not set, analytics events are only logged")
		sink = analytics.NewLogSink(a.logger)
	}
	a.tracker = analytics.NewTracker(sink, cfg.AnalyticsWorkers, a.logger)

	speechService := speech.NewService(client, transcode.NewTranscoder(cfg.FFmpegPath), speech.Options{
		TranscriptionModel: cfg.TranscriptionModel,
		SpeechModel:        cfg.SpeechModel,
		Voice:              cfg.Voice,
	}, a.logger)

	a.orchestrator = assistant.NewOrchestrator(
		client,
		threads.NewRegistry(a.threads, client, a.logger),
		validator.New(client, a.db, cfg.ChatModel, a.logger),
		speechService,
		assistant.Options{
			AssistantID:  cfg.AssistantID,
			PollInterval: cfg.PollInterval,
			RunTimeout:   cfg.RunTimeout,
		},
		a.logger,
	)

	a.bot = bot.NewBot(api, bot.Dependencies{
		Assistant:   a.orchestrator,
		Speech:      speechService,
		Mood:        mood.NewClassifier(client, cfg.ChatModel),
		EncodeImage: transcode.EncodeImage,
		Tracker:     a.tracker,
		DB:          a.db,
	}, bot.Options{
		Token:          cfg.TelegramToken,
		AllowedUserIDs: cfg.AllowedUserIDs,
		TempDir:        cfg.TempDir,
	}, a.logger)
	return nil
}

// initHTTPServer initializes the HTTP server for health checks, webhook and the values API
func (a *App) initHTTPServer(ctx context.Context) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		mode := "polling"
		if a.config.WebhookMode {
			mode = "webhook"
		}
		fmt.Fprintf(w, "Voice assistant bot is running (mode: %s)", mode)
	})

	mux.HandleFunc(bot.WebhookPath, a.bot.WebhookHandler(ctx))
	bot.NewHTTPServer(a.bot, a.config.WebhookMode).RegisterRoutes(mux)

	a.server = &http.Server{
		Addr:         ":" + a.config.Port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Run starts the application and blocks until ctx is cancelled or a signal arrives
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("Starting HTTP server", zap.String("port", a.config.Port))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if a.config.WebhookMode {
		if err := a.bot.StartWebhook(a.config.WebhookURL); err != nil {
			a.Shutdown()
			return fmt.Errorf("failed to setup webhook: %w", err)
		}
		a.logger.Info("Webhook configured", zap.String("path", bot.WebhookPath))
	} else {
		go func() {
			if err := a.bot.Start(ctx); err != nil {
				a.logger.Error("Polling stopped", zap.Error(err))
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
		a.logger.Error("HTTP server error", zap.Error(runErr))
	}

	a.logger.Info("Shutting down...")
	if err := a.Shutdown(); err != nil {
		return err
	}
	return runErr
}

// Shutdown stops intake, drains in-flight work and closes every backend
func (a *App) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	a.bot.Wait()
	a.orchestrator.Wait()
	a.tracker.Close()

	err := a.closeStores()
	if err != nil {
		a.logger.Error("Error closing stores", zap.Error(err))
	} else {
		a.logger.Info("Shutdown complete")
	}
	a.logger.Sync()
	return err
}

func (a *App) closeStores() error {
	var errs []error
	if a.threads != nil {
		errs = append(errs, a.threads.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

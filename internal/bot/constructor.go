package bot

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"voicebot/internal/transcode"
)

const (
	defaultMaxConcurrent = 16
	downloadTimeout      = time.Minute
)

// NewBot creates the dispatch layer on top of a Telegram client
func NewBot(api API, deps Dependencies, opts Options, logger *zap.Logger) *Bot {
	allowedUsers := make(map[int64]bool)
	for _, id := range opts.AllowedUserIDs {
		allowedUsers[id] = true
	}

	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: downloadTimeout}
	}
	if deps.EncodeImage == nil {
		deps.EncodeImage = transcode.EncodeImage
	}

	logger.Info("Bot created",
		zap.Int("allowed_users", len(allowedUsers)),
		zap.Int64("max_concurrent", opts.MaxConcurrent),
	)

	return &Bot{
		api:          api,
		deps:         deps,
		token:        opts.Token,
		allowedUsers: allowedUsers,
		tempDir:      opts.TempDir,
		httpClient:   opts.HTTPClient,
		slots:        semaphore.NewWeighted(opts.MaxConcurrent),
		logger:       logger,
	}
}

// isAllowed reports whether userID may talk to the bot
func (b *Bot) isAllowed(userID int64) bool {
	return len(b.allowedUsers) == 0 || b.allowedUsers[userID]
}

package bot

import (
	"context"
	"net/http"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"voicebot/internal/storage"
)

// API is the part of the Telegram client the bot uses; *tgbotapi.BotAPI satisfies it
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	GetWebhookInfo() (tgbotapi.WebhookInfo, error)
}

// Exchanger runs one assistant exchange and returns the spoken reply
type Exchanger interface {
	Exchange(ctx context.Context, chatID int64, userMessage string) ([]byte, error)
}

// Speech transcribes voice notes and synthesizes text outside of any thread
type Speech interface {
	Transcribe(ctx context.Context, path string) (string, error)
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// MoodDescriber describes the mood of a photo in a single model call
type MoodDescriber interface {
	Describe(ctx context.Context, imageBase64 string) (string, error)
}

// ImageEncoder reads an image file as base64
type ImageEncoder func(path string) (string, error)

// Tracker records product events without blocking
type Tracker interface {
	Track(event string, userID int64, props map[string]any)
}

// Dependencies are the collaborators a Bot dispatches to
type Dependencies struct {
	Assistant   Exchanger
	Speech      Speech
	Mood        MoodDescriber
	EncodeImage ImageEncoder
	Tracker     Tracker
	DB          storage.Storage
}

// Options configure the dispatch layer
type Options struct {
	Token          string
	AllowedUserIDs []int64 // Empty allows everyone
	TempDir        string
	MaxConcurrent  int64
	HTTPClient     *http.Client
}

// Bot represents the Telegram bot wrapper
type Bot struct {
	api          API
	deps         Dependencies
	token        string
	allowedUsers map[int64]bool
	tempDir      string
	httpClient   *http.Client
	slots        *semaphore.Weighted
	inflight     sync.WaitGroup
	logger       *zap.Logger
}

// Analytics event names, one per dispatch branch
const (
	EventStart          = "start_command"
	EventText           = "text_message"
	EventVoice          = "voice_message"
	EventPhoto          = "photo_message"
	EventUnknownCommand = "unknown_command"
	EventUnsupported    = "unsupported_message"
)

// User-facing texts
const (
	greetingPrompt     = "Say hello to user and describe what you can do"
	msgNoResponse      = "Sorry, failed to get response from OpenAI."
	msgNoTranscript    = "Sorry, failed to transcribe audio."
	msgNoMood          = "Sorry, failed to understand the photo."
	msgError           = "Sorry, an error occurred. Please try again later."
	msgUnauthorized    = "Sorry, you are not authorized to use this bot."
	msgUnknownCommand  = "Unknown command. Use /start to begin."
	msgUnsupportedKind = "I can listen to text, voice messages and photos."
)

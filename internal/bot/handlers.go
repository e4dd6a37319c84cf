package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// HandleUpdate processes a single update synchronously
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	message := update.Message
	if message == nil || message.From == nil || message.Chat == nil {
		return
	}

	if !b.isAllowed(message.From.ID) {
		b.logger.Warn("Unauthorized access attempt",
			zap.Int64("user_id", message.From.ID),
			zap.String("username", message.From.UserName),
			zap.String("first_name", message.From.FirstName),
			zap.String("last_name", message.From.LastName),
		)
		b.sendText(message.Chat.ID, msgUnauthorized)
		return
	}

	b.handleMessage(ctx, message)
}

// handleMessage routes a message by payload kind
func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	// Recover from panics to prevent bot crashes
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleMessage",
				zap.Any("panic", r),
				zap.Int64("chat_id", message.Chat.ID),
			)
			b.sendText(message.Chat.ID, msgError)
		}
	}()

	switch {
	case message.IsCommand():
		if message.Command() == "start" {
			b.handleStart(ctx, message)
			return
		}
		b.sendText(message.Chat.ID, msgUnknownCommand)
		b.track(EventUnknownCommand, message, nil)
	case message.Voice != nil:
		b.handleVoice(ctx, message)
	case len(message.Photo) > 0:
		b.handlePhoto(ctx, message)
	case message.Text != "":
		b.handleText(ctx, message)
	default:
		b.sendText(message.Chat.ID, msgUnsupportedKind)
		b.track(EventUnsupported, message, nil)
	}
}

// handleStart greets the user through the assistant
func (b *Bot) handleStart(ctx context.Context, message *tgbotapi.Message) {
	err := b.converse(ctx, message.Chat.ID, greetingPrompt)
	b.track(EventStart, message, err)
}

// handleText forwards the text to the assistant
func (b *Bot) handleText(ctx context.Context, message *tgbotapi.Message) {
	err := b.converse(ctx, message.Chat.ID, message.Text)
	b.track(EventText, message, err)
}

// handleVoice transcribes the voice note and forwards it to the assistant
func (b *Bot) handleVoice(ctx context.Context, message *tgbotapi.Message) {
	err := b.voice(ctx, message)
	b.track(EventVoice, message, err)
}

func (b *Bot) voice(ctx context.Context, message *tgbotapi.Message) error {
	chatID := message.Chat.ID

	path, cleanup, err := b.download(ctx, message.Voice.FileID, "_voice.ogg")
	defer cleanup()
	if err != nil {
		b.logger.Error("Failed to download voice", zap.Int64("chat_id", chatID), zap.Error(err))
		b.sendText(chatID, msgError)
		return err
	}

	text, err := b.deps.Speech.Transcribe(ctx, path)
	if err != nil {
		b.sendText(chatID, msgNoTranscript)
		return err
	}

	return b.converse(ctx, chatID, text)
}

// handlePhoto describes the mood of the photo and speaks it without touching the thread
func (b *Bot) handlePhoto(ctx context.Context, message *tgbotapi.Message) {
	err := b.photo(ctx, message)
	b.track(EventPhoto, message, err)
}

func (b *Bot) photo(ctx context.Context, message *tgbotapi.Message) error {
	chatID := message.Chat.ID
	largest := message.Photo[len(message.Photo)-1]

	path, cleanup, err := b.download(ctx, largest.FileID, "_photo.jpg")
	defer cleanup()
	if err != nil {
		b.logger.Error("Failed to download photo", zap.Int64("chat_id", chatID), zap.Error(err))
		b.sendText(chatID, msgError)
		return err
	}

	image, err := b.deps.EncodeImage(path)
	if err != nil {
		b.logger.Error("Failed to encode photo", zap.Int64("chat_id", chatID), zap.Error(err))
		b.sendText(chatID, msgError)
		return err
	}

	b.showRecording(chatID)

	description, err := b.deps.Mood.Describe(ctx, image)
	if err != nil {
		b.logger.Error("Failed to describe mood", zap.Int64("chat_id", chatID), zap.Error(err))
		b.sendText(chatID, msgNoMood)
		return err
	}

	audio, err := b.deps.Speech.Synthesize(ctx, description)
	if err != nil {
		b.sendText(chatID, msgNoResponse)
		return err
	}

	return b.reply(chatID, audio)
}

// converse runs an assistant exchange and sends the spoken reply
func (b *Bot) converse(ctx context.Context, chatID int64, text string) error {
	b.showRecording(chatID)

	audio, err := b.deps.Assistant.Exchange(ctx, chatID, text)
	if err != nil {
		b.sendText(chatID, msgNoResponse)
		return err
	}
	if len(audio) == 0 {
		b.sendText(chatID, msgNoResponse)
		return fmt.Errorf("empty reply audio")
	}

	return b.reply(chatID, audio)
}

func (b *Bot) reply(chatID int64, audio []byte) error {
	if err := b.sendVoice(chatID, audio); err != nil {
		b.logger.Error("Failed to send voice reply", zap.Int64("chat_id", chatID), zap.Error(err))
		b.sendText(chatID, msgError)
		return err
	}
	return nil
}

// track emits the single analytics event of a dispatch branch
func (b *Bot) track(event string, message *tgbotapi.Message, err error) {
	if b.deps.Tracker == nil {
		return
	}

	props := map[string]any{
		"chat_id": message.Chat.ID,
		"success": err == nil,
	}
	if message.From.UserName != "" {
		props["username"] = message.From.UserName
	}
	b.deps.Tracker.Track(event, message.From.ID, props)
}

package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// sendText sends a plain text message; failures are only logged
func (b *Bot) sendText(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Error("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// sendVoice uploads audio as a voice note
func (b *Bot) sendVoice(chatID int64, audio []byte) error {
	voice := tgbotapi.NewVoice(chatID, tgbotapi.FileBytes{
		Name:  uuid.NewString() + "_response.ogg",
		Bytes: audio,
	})
	if _, err := b.api.Send(voice); err != nil {
		return fmt.Errorf("failed to send voice: %w", err)
	}
	return nil
}

// showRecording tells the user a voice reply is being prepared
func (b *Bot) showRecording(chatID int64) {
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatRecordVoice)); err != nil {
		b.logger.Debug("Failed to send chat action", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// download stores a Telegram attachment in a uniquely named temp file.
// The returned cleanup removes it and must be called on every path.
func (b *Bot) download(ctx context.Context, fileID, suffix string) (string, func(), error) {
	link, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return "", func() {}, fmt.Errorf("failed to resolve file %s: %w", fileID, err)
	}

	path := filepath.Join(b.tempDir, uuid.NewString()+suffix)
	cleanup := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			b.logger.Warn("Failed to remove temp file", zap.String("path", path), zap.Error(err))
		}
	}

	if err := b.fetch(ctx, link, path); err != nil {
		cleanup()
		return "", func() {}, err
	}
	return path, cleanup, nil
}

func (b *Bot) fetch(ctx context.Context, link, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download file: status %d", resp.StatusCode)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	return nil
}

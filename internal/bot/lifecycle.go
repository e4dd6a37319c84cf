package bot

import (
	"context"
	"encoding/json"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// WebhookPath is where Telegram delivers updates in webhook mode
const WebhookPath = "/telegram-webhook"

// Start runs the bot in polling mode until ctx is cancelled
func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info("Starting bot in polling mode")

	// Remove webhook (if any was set previously)
	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		b.logger.Warn("Failed to delete webhook", zap.Error(err))
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("Bot started successfully. Waiting for updates...")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			// A received update is handled even if shutdown starts while waiting for a slot
			b.Dispatch(context.WithoutCancel(ctx), update)
		}
	}
}

// StartWebhook registers the webhook URL with Telegram
func (b *Bot) StartWebhook(webhookURL string) error {
	b.logger.Info("Setting up webhook", zap.String("webhook_url", webhookURL))

	webhookConfig, err := tgbotapi.NewWebhook(webhookURL + WebhookPath)
	if err != nil {
		return err
	}
	webhookConfig.MaxConnections = 40

	if _, err := b.api.Request(webhookConfig); err != nil {
		b.logger.Error("Failed to set webhook", zap.Error(err), zap.String("webhook_url", webhookURL))
		return err
	}

	info, err := b.api.GetWebhookInfo()
	if err != nil {
		b.logger.Warn("Failed to get webhook info", zap.Error(err))
	} else {
		b.logger.Info("Webhook set successfully",
			zap.String("url", info.URL),
			zap.Int("pending_updates", info.PendingUpdateCount),
		)
	}
	return nil
}

// WebhookHandler decodes updates posted by Telegram and dispatches them under ctx
func (b *Bot) WebhookHandler(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			b.logger.Warn("Error decoding webhook update", zap.Error(err))
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		// Respond quickly; the update is handled in the background
		b.Dispatch(ctx, update)
		w.WriteHeader(http.StatusOK)
	}
}

// Dispatch handles update in the background, bounded by the concurrency limit.
// It blocks while every slot is busy, so a flood of updates slows intake instead of piling up goroutines.
// Different chats interleave freely. Handlers are not cancelled with ctx; Wait drains them.
func (b *Bot) Dispatch(ctx context.Context, update tgbotapi.Update) {
	if err := b.slots.Acquire(ctx, 1); err != nil {
		b.logger.Warn("Dropping update", zap.Int("update_id", update.UpdateID), zap.Error(err))
		return
	}

	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		defer b.slots.Release(1)

		b.HandleUpdate(context.WithoutCancel(ctx), update)
	}()
}

// Wait blocks until every dispatched update has been handled
func (b *Bot) Wait() {
	b.inflight.Wait()
}

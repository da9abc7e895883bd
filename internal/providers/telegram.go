// Package providers holds the built-in intake providers. Providers are
// long-lived loops that feed validated request text into the task queue
// through the EnqueueFunc they are handed; they never touch the store
// directly.
package providers

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"piebrain/internal/capability"
	"piebrain/internal/config"
)

const telegramName = "telegram"

const telegramHelp = `Send me a message and I'll route it to the right capability.

Commands:
/start - welcome message
/help - this message`

// botClient is the slice of the Bot API the provider drives. The
// concrete *tgbotapi.BotAPI satisfies it.
type botClient interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram long-polls the Bot API and enqueues every authorized text
// message as a task, replying with the queued id.
type Telegram struct {
	token   string
	allowed map[int64]bool
	connect func(token string) (botClient, error)
	log     *zap.Logger
}

func NewTelegram(cfg config.TelegramConfig, log *zap.Logger) *Telegram {
	if log == nil {
		log = zap.NewNop()
	}
	allowed := make(map[int64]bool, len(cfg.AllowedChatIDs))
	for _, id := range cfg.AllowedChatIDs {
		allowed[id] = true
	}
	return &Telegram{
		token:   cfg.Token,
		allowed: allowed,
		connect: connectBot,
		log:     log,
	}
}

func connectBot(token string) (botClient, error) {
	return tgbotapi.NewBotAPI(token)
}

func (t *Telegram) Name() string { return telegramName }

func (t *Telegram) Run(ctx context.Context, enqueue capability.EnqueueFunc) error {
	bot, err := t.connect(t.token)
	if err != nil {
		return fmt.Errorf("connect telegram bot: %w", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)
	t.log.Info("telegram provider polling")

	for {
		select {
		case <-ctx.Done():
			bot.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handle(bot, update, enqueue)
		}
	}
}

func (t *Telegram) handle(bot botClient, update tgbotapi.Update, enqueue capability.EnqueueFunc) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID

	if !t.authorized(chatID) {
		t.log.Warn("unauthorized telegram chat", zap.Int64("chat", chatID))
		t.reply(bot, chatID, "Unauthorized.")
		return
	}

	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			t.reply(bot, chatID, "Online. Send me a task and I'll route it.")
		case "help":
			t.reply(bot, chatID, telegramHelp)
		default:
			t.reply(bot, chatID, "Unknown command. Try /help.")
		}
		return
	}

	if msg.Text == "" {
		t.reply(bot, chatID, "Send text to queue a task.")
		return
	}

	id, err := enqueue(msg.Text)
	if err != nil {
		t.log.Warn("telegram enqueue rejected", zap.Int64("chat", chatID), zap.Error(err))
		t.reply(bot, chatID, "Rejected: "+err.Error())
		return
	}
	t.log.Info("telegram task queued", zap.Int64("chat", chatID), zap.Int64("task", id))
	t.reply(bot, chatID, fmt.Sprintf("Task #%d queued.", id))
}

// Open mode when no allowlist is configured.
func (t *Telegram) authorized(chatID int64) bool {
	return len(t.allowed) == 0 || t.allowed[chatID]
}

func (t *Telegram) reply(bot botClient, chatID int64, text string) {
	if _, err := bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		t.log.Warn("telegram reply failed", zap.Int64("chat", chatID), zap.Error(err))
	}
}

package providers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"piebrain/internal/config"
)

type fakeBot struct {
	mu      sync.Mutex
	updates chan tgbotapi.Update
	sent    []tgbotapi.MessageConfig
	stopped bool
}

func newFakeBot() *fakeBot {
	return &fakeBot{updates: make(chan tgbotapi.Update, 8)}
}

func (f *fakeBot) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeBot) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) sentMessages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]tgbotapi.MessageConfig, len(f.sent))
	copy(out, f.sent)
	return out
}

func textUpdate(chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text: text,
		Chat: &tgbotapi.Chat{ID: chatID},
	}}
}

func commandUpdate(chatID int64, cmd string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text: cmd,
		Chat: &tgbotapi.Chat{ID: chatID},
		Entities: []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: len(cmd)},
		},
	}}
}

// newTelegramFixture runs the provider against a fake bot and returns
// the enqueue log. Cleanup cancels the run and waits for exit.
func newTelegramFixture(t *testing.T, cfg config.TelegramConfig, enqueueErr error) (*fakeBot, *[]string) {
	t.Helper()
	bot := newFakeBot()

	p := NewTelegram(cfg, nil)
	p.connect = func(token string) (botClient, error) { return bot, nil }

	var enqueued []string
	var mu sync.Mutex
	enqueue := func(text string) (int64, error) {
		mu.Lock()
		defer mu.Unlock()
		if enqueueErr != nil {
			return 0, enqueueErr
		}
		enqueued = append(enqueued, text)
		return int64(len(enqueued)), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, enqueue) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("provider did not stop")
		}
		if !bot.stopped {
			t.Error("StopReceivingUpdates not called")
		}
	})
	return bot, &enqueued
}

func waitForSent(t *testing.T, bot *fakeBot, n int) []tgbotapi.MessageConfig {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sent := bot.sentMessages(); len(sent) >= n {
			return sent
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d replies (got %v)", n, bot.sentMessages())
	return nil
}

func TestTelegram_EnqueuesAndReplies(t *testing.T) {
	bot, enqueued := newTelegramFixture(t, config.TelegramConfig{Token: "test-token"}, nil)

	bot.updates <- textUpdate(42, "summarize my inbox")

	sent := waitForSent(t, bot, 1)
	if sent[0].ChatID != 42 || sent[0].Text != "Task #1 queued." {
		t.Errorf("reply = %+v", sent[0])
	}
	if len(*enqueued) != 1 || (*enqueued)[0] != "summarize my inbox" {
		t.Errorf("enqueued = %v", *enqueued)
	}
}

func TestTelegram_AllowlistBlocksStrangers(t *testing.T) {
	cfg := config.TelegramConfig{Token: "t", AllowedChatIDs: []int64{42}}
	bot, enqueued := newTelegramFixture(t, cfg, nil)

	bot.updates <- textUpdate(99, "do something")
	bot.updates <- textUpdate(42, "allowed task")

	sent := waitForSent(t, bot, 2)
	if sent[0].ChatID != 99 || sent[0].Text != "Unauthorized." {
		t.Errorf("stranger reply = %+v", sent[0])
	}
	if sent[1].ChatID != 42 || !strings.Contains(sent[1].Text, "queued") {
		t.Errorf("allowed reply = %+v", sent[1])
	}
	if len(*enqueued) != 1 || (*enqueued)[0] != "allowed task" {
		t.Errorf("enqueued = %v", *enqueued)
	}
}

func TestTelegram_RejectedEnqueueReported(t *testing.T) {
	rejection := errors.New("invalid request text: too long")
	bot, enqueued := newTelegramFixture(t, config.TelegramConfig{Token: "t"}, rejection)

	bot.updates <- textUpdate(42, "way too long")

	sent := waitForSent(t, bot, 1)
	if !strings.Contains(sent[0].Text, "Rejected: invalid request text") {
		t.Errorf("reply = %q", sent[0].Text)
	}
	if len(*enqueued) != 0 {
		t.Errorf("enqueued = %v", *enqueued)
	}
}

func TestTelegram_Commands(t *testing.T) {
	bot, enqueued := newTelegramFixture(t, config.TelegramConfig{Token: "t"}, nil)

	bot.updates <- commandUpdate(42, "/start")
	bot.updates <- commandUpdate(42, "/help")
	bot.updates <- commandUpdate(42, "/frobnicate")

	sent := waitForSent(t, bot, 3)
	if !strings.Contains(sent[0].Text, "Online") {
		t.Errorf("/start reply = %q", sent[0].Text)
	}
	if !strings.Contains(sent[1].Text, "/help") {
		t.Errorf("/help reply = %q", sent[1].Text)
	}
	if !strings.Contains(sent[2].Text, "Unknown command") {
		t.Errorf("unknown command reply = %q", sent[2].Text)
	}
	if len(*enqueued) != 0 {
		t.Errorf("commands were enqueued: %v", *enqueued)
	}
}

func TestTelegram_IgnoresNonText(t *testing.T) {
	bot, enqueued := newTelegramFixture(t, config.TelegramConfig{Token: "t"}, nil)

	bot.updates <- textUpdate(42, "")

	sent := waitForSent(t, bot, 1)
	if !strings.Contains(sent[0].Text, "Send text") {
		t.Errorf("reply = %q", sent[0].Text)
	}
	if len(*enqueued) != 0 {
		t.Errorf("enqueued = %v", *enqueued)
	}
}

func TestTelegram_ConnectFailure(t *testing.T) {
	p := NewTelegram(config.TelegramConfig{Token: "bad"}, nil)
	p.connect = func(token string) (botClient, error) {
		return nil, errors.New("401 unauthorized")
	}

	err := p.Run(context.Background(), func(string) (int64, error) { return 0, nil })
	if err == nil || !strings.Contains(err.Error(), "connect telegram bot") {
		t.Errorf("err = %v", err)
	}
}

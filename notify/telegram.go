package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// ChatResolver maps a platform userID to the Telegram chat id it should be
// notified on. Subscription/identity plumbing lives outside this repository
// (spec §1 Non-goals); this is the narrow seam the core needs.
type ChatResolver interface {
	ChatIDFor(userID string) (int64, bool)
}

// TelegramBus is a Bus implementation that renders notifications as Telegram
// messages, adapted from the teacher's single-operator TelegramBot
// (bot/telegram.go) into a multi-user Send(userID, ...) surface.
type TelegramBus struct {
	mu   sync.Mutex
	api  *tgbotapi.BotAPI
	chats ChatResolver
}

// NewTelegramBus creates a Bus backed by the given bot token.
func NewTelegramBus(token string, chats ChatResolver) (*TelegramBus, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify: create telegram bot: %w", err)
	}
	log.Info().Str("username", api.Self.UserName).Msg("telegram notification bus initialized")
	return &TelegramBus{api: api, chats: chats}, nil
}

func (b *TelegramBus) Send(ctx context.Context, n Notification) error {
	chatID, ok := b.chats.ChatIDFor(n.UserID)
	if !ok {
		return fmt.Errorf("notify: no telegram chat bound for user %s", n.UserID)
	}

	text := render(n)

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	b.mu.Lock()
	_, err := b.api.Send(msg)
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("notify: telegram send: %w", err)
	}
	return nil
}

func render(n Notification) string {
	icon := map[Kind]string{
		KindEntry:     "🟢",
		KindExit:      "🔴",
		KindReplace:   "🔁",
		KindUserAlert: "🔔",
	}[n.Kind]

	return fmt.Sprintf("%s *%s*\n%s", icon, n.Kind, n.Body)
}

// StaticChatResolver is a fixed userID -> chatID lookup, useful for tests and
// small single-tenant deployments.
type StaticChatResolver map[string]int64

func (m StaticChatResolver) ChatIDFor(userID string) (int64, bool) {
	id, ok := m[userID]
	return id, ok
}

// ParseChatID parses the textual chat id form used by
// Principal.PreferredChannels (e.g. "telegram:123456").
func ParseChatID(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimPrefix(s, "telegram:"), 10, 64)
}

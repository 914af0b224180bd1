package notify

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const maxTelegramMessage = 4096

// TelegramPrefix is the target prefix handled by Telegram, followed by the
// chat id: "telegram:123456".
const TelegramPrefix = "telegram:"

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram delivers notices as bot messages.
type Telegram struct {
	bot sender
}

// NewTelegram authenticates the bot token.
func NewTelegram(token string) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	slog.Info("telegram notifier authorized", "username", bot.Self.UserName)
	return &Telegram{bot: bot}, nil
}

// Handle implements Handler.
func (t *Telegram) Handle(target string, n Notice) error {
	chatID, err := parseChatID(target)
	if err != nil {
		return err
	}
	for _, part := range splitMessage(n.Text()) {
		if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

func parseChatID(target string) (int64, error) {
	raw := strings.TrimPrefix(target, TelegramPrefix)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q", raw)
	}
	return id, nil
}

// splitMessage cuts text into chunks Telegram accepts without splitting a
// UTF-8 sequence.
func splitMessage(text string) []string {
	var parts []string
	for len(text) > maxTelegramMessage {
		end := maxTelegramMessage
		for end > 0 && !utf8.RuneStart(text[end]) {
			end--
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return append(parts, text)
}

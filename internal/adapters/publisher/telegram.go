// Package publisher публикует одобренные ответы в Telegram от имени бота аккаунта.
package publisher

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"engagement-hub/internal/adapters/telegram"
	"engagement-hub/internal/domain"
	"engagement-hub/internal/infra/config"
	"engagement-hub/internal/infra/metrics"
)

// Sender отправляет сообщения; реализуется *tgbotapi.BotAPI.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// SenderFactory создаёт отправителя по токену бота.
type SenderFactory func(token string) (Sender, error)

// BotAPIFactory создаёт клиента Bot API.
func BotAPIFactory(token string) (Sender, error) {
	return tgbotapi.NewBotAPI(token)
}

// Telegram реализует domain.Publisher.
type Telegram struct {
	policy  config.Policy
	factory SenderFactory
	log     zerolog.Logger

	mu      sync.Mutex
	senders map[string]Sender
}

var _ domain.Publisher = (*Telegram)(nil)

// NewTelegram создаёт публикатор. Клиенты ботов создаются при первой публикации аккаунта.
func NewTelegram(policy config.Policy, factory SenderFactory, log zerolog.Logger) *Telegram {
	if factory == nil {
		factory = BotAPIFactory
	}
	return &Telegram{policy: policy, factory: factory, log: log, senders: make(map[string]Sender)}
}

// Publish отправляет ответ частями в сообщество; первая часть отвечает на исходную публикацию.
// Возвращает ссылку вида "<community>/<message_id>" на первую часть.
func (t *Telegram) Publish(ctx context.Context, req domain.PublishRequest) (string, error) {
	sender, err := t.sender(req.AccountID)
	if err != nil {
		return "", err
	}
	community := strings.TrimPrefix(strings.TrimSpace(req.Item.Community), "@")
	if community == "" {
		return "", fmt.Errorf("у элемента %s нет сообщества", req.Item.ID)
	}
	parts := telegram.SplitMessage(req.Text, telegram.MessageLimit)
	if len(parts) == 0 {
		return "", domain.ErrDraftEmpty
	}
	replyTo, _ := strconv.Atoi(req.Item.SourcePostID)

	var ref string
	for i, part := range parts {
		if err := ctx.Err(); err != nil {
			return ref, err
		}
		msg := tgbotapi.NewMessageToChannel("@"+community, part)
		if i == 0 && replyTo > 0 {
			msg.ReplyToMessageID = replyTo
		}
		start := time.Now()
		sent, err := sender.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", community, start, err)
		if err != nil {
			if i > 0 {
				t.log.Error().Err(err).Str("item_id", req.Item.ID).Int("part", i).Msg("publisher: ответ опубликован частично")
			}
			return "", fmt.Errorf("отправка части %d: %w", i+1, err)
		}
		if i == 0 {
			ref = fmt.Sprintf("%s/%d", community, sent.MessageID)
		}
	}
	t.log.Info().Str("item_id", req.Item.ID).Str("account", req.AccountID).Str("ref", ref).Int("parts", len(parts)).Msg("publisher: ответ опубликован")
	return ref, nil
}

func (t *Telegram) sender(accountID string) (Sender, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.senders[accountID]; ok {
		return s, nil
	}
	acct, ok := t.policy.Account(accountID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown account %q", domain.ErrAccountIneligible, accountID)
	}
	token := acct.Token()
	if token == "" {
		return nil, fmt.Errorf("у аккаунта %s не задан токен бота", accountID)
	}
	s, err := t.factory(token)
	if err != nil {
		return nil, fmt.Errorf("создание клиента бота: %w", err)
	}
	t.senders[accountID] = s
	return s, nil
}

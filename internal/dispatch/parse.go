package dispatch

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"

	"github.com/example/storefront-bot/internal/domain"
)

// ParseUpdate превращает обновление Telegram в InboundEvent. Всё, что не
// является командой или callback-запросом с данными, даёт ErrMalformedEvent.
func ParseUpdate(raw []byte, now time.Time) (domain.InboundEvent, error) {
	var u models.Update
	if err := json.Unmarshal(raw, &u); err != nil {
		return domain.InboundEvent{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if u.ID == 0 {
		return domain.InboundEvent{}, fmt.Errorf("%w: missing update_id", domain.ErrMalformedEvent)
	}
	id := strconv.FormatInt(u.ID, 10)

	switch {
	case u.CallbackQuery != nil:
		return parseCallback(id, u.CallbackQuery, now)
	case u.Message != nil:
		return parseCommand(id, u.Message, now)
	default:
		return domain.InboundEvent{}, fmt.Errorf("%w: update %s has no message or callback_query", domain.ErrMalformedEvent, id)
	}
}

func parseCommand(id string, m *models.Message, now time.Time) (domain.InboundEvent, error) {
	if m.Chat.ID == 0 || m.From == nil || m.From.ID == 0 {
		return domain.InboundEvent{}, fmt.Errorf("%w: update %s message without chat or sender", domain.ErrMalformedEvent, id)
	}
	text := strings.TrimSpace(m.Text)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return domain.InboundEvent{}, fmt.Errorf("%w: update %s is not a command", domain.ErrMalformedEvent, id)
	}
	name, args, _ := strings.Cut(text[1:], " ")
	// "/start@ShopBot" адресует конкретного бота в группе
	name, _, _ = strings.Cut(name, "@")
	name = strings.ToLower(name)
	if name == "" {
		return domain.InboundEvent{}, fmt.Errorf("%w: update %s has empty command", domain.ErrMalformedEvent, id)
	}
	return domain.NewInboundEvent(id, domain.KindCommand, name, m.Chat.ID, m.From.ID, now, map[string]string{
		domain.PayloadText:      text,
		domain.PayloadArgs:      strings.TrimSpace(args),
		domain.PayloadMessageID: strconv.Itoa(m.ID),
	}), nil
}

func parseCallback(id string, q *models.CallbackQuery, now time.Time) (domain.InboundEvent, error) {
	if q.ID == "" || q.From.ID == 0 || q.Data == "" {
		return domain.InboundEvent{}, fmt.Errorf("%w: update %s callback_query missing id, sender or data", domain.ErrMalformedEvent, id)
	}
	payload := map[string]string{
		domain.PayloadData:       q.Data,
		domain.PayloadCallbackID: q.ID,
	}
	// без сообщения отвечаем в личный чат отправителя
	chatID := q.From.ID
	switch {
	case q.Message.Message != nil:
		if q.Message.Message.Chat.ID != 0 {
			chatID = q.Message.Message.Chat.ID
		}
		payload[domain.PayloadMessageID] = strconv.Itoa(q.Message.Message.ID)
	case q.Message.InaccessibleMessage != nil:
		if q.Message.InaccessibleMessage.Chat.ID != 0 {
			chatID = q.Message.InaccessibleMessage.Chat.ID
		}
		payload[domain.PayloadMessageID] = strconv.Itoa(q.Message.InaccessibleMessage.MessageID)
	}
	return domain.NewInboundEvent(id, domain.KindCallbackAction, q.Data, chatID, q.From.ID, now, payload), nil
}

package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/example/storefront-bot/internal/domain"
)

const (
	DefaultAPIURL  = "https://api.telegram.org"
	defaultTimeout = 10 * time.Second
)

// Messenger отправляет ответы через Telegram Bot API.
type Messenger struct {
	api   *bot.Bot
	token string
}

// NewMessenger не обращается к API: getMe пропускается, обновления приходят вебхуком.
func NewMessenger(apiURL, token string, client *http.Client) (*Messenger, error) {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	api, err := bot.New(token,
		bot.WithSkipGetMe(),
		bot.WithServerURL(strings.TrimRight(apiURL, "/")),
		bot.WithHTTPClient(defaultTimeout, client),
	)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Messenger{api: api, token: token}, nil
}

// Send шлёт текст, а при наличии PhotoURL фото с подписью.
func (m *Messenger) Send(ctx context.Context, r domain.Reply) error {
	var markup models.ReplyMarkup
	if kb := keyboard(r.Buttons); kb != nil {
		markup = kb
	}
	if r.PhotoURL != "" {
		_, err := m.api.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID:      r.ChatID,
			Photo:       &models.InputFileString{Data: r.PhotoURL},
			Caption:     r.Text,
			ReplyMarkup: markup,
		})
		return m.wrap("sendPhoto", err)
	}
	_, err := m.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      r.ChatID,
		Text:        r.Text,
		ReplyMarkup: markup,
	})
	return m.wrap("sendMessage", err)
}

func (m *Messenger) AnswerCallback(ctx context.Context, callbackID string) error {
	_, err := m.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: callbackID})
	return m.wrap("answerCallbackQuery", err)
}

func keyboard(rows [][]domain.Button) *models.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	kb := &models.InlineKeyboardMarkup{InlineKeyboard: make([][]models.InlineKeyboardButton, 0, len(rows))}
	for _, row := range rows {
		out := make([]models.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			out = append(out, models.InlineKeyboardButton{Text: b.Text, URL: b.URL, CallbackData: b.Data})
		}
		kb.InlineKeyboard = append(kb.InlineKeyboard, out)
	}
	return kb
}

// wrap убирает токен бота: он входит в путь запроса и попадает в url.Error.
func (m *Messenger) wrap(method string, err error) error {
	if err == nil {
		return nil
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}
	if m.token != "" && strings.Contains(err.Error(), m.token) {
		return fmt.Errorf("telegram %s: %s", method, strings.ReplaceAll(err.Error(), m.token, "<token>"))
	}
	return fmt.Errorf("telegram %s: %w", method, err)
}

var _ domain.Messenger = (*Messenger)(nil)

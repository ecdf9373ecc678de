package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/example/storefront-bot/internal/domain"
)

const (
	msgWelcome         = "Welcome to the store! 🎬\nBrowse and buy easily."
	msgEmptyCatalog    = "The catalog is empty right now. Please come back later."
	msgItemNotFound    = "Sorry, this item is not available."
	msgPayPrompt       = "Click below to complete your purchase:"
	msgPaymentFailed   = "Payment creation failed. Please try again later."
	msgOrderInProgress = "Your previous order for this item is still being processed."
	msgOrderCancelled  = "Your order has been cancelled."
	msgOrderNotFound   = "Order not found."
	msgCannotCancel    = "This order can no longer be cancelled."
	msgThankYou        = "Thank you for your purchase! 🎉\nHere is your download link: %s"

	// MsgGenericFailure is sent when a handler fails unexpectedly.
	MsgGenericFailure = "Something went wrong. Please try again later."
)

// Префиксы данных callback-кнопок.
const (
	PrefixItem   = "item_"
	PrefixMovie  = "movie_"
	PrefixBuy    = "buy_"
	PrefixCancel = "cancel_"
)

// Storefront содержит обработчики команд бота.
type Storefront struct {
	catalog   domain.CatalogProvider
	machine   *OrderMachine
	messenger domain.Messenger
	log       *logrus.Entry
}

func NewStorefront(catalog domain.CatalogProvider, machine *OrderMachine, messenger domain.Messenger, logger *logrus.Logger) *Storefront {
	return &Storefront{
		catalog:   catalog,
		machine:   machine,
		messenger: messenger,
		log:       logger.WithField("component", "storefront"),
	}
}

// Start показывает каталог кнопками.
func (s *Storefront) Start(ctx context.Context, ev domain.InboundEvent) error {
	items := s.catalog.List()
	if len(items) == 0 {
		return s.reply(ctx, ev.ChatID, msgEmptyCatalog, nil)
	}
	rows := make([][]domain.Button, 0, len(items))
	for _, it := range items {
		rows = append(rows, []domain.Button{{Text: it.Title, Data: PrefixItem + it.ID}})
	}
	return s.reply(ctx, ev.ChatID, msgWelcome, rows)
}

// ItemDetails показывает позицию и кнопку покупки.
func (s *Storefront) ItemDetails(ctx context.Context, ev domain.InboundEvent) error {
	s.answer(ctx, ev)
	item, ok := s.catalog.Get(suffix(ev.Name))
	if !ok {
		return s.reply(ctx, ev.ChatID, msgItemNotFound, nil)
	}
	text := fmt.Sprintf("%s\n%s\nPrice: %s %s", item.Title, item.Description, item.Price.StringFixed(2), item.Currency)
	return s.messenger.Send(ctx, domain.Reply{
		ChatID:   ev.ChatID,
		Text:     text,
		PhotoURL: item.Cover,
		Buttons:  [][]domain.Button{{{Text: "Buy Now", Data: PrefixBuy + item.ID}}},
	})
}

// Buy создаёт заказ и отправляет ссылку на оплату.
func (s *Storefront) Buy(ctx context.Context, ev domain.InboundEvent) error {
	s.answer(ctx, ev)
	order, err := s.machine.CreateOrder(ctx, suffix(ev.Name), ev.Buyer())
	switch {
	case errors.Is(err, domain.ErrItemNotFound):
		return s.reply(ctx, ev.ChatID, msgItemNotFound, nil)
	case errors.Is(err, domain.ErrGatewayCreateFailed):
		return s.reply(ctx, ev.ChatID, msgPaymentFailed, nil)
	case errors.Is(err, domain.ErrOrderInProgress):
		return s.reply(ctx, ev.ChatID, msgOrderInProgress, nil)
	case err != nil:
		return err
	}
	return s.reply(ctx, ev.ChatID, msgPayPrompt, [][]domain.Button{
		{{Text: "Pay with PayPal", URL: order.ApprovalURL}},
		{{Text: "Cancel", Data: PrefixCancel + order.ID}},
	})
}

// Cancel отменяет заказ по кнопке.
func (s *Storefront) Cancel(ctx context.Context, ev domain.InboundEvent) error {
	s.answer(ctx, ev)
	_, err := s.machine.CancelOrder(ctx, suffix(ev.Name), ev.Buyer())
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		return s.reply(ctx, ev.ChatID, msgOrderNotFound, nil)
	case errors.Is(err, domain.ErrInvalidTransition):
		return s.reply(ctx, ev.ChatID, msgCannotCancel, nil)
	case err != nil:
		return err
	}
	return s.reply(ctx, ev.ChatID, msgOrderCancelled, nil)
}

// ReplyFailure отвечает покупателю после ошибки или паники обработчика.
func (s *Storefront) ReplyFailure(ctx context.Context, ev domain.InboundEvent, err error) {
	s.log.WithError(err).WithFields(logrus.Fields{"event_id": ev.ID, "chat_id": ev.ChatID}).Error("handler failed")
	s.answer(ctx, ev)
	if serr := s.reply(ctx, ev.ChatID, MsgGenericFailure, nil); serr != nil {
		s.log.WithError(serr).WithField("event_id", ev.ID).Warn("send failure reply")
	}
}

func (s *Storefront) NotifyFulfilled(ctx context.Context, res domain.FulfillmentResult) {
	if res.Buyer.ChatID == 0 {
		return
	}
	if err := s.reply(ctx, res.Buyer.ChatID, fmt.Sprintf(msgThankYou, res.FulfillmentAsset), nil); err != nil {
		s.log.WithError(err).WithField("order_id", res.OrderID).Warn("send download link")
	}
}

func (s *Storefront) reply(ctx context.Context, chatID int64, text string, buttons [][]domain.Button) error {
	return s.messenger.Send(ctx, domain.Reply{ChatID: chatID, Text: text, Buttons: buttons})
}

// answer гасит индикатор на кнопке; ошибка здесь некритична.
func (s *Storefront) answer(ctx context.Context, ev domain.InboundEvent) {
	id := ev.Value(domain.PayloadCallbackID)
	if id == "" {
		return
	}
	if err := s.messenger.AnswerCallback(ctx, id); err != nil {
		s.log.WithError(err).WithField("event_id", ev.ID).Debug("answer callback")
	}
}

func suffix(name string) string {
	_, rest, _ := strings.Cut(name, "_")
	return rest
}

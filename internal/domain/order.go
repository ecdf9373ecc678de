package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderState: состояние заказа в жизненном цикле покупки.
type OrderState string

const (
	StateCreated          OrderState = "CREATED"
	StateAwaitingApproval OrderState = "AWAITING_APPROVAL"
	StateApproved         OrderState = "APPROVED"
	StateExecuting        OrderState = "EXECUTING"
	StateFulfilled        OrderState = "FULFILLED"
	StateFailed           OrderState = "FAILED"
	StateCancelled        OrderState = "CANCELLED"
)

var transitions = map[OrderState][]OrderState{
	StateCreated:          {StateAwaitingApproval, StateFailed, StateCancelled},
	StateAwaitingApproval: {StateApproved, StateFailed, StateCancelled},
	StateApproved:         {StateExecuting, StateFailed, StateCancelled},
	StateExecuting:        {StateFulfilled, StateFailed, StateCancelled},
}

// Terminal сообщает, что из состояния нет переходов.
func (s OrderState) Terminal() bool {
	return s == StateFulfilled || s == StateFailed || s == StateCancelled
}

// CanTransition проверяет переход по таблице состояний.
func CanTransition(from, to OrderState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Buyer: покупатель в чат-платформе.
type Buyer struct {
	UserID int64 `json:"user_id"`
	ChatID int64 `json:"chat_id"`
}

// Transition: запись истории переходов заказа.
type Transition struct {
	From   OrderState `json:"from"`
	To     OrderState `json:"to"`
	At     time.Time  `json:"at"`
	Reason string     `json:"reason,omitempty"`
}

// Order — доменная сущность заказа.
type Order struct {
	ID               string          `json:"order_id"`
	ItemID           string          `json:"item_id"`
	ItemTitle        string          `json:"item_title"`
	Buyer            Buyer           `json:"buyer"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	State            OrderState      `json:"state"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	GatewayPaymentID string          `json:"gateway_payment_id,omitempty"`
	ApprovalURL      string          `json:"approval_url,omitempty"`
	PayerRef         string          `json:"payer_ref,omitempty"`
	FulfillmentAsset string          `json:"fulfillment_asset,omitempty"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	History          []Transition    `json:"history,omitempty"`
}

// NewOrder создаёт заказ в состоянии CREATED по позиции каталога.
func NewOrder(id string, item CatalogItem, buyer Buyer, now time.Time) Order {
	return Order{
		ID:        id,
		ItemID:    item.ID,
		ItemTitle: item.Title,
		Buyer:     buyer,
		Amount:    item.Price,
		Currency:  item.Currency,
		State:     StateCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Apply выполняет переход и дописывает историю.
func (o *Order) Apply(to OrderState, at time.Time, reason string) error {
	if !CanTransition(o.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.State, to)
	}
	o.History = append(o.History, Transition{From: o.State, To: to, At: at, Reason: reason})
	o.State = to
	o.UpdatedAt = at
	return nil
}

// Open сообщает, что заказ ещё не завершён.
func (o Order) Open() bool {
	return !o.State.Terminal()
}

// Clone возвращает копию без общей истории.
func (o Order) Clone() Order {
	if o.History != nil {
		h := make([]Transition, len(o.History))
		copy(h, o.History)
		o.History = h
	}
	return o
}

// FulfillmentResult: итог обработки подтверждения оплаты.
type FulfillmentResult struct {
	OrderID          string `json:"order_id"`
	ItemID           string `json:"item_id"`
	Buyer            Buyer  `json:"-"`
	FulfillmentAsset string `json:"fulfillment_asset"`
	Duplicate        bool   `json:"duplicate"`
}

// OrderEvent публикуется при каждом переходе заказа.
type OrderEvent struct {
	EventID   string     `json:"event_id"`
	OrderID   string     `json:"order_id"`
	ItemID    string     `json:"item_id"`
	PaymentID string     `json:"payment_id,omitempty"`
	From      OrderState `json:"from"`
	To        OrderState `json:"to"`
	Reason    string     `json:"reason,omitempty"`
	At        time.Time  `json:"at"`
}

package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderRepository — порт для операций персистентности заказов.
type OrderRepository interface {
	Upsert(ctx context.Context, id string, raw []byte) error
	LoadAll(ctx context.Context, fn func(id string, raw []byte) error) error
}

// OrderStore: таблица заказов в памяти с блокировкой на уровне заказа.
type OrderStore interface {
	Get(id string) (Order, bool)
	FindByPayment(paymentID string) (Order, bool)
	// Claim добавляет заказ, если у покупателя нет открытого заказа на ту же позицию.
	// Иначе возвращает существующий заказ и false.
	Claim(o Order) (Order, bool)
	// Acquire захватывает блокировку заказа; вызывающий обязан вызвать Release.
	// Ожидание прерывается по ctx.
	Acquire(ctx context.Context, id string) (OrderLock, error)
	Restore(o Order)
	StaleOrders(state OrderState, before time.Time) []string
	EvictTerminal(before time.Time) []string
	Len() int
}

// OrderLock даёт доступ к захваченному заказу.
type OrderLock interface {
	Order() Order
	Update(o Order)
	Release()
}

// CatalogProvider отдаёт каталог только для чтения.
type CatalogProvider interface {
	Get(id string) (CatalogItem, bool)
	List() []CatalogItem
}

// PaymentRequest: данные для создания платежа во внешнем процессоре.
type PaymentRequest struct {
	OrderID     string
	ItemID      string
	Title       string
	Description string
	Amount      decimal.Decimal
	Currency    string
}

// PaymentIntent: ответ процессора на создание платежа.
type PaymentIntent struct {
	GatewayPaymentID string
	ApprovalURL      string
}

// PaymentGateway: внешний платёжный процессор.
type PaymentGateway interface {
	Create(ctx context.Context, req PaymentRequest) (PaymentIntent, error)
	Execute(ctx context.Context, gatewayPaymentID, payerRef string) error
}

// Button задаёт кнопку под сообщением, с URL или с данными callback.
type Button struct {
	Text string
	URL  string
	Data string
}

// Reply: исходящее сообщение покупателю.
type Reply struct {
	ChatID   int64
	Text     string
	PhotoURL string
	Buttons  [][]Button
}

// Messenger: исходящий канал чат-платформы.
type Messenger interface {
	Send(ctx context.Context, r Reply) error
	AnswerCallback(ctx context.Context, callbackID string) error
}

// OrderEventPublisher отвечает за публикацию событий жизненного цикла заказа.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, ev OrderEvent) error
}

// MessageSubscriber — порт подписчика на события заказов.
type MessageSubscriber interface {
	// Subscribe регистрирует обработчик; ack/повторные доставки реализует адаптер.
	Subscribe(ctx context.Context, handler func(ctx context.Context, raw []byte) error) error
}

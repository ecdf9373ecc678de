package natsstan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	stan "github.com/nats-io/stan.go"

	"github.com/example/storefront-bot/internal/domain"
)

// Connect открывает соединение NATS Streaming; пустой clientID заменяется уникальным.
func Connect(clusterID, clientID, url string) (stan.Conn, error) {
	if clientID == "" {
		clientID = fmt.Sprintf("storefront-%d", time.Now().UnixNano())
	}
	sc, err := stan.Connect(clusterID, clientID, stan.NatsURL(url))
	if err != nil {
		return nil, fmt.Errorf("stan connect: %w", err)
	}
	return sc, nil
}

type asyncPublisher interface {
	PublishAsync(subject string, data []byte, ah stan.AckHandler) (string, error)
}

// Publisher публикует события жизненного цикла заказа.
type Publisher struct {
	conn    asyncPublisher
	subject string
}

func NewPublisher(conn asyncPublisher, subject string) *Publisher {
	return &Publisher{conn: conn, subject: subject}
}

// PublishOrderEvent ждёт подтверждения сервера или отмены ctx.
func (p *Publisher) PublishOrderEvent(ctx context.Context, ev domain.OrderEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	acked := make(chan error, 1)
	if _, err := p.conn.PublishAsync(p.subject, raw, func(_ string, err error) {
		acked <- err
	}); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	select {
	case err := <-acked:
		if err != nil {
			return fmt.Errorf("publish %s: %w", p.subject, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ domain.OrderEventPublisher = (*Publisher)(nil)

// Command orderwatch читает события жизненного цикла заказов, публикуемые ботом.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/example/storefront-bot/internal/adapter/natsstan"
	"github.com/example/storefront-bot/internal/config"
	"github.com/example/storefront-bot/internal/domain"
	"github.com/example/storefront-bot/internal/logging"
)

type options struct {
	NATS     config.NATSOptions
	Group    string `env:"ORDERWATCH_GROUP" envDefault:"orderwatch"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	JSONLogs bool   `env:"LOG_JSON"`
}

func main() {
	_ = godotenv.Load()
	var opts options
	if err := env.Parse(&opts); err != nil {
		logrus.WithError(err).Fatal("config")
	}
	if opts.NATS.URL == "" {
		opts.NATS.URL = "nats://localhost:4222"
	}
	logger := logging.New(opts.LogLevel, opts.JSONLogs)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sub := &natsstan.Subscriber{
		ClusterID:  opts.NATS.ClusterID,
		ClientID:   opts.NATS.ClientID,
		URL:        opts.NATS.URL,
		Subject:    opts.NATS.Subject,
		Durable:    opts.NATS.Durable,
		QueueGroup: opts.Group,
		Logger:     logger,
	}
	if err := sub.Subscribe(ctx, logEvent(logger)); err != nil {
		logger.WithError(err).Fatal("stan subscribe")
	}
	logger.WithField("subject", opts.NATS.Subject).Info("watching order events")
	<-ctx.Done()
}

// logEvent пишет событие в лог; нечитаемые сообщения подтверждаются и отбрасываются.
func logEvent(logger *logrus.Logger) func(ctx context.Context, raw []byte) error {
	return func(ctx context.Context, raw []byte) error {
		var ev domain.OrderEvent
		if err := json.Unmarshal(raw, &ev); err != nil || ev.OrderID == "" {
			logger.WithField("bytes", len(raw)).Warn("invalid order event, dropping")
			return nil
		}
		fields := logrus.Fields{
			"order_id":   ev.OrderID,
			"item_id":    ev.ItemID,
			"payment_id": ev.PaymentID,
			"from":       ev.From,
			"to":         ev.To,
			"at":         ev.At,
		}
		if ev.Reason != "" {
			fields["reason"] = ev.Reason
		}
		entry := logger.WithFields(fields)
		if ev.To == domain.StateFailed {
			entry.Warn("order event")
			return nil
		}
		entry.Info("order event")
		return nil
	}
}

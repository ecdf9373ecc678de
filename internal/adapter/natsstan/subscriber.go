package natsstan

import (
	"context"
	"time"

	stan "github.com/nats-io/stan.go"
	"github.com/sirupsen/logrus"

	"github.com/example/storefront-bot/internal/domain"
)

type Subscriber struct {
	ClusterID  string
	ClientID   string
	URL        string
	Subject    string
	Durable    string
	QueueGroup string
	Logger     *logrus.Logger
}

func (s *Subscriber) Subscribe(ctx context.Context, handler func(ctx context.Context, raw []byte) error) error {
	sc, err := Connect(s.ClusterID, s.ClientID, s.URL)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		sc.Close()
	}()
	group := s.QueueGroup
	if group == "" {
		group = "storefront-watchers"
	}
	log := s.log()
	_, err = sc.QueueSubscribe(s.Subject, group, func(m *stan.Msg) {
		deliver(m.Data, m.Sequence, m.Ack, handler, log)
	}, stan.DurableName(s.Durable), stan.SetManualAckMode(), stan.AckWait(10*time.Second), stan.DeliverAllAvailable())
	return err
}

func (s *Subscriber) log() *logrus.Entry {
	l := s.Logger
	if l == nil {
		l = logrus.StandardLogger()
	}
	return l.WithFields(logrus.Fields{"component": "stan-subscriber", "subject": s.Subject})
}

func deliver(data []byte, seq uint64, ack func() error, handler func(ctx context.Context, raw []byte) error, log *logrus.Entry) {
	hCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := handler(hCtx, data); err != nil {
		// не подтверждаем, даём сообщению переотправиться
		log.WithError(err).WithField("seq", seq).Warn("handler error")
		return
	}
	if err := ack(); err != nil {
		log.WithError(err).WithField("seq", seq).Warn("ack failed")
	}
}

var _ domain.MessageSubscriber = (*Subscriber)(nil)

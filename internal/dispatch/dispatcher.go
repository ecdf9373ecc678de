package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/example/storefront-bot/internal/domain"
	"github.com/example/storefront-bot/internal/metrics"
	"github.com/example/storefront-bot/internal/scheduler"
)

// HandlerFunc обрабатывает одно событие на планировщике.
type HandlerFunc func(ctx context.Context, ev domain.InboundEvent) error

// FailureFunc вызывается, если обработчик вернул ошибку или запаниковал.
type FailureFunc func(ctx context.Context, ev domain.InboundEvent, err error)

// Submitter описывает часть планировщика, нужную диспетчеру.
type Submitter interface {
	TrySubmit(t scheduler.Task) (*scheduler.Handle, error)
}

type rule struct {
	pattern Pattern
	handler HandlerFunc
}

type Dispatcher struct {
	sched       Submitter
	log         *logrus.Entry
	onFailure   FailureFunc
	taskTimeout time.Duration
	nowFn       func() time.Time

	mu    sync.RWMutex
	rules []rule
}

type Option func(*Dispatcher)

func WithFailureHandler(fn FailureFunc) Option {
	return func(d *Dispatcher) { d.onFailure = fn }
}

func WithTaskTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.taskTimeout = timeout }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.nowFn = now }
}

func New(sched Submitter, logger *logrus.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sched: sched,
		log:   logger.WithField("component", "dispatcher"),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Register добавляет правило. Правила проверяются в порядке регистрации,
// срабатывает первое подходящее.
func (d *Dispatcher) Register(p Pattern, h HandlerFunc) {
	d.mu.Lock()
	d.rules = append(d.rules, rule{pattern: p, handler: h})
	d.mu.Unlock()
}

func (d *Dispatcher) match(ev domain.InboundEvent) (rule, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, r := range d.rules {
		if r.pattern.Match(ev) {
			return r, true
		}
	}
	return rule{}, false
}

// Dispatch разбирает raw, выбирает обработчик и ставит задачу. Не ждёт ни
// обработчика, ни места в очереди: при полной очереди событие отбрасывается.
func (d *Dispatcher) Dispatch(raw []byte) error {
	ev, err := ParseUpdate(raw, d.nowFn())
	if err != nil {
		metrics.EventsDispatched.WithLabelValues("malformed").Inc()
		return err
	}

	log := d.log.WithFields(logrus.Fields{"event_id": ev.ID, "kind": ev.Kind, "name": ev.Name})
	r, ok := d.match(ev)
	if !ok {
		metrics.EventsDispatched.WithLabelValues("unmatched").Inc()
		log.Warn("no route for event, dropping")
		return nil
	}

	task := scheduler.Task{
		Name:    r.pattern.String(),
		Fields:  logrus.Fields{"event_id": ev.ID, "chat_id": ev.ChatID},
		Timeout: d.taskTimeout,
		Run: func(ctx context.Context) error {
			return r.handler(ctx, ev)
		},
	}
	if d.onFailure != nil {
		task.OnFailure = func(ctx context.Context, err error) {
			d.onFailure(ctx, ev, err)
		}
	}
	if _, err := d.sched.TrySubmit(task); err != nil {
		if errors.Is(err, scheduler.ErrQueueFull) {
			metrics.EventsDispatched.WithLabelValues("dropped").Inc()
			log.WithField("chat_id", ev.ChatID).Warn("queue full, dropping event")
		} else {
			metrics.EventsDispatched.WithLabelValues("rejected").Inc()
		}
		return fmt.Errorf("submit event %s: %w", ev.ID, err)
	}
	metrics.EventsDispatched.WithLabelValues("routed").Inc()
	log.Debug("event routed")
	return nil
}

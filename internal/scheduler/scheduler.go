// Package scheduler владеет единственным пулом воркеров процесса: на нём
// выполняются все обработчики и обращения к платёжному процессору.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/example/storefront-bot/internal/metrics"
)

var (
	ErrSchedulerClosed = errors.New("scheduler closed")
	ErrTaskCancelled   = errors.New("task cancelled")
	ErrHandlerPanic    = errors.New("handler panic")
	ErrShutdownTimeout = errors.New("scheduler shutdown timed out")
	ErrQueueFull       = errors.New("scheduler queue full")
)

const failureHookTimeout = 5 * time.Second

// Task: единица работы. Fields попадают в каждую строку лога о задаче.
type Task struct {
	Name      string
	Fields    logrus.Fields
	Timeout   time.Duration
	Run       func(ctx context.Context) error
	OnFailure func(ctx context.Context, err error)
}

type Config struct {
	Workers   int
	QueueSize int
}

type Scheduler struct {
	log   *logrus.Entry
	queue chan *Handle

	base       context.Context
	cancelBase context.CancelFunc

	// closing закрывается в начале остановки; mu упорядочивает её с идущими Submit.
	closing chan struct{}
	mu      sync.RWMutex
	closed  bool

	workers    sync.WaitGroup
	background sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error
}

// New запускает пул воркеров. Вызывается один раз на процесс.
func New(cfg Config, logger *logrus.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	base, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		log:        logger.WithField("component", "scheduler"),
		queue:      make(chan *Handle, cfg.QueueSize),
		base:       base,
		cancelBase: cancel,
		closing:    make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		s.workers.Add(1)
		go s.work()
	}
	s.log.WithFields(logrus.Fields{"workers": cfg.Workers, "queue": cfg.QueueSize}).Info("scheduler started")
	return s
}

// Submit ставит t в очередь. Блокируется, только пока очередь полна.
func (s *Scheduler) Submit(ctx context.Context, t Task) (*Handle, error) {
	return s.enqueue(ctx, t, true)
}

// TrySubmit ставит t в очередь без ожидания места; при полной очереди
// возвращает ErrQueueFull.
func (s *Scheduler) TrySubmit(t Task) (*Handle, error) {
	return s.enqueue(context.Background(), t, false)
}

func (s *Scheduler) enqueue(ctx context.Context, t Task, wait bool) (*Handle, error) {
	if t.Run == nil {
		return nil, fmt.Errorf("submit %q: nil run func", t.Name)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrSchedulerClosed
	}

	h := newHandle(s.base, t)
	if !wait {
		select {
		case s.queue <- h:
			metrics.TasksSubmitted.Inc()
			metrics.QueueDepth.Inc()
			return h, nil
		default:
			h.cancel()
			return nil, ErrQueueFull
		}
	}
	select {
	case s.queue <- h:
		metrics.TasksSubmitted.Inc()
		metrics.QueueDepth.Inc()
		return h, nil
	case <-s.closing:
		h.cancel()
		return nil, ErrSchedulerClosed
	case <-ctx.Done():
		h.cancel()
		return nil, ctx.Err()
	}
}

// Every вызывает fn на каждом тике до начала остановки. fn работает в горутине
// планировщика и получает контекст, отменяемый при остановке.
func (s *Scheduler) Every(interval time.Duration, name string, fn func(ctx context.Context)) {
	if interval <= 0 {
		s.log.WithFields(logrus.Fields{"task": name, "interval": interval}).Warn("periodic task disabled")
		return
	}
	ctx, cancel := context.WithCancel(s.base)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer cancel()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.closing:
				return
			case <-ticker.C:
				s.runBackground(ctx, name, fn)
			}
		}
	}()
}

func (s *Scheduler) runBackground(ctx context.Context, name string, fn func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithFields(logrus.Fields{"task": name, "panic": r}).Error("background task panicked")
		}
	}()
	fn(ctx)
}

// Shutdown прекращает приём, отменяет задачи в очереди и ждёт выполняющиеся
// не дольше timeout, после чего отменяет их контексты. Повторный вызов безопасен.
func (s *Scheduler) Shutdown(timeout time.Duration) error {
	s.shutdownOnce.Do(func() {
		close(s.closing)
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		dropped := s.drain()

		done := make(chan struct{})
		go func() {
			s.workers.Wait()
			s.background.Wait()
			close(done)
		}()

		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			s.shutdownErr = ErrShutdownTimeout
		}
		s.cancelBase()
		s.log.WithFields(logrus.Fields{"dropped": dropped, "timed_out": s.shutdownErr != nil}).Info("scheduler stopped")
	})
	return s.shutdownErr
}

func (s *Scheduler) drain() int {
	n := 0
	for {
		select {
		case h := <-s.queue:
			metrics.QueueDepth.Dec()
			s.cancelQueued(h)
			n++
		default:
			return n
		}
	}
}

func (s *Scheduler) cancelQueued(h *Handle) {
	h.cancel()
	metrics.TasksFinished.WithLabelValues("cancelled").Inc()
	h.finish(ErrTaskCancelled)
}

func (s *Scheduler) work() {
	defer s.workers.Done()
	for {
		select {
		case <-s.closing:
			return
		case h := <-s.queue:
			metrics.QueueDepth.Dec()
			select {
			case <-s.closing:
				s.cancelQueued(h)
				continue
			default:
			}
			s.run(h)
		}
	}
}

func (s *Scheduler) run(h *Handle) {
	if h.ctx.Err() != nil {
		s.cancelQueued(h)
		return
	}

	ctx := h.ctx
	if h.task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.task.Timeout)
		defer cancel()
	}

	log := s.log.WithField("task", h.task.Name).WithFields(h.task.Fields)
	start := time.Now()
	err := s.safeRun(ctx, h.task, log)
	metrics.TaskDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.TasksFinished.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrHandlerPanic):
		metrics.TasksFinished.WithLabelValues("panic").Inc()
	default:
		metrics.TasksFinished.WithLabelValues("error").Inc()
		log.WithError(err).Warn("task failed")
	}

	if err != nil && h.task.OnFailure != nil {
		s.notifyFailure(ctx, h.task, err, log)
	}
	h.finish(err)
}

func (s *Scheduler) safeRun(ctx context.Context, t Task, log *logrus.Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logrus.Fields{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("task panicked")
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return t.Run(ctx)
}

func (s *Scheduler) notifyFailure(ctx context.Context, t Task, err error, log *logrus.Entry) {
	hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureHookTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("failure hook panicked")
		}
	}()
	t.OnFailure(hookCtx, err)
}

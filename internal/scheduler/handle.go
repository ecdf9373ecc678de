package scheduler

import (
	"context"
	"sync"
)

// Handle отслеживает поставленную задачу.
type Handle struct {
	task   Task
	ctx    context.Context
	cancel context.CancelFunc

	done chan struct{}
	once sync.Once
	err  error
}

func newHandle(base context.Context, t Task) *Handle {
	ctx, cancel := context.WithCancel(base)
	return &Handle{
		task:   t,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err возвращает результат задачи; до закрытия Done возвращает nil.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait ждёт завершения задачи или ctx. Отказ от ожидания задачу не отменяет.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel отменяет контекст задачи. Ещё не начатая задача будет пропущена.
func (h *Handle) Cancel() {
	h.cancel()
}

func (h *Handle) finish(err error) {
	h.once.Do(func() {
		h.err = err
		h.cancel()
		close(h.done)
	})
}

package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/example/storefront-bot/internal/domain"
	"github.com/example/storefront-bot/internal/scheduler"
)

// Submitter описывает часть планировщика, нужную сценариям.
type Submitter interface {
	Submit(ctx context.Context, t scheduler.Task) (*scheduler.Handle, error)
}

// FulfillmentNotifier доставляет покупателю ссылку после оплаты.
type FulfillmentNotifier interface {
	NotifyFulfilled(ctx context.Context, res domain.FulfillmentResult)
}

// LoadOrders загружает заказы из репозитория в таблицу при старте.
type LoadOrders struct {
	Repo    domain.OrderRepository
	Machine *OrderMachine
}

func (uc LoadOrders) Execute(ctx context.Context) (int, error) {
	restored := 0
	err := uc.Repo.LoadAll(ctx, func(id string, raw []byte) error {
		var o domain.Order
		if err := json.Unmarshal(raw, &o); err != nil || o.ID == "" {
			// пропускаем битые записи, не прерывая полную загрузку
			return nil
		}
		if uc.Machine.Restore(o) {
			restored++
		}
		return nil
	})
	return restored, err
}

// ExecutePayment обрабатывает возврат покупателя из платёжного процессора.
// Работа выполняется задачей планировщика; вызывающий ждёт её завершения.
// Повторные возвраты по одному платежу присоединяются к уже идущей задаче и
// не занимают воркеры. Копировать после первого использования нельзя.
type ExecutePayment struct {
	Scheduler Submitter
	Machine   *OrderMachine
	Notifier  FulfillmentNotifier
	Timeout   time.Duration

	inflight singleflight.Group
}

func (uc *ExecutePayment) Execute(ctx context.Context, paymentID, payerID, orderRef string) (domain.FulfillmentResult, error) {
	if orderRef != "" {
		o, ok := uc.Machine.FindByPayment(paymentID)
		if !ok || o.ID != orderRef {
			return domain.FulfillmentResult{}, fmt.Errorf("%w: payment %s does not belong to order %s", domain.ErrOrderNotFound, paymentID, orderRef)
		}
	}

	// задача не зависит от первого вызывающего: его уход не отменяет остальных
	detached := context.WithoutCancel(ctx)
	ch := uc.inflight.DoChan(paymentID, func() (interface{}, error) {
		return uc.run(detached, paymentID, payerID, orderRef)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return domain.FulfillmentResult{}, r.Err
		}
		return r.Val.(domain.FulfillmentResult), nil
	case <-ctx.Done():
		return domain.FulfillmentResult{}, ctx.Err()
	}
}

func (uc *ExecutePayment) run(ctx context.Context, paymentID, payerID, orderRef string) (domain.FulfillmentResult, error) {
	if uc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, uc.Timeout)
		defer cancel()
	}

	var res domain.FulfillmentResult
	h, err := uc.Scheduler.Submit(ctx, scheduler.Task{
		Name:    "payment-execute",
		Fields:  logrus.Fields{"payment_id": paymentID, "order_id": orderRef},
		Timeout: uc.Timeout,
		Run: func(ctx context.Context) error {
			r, err := uc.Machine.HandleApprovalCallback(ctx, paymentID, payerID)
			if err != nil {
				return err
			}
			res = r
			if !r.Duplicate && uc.Notifier != nil {
				uc.Notifier.NotifyFulfilled(ctx, r)
			}
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, scheduler.ErrSchedulerClosed) {
			return domain.FulfillmentResult{}, fmt.Errorf("%w: %v", domain.ErrShuttingDown, err)
		}
		return domain.FulfillmentResult{}, err
	}

	if err := h.Wait(ctx); err != nil {
		if errors.Is(err, scheduler.ErrTaskCancelled) {
			return domain.FulfillmentResult{}, fmt.Errorf("%w: %v", domain.ErrShuttingDown, err)
		}
		return domain.FulfillmentResult{}, err
	}
	return res, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/example/storefront-bot/internal/adapter/cache"
	"github.com/example/storefront-bot/internal/adapter/catalog"
	"github.com/example/storefront-bot/internal/adapter/httpapi"
	"github.com/example/storefront-bot/internal/adapter/natsstan"
	"github.com/example/storefront-bot/internal/adapter/paypal"
	"github.com/example/storefront-bot/internal/adapter/repo"
	"github.com/example/storefront-bot/internal/adapter/telegram"
	"github.com/example/storefront-bot/internal/config"
	"github.com/example/storefront-bot/internal/dispatch"
	"github.com/example/storefront-bot/internal/domain"
	"github.com/example/storefront-bot/internal/logging"
	"github.com/example/storefront-bot/internal/scheduler"
	"github.com/example/storefront-bot/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("storefront-bot stopped")
	}
}

func run() error {
	cfg, err := config.Load([]string{".env", ".env.local"})
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.Live())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	items, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	logger.WithFields(logrus.Fields{"path": cfg.CatalogPath, "items": len(items.List())}).Info("catalog loaded")

	var orderRepo domain.OrderRepository
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer pool.Close()
		if err := repo.EnsureSchema(ctx, pool); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
		orderRepo = repo.NewPostgresOrderRepo(pool)
	}

	var events domain.OrderEventPublisher
	if cfg.NATS.URL != "" {
		sc, err := natsstan.Connect(cfg.NATS.ClusterID, cfg.NATS.ClientID, cfg.NATS.URL)
		if err != nil {
			return err
		}
		defer sc.Close()
		events = natsstan.NewPublisher(sc, cfg.NATS.Subject)
	}

	a, err := newApp(cfg, logger, items, orderRepo, events)
	if err != nil {
		return err
	}
	if orderRepo != nil {
		n, err := usecase.LoadOrders{Repo: orderRepo, Machine: a.machine}.Execute(ctx)
		if err != nil {
			return fmt.Errorf("load orders: %w", err)
		}
		logger.WithField("orders", n).Info("orders restored")
	}
	a.sched.Every(cfg.Orders.RetentionInterval, "order-retention", a.machine.EvictExpired)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithFields(logrus.Fields{"addr": srv.Addr, "mode": cfg.PayPal.Mode}).Info("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("http shutdown")
		}
		// после HTTP: новых задач больше нет, начатые успевают завершиться
		if err := a.sched.Shutdown(cfg.Scheduler.ShutdownTimeout); err != nil {
			logger.WithError(err).Warn("scheduler shutdown")
		}
		return nil
	})
	return g.Wait()
}

type app struct {
	sched   *scheduler.Scheduler
	machine *usecase.OrderMachine
	router  http.Handler
}

// newApp собирает ядро: планировщик, машину заказов, диспетчер и HTTP-маршруты.
func newApp(cfg *config.Config, logger *logrus.Logger, items domain.CatalogProvider, orderRepo domain.OrderRepository, events domain.OrderEventPublisher) (*app, error) {
	messenger, err := telegram.NewMessenger(cfg.Telegram.APIURL, cfg.Telegram.BotToken, nil)
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(scheduler.Config{
		Workers:   cfg.Scheduler.Workers,
		QueueSize: cfg.Scheduler.QueueSize,
	}, logger)

	// токен PayPal обновляется фоном, ему нужен контекст дольше сигнального
	gateway := paypal.New(context.Background(), paypal.Config{
		ClientID:     cfg.PayPal.ClientID,
		ClientSecret: cfg.PayPal.ClientSecret,
		BaseURL:      cfg.PayPal.APIBaseURL(),
		ReturnURL:    cfg.PublicBaseURL + "/payment/execute",
		CancelURL:    cfg.PublicBaseURL + "/payment/cancel",
	})

	machine := usecase.NewOrderMachine(usecase.OrderMachineDeps{
		Config: usecase.OrderMachineConfig{
			GatewayTimeout: cfg.Orders.GatewayTimeout,
			Retention:      cfg.Orders.Retention,
			ApprovalTTL:    cfg.Orders.ApprovalTTL,
		},
		Catalog: items,
		Gateway: gateway,
		Orders:  cache.NewMemoryOrderTable(),
		Repo:    orderRepo,
		Events:  events,
		Logger:  logger,
	})

	storefront := usecase.NewStorefront(items, machine, messenger, logger)

	dispatcher := dispatch.New(sched, logger,
		dispatch.WithFailureHandler(storefront.ReplyFailure),
		dispatch.WithTaskTimeout(cfg.Scheduler.TaskTimeout),
	)
	registerRoutes(dispatcher, storefront)

	execute := &usecase.ExecutePayment{
		Scheduler: sched,
		Machine:   machine,
		Notifier:  storefront,
		Timeout:   cfg.Scheduler.TaskTimeout,
	}
	api := httpapi.NewServer(dispatcher, execute, cfg.Telegram.WebhookSecret, logger)
	return &app{sched: sched, machine: machine, router: api.Router}, nil
}

// registerRoutes связывает команды и кнопки с обработчиками; порядок важен.
func registerRoutes(d *dispatch.Dispatcher, s *usecase.Storefront) {
	d.Register(dispatch.Command("start"), s.Start)
	d.Register(dispatch.ActionPrefix(usecase.PrefixItem), s.ItemDetails)
	d.Register(dispatch.ActionPrefix(usecase.PrefixMovie), s.ItemDetails)
	d.Register(dispatch.ActionPrefix(usecase.PrefixBuy), s.Buy)
	d.Register(dispatch.ActionPrefix(usecase.PrefixCancel), s.Cancel)
}

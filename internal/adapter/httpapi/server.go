package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/example/storefront-bot/internal/domain"
	"github.com/example/storefront-bot/internal/scheduler"
)

const (
	maxWebhookBody = 1 << 20
	secretHeader   = "X-Telegram-Bot-Api-Secret-Token"
)

// EventDispatcher принимает сырое обновление чат-платформы, не блокируясь.
type EventDispatcher interface {
	Dispatch(raw []byte) error
}

// PaymentExecutor завершает оплату после возврата покупателя из PayPal.
type PaymentExecutor interface {
	Execute(ctx context.Context, paymentID, payerID, orderRef string) (domain.FulfillmentResult, error)
}

type Server struct {
	Router        *mux.Router
	dispatcher    EventDispatcher
	payments      PaymentExecutor
	webhookSecret string
	log           *logrus.Entry
}

func NewServer(dispatcher EventDispatcher, payments PaymentExecutor, webhookSecret string, logger *logrus.Logger) *Server {
	s := &Server{
		Router:        mux.NewRouter(),
		dispatcher:    dispatcher,
		payments:      payments,
		webhookSecret: webhookSecret,
		log:           logger.WithField("component", "http"),
	}
	s.Router.HandleFunc("/webhook", s.handleWebhook).Methods(http.MethodPost)
	s.Router.HandleFunc("/payment/execute", s.handleExecute).Methods(http.MethodGet)
	s.Router.HandleFunc("/payment/cancel", s.handleCancelled).Methods(http.MethodGet)
	s.Router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.Router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	return s
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.webhookSecret != "" &&
		subtle.ConstantTimeCompare([]byte(r.Header.Get(secretHeader)), []byte(s.webhookSecret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false})
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		s.log.WithError(err).Warn("read webhook body")
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"ok": false})
		return
	}

	// Платформа повторяет доставку при не-2xx, поэтому ошибки только логируются.
	if err := s.dispatcher.Dispatch(raw); err != nil {
		switch {
		case errors.Is(err, domain.ErrMalformedEvent):
			s.log.WithError(err).Warn("malformed update dropped")
		case errors.Is(err, scheduler.ErrQueueFull):
			// диспетчер уже записал событие в лог
		default:
			s.log.WithError(err).Error("dispatch update")
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	paymentID, payerID, orderRef := q.Get("paymentId"), q.Get("PayerID"), q.Get("orderRef")
	if paymentID == "" || payerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "paymentId and PayerID are required"})
		return
	}

	res, err := s.payments.Execute(r.Context(), paymentID, payerID, orderRef)
	if err != nil {
		status := statusOf(err)
		log := s.log.WithError(err).WithFields(logrus.Fields{"payment_id": paymentID, "order_id": orderRef, "status": status})
		if status >= http.StatusInternalServerError {
			log.Error("payment execute")
		} else {
			log.Warn("payment execute")
		}
		writeJSON(w, status, map[string]string{"message": messageOf(err, status)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":          "Payment successful",
		"fulfillmentAsset": res.FulfillmentAsset,
	})
}

func (s *Server) handleCancelled(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Payment was cancelled. You can start a new purchase in the chat."})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrGatewayExecuteFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func messageOf(err error, status int) string {
	if errors.Is(err, domain.ErrFulfillmentUnavailable) {
		return "Payment received but the item is no longer available, please contact support"
	}
	switch status {
	case http.StatusNotFound:
		return "Order not found"
	case http.StatusPaymentRequired:
		return "Payment could not be completed"
	case http.StatusServiceUnavailable:
		return "Service is shutting down, please retry"
	case http.StatusBadRequest:
		return "Payment cannot be executed"
	case http.StatusGatewayTimeout:
		return "Payment is still processing, please retry"
	default:
		return "Internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

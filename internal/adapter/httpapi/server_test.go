package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/storefront-bot/internal/dispatch"
	"github.com/example/storefront-bot/internal/domain"
	"github.com/example/storefront-bot/internal/scheduler"
)

type countingSubmitter struct {
	submitted atomic.Int32
	err       error
}

func (c *countingSubmitter) TrySubmit(t scheduler.Task) (*scheduler.Handle, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.submitted.Add(1)
	return nil, nil
}

type stubExecutor struct {
	res  domain.FulfillmentResult
	err  error
	args []string
}

func (s *stubExecutor) Execute(ctx context.Context, paymentID, payerID, orderRef string) (domain.FulfillmentResult, error) {
	s.args = []string{paymentID, payerID, orderRef}
	return s.res, s.err
}

type fixture struct {
	server *Server
	sub    *countingSubmitter
	exec   *stubExecutor
	hook   *logtest.Hook
}

func newFixture(secret string) fixture {
	logger, hook := logtest.NewNullLogger()
	sub := &countingSubmitter{}
	d := dispatch.New(sub, logger)
	d.Register(dispatch.Command("start"), func(context.Context, domain.InboundEvent) error { return nil })
	exec := &stubExecutor{}
	return fixture{server: NewServer(d, exec, secret, logger), sub: sub, exec: exec, hook: hook}
}

func (f fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.server.Router.ServeHTTP(w, req)
	return w
}

const startUpdate = `{"update_id":1,"message":{"message_id":5,"from":{"id":42},"chat":{"id":42},"text":"/start"}}`

func TestWebhookRoutesUpdate(t *testing.T) {
	f := newFixture("")
	w := f.do(httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(startUpdate)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
	assert.Equal(t, int32(1), f.sub.submitted.Load())
}

func TestWebhookMalformedIsAcknowledged(t *testing.T) {
	f := newFixture("")
	w := f.do(httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"update_id":`)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(0), f.sub.submitted.Load(), "no task for malformed update")
	require.NotNil(t, f.hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, f.hook.LastEntry().Level)
	assert.Equal(t, "malformed update dropped", f.hook.LastEntry().Message)
}

func TestWebhookQueueFullIsAcknowledged(t *testing.T) {
	f := newFixture("")
	f.sub.err = scheduler.ErrQueueFull

	done := make(chan int, 1)
	go func() {
		done <- f.do(httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(startUpdate))).Code
	}()
	select {
	case code := <-done:
		assert.Equal(t, http.StatusOK, code)
	case <-time.After(time.Second):
		t.Fatal("webhook waited for queue space")
	}
	require.NotNil(t, f.hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, f.hook.LastEntry().Level)
	assert.Equal(t, "queue full, dropping event", f.hook.LastEntry().Message)
}

func TestWebhookSecret(t *testing.T) {
	f := newFixture("s3cret")

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(startUpdate))
	assert.Equal(t, http.StatusUnauthorized, f.do(req).Code)

	req = httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(startUpdate))
	req.Header.Set(secretHeader, "s3cret")
	assert.Equal(t, http.StatusOK, f.do(req).Code)
	assert.Equal(t, int32(1), f.sub.submitted.Load())
}

func TestWebhookBodyLimit(t *testing.T) {
	f := newFixture("")
	big := strings.Repeat("x", maxWebhookBody+1)
	w := f.do(httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(big)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, int32(0), f.sub.submitted.Load())
}

func TestPaymentExecute(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		err      error
		wantCode int
	}{
		{name: "ok", query: "paymentId=PAY-1&PayerID=P1&orderRef=o1", wantCode: http.StatusOK},
		{name: "missing payer", query: "paymentId=PAY-1", wantCode: http.StatusBadRequest},
		{name: "missing payment", query: "PayerID=P1", wantCode: http.StatusBadRequest},
		{name: "unknown order", query: "paymentId=X&PayerID=P1", err: fmt.Errorf("lookup: %w", domain.ErrOrderNotFound), wantCode: http.StatusNotFound},
		{name: "gateway failure", query: "paymentId=PAY-1&PayerID=P1", err: domain.ErrGatewayExecuteFailed, wantCode: http.StatusPaymentRequired},
		{name: "shutting down", query: "paymentId=PAY-1&PayerID=P1", err: domain.ErrShuttingDown, wantCode: http.StatusServiceUnavailable},
		{name: "timeout", query: "paymentId=PAY-1&PayerID=P1", err: context.DeadlineExceeded, wantCode: http.StatusGatewayTimeout},
		{name: "paid but unavailable", query: "paymentId=PAY-1&PayerID=P1", err: fmt.Errorf("%w: item %q", domain.ErrFulfillmentUnavailable, "1"), wantCode: http.StatusInternalServerError},
		{name: "unexpected", query: "paymentId=PAY-1&PayerID=P1", err: assert.AnError, wantCode: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture("")
			f.exec.err = tt.err
			f.exec.res = domain.FulfillmentResult{OrderID: "o1", FulfillmentAsset: "https://cdn/inception.mp4"}

			w := f.do(httptest.NewRequest(http.MethodGet, "/payment/execute?"+tt.query, nil))
			assert.Equal(t, tt.wantCode, w.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEmpty(t, body["message"])
			if errors.Is(tt.err, domain.ErrFulfillmentUnavailable) {
				assert.Contains(t, body["message"], "contact support")
			}
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, "https://cdn/inception.mp4", body["fulfillmentAsset"])
				assert.Equal(t, []string{"PAY-1", "P1", "o1"}, f.exec.args)
			}
		})
	}
}

func TestOpsEndpoints(t *testing.T) {
	f := newFixture("")

	w := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")

	w = f.do(httptest.NewRequest(http.MethodGet, "/payment/cancel?orderRef=o1", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(httptest.NewRequest(http.MethodGet, "/webhook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

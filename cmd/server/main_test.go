package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/storefront-bot/internal/adapter/catalog"
	"github.com/example/storefront-bot/internal/config"
	"github.com/example/storefront-bot/internal/domain"
)

const testCatalog = `[
  {"id": "1", "title": "Inception", "description": "Dreams within dreams", "price": 10.99,
   "download_link": "https://cdn.example.com/inception.mp4"}
]`

const sentMessage = `{"ok":true,"result":{"message_id":1,"date":1,"chat":{"id":42,"type":"private"}}}`

// botAPI записывает исходящие вызовы Telegram.
type botAPI struct {
	mu    sync.Mutex
	calls []map[string]any
	seen  chan struct{}
}

func (b *botAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	call := map[string]any{"_method": method}
	if err := r.ParseMultipartForm(1 << 20); err == nil {
		for k, v := range r.MultipartForm.Value {
			if len(v) == 0 {
				continue
			}
			var markup map[string]any
			if k == "reply_markup" && json.Unmarshal([]byte(v[0]), &markup) == nil {
				call[k] = markup
				continue
			}
			call[k] = v[0]
		}
	}
	b.mu.Lock()
	b.calls = append(b.calls, call)
	b.mu.Unlock()
	select {
	case b.seen <- struct{}{}:
	default:
	}
	w.Header().Set("Content-Type", "application/json")
	if method == "answerCallbackQuery" {
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
		return
	}
	_, _ = w.Write([]byte(sentMessage))
}

// waitText ждёт сообщение или подпись с text.
func (b *botAPI) waitText(t *testing.T, text string) map[string]any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		b.mu.Lock()
		for _, c := range b.calls {
			body, _ := c["text"].(string)
			caption, _ := c["caption"].(string)
			if strings.Contains(body, text) || strings.Contains(caption, text) {
				b.mu.Unlock()
				return c
			}
		}
		b.mu.Unlock()
		select {
		case <-b.seen:
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatalf("no message containing %q", text)
		}
	}
}

func fakePayPal() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/v1/payments/payment", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"PAY-1","state":"created","links":[{"href":"https://paypal.test/approve/PAY-1","rel":"approval_url"}]}`))
	})
	mux.HandleFunc("/v1/payments/payment/PAY-1/execute", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"PAY-1","state":"approved"}`))
	})
	return mux
}

func newTestApp(t testing.TB) (*app, *botAPI) {
	bot := &botAPI{seen: make(chan struct{}, 1)}
	tg := httptest.NewServer(bot)
	t.Cleanup(tg.Close)
	pp := httptest.NewServer(fakePayPal())
	t.Cleanup(pp.Close)

	cfg := &config.Config{
		Telegram:      config.TelegramOptions{BotToken: "123:T", APIURL: tg.URL},
		PayPal:        config.PayPalOptions{ClientID: "id", ClientSecret: "secret", Mode: config.ModeSandbox, BaseURL: pp.URL},
		Scheduler:     config.SchedulerOptions{Workers: 4, QueueSize: 16, TaskTimeout: 5 * time.Second},
		Orders:        config.OrderOptions{GatewayTimeout: 2 * time.Second, Retention: time.Hour},
		PublicBaseURL: "https://bot.example.com",
	}
	items, err := catalog.Parse([]byte(testCatalog))
	require.NoError(t, err)

	logger, _ := logtest.NewNullLogger()
	a, err := newApp(cfg, logger, items, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.sched.Shutdown(time.Second) })
	return a, bot
}

func postUpdate(t *testing.T, a *app, body string) {
	t.Helper()
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)
}

func callbackUpdate(id int, data string) string {
	return fmt.Sprintf(`{"update_id":%d,"callback_query":{"id":"cb-%d","from":{"id":42},"message":{"message_id":1,"chat":{"id":42}},"data":%q}}`, id, id, data)
}

func TestStartListsCatalog(t *testing.T) {
	a, bot := newTestApp(t)
	postUpdate(t, a, `{"update_id":1,"message":{"message_id":1,"from":{"id":42},"chat":{"id":42},"text":"/start"}}`)

	msg := bot.waitText(t, "Welcome")
	kb := msg["reply_markup"].(map[string]any)["inline_keyboard"].([]any)
	assert.Equal(t, "item_1", kb[0].([]any)[0].(map[string]any)["callback_data"])
}

func TestPurchaseFlow(t *testing.T) {
	a, bot := newTestApp(t)

	postUpdate(t, a, callbackUpdate(2, "buy_1"))
	prompt := bot.waitText(t, "complete your purchase")
	kb := prompt["reply_markup"].(map[string]any)["inline_keyboard"].([]any)
	assert.Equal(t, "https://paypal.test/approve/PAY-1", kb[0].([]any)[0].(map[string]any)["url"])

	order, ok := a.machine.FindByPayment("PAY-1")
	require.True(t, ok)
	assert.Equal(t, domain.StateAwaitingApproval, order.State)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		a.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
			"/payment/execute?paymentId=PAY-1&PayerID=PAYER&orderRef="+order.ID, nil))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "https://cdn.example.com/inception.mp4", body["fulfillmentAsset"])
	}

	bot.waitText(t, "Here is your download link: https://cdn.example.com/inception.mp4")
	order, _ = a.machine.Get(order.ID)
	assert.Equal(t, domain.StateFulfilled, order.State)
}

func TestUnknownPaymentIsNotFound(t *testing.T) {
	a, _ := newTestApp(t)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payment/execute?paymentId=NOPE&PayerID=P", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUnroutedCallbackIsDropped(t *testing.T) {
	a, bot := newTestApp(t)
	postUpdate(t, a, callbackUpdate(3, "unknown_1"))
	postUpdate(t, a, callbackUpdate(4, "movie_1"))

	bot.waitText(t, "Inception")
	bot.mu.Lock()
	defer bot.mu.Unlock()
	for _, c := range bot.calls {
		assert.NotEqual(t, "cb-3", c["callback_query_id"], "unrouted callback must not be handled")
	}
}

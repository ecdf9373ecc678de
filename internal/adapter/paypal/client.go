package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/example/storefront-bot/internal/domain"
)

const maxResponseBody = 1 << 20

// Config задаёт параметры REST-клиента PayPal.
type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	// ReturnURL получает orderRef; PayPal добавляет paymentId и PayerID.
	ReturnURL string
	CancelURL string
}

// APIError описывает ответ PayPal с кодом не 2xx.
type APIError struct {
	Status  int
	Name    string `json:"name"`
	Message string `json:"message"`
	DebugID string `json:"debug_id"`
}

func (e *APIError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("paypal: http %d", e.Status)
	}
	return fmt.Sprintf("paypal: http %d: %s: %s (debug_id=%s)", e.Status, e.Name, e.Message, e.DebugID)
}

// Client реализует domain.PaymentGateway поверх PayPal payments v1.
type Client struct {
	cfg  Config
	http *http.Client
}

// New строит клиент с OAuth2 client credentials; токен кэшируется и обновляется transport'ом.
func New(ctx context.Context, cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.BaseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	return &Client{cfg: cfg, http: cc.Client(ctx)}
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paymentResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
	Links []link `json:"links"`
}

type item struct {
	Name     string `json:"name"`
	SKU      string `json:"sku"`
	Price    string `json:"price"`
	Currency string `json:"currency"`
	Quantity int    `json:"quantity"`
}

type amount struct {
	Total    string `json:"total"`
	Currency string `json:"currency"`
}

type transaction struct {
	ItemList struct {
		Items []item `json:"items"`
	} `json:"item_list"`
	Amount      amount `json:"amount"`
	Description string `json:"description,omitempty"`
	Custom      string `json:"custom,omitempty"`
}

type paymentRequest struct {
	Intent string `json:"intent"`
	Payer  struct {
		PaymentMethod string `json:"payment_method"`
	} `json:"payer"`
	RedirectURLs struct {
		ReturnURL string `json:"return_url"`
		CancelURL string `json:"cancel_url"`
	} `json:"redirect_urls"`
	Transactions []transaction `json:"transactions"`
}

func (c *Client) Create(ctx context.Context, req domain.PaymentRequest) (domain.PaymentIntent, error) {
	total := req.Amount.StringFixed(2)
	tx := transaction{
		Amount:      amount{Total: total, Currency: req.Currency},
		Description: req.Description,
		Custom:      req.OrderID,
	}
	tx.ItemList.Items = []item{{
		Name:     req.Title,
		SKU:      req.ItemID,
		Price:    total,
		Currency: req.Currency,
		Quantity: 1,
	}}

	body := paymentRequest{Intent: "sale", Transactions: []transaction{tx}}
	body.Payer.PaymentMethod = "paypal"
	body.RedirectURLs.ReturnURL = withOrderRef(c.cfg.ReturnURL, req.OrderID)
	body.RedirectURLs.CancelURL = withOrderRef(c.cfg.CancelURL, req.OrderID)

	var resp paymentResponse
	// PayPal-Request-Id делает повтор создания для того же заказа идемпотентным.
	if err := c.do(ctx, "/v1/payments/payment", req.OrderID, body, &resp); err != nil {
		return domain.PaymentIntent{}, err
	}
	intent := domain.PaymentIntent{GatewayPaymentID: resp.ID}
	for _, l := range resp.Links {
		if l.Rel == "approval_url" {
			intent.ApprovalURL = l.Href
			break
		}
	}
	if intent.GatewayPaymentID == "" || intent.ApprovalURL == "" {
		return domain.PaymentIntent{}, errors.New("paypal: create response without id or approval_url")
	}
	return intent, nil
}

func (c *Client) Execute(ctx context.Context, paymentID, payerRef string) error {
	if paymentID == "" || payerRef == "" {
		return errors.New("paypal: payment id and payer id are required")
	}
	var resp paymentResponse
	path := "/v1/payments/payment/" + url.PathEscape(paymentID) + "/execute"
	if err := c.do(ctx, path, "", map[string]string{"payer_id": payerRef}, &resp); err != nil {
		return err
	}
	if resp.State != "approved" {
		return fmt.Errorf("paypal: payment %s in state %q after execute", paymentID, resp.State)
	}
	return nil
}

func (c *Client) do(ctx context.Context, path, requestID string, in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("paypal: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("paypal: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("paypal: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("paypal: decode response: %w", err)
	}
	return nil
}

func withOrderRef(base, orderID string) string {
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("orderRef", orderID)
	u.RawQuery = q.Encode()
	return u.String()
}

var _ domain.PaymentGateway = (*Client)(nil)

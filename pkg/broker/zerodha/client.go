// Package zerodha implements the live venue against the Kite Connect REST
// and streaming APIs.
package zerodha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aadilkhann/QuantX/pkg/broker"
)

const (
	defaultBaseURL = "https://api.kite.trade"
	defaultWSURL   = "wss://ws.kite.trade"

	// Kite allows 10 req/s per app. Submissions stay well under it.
	requestsPerSecond = 8
	requestBurst      = 4

	submitTimeout = 5 * time.Second
)

// Config holds live venue credentials and endpoints.
type Config struct {
	APIKey      string
	AccessToken string
	BaseURL     string
	WSURL       string
	Product     string // CNC, MIS or NRML
}

// Client talks to Kite Connect. Requests pass through a token-bucket
// limiter that delays rather than drops when the budget is exhausted.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter

	mu        sync.Mutex
	connected bool
	onFill    broker.FillHandler
	onCancel  broker.CancelHandler
	stream    *orderStream
}

// New creates a live venue client. Connect must be called before use.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" || cfg.AccessToken == "" {
		return nil, &broker.ValidationError{Field: "credentials", Reason: "api key and access token required"}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.WSURL == "" {
		cfg.WSURL = defaultWSURL
	}
	if cfg.Product == "" {
		cfg.Product = "MIS"
	}
	return &Client{
		cfg:        cfg,
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
	}, nil
}

// Factory adapts New to the registry signature.
func Factory(cfg map[string]any) (broker.Broker, error) {
	c := Config{}
	if v, ok := cfg["api_key"].(string); ok {
		c.APIKey = v
	}
	if v, ok := cfg["access_token"].(string); ok {
		c.AccessToken = v
	}
	if v, ok := cfg["base_url"].(string); ok {
		c.BaseURL = v
	}
	if v, ok := cfg["ws_url"].(string); ok {
		c.WSURL = v
	}
	if v, ok := cfg["product"].(string); ok {
		c.Product = v
	}
	return New(c)
}

// Connect validates credentials with a profile call and opens the order
// update stream.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}

	var profile struct {
		UserID string `json:"user_id"`
	}
	if err := c.get(ctx, "/user/profile", nil, &profile); err != nil {
		return &broker.ConnectionError{Op: "connect", Err: err}
	}

	stream := newOrderStream(c.cfg, func(f broker.Fill) {
		c.mu.Lock()
		h := c.onFill
		c.mu.Unlock()
		if h != nil {
			h(f)
		}
	}, func(brokerOrderID string) {
		c.mu.Lock()
		h := c.onCancel
		c.mu.Unlock()
		if h != nil {
			h(brokerOrderID)
		}
	})
	if err := stream.start(ctx); err != nil {
		return &broker.ConnectionError{Op: "connect order stream", Err: err}
	}
	c.stream = stream
	c.connected = true
	log.Printf("zerodha: connected as %s", profile.UserID)
	return nil
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	c.connected = false
	if c.stream != nil {
		c.stream.stop()
		c.stream = nil
	}
	log.Printf("zerodha: disconnected")
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) OnFill(h broker.FillHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFill = h
}

func (c *Client) OnCancel(h broker.CancelHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCancel = h
}

// SubmitOrder places the order. The venue acknowledges with its own order
// id; fills follow asynchronously on the stream.
func (c *Client) SubmitOrder(ctx context.Context, order broker.Order) (string, error) {
	if !c.IsConnected() {
		return "", broker.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("tradingsymbol", order.Symbol)
	form.Set("exchange", "NSE")
	form.Set("transaction_type", string(order.Side))
	form.Set("order_type", kiteOrderType(order.Type))
	form.Set("quantity", strconv.FormatInt(order.Quantity, 10))
	form.Set("product", c.cfg.Product)
	form.Set("validity", "DAY")
	form.Set("tag", order.ID)
	if order.Type == broker.OrderTypeLimit || order.Type == broker.OrderTypeStopLimit {
		form.Set("price", formatPrice(order.LimitPrice))
	}
	if order.Type == broker.OrderTypeStop || order.Type == broker.OrderTypeStopLimit {
		form.Set("trigger_price", formatPrice(order.StopPrice))
	}

	var resp struct {
		OrderID string `json:"order_id"`
	}
	if err := c.post(ctx, "/orders/regular", form, &resp); err != nil {
		return "", wrapSubmitErr(err)
	}
	return resp.OrderID, nil
}

// CancelOrder requests cancellation. Confirmation arrives on the stream.
func (c *Client) CancelOrder(ctx context.Context, brokerOrderID string) error {
	if !c.IsConnected() {
		return broker.ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()
	err := c.delete(ctx, "/orders/regular/"+brokerOrderID)
	if err != nil {
		return wrapSubmitErr(err)
	}
	return nil
}

func (c *Client) GetPositions(ctx context.Context) ([]broker.Position, error) {
	if !c.IsConnected() {
		return nil, broker.ErrNotConnected
	}
	var resp struct {
		Net []struct {
			Symbol       string  `json:"tradingsymbol"`
			Quantity     int64   `json:"quantity"`
			AveragePrice float64 `json:"average_price"`
			RealisedPnL  float64 `json:"realised"`
		} `json:"net"`
	}
	if err := c.get(ctx, "/portfolio/positions", nil, &resp); err != nil {
		return nil, &broker.ConnectionError{Op: "get positions", Err: err}
	}
	out := make([]broker.Position, 0, len(resp.Net))
	for _, p := range resp.Net {
		if p.Quantity == 0 {
			continue
		}
		out = append(out, broker.Position{
			Symbol:        p.Symbol,
			Quantity:      p.Quantity,
			AvgEntryPrice: p.AveragePrice,
			RealizedPnL:   p.RealisedPnL,
			UpdatedAt:     time.Now(),
		})
	}
	return out, nil
}

func (c *Client) GetAccount(ctx context.Context) (broker.Account, error) {
	if !c.IsConnected() {
		return broker.Account{}, broker.ErrNotConnected
	}
	var resp struct {
		Equity struct {
			Available struct {
				Cash float64 `json:"cash"`
			} `json:"available"`
			Net float64 `json:"net"`
		} `json:"equity"`
	}
	if err := c.get(ctx, "/user/margins", nil, &resp); err != nil {
		return broker.Account{}, &broker.ConnectionError{Op: "get account", Err: err}
	}
	return broker.Account{
		Cash:        resp.Equity.Available.Cash,
		Equity:      resp.Equity.Net,
		BuyingPower: resp.Equity.Available.Cash,
	}, nil
}

func (c *Client) GetQuote(ctx context.Context, symbol string) (broker.Quote, error) {
	if !c.IsConnected() {
		return broker.Quote{}, broker.ErrNotConnected
	}
	key := "NSE:" + symbol
	params := url.Values{}
	params.Set("i", key)
	var resp map[string]struct {
		LastPrice float64 `json:"last_price"`
		Depth     struct {
			Buy  []struct{ Price float64 `json:"price"` } `json:"buy"`
			Sell []struct{ Price float64 `json:"price"` } `json:"sell"`
		} `json:"depth"`
	}
	if err := c.get(ctx, "/quote", params, &resp); err != nil {
		return broker.Quote{}, &broker.ConnectionError{Op: "get quote", Err: err}
	}
	q, ok := resp[key]
	if !ok {
		return broker.Quote{}, fmt.Errorf("zerodha: no quote for %s", symbol)
	}
	out := broker.Quote{Symbol: symbol, Last: q.LastPrice}
	if len(q.Depth.Buy) > 0 {
		out.Bid = q.Depth.Buy[0].Price
	}
	if len(q.Depth.Sell) > 0 {
		out.Ask = q.Depth.Sell[0].Price
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return err
	}
	req.Header.Set("X-Kite-Version", "3")
	req.Header.Set("Authorization", "token "+c.cfg.APIKey+":"+c.cfg.AccessToken)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	var envelope struct {
		Status    string          `json:"status"`
		Data      json.RawMessage `json:"data"`
		Message   string          `json:"message"`
		ErrorType string          `json:"error_type"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("status %d: %w", res.StatusCode, err)
	}
	if res.StatusCode != http.StatusOK || envelope.Status != "success" {
		return &apiError{Status: res.StatusCode, Type: envelope.ErrorType, Message: envelope.Message}
	}
	if out != nil {
		return json.Unmarshal(envelope.Data, out)
	}
	return nil
}

type apiError struct {
	Status  int
	Type    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("kite %s (%d): %s", e.Type, e.Status, e.Message)
}

// wrapSubmitErr distinguishes venue rejections, which are final, from
// transport failures, which the caller may retry.
func wrapSubmitErr(err error) error {
	if ae, ok := err.(*apiError); ok {
		if ae.Type == "InputException" || ae.Type == "OrderException" {
			return &broker.ValidationError{Field: "order", Reason: ae.Message}
		}
	}
	return &broker.ConnectionError{Op: "submit", Err: err}
}

func kiteOrderType(t broker.OrderType) string {
	switch t {
	case broker.OrderTypeLimit:
		return "LIMIT"
	case broker.OrderTypeStop:
		return "SL-M"
	case broker.OrderTypeStopLimit:
		return "SL"
	default:
		return "MARKET"
	}
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

package zerodha

import (
	"context"
	"encoding/json"
	"log"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aadilkhann/QuantX/pkg/broker"
)

const (
	reconnectBackoff = 2 * time.Second
	maxBackoff       = 30 * time.Second
	pingInterval     = 20 * time.Second
)

// orderStream consumes order postbacks from the Kite websocket and turns
// trade updates into fills. It reconnects with backoff until stopped.
type orderStream struct {
	cfg      Config
	onFill   broker.FillHandler
	onCancel broker.CancelHandler

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	// lastFilled tracks cumulative filled quantity per venue order id so a
	// postback's delta can be computed. Kite reports totals, not trades.
	lastFilled map[string]int64
	lastValue  map[string]float64
}

type orderUpdate struct {
	Type string `json:"type"`
	Data struct {
		OrderID          string  `json:"order_id"`
		Tag              string  `json:"tag"`
		Symbol           string  `json:"tradingsymbol"`
		TransactionType  string  `json:"transaction_type"`
		Status           string  `json:"status"`
		FilledQuantity   int64   `json:"filled_quantity"`
		AveragePrice     float64 `json:"average_price"`
		StatusMessage    string  `json:"status_message"`
		ExchangeUpdateAt string  `json:"exchange_update_timestamp"`
	} `json:"data"`
}

func newOrderStream(cfg Config, onFill broker.FillHandler, onCancel broker.CancelHandler) *orderStream {
	return &orderStream{
		cfg:        cfg,
		onFill:     onFill,
		onCancel:   onCancel,
		lastFilled: make(map[string]int64),
		lastValue:  make(map[string]float64),
	}
}

func (s *orderStream) start(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()
	go s.run(runCtx)
	return nil
}

func (s *orderStream) stop() {
	s.mu.Lock()
	cancel := s.cancel
	conn := s.conn
	done := s.done
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
}

func (s *orderStream) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(s.cfg.WSURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("api_key", s.cfg.APIKey)
	q.Set("access_token", s.cfg.AccessToken)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	return conn, err
}

func (s *orderStream) run(ctx context.Context) {
	defer close(s.done)
	backoff := reconnectBackoff
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		if err := s.readLoop(ctx, conn); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("zerodha: order stream dropped: %v, reconnecting in %s", err, backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}

		conn, err := s.dial(ctx)
		if err != nil {
			log.Printf("zerodha: order stream reconnect failed: %v", err)
			continue
		}
		backoff = reconnectBackoff
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
	}
}

func (s *orderStream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	pinger := time.NewTicker(pingInterval)
	defer pinger.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-pinger.C:
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		// Binary frames carry market ticks, text frames carry postbacks.
		if msgType != websocket.TextMessage {
			continue
		}
		var update orderUpdate
		if err := json.Unmarshal(data, &update); err != nil {
			log.Printf("zerodha: bad postback: %v", err)
			continue
		}
		if update.Type != "order" {
			continue
		}
		s.handleUpdate(update)
	}
}

// handleUpdate converts a cumulative order postback into an incremental
// fill. Cancelled and rejected orders clear the tracking entry.
func (s *orderStream) handleUpdate(u orderUpdate) {
	d := u.Data
	switch d.Status {
	case "COMPLETE", "PARTIAL":
	case "CANCELLED", "REJECTED":
		s.mu.Lock()
		delete(s.lastFilled, d.OrderID)
		delete(s.lastValue, d.OrderID)
		s.mu.Unlock()
		if d.Status == "CANCELLED" && s.onCancel != nil {
			s.onCancel(d.OrderID)
		}
		return
	default:
		return
	}

	s.mu.Lock()
	prevQty := s.lastFilled[d.OrderID]
	prevValue := s.lastValue[d.OrderID]
	delta := d.FilledQuantity - prevQty
	if delta <= 0 {
		s.mu.Unlock()
		return
	}
	value := d.AveragePrice * float64(d.FilledQuantity)
	tradePrice := (value - prevValue) / float64(delta)
	s.lastFilled[d.OrderID] = d.FilledQuantity
	s.lastValue[d.OrderID] = value
	if d.Status == "COMPLETE" {
		delete(s.lastFilled, d.OrderID)
		delete(s.lastValue, d.OrderID)
	}
	s.mu.Unlock()

	qty := delta
	if d.TransactionType == "SELL" {
		qty = -delta
	}
	s.onFill(broker.Fill{
		ID:            d.OrderID + "-" + strconv.FormatInt(d.FilledQuantity, 10),
		OrderID:       d.Tag,
		BrokerOrderID: d.OrderID,
		Symbol:        d.Symbol,
		Quantity:      qty,
		Price:         tradePrice,
		Timestamp:     time.Now(),
	})
}

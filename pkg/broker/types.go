package broker

import "time"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes supported order types.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStop      OrderType = "STOP"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

// OrderStatus is the order lifecycle state. Transitions are owned by the
// order manager; venues only report them.
type OrderStatus string

const (
	StatusCreated         OrderStatus = "CREATED"
	StatusPending         OrderStatus = "PENDING"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// Open reports whether the order can still receive fills or be cancelled.
func (s OrderStatus) Open() bool {
	return s == StatusPending || s == StatusPartiallyFilled
}

// Order is a trading order. The order manager owns it from creation until a
// terminal status; venues receive a copy and return a venue-assigned id.
type Order struct {
	ID            string      `json:"id"`
	BrokerOrderID string      `json:"broker_order_id,omitempty"`
	Symbol        string      `json:"symbol"`
	Side          Side        `json:"side"`
	Type          OrderType   `json:"type"`
	Quantity      int64       `json:"quantity"`
	LimitPrice    float64     `json:"limit_price,omitempty"`
	StopPrice     float64     `json:"stop_price,omitempty"`
	Status        OrderStatus `json:"status"`
	FilledQty     int64       `json:"filled_qty"`
	AvgFillPrice  float64     `json:"avg_fill_price"`
	Reason        string      `json:"reason,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	SubmittedAt   time.Time   `json:"submitted_at,omitempty"`
	ClosedAt      time.Time   `json:"closed_at,omitempty"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() int64 { return o.Quantity - o.FilledQty }

// signedQty converts side+quantity into the signed convention used by fills
// and positions: positive bought, negative sold.
func signedQty(side Side, qty int64) int64 {
	if side == SideSell {
		return -qty
	}
	return qty
}

// SignedQuantity returns the order quantity in signed convention.
func (o *Order) SignedQuantity() int64 { return signedQty(o.Side, o.Quantity) }

// Fill is a confirmed (possibly partial) execution. Quantity is signed:
// positive bought, negative sold. Immutable and append-only.
type Fill struct {
	ID            string    `json:"id"`
	OrderID       string    `json:"order_id"`
	BrokerOrderID string    `json:"broker_order_id,omitempty"`
	Symbol        string    `json:"symbol"`
	Quantity      int64     `json:"quantity"`
	Price         float64   `json:"price"`
	Commission    float64   `json:"commission"`
	Timestamp     time.Time `json:"timestamp"`
}

// Position is a holding in one symbol. Quantity is signed. AvgEntryPrice is
// meaningless while Quantity == 0 and is kept at zero then.
type Position struct {
	Symbol        string    `json:"symbol"`
	Quantity      int64     `json:"quantity"`
	AvgEntryPrice float64   `json:"avg_entry_price"`
	RealizedPnL   float64   `json:"realized_pnl"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Flat reports whether the position is closed.
func (p Position) Flat() bool { return p.Quantity == 0 }

// Account is a broker account snapshot.
type Account struct {
	Cash          float64 `json:"cash"`
	Equity        float64 `json:"equity"`
	BuyingPower   float64 `json:"buying_power"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// Quote is a top-of-book snapshot for one symbol.
type Quote struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

// Tick is one market-data update from a feed adapter.
type Tick struct {
	Symbol    string    `json:"symbol"`
	LastPrice float64   `json:"last_price"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Package domain defines the plain record types exchanged between the TWS
// bridge, the MCP tool layer, and storage: positions, account values, bars,
// ticks, contracts, orders, and executions.
package domain

import "strconv"

// OrderAction is the side of an order.
type OrderAction string

const (
	ActionBuy  OrderAction = "BUY"
	ActionSell OrderAction = "SELL"
)

// Order types understood by TWS. Config restricts which of these a server
// instance is allowed to submit.
const (
	OrderTypeMarket    = "MKT"
	OrderTypeLimit     = "LMT"
	OrderTypeStop      = "STP"
	OrderTypeStopLimit = "STP LMT"
	OrderTypeTrail     = "TRAIL"
	OrderTypeTrailLmt  = "TRAIL LIMIT"
)

// Time-in-force values understood by TWS.
const (
	TIFDay = "DAY"
	TIFGTC = "GTC"
	TIFIOC = "IOC"
	TIFFOK = "FOK"
	TIFGTD = "GTD"
)

// Contract identifies a tradable instrument. Zero values are omitted on the
// wire; stocks need Symbol/SecType/Exchange/Currency, options additionally
// Strike/Expiry/Right.
type Contract struct {
	Symbol          string  `json:"symbol"`
	SecType         string  `json:"secType"`
	Exchange        string  `json:"exchange"`
	PrimaryExchange string  `json:"primaryExchange,omitempty"`
	Currency        string  `json:"currency"`
	LocalSymbol     string  `json:"localSymbol,omitempty"`
	TradingClass    string  `json:"tradingClass,omitempty"`
	ConID           int64   `json:"conId,omitempty"`
	Strike          float64 `json:"strike,omitempty"`
	Expiry          string  `json:"expiry,omitempty"` // YYYYMMDD
	Right           string  `json:"right,omitempty"`  // "C" or "P"
	Multiplier      string  `json:"multiplier,omitempty"`
}

// Position is one account's holding in one instrument.
type Position struct {
	Account  string   `json:"account"`
	Contract Contract `json:"contract"`
	Quantity float64  `json:"position"`
	AvgCost  float64  `json:"avgCost"`
}

// Key returns the session-wide merge key for a position: the same
// account+instrument always lands on the same entry.
func (p Position) Key() string {
	return p.Account + "|" + p.Contract.Symbol + "|" + p.Contract.SecType + "|" + strconv.FormatInt(p.Contract.ConID, 10)
}

// AccountValue is a single account metric (e.g. NetLiquidation) in one
// currency.
type AccountValue struct {
	Account  string `json:"account"`
	Tag      string `json:"tag"`
	Value    string `json:"value"`
	Currency string `json:"currency,omitempty"`
}

// Key returns the session-wide merge key for an account value.
func (v AccountValue) Key() string {
	return v.Account + "|" + v.Tag + "|" + v.Currency
}

// Bar is one OHLCV bar of historical data. Date keeps TWS's string format
// ("20240102" or "20240102 09:30:00 US/Eastern") untouched.
type Bar struct {
	Date     string  `json:"date"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   int64   `json:"volume"`
	WAP      float64 `json:"average"`
	BarCount int64   `json:"barCount"`
}

// TickSnapshot is a point-in-time market data snapshot assembled from
// individual tick callbacks. Zero fields mean the tick never arrived.
type TickSnapshot struct {
	Symbol    string  `json:"symbol"`
	Exchange  string  `json:"exchange"`
	Currency  string  `json:"currency"`
	Bid       float64 `json:"bid,omitempty"`
	Ask       float64 `json:"ask,omitempty"`
	Last      float64 `json:"last,omitempty"`
	BidSize   int64   `json:"bidSize,omitempty"`
	AskSize   int64   `json:"askSize,omitempty"`
	LastSize  int64   `json:"lastSize,omitempty"`
	Volume    int64   `json:"volume,omitempty"`
	High      float64 `json:"high,omitempty"`
	Low       float64 `json:"low,omitempty"`
	Close     float64 `json:"close,omitempty"`
	Timestamp string  `json:"timestamp"`
}

// ContractInfo is the flattened contract-details record returned to tools.
type ContractInfo struct {
	Contract       Contract `json:"contract"`
	MarketName     string   `json:"marketName"`
	MinTick        float64  `json:"minTick"`
	PriceMagnifier int64    `json:"priceMagnifier"`
	OrderTypes     []string `json:"orderTypes"`
	ValidExchanges []string `json:"validExchanges"`
	TimeZoneID     string   `json:"timeZoneId"`
	TradingHours   string   `json:"tradingHours"`
	LiquidHours    string   `json:"liquidHours"`
	LongName       string   `json:"longName,omitempty"`
}

// OptionChain is one exchange's option-chain parameters for an underlying.
type OptionChain struct {
	Exchange        string    `json:"exchange"`
	UnderlyingConID int64     `json:"underlyingConId"`
	TradingClass    string    `json:"tradingClass"`
	Multiplier      string    `json:"multiplier"`
	Expirations     []string  `json:"expirations"`
	Strikes         []float64 `json:"strikes"`
}

// OrderRecord is the merged view of one order, assembled from orderStatus,
// openOrder, and completedOrder callbacks. Each callback kind fills a
// disjoint subset of fields, so updates merge rather than overwrite.
type OrderRecord struct {
	OrderID       int64       `json:"orderId"`
	PermID        int64       `json:"permId,omitempty"`
	ClientID      int64       `json:"clientId,omitempty"`
	ParentID      int64       `json:"parentId,omitempty"`
	Contract      Contract    `json:"contract"`
	Action        OrderAction `json:"action"`
	Quantity      float64     `json:"quantity"`
	OrderType     string      `json:"orderType"`
	TIF           string      `json:"tif"`
	LimitPrice    float64     `json:"limitPrice,omitempty"`
	StopPrice     float64     `json:"stopPrice,omitempty"`
	Status        string      `json:"status"`
	Filled        float64     `json:"filled"`
	Remaining     float64     `json:"remaining"`
	AvgFillPrice  float64     `json:"avgFillPrice"`
	LastFillPrice float64     `json:"lastFillPrice"`
	WhyHeld       string      `json:"whyHeld,omitempty"`
}

// ExecutionRecord is one fill, with the commission report merged in when it
// arrives (commission is reported asynchronously after the execution).
type ExecutionRecord struct {
	ExecID             string   `json:"executionId"`
	OrderID            int64    `json:"orderId"`
	Contract           Contract `json:"contract"`
	Side               string   `json:"side"`
	Shares             float64  `json:"quantity"`
	Price              float64  `json:"price"`
	CumQty             float64  `json:"cumQty"`
	AvgPrice           float64  `json:"avgPrice"`
	Time               string   `json:"time"`
	Exchange           string   `json:"exchange"`
	Account            string   `json:"account,omitempty"`
	Commission         float64  `json:"commission"`
	CommissionCurrency string   `json:"commissionCurrency,omitempty"`
	HasCommission      bool     `json:"hasCommission"`
}

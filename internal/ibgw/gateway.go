// Package ibgw defines the boundary to the Interactive Brokers socket
// client. The vendor's single callback-object-as-client pattern is split
// into two roles: Gateway is the outbound command issuer, Events is the
// inbound callback sink. The real implementation (TWS) adapts
// github.com/scmhub/ibapi; Simulator provides the same surface in memory
// for paper mode and tests.
package ibgw

import (
	"time"

	"ibgate/internal/domain"
)

// Gateway is the command side of the vendor connection. Connect starts the
// client's receive loop on its own goroutine; from then until Disconnect,
// Events methods are invoked from that goroutine as data arrives. Request
// methods enqueue outbound messages and do not block past the call itself.
type Gateway interface {
	Connect(host string, port int, clientID int) error
	Disconnect()
	IsConnected() bool

	ReqCurrentTime()
	ReqPositions()
	ReqAccountUpdates(subscribe bool, account string)
	ReqHistoricalData(reqID int64, c domain.Contract, q HistoricalQuery)
	ReqMktDataSnapshot(reqID int64, c domain.Contract)
	CancelMktData(reqID int64)
	ReqContractDetails(reqID int64, c domain.Contract)
	ReqSecDefOptParams(reqID int64, symbol string, exchange string, secType string, conID int64)
	PlaceOrder(orderID int64, c domain.Contract, o OrderRequest)
	CancelOrder(orderID int64)
	ReqAllOpenOrders()
	ReqCompletedOrders(apiOnly bool)
	ReqExecutions(reqID int64)
}

// Events is the callback sink a Gateway delivers into. Implementations must
// tolerate calls from the gateway's receive-loop goroutine at any time
// between Connect and Disconnect. Callbacks for one request id arrive in
// transport order; no ordering holds across different ids.
type Events interface {
	// Handshake and lifecycle.
	ConnectAck()
	ConnectionClosed()
	NextValidID(orderID int64)
	ManagedAccounts(accounts []string)
	CurrentTime(t time.Time)
	VendorError(reqID int64, code int64, msg string)

	// Session-scoped data.
	Position(p domain.Position)
	PositionEnd()
	AccountValue(v domain.AccountValue)
	AccountDownloadEnd(account string)

	// Request-scoped data.
	HistoricalBar(reqID int64, bar domain.Bar)
	HistoricalDataEnd(reqID int64)
	TickPrice(reqID int64, tickType int64, price float64)
	TickSize(reqID int64, tickType int64, size int64)
	TickString(reqID int64, tickType int64, value string)
	TickSnapshotEnd(reqID int64)
	ContractDetails(reqID int64, info domain.ContractInfo)
	ContractDetailsEnd(reqID int64)
	OptionChain(reqID int64, chain domain.OptionChain)
	OptionChainEnd(reqID int64)

	// Orders and executions.
	OrderStatus(orderID int64, st OrderStatusUpdate)
	OpenOrder(orderID int64, rec domain.OrderRecord)
	OpenOrderEnd()
	CompletedOrder(rec domain.OrderRecord)
	CompletedOrdersEnd()
	Execution(reqID int64, rec domain.ExecutionRecord)
	ExecutionsEnd(reqID int64)
	Commission(execID string, amount float64, currency string)
}

// Generic tick type ids used by the market data callbacks.
const (
	TickBidSize  int64 = 0
	TickBid      int64 = 1
	TickAsk      int64 = 2
	TickAskSize  int64 = 3
	TickLast     int64 = 4
	TickLastSize int64 = 5
	TickHigh     int64 = 6
	TickLow      int64 = 7
	TickVolume   int64 = 8
	TickClose    int64 = 9
)

// HistoricalQuery carries the parameters of a historical data request.
type HistoricalQuery struct {
	EndDateTime string // "" = now; "yyyymmdd hh:mm:ss tz" otherwise
	Duration    string // e.g. "1 D", "5 D", "1 M", "1 Y"
	BarSize     string // e.g. "1 min", "5 mins", "1 hour", "1 day"
	WhatToShow  string // TRADES, MIDPOINT, BID, ASK
	UseRTH      bool
}

// OrderRequest carries the parameters of an order placement. Prices are
// only applied when positive; which fields are required for which order
// type is the caller's concern.
type OrderRequest struct {
	Action     domain.OrderAction
	Quantity   float64
	OrderType  string
	TIF        string
	LimitPrice float64
	StopPrice  float64
}

// OrderStatusUpdate is the payload of an orderStatus callback. It carries a
// disjoint field set from openOrder/completedOrder snapshots; the receiver
// merges, never overwrites.
type OrderStatusUpdate struct {
	Status        string
	Filled        float64
	Remaining     float64
	AvgFillPrice  float64
	LastFillPrice float64
	PermID        int64
	ParentID      int64
	ClientID      int64
	WhyHeld       string
	MktCapPrice   float64
}

package ibgw

import (
	"log/slog"
	"strings"
	"time"

	"github.com/robaho/fixed"
	"github.com/scmhub/ibapi"

	"ibgate/internal/domain"
)

// Compile-time interface check.
var _ Gateway = (*TWS)(nil)

// TWS implements Gateway against a live TWS/IB Gateway instance using the
// scmhub/ibapi client. The ibapi reader goroutine delivers callbacks into
// the wrapped Events sink; no ibapi type escapes this file.
type TWS struct {
	client *ibapi.EClient
}

// NewTWS creates a TWS gateway delivering callbacks into sink.
func NewTWS(sink Events, log *slog.Logger) *TWS {
	w := &twsWrapper{sink: sink, log: log}
	return &TWS{client: ibapi.NewEClient(w)}
}

// Connect dials TWS and starts the receive loop. Success here only means
// the socket is up; the caller must still wait for the connection ack and
// first valid order id delivered through Events.
func (t *TWS) Connect(host string, port int, clientID int) error {
	return t.client.Connect(host, port, int64(clientID))
}

// Disconnect closes the socket and stops the receive loop.
func (t *TWS) Disconnect() {
	t.client.Disconnect()
}

// IsConnected reports whether the underlying socket is up.
func (t *TWS) IsConnected() bool {
	return t.client.IsConnected()
}

func (t *TWS) ReqCurrentTime() {
	t.client.ReqCurrentTime()
}

func (t *TWS) ReqPositions() {
	t.client.ReqPositions()
}

func (t *TWS) ReqAccountUpdates(subscribe bool, account string) {
	t.client.ReqAccountUpdates(subscribe, account)
}

func (t *TWS) ReqHistoricalData(reqID int64, c domain.Contract, q HistoricalQuery) {
	t.client.ReqHistoricalData(reqID, toContract(c), q.EndDateTime, q.Duration,
		q.BarSize, q.WhatToShow, q.UseRTH, 1, false, nil)
}

func (t *TWS) ReqMktDataSnapshot(reqID int64, c domain.Contract) {
	t.client.ReqMktData(reqID, toContract(c), "", true, false, nil)
}

func (t *TWS) CancelMktData(reqID int64) {
	t.client.CancelMktData(reqID)
}

func (t *TWS) ReqContractDetails(reqID int64, c domain.Contract) {
	t.client.ReqContractDetails(reqID, toContract(c))
}

func (t *TWS) ReqSecDefOptParams(reqID int64, symbol, exchange, secType string, conID int64) {
	t.client.ReqSecDefOptParams(reqID, symbol, exchange, secType, conID)
}

func (t *TWS) PlaceOrder(orderID int64, c domain.Contract, o OrderRequest) {
	order := ibapi.NewOrder()
	order.Action = string(o.Action)
	order.TotalQuantity = ibapi.Decimal(fixed.NewF(o.Quantity))
	order.OrderType = o.OrderType
	order.TIF = o.TIF
	if o.LimitPrice > 0 {
		order.LmtPrice = o.LimitPrice
	}
	if o.StopPrice > 0 {
		order.AuxPrice = o.StopPrice
	}
	t.client.PlaceOrder(orderID, toContract(c), order)
}

func (t *TWS) CancelOrder(orderID int64) {
	t.client.CancelOrder(orderID, ibapi.NewOrderCancel())
}

func (t *TWS) ReqAllOpenOrders() {
	t.client.ReqAllOpenOrders()
}

func (t *TWS) ReqCompletedOrders(apiOnly bool) {
	t.client.ReqCompletedOrders(apiOnly)
}

func (t *TWS) ReqExecutions(reqID int64) {
	t.client.ReqExecutions(reqID, ibapi.NewExecutionFilter())
}

// ---------------------------------------------------------------------------
// Type conversion
// ---------------------------------------------------------------------------

func toContract(c domain.Contract) *ibapi.Contract {
	ct := ibapi.NewContract()
	ct.Symbol = c.Symbol
	ct.SecType = c.SecType
	ct.Exchange = c.Exchange
	ct.PrimaryExchange = c.PrimaryExchange
	ct.Currency = c.Currency
	ct.LocalSymbol = c.LocalSymbol
	ct.TradingClass = c.TradingClass
	ct.ConID = c.ConID
	ct.LastTradeDateOrContractMonth = c.Expiry
	ct.Right = c.Right
	ct.Multiplier = c.Multiplier
	if c.Strike > 0 {
		ct.Strike = c.Strike
	}
	return ct
}

func fromContract(ct ibapi.Contract) domain.Contract {
	return domain.Contract{
		Symbol:          ct.Symbol,
		SecType:         ct.SecType,
		Exchange:        ct.Exchange,
		PrimaryExchange: ct.PrimaryExchange,
		Currency:        ct.Currency,
		LocalSymbol:     ct.LocalSymbol,
		TradingClass:    ct.TradingClass,
		ConID:           ct.ConID,
		Strike:          ct.Strike,
		Expiry:          ct.LastTradeDateOrContractMonth,
		Right:           ct.Right,
		Multiplier:      ct.Multiplier,
	}
}

func fromOrder(orderID int64, ct *ibapi.Contract, o *ibapi.Order, state *ibapi.OrderState) domain.OrderRecord {
	rec := domain.OrderRecord{
		OrderID:   orderID,
		Action:    domain.OrderAction(o.Action),
		Quantity:  o.TotalQuantity.Float(),
		OrderType: o.OrderType,
		TIF:       o.TIF,
	}
	if ct != nil {
		rec.Contract = fromContract(*ct)
	}
	if o.LmtPrice > 0 {
		rec.LimitPrice = o.LmtPrice
	}
	if o.AuxPrice > 0 {
		rec.StopPrice = o.AuxPrice
	}
	if state != nil {
		rec.Status = state.Status
	}
	return rec
}

// ---------------------------------------------------------------------------
// EWrapper adapter
// ---------------------------------------------------------------------------

// twsWrapper translates ibapi's EWrapper callbacks into the Events sink.
// The embedded ibapi.Wrapper supplies defaults for the callbacks ibgate
// does not consume.
type twsWrapper struct {
	ibapi.Wrapper
	sink Events
	log  *slog.Logger
}

func (w *twsWrapper) ConnectAck() {
	w.sink.ConnectAck()
}

func (w *twsWrapper) ConnectionClosed() {
	w.sink.ConnectionClosed()
}

func (w *twsWrapper) NextValidID(orderID int64) {
	w.sink.NextValidID(orderID)
}

func (w *twsWrapper) ManagedAccounts(accountsList []string) {
	w.sink.ManagedAccounts(accountsList)
}

func (w *twsWrapper) CurrentTime(t int64) {
	w.sink.CurrentTime(time.Unix(t, 0))
}

func (w *twsWrapper) Error(reqID int64, errorTime int64, errCode int64, errString string, advancedOrderRejectJson string) {
	w.sink.VendorError(int64(reqID), errCode, errString)
}

func (w *twsWrapper) Position(account string, contract *ibapi.Contract, position ibapi.Decimal, avgCost float64) {
	w.sink.Position(domain.Position{
		Account:  account,
		Contract: fromContract(*contract),
		Quantity: position.Float(),
		AvgCost:  avgCost,
	})
}

func (w *twsWrapper) PositionEnd() {
	w.sink.PositionEnd()
}

func (w *twsWrapper) UpdateAccountValue(key string, val string, currency string, accountName string) {
	w.sink.AccountValue(domain.AccountValue{
		Account:  accountName,
		Tag:      key,
		Value:    val,
		Currency: currency,
	})
}

func (w *twsWrapper) AccountDownloadEnd(accountName string) {
	w.sink.AccountDownloadEnd(accountName)
}

func (w *twsWrapper) HistoricalData(reqID int64, bar *ibapi.Bar) {
	w.sink.HistoricalBar(reqID, domain.Bar{
		Date:     bar.Date,
		Open:     bar.Open,
		High:     bar.High,
		Low:      bar.Low,
		Close:    bar.Close,
		Volume:   bar.Volume.Int(),
		WAP:      bar.Wap.Float(),
		BarCount: bar.BarCount,
	})
}

func (w *twsWrapper) HistoricalDataEnd(reqID int64, startDateStr string, endDateStr string) {
	w.sink.HistoricalDataEnd(reqID)
}

func (w *twsWrapper) TickPrice(reqID int64, tickType ibapi.TickType, price float64, attrib ibapi.TickAttrib) {
	w.sink.TickPrice(int64(reqID), int64(tickType), price)
}

func (w *twsWrapper) TickSize(reqID int64, tickType ibapi.TickType, size ibapi.Decimal) {
	w.sink.TickSize(int64(reqID), int64(tickType), size.Int())
}

func (w *twsWrapper) TickString(reqID int64, tickType ibapi.TickType, value string) {
	w.sink.TickString(int64(reqID), int64(tickType), value)
}

func (w *twsWrapper) TickSnapshotEnd(reqID int64) {
	w.sink.TickSnapshotEnd(reqID)
}

func (w *twsWrapper) ContractDetails(reqID int64, cd *ibapi.ContractDetails) {
	w.sink.ContractDetails(reqID, domain.ContractInfo{
		Contract:       fromContract(cd.Contract),
		MarketName:     cd.MarketName,
		MinTick:        cd.MinTick,
		PriceMagnifier: cd.PriceMagnifier,
		OrderTypes:     splitCSV(cd.OrderTypes),
		ValidExchanges: splitCSV(cd.ValidExchanges),
		TimeZoneID:     cd.TimeZoneID,
		TradingHours:   cd.TradingHours,
		LiquidHours:    cd.LiquidHours,
		LongName:       cd.LongName,
	})
}

func (w *twsWrapper) ContractDetailsEnd(reqID int64) {
	w.sink.ContractDetailsEnd(reqID)
}

func (w *twsWrapper) SecurityDefinitionOptionParameter(reqID int64, exchange string, underlyingConID int64, tradingClass string, multiplier string, expirations []string, strikes []float64) {
	w.sink.OptionChain(reqID, domain.OptionChain{
		Exchange:        exchange,
		UnderlyingConID: underlyingConID,
		TradingClass:    tradingClass,
		Multiplier:      multiplier,
		Expirations:     expirations,
		Strikes:         strikes,
	})
}

func (w *twsWrapper) SecurityDefinitionOptionParameterEnd(reqID int64) {
	w.sink.OptionChainEnd(reqID)
}

func (w *twsWrapper) OrderStatus(orderID int64, status string, filled ibapi.Decimal, remaining ibapi.Decimal, avgFillPrice float64, permID int64, parentID int64, lastFillPrice float64, clientID int64, whyHeld string, mktCapPrice float64) {
	w.sink.OrderStatus(int64(orderID), OrderStatusUpdate{
		Status:        status,
		Filled:        filled.Float(),
		Remaining:     remaining.Float(),
		AvgFillPrice:  avgFillPrice,
		LastFillPrice: lastFillPrice,
		PermID:        permID,
		ParentID:      parentID,
		ClientID:      clientID,
		WhyHeld:       whyHeld,
		MktCapPrice:   mktCapPrice,
	})
}

func (w *twsWrapper) OpenOrder(orderID int64, contract *ibapi.Contract, order *ibapi.Order, orderState *ibapi.OrderState) {
	w.sink.OpenOrder(int64(orderID), fromOrder(int64(orderID), contract, order, orderState))
}

func (w *twsWrapper) OpenOrderEnd() {
	w.sink.OpenOrderEnd()
}

func (w *twsWrapper) CompletedOrder(contract *ibapi.Contract, order *ibapi.Order, orderState *ibapi.OrderState) {
	w.sink.CompletedOrder(fromOrder(order.OrderID, contract, order, orderState))
}

func (w *twsWrapper) CompletedOrdersEnd() {
	w.sink.CompletedOrdersEnd()
}

func (w *twsWrapper) ExecDetails(reqID int64, contract *ibapi.Contract, execution *ibapi.Execution) {
	w.sink.Execution(reqID, domain.ExecutionRecord{
		ExecID:   execution.ExecID,
		OrderID:  execution.OrderID,
		Contract: fromContract(*contract),
		Side:     execution.Side,
		Shares:   execution.Shares.Float(),
		Price:    execution.Price,
		CumQty:   execution.CumQty.Float(),
		AvgPrice: execution.AvgPrice,
		Time:     execution.Time,
		Exchange: execution.Exchange,
		Account:  execution.AcctNumber,
	})
}

func (w *twsWrapper) ExecDetailsEnd(reqID int64) {
	w.sink.ExecutionsEnd(reqID)
}

func (w *twsWrapper) CommissionAndFeesReport(report ibapi.CommissionAndFeesReport) {
	w.sink.Commission(report.ExecID, report.CommissionAndFees, report.Currency)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ibgate/internal/domain"
	"ibgate/internal/ibgw"
	"ibgate/internal/util"
)

// Request ids start well clear of order ids; the counter restarts at this
// base for every new session so ids are never reused within one.
const requestIDBase = 1000

// StatusPendingAck marks an order record synthesized locally after the ack
// wait expired, before any broker callback arrived for the id.
const StatusPendingAck = "PendingAck"

// Bridge owns one gateway connection and its session state: the id
// counters, the managed-account list, and the correlation Store fed by the
// gateway's callback goroutine. A Bridge is single-use — the connection
// manager builds a fresh one for every connect cycle and never revives an
// old one.
type Bridge struct {
	gw      ibgw.Gateway
	store   *Store
	limiter *util.RateLimiter
	log     *slog.Logger

	mu            sync.Mutex
	linkUp        bool
	nextReqID     int64
	nextOrderID   int64
	orderIDSeeded bool
	accounts      []string
	serverTime    time.Time

	connAck  chan struct{}
	idReady  chan struct{}
	connOnce sync.Once
	idOnce   sync.Once
}

// Compile-time interface check: the Bridge is the gateway's event sink.
var _ ibgw.Events = (*Bridge)(nil)

// New creates a Bridge and its gateway. dial receives the Bridge as the
// callback sink and returns the gateway the session will own.
func New(dial func(ibgw.Events) ibgw.Gateway, pacingPerSec int, log *slog.Logger) *Bridge {
	b := &Bridge{
		store:     NewStore(),
		limiter:   util.NewRateLimiter(pacingPerSec),
		log:       log.With("component", "bridge"),
		nextReqID: requestIDBase,
		connAck:   make(chan struct{}),
		idReady:   make(chan struct{}),
	}
	b.gw = dial(b)
	return b
}

// Store exposes the correlation tables for read access.
func (b *Bridge) Store() *Store { return b.store }

// ---------------------------------------------------------------------------
// Connection lifecycle
// ---------------------------------------------------------------------------

// Connect dials the gateway (which starts the receive loop), then waits for
// the connection ack and the first valid order id, each under its own
// timeout. On any failure the caller must Close the bridge; a partially
// connected Bridge is not usable.
func (b *Bridge) Connect(ctx context.Context, host string, port, clientID int, ackTimeout, idTimeout time.Duration) error {
	if err := b.gw.Connect(host, port, clientID); err != nil {
		return fmt.Errorf("dialing %s:%d: %w", host, port, err)
	}
	if err := await(ctx, b.connAck, ackTimeout); err != nil {
		return fmt.Errorf("waiting for connection ack: %w", handshakeErr(err))
	}
	if err := await(ctx, b.idReady, idTimeout); err != nil {
		return fmt.Errorf("waiting for first valid order id: %w", handshakeErr(err))
	}
	b.log.Info("connected", "host", host, "port", port, "clientID", clientID)
	return nil
}

// Close disconnects the gateway and marks the session dead. Idempotent.
func (b *Bridge) Close() {
	b.mu.Lock()
	wasUp := b.linkUp
	b.linkUp = false
	b.mu.Unlock()
	b.gw.Disconnect()
	if wasUp {
		b.log.Info("disconnected")
	}
}

// Live reports whether both the session flag and the underlying socket
// agree the link is up. A stale flag surviving an externally detected
// disconnect must not count as connected.
func (b *Bridge) Live() bool {
	b.mu.Lock()
	up := b.linkUp
	b.mu.Unlock()
	return up && b.gw.IsConnected()
}

// Accounts returns the managed-account list assigned at connect.
func (b *Bridge) Accounts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.accounts...)
}

// ServerTime returns the last server time reported by a health check.
func (b *Bridge) ServerTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.serverTime
}

// ---------------------------------------------------------------------------
// Identifier allocation
// ---------------------------------------------------------------------------

// AllocRequestID returns a strictly increasing request id, never reused
// within the session.
func (b *Bridge) AllocRequestID() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextReqID++
	return b.nextReqID
}

// AllocOrderID returns the next valid order id and increments the counter.
// Fails with ErrOrderIDUnavailable until the connect handshake has
// delivered the first id.
func (b *Bridge) AllocOrderID() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.orderIDSeeded {
		return 0, ErrOrderIDUnavailable
	}
	id := b.nextOrderID
	b.nextOrderID++
	return id, nil
}

// ---------------------------------------------------------------------------
// Request dispatch
// ---------------------------------------------------------------------------

// pace applies the outbound message rate limit.
func (b *Bridge) pace(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// RequestCurrentTime issues the lightweight health-check round trip. The
// CurrentTime callback lands in ServerTime.
func (b *Bridge) RequestCurrentTime(ctx context.Context) error {
	if err := b.pace(ctx); err != nil {
		return err
	}
	b.gw.ReqCurrentTime()
	return nil
}

// RequestPositions fetches the position snapshot for all accounts. On
// ErrTimedOut the returned slice holds whatever arrived before the bound.
func (b *Bridge) RequestPositions(ctx context.Context, timeout time.Duration) ([]domain.Position, error) {
	done := b.store.ExpectPositions()
	if err := b.pace(ctx); err != nil {
		return nil, err
	}
	b.gw.ReqPositions()
	err := await(ctx, done, timeout)
	return b.store.Positions(), err
}

// RequestAccountValues subscribes for account updates, waits for the
// download to complete, and unsubscribes.
func (b *Bridge) RequestAccountValues(ctx context.Context, account string, timeout time.Duration) ([]domain.AccountValue, error) {
	done := b.store.ExpectAccountValues()
	if err := b.pace(ctx); err != nil {
		return nil, err
	}
	b.gw.ReqAccountUpdates(true, account)
	err := await(ctx, done, timeout)
	b.gw.ReqAccountUpdates(false, account)
	return b.store.AccountValues(account), err
}

// RequestHistoricalData fetches OHLCV bars for a contract. Bars are
// returned in delivery order.
func (b *Bridge) RequestHistoricalData(ctx context.Context, c domain.Contract, q ibgw.HistoricalQuery, timeout time.Duration) ([]domain.Bar, error) {
	reqID := b.AllocRequestID()
	done := b.store.ExpectBars(reqID)
	if err := b.pace(ctx); err != nil {
		return nil, err
	}
	b.gw.ReqHistoricalData(reqID, c, q)
	err := await(ctx, done, timeout)
	return b.store.TakeBars(reqID), err
}

// RequestMarketSnapshot fetches a one-shot market data snapshot. On timeout
// the subscription is cancelled and whatever ticks arrived are returned.
func (b *Bridge) RequestMarketSnapshot(ctx context.Context, c domain.Contract, timeout time.Duration) (domain.TickSnapshot, error) {
	reqID := b.AllocRequestID()
	done := b.store.ExpectTicks(reqID)
	if err := b.pace(ctx); err != nil {
		return domain.TickSnapshot{}, err
	}
	b.gw.ReqMktDataSnapshot(reqID, c)
	err := await(ctx, done, timeout)
	if err != nil {
		b.gw.CancelMktData(reqID)
	}

	prices, sizes := b.store.TakeTicks(reqID)
	snap := domain.TickSnapshot{
		Symbol:    c.Symbol,
		Exchange:  c.Exchange,
		Currency:  c.Currency,
		Bid:       prices[ibgw.TickBid],
		Ask:       prices[ibgw.TickAsk],
		Last:      prices[ibgw.TickLast],
		High:      prices[ibgw.TickHigh],
		Low:       prices[ibgw.TickLow],
		Close:     prices[ibgw.TickClose],
		BidSize:   sizes[ibgw.TickBidSize],
		AskSize:   sizes[ibgw.TickAskSize],
		LastSize:  sizes[ibgw.TickLastSize],
		Volume:    sizes[ibgw.TickVolume],
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	return snap, err
}

// RequestContractDetails fetches the contract details matching c.
func (b *Bridge) RequestContractDetails(ctx context.Context, c domain.Contract, timeout time.Duration) ([]domain.ContractInfo, error) {
	reqID := b.AllocRequestID()
	done := b.store.ExpectContractDetails(reqID)
	if err := b.pace(ctx); err != nil {
		return nil, err
	}
	b.gw.ReqContractDetails(reqID, c)
	err := await(ctx, done, timeout)
	return b.store.TakeContractDetails(reqID), err
}

// RequestOptionChains fetches option-chain parameters for an underlying.
func (b *Bridge) RequestOptionChains(ctx context.Context, symbol, secType string, conID int64, exchange string, timeout time.Duration) ([]domain.OptionChain, error) {
	reqID := b.AllocRequestID()
	done := b.store.ExpectOptionChains(reqID)
	if err := b.pace(ctx); err != nil {
		return nil, err
	}
	b.gw.ReqSecDefOptParams(reqID, symbol, exchange, secType, conID)
	err := await(ctx, done, timeout)
	return b.store.TakeOptionChains(reqID), err
}

// PlaceOrder allocates an order id, submits the order, and waits for the
// first acknowledging callback. The merged record for the id is returned;
// on ErrTimedOut it holds whatever state arrived, or a locally built
// record with Status StatusPendingAck if nothing did.
func (b *Bridge) PlaceOrder(ctx context.Context, c domain.Contract, o ibgw.OrderRequest, timeout time.Duration) (domain.OrderRecord, error) {
	orderID, err := b.AllocOrderID()
	if err != nil {
		return domain.OrderRecord{}, err
	}
	ack := b.store.ExpectOrderAck(orderID)
	if err := b.pace(ctx); err != nil {
		return domain.OrderRecord{}, err
	}
	b.gw.PlaceOrder(orderID, c, o)
	waitErr := await(ctx, ack, timeout)
	if waitErr != nil {
		b.store.AbandonOrderAck(orderID)
	}

	rec, ok := b.store.Order(orderID)
	if !ok {
		rec = domain.OrderRecord{
			OrderID:   orderID,
			Contract:  c,
			Action:    o.Action,
			Quantity:  o.Quantity,
			OrderType: o.OrderType,
			TIF:       o.TIF,
			Status:    StatusPendingAck,
			Remaining: o.Quantity,
		}
	}
	return rec, waitErr
}

// CancelOrder requests cancellation and waits for the status change.
func (b *Bridge) CancelOrder(ctx context.Context, orderID int64, timeout time.Duration) (domain.OrderRecord, error) {
	ack := b.store.ExpectOrderAck(orderID)
	if err := b.pace(ctx); err != nil {
		return domain.OrderRecord{}, err
	}
	b.gw.CancelOrder(orderID)
	waitErr := await(ctx, ack, timeout)
	if waitErr != nil {
		b.store.AbandonOrderAck(orderID)
	}
	rec, _ := b.store.Order(orderID)
	return rec, waitErr
}

// RequestOrders refreshes the order table from completed-order and
// open-order snapshots and returns the merged records.
func (b *Bridge) RequestOrders(ctx context.Context, timeout time.Duration) ([]domain.OrderRecord, error) {
	openDone, completedDone := b.store.ExpectOrders()

	if err := b.pace(ctx); err != nil {
		return nil, err
	}
	b.gw.ReqCompletedOrders(false)
	err := await(ctx, completedDone, timeout)

	if perr := b.pace(ctx); perr != nil {
		return b.store.Orders(), perr
	}
	b.gw.ReqAllOpenOrders()
	if oerr := await(ctx, openDone, timeout); err == nil {
		err = oerr
	}

	return b.store.Orders(), err
}

// RequestExecutions fetches execution reports; commissions that already
// arrived are merged in.
func (b *Bridge) RequestExecutions(ctx context.Context, timeout time.Duration) ([]domain.ExecutionRecord, error) {
	reqID := b.AllocRequestID()
	done := b.store.ExpectExecutions(reqID)
	if err := b.pace(ctx); err != nil {
		return nil, err
	}
	b.gw.ReqExecutions(reqID)
	err := await(ctx, done, timeout)
	return b.store.Executions(), err
}

// ---------------------------------------------------------------------------
// Event sink (runs on the gateway's callback goroutine)
// ---------------------------------------------------------------------------

// guard is deferred by every callback. The receive loop is a shared,
// long-lived resource; a panic from one malformed callback must not kill
// delivery for every other request.
func (b *Bridge) guard(callback string) {
	if r := recover(); r != nil {
		b.log.Error("callback panicked", "callback", callback, "panic", r)
	}
}

func (b *Bridge) ConnectAck() {
	defer b.guard("connectAck")
	b.connOnce.Do(func() { close(b.connAck) })
	b.log.Debug("connection acknowledged")
}

func (b *Bridge) ConnectionClosed() {
	defer b.guard("connectionClosed")
	b.mu.Lock()
	b.linkUp = false
	b.mu.Unlock()
	b.log.Warn("connection closed by peer")
}

func (b *Bridge) NextValidID(orderID int64) {
	defer b.guard("nextValidID")
	b.mu.Lock()
	b.nextOrderID = orderID
	b.orderIDSeeded = true
	b.linkUp = true
	b.mu.Unlock()
	b.idOnce.Do(func() { close(b.idReady) })
	b.log.Debug("next valid order id", "orderID", orderID)
}

func (b *Bridge) ManagedAccounts(accounts []string) {
	defer b.guard("managedAccounts")
	b.mu.Lock()
	b.accounts = append([]string(nil), accounts...)
	b.mu.Unlock()
	b.log.Debug("managed accounts", "accounts", accounts)
}

func (b *Bridge) CurrentTime(t time.Time) {
	defer b.guard("currentTime")
	b.mu.Lock()
	b.serverTime = t
	b.mu.Unlock()
}

// VendorError triages the generic error callback by code. Codes 2104, 2106
// and 2158 are "farm connection is OK" notices; codes below 1000 are system
// errors; the rest are warnings. The triage is advisory — liveness is
// decided by ConnectionClosed and health checks, not by error codes.
func (b *Bridge) VendorError(reqID int64, code int64, msg string) {
	defer b.guard("error")
	switch {
	case code == 2104 || code == 2106 || code == 2158:
		b.log.Debug("vendor notice", "code", code, "msg", msg)
	case code < 1000:
		b.log.Error("vendor system error", "reqID", reqID, "code", code, "msg", msg)
	default:
		b.log.Warn("vendor warning", "reqID", reqID, "code", code, "msg", msg)
	}
}

func (b *Bridge) Position(p domain.Position) {
	defer b.guard("position")
	b.store.AddPosition(p)
}

func (b *Bridge) PositionEnd() {
	defer b.guard("positionEnd")
	b.store.CompletePositions()
}

func (b *Bridge) AccountValue(v domain.AccountValue) {
	defer b.guard("accountValue")
	b.store.AddAccountValue(v)
}

func (b *Bridge) AccountDownloadEnd(account string) {
	defer b.guard("accountDownloadEnd")
	b.store.CompleteAccountValues()
}

func (b *Bridge) HistoricalBar(reqID int64, bar domain.Bar) {
	defer b.guard("historicalData")
	b.store.AppendBar(reqID, bar)
}

func (b *Bridge) HistoricalDataEnd(reqID int64) {
	defer b.guard("historicalDataEnd")
	b.store.CompleteRequest(reqID)
}

func (b *Bridge) TickPrice(reqID, tickType int64, price float64) {
	defer b.guard("tickPrice")
	b.store.SetTickPrice(reqID, tickType, price)
}

func (b *Bridge) TickSize(reqID, tickType int64, size int64) {
	defer b.guard("tickSize")
	b.store.SetTickSize(reqID, tickType, size)
}

func (b *Bridge) TickString(reqID, tickType int64, value string) {
	defer b.guard("tickString")
	b.store.SetTickString(reqID, tickType, value)
}

func (b *Bridge) TickSnapshotEnd(reqID int64) {
	defer b.guard("tickSnapshotEnd")
	b.store.CompleteRequest(reqID)
}

func (b *Bridge) ContractDetails(reqID int64, info domain.ContractInfo) {
	defer b.guard("contractDetails")
	b.store.AppendContractDetails(reqID, info)
}

func (b *Bridge) ContractDetailsEnd(reqID int64) {
	defer b.guard("contractDetailsEnd")
	b.store.CompleteRequest(reqID)
}

func (b *Bridge) OptionChain(reqID int64, chain domain.OptionChain) {
	defer b.guard("securityDefinitionOptionParameter")
	b.store.AppendOptionChain(reqID, chain)
}

func (b *Bridge) OptionChainEnd(reqID int64) {
	defer b.guard("securityDefinitionOptionParameterEnd")
	b.store.CompleteRequest(reqID)
}

func (b *Bridge) OrderStatus(orderID int64, st ibgw.OrderStatusUpdate) {
	defer b.guard("orderStatus")
	b.store.MergeOrderStatus(orderID, st)
}

func (b *Bridge) OpenOrder(orderID int64, rec domain.OrderRecord) {
	defer b.guard("openOrder")
	b.store.MergeOrderSnapshot(rec)
}

func (b *Bridge) OpenOrderEnd() {
	defer b.guard("openOrderEnd")
	b.store.CompleteOpenOrders()
}

func (b *Bridge) CompletedOrder(rec domain.OrderRecord) {
	defer b.guard("completedOrder")
	b.store.MergeOrderSnapshot(rec)
}

func (b *Bridge) CompletedOrdersEnd() {
	defer b.guard("completedOrdersEnd")
	b.store.CompleteCompletedOrders()
}

func (b *Bridge) Execution(reqID int64, rec domain.ExecutionRecord) {
	defer b.guard("execDetails")
	b.store.AddExecution(rec)
}

func (b *Bridge) ExecutionsEnd(reqID int64) {
	defer b.guard("execDetailsEnd")
	b.store.CompleteRequest(reqID)
}

func (b *Bridge) Commission(execID string, amount float64, currency string) {
	defer b.guard("commissionReport")
	b.store.MergeCommission(execID, amount, currency)
}

// ---------------------------------------------------------------------------
// Waiting
// ---------------------------------------------------------------------------

// handshakeErr maps an await failure during connect: an expired wait is a
// handshake timeout, but caller cancellation must stay cancellation so the
// retry loop does not burn attempts on a caller that already gave up.
func handshakeErr(err error) error {
	if errors.Is(err, ErrTimedOut) {
		return ErrConnectTimeout
	}
	return err
}

// await suspends the calling goroutine until done is closed, the timeout
// elapses, or ctx is cancelled. Only the caller waits; the callback
// goroutine is never blocked by an await.
func await(ctx context.Context, done <-chan struct{}, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-t.C:
		return ErrTimedOut
	case <-ctx.Done():
		return ctx.Err()
	}
}

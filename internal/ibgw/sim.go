package ibgw

import (
	"fmt"
	"sync"
	"time"

	"ibgate/internal/domain"
)

// Compile-time interface check.
var _ Gateway = (*Simulator)(nil)

// Simulator implements Gateway in memory for paper trading and tests. It
// mimics the vendor's threading model: every request is answered by
// callbacks emitted from a separate goroutine, never from the caller's.
// Orders fill immediately at the seeded last price (or the limit price).
type Simulator struct {
	sink Events

	mu           sync.Mutex
	connected    bool
	failuresLeft int // connects that silently skip the handshake
	nextOrderID  int64
	accounts     []string

	positions  map[string]domain.Position
	values     []domain.AccountValue
	bars       map[string][]domain.Bar // keyed by symbol
	chains     map[string][]domain.OptionChain
	lastPrice  map[string]float64
	orders     map[int64]*domain.OrderRecord
	executions []domain.ExecutionRecord
	execSeq    int
}

// NewSimulator creates a Simulator delivering callbacks into sink.
func NewSimulator(sink Events) *Simulator {
	return &Simulator{
		sink:        sink,
		nextOrderID: 1,
		accounts:    []string{"DU0000001"},
		positions:   make(map[string]domain.Position),
		bars:        make(map[string][]domain.Bar),
		chains:      make(map[string][]domain.OptionChain),
		lastPrice:   make(map[string]float64),
		orders:      make(map[int64]*domain.OrderRecord),
	}
}

// ---------------------------------------------------------------------------
// Test/paper seeding
// ---------------------------------------------------------------------------

// FailConnections makes the next n Connect calls accept the socket but never
// deliver the handshake callbacks, so the caller's ack wait times out.
func (s *Simulator) FailConnections(n int) {
	s.mu.Lock()
	s.failuresLeft = n
	s.mu.Unlock()
}

// SeedPosition installs or replaces a position.
func (s *Simulator) SeedPosition(p domain.Position) {
	s.mu.Lock()
	s.positions[p.Key()] = p
	s.mu.Unlock()
}

// SeedAccountValue appends an account value record.
func (s *Simulator) SeedAccountValue(v domain.AccountValue) {
	s.mu.Lock()
	s.values = append(s.values, v)
	s.mu.Unlock()
}

// SeedBars installs historical bars for a symbol.
func (s *Simulator) SeedBars(symbol string, bars []domain.Bar) {
	s.mu.Lock()
	s.bars[symbol] = bars
	s.mu.Unlock()
}

// SeedOptionChain installs option-chain parameters for a symbol.
func (s *Simulator) SeedOptionChain(symbol string, chains []domain.OptionChain) {
	s.mu.Lock()
	s.chains[symbol] = chains
	s.mu.Unlock()
}

// SeedLastPrice sets the quote used for snapshots and market-order fills.
func (s *Simulator) SeedLastPrice(symbol string, price float64) {
	s.mu.Lock()
	s.lastPrice[symbol] = price
	s.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Gateway implementation
// ---------------------------------------------------------------------------

// Connect marks the socket up and, unless a failure was scheduled, emits the
// handshake (connect ack, managed accounts, next valid order id) from a
// separate goroutine.
func (s *Simulator) Connect(host string, port int, clientID int) error {
	s.mu.Lock()
	s.connected = true
	fail := s.failuresLeft > 0
	if fail {
		s.failuresLeft--
	}
	orderID := s.nextOrderID
	accounts := append([]string(nil), s.accounts...)
	s.mu.Unlock()

	if fail {
		return nil
	}

	go func() {
		s.sink.ConnectAck()
		s.sink.ManagedAccounts(accounts)
		s.sink.NextValidID(orderID)
	}()
	return nil
}

func (s *Simulator) Disconnect() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

func (s *Simulator) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Simulator) ReqCurrentTime() {
	go s.sink.CurrentTime(time.Now())
}

func (s *Simulator) ReqPositions() {
	s.mu.Lock()
	snapshot := make([]domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		snapshot = append(snapshot, p)
	}
	s.mu.Unlock()

	go func() {
		for _, p := range snapshot {
			s.sink.Position(p)
		}
		s.sink.PositionEnd()
	}()
}

func (s *Simulator) ReqAccountUpdates(subscribe bool, account string) {
	if !subscribe {
		return
	}
	s.mu.Lock()
	snapshot := append([]domain.AccountValue(nil), s.values...)
	s.mu.Unlock()

	go func() {
		for _, v := range snapshot {
			if account == "" || v.Account == account {
				s.sink.AccountValue(v)
			}
		}
		s.sink.AccountDownloadEnd(account)
	}()
}

func (s *Simulator) ReqHistoricalData(reqID int64, c domain.Contract, q HistoricalQuery) {
	s.mu.Lock()
	snapshot := append([]domain.Bar(nil), s.bars[c.Symbol]...)
	s.mu.Unlock()

	go func() {
		for _, b := range snapshot {
			s.sink.HistoricalBar(reqID, b)
		}
		s.sink.HistoricalDataEnd(reqID)
	}()
}

func (s *Simulator) ReqMktDataSnapshot(reqID int64, c domain.Contract) {
	s.mu.Lock()
	last := s.lastPrice[c.Symbol]
	s.mu.Unlock()

	go func() {
		if last > 0 {
			s.sink.TickPrice(reqID, TickBid, last-0.01)
			s.sink.TickPrice(reqID, TickAsk, last+0.01)
			s.sink.TickPrice(reqID, TickLast, last)
			s.sink.TickSize(reqID, TickLastSize, 100)
		}
		s.sink.TickSnapshotEnd(reqID)
	}()
}

func (s *Simulator) CancelMktData(reqID int64) {}

func (s *Simulator) ReqContractDetails(reqID int64, c domain.Contract) {
	info := domain.ContractInfo{
		Contract:       c,
		MarketName:     c.Symbol,
		MinTick:        0.01,
		PriceMagnifier: 1,
		OrderTypes:     []string{"LMT", "MKT", "STP"},
		ValidExchanges: []string{"SMART"},
		TimeZoneID:     "US/Eastern",
	}
	info.Contract.ConID = hashConID(c.Symbol)

	go func() {
		s.sink.ContractDetails(reqID, info)
		s.sink.ContractDetailsEnd(reqID)
	}()
}

func (s *Simulator) ReqSecDefOptParams(reqID int64, symbol, exchange, secType string, conID int64) {
	s.mu.Lock()
	snapshot := append([]domain.OptionChain(nil), s.chains[symbol]...)
	s.mu.Unlock()

	go func() {
		for _, ch := range snapshot {
			s.sink.OptionChain(reqID, ch)
		}
		s.sink.OptionChainEnd(reqID)
	}()
}

func (s *Simulator) PlaceOrder(orderID int64, c domain.Contract, o OrderRequest) {
	s.mu.Lock()
	price := s.lastPrice[c.Symbol]
	if price == 0 {
		price = o.LimitPrice
	}

	rec := &domain.OrderRecord{
		OrderID:    orderID,
		Contract:   c,
		Action:     o.Action,
		Quantity:   o.Quantity,
		OrderType:  o.OrderType,
		TIF:        o.TIF,
		LimitPrice: o.LimitPrice,
		StopPrice:  o.StopPrice,
		Status:     "Filled",
		Filled:     o.Quantity,
		Remaining:  0,
	}
	rec.AvgFillPrice = price
	rec.LastFillPrice = price
	s.orders[orderID] = rec

	// Apply the fill to the position book.
	qty := o.Quantity
	if o.Action == domain.ActionSell {
		qty = -qty
	}
	pos := domain.Position{Account: s.accounts[0], Contract: c}
	key := pos.Key()
	if cur, ok := s.positions[key]; ok {
		pos = cur
	}
	pos.Quantity += qty
	pos.AvgCost = price
	s.positions[key] = pos

	s.execSeq++
	exec := domain.ExecutionRecord{
		ExecID:   fmt.Sprintf("sim.%08d", s.execSeq),
		OrderID:  orderID,
		Contract: c,
		Side:     sideOf(o.Action),
		Shares:   o.Quantity,
		Price:    price,
		CumQty:   o.Quantity,
		AvgPrice: price,
		Time:     time.Now().UTC().Format("20060102  15:04:05"),
		Exchange: c.Exchange,
		Account:  s.accounts[0],
	}
	s.executions = append(s.executions, exec)
	status := *rec
	s.mu.Unlock()

	go func() {
		s.sink.OrderStatus(orderID, OrderStatusUpdate{
			Status:        status.Status,
			Filled:        status.Filled,
			Remaining:     status.Remaining,
			AvgFillPrice:  status.AvgFillPrice,
			LastFillPrice: status.LastFillPrice,
		})
		s.sink.Execution(0, exec)
		s.sink.Commission(exec.ExecID, 1.0, "USD")
	}()
}

func (s *Simulator) CancelOrder(orderID int64) {
	s.mu.Lock()
	if rec, ok := s.orders[orderID]; ok && rec.Status != "Filled" {
		rec.Status = "Cancelled"
	}
	s.mu.Unlock()

	go s.sink.OrderStatus(orderID, OrderStatusUpdate{Status: "Cancelled"})
}

func (s *Simulator) ReqAllOpenOrders() {
	s.orderSnapshot(func(rec domain.OrderRecord) bool { return rec.Status != "Filled" && rec.Status != "Cancelled" }, true)
}

func (s *Simulator) ReqCompletedOrders(apiOnly bool) {
	s.orderSnapshot(func(rec domain.OrderRecord) bool { return rec.Status == "Filled" || rec.Status == "Cancelled" }, false)
}

func (s *Simulator) orderSnapshot(match func(domain.OrderRecord) bool, open bool) {
	s.mu.Lock()
	var snapshot []domain.OrderRecord
	for _, rec := range s.orders {
		if match(*rec) {
			snapshot = append(snapshot, *rec)
		}
	}
	s.mu.Unlock()

	go func() {
		for _, rec := range snapshot {
			if open {
				s.sink.OpenOrder(rec.OrderID, rec)
			} else {
				s.sink.CompletedOrder(rec)
			}
		}
		if open {
			s.sink.OpenOrderEnd()
		} else {
			s.sink.CompletedOrdersEnd()
		}
	}()
}

func (s *Simulator) ReqExecutions(reqID int64) {
	s.mu.Lock()
	snapshot := append([]domain.ExecutionRecord(nil), s.executions...)
	s.mu.Unlock()

	go func() {
		for _, e := range snapshot {
			s.sink.Execution(reqID, e)
			s.sink.Commission(e.ExecID, 1.0, "USD")
		}
		s.sink.ExecutionsEnd(reqID)
	}()
}

func sideOf(a domain.OrderAction) string {
	if a == domain.ActionSell {
		return "SLD"
	}
	return "BOT"
}

func hashConID(symbol string) int64 {
	var h int64
	for _, r := range symbol {
		h = h*31 + int64(r)
	}
	if h < 0 {
		h = -h
	}
	return h
}

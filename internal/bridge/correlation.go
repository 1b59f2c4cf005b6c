// Package bridge links the vendor gateway's callback goroutine to the
// request-issuing callers. Store holds the correlation tables; Bridge owns
// one gateway connection and one Store per session.
package bridge

import (
	"sync"

	"ibgate/internal/domain"
	"ibgate/internal/ibgw"
)

// Store correlates callback-delivered data with waiting callers.
//
// Two key regimes coexist. Positions, account values, orders, and
// executions accumulate into session-wide tables keyed by natural keys and
// are merged on update. Historical bars, contract details, option chains,
// and market data ticks are keyed by the caller-issued request id; because
// ids may eventually be reused, the caller must Expect* (clear) an id
// before dispatching on it. The Store never clears anything on its own.
//
// Completion is signalled with per-key channels closed when the vendor's
// end-marker callback arrives; a caller blocks on the channel returned by
// the matching Expect* call.
type Store struct {
	mu sync.Mutex

	// Session-wide, merge-by-key.
	positions     map[string]domain.Position
	positionsDone chan struct{}
	values        map[string]domain.AccountValue
	valuesDone    chan struct{}
	orders        map[int64]*domain.OrderRecord
	openDone      chan struct{}
	completedDone chan struct{}
	orderAcks     map[int64]chan struct{}
	execs         map[string]*domain.ExecutionRecord

	// Request-scoped.
	bars    map[int64][]domain.Bar
	details map[int64][]domain.ContractInfo
	chains  map[int64][]domain.OptionChain
	ticks   map[int64]*tickTable
	reqDone map[int64]chan struct{}
}

// tickTable merges individual tick callbacks by tick type.
type tickTable struct {
	prices  map[int64]float64
	sizes   map[int64]int64
	strings map[int64]string
}

// NewStore creates an empty correlation store.
func NewStore() *Store {
	return &Store{
		positions: make(map[string]domain.Position),
		values:    make(map[string]domain.AccountValue),
		orders:    make(map[int64]*domain.OrderRecord),
		orderAcks: make(map[int64]chan struct{}),
		execs:     make(map[string]*domain.ExecutionRecord),
		bars:      make(map[int64][]domain.Bar),
		details:   make(map[int64][]domain.ContractInfo),
		chains:    make(map[int64][]domain.OptionChain),
		ticks:     make(map[int64]*tickTable),
		reqDone:   make(map[int64]chan struct{}),
	}
}

// ---------------------------------------------------------------------------
// Positions
// ---------------------------------------------------------------------------

// ExpectPositions clears the position table and returns the channel closed
// on the next positionEnd.
func (s *Store) ExpectPositions() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = make(map[string]domain.Position)
	s.positionsDone = make(chan struct{})
	return s.positionsDone
}

// AddPosition merges a position callback into the session table.
func (s *Store) AddPosition(p domain.Position) {
	s.mu.Lock()
	s.positions[p.Key()] = p
	s.mu.Unlock()
}

// CompletePositions signals that the position snapshot is complete.
func (s *Store) CompletePositions() {
	s.mu.Lock()
	done := s.positionsDone
	s.positionsDone = nil
	s.mu.Unlock()
	if done != nil {
		close(done)
	}
}

// Positions returns a copy of the position table.
func (s *Store) Positions() []domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out
}

// ---------------------------------------------------------------------------
// Account values
// ---------------------------------------------------------------------------

// ExpectAccountValues clears the account-value table and returns the channel
// closed on the next accountDownloadEnd.
func (s *Store) ExpectAccountValues() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]domain.AccountValue)
	s.valuesDone = make(chan struct{})
	return s.valuesDone
}

// AddAccountValue merges an account value callback into the session table.
func (s *Store) AddAccountValue(v domain.AccountValue) {
	s.mu.Lock()
	s.values[v.Key()] = v
	s.mu.Unlock()
}

// CompleteAccountValues signals that the account download is complete.
func (s *Store) CompleteAccountValues() {
	s.mu.Lock()
	done := s.valuesDone
	s.valuesDone = nil
	s.mu.Unlock()
	if done != nil {
		close(done)
	}
}

// AccountValues returns a copy of the account-value table, optionally
// filtered by account.
func (s *Store) AccountValues(account string) []domain.AccountValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AccountValue, 0, len(s.values))
	for _, v := range s.values {
		if account == "" || v.Account == account {
			out = append(out, v)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// ExpectOrders clears the order table and returns the channels closed on the
// next openOrderEnd and completedOrdersEnd.
func (s *Store) ExpectOrders() (openDone, completedDone <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = make(map[int64]*domain.OrderRecord)
	s.openDone = make(chan struct{})
	s.completedDone = make(chan struct{})
	return s.openDone, s.completedDone
}

// ExpectOrderAck returns a channel closed at the first callback (status or
// open-order snapshot) for the given order id.
func (s *Store) ExpectOrderAck(orderID int64) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ack := make(chan struct{})
	s.orderAcks[orderID] = ack
	return ack
}

// AbandonOrderAck deregisters a pending ack whose waiter gave up. The
// entry is removed without closing the channel; a later callback for the
// same order id merges normally but wakes nobody.
func (s *Store) AbandonOrderAck(orderID int64) {
	s.mu.Lock()
	delete(s.orderAcks, orderID)
	s.mu.Unlock()
}

func (s *Store) ackOrderLocked(orderID int64) {
	if ack, ok := s.orderAcks[orderID]; ok {
		delete(s.orderAcks, orderID)
		close(ack)
	}
}

func (s *Store) orderLocked(orderID int64) *domain.OrderRecord {
	rec, ok := s.orders[orderID]
	if !ok {
		rec = &domain.OrderRecord{OrderID: orderID}
		s.orders[orderID] = rec
	}
	return rec
}

// MergeOrderStatus folds an orderStatus callback into the order table.
// Status callbacks carry fill progress but no contract, so only their
// fields are touched.
func (s *Store) MergeOrderStatus(orderID int64, st ibgw.OrderStatusUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.orderLocked(orderID)
	rec.Status = st.Status
	rec.Filled = st.Filled
	rec.Remaining = st.Remaining
	rec.AvgFillPrice = st.AvgFillPrice
	rec.LastFillPrice = st.LastFillPrice
	rec.WhyHeld = st.WhyHeld
	if st.PermID != 0 {
		rec.PermID = st.PermID
	}
	if st.ParentID != 0 {
		rec.ParentID = st.ParentID
	}
	if st.ClientID != 0 {
		rec.ClientID = st.ClientID
	}
	s.ackOrderLocked(orderID)
}

// MergeOrderSnapshot folds an openOrder/completedOrder snapshot into the
// order table. Snapshots carry the contract and order definition but not
// fill progress, so a previously merged status survives.
func (s *Store) MergeOrderSnapshot(snap domain.OrderRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.orderLocked(snap.OrderID)
	rec.Contract = snap.Contract
	rec.Action = snap.Action
	rec.Quantity = snap.Quantity
	rec.OrderType = snap.OrderType
	rec.TIF = snap.TIF
	if snap.LimitPrice > 0 {
		rec.LimitPrice = snap.LimitPrice
	}
	if snap.StopPrice > 0 {
		rec.StopPrice = snap.StopPrice
	}
	if snap.Status != "" {
		rec.Status = snap.Status
	}
	s.ackOrderLocked(snap.OrderID)
}

// CompleteOpenOrders signals the end of an open-order snapshot.
func (s *Store) CompleteOpenOrders() {
	s.mu.Lock()
	done := s.openDone
	s.openDone = nil
	s.mu.Unlock()
	if done != nil {
		close(done)
	}
}

// CompleteCompletedOrders signals the end of a completed-order snapshot.
func (s *Store) CompleteCompletedOrders() {
	s.mu.Lock()
	done := s.completedDone
	s.completedDone = nil
	s.mu.Unlock()
	if done != nil {
		close(done)
	}
}

// Order returns a copy of one order record.
func (s *Store) Order(orderID int64) (domain.OrderRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.orders[orderID]
	if !ok {
		return domain.OrderRecord{}, false
	}
	return *rec, true
}

// Orders returns a copy of the order table.
func (s *Store) Orders() []domain.OrderRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.OrderRecord, 0, len(s.orders))
	for _, rec := range s.orders {
		out = append(out, *rec)
	}
	return out
}

// ---------------------------------------------------------------------------
// Executions
// ---------------------------------------------------------------------------

// AddExecution merges an execution callback by execution id. A commission
// merged earlier (callback order is not guaranteed) survives.
func (s *Store) AddExecution(rec domain.ExecutionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.execs[rec.ExecID]; ok {
		rec.Commission = prev.Commission
		rec.CommissionCurrency = prev.CommissionCurrency
		rec.HasCommission = prev.HasCommission
	}
	cp := rec
	s.execs[rec.ExecID] = &cp
}

// MergeCommission attaches an asynchronously reported commission to its
// execution.
func (s *Store) MergeCommission(execID string, amount float64, currency string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.execs[execID]
	if !ok {
		rec = &domain.ExecutionRecord{ExecID: execID}
		s.execs[execID] = rec
	}
	rec.Commission = amount
	rec.CommissionCurrency = currency
	rec.HasCommission = true
}

// Executions returns a copy of the execution table.
func (s *Store) Executions() []domain.ExecutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ExecutionRecord, 0, len(s.execs))
	for _, rec := range s.execs {
		out = append(out, *rec)
	}
	return out
}

// ---------------------------------------------------------------------------
// Request-scoped tables
// ---------------------------------------------------------------------------

// expectRequest clears any stale completion channel for reqID and installs a
// fresh one. Callers must hold s.mu.
func (s *Store) expectRequestLocked(reqID int64) chan struct{} {
	done := make(chan struct{})
	s.reqDone[reqID] = done
	return done
}

// CompleteRequest signals the end-marker for a request id.
func (s *Store) CompleteRequest(reqID int64) {
	s.mu.Lock()
	done := s.reqDone[reqID]
	delete(s.reqDone, reqID)
	s.mu.Unlock()
	if done != nil {
		close(done)
	}
}

// ExpectBars clears the bar list for reqID and arms its completion channel.
func (s *Store) ExpectBars(reqID int64) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bars, reqID)
	return s.expectRequestLocked(reqID)
}

// AppendBar appends one historical bar in delivery order.
func (s *Store) AppendBar(reqID int64, bar domain.Bar) {
	s.mu.Lock()
	s.bars[reqID] = append(s.bars[reqID], bar)
	s.mu.Unlock()
}

// TakeBars removes and returns the bars accumulated for reqID.
func (s *Store) TakeBars(reqID int64) []domain.Bar {
	s.mu.Lock()
	defer s.mu.Unlock()
	bars := s.bars[reqID]
	delete(s.bars, reqID)
	return bars
}

// ExpectContractDetails clears the detail list for reqID and arms its
// completion channel.
func (s *Store) ExpectContractDetails(reqID int64) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.details, reqID)
	return s.expectRequestLocked(reqID)
}

// AppendContractDetails appends one contract-details record.
func (s *Store) AppendContractDetails(reqID int64, info domain.ContractInfo) {
	s.mu.Lock()
	s.details[reqID] = append(s.details[reqID], info)
	s.mu.Unlock()
}

// TakeContractDetails removes and returns the details for reqID.
func (s *Store) TakeContractDetails(reqID int64) []domain.ContractInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	details := s.details[reqID]
	delete(s.details, reqID)
	return details
}

// ExpectOptionChains clears the chain list for reqID and arms its completion
// channel.
func (s *Store) ExpectOptionChains(reqID int64) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chains, reqID)
	return s.expectRequestLocked(reqID)
}

// AppendOptionChain appends one option-chain record.
func (s *Store) AppendOptionChain(reqID int64, chain domain.OptionChain) {
	s.mu.Lock()
	s.chains[reqID] = append(s.chains[reqID], chain)
	s.mu.Unlock()
}

// TakeOptionChains removes and returns the chains for reqID.
func (s *Store) TakeOptionChains(reqID int64) []domain.OptionChain {
	s.mu.Lock()
	defer s.mu.Unlock()
	chains := s.chains[reqID]
	delete(s.chains, reqID)
	return chains
}

// ExpectTicks clears the tick table for reqID and arms its completion
// channel.
func (s *Store) ExpectTicks(reqID int64) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ticks, reqID)
	return s.expectRequestLocked(reqID)
}

func (s *Store) tickLocked(reqID int64) *tickTable {
	tt, ok := s.ticks[reqID]
	if !ok {
		tt = &tickTable{
			prices:  make(map[int64]float64),
			sizes:   make(map[int64]int64),
			strings: make(map[int64]string),
		}
		s.ticks[reqID] = tt
	}
	return tt
}

// SetTickPrice merges a price tick by tick type.
func (s *Store) SetTickPrice(reqID, tickType int64, price float64) {
	s.mu.Lock()
	s.tickLocked(reqID).prices[tickType] = price
	s.mu.Unlock()
}

// SetTickSize merges a size tick by tick type.
func (s *Store) SetTickSize(reqID, tickType int64, size int64) {
	s.mu.Lock()
	s.tickLocked(reqID).sizes[tickType] = size
	s.mu.Unlock()
}

// SetTickString merges a string tick by tick type.
func (s *Store) SetTickString(reqID, tickType int64, value string) {
	s.mu.Lock()
	s.tickLocked(reqID).strings[tickType] = value
	s.mu.Unlock()
}

// TakeTicks removes and returns the tick table for reqID, flattened into a
// price/size lookup.
func (s *Store) TakeTicks(reqID int64) (prices map[int64]float64, sizes map[int64]int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tt, ok := s.ticks[reqID]
	delete(s.ticks, reqID)
	if !ok {
		return nil, nil
	}
	return tt.prices, tt.sizes
}

// ExpectExecutions arms the completion channel for an execution request.
// The execution table itself is session-wide and is not cleared: commission
// reports may still refer to earlier fills.
func (s *Store) ExpectExecutions(reqID int64) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expectRequestLocked(reqID)
}

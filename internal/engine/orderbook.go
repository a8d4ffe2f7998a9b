package engine

import (
	"fmt"
	"sync"
	"time"

	"blitz/internal/common"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const DefaultDepth = 5

// InvariantViolation is panicked when the book detects state that the
// public API can never produce. Continuing would corrupt price-time
// priority, so it is not returned as an error.
type InvariantViolation struct {
	SecurityID string
	OrderID    string
	Detail     string
}

func (v InvariantViolation) Error() string {
	return fmt.Sprintf("order book %s: invariant violated on order %s: %s", v.SecurityID, v.OrderID, v.Detail)
}

// OrderBookOption configures an OrderBook.
type OrderBookOption func(*OrderBook)

// WithClock replaces time.Now for trade execution timestamps.
func WithClock(now func() time.Time) OrderBookOption {
	return func(book *OrderBook) {
		book.now = now
	}
}

// WithTradeIDs replaces the uuid generator used for trade ids.
func WithTradeIDs(next func() string) OrderBookOption {
	return func(book *OrderBook) {
		book.nextTradeID = next
	}
}

// OrderBook holds the resting orders of a single instrument and matches
// incoming orders against them in price-time priority.
//
// Every method takes the book lock, so one book is single-writer. Nothing
// under the lock blocks on I/O.
type OrderBook struct {
	securityID string

	mu sync.RWMutex

	bids *orderQueue
	asks *orderQueue

	// Resting orders by id. Lookup only; the queues own ordering.
	orders map[string]*common.Order

	lastTradedPrice decimal.Decimal
	traded          bool

	// Tertiary sort key for orders sharing price and arrival time.
	sequence uint64

	now         func() time.Time
	nextTradeID func() string
}

func NewOrderBook(securityID string, opts ...OrderBookOption) *OrderBook {
	book := &OrderBook{
		securityID:  securityID,
		bids:        newOrderQueue(common.Buy),
		asks:        newOrderQueue(common.Sell),
		orders:      make(map[string]*common.Order),
		now:         time.Now,
		nextTradeID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(book)
	}
	return book
}

func (book *OrderBook) SecurityID() string {
	return book.securityID
}

// PlaceOrder is AddOrder guarded by the liquidity check: a market order
// that arrives while the opposite side is empty is marked REJECTED and the
// book is left as it was. The check and the match happen under one lock.
func (book *OrderBook) PlaceOrder(order *common.Order) (Result, error) {
	if err := book.validate(order); err != nil {
		return Result{}, err
	}

	book.mu.Lock()
	defer book.mu.Unlock()

	if order.Type == common.MarketOrder && book.queue(order.Side.Opposite()).len() == 0 {
		rejection := common.NewLiquidityRejection(order)
		order.Reject(rejection.Reason)
		return Result{
			Outcome:   Rejected,
			Rejection: rejection,
			Status:    order.Status,
			Remaining: order.RemainingQuantity,
		}, nil
	}
	return book.addOrder(order)
}

// AddOrder runs the matching loop for an incoming order and returns the
// trades it produced. A limit order with quantity left over rests in the
// book; what is left of a market order is dropped and reported as Unfilled.
func (book *OrderBook) AddOrder(order *common.Order) (Result, error) {
	if err := book.validate(order); err != nil {
		return Result{}, err
	}

	book.mu.Lock()
	defer book.mu.Unlock()
	return book.addOrder(order)
}

func (book *OrderBook) validate(order *common.Order) error {
	if order == nil {
		return &common.ValidationError{Field: "order", Reason: "is nil"}
	}
	if err := order.Validate(); err != nil {
		return err
	}
	if order.SecurityID != book.securityID {
		return &common.ValidationError{OrderID: order.ID, Field: "securityId", Reason: "does not match book " + book.securityID}
	}
	return nil
}

func (book *OrderBook) addOrder(order *common.Order) (Result, error) {
	if _, exists := book.orders[order.ID]; exists {
		return Result{}, &common.ValidationError{OrderID: order.ID, Field: "id", Reason: "is already resting"}
	}

	book.sequence++
	order.Sequence = book.sequence

	result := Result{Outcome: Matched, Trades: book.match(order)}

	switch order.Type.RestingPolicy() {
	case common.RestsOnRemainder:
		if order.RemainingQuantity > 0 {
			book.queue(order.Side).push(order)
			book.orders[order.ID] = order
			result.Resting = true
		}
	case common.NeverRests:
		result.Unfilled = order.RemainingQuantity
	}
	result.Status = order.Status
	result.Remaining = order.RemainingQuantity
	return result, nil
}

// match consumes crossing orders on the opposite side until the incoming
// order is filled or the best resting price no longer crosses.
func (book *OrderBook) match(order *common.Order) []common.Trade {
	resting := book.queue(order.Side.Opposite())

	var trades []common.Trade
	for order.RemainingQuantity > 0 {
		maker, ok := resting.peek()
		if !ok || !crosses(order, maker) {
			break
		}
		if !resting.remove(maker) {
			book.violation(maker, "best order could not be removed from its queue")
		}

		matchQty := min(order.RemainingQuantity, maker.RemainingQuantity)
		order.Fill(matchQty)
		maker.Fill(matchQty)
		book.checkQuantities(order)
		book.checkQuantities(maker)

		trades = append(trades, book.trade(order, maker, matchQty))
		book.lastTradedPrice = maker.Price
		book.traded = true

		// The maker keeps its price, arrival time and sequence, so it goes
		// back to the same spot in the queue.
		if maker.RemainingQuantity > 0 {
			resting.push(maker)
		} else {
			delete(book.orders, maker.ID)
		}
	}
	return trades
}

// crosses reports whether the taker can trade against the maker.
func crosses(taker, maker *common.Order) bool {
	if taker.Type == common.MarketOrder {
		return true
	}
	if taker.Side == common.Buy {
		return taker.Price.GreaterThanOrEqual(maker.Price)
	}
	return taker.Price.LessThanOrEqual(maker.Price)
}

func (book *OrderBook) trade(taker, maker *common.Order, qty int64) common.Trade {
	buy, sell := taker, maker
	if taker.Side == common.Sell {
		buy, sell = maker, taker
	}
	return common.Trade{
		ID:          book.nextTradeID(),
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		SecurityID:  book.securityID,
		Quantity:    qty,
		Price:       maker.Price,
		ExecutedAt:  book.now(),
	}
}

// CancelOrder removes a resting order. Unknown ids and orders that are
// already terminal return false.
func (book *OrderBook) CancelOrder(orderID string) bool {
	book.mu.Lock()
	defer book.mu.Unlock()

	order, ok := book.orders[orderID]
	if !ok || order.Status.Terminal() {
		return false
	}
	if !book.queue(order.Side).remove(order) {
		book.violation(order, "indexed order missing from its queue")
	}
	delete(book.orders, orderID)
	order.Status = common.Cancelled
	return true
}

// BestBuyOrders returns up to n resting bids, best first.
func (book *OrderBook) BestBuyOrders(n int) []common.BestOrder {
	book.mu.RLock()
	defer book.mu.RUnlock()
	return book.bids.best(n)
}

// BestSellOrders returns up to n resting asks, best first.
func (book *OrderBook) BestSellOrders(n int) []common.BestOrder {
	book.mu.RLock()
	defer book.mu.RUnlock()
	return book.asks.best(n)
}

func (book *OrderBook) MarketDepth(n int) common.MarketDepth {
	book.mu.RLock()
	defer book.mu.RUnlock()
	return common.MarketDepth{
		SecurityID: book.securityID,
		BuyOrders:  book.bids.best(n),
		SellOrders: book.asks.best(n),
	}
}

// LastTradedPrice is absent until the first trade.
func (book *OrderBook) LastTradedPrice() (decimal.Decimal, bool) {
	book.mu.RLock()
	defer book.mu.RUnlock()
	return book.lastTradedPrice, book.traded
}

// Resting returns the number of resting orders on a side.
func (book *OrderBook) Resting(side common.Side) int {
	book.mu.RLock()
	defer book.mu.RUnlock()
	return book.queue(side).len()
}

// Order looks up a resting order by id.
func (book *OrderBook) Order(orderID string) (common.Order, bool) {
	book.mu.RLock()
	defer book.mu.RUnlock()
	order, ok := book.orders[orderID]
	if !ok {
		return common.Order{}, false
	}
	return *order, true
}

func (book *OrderBook) reset() {
	book.mu.Lock()
	defer book.mu.Unlock()
	book.bids.clear()
	book.asks.clear()
	book.orders = make(map[string]*common.Order)
	book.lastTradedPrice = decimal.Zero
	book.traded = false
	book.sequence = 0
}

func (book *OrderBook) queue(side common.Side) *orderQueue {
	if side == common.Buy {
		return book.bids
	}
	return book.asks
}

func (book *OrderBook) checkQuantities(order *common.Order) {
	if order.RemainingQuantity < 0 {
		book.violation(order, "negative remaining quantity")
	}
	if order.FilledQuantity+order.RemainingQuantity != order.OriginalQuantity {
		book.violation(order, "filled + remaining != original")
	}
}

func (book *OrderBook) violation(order *common.Order, detail string) {
	panic(InvariantViolation{SecurityID: book.securityID, OrderID: order.ID, Detail: detail})
}

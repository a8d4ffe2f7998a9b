package engine

import (
	"sort"
	"sync"
	"time"

	"blitz/internal/common"
	"blitz/internal/metrics"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultHoldBuffer is applied on top of the best opposite price when
// quoting how much a caller should hold for an order.
var DefaultHoldBuffer = decimal.RequireFromString("1.1")

// Engine is the registry of order books, one per instrument. Books are
// created on the first order for an instrument and live until ResetAll.
type Engine struct {
	mu    sync.RWMutex
	books map[string]*OrderBook

	bookOpts   []OrderBookOption
	holdBuffer decimal.Decimal
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Engine)

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithBookOptions applies opts to every book the engine creates.
func WithBookOptions(opts ...OrderBookOption) Option {
	return func(e *Engine) {
		e.bookOpts = append(e.bookOpts, opts...)
	}
}

func WithHoldBuffer(buffer decimal.Decimal) Option {
	return func(e *Engine) {
		e.holdBuffer = buffer
	}
}

func New(opts ...Option) *Engine {
	engine := &Engine{
		books:      make(map[string]*OrderBook),
		holdBuffer: DefaultHoldBuffer,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// ProcessOrder hands a validated order to its instrument's book, creating
// the book if needed. Market orders facing an empty opposite side come back
// as a Rejected result. The returned error is only ever a validation error,
// in which case no book was touched.
func (engine *Engine) ProcessOrder(order *common.Order) (Result, error) {
	if order == nil {
		return Result{}, &common.ValidationError{Field: "order", Reason: "is nil"}
	}
	order.ApplyDefaults()
	if err := order.Validate(); err != nil {
		return Result{}, err
	}

	start := time.Now()
	result, err := engine.bookFor(order.SecurityID).PlaceOrder(order)
	if err != nil {
		return Result{}, err
	}
	engine.metrics.OrderProcessed(order.Type.String(), order.Side.String(), time.Since(start))

	if result.Outcome == Rejected {
		engine.metrics.Rejected("liquidity")
		engine.logger.Info().
			Str("order", order.ID).
			Str("security", order.SecurityID).
			Str("side", order.Side.String()).
			Str("reason", result.Rejection.Reason).
			Msg("market order rejected")
		return result, nil
	}

	for _, trade := range result.Trades {
		engine.metrics.Traded(trade.SecurityID, trade.Quantity)
	}
	engine.logger.Debug().
		Str("order", order.ID).
		Str("security", order.SecurityID).
		Int("trades", len(result.Trades)).
		Int64("unfilled", result.Unfilled).
		Str("status", result.Status.String()).
		Msg("order processed")
	return result, nil
}

// CancelOrder is false when the instrument has no book.
func (engine *Engine) CancelOrder(orderID, securityID string) bool {
	book, ok := engine.Book(securityID)
	if !ok {
		engine.metrics.Cancelled(false)
		return false
	}
	removed := book.CancelOrder(orderID)
	engine.metrics.Cancelled(removed)
	return removed
}

func (engine *Engine) LastTradedPrice(securityID string) (decimal.Decimal, bool) {
	book, ok := engine.Book(securityID)
	if !ok {
		return decimal.Zero, false
	}
	return book.LastTradedPrice()
}

// BestBuyOrders and BestSellOrders treat n <= 0 as DefaultDepth.
func (engine *Engine) BestBuyOrders(securityID string, n int) []common.BestOrder {
	book, ok := engine.Book(securityID)
	if !ok {
		return []common.BestOrder{}
	}
	return book.BestBuyOrders(depth(n))
}

func (engine *Engine) BestSellOrders(securityID string, n int) []common.BestOrder {
	book, ok := engine.Book(securityID)
	if !ok {
		return []common.BestOrder{}
	}
	return book.BestSellOrders(depth(n))
}

func (engine *Engine) MarketDepth(securityID string, n int) common.MarketDepth {
	book, ok := engine.Book(securityID)
	if !ok {
		return common.MarketDepth{
			SecurityID: securityID,
			BuyOrders:  []common.BestOrder{},
			SellOrders: []common.BestOrder{},
		}
	}
	return book.MarketDepth(depth(n))
}

// HasLiquidity reports whether an order on side would find anything to
// trade against right now.
func (engine *Engine) HasLiquidity(securityID string, side common.Side) bool {
	book, ok := engine.Book(securityID)
	if !ok {
		return false
	}
	return book.Resting(side.Opposite()) > 0
}

// Quote estimates what an order of qty on side costs at the best opposite
// price, padded by the hold buffer.
type Quote struct {
	Price       decimal.Decimal `json:"price"`
	Quantity    int64           `json:"quantity"`
	BaseAmount  decimal.Decimal `json:"baseAmount"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

// BestPrice is false when nothing rests on the opposite side.
func (engine *Engine) BestPrice(securityID string, side common.Side, qty int64) (Quote, bool) {
	var best []common.BestOrder
	if side == common.Buy {
		best = engine.BestSellOrders(securityID, 1)
	} else {
		best = engine.BestBuyOrders(securityID, 1)
	}
	if len(best) == 0 {
		return Quote{}, false
	}

	matched := min(qty, best[0].Quantity)
	base := best[0].Price.Mul(decimal.NewFromInt(matched))
	return Quote{
		Price:       best[0].Price,
		Quantity:    matched,
		BaseAmount:  base,
		TotalAmount: base.Mul(engine.holdBuffer),
	}, true
}

// Book returns the instrument's book without creating it.
func (engine *Engine) Book(securityID string) (*OrderBook, bool) {
	engine.mu.RLock()
	defer engine.mu.RUnlock()
	book, ok := engine.books[securityID]
	return book, ok
}

// Securities lists instruments with a book, sorted.
func (engine *Engine) Securities() []string {
	engine.mu.RLock()
	defer engine.mu.RUnlock()
	ids := make([]string, 0, len(engine.books))
	for id := range engine.books {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ResetAll drops every book. Only for tests and administration; it must
// not run while orders are resting in production.
func (engine *Engine) ResetAll() {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	for _, book := range engine.books {
		book.reset()
	}
	engine.books = make(map[string]*OrderBook)
	engine.metrics.SetBooks(0)
	engine.logger.Warn().Msg("all order books reset")
}

func (engine *Engine) bookFor(securityID string) *OrderBook {
	if book, ok := engine.Book(securityID); ok {
		return book
	}

	engine.mu.Lock()
	defer engine.mu.Unlock()
	// Another writer may have created it between the two locks.
	if book, ok := engine.books[securityID]; ok {
		return book
	}
	book := NewOrderBook(securityID, engine.bookOpts...)
	engine.books[securityID] = book
	engine.metrics.SetBooks(len(engine.books))
	engine.logger.Info().Str("security", securityID).Msg("order book created")
	return book
}

func depth(n int) int {
	if n <= 0 {
		return DefaultDepth
	}
	return n
}

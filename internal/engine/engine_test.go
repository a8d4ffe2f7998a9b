package engine

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"

	"blitz/internal/common"
	"blitz/internal/metrics"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestEngine() *Engine {
	return New(WithMetrics(metrics.New()))
}

func TestProcessOrder_CreatesBookLazily(t *testing.T) {
	eng := createTestEngine()
	_, ok := eng.Book(testSecurity)
	require.False(t, ok)

	result, err := eng.ProcessOrder(limitOrder("b1", common.Buy, "10", 5, at(0)))
	require.NoError(t, err)
	assert.Equal(t, Matched, result.Outcome)

	book, ok := eng.Book(testSecurity)
	require.True(t, ok)
	assert.Equal(t, testSecurity, book.SecurityID())
	assert.Equal(t, []string{testSecurity}, eng.Securities())
}

func TestProcessOrder_MarketRejectionLeavesBookUntouched(t *testing.T) {
	eng := createTestEngine()
	_, err := eng.ProcessOrder(limitOrder("s1", common.Sell, "10", 5, at(0)))
	require.NoError(t, err)
	before := eng.MarketDepth(testSecurity, 5)

	order := marketOrder("mkt", common.Sell, 5, at(1))
	result, err := eng.ProcessOrder(order)
	require.NoError(t, err)

	assert.Equal(t, Rejected, result.Outcome)
	var rejection *common.LiquidityRejection
	require.True(t, errors.As(result.Err(), &rejection))
	assert.Equal(t, "mkt", rejection.OrderID)
	assert.Equal(t, "No buy orders available", rejection.Reason)
	assert.Equal(t, common.Sell, rejection.Side)
	assert.Equal(t, int64(5), rejection.Quantity)
	assert.Equal(t, common.Rejected, order.Status)

	assert.Equal(t, before, eng.MarketDepth(testSecurity, 5))
}

func TestProcessOrder_MarketRejectedOnNewInstrument(t *testing.T) {
	eng := createTestEngine()

	result, err := eng.ProcessOrder(common.NewMarketOrder("mkt", "NEW", common.Buy, 1))
	require.NoError(t, err)
	assert.Equal(t, Rejected, result.Outcome)
	assert.Equal(t, "No sell orders available", result.Rejection.Reason)
}

func TestProcessOrder_MarketOrderMatches(t *testing.T) {
	eng := createTestEngine()
	_, err := eng.ProcessOrder(limitOrder("s1", common.Sell, "10.50", 5, at(0)))
	require.NoError(t, err)

	order := marketOrder("mkt", common.Buy, 3, at(1))
	result, err := eng.ProcessOrder(order)
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	assertPrice(t, "10.5", result.Trades[0].Price)
	assert.Equal(t, common.Filled, order.Status)
	assert.Zero(t, result.Unfilled)

	ltp, ok := eng.LastTradedPrice(testSecurity)
	require.True(t, ok)
	assertPrice(t, "10.5", ltp)
}

func TestProcessOrder_ValidationError(t *testing.T) {
	eng := createTestEngine()

	_, err := eng.ProcessOrder(&common.Order{ID: "x", SecurityID: testSecurity, Type: common.LimitOrder, OriginalQuantity: 5})
	var verr *common.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "price", verr.Field)

	_, err = eng.ProcessOrder(nil)
	assert.ErrorIs(t, err, common.ErrInvalidOrder)

	assert.Empty(t, eng.Securities(), "invalid orders must not create books")
}

func TestProcessOrder_AppliesDefaults(t *testing.T) {
	eng := createTestEngine()
	order := &common.Order{
		ID:               "b1",
		SecurityID:       testSecurity,
		Type:             common.LimitOrder,
		Side:             common.Buy,
		OriginalQuantity: 7,
		Price:            decimal.NewFromInt(3),
	}

	_, err := eng.ProcessOrder(order)
	require.NoError(t, err)
	assert.Equal(t, int64(7), order.RemainingQuantity)
	assert.False(t, order.CreatedAt.IsZero())
	assert.Equal(t, []string{"3 x 7"}, levels(eng.BestBuyOrders(testSecurity, 5)))
}

func TestUnknownInstrumentDefaults(t *testing.T) {
	eng := createTestEngine()

	assert.False(t, eng.CancelOrder("id", "NOPE"))
	_, ok := eng.LastTradedPrice("NOPE")
	assert.False(t, ok)
	assert.Empty(t, eng.BestBuyOrders("NOPE", 5))
	assert.Empty(t, eng.BestSellOrders("NOPE", 5))

	depth := eng.MarketDepth("NOPE", 5)
	assert.Equal(t, "NOPE", depth.SecurityID)
	assert.Empty(t, depth.BuyOrders)
	assert.Empty(t, depth.SellOrders)
	assert.False(t, eng.HasLiquidity("NOPE", common.Buy))
	_, ok = eng.BestPrice("NOPE", common.Buy, 1)
	assert.False(t, ok)
}

func TestCancelOrder_ThroughEngine(t *testing.T) {
	eng := createTestEngine()
	_, err := eng.ProcessOrder(limitOrder("b1", common.Buy, "10", 5, at(0)))
	require.NoError(t, err)

	assert.False(t, eng.CancelOrder("b1", "MSFT"))
	assert.True(t, eng.CancelOrder("b1", testSecurity))
	assert.False(t, eng.CancelOrder("b1", testSecurity))
}

func TestDepthDefaultsToFive(t *testing.T) {
	eng := createTestEngine()
	for i := 0; i < 7; i++ {
		_, err := eng.ProcessOrder(limitOrder(string(rune('a'+i)), common.Buy, "10", 1, at(i)))
		require.NoError(t, err)
	}

	assert.Len(t, eng.BestBuyOrders(testSecurity, 0), DefaultDepth)
	assert.Len(t, eng.MarketDepth(testSecurity, -1).BuyOrders, DefaultDepth)
	assert.Len(t, eng.BestBuyOrders(testSecurity, 7), 7)
}

func TestHasLiquidityAndBestPrice(t *testing.T) {
	eng := createTestEngine()
	_, err := eng.ProcessOrder(limitOrder("s1", common.Sell, "100", 10, at(0)))
	require.NoError(t, err)

	assert.True(t, eng.HasLiquidity(testSecurity, common.Buy))
	assert.False(t, eng.HasLiquidity(testSecurity, common.Sell))

	quote, ok := eng.BestPrice(testSecurity, common.Buy, 25)
	require.True(t, ok)
	assertPrice(t, "100", quote.Price)
	assert.Equal(t, int64(10), quote.Quantity)
	assertPrice(t, "1000", quote.BaseAmount)
	assertPrice(t, "1100", quote.TotalAmount)

	_, ok = eng.BestPrice(testSecurity, common.Sell, 25)
	assert.False(t, ok)
}

func TestResetAll(t *testing.T) {
	eng := createTestEngine()
	_, err := eng.ProcessOrder(limitOrder("b1", common.Buy, "10", 5, at(0)))
	require.NoError(t, err)

	eng.ResetAll()

	assert.Empty(t, eng.Securities())
	assert.Empty(t, eng.BestBuyOrders(testSecurity, 5))
	assert.False(t, eng.CancelOrder("b1", testSecurity))
}

func TestConcurrentFirstOrdersShareOneBook(t *testing.T) {
	eng := createTestEngine()

	const workers = 32
	books := make([]*OrderBook, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			books[i] = eng.bookFor("FRESH")
		}(i)
	}
	wg.Wait()

	for _, book := range books {
		assert.Same(t, books[0], book)
	}
	assert.Equal(t, []string{"FRESH"}, eng.Securities())
}

func TestConcurrentInstrumentsAreIndependent(t *testing.T) {
	eng := createTestEngine()
	securities := []string{"AAPL", "MSFT", "NVDA", "TSLA"}

	var wg sync.WaitGroup
	for _, security := range securities {
		wg.Add(1)
		go func(security string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				sell := common.NewLimitOrder(fmt.Sprintf("%s-s-%d", security, i), security, common.Sell, decimal.NewFromInt(10), 1)
				buy := common.NewLimitOrder(fmt.Sprintf("%s-b-%d", security, i), security, common.Buy, decimal.NewFromInt(10), 1)
				_, err := eng.ProcessOrder(sell)
				assert.NoError(t, err)
				_, err = eng.ProcessOrder(buy)
				assert.NoError(t, err)
			}
		}(security)
	}
	wg.Wait()

	for _, security := range securities {
		depth := eng.MarketDepth(security, 5)
		assert.Empty(t, depth.BuyOrders, security)
		assert.Empty(t, depth.SellOrders, security)
		ltp, ok := eng.LastTradedPrice(security)
		assert.True(t, ok)
		assertPrice(t, "10", ltp)
	}
}

// A resting order may be cancelled the moment it lands; the result still
// describes the order as the book left it.
func TestConcurrentPlaceAndCancel(t *testing.T) {
	eng := createTestEngine()

	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("b-%d", i)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !eng.CancelOrder(id, testSecurity) {
				runtime.Gosched()
			}
		}()

		result, err := eng.ProcessOrder(limitOrder(id, common.Buy, "10", 5, at(i)))
		require.NoError(t, err)
		assert.Equal(t, common.Open, result.Status)
		assert.Equal(t, int64(5), result.Remaining)
		assert.True(t, result.Resting)
		wg.Wait()
	}

	assert.Empty(t, eng.BestBuyOrders(testSecurity, 5))
	_, ok := eng.bookFor(testSecurity).Order("b-0")
	assert.False(t, ok)
}

func TestProcessOrder_MarketRemainderReported(t *testing.T) {
	eng := createTestEngine()
	_, err := eng.ProcessOrder(limitOrder("s1", common.Sell, "100", 5, at(0)))
	require.NoError(t, err)

	result, err := eng.ProcessOrder(marketOrder("m1", common.Buy, 80, at(1)))
	require.NoError(t, err)
	assert.Equal(t, Matched, result.Outcome)
	assert.Equal(t, int64(75), result.Unfilled)
	assert.Equal(t, int64(75), result.Remaining)
	assert.Equal(t, common.PartiallyFilled, result.Status)
	assert.False(t, result.Resting)
}

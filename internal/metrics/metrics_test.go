package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.OrderProcessed("LIMIT", "BUY", time.Millisecond)
		m.Traded("AAPL", 10)
		m.Rejected("liquidity")
		m.Cancelled(true)
		m.SetBooks(3)
	})
}

func TestCounters(t *testing.T) {
	m := New()
	m.Traded("AAPL", 10)
	m.Traded("AAPL", 5)
	m.Cancelled(false)
	m.SetBooks(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.trades.WithLabelValues("AAPL")))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.tradedQuantity.WithLabelValues("AAPL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cancels.WithLabelValues("missed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.books))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.Rejected("liquidity")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `blitz_rejections_total{reason="liquidity"} 1`)
}

package net

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"blitz/internal/common"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNewOrder(t *testing.T) {
	msg := NewOrderMessage{
		OrderType:  common.LimitOrder,
		Side:       common.Sell,
		Price:      decimal.RequireFromString("101.25"),
		Quantity:   40,
		SecurityID: "AAPL",
		Username:   "alice",
	}
	raw, err := msg.Serialize()
	require.NoError(t, err)

	parsed, err := parseMessage(raw)
	require.NoError(t, err)
	m, ok := parsed.(NewOrderMessage)
	require.True(t, ok)
	assert.Equal(t, NewOrder, m.GetType())
	assert.Equal(t, common.LimitOrder, m.OrderType)
	assert.Equal(t, common.Sell, m.Side)
	assert.True(t, m.Price.Equal(msg.Price))
	assert.Equal(t, uint64(40), m.Quantity)
	assert.Equal(t, "AAPL", m.SecurityID)
	assert.Equal(t, "alice", m.Username)

	order := m.Order()
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, int64(40), order.RemainingQuantity)
	assert.Equal(t, "alice", order.Owner)
	assert.NoError(t, order.Validate())
}

func TestNewOrderMessage_MarketOrderDropsPrice(t *testing.T) {
	m := NewOrderMessage{
		OrderType:  common.MarketOrder,
		Side:       common.Buy,
		Price:      decimal.NewFromInt(3),
		Quantity:   1,
		SecurityID: "AAPL",
	}
	assert.True(t, m.Order().Price.IsZero())
}

func TestParseCancelAndDepth(t *testing.T) {
	raw, err := CancelOrderMessage{SecurityID: "MSFT", OrderID: "5f0c7a52-0d8c-4d4b-9d5e-2f8a7c1b9e11"}.Serialize()
	require.NoError(t, err)
	parsed, err := parseMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, CancelOrderMessage{
		BaseMessage: BaseMessage{TypeOf: CancelOrder},
		SecurityID:  "MSFT",
		OrderID:     "5f0c7a52-0d8c-4d4b-9d5e-2f8a7c1b9e11",
	}, parsed)

	raw, err = DepthMessage{SecurityID: "MSFT", Levels: 3}.Serialize()
	require.NoError(t, err)
	parsed, err = parseMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, DepthMessage{BaseMessage: BaseMessage{TypeOf: Depth}, SecurityID: "MSFT", Levels: 3}, parsed)

	parsed, err = parseMessage(HeartbeatMessage())
	require.NoError(t, err)
	assert.Equal(t, Heartbeat, parsed.GetType())
}

func TestParseMessage_Errors(t *testing.T) {
	_, err := parseMessage([]byte{0})
	assert.ErrorIs(t, err, ErrMessageTooShort)

	_, err = parseMessage([]byte{0, 99})
	assert.ErrorIs(t, err, ErrInvalidMessageType)

	raw, err := NewOrderMessage{SecurityID: "AAPL", Username: "bob", Price: decimal.NewFromInt(1)}.Serialize()
	require.NoError(t, err)
	_, err = parseMessage(raw[:len(raw)-2])
	assert.ErrorIs(t, err, ErrMessageTooShort)

	bad := binary.BigEndian.AppendUint16(nil, uint16(NewOrder))
	bad = binary.BigEndian.AppendUint16(bad, 0)
	bad = append(bad, 0, 3, 'a', 'b', 'c')
	bad = binary.BigEndian.AppendUint64(bad, 1)
	bad = append(bad, 0, 0)
	_, err = parseMessage(bad)
	assert.Error(t, err)
}

func TestSerialize_FieldTooLong(t *testing.T) {
	_, err := CancelOrderMessage{SecurityID: strings.Repeat("x", 256)}.Serialize()
	assert.ErrorIs(t, err, ErrFieldTooLong)
}

func TestReportRoundTrip(t *testing.T) {
	r := Report{
		MessageType: DepthReport,
		Timestamp:   42,
		SecurityID:  "AAPL",
		Bids: []common.BestOrder{
			{Price: decimal.RequireFromString("99.5"), Quantity: 10},
		},
		Asks: []common.BestOrder{
			{Price: decimal.RequireFromString("100"), Quantity: 3},
			{Price: decimal.RequireFromString("100.01"), Quantity: 7},
		},
	}
	raw, err := r.Serialize()
	require.NoError(t, err)

	parsed, err := ParseReport(raw)
	require.NoError(t, err)
	assert.Equal(t, DepthReport, parsed.MessageType)
	assert.Equal(t, uint64(42), parsed.Timestamp)
	require.Len(t, parsed.Bids, 1)
	require.Len(t, parsed.Asks, 2)
	assert.Equal(t, "99.5", parsed.Bids[0].Price.String())
	assert.Equal(t, "100.01", parsed.Asks[1].Price.String())
	assert.Equal(t, int64(7), parsed.Asks[1].Quantity)

	_, err = ParseReport(raw[:10])
	assert.ErrorIs(t, err, ErrMessageTooShort)
}

func TestGenerateWireTradeReports(t *testing.T) {
	trade := common.Trade{
		ID:          "t1",
		BuyOrderID:  "b1",
		SellOrderID: "s1",
		SecurityID:  "AAPL",
		Quantity:    5,
		Price:       decimal.RequireFromString("10.5"),
		ExecutedAt:  time.Unix(0, 1000),
	}
	b1, b2, err := generateWireTradeReports(trade,
		party{address: "a", owner: "bob"}, party{address: "b", owner: "alice"})
	require.NoError(t, err)

	buy, err := ParseReport(b1)
	require.NoError(t, err)
	assert.Equal(t, ExecutionReport, buy.MessageType)
	assert.Equal(t, common.Buy, buy.Side)
	assert.Equal(t, "b1", buy.OrderID)
	assert.Equal(t, "alice", buy.Counterparty)
	assert.Equal(t, "10.5", buy.Price)
	assert.Equal(t, uint64(5), buy.Quantity)
	assert.Equal(t, uint64(1000), buy.Timestamp)

	sell, err := ParseReport(b2)
	require.NoError(t, err)
	assert.Equal(t, common.Sell, sell.Side)
	assert.Equal(t, "s1", sell.OrderID)
	assert.Equal(t, "bob", sell.Counterparty)
}

func TestFrames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello")))
	require.NoError(t, WriteFrame(&buf, nil))

	frame, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(frame))
	frame, err = ReadFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, frame)

	assert.ErrorIs(t, WriteFrame(&buf, make([]byte, MAX_RECV_SIZE+1)), ErrFrameTooLarge)

	huge := binary.BigEndian.AppendUint32(nil, MAX_RECV_SIZE+1)
	_, err = ReadFrame(bytes.NewReader(huge))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

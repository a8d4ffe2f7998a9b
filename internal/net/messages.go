package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"blitz/internal/common"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short")
	ErrFrameTooLarge      = errors.New("frame too large")
	ErrFieldTooLong       = errors.New("field too long")
)

type MessageType uint16

const (
	Heartbeat MessageType = iota
	NewOrder
	CancelOrder
	Depth
)

type ReportMessageType uint8

const (
	ExecutionReport ReportMessageType = iota
	ErrorReport
	RejectionReport
	DepthReport
	CancelAck
	OrderAck
)

type Message interface {
	GetType() MessageType
}

// Every frame on the wire is a 4 byte big-endian length followed by that
// many bytes of message. Messages start with a 2 byte type.
const (
	FrameHeaderLen       = 4
	BaseMessageHeaderLen = 2
)

// Generic message type.
type BaseMessage struct {
	TypeOf MessageType // 2 bytes
}

func (m BaseMessage) GetType() MessageType {
	return m.TypeOf
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [FrameHeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MAX_RECV_SIZE {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	frame := make([]byte, size)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// WriteFrame prefixes msg with its length and writes it in one call.
func WriteFrame(w io.Writer, msg []byte) error {
	if len(msg) > MAX_RECV_SIZE {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(msg))
	}
	buf := make([]byte, FrameHeaderLen, FrameHeaderLen+len(msg))
	binary.BigEndian.PutUint32(buf, uint32(len(msg)))
	_, err := w.Write(append(buf, msg...))
	return err
}

func parseMessage(msg []byte) (Message, error) {
	if len(msg) < BaseMessageHeaderLen {
		return BaseMessage{}, fmt.Errorf("%w: no header", ErrMessageTooShort)
	}

	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	d := &decoder{buf: msg[2:]}
	switch typeOf {
	case Heartbeat:
		return BaseMessage{TypeOf: Heartbeat}, nil
	case NewOrder:
		return parseNewOrder(d)
	case CancelOrder:
		return parseCancelOrder(d)
	case Depth:
		return parseDepth(d)
	default:
		return BaseMessage{}, ErrInvalidMessageType
	}
}

type NewOrderMessage struct {
	BaseMessage
	OrderType  common.OrderType // 2 bytes
	Side       common.Side      // 1 byte
	Price      decimal.Decimal  // 1 byte length + decimal text
	Quantity   uint64           // 8 bytes
	SecurityID string           // 1 byte length + n bytes
	Username   string           // 1 byte length + n bytes
}

// Order builds the engine order, assigning it a fresh id.
func (o *NewOrderMessage) Order() *common.Order {
	order := &common.Order{
		ID:                uuid.New().String(),
		SecurityID:        o.SecurityID,
		Type:              o.OrderType,
		Side:              o.Side,
		OriginalQuantity:  int64(o.Quantity),
		RemainingQuantity: int64(o.Quantity),
		CreatedAt:         time.Now(),
		Status:            common.Open,
		Owner:             o.Username,
	}
	if o.OrderType == common.LimitOrder {
		order.Price = o.Price
	}
	return order
}

func (o NewOrderMessage) Serialize() ([]byte, error) {
	e := newEncoder(NewOrder)
	e.u16(uint16(o.OrderType))
	e.u8(uint8(o.Side))
	e.str8(o.Price.String())
	e.u64(o.Quantity)
	e.str8(o.SecurityID)
	e.str8(o.Username)
	return e.bytes()
}

func parseNewOrder(d *decoder) (NewOrderMessage, error) {
	m := NewOrderMessage{BaseMessage: BaseMessage{TypeOf: NewOrder}}

	m.OrderType = common.OrderType(d.u16())
	m.Side = common.Side(d.u8())
	price := d.str8()
	m.Quantity = d.u64()
	m.SecurityID = d.str8()
	m.Username = d.str8()
	if d.err != nil {
		return NewOrderMessage{}, d.err
	}

	if price != "" {
		p, err := decimal.NewFromString(price)
		if err != nil {
			return NewOrderMessage{}, fmt.Errorf("price %q: %w", price, err)
		}
		m.Price = p
	}
	return m, nil
}

type CancelOrderMessage struct {
	BaseMessage
	SecurityID string // 1 byte length + n bytes
	OrderID    string // 1 byte length + n bytes
}

func (c CancelOrderMessage) Serialize() ([]byte, error) {
	e := newEncoder(CancelOrder)
	e.str8(c.SecurityID)
	e.str8(c.OrderID)
	return e.bytes()
}

func parseCancelOrder(d *decoder) (CancelOrderMessage, error) {
	m := CancelOrderMessage{BaseMessage: BaseMessage{TypeOf: CancelOrder}}
	m.SecurityID = d.str8()
	m.OrderID = d.str8()
	if d.err != nil {
		return CancelOrderMessage{}, d.err
	}
	return m, nil
}

type DepthMessage struct {
	BaseMessage
	SecurityID string // 1 byte length + n bytes
	Levels     uint16 // 2 bytes, 0 means the default
}

func (m DepthMessage) Serialize() ([]byte, error) {
	e := newEncoder(Depth)
	e.str8(m.SecurityID)
	e.u16(m.Levels)
	return e.bytes()
}

func parseDepth(d *decoder) (DepthMessage, error) {
	m := DepthMessage{BaseMessage: BaseMessage{TypeOf: Depth}}
	m.SecurityID = d.str8()
	m.Levels = d.u16()
	if d.err != nil {
		return DepthMessage{}, d.err
	}
	return m, nil
}

// HeartbeatMessage is only the 2 byte header.
func HeartbeatMessage() []byte {
	return binary.BigEndian.AppendUint16(nil, uint16(Heartbeat))
}

// Report is everything sent back to a client. Which fields are filled in
// depends on MessageType; Bids and Asks only travel in depth reports.
type Report struct {
	MessageType  ReportMessageType  // 1 byte
	Side         common.Side        // 1 byte
	Timestamp    uint64             // 8 bytes, unix nanos
	Quantity     uint64             // 8 bytes
	Price        string             // 1 byte length + n bytes
	SecurityID   string             // 1 byte length + n bytes
	OrderID      string             // 1 byte length + n bytes
	Counterparty string             // 1 byte length + n bytes
	Err          string             // 2 byte length + n bytes
	Bids         []common.BestOrder // depth only
	Asks         []common.BestOrder // depth only
}

// Serialize converts the report to be sent on the wire.
func (r *Report) Serialize() ([]byte, error) {
	e := &encoder{}
	e.u8(uint8(r.MessageType))
	e.u8(uint8(r.Side))
	e.u64(r.Timestamp)
	e.u64(r.Quantity)
	e.str8(r.Price)
	e.str8(r.SecurityID)
	e.str8(r.OrderID)
	e.str8(r.Counterparty)
	e.str16(r.Err)
	if r.MessageType == DepthReport {
		e.levels(r.Bids)
		e.levels(r.Asks)
	}
	return e.bytes()
}

func ParseReport(msg []byte) (Report, error) {
	d := &decoder{buf: msg}
	r := Report{
		MessageType:  ReportMessageType(d.u8()),
		Side:         common.Side(d.u8()),
		Timestamp:    d.u64(),
		Quantity:     d.u64(),
		Price:        d.str8(),
		SecurityID:   d.str8(),
		OrderID:      d.str8(),
		Counterparty: d.str8(),
		Err:          d.str16(),
	}
	if r.MessageType == DepthReport {
		r.Bids = d.levels()
		r.Asks = d.levels()
	}
	if d.err != nil {
		return Report{}, d.err
	}
	return r, nil
}

// party is the connected owner of an order.
type party struct {
	address string
	owner   string
}

// generateWireTradeReports generates both trade reports, each addressed to
// one side of the trade and naming the other as counterparty.
func generateWireTradeReports(trade common.Trade, buyer, seller party) ([]byte, []byte, error) {
	createReport := func(side common.Side, orderID string, counterParty party) Report {
		return Report{
			MessageType:  ExecutionReport,
			Side:         side,
			Timestamp:    uint64(trade.ExecutedAt.UnixNano()),
			Quantity:     uint64(trade.Quantity),
			Price:        trade.Price.String(),
			SecurityID:   trade.SecurityID,
			OrderID:      orderID,
			Counterparty: counterParty.owner,
		}
	}

	r1 := createReport(common.Buy, trade.BuyOrderID, seller)
	r2 := createReport(common.Sell, trade.SellOrderID, buyer)

	b1, err := r1.Serialize()
	if err != nil {
		return nil, nil, err
	}
	b2, err := r2.Serialize()
	if err != nil {
		return nil, nil, err
	}
	return b1, b2, nil
}

func generateWireErrorReport(err error) ([]byte, error) {
	report := Report{
		MessageType: ErrorReport,
		Timestamp:   uint64(time.Now().UnixNano()),
		Err:         err.Error(),
	}
	return report.Serialize()
}

type encoder struct {
	buf []byte
	err error
}

func newEncoder(t MessageType) *encoder {
	return &encoder{buf: binary.BigEndian.AppendUint16(nil, uint16(t))}
}

func (e *encoder) u8(v uint8) { e.buf = append(e.buf, v) }
func (e *encoder) u16(v uint16) { e.buf = binary.BigEndian.AppendUint16(e.buf, v) }
func (e *encoder) u64(v uint64) { e.buf = binary.BigEndian.AppendUint64(e.buf, v) }

func (e *encoder) str8(s string) {
	if len(s) > 0xff {
		e.err = fmt.Errorf("%w: %d bytes", ErrFieldTooLong, len(s))
		return
	}
	e.u8(uint8(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) str16(s string) {
	if len(s) > 0xffff {
		e.err = fmt.Errorf("%w: %d bytes", ErrFieldTooLong, len(s))
		return
	}
	e.u16(uint16(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) levels(levels []common.BestOrder) {
	e.u16(uint16(len(levels)))
	for _, l := range levels {
		e.str8(l.Price.String())
		e.u64(uint64(l.Quantity))
	}
}

func (e *encoder) bytes() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.buf, nil
}

// decoder reads big-endian fields and remembers the first short read.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf) < n {
		d.err = ErrMessageTooShort
		return nil
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) u8() uint8 {
	if b := d.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) u16() uint16 {
	if b := d.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (d *decoder) u64() uint64 {
	if b := d.take(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (d *decoder) str8() string {
	return string(d.take(int(d.u8())))
}

func (d *decoder) str16() string {
	return string(d.take(int(d.u16())))
}

func (d *decoder) levels() []common.BestOrder {
	n := int(d.u16())
	levels := make([]common.BestOrder, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		price := d.str8()
		qty := d.u64()
		p, err := decimal.NewFromString(price)
		if err != nil && d.err == nil {
			d.err = fmt.Errorf("level price %q: %w", price, err)
		}
		levels = append(levels, common.BestOrder{Price: p, Quantity: int64(qty)})
	}
	return levels
}

package net

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"blitz/internal/common"
	"blitz/internal/engine"
	"blitz/internal/utils"

	"github.com/rs/zerolog"
	tomb "gopkg.in/tomb.v2"
)

const (
	MAX_RECV_SIZE       = 4 * 1024
	defaultNWorkers     = 10
	defaultReadTimeout  = 30 * time.Second
	defaultWriteTimeout = time.Second
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
	ErrClientDoesNotExist = errors.New("client does not exist")
)

// ClientSession contains relevant information pertaining to an individual
// connected TCP session. Reports for one session may come from any lane,
// so writes are serialized.
type ClientSession struct {
	conn      net.Conn
	writeLock sync.Mutex
}

func (c *ClientSession) write(msg []byte) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return err
	}
	return WriteFrame(c.conn, msg)
}

// ClientMessage links a message to the client sending it.
type ClientMessage struct {
	clientAddress string
	message       Message
}

type Option func(*Server)

func WithLanes(n uint) Option {
	return func(s *Server) {
		s.lanes = n
	}
}

func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = d
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithBookListener registers fn to be called after an order or cancel
// changed the book of securityID.
func WithBookListener(fn func(securityID string)) Option {
	return func(s *Server) {
		s.onBookChange = fn
	}
}

// EventSink publishes what the engine did with gateway traffic, so
// downstream consumers see the same events whichever surface an order
// came in on.
type EventSink interface {
	Emit(ctx context.Context, order *common.Order, result engine.Result) error
	EmitCancel(ctx context.Context, orderID, securityID string, cancelled bool) error
}

func WithEvents(sink EventSink) Option {
	return func(s *Server) {
		s.events = sink
	}
}

// Server is the binary order gateway. Each connection gets a reader
// goroutine; decoded messages are handed to a keyed worker pool so every
// instrument is driven by exactly one lane.
type Server struct {
	address      string
	port         int
	lanes        uint
	readTimeout  time.Duration
	engine       *engine.Engine
	pool         *utils.WorkerPool
	logger       zerolog.Logger
	onBookChange func(securityID string)
	events       EventSink

	clientSessions     map[string]*ClientSession
	owners             map[string]party // resting order id -> owner
	clientSessionsLock sync.Mutex

	listenerAddr net.Addr
	ready        chan struct{}
}

func New(address string, port int, eng *engine.Engine, opts ...Option) *Server {
	s := &Server{
		address:        address,
		port:           port,
		lanes:          defaultNWorkers,
		readTimeout:    defaultReadTimeout,
		engine:         eng,
		logger:         zerolog.Nop(),
		clientSessions: make(map[string]*ClientSession),
		owners:         make(map[string]party),
		ready:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pool = utils.NewWorkerPool(s.lanes, s.handleMessage)
	return s
}

// Addr blocks until the listener is up and returns its address.
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-s.ready:
		return s.listenerAddr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run serves until ctx is cancelled or a worker fails.
func (s *Server) Run(ctx context.Context) error {
	t, ctx := tomb.WithContext(ctx)

	// Start a tcp listener.
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		return fmt.Errorf("unable to start listener: %w", err)
	}
	s.listenerAddr = listener.Addr()
	close(s.ready)

	// Start the worker pool.
	s.pool.Setup(t)

	// Unblock Accept and every session read once we start dying.
	t.Go(func() error {
		<-t.Dying()
		if err := listener.Close(); err != nil {
			s.logger.Error().Err(err).Msg("unable to close listener")
		}
		s.closeClientSessions()
		return nil
	})

	t.Go(func() error {
		return s.acceptLoop(t, listener)
	})

	s.logger.Info().Str("address", s.listenerAddr.String()).Msg("gateway running")
	err = t.Wait()
	s.logger.Info().Msg("gateway shut down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) acceptLoop(t *tomb.Tomb, listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-t.Dying():
				return nil
			default:
			}
			s.logger.Error().Err(err).Msg("error accepting client")
			continue
		}

		address := conn.RemoteAddr().String()
		s.logger.Info().Str("address", address).Msg("new client added")
		// We expect to potentially maintain a long TCP session.
		s.addClientSession(address, conn)

		t.Go(func() error {
			return s.handleConnection(t, address, conn)
		})
	}
}

// handleConnection reads frames off the connection until it dies, parses
// them and queues them on the lane of their instrument. Heartbeats only
// refresh the read deadline.
func (s *Server) handleConnection(t *tomb.Tomb, address string, conn net.Conn) error {
	defer s.deleteClientSession(address)

	for {
		if s.readTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
				return nil
			}
		}

		frame, err := ReadFrame(conn)
		if err != nil {
			select {
			case <-t.Dying():
				return nil
			default:
			}
			if errors.Is(err, io.EOF) {
				s.logger.Info().Str("address", address).Msg("client disconnected")
			} else {
				s.logger.Error().Err(err).Str("address", address).Msg("error reading from connection")
			}
			return nil
		}

		message, err := parseMessage(frame)
		if err != nil {
			s.logger.Warn().Err(err).Str("address", address).Msg("error parsing message")
			s.reportError(address, err)
			continue
		}

		key, ok := laneKey(message)
		if !ok {
			continue
		}
		if err := s.pool.AddTask(key, ClientMessage{clientAddress: address, message: message}); err != nil {
			return nil
		}
	}
}

func laneKey(message Message) (string, bool) {
	switch m := message.(type) {
	case NewOrderMessage:
		return m.SecurityID, true
	case CancelOrderMessage:
		return m.SecurityID, true
	case DepthMessage:
		return m.SecurityID, true
	}
	return "", false
}

// handleMessage runs on the lane owning the message's instrument. Any error
// returned from here is fatal.
func (s *Server) handleMessage(t *tomb.Tomb, task any) error {
	msg, ok := task.(ClientMessage)
	if !ok {
		return ErrImproperConversion
	}

	ctx := t.Context(nil)
	switch m := msg.message.(type) {
	case NewOrderMessage:
		s.placeOrder(ctx, msg.clientAddress, m)
	case CancelOrderMessage:
		s.cancelOrder(ctx, msg.clientAddress, m)
	case DepthMessage:
		s.sendDepth(msg.clientAddress, m)
	default:
		return fmt.Errorf("%w: %T", ErrImproperConversion, msg.message)
	}
	return nil
}

func (s *Server) placeOrder(ctx context.Context, address string, m NewOrderMessage) {
	order := m.Order()
	taker := party{address: address, owner: order.Owner}

	result, err := s.engine.ProcessOrder(order)
	if err != nil {
		s.reportError(address, err)
		return
	}
	if result.Outcome == engine.Rejected {
		s.send(address, &Report{
			MessageType: RejectionReport,
			Side:        order.Side,
			Timestamp:   uint64(time.Now().UnixNano()),
			Quantity:    uint64(result.Rejection.Quantity),
			SecurityID:  order.SecurityID,
			OrderID:     order.ID,
			Err:         result.Rejection.Reason,
		})
		s.emit(ctx, order, result)
		return
	}

	if result.Resting {
		s.setOwner(order.ID, taker)
	}
	s.send(address, &Report{
		MessageType: OrderAck,
		Side:        order.Side,
		Timestamp:   uint64(order.CreatedAt.UnixNano()),
		Quantity:    uint64(order.OriginalQuantity),
		Price:       order.Price.String(),
		SecurityID:  order.SecurityID,
		OrderID:     order.ID,
	})

	for _, trade := range result.Trades {
		s.reportTrade(trade, order, taker)
	}
	if result.Unfilled > 0 {
		s.logger.Debug().
			Str("order", order.ID).
			Int64("unfilled", result.Unfilled).
			Msg("market order remainder dropped")
	}
	s.bookChanged(order.SecurityID)
	s.emit(ctx, order, result)
}

func (s *Server) emit(ctx context.Context, order *common.Order, result engine.Result) {
	if s.events == nil {
		return
	}
	if err := s.events.Emit(ctx, order, result); err != nil {
		s.logger.Error().Err(err).Str("order", order.ID).Msg("unable to publish order events")
	}
}

// reportTrade sends an execution report to both sides of trade. The maker
// stops being tracked once it is no longer resting.
func (s *Server) reportTrade(trade common.Trade, taker *common.Order, takerParty party) {
	makerID := trade.SellOrderID
	if taker.Side == common.Sell {
		makerID = trade.BuyOrderID
	}
	maker, _ := s.owner(makerID)
	if book, ok := s.engine.Book(trade.SecurityID); ok {
		if _, resting := book.Order(makerID); !resting {
			s.deleteOwner(makerID)
		}
	}

	buyer, seller := takerParty, maker
	if taker.Side == common.Sell {
		buyer, seller = maker, takerParty
	}
	b1, b2, err := generateWireTradeReports(trade, buyer, seller)
	if err != nil {
		s.logger.Error().Err(err).Str("trade", trade.ID).Msg("unable to encode trade reports")
		return
	}
	s.deliver(buyer.address, b1)
	s.deliver(seller.address, b2)
}

func (s *Server) cancelOrder(ctx context.Context, address string, m CancelOrderMessage) {
	cancelled := s.engine.CancelOrder(m.OrderID, m.SecurityID)
	if s.events != nil {
		if err := s.events.EmitCancel(ctx, m.OrderID, m.SecurityID, cancelled); err != nil {
			s.logger.Error().Err(err).Str("order", m.OrderID).Msg("unable to publish cancel result")
		}
	}
	report := &Report{
		MessageType: CancelAck,
		Timestamp:   uint64(time.Now().UnixNano()),
		SecurityID:  m.SecurityID,
		OrderID:     m.OrderID,
	}
	if !cancelled {
		report.Err = "order not found"
		s.send(address, report)
		return
	}
	s.deleteOwner(m.OrderID)
	s.bookChanged(m.SecurityID)
	s.send(address, report)
}

func (s *Server) sendDepth(address string, m DepthMessage) {
	depth := s.engine.MarketDepth(m.SecurityID, int(m.Levels))
	s.send(address, &Report{
		MessageType: DepthReport,
		Timestamp:   uint64(time.Now().UnixNano()),
		SecurityID:  m.SecurityID,
		Bids:        depth.BuyOrders,
		Asks:        depth.SellOrders,
	})
}

func (s *Server) bookChanged(securityID string) {
	if s.onBookChange != nil {
		s.onBookChange(securityID)
	}
}

func (s *Server) reportError(address string, err error) {
	msg, encErr := generateWireErrorReport(err)
	if encErr != nil {
		s.logger.Error().Err(encErr).Msg("unable to encode error report")
		return
	}
	s.deliver(address, msg)
}

func (s *Server) send(address string, r *Report) {
	msg, err := r.Serialize()
	if err != nil {
		s.logger.Error().Err(err).Msg("unable to encode report")
		return
	}
	s.deliver(address, msg)
}

// deliver writes msg to a connected client. Reports for a client that has
// gone away are dropped.
func (s *Server) deliver(address string, msg []byte) {
	if address == "" {
		return
	}
	if err := s.Report(address, msg); err != nil {
		s.logger.Warn().Err(err).Str("address", address).Msg("unable to deliver report")
	}
}

// Report writes an encoded report to the client at clientAddress.
func (s *Server) Report(clientAddress string, msg []byte) error {
	s.clientSessionsLock.Lock()
	client, ok := s.clientSessions[clientAddress]
	s.clientSessionsLock.Unlock()
	if !ok {
		return ErrClientDoesNotExist
	}

	if err := client.write(msg); err != nil {
		client.conn.Close()
		s.deleteClientSession(clientAddress)
		return fmt.Errorf("unable to send report: %w", err)
	}
	return nil
}

// addClientSession is an atomic map add
func (s *Server) addClientSession(address string, conn net.Conn) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	s.clientSessions[address] = &ClientSession{conn: conn}
}

// deleteClientSession is an atomic map remove. Orders the client left
// resting stay in the book but are no longer reported to anyone.
func (s *Server) deleteClientSession(address string) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	if client, ok := s.clientSessions[address]; ok {
		client.conn.Close()
		delete(s.clientSessions, address)
	}
	for id, p := range s.owners {
		if p.address == address {
			delete(s.owners, id)
		}
	}
}

func (s *Server) closeClientSessions() {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	for address, client := range s.clientSessions {
		client.conn.Close()
		delete(s.clientSessions, address)
	}
}

func (s *Server) setOwner(orderID string, p party) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	s.owners[orderID] = p
}

func (s *Server) owner(orderID string) (party, bool) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	p, ok := s.owners[orderID]
	return p, ok
}

func (s *Server) deleteOwner(orderID string) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	delete(s.owners, orderID)
}

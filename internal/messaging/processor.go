package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"blitz/internal/common"
	"blitz/internal/config"
	"blitz/internal/engine"

	"github.com/rs/zerolog"
)

var ErrMalformedMessage = errors.New("malformed message")

// UnfilledReason is the rejection reason for the part of a market order
// left after the opposite side ran dry.
const UnfilledReason = "Market order remainder cancelled"

// Publisher sends one JSON payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

// Broadcaster receives every LTP update for live depth feeds.
type Broadcaster interface {
	Broadcast(message any)
}

// Processor turns intake messages into engine calls and publishes what
// came out. It knows nothing about the transport the payloads came from.
type Processor struct {
	engine    *engine.Engine
	publisher Publisher
	feed      Broadcaster
	topics    config.Topics
	depth     int
	logger    zerolog.Logger
}

func NewProcessor(eng *engine.Engine, publisher Publisher, topics config.Topics, depth int, logger zerolog.Logger) *Processor {
	return &Processor{
		engine:    eng,
		publisher: publisher,
		topics:    topics,
		depth:     depth,
		logger:    logger,
	}
}

// SetFeed attaches a live depth feed.
func (p *Processor) SetFeed(feed Broadcaster) {
	p.feed = feed
}

// HandleOrder processes one order-created payload. A payload that does not
// decode is dropped with ErrMalformedMessage. Orders failing validation are
// answered with a rejection so the caller can release holds.
func (p *Processor) HandleOrder(ctx context.Context, payload []byte) error {
	var order common.Order
	if err := json.Unmarshal(payload, &order); err != nil {
		return fmt.Errorf("%w: order: %v", ErrMalformedMessage, err)
	}
	return p.Process(ctx, &order)
}

// Process runs an already decoded order through the engine.
func (p *Processor) Process(ctx context.Context, order *common.Order) error {
	result, err := p.engine.ProcessOrder(order)
	if err != nil {
		p.logger.Warn().Err(err).Str("order", order.ID).Msg("invalid order")
		return p.publisher.Publish(ctx, p.topics.OrderRejected, order.ID, RejectionMessage{
			OrderID:         order.ID,
			RejectionReason: err.Error(),
			Side:            order.Side,
			Quantity:        order.OriginalQuantity,
		})
	}
	return p.Emit(ctx, order, result)
}

// Emit publishes the events of an order the engine already processed,
// whichever surface it came in on. A market order remainder that could not
// trade goes out as a rejection for the unfilled quantity.
func (p *Processor) Emit(ctx context.Context, order *common.Order, result engine.Result) error {
	if result.Outcome == engine.Rejected {
		return p.publisher.Publish(ctx, p.topics.OrderRejected, order.ID, RejectionMessage{
			OrderID:         result.Rejection.OrderID,
			RejectionReason: result.Rejection.Reason,
			Side:            result.Rejection.Side,
			Quantity:        result.Rejection.Quantity,
		})
	}

	if err := p.publishDepth(ctx, order.SecurityID); err != nil {
		return err
	}
	if len(result.Trades) > 0 {
		if err := p.publisher.Publish(ctx, p.topics.OrderExecuted, order.SecurityID, result.Trades); err != nil {
			return fmt.Errorf("publish trades for %s: %w", order.ID, err)
		}
	}
	if result.Unfilled > 0 {
		if err := p.publisher.Publish(ctx, p.topics.OrderRejected, order.ID, RejectionMessage{
			OrderID:         order.ID,
			RejectionReason: UnfilledReason,
			Side:            order.Side,
			Quantity:        result.Unfilled,
		}); err != nil {
			return fmt.Errorf("publish unfilled remainder for %s: %w", order.ID, err)
		}
	}
	return nil
}

// HandleCancel processes one cancel request payload.
func (p *Processor) HandleCancel(ctx context.Context, payload []byte) error {
	var req CancelRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("%w: cancel: %v", ErrMalformedMessage, err)
	}

	cancelled := p.engine.CancelOrder(req.OrderID, req.SecurityID)
	p.logger.Debug().
		Str("order", req.OrderID).
		Str("security", req.SecurityID).
		Bool("cancelled", cancelled).
		Msg("cancel request")
	return p.EmitCancel(ctx, req.OrderID, req.SecurityID, cancelled)
}

// EmitCancel publishes the outcome of a cancel the engine already ran.
func (p *Processor) EmitCancel(ctx context.Context, orderID, securityID string, cancelled bool) error {
	if err := p.publisher.Publish(ctx, p.topics.OrderCancelled, orderID, CancelResult{
		OrderID:    orderID,
		SecurityID: securityID,
		Cancelled:  cancelled,
	}); err != nil {
		return fmt.Errorf("publish cancel result for %s: %w", orderID, err)
	}
	if cancelled {
		return p.publishDepth(ctx, securityID)
	}
	return nil
}

// Snapshot builds the current LTP update for an instrument.
func (p *Processor) Snapshot(securityID string) LTPUpdate {
	return Snapshot(p.engine, securityID, p.depth)
}

// Snapshot reads the LTP and the top depth levels of securityID.
func Snapshot(eng *engine.Engine, securityID string, depth int) LTPUpdate {
	update := LTPUpdate{
		SecurityID: securityID,
		OrderBook:  eng.MarketDepth(securityID, depth),
	}
	if ltp, ok := eng.LastTradedPrice(securityID); ok {
		update.LTP = &ltp
	}
	return update
}

func (p *Processor) publishDepth(ctx context.Context, securityID string) error {
	update := p.Snapshot(securityID)
	if p.feed != nil {
		p.feed.Broadcast(update)
	}
	if err := p.publisher.Publish(ctx, p.topics.LTPUpdated, securityID, update); err != nil {
		return fmt.Errorf("publish ltp for %s: %w", securityID, err)
	}
	return nil
}

package common

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID                string          `json:"id"`                        // Order tracked id
	SecurityID        string          `json:"securityId"`                // Instrument, one book per value
	Type              OrderType       `json:"type"`                      //
	Side              Side            `json:"side"`                      //
	OriginalQuantity  int64           `json:"originalQuantity"`          // Total volume requested
	FilledQuantity    int64           `json:"filledQuantity"`            //
	RemainingQuantity int64           `json:"remainingQuantity"`         // Always original - filled
	Price             decimal.Decimal `json:"price"`                     // Limit price, zero for market orders
	CreatedAt         time.Time       `json:"createdAt"`                 // Time of arrival of order
	Status            Status          `json:"status"`                    //
	RejectionReason   string          `json:"rejectionReason,omitempty"` // Only set once REJECTED
	Owner             string          `json:"owner,omitempty"`           // Who owns this order
	Sequence          uint64          `json:"-"`                         // Book arrival sequence, set by the engine
}

// NewLimitOrder and NewMarketOrder build orders in their initial OPEN state.
func NewLimitOrder(id, securityID string, side Side, price decimal.Decimal, qty int64) *Order {
	return &Order{
		ID:                id,
		SecurityID:        securityID,
		Type:              LimitOrder,
		Side:              side,
		OriginalQuantity:  qty,
		RemainingQuantity: qty,
		Price:             price,
		CreatedAt:         time.Now(),
		Status:            Open,
	}
}

func NewMarketOrder(id, securityID string, side Side, qty int64) *Order {
	return &Order{
		ID:                id,
		SecurityID:        securityID,
		Type:              MarketOrder,
		Side:              side,
		OriginalQuantity:  qty,
		RemainingQuantity: qty,
		CreatedAt:         time.Now(),
		Status:            Open,
	}
}

// ApplyDefaults fills in what intake is allowed to leave out: the arrival
// time and the remaining quantity of an untouched order.
func (order *Order) ApplyDefaults() {
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	if order.FilledQuantity == 0 && order.RemainingQuantity == 0 {
		order.RemainingQuantity = order.OriginalQuantity
	}
}

// Validate rejects anything that should have been stopped upstream.
func (order *Order) Validate() error {
	invalid := func(field, reason string) error {
		return &ValidationError{OrderID: order.ID, Field: field, Reason: reason}
	}

	switch {
	case order.ID == "":
		return invalid("id", "is required")
	case order.SecurityID == "":
		return invalid("securityId", "is required")
	case order.Side != Buy && order.Side != Sell:
		return invalid("side", "is unknown")
	case order.Type != LimitOrder && order.Type != MarketOrder:
		return invalid("type", "is unknown")
	case order.OriginalQuantity <= 0:
		return invalid("originalQuantity", "must be positive")
	case order.Type == LimitOrder && !order.Price.IsPositive():
		return invalid("price", "must be positive for limit orders")
	case order.Status != Open || order.FilledQuantity != 0:
		return invalid("status", "must be an untouched OPEN order")
	case order.RemainingQuantity != order.OriginalQuantity:
		return invalid("remainingQuantity", "must equal originalQuantity")
	}
	return nil
}

// Fill books a match of qty against the order and recomputes its status.
func (order *Order) Fill(qty int64) {
	order.FilledQuantity += qty
	order.RemainingQuantity = order.OriginalQuantity - order.FilledQuantity
	order.Status = DetermineStatus(order)
}

// Reject marks the order REJECTED. It is never called on an order resting
// in a book.
func (order *Order) Reject(reason string) {
	order.Status = Rejected
	order.RejectionReason = reason
}

// DetermineStatus maps fill progress onto OPEN, PARTIALLY_FILLED or FILLED.
func DetermineStatus(order *Order) Status {
	if order.FilledQuantity == 0 {
		return Open
	}
	if order.RemainingQuantity == 0 {
		return Filled
	}
	return PartiallyFilled
}

func (order Order) String() string {
	return fmt.Sprintf(
		`ID:                %v
SecurityID:        %s
Type:              %v
Side:              %v
Price:             %s
Quantity:          %d (Filled: %d, Remaining: %d)
CreatedAt:         %v
Status:            %v
Owner:             %s`,
		order.ID,
		order.SecurityID,
		order.Type,
		order.Side,
		order.Price.String(),
		order.OriginalQuantity,
		order.FilledQuantity,
		order.RemainingQuantity,
		order.CreatedAt.Format(time.RFC3339Nano),
		order.Status,
		order.Owner,
	)
}

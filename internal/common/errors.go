package common

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidOrder = errors.New("invalid order")
	ErrUnknownEnum  = errors.New("unknown enum value")
)

// ValidationError describes a malformed order. Orders are validated
// upstream; the engine only checks again so bad input never reaches a book.
type ValidationError struct {
	OrderID string
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("order %s: %s %s", e.OrderID, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidOrder
}

// LiquidityRejection is raised for a market order arriving while the
// opposite side of its book is empty. Side and Quantity are carried so the
// caller can release whatever hold was placed before the order got here.
type LiquidityRejection struct {
	OrderID  string
	Reason   string
	Side     Side
	Quantity int64
}

func (r *LiquidityRejection) Error() string {
	return fmt.Sprintf("order %s rejected: %s", r.OrderID, r.Reason)
}

// NewLiquidityRejection names the empty side in the reason.
func NewLiquidityRejection(order *Order) *LiquidityRejection {
	return &LiquidityRejection{
		OrderID:  order.ID,
		Reason:   fmt.Sprintf("No %s orders available", lower(order.Side.Opposite())),
		Side:     order.Side,
		Quantity: order.OriginalQuantity,
	}
}

func lower(s Side) string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

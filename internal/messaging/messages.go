package messaging

import (
	"blitz/internal/common"

	"github.com/shopspring/decimal"
)

// RejectionMessage tells the order service to undo whatever hold it placed
// for the order, or for Quantity units of it. Side is left out when the
// order arrived without a valid one.
type RejectionMessage struct {
	OrderID         string      `json:"orderId"`
	RejectionReason string      `json:"rejectionReason"`
	Side            common.Side `json:"side,omitempty"`
	Quantity        int64       `json:"quantity"`
}

// LTPUpdate is fanned out after every processed order. LTP is null until
// the instrument has traded.
type LTPUpdate struct {
	SecurityID string             `json:"securityId"`
	LTP        *decimal.Decimal   `json:"ltp"`
	OrderBook  common.MarketDepth `json:"orderBook"`
}

type CancelRequest struct {
	OrderID    string `json:"orderId"`
	SecurityID string `json:"securityId"`
}

type CancelResult struct {
	OrderID    string `json:"orderId"`
	SecurityID string `json:"securityId"`
	Cancelled  bool   `json:"cancelled"`
}

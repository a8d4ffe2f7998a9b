package engine

import "blitz/internal/common"

type Outcome int

const (
	Matched Outcome = iota
	Rejected
)

func (o Outcome) String() string {
	if o == Rejected {
		return "REJECTED"
	}
	return "MATCHED"
}

// Result is what placing an order produced. Callers branch on Outcome
// rather than inspecting the order afterwards.
type Result struct {
	Outcome Outcome
	// Trades in execution order, possibly empty.
	Trades []common.Trade
	// Unfilled is the quantity of a market order that found no more
	// liquidity. It is dropped, never rested.
	Unfilled int64
	// Rejection is set only when Outcome is Rejected.
	Rejection *common.LiquidityRejection
	// Status, Remaining and Resting describe the order as the book left
	// it. Once an order rests, other callers may change it, so read these
	// instead of the order.
	Status    common.Status
	Remaining int64
	Resting   bool
}

// Err returns the rejection as an error, or nil.
func (r Result) Err() error {
	if r.Rejection == nil {
		return nil
	}
	return r.Rejection
}

package common

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Trade records one execution between a taker and a resting maker.
type Trade struct {
	ID          string          `json:"id"`
	BuyOrderID  string          `json:"buyOrderId"`
	SellOrderID string          `json:"sellOrderId"`
	SecurityID  string          `json:"securityId"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"` // Maker's price
	ExecutedAt  time.Time       `json:"executedAt"`
}

func (t Trade) String() string {
	return fmt.Sprintf(
		`ID:          %s
SecurityID:  %s
Buy:         %s
Sell:        %s
Quantity:    %d
Price:       %s
ExecutedAt:  %v`,
		t.ID,
		t.SecurityID,
		t.BuyOrderID,
		t.SellOrderID,
		t.Quantity,
		t.Price.String(),
		t.ExecutedAt.Format(time.RFC3339Nano),
	)
}

// BestOrder is one resting order as shown in depth. Orders at the same
// price are listed individually, not aggregated.
type BestOrder struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

type MarketDepth struct {
	SecurityID string      `json:"securityId"`
	BuyOrders  []BestOrder `json:"buyOrders"`
	SellOrders []BestOrder `json:"sellOrders"`
}

package common

import (
	"fmt"
	"strings"
)

// Side and OrderType start at 1 so a payload that leaves them out decodes
// to an invalid value instead of BUY or LIMIT.
type Side int

const (
	Buy Side = iota + 1
	Sell
)

// Opposite returns the side an order on s matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	}
	return fmt.Sprintf("Side(%d)", int(s))
}

func (s Side) MarshalText() ([]byte, error) {
	if s != Buy && s != Sell {
		return nil, fmt.Errorf("%w: side %d", ErrUnknownEnum, int(s))
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "BUY":
		*s = Buy
	case "SELL":
		*s = Sell
	default:
		return fmt.Errorf("%w: side %q", ErrUnknownEnum, b)
	}
	return nil
}

type OrderType int

const (
	// Limit orders are an order to buy or sell a security at a specified
	// price or better. Limit orders may rest on the order book until
	// filled.
	LimitOrder OrderType = iota + 1
	// Market orders are instructions to buy or sell immediately against
	// whatever rests on the opposite side, at the resting orders' prices.
	// A market order never rests.
	MarketOrder
)

func (t OrderType) String() string {
	switch t {
	case LimitOrder:
		return "LIMIT"
	case MarketOrder:
		return "MARKET"
	}
	return fmt.Sprintf("OrderType(%d)", int(t))
}

func (t OrderType) MarshalText() ([]byte, error) {
	if t != LimitOrder && t != MarketOrder {
		return nil, fmt.Errorf("%w: order type %d", ErrUnknownEnum, int(t))
	}
	return []byte(t.String()), nil
}

func (t *OrderType) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "LIMIT":
		*t = LimitOrder
	case "MARKET":
		*t = MarketOrder
	default:
		return fmt.Errorf("%w: order type %q", ErrUnknownEnum, b)
	}
	return nil
}

// RestingPolicy says what happens to the unfilled remainder of an order
// once the matching loop stops.
type RestingPolicy int

const (
	NeverRests RestingPolicy = iota
	RestsOnRemainder
)

// RestingPolicy is derived from the order type so the matching loop only
// has to ask once.
func (t OrderType) RestingPolicy() RestingPolicy {
	if t == LimitOrder {
		return RestsOnRemainder
	}
	return NeverRests
}

type Status int

const (
	Open Status = iota
	PartiallyFilled
	Filled
	Cancelled
	Rejected
)

var statusNames = map[Status]string{
	Open:            "OPEN",
	PartiallyFilled: "PARTIALLY_FILLED",
	Filled:          "FILLED",
	Cancelled:       "CANCELLED",
	Rejected:        "REJECTED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Terminal statuses never go back into a book.
func (s Status) Terminal() bool {
	return s == Filled || s == Cancelled || s == Rejected
}

func (s Status) MarshalText() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("%w: status %d", ErrUnknownEnum, int(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	name := strings.ToUpper(string(b))
	for status, n := range statusNames {
		if n == name {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("%w: status %q", ErrUnknownEnum, b)
}

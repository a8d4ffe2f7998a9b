package engine

import (
	"blitz/internal/common"

	"github.com/tidwall/btree"
)

// orderQueue is one side of a book. Orders are kept in a B-tree under a
// total order (price, then arrival time, then sequence) so the best order is
// the tree minimum and any order can be removed by key.
//
// The tree is not internally locked; the owning book serializes access.
type orderQueue struct {
	side   common.Side
	orders *btree.BTreeG[*common.Order]
}

func newOrderQueue(side common.Side) *orderQueue {
	// Bids sorted greatest first, asks least first.
	less := askLess
	if side == common.Buy {
		less = bidLess
	}
	return &orderQueue{
		side:   side,
		orders: btree.NewBTreeGOptions(less, btree.Options{NoLocks: true}),
	}
}

func bidLess(a, b *common.Order) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c > 0
	}
	return arrivedBefore(a, b)
}

func askLess(a, b *common.Order) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c < 0
	}
	return arrivedBefore(a, b)
}

func arrivedBefore(a, b *common.Order) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Sequence < b.Sequence
}

func (q *orderQueue) len() int {
	return q.orders.Len()
}

func (q *orderQueue) push(order *common.Order) {
	q.orders.Set(order)
}

func (q *orderQueue) peek() (*common.Order, bool) {
	return q.orders.Min()
}

// remove deletes the order by its key. The key fields must not have changed
// since the order was pushed.
func (q *orderQueue) remove(order *common.Order) bool {
	_, ok := q.orders.Delete(order)
	return ok
}

// best walks the first n orders without touching the tree's shape.
func (q *orderQueue) best(n int) []common.BestOrder {
	if n <= 0 {
		return []common.BestOrder{}
	}
	result := make([]common.BestOrder, 0, min(n, q.orders.Len()))
	q.orders.Scan(func(order *common.Order) bool {
		result = append(result, common.BestOrder{
			Price:    order.Price,
			Quantity: order.RemainingQuantity,
		})
		return len(result) < n
	})
	return result
}

func (q *orderQueue) clear() {
	q.orders.Clear()
}

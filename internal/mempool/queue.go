package mempool

import (
	"github.com/insoblok/inso-gateway/pkg/types"
)

// txQueue implements heap.Interface for block ordering.
// Higher gas price = popped first (max-heap).
type txQueue []*types.TxMeta

func (q txQueue) Len() int { return len(q) }

func (q txQueue) Less(i, j int) bool {
	if q[i].GasUnitPrice != q[j].GasUnitPrice {
		return q[i].GasUnitPrice > q[j].GasUnitPrice
	}
	// FIFO tie-break: earlier received = higher priority
	return q[i].ReceivedAt.Before(q[j].ReceivedAt)
}

func (q txQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *txQueue) Push(x interface{}) {
	*q = append(*q, x.(*types.TxMeta))
}

func (q *txQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	*q = old[:n-1]
	return item
}

// evictEntry is a pooled transaction with its position in the eviction queue.
type evictEntry struct {
	meta  *types.TxMeta
	index int
}

// evictQueue implements heap.Interface for eviction ordering.
// Lowest gas price first; among equals the latest arrival goes first.
type evictQueue []*evictEntry

func (q evictQueue) Len() int { return len(q) }

func (q evictQueue) Less(i, j int) bool {
	if q[i].meta.GasUnitPrice != q[j].meta.GasUnitPrice {
		return q[i].meta.GasUnitPrice < q[j].meta.GasUnitPrice
	}
	return q[i].meta.ReceivedAt.After(q[j].meta.ReceivedAt)
}

func (q evictQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *evictQueue) Push(x interface{}) {
	e := x.(*evictEntry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *evictQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

// Package auction owns the per-slot bidding state of the builder.
package auction

import (
	"github.com/holiman/uint256"
)

// Bid is the best known bid of a slot and whether we placed it
type Bid struct {
	Value  *uint256.Int `json:"value"`
	IsOurs bool         `json:"is_ours"`
}

// NewBid creates a bid. A nil value is treated as zero.
func NewBid(value *uint256.Int, ours bool) Bid {
	if value == nil {
		value = new(uint256.Int)
	}
	return Bid{Value: value, IsOurs: ours}
}

func (b Bid) value() *uint256.Int {
	if b.Value == nil {
		return new(uint256.Int)
	}
	return b.Value
}

// Cmp orders bids by value. On equal values our own bid ranks higher, so an external bid matching
// ours does not trigger a resubmission.
func (b Bid) Cmp(other Bid) int {
	if c := b.value().Cmp(other.value()); c != 0 {
		return c
	}
	switch {
	case b.IsOurs == other.IsOurs:
		return 0
	case b.IsOurs:
		return 1
	default:
		return -1
	}
}

func (b Bid) String() string {
	if b.IsOurs {
		return b.value().Dec() + " (ours)"
	}
	return b.value().Dec()
}

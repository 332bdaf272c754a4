package auction

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	ErrUnprofitable     = errors.New("bid is unprofitable")
	ErrInvalidShadePct  = errors.New("bid shade percent must be between 1 and 100")
	ErrInvalidIncrement = errors.New("rebid increment must be positive")
)

// Policy decides the value to bid for a candidate worth candidate, given the best known bid.
// It returns ErrUnprofitable when no bid should be placed.
type Policy interface {
	CalculateBid(candidate *uint256.Int, maxBid Bid) (*uint256.Int, error)
}

// PolicyFunc adapts a function to Policy
type PolicyFunc func(candidate *uint256.Int, maxBid Bid) (*uint256.Int, error)

func (f PolicyFunc) CalculateBid(candidate *uint256.Int, maxBid Bid) (*uint256.Int, error) {
	return f(candidate, maxBid)
}

// ShadingPolicy bids a share of the surplus over an external bid, and outbids itself by Increment
// when the best bid is already ours. Percent 50 bids the floored midpoint of candidate and max bid.
type ShadingPolicy struct {
	Percent   uint64
	Increment uint64
}

// DefaultPolicy bids the midpoint and rebids ours by one wei
var DefaultPolicy = ShadingPolicy{Percent: 50, Increment: 1}

// Validate checks the policy parameters
func (p ShadingPolicy) Validate() error {
	if p.Percent < 1 || p.Percent > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidShadePct, p.Percent)
	}
	if p.Increment == 0 {
		return ErrInvalidIncrement
	}
	return nil
}

func (p ShadingPolicy) CalculateBid(candidate *uint256.Int, maxBid Bid) (*uint256.Int, error) {
	best := maxBid.value()
	if maxBid.IsOurs {
		return new(uint256.Int).Add(best, uint256.NewInt(p.Increment)), nil
	}
	if candidate == nil || !candidate.Gt(best) {
		return nil, ErrUnprofitable
	}

	// Percent <= 100 keeps the product within the surplus
	surplus := new(uint256.Int).Sub(candidate, best)
	shaded, _ := new(uint256.Int).MulDivOverflow(surplus, uint256.NewInt(p.Percent), uint256.NewInt(100))
	return shaded.Add(shaded, best), nil
}

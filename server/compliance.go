package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/flashbots/mev-bidder/relay"
	"github.com/flashbots/mev-bidder/types"
)

var ErrUndecodableTransaction = errors.New("could not decode block transaction")

// ComplianceFilter is consulted for every ready relay before a block is posted to it.
// A non-nil error skips that relay for the block.
type ComplianceFilter interface {
	Check(endpoint *relay.Endpoint, block *BlockAddresses) error
}

// ComplianceFilterFunc adapts a function to ComplianceFilter
type ComplianceFilterFunc func(endpoint *relay.Endpoint, block *BlockAddresses) error

func (f ComplianceFilterFunc) Check(endpoint *relay.Endpoint, block *BlockAddresses) error {
	return f(endpoint, block)
}

// BlockAddresses collects the addresses a candidate block touches. Transactions are decoded
// on first use and shared by every relay of a dispatch.
type BlockAddresses struct {
	block *types.CandidateBlock
	load  func() ([]common.Address, error)
}

// NewBlockAddresses creates the address view of block
func NewBlockAddresses(block *types.CandidateBlock) *BlockAddresses {
	b := &BlockAddresses{block: block}
	b.load = sync.OnceValues(b.collect)
	return b
}

// Block returns the candidate block
func (b *BlockAddresses) Block() *types.CandidateBlock {
	return b.block
}

// Addresses returns the fee recipient and the sender and recipient of every transaction, without duplicates
func (b *BlockAddresses) Addresses() ([]common.Address, error) {
	return b.load()
}

func (b *BlockAddresses) collect() ([]common.Address, error) {
	seen := make(map[common.Address]struct{})
	addresses := make([]common.Address, 0)
	add := func(addr common.Address) {
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = struct{}{}
		addresses = append(addresses, addr)
	}

	payload := b.block.Payload
	add(payload.FeeRecipient)
	for i, raw := range payload.Transactions {
		tx := new(ethtypes.Transaction)
		if err := tx.UnmarshalBinary(raw); err != nil {
			return nil, fmt.Errorf("%w at index %d: %w", ErrUndecodableTransaction, i, err)
		}
		from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(tx.ChainId()), tx)
		if err != nil {
			return nil, fmt.Errorf("%w at index %d: %w", ErrUndecodableTransaction, i, err)
		}
		add(from)
		if to := tx.To(); to != nil {
			add(*to)
		}
	}
	return addresses, nil
}

// BlacklistFilter skips relays whose blacklist contains an address the block touches.
// A block that cannot be decoded is skipped for every relay that has a blacklist.
type BlacklistFilter struct{}

func (BlacklistFilter) Check(endpoint *relay.Endpoint, block *BlockAddresses) error {
	if endpoint.BlacklistSize() == 0 {
		return nil
	}

	addresses, err := block.Addresses()
	if err != nil {
		return err
	}
	for _, addr := range addresses {
		if endpoint.IsBlacklisted(addr) {
			return fmt.Errorf("%w: %s", ErrBlacklisted, addr.Hex())
		}
	}
	return nil
}

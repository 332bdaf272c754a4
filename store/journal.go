// Package store keeps the dispatch reports of past bids, queryable by slot.
package store

import (
	"errors"

	"github.com/flashbots/mev-bidder/types"
)

var (
	ErrClosed    = errors.New("journal is closed")
	ErrNilReport = errors.New("report is required")
)

// Journal records dispatch reports. Implementations are safe for concurrent use.
type Journal interface {
	// Put stores report. Storing the same report ID twice keeps the latest copy.
	Put(report *types.DispatchReport) error

	// BySlot returns the reports of slot ordered by block hash, then by the time they were sent
	BySlot(slot uint64) ([]*types.DispatchReport, error)

	// Prune deletes the reports of every slot before slot and returns how many were deleted
	Prune(slot uint64) (int, error)

	Close() error
}

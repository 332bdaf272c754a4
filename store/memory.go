package store

import (
	"bytes"
	"sort"
	"sync"

	"github.com/flashbots/mev-bidder/types"
	"github.com/google/uuid"
)

// DefaultMemorySlots is the number of most recent slots a memory journal retains
const DefaultMemorySlots = 64

// MemoryJournal keeps the reports of the most recent slots in memory
type MemoryJournal struct {
	mu       sync.RWMutex
	maxSlots int
	slots    map[uint64]map[uuid.UUID]*types.DispatchReport
	closed   bool
}

// NewMemoryJournal creates a journal retaining maxSlots slots, or DefaultMemorySlots if maxSlots <= 0
func NewMemoryJournal(maxSlots int) *MemoryJournal {
	if maxSlots <= 0 {
		maxSlots = DefaultMemorySlots
	}
	return &MemoryJournal{
		maxSlots: maxSlots,
		slots:    make(map[uint64]map[uuid.UUID]*types.DispatchReport),
	}
}

func (j *MemoryJournal) Put(report *types.DispatchReport) error {
	if report == nil {
		return ErrNilReport
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}

	reports, ok := j.slots[report.Slot]
	if !ok {
		reports = make(map[uuid.UUID]*types.DispatchReport)
		j.slots[report.Slot] = reports
	}
	reports[report.ID] = report
	j.pruneLocked()
	return nil
}

// pruneLocked drops the oldest slots beyond maxSlots
func (j *MemoryJournal) pruneLocked() {
	if len(j.slots) <= j.maxSlots {
		return
	}
	slots := make([]uint64, 0, len(j.slots))
	for slot := range j.slots {
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, k int) bool { return slots[i] < slots[k] })
	for _, slot := range slots[:len(slots)-j.maxSlots] {
		delete(j.slots, slot)
	}
}

func (j *MemoryJournal) BySlot(slot uint64) ([]*types.DispatchReport, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return nil, ErrClosed
	}

	out := make([]*types.DispatchReport, 0, len(j.slots[slot]))
	for _, report := range j.slots[slot] {
		out = append(out, report)
	}
	sortReports(out)
	return out, nil
}

func (j *MemoryJournal) Prune(slot uint64) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return 0, ErrClosed
	}

	deleted := 0
	for s, reports := range j.slots {
		if s < slot {
			deleted += len(reports)
			delete(j.slots, s)
		}
	}
	return deleted, nil
}

func (j *MemoryJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	j.slots = nil
	return nil
}

func sortReports(reports []*types.DispatchReport) {
	sort.SliceStable(reports, func(i, k int) bool {
		if c := bytes.Compare(reports[i].BlockHash[:], reports[k].BlockHash[:]); c != 0 {
			return c < 0
		}
		if !reports[i].SentAt.Equal(reports[k].SentAt) {
			return reports[i].SentAt.Before(reports[k].SentAt)
		}
		return bytes.Compare(reports[i].ID[:], reports[k].ID[:]) < 0
	})
}

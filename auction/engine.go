package auction

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/mev-bidder/types"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// Dispatcher hands a decided bid to every ready relay. The returned channel yields exactly one
// report once every relay has answered and must be buffered.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *types.BidRequest) (<-chan *types.DispatchReport, error)
}

type candidate struct {
	block  *types.CandidateBlock
	bid    *uint256.Int
	status Status
}

// Engine tracks the auction of the current slot and decides when and what to bid.
// All state is guarded by mu, so blocks and bids may arrive concurrently.
type Engine struct {
	log         *logrus.Entry
	dispatcher  Dispatcher
	policy      Policy
	clock       func() time.Time
	windowOpen  time.Duration
	windowClose time.Duration
	minBid      *uint256.Int
	onSealed    OnSealedHandler

	mu        sync.Mutex
	started   bool
	slot      uint64
	slotStart time.Time
	maxBid    Bid
	bestBlock *types.CandidateBlock
	blocks    map[phase0.Hash32]*candidate
}

// NewEngine creates a new instance of Engine.
//
// It panics if no dispatcher is passed.
// Without options it bids with DefaultPolicy between DefaultWindowOpen and DefaultWindowClose.
func NewEngine(dispatcher Dispatcher, opt ...EngineOption) *Engine {
	if dispatcher == nil {
		panic("dispatcher is required and cannot be nil")
	}

	cfg := &EngineConfig{}
	for _, o := range opt {
		o(cfg)
	}

	if cfg.log == nil {
		cfg.log = logrus.NewEntry(logrus.New())
	}
	if cfg.clock == nil {
		cfg.clock = time.Now
	}
	if cfg.policy == nil {
		cfg.policy = DefaultPolicy
	}
	if cfg.windowOpen == 0 && cfg.windowClose == 0 {
		cfg.windowOpen, cfg.windowClose = DefaultWindowOpen, DefaultWindowClose
	}
	if cfg.minBid == nil {
		cfg.minBid = new(uint256.Int)
	}
	if cfg.onSealed == nil {
		cfg.onSealed = NopSealedHandler
	}

	return &Engine{
		log:         cfg.log.WithField("module", "auction"),
		dispatcher:  dispatcher,
		policy:      cfg.policy,
		clock:       cfg.clock,
		windowOpen:  cfg.windowOpen,
		windowClose: cfg.windowClose,
		minBid:      cfg.minBid,
		onSealed:    cfg.onSealed,
		maxBid:      NewBid(cfg.minBid.Clone(), false),
		blocks:      make(map[phase0.Hash32]*candidate),
	}
}

// StartSlot resets the auction for slot, which started at slotStart. Slots that do not advance are ignored.
func (e *Engine) StartSlot(slot uint64, slotStart time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started && slot <= e.slot {
		return
	}
	e.started = true
	e.slot = slot
	e.slotStart = slotStart
	e.maxBid = NewBid(e.minBid.Clone(), false)
	e.bestBlock = nil
	e.blocks = make(map[phase0.Hash32]*candidate)

	e.log.WithFields(logrus.Fields{
		"slot":      slot,
		"slotStart": slotStart.UnixMilli(),
	}).Debug("auction started")
}

// OnNewBlock records block as a candidate of the current slot and bids for it if profitable
// and inside the submission window. Blocks already seen by hash are ignored.
// A bid above the block's value is never sent, even when the policy asks for it: outbidding
// our own max bid by the increment skips blocks worth less than that.
// It returns the dispatch report, or nil if nothing was dispatched.
func (e *Engine) OnNewBlock(ctx context.Context, block *types.CandidateBlock) *types.DispatchReport {
	if block == nil {
		return nil
	}
	if err := block.Validate(); err != nil {
		e.log.WithError(err).Warn("ignoring invalid candidate block")
		return nil
	}

	hash := block.Hash()
	log := e.log.WithFields(logrus.Fields{
		"slot":      block.Slot,
		"blockHash": common.Hash(hash).Hex(),
		"value":     block.Value.Dec(),
	})

	e.mu.Lock()
	if !e.started || block.Slot != e.slot {
		e.mu.Unlock()
		log.Debug("ignoring candidate block of another slot")
		return nil
	}
	if _, seen := e.blocks[hash]; seen {
		e.mu.Unlock()
		log.Debug("ignoring known candidate block")
		return nil
	}

	c := &candidate{block: block}
	e.blocks[hash] = c
	if e.bestBlock == nil || block.Value.Gt(e.bestBlock.Value) {
		e.bestBlock = block
	}
	return e.submitLocked(ctx, c, log)
}

// OnNewBid adopts an observed bid if it beats the best known one and re-evaluates the best block.
// The bid for the best block is capped at its value like in OnNewBlock.
// It returns the dispatch report, or nil if nothing was dispatched.
func (e *Engine) OnNewBid(ctx context.Context, observed Bid) *types.DispatchReport {
	if observed.Value == nil {
		return nil
	}

	e.mu.Lock()
	log := e.log.WithFields(logrus.Fields{
		"slot":   e.slot,
		"bid":    observed.String(),
		"maxBid": e.maxBid.String(),
	})
	if observed.Cmp(e.maxBid) <= 0 {
		e.mu.Unlock()
		log.Debug("ignoring bid below the best known bid")
		return nil
	}
	e.maxBid = observed
	log.Debug("adopted new best bid")

	if e.bestBlock == nil {
		e.mu.Unlock()
		return nil
	}
	best := e.blocks[e.bestBlock.Hash()]
	return e.submitLocked(ctx, best, log.WithField("blockHash", common.Hash(best.block.Hash()).Hex()))
}

// submitLocked is called with mu held and releases it. Dispatch runs under the lock so that
// per-relay queues see bids in the order their values were decided.
func (e *Engine) submitLocked(ctx context.Context, c *candidate, log *logrus.Entry) *types.DispatchReport {
	elapsed := e.clock().Sub(e.slotStart)
	if elapsed < e.windowOpen || elapsed > e.windowClose {
		e.mu.Unlock()
		log.WithField("elapsedMs", elapsed.Milliseconds()).Debug("outside submission window")
		return nil
	}

	value, err := e.policy.CalculateBid(c.block.Value, e.maxBid)
	if err == nil && value.Gt(c.block.Value) {
		err = ErrUnprofitable
	}
	if errors.Is(err, ErrUnprofitable) {
		e.mu.Unlock()
		log.WithField("maxBid", e.maxBid.String()).Debug("candidate is unprofitable")
		return nil
	} else if err != nil {
		e.mu.Unlock()
		log.WithError(err).Error("could not calculate bid")
		return nil
	}

	slot := e.slot
	hash := c.block.Hash()
	log = log.WithField("bid", value.Dec())
	reports, err := e.dispatcher.Dispatch(ctx, &types.BidRequest{
		Slot:     slot,
		Block:    c.block,
		Value:    value,
		Deadline: e.slotStart.Add(e.windowClose),
	})
	if err != nil {
		c.status = ErrorStatus(types.KindOf(err))
		e.mu.Unlock()
		log.WithError(err).Warn("could not dispatch bid")
		return nil
	}

	// once sealed every later bid of the slot has to beat ours
	c.status = Status{Kind: StatusSealed}
	c.bid = value
	e.maxBid = NewBid(value, true)
	e.mu.Unlock()

	log.Info("bid sealed")
	e.onSealed(slot, c.block, value)

	select {
	case report := <-reports:
		e.finalize(slot, hash, report, log)
		return report
	case <-ctx.Done():
		go func() {
			e.finalize(slot, hash, <-reports, log)
		}()
		return nil
	}
}

func (e *Engine) finalize(slot uint64, hash phase0.Hash32, report *types.DispatchReport, log *logrus.Entry) {
	status := statusFromReport(report)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.slot != slot {
		return
	}
	if c, ok := e.blocks[hash]; ok {
		c.status = status
	}

	if report != nil {
		log.WithFields(logrus.Fields{
			"status":       status.String(),
			"submissionID": report.ID.String(),
			"successes":    report.Successes(),
			"rejections":   report.Rejections(),
			"failures":     report.Failures(),
		}).Info("bid delivered")
	}
}

// Slot returns the slot of the current auction
func (e *Engine) Slot() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.slot
}

// MaxBid returns the best known bid of the current slot
func (e *Engine) MaxBid() Bid {
	e.mu.Lock()
	defer e.mu.Unlock()
	return NewBid(e.maxBid.value().Clone(), e.maxBid.IsOurs)
}

// Status returns the submission status of a candidate block of the current slot
func (e *Engine) Status(hash phase0.Hash32) (Status, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.blocks[hash]
	if !ok {
		return Status{}, false
	}
	return c.status, true
}

// CandidateState is the engine's view of one candidate block
type CandidateState struct {
	BlockHash common.Hash  `json:"block_hash"`
	Value     *uint256.Int `json:"value"`
	Bid       *uint256.Int `json:"bid,omitempty"`
	Status    Status       `json:"status"`
}

// State is a snapshot of the current auction
type State struct {
	Slot       uint64           `json:"slot,string"`
	SlotStart  time.Time        `json:"slot_start"`
	MaxBid     Bid              `json:"max_bid"`
	BestBlock  *common.Hash     `json:"best_block,omitempty"`
	Candidates []CandidateState `json:"candidates"`
}

// State returns a snapshot of the current auction
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := State{
		Slot:       e.slot,
		SlotStart:  e.slotStart,
		MaxBid:     NewBid(e.maxBid.value().Clone(), e.maxBid.IsOurs),
		Candidates: make([]CandidateState, 0, len(e.blocks)),
	}
	if e.bestBlock != nil {
		hash := common.Hash(e.bestBlock.Hash())
		state.BestBlock = &hash
	}
	for hash, c := range e.blocks {
		state.Candidates = append(state.Candidates, CandidateState{
			BlockHash: common.Hash(hash),
			Value:     c.block.Value,
			Bid:       c.bid,
			Status:    c.status,
		})
	}
	sort.Slice(state.Candidates, func(i, j int) bool {
		return state.Candidates[i].Value.Gt(state.Candidates[j].Value)
	})
	return state
}

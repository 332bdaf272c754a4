package auction

import (
	"time"

	"github.com/flashbots/mev-bidder/types"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultWindowOpen is the earliest offset into the slot a bid may be dispatched at
	DefaultWindowOpen = 10 * time.Second
	// DefaultWindowClose is the latest offset into the slot a bid may be dispatched at
	DefaultWindowClose = 12 * time.Second
)

// OnSealedHandler is invoked once a bid for block was handed to the relays.
// It runs outside the engine lock and must not block for long.
type OnSealedHandler = func(slot uint64, block *types.CandidateBlock, value *uint256.Int)

// NopSealedHandler the default sealed handler which does nothing.
func NopSealedHandler(_ uint64, _ *types.CandidateBlock, _ *uint256.Int) {}

// EngineConfig holds the engine options.
type EngineConfig struct {
	log         *logrus.Entry
	clock       func() time.Time
	policy      Policy
	windowOpen  time.Duration
	windowClose time.Duration
	minBid      *uint256.Int
	onSealed    OnSealedHandler
}

// EngineOption is an engine option.
type EngineOption = func(cfg *EngineConfig)

// WithLog specifies the logger.
func WithLog(log *logrus.Entry) EngineOption {
	return func(cfg *EngineConfig) {
		cfg.log = log
	}
}

// WithClock specifies the time source used for the submission window.
func WithClock(clock func() time.Time) EngineOption {
	return func(cfg *EngineConfig) {
		cfg.clock = clock
	}
}

// WithPolicy specifies the bid policy.
func WithPolicy(p Policy) EngineOption {
	return func(cfg *EngineConfig) {
		cfg.policy = p
	}
}

// WithWindow specifies the submission window as offsets from the slot start, both inclusive.
func WithWindow(open, closeAt time.Duration) EngineOption {
	return func(cfg *EngineConfig) {
		cfg.windowOpen = open
		cfg.windowClose = closeAt
	}
}

// WithMinBid specifies the bid floor every slot starts with.
func WithMinBid(v *uint256.Int) EngineOption {
	return func(cfg *EngineConfig) {
		cfg.minBid = v
	}
}

// WithOnSealedHandler specifies an OnSealedHandler.
func WithOnSealedHandler(h OnSealedHandler) EngineOption {
	return func(cfg *EngineConfig) {
		cfg.onSealed = h
	}
}

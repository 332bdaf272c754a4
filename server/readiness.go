package server

import (
	"context"
	"sort"
	"sync"

	builderApiV1 "github.com/attestantio/go-builder-client/api/v1"
	"github.com/flashbots/mev-bidder/relay"
	"github.com/flashbots/mev-bidder/types"
	"github.com/sirupsen/logrus"
)

// ReadyRelay is a relay with a validator registered for the slot it was resolved for
type ReadyRelay struct {
	Endpoint       *relay.Endpoint
	ValidatorIndex uint64
	Registration   *builderApiV1.SignedValidatorRegistration
}

// ReadinessResolver finds the relays that can take bids for a slot
type ReadinessResolver struct {
	log     *logrus.Entry
	metrics *BidderMetrics
}

// NewReadinessResolver creates a new instance of ReadinessResolver. metrics may be nil.
func NewReadinessResolver(log *logrus.Entry, metrics *BidderMetrics) *ReadinessResolver {
	return &ReadinessResolver{
		log:     log.WithField("module", "readiness"),
		metrics: metrics,
	}
}

// Resolve queries every relay concurrently and returns those with a registration for slot.
// A relay that fails is logged and left out. The result follows the order of relays.
func (r *ReadinessResolver) Resolve(ctx context.Context, relays []*relay.Endpoint, slot uint64) []ReadyRelay {
	log := r.log.WithField("slot", slot)

	type found struct {
		index int
		ready ReadyRelay
	}
	result := make([]found, 0, len(relays))
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i, endpoint := range relays {
		wg.Add(1)
		go func(i int, endpoint *relay.Endpoint) {
			defer wg.Done()
			log := log.WithField("relay", endpoint.Name())

			entries, err := endpoint.GetValidators(ctx)
			if err != nil {
				log.WithError(err).Warn("GetValidatorForSlot: could not fetch validators")
				r.metrics.ObserveReadinessError(endpoint.Name())
				return
			}

			entry := matchSlot(entries, slot)
			if entry == nil {
				log.WithField("entries", len(entries)).Debug("GetValidatorForSlot: no validator registered for slot")
				return
			}

			mu.Lock()
			defer mu.Unlock()
			result = append(result, found{
				index: i,
				ready: ReadyRelay{
					Endpoint:       endpoint,
					ValidatorIndex: entry.ValidatorIndex,
					Registration:   entry.Entry,
				},
			})
		}(i, endpoint)
	}

	// Wait for all requests to complete...
	wg.Wait()

	sort.Slice(result, func(i, j int) bool { return result[i].index < result[j].index })
	ready := make([]ReadyRelay, len(result))
	for i := range result {
		ready[i] = result[i].ready
	}

	log.WithFields(logrus.Fields{
		"configured": len(relays),
		"ready":      len(ready),
	}).Info("resolved ready relays")
	return ready
}

// matchSlot returns the first usable entry for slot, or nil
func matchSlot(entries []types.BuilderGetValidatorsResponseEntry, slot uint64) *types.BuilderGetValidatorsResponseEntry {
	for i := range entries {
		entry := &entries[i]
		if entry.Slot != slot {
			continue
		}
		if entry.Entry == nil || entry.Entry.Message == nil {
			continue
		}
		return entry
	}
	return nil
}

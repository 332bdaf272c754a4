package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	builderApiV1 "github.com/attestantio/go-builder-client/api/v1"
	"github.com/attestantio/go-eth2-client/spec/capella"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/go-boost-utils/bls"
	bidcommon "github.com/flashbots/mev-bidder/common"
	"github.com/flashbots/mev-bidder/relay"
	"github.com/flashbots/mev-bidder/signing"
	"github.com/flashbots/mev-bidder/types"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// SlotListener is notified when the coordinator advances to a new slot. slotStart is the start of
// the slot preceding the one being built for, so the bidding window ends when the proposal is due.
type SlotListener = func(slot uint64, slotStart time.Time)

// ReportHandler receives every dispatch report once all relays have answered
type ReportHandler = func(report *types.DispatchReport)

// CoordinatorOpts configures a Coordinator
type CoordinatorOpts struct {
	Log       *logrus.Entry
	Relays    []*relay.Endpoint
	Network   bidcommon.Network
	SecretKey *bls.SecretKey
	Resolver  *ReadinessResolver
	Filter    ComplianceFilter
	Metrics   *BidderMetrics
	Clock     func() time.Time
	OnReport  ReportHandler
}

type readySet struct {
	slot   uint64
	relays []ReadyRelay
}

// Coordinator follows slot transitions, keeps the relays ready for the current slot and fans bids
// out to them. It owns the builder identity.
type Coordinator struct {
	log           *logrus.Entry
	relays        []*relay.Endpoint
	lanes         map[*relay.Endpoint]*lane
	network       bidcommon.Network
	signer        *signing.Signer
	secretKey     *bls.SecretKey
	builderPubkey phase0.BLSPubKey
	resolver      *ReadinessResolver
	filter        ComplianceFilter
	metrics       *BidderMetrics
	clock         func() time.Time
	onReport      ReportHandler
	onSlot        SlotListener

	mu        sync.Mutex
	started   bool
	lastSlot  uint64
	slotPosts map[*relay.Endpoint]int
	ready     atomic.Pointer[readySet]
	lanesMu   sync.Mutex
}

// NewCoordinator creates a new instance of Coordinator
func NewCoordinator(opts CoordinatorOpts) (*Coordinator, error) {
	if opts.SecretKey == nil {
		return nil, ErrMissingSecretKey
	}
	pk, err := bls.PublicKeyFromSecretKey(opts.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("could not derive builder public key: %w", err)
	}
	var builderPubkey phase0.BLSPubKey
	copy(builderPubkey[:], bls.PublicKeyToBytes(pk))

	signer, err := signing.NewSigner(opts.Network)
	if err != nil {
		return nil, err
	}

	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = NewReadinessResolver(log, opts.Metrics)
	}
	filter := opts.Filter
	if filter == nil {
		filter = BlacklistFilter{}
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	onReport := opts.OnReport
	if onReport == nil {
		onReport = func(*types.DispatchReport) {}
	}

	lanes := make(map[*relay.Endpoint]*lane, len(opts.Relays))
	for _, endpoint := range opts.Relays {
		lanes[endpoint] = newLane()
	}

	return &Coordinator{
		log:           log.WithField("module", "coordinator"),
		relays:        opts.Relays,
		lanes:         lanes,
		network:       opts.Network,
		signer:        signer,
		secretKey:     opts.SecretKey,
		builderPubkey: builderPubkey,
		resolver:      resolver,
		filter:        filter,
		metrics:       opts.Metrics,
		clock:         clock,
		onReport:      onReport,
		onSlot:        func(uint64, time.Time) {},
		slotPosts:     make(map[*relay.Endpoint]int),
	}, nil
}

// SetSlotListener registers the listener notified on every slot transition.
// It must be called before the first OnPayloadAttributes.
func (c *Coordinator) SetSlotListener(l SlotListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSlot = l
}

// BuilderPubkey returns the public key bids are signed with
func (c *Coordinator) BuilderPubkey() phase0.BLSPubKey {
	return c.builderPubkey
}

// Relays returns the configured relays
func (c *Coordinator) Relays() []*relay.Endpoint {
	return c.relays
}

// LastSlot returns the most recent slot the coordinator advanced to
func (c *Coordinator) LastSlot() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSlot
}

// ReadyRelays returns the ready relays and the slot they were resolved for
func (c *Coordinator) ReadyRelays() (uint64, []ReadyRelay) {
	set := c.ready.Load()
	if set == nil {
		return 0, nil
	}
	return set.slot, set.relays
}

// OnPayloadAttributes advances to pa.Slot and resolves the relays ready for it.
// Notifications for the current or an older slot are ignored, including same-slot re-orgs.
func (c *Coordinator) OnPayloadAttributes(ctx context.Context, pa *types.PayloadAttributes) error {
	if pa == nil {
		return ErrNilPayloadAttributes
	}
	log := c.log.WithField("slot", pa.Slot)

	c.mu.Lock()
	if c.started && pa.Slot <= c.lastSlot {
		lastSlot := c.lastSlot
		c.mu.Unlock()
		log.WithField("lastSlot", lastSlot).Debug("ignoring payload attributes of a past slot")
		return nil
	}
	c.started = true
	c.lastSlot = pa.Slot
	onSlot := c.onSlot
	finished := c.slotPosts
	c.slotPosts = make(map[*relay.Endpoint]int)
	c.mu.Unlock()

	for _, endpoint := range c.relays {
		c.metrics.ObserveSlotSubmissions(finished[endpoint])
	}

	onSlot(pa.Slot, c.biddingSlotStart(pa))

	ready := c.resolver.Resolve(ctx, c.relays, pa.Slot)
	if !c.storeReady(&readySet{slot: pa.Slot, relays: ready}) {
		log.Debug("discarding readiness of an outdated slot")
		return nil
	}
	c.metrics.ObserveReadiness(len(ready))
	return nil
}

// biddingSlotStart returns the start of the slot in which bids for pa.Slot are placed
func (c *Coordinator) biddingSlotStart(pa *types.PayloadAttributes) time.Time {
	proposal := c.network.SlotStartTime(pa.Slot)
	if pa.Timestamp != 0 {
		proposal = time.Unix(int64(pa.Timestamp), 0)
	}
	return proposal.Add(-bidcommon.SlotTimeSecMainnet * time.Second)
}

// storeReady replaces the ready set unless a newer slot has been stored meanwhile
func (c *Coordinator) storeReady(next *readySet) bool {
	for {
		current := c.ready.Load()
		if current != nil && current.slot > next.slot {
			return false
		}
		if c.ready.CompareAndSwap(current, next) {
			return true
		}
	}
}

// OnNewBlock submits block at value to every relay ready for the current slot and waits for
// all of them to answer. Per-relay failures are part of the report, not an error.
func (c *Coordinator) OnNewBlock(ctx context.Context, block *types.CandidateBlock, value *uint256.Int) (*types.DispatchReport, error) {
	reports, err := c.Dispatch(ctx, &types.BidRequest{
		Slot:  c.LastSlot(),
		Block: block,
		Value: value,
	})
	if err != nil {
		return nil, err
	}

	select {
	case report := <-reports:
		return report, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dispatch signs req for every ready relay and queues it on that relay's lane. It returns once
// every submission is queued; the channel yields the report when every relay has answered.
// It fails only if no relay could be queued.
func (c *Coordinator) Dispatch(ctx context.Context, req *types.BidRequest) (<-chan *types.DispatchReport, error) {
	if req == nil || req.Block == nil {
		return nil, &types.DispatchError{Kind: types.ErrorKindPayload, Err: types.ErrMissingPayload}
	}
	if req.Value == nil {
		return nil, &types.DispatchError{Kind: types.ErrorKindPayload, Err: ErrNilBid}
	}
	if err := req.Block.Validate(); err != nil {
		return nil, &types.DispatchError{Kind: types.ErrorKindPayload, Err: err}
	}
	if lastSlot := c.LastSlot(); req.Slot != lastSlot {
		return nil, &types.DispatchError{Kind: types.ErrorKindExpired, Err: fmt.Errorf("%w: %d, current slot %d", ErrStaleSlot, req.Slot, lastSlot)}
	}
	set := c.ready.Load()
	if set == nil || set.slot != req.Slot || len(set.relays) == 0 {
		return nil, &types.DispatchError{Kind: types.ErrorKindNoRelays, Err: fmt.Errorf("%w %d", ErrNoReadyRelays, req.Slot)}
	}

	payload, err := types.ExecutionPayloadFromExecutableData(req.Block.Payload)
	if err != nil {
		return nil, &types.DispatchError{Kind: types.ErrorKindPayload, Err: err}
	}

	report := &types.DispatchReport{
		ID:        uuid.New(),
		Slot:      req.Slot,
		BlockHash: common.Hash(req.Block.Hash()),
		Value:     req.Value.Clone(),
		SentAt:    c.clock(),
	}
	log := c.log.WithFields(logrus.Fields{
		"slot":         req.Slot,
		"blockHash":    report.BlockHash.Hex(),
		"value":        req.Value.Dec(),
		"submissionID": report.ID.String(),
	})

	addresses := NewBlockAddresses(req.Block)
	results := make([]types.RelayResult, len(set.relays))
	queued := 0

	var wg sync.WaitGroup
	for i, ready := range set.relays {
		endpoint := ready.Endpoint
		results[i] = types.RelayResult{Relay: endpoint.Name(), Group: endpoint.Group()}
		log := log.WithField("relay", endpoint.Name())

		if err := c.filter.Check(endpoint, addresses); err != nil {
			results[i].Err, results[i].Kind = err, types.ErrorKindFiltered
			log.WithError(err).Info("block filtered for relay")
			continue
		}

		submission, err := c.buildSubmission(req, &ready, payload)
		if err != nil {
			results[i].Err, results[i].Kind = err, types.ErrorKindSigning
			log.WithError(err).Error("could not sign bid")
			continue
		}

		wait, done := c.lane(endpoint).reserve()
		queued++
		wg.Add(1)
		go func(result *types.RelayResult) {
			defer wg.Done()
			defer close(done)
			<-wait
			c.post(ctx, endpoint, submission, req, result, log)
		}(&results[i])
	}

	if queued == 0 {
		report.Results = results
		for i := range results {
			c.metrics.ObserveResult(&results[i])
		}
		return nil, &types.DispatchError{Kind: report.FailureKind(), Err: ErrNothingQueued}
	}
	c.metrics.ObserveBid(req.Value)
	log.WithField("queued", queued).Debug("bid queued")

	out := make(chan *types.DispatchReport, 1)
	go func() {
		wg.Wait()
		report.Results = results
		for i := range results {
			c.metrics.ObserveResult(&results[i])
		}
		c.onReport(report)
		out <- report
	}()
	return out, nil
}

func (c *Coordinator) lane(endpoint *relay.Endpoint) *lane {
	c.lanesMu.Lock()
	defer c.lanesMu.Unlock()
	l, ok := c.lanes[endpoint]
	if !ok {
		l = newLane()
		c.lanes[endpoint] = l
	}
	return l
}

func (c *Coordinator) buildSubmission(req *types.BidRequest, ready *ReadyRelay, payload *capella.ExecutionPayload) (*types.SignedBidSubmission, error) {
	registration := ready.Registration.Message
	msg := &builderApiV1.BidTrace{
		Slot:                 req.Slot,
		ParentHash:           req.Block.ParentHash(),
		BlockHash:            req.Block.Hash(),
		BuilderPubkey:        c.builderPubkey,
		ProposerPubkey:       registration.Pubkey,
		ProposerFeeRecipient: registration.FeeRecipient,
		GasLimit:             payload.GasLimit,
		GasUsed:              payload.GasUsed,
		Value:                req.Value.Clone(),
	}

	signature, err := c.signer.Sign(msg, c.secretKey)
	if err != nil {
		return nil, err
	}
	return &types.SignedBidSubmission{
		Message:          msg,
		ExecutionPayload: payload,
		Signature:        signature,
	}, nil
}

// post delivers one queued submission. Jobs that start after the caller went away or after the
// window closed are dropped; a started post is detached from the caller and runs to completion.
func (c *Coordinator) post(ctx context.Context, endpoint *relay.Endpoint, submission *types.SignedBidSubmission, req *types.BidRequest, result *types.RelayResult, log *logrus.Entry) {
	if err := ctx.Err(); err != nil {
		result.Err, result.Kind = err, types.ErrorKindCanceled
		return
	}
	if !req.Deadline.IsZero() && c.clock().After(req.Deadline) {
		result.Err, result.Kind = ErrSubmissionExpired, types.ErrorKindExpired
		log.Warn("submission expired before it was sent")
		return
	}

	c.mu.Lock()
	if c.lastSlot == req.Slot {
		c.slotPosts[endpoint]++
	}
	c.mu.Unlock()

	start := time.Now()
	status, err := endpoint.PostBlock(context.WithoutCancel(ctx), submission)
	result.Duration = time.Since(start)
	if err != nil {
		result.Err, result.Kind = err, relayErrorKind(err)
		log.WithError(err).Warn("could not submit block to relay")
		return
	}

	result.Status = status
	log = log.WithFields(logrus.Fields{
		"code":       status.Code,
		"durationMs": result.Duration.Milliseconds(),
	})
	if status.Accepted() {
		log.Info("relay accepted block")
	} else {
		log.WithField("message", status.Message).Info("relay rejected block")
	}
}

func relayErrorKind(err error) types.ErrorKind {
	var relayErr *relay.Error
	if errors.As(err, &relayErr) && relayErr.Kind == relay.ErrorKindDecode {
		return types.ErrorKindDecode
	}
	return types.ErrorKindTransport
}

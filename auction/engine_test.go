package auction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/beacon/engine"
	"github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/mev-bidder/types"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var (
	testLog       = logrus.NewEntry(logrus.New())
	testSlotStart = time.Unix(1_700_000_000, 0)
)

const testSlot = 100

type fakeDispatcher struct {
	mu       sync.Mutex
	requests []*types.BidRequest
	results  []types.RelayResult
	err      error
	// hold, if set, delays the report until it is closed
	hold chan struct{}
}

func newFakeDispatcher(relays int) *fakeDispatcher {
	results := make([]types.RelayResult, relays)
	for i := range results {
		results[i] = types.RelayResult{Relay: string(rune('a' + i)), Status: &types.SendBlockStatus{Code: 200}}
	}
	return &fakeDispatcher{results: results}
}

func (d *fakeDispatcher) Dispatch(_ context.Context, req *types.BidRequest) (<-chan *types.DispatchReport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.requests = append(d.requests, req)

	report := &types.DispatchReport{
		Slot:      req.Slot,
		BlockHash: common.Hash(req.Block.Hash()),
		Value:     req.Value,
		Results:   append([]types.RelayResult(nil), d.results...),
	}
	out := make(chan *types.DispatchReport, 1)
	if d.hold == nil {
		out <- report
		return out, nil
	}
	hold := d.hold
	go func() {
		<-hold
		out <- report
	}()
	return out, nil
}

func (d *fakeDispatcher) Requests() []*types.BidRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*types.BidRequest(nil), d.requests...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(offset time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = testSlotStart.Add(offset)
}

func testBlock(slot uint64, hash byte, value uint64) *types.CandidateBlock {
	return &types.CandidateBlock{
		Slot:  slot,
		Value: uint256.NewInt(value),
		Payload: &engine.ExecutableData{
			ParentHash: common.Hash{0xff},
			BlockHash:  common.Hash{hash},
			GasLimit:   30_000_000,
			GasUsed:    12_000_000,
		},
	}
}

func newTestEngine(t *testing.T, dispatcher Dispatcher, offset time.Duration, opt ...EngineOption) (*Engine, *fakeClock) {
	t.Helper()
	clock := &fakeClock{}
	clock.Set(offset)
	opts := append([]EngineOption{WithLog(testLog), WithClock(clock.Now)}, opt...)
	e := NewEngine(dispatcher, opts...)
	e.StartSlot(testSlot, testSlotStart)
	return e, clock
}

func TestSubmissionWindow(t *testing.T) {
	testCases := []struct {
		name       string
		offset     time.Duration
		dispatched bool
	}{
		{name: "too early", offset: 9 * time.Second},
		{name: "just before the window", offset: 10*time.Second - time.Millisecond},
		{name: "window opens", offset: 10 * time.Second, dispatched: true},
		{name: "inside the window", offset: 11 * time.Second, dispatched: true},
		{name: "window closes", offset: 12 * time.Second, dispatched: true},
		{name: "too late", offset: 13 * time.Second},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			dispatcher := newFakeDispatcher(3)
			e, _ := newTestEngine(t, dispatcher, tt.offset)

			report := e.OnNewBlock(context.Background(), testBlock(testSlot, 0x01, 140))
			if !tt.dispatched {
				require.Nil(t, report)
				require.Empty(t, dispatcher.Requests())
				return
			}

			require.NotNil(t, report)
			require.Len(t, report.Results, 3)
			requests := dispatcher.Requests()
			require.Len(t, requests, 1)
			require.Equal(t, uint64(testSlot), requests[0].Slot)
			require.Equal(t, uint256.NewInt(70), requests[0].Value)
			require.Equal(t, testSlotStart.Add(12*time.Second), requests[0].Deadline)
		})
	}
}

func TestCustomWindow(t *testing.T) {
	dispatcher := newFakeDispatcher(1)
	e, clock := newTestEngine(t, dispatcher, 3*time.Second, WithWindow(2*time.Second, 4*time.Second))

	require.NotNil(t, e.OnNewBlock(context.Background(), testBlock(testSlot, 0x01, 140)))

	clock.Set(5 * time.Second)
	require.Nil(t, e.OnNewBlock(context.Background(), testBlock(testSlot, 0x02, 1_000)))
	require.Len(t, dispatcher.Requests(), 1)
}

func TestStateIsUpdatedOutsideTheWindow(t *testing.T) {
	dispatcher := newFakeDispatcher(1)
	e, clock := newTestEngine(t, dispatcher, 9*time.Second)
	block := testBlock(testSlot, 0x01, 140)

	require.Nil(t, e.OnNewBlock(context.Background(), block))
	require.Nil(t, e.OnNewBid(context.Background(), NewBid(uint256.NewInt(20), false)))
	require.Empty(t, dispatcher.Requests())
	require.Equal(t, NewBid(uint256.NewInt(20), false), e.MaxBid())
	status, ok := e.Status(block.Hash())
	require.True(t, ok)
	require.Equal(t, StatusNeverSent, status.Kind)

	// a higher bid inside the window re-evaluates the best block
	clock.Set(11 * time.Second)
	report := e.OnNewBid(context.Background(), NewBid(uint256.NewInt(50), false))
	require.NotNil(t, report)

	requests := dispatcher.Requests()
	require.Len(t, requests, 1)
	require.Equal(t, block, requests[0].Block)
	require.Equal(t, uint256.NewInt(95), requests[0].Value)
}

func TestOnNewBlockDedup(t *testing.T) {
	t.Run("same hash inside the window", func(t *testing.T) {
		dispatcher := newFakeDispatcher(2)
		e, _ := newTestEngine(t, dispatcher, 11*time.Second)

		require.NotNil(t, e.OnNewBlock(context.Background(), testBlock(testSlot, 0x01, 140)))
		require.Nil(t, e.OnNewBlock(context.Background(), testBlock(testSlot, 0x01, 140)))
		require.Len(t, dispatcher.Requests(), 1)
	})

	t.Run("same hash first seen outside the window", func(t *testing.T) {
		dispatcher := newFakeDispatcher(2)
		e, clock := newTestEngine(t, dispatcher, 5*time.Second)

		require.Nil(t, e.OnNewBlock(context.Background(), testBlock(testSlot, 0x01, 140)))
		clock.Set(11 * time.Second)
		require.Nil(t, e.OnNewBlock(context.Background(), testBlock(testSlot, 0x01, 140)))
		require.Empty(t, dispatcher.Requests())
	})
}

func TestRebidding(t *testing.T) {
	dispatcher := newFakeDispatcher(1)
	e, _ := newTestEngine(t, dispatcher, 11*time.Second)
	ctx := context.Background()

	require.NotNil(t, e.OnNewBlock(ctx, testBlock(testSlot, 0x01, 140)))
	require.Equal(t, NewBid(uint256.NewInt(70), true), e.MaxBid())

	// ours is the best bid, a better block is outbid by one wei
	require.NotNil(t, e.OnNewBlock(ctx, testBlock(testSlot, 0x02, 150)))
	require.Equal(t, NewBid(uint256.NewInt(71), true), e.MaxBid())

	// a block worth less than the rebid is not submitted
	require.Nil(t, e.OnNewBlock(ctx, testBlock(testSlot, 0x03, 50)))

	// an external bid equal to ours is ignored
	require.Nil(t, e.OnNewBid(ctx, NewBid(uint256.NewInt(71), false)))

	// a higher external bid is adopted and the best block is bid at the shaded value
	report := e.OnNewBid(ctx, NewBid(uint256.NewInt(80), false))
	require.NotNil(t, report)
	require.Equal(t, NewBid(uint256.NewInt(115), true), e.MaxBid())

	values := make([]*uint256.Int, 0)
	for _, req := range dispatcher.Requests() {
		values = append(values, req.Value)
	}
	require.Equal(t, []*uint256.Int{uint256.NewInt(70), uint256.NewInt(71), uint256.NewInt(115)}, values)
}

func TestUnprofitableBlock(t *testing.T) {
	dispatcher := newFakeDispatcher(1)
	e, _ := newTestEngine(t, dispatcher, 11*time.Second, WithMinBid(uint256.NewInt(100)))

	block := testBlock(testSlot, 0x01, 90)
	require.Nil(t, e.OnNewBlock(context.Background(), block))
	require.Empty(t, dispatcher.Requests())

	status, ok := e.Status(block.Hash())
	require.True(t, ok)
	require.Equal(t, StatusNeverSent, status.Kind)
}

func TestBidCappedAtBlockValue(t *testing.T) {
	t.Run("policy above the block value", func(t *testing.T) {
		dispatcher := newFakeDispatcher(1)
		overbid := PolicyFunc(func(candidate *uint256.Int, _ Bid) (*uint256.Int, error) {
			return new(uint256.Int).AddUint64(candidate, 10), nil
		})
		e, _ := newTestEngine(t, dispatcher, 11*time.Second, WithPolicy(overbid))

		block := testBlock(testSlot, 0x01, 140)
		require.Nil(t, e.OnNewBlock(context.Background(), block))
		require.Empty(t, dispatcher.Requests())

		status, ok := e.Status(block.Hash())
		require.True(t, ok)
		require.Equal(t, StatusNeverSent, status.Kind)
	})

	t.Run("outbidding ourselves", func(t *testing.T) {
		dispatcher := newFakeDispatcher(1)
		e, _ := newTestEngine(t, dispatcher, 11*time.Second)
		ctx := context.Background()

		require.NotNil(t, e.OnNewBlock(ctx, testBlock(testSlot, 0x01, 140)))
		require.Equal(t, NewBid(uint256.NewInt(70), true), e.MaxBid())

		// max bid plus one is above the block value
		require.Nil(t, e.OnNewBlock(ctx, testBlock(testSlot, 0x02, 70)))
		// max bid plus one equals the block value
		require.NotNil(t, e.OnNewBlock(ctx, testBlock(testSlot, 0x03, 71)))
		require.Equal(t, NewBid(uint256.NewInt(71), true), e.MaxBid())
		require.Len(t, dispatcher.Requests(), 2)
	})
}

func TestStatusTransitions(t *testing.T) {
	testCases := []struct {
		name     string
		results  []types.RelayResult
		expected Status
	}{
		{
			name: "winning",
			results: []types.RelayResult{
				{Relay: "a", Status: &types.SendBlockStatus{Code: 200}},
				{Relay: "b", Err: errors.New("timeout"), Kind: types.ErrorKindTransport},
			},
			expected: Status{Kind: StatusWinning},
		},
		{
			name: "losing",
			results: []types.RelayResult{
				{Relay: "a", Status: &types.SendBlockStatus{Code: 400, Message: "bid too low"}},
				{Relay: "b", Err: errors.New("timeout"), Kind: types.ErrorKindTransport},
			},
			expected: Status{Kind: StatusLosing},
		},
		{
			name: "all relays failed",
			results: []types.RelayResult{
				{Relay: "a", Err: errors.New("bad json"), Kind: types.ErrorKindDecode},
				{Relay: "b", Err: errors.New("bad json"), Kind: types.ErrorKindDecode},
			},
			expected: ErrorStatus(types.ErrorKindDecode),
		},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			dispatcher := &fakeDispatcher{results: tt.results}
			e, _ := newTestEngine(t, dispatcher, 11*time.Second)
			block := testBlock(testSlot, 0x01, 140)

			require.NotNil(t, e.OnNewBlock(context.Background(), block))
			status, ok := e.Status(block.Hash())
			require.True(t, ok)
			require.Equal(t, tt.expected, status)
		})
	}

	t.Run("dispatch error", func(t *testing.T) {
		dispatcher := &fakeDispatcher{err: &types.DispatchError{Kind: types.ErrorKindNoRelays, Err: errors.New("no ready relays")}}
		e, _ := newTestEngine(t, dispatcher, 11*time.Second)
		block := testBlock(testSlot, 0x01, 140)

		require.Nil(t, e.OnNewBlock(context.Background(), block))
		status, _ := e.Status(block.Hash())
		require.Equal(t, ErrorStatus(types.ErrorKindNoRelays), status)
		require.Equal(t, "error(no_relays)", status.String())
		// nothing was sealed, the floor is unchanged
		require.Equal(t, NewBid(uint256.NewInt(0), false), e.MaxBid())
	})
}

func TestSealedWhileWaiting(t *testing.T) {
	dispatcher := newFakeDispatcher(1)
	dispatcher.hold = make(chan struct{})

	sealed := make(chan *uint256.Int, 1)
	e, _ := newTestEngine(t, dispatcher, 11*time.Second, WithOnSealedHandler(func(_ uint64, _ *types.CandidateBlock, value *uint256.Int) {
		sealed <- value
	}))
	block := testBlock(testSlot, 0x01, 140)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *types.DispatchReport)
	go func() {
		done <- e.OnNewBlock(ctx, block)
	}()

	require.Equal(t, uint256.NewInt(70), <-sealed)
	status, _ := e.Status(block.Hash())
	require.Equal(t, StatusSealed, status.Kind)

	// the caller gives up but the relays' answer still lands
	cancel()
	require.Nil(t, <-done)
	close(dispatcher.hold)
	require.Eventually(t, func() bool {
		status, _ := e.Status(block.Hash())
		return status.Kind == StatusWinning
	}, time.Second, 5*time.Millisecond)
}

func TestStartSlot(t *testing.T) {
	dispatcher := newFakeDispatcher(1)
	e, _ := newTestEngine(t, dispatcher, 11*time.Second, WithMinBid(uint256.NewInt(10)))
	ctx := context.Background()

	require.NotNil(t, e.OnNewBlock(ctx, testBlock(testSlot, 0x01, 140)))
	require.Nil(t, e.OnNewBlock(ctx, testBlock(testSlot+1, 0x02, 140)), "block of a future slot")

	// the same or an older slot does not reset the auction
	e.StartSlot(testSlot, testSlotStart)
	e.StartSlot(testSlot-1, testSlotStart)
	require.True(t, e.MaxBid().IsOurs)
	require.Len(t, e.State().Candidates, 1)

	e.StartSlot(testSlot+1, testSlotStart)
	require.Equal(t, uint64(testSlot+1), e.Slot())
	require.Equal(t, NewBid(uint256.NewInt(10), false), e.MaxBid())
	require.Empty(t, e.State().Candidates)
	_, ok := e.Status(testBlock(testSlot, 0x01, 140).Hash())
	require.False(t, ok)

	require.NotNil(t, e.OnNewBlock(ctx, testBlock(testSlot+1, 0x02, 140)))
	require.Equal(t, uint256.NewInt(75), dispatcher.Requests()[1].Value)
}

func TestState(t *testing.T) {
	dispatcher := newFakeDispatcher(1)
	e, clock := newTestEngine(t, dispatcher, 5*time.Second)
	ctx := context.Background()

	require.Nil(t, e.OnNewBlock(ctx, testBlock(testSlot, 0x01, 100)))
	clock.Set(11 * time.Second)
	require.NotNil(t, e.OnNewBlock(ctx, testBlock(testSlot, 0x02, 140)))

	state := e.State()
	require.Equal(t, uint64(testSlot), state.Slot)
	require.Equal(t, common.Hash{0x02}, *state.BestBlock)
	require.Len(t, state.Candidates, 2)
	require.Equal(t, common.Hash{0x02}, state.Candidates[0].BlockHash)
	require.Equal(t, uint256.NewInt(70), state.Candidates[0].Bid)
	require.Equal(t, Status{Kind: StatusWinning}, state.Candidates[0].Status)
	require.Equal(t, Status{Kind: StatusNeverSent}, state.Candidates[1].Status)
}

func TestInvalidBlock(t *testing.T) {
	dispatcher := newFakeDispatcher(1)
	e, _ := newTestEngine(t, dispatcher, 11*time.Second)

	require.Nil(t, e.OnNewBlock(context.Background(), nil))
	require.Nil(t, e.OnNewBlock(context.Background(), &types.CandidateBlock{Slot: testSlot, Value: uint256.NewInt(1)}))
	require.Nil(t, e.OnNewBid(context.Background(), Bid{}))
	require.Empty(t, dispatcher.Requests())
}

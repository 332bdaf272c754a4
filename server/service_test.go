package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/flashbots/mev-bidder/auction"
	"github.com/flashbots/mev-bidder/server/params"
	"github.com/flashbots/mev-bidder/store"
	"github.com/flashbots/mev-bidder/types"
	"github.com/stretchr/testify/require"
)

type testService struct {
	*testBackend
	service *BidderService
	engine  *auction.Engine
	journal store.Journal
	router  http.Handler
}

func newTestService(t *testing.T) *testService {
	t.Helper()
	journal := store.NewMemoryJournal(0)
	backend := newTestBackend(t, 2, 100, func(o *CoordinatorOpts) {
		o.OnReport = func(report *types.DispatchReport) {
			_ = journal.Put(report)
		}
	})
	// one second before the proposal of slot 100 is due
	backend.clock.Set(time.Unix(1_700_000_011, 0))

	engine := auction.NewEngine(backend.coordinator, auction.WithLog(testLog), auction.WithClock(backend.clock.Now))
	backend.coordinator.SetSlotListener(engine.StartSlot)

	service, err := NewBidderService(BidderServiceOpts{
		Log:         testLog,
		ListenAddr:  "localhost:0",
		Coordinator: backend.coordinator,
		Engine:      engine,
		Journal:     journal,
		Gatherer:    backend.registry,
	})
	require.NoError(t, err)

	return &testService{
		testBackend: backend,
		service:     service,
		engine:      engine,
		journal:     journal,
		router:      service.getRouter(),
	}
}

func (s *testService) request(t *testing.T, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	switch p := payload.(type) {
	case nil:
		body = bytes.NewReader(nil)
	case string:
		body = bytes.NewReader([]byte(p))
	default:
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, path, body)
	require.NoError(t, err)
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), dst), rr.Body.String())
}

type testBlockResponse struct {
	Dispatched bool                  `json:"dispatched"`
	Status     string                `json:"status"`
	Report     *types.DispatchReport `json:"report"`
}

type testBidResponse struct {
	Dispatched bool                  `json:"dispatched"`
	MaxBid     auction.Bid           `json:"max_bid"`
	Report     *types.DispatchReport `json:"report"`
}

func TestNewBidderService(t *testing.T) {
	_, err := NewBidderService(BidderServiceOpts{})
	require.ErrorIs(t, err, errMissingCoordinator)

	backend := newTestBackend(t, 1, 100)
	_, err = NewBidderService(BidderServiceOpts{Coordinator: backend.coordinator})
	require.ErrorIs(t, err, errMissingEngine)
}

func TestBidderServiceFlow(t *testing.T) {
	s := newTestService(t)

	// slot 100 is due at 1700000012
	rr := s.request(t, http.MethodPost, params.PathPayloadAttributes, `{"slot":"100","timestamp":"1700000012"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.JSONEq(t, `{"slot":"100"}`, rr.Body.String())
	require.Equal(t, uint64(100), s.engine.Slot())

	// first block bids half of its value
	block := testCandidateBlock(100, 0xaa, 120)
	rr = s.request(t, http.MethodPost, params.PathBlocks, block)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var blockResp testBlockResponse
	decodeBody(t, rr, &blockResp)
	require.True(t, blockResp.Dispatched)
	require.Equal(t, "winning", blockResp.Status)
	require.Equal(t, "60", blockResp.Report.Value.Dec())
	require.Equal(t, 2, blockResp.Report.Successes())

	// a competing bid moves ours to the midpoint of the surplus
	rr = s.request(t, http.MethodPost, params.PathBids, `{"value":"100"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var bidResp testBidResponse
	decodeBody(t, rr, &bidResp)
	require.True(t, bidResp.Dispatched)
	require.Equal(t, "110", bidResp.MaxBid.Value.Dec())
	require.True(t, bidResp.MaxBid.IsOurs)

	// the journal has both dispatches
	rr = s.request(t, http.MethodGet, params.PathSubmissions+"?slot=100", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var reports []*types.DispatchReport
	decodeBody(t, rr, &reports)
	require.Len(t, reports, 2)

	rr = s.request(t, http.MethodGet, params.PathSubmissions, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeBody(t, rr, &reports)
	require.Len(t, reports, 2)

	for _, m := range s.relays {
		require.Len(t, m.Submissions(), 2)
	}

	rr = s.request(t, http.MethodGet, params.PathStatus, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var status struct {
		BuilderPubkey string `json:"builder_pubkey"`
		LastSlot      string `json:"last_slot"`
		ReadyRelays   []struct {
			Relay          string `json:"relay"`
			ProposerPubkey string `json:"proposer_pubkey"`
		} `json:"ready_relays"`
		Auction struct {
			Slot       string `json:"slot"`
			Candidates []struct {
				Status string `json:"status"`
			} `json:"candidates"`
		} `json:"auction"`
	}
	decodeBody(t, rr, &status)
	builderPubkey := s.coordinator.BuilderPubkey()
	require.Equal(t, fmt.Sprintf("%#x", builderPubkey[:]), status.BuilderPubkey)
	require.Equal(t, "100", status.LastSlot)
	require.Len(t, status.ReadyRelays, 2)
	require.Equal(t, s.endpoints[0].Name(), status.ReadyRelays[0].Relay)
	require.Equal(t, fmt.Sprintf("%#x", testProposers[0].pubkey[:]), status.ReadyRelays[0].ProposerPubkey)
	require.Equal(t, "100", status.Auction.Slot)
	require.Len(t, status.Auction.Candidates, 1)
	require.Equal(t, "winning", status.Auction.Candidates[0].Status)

	rr = s.request(t, http.MethodGet, params.PathMetrics, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "mev_bidder_submissions_total")
	require.Contains(t, rr.Body.String(), "mev_bidder_ready_relays 2")
}

func TestBidderServiceBadRequests(t *testing.T) {
	testCases := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{
			name:   "Malformed payload attributes",
			method: http.MethodPost,
			path:   params.PathPayloadAttributes,
			body:   `{"slot":`,
		},
		{
			name:   "Unknown payload attributes field",
			method: http.MethodPost,
			path:   params.PathPayloadAttributes,
			body:   `{"slot":"100","foo":1}`,
		},
		{
			name:   "Block without execution payload",
			method: http.MethodPost,
			path:   params.PathBlocks,
			body:   `{"slot":"100","value":"10"}`,
		},
		{
			name:   "Bid without value",
			method: http.MethodPost,
			path:   params.PathBids,
			body:   `{}`,
		},
		{
			name:   "Invalid submissions slot",
			method: http.MethodGet,
			path:   params.PathSubmissions + "?slot=abc",
		},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestService(t)
			rr := s.request(t, tt.method, tt.path, tt.body)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())

			var resp httpErrorResp
			decodeBody(t, rr, &resp)
			require.Equal(t, http.StatusBadRequest, resp.Code)
			require.NotEmpty(t, resp.Message)
		})
	}
}

func TestBidderServiceIgnoresBlocksOutsideTheSlot(t *testing.T) {
	s := newTestService(t)
	rr := s.request(t, http.MethodPost, params.PathPayloadAttributes, `{"slot":"100","timestamp":"1700000012"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.request(t, http.MethodPost, params.PathBlocks, testCandidateBlock(99, 0xaa, 120))
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, strings.Contains(rr.Body.String(), `"dispatched":false`), rr.Body.String())
	for _, m := range s.relays {
		require.Empty(t, m.Submissions())
	}
}

func TestStartHTTPServerTwice(t *testing.T) {
	s := newTestService(t)
	s.service.srv = &http.Server{}
	require.ErrorIs(t, s.service.StartHTTPServer(), errServerAlreadyRunning)
}

func TestShutdownBeforeStart(t *testing.T) {
	s := newTestService(t)
	require.NoError(t, s.service.Shutdown(context.Background()))

	done := make(chan error, 1)
	go func() { done <- s.service.StartHTTPServer() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		_ = s.service.Shutdown(context.Background())
		t.Fatal("server started after shutdown")
	}

	s.service.srvMu.Lock()
	defer s.service.srvMu.Unlock()
	require.Nil(t, s.service.srv)
}

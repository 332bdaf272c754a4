package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/flashbots/mev-bidder/auction"
	"github.com/flashbots/mev-bidder/config"
	"github.com/flashbots/mev-bidder/server/params"
	"github.com/flashbots/mev-bidder/store"
	"github.com/flashbots/mev-bidder/types"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	errMissingCoordinator = errors.New("coordinator is required")
	errMissingEngine      = errors.New("auction engine is required")
	errInvalidSlot        = errors.New("invalid slot")
)

// HTTPServerTimeouts are various timeouts for requests to the bidder HTTP server
type HTTPServerTimeouts struct {
	Read       time.Duration // Timeout for body reads. None if 0.
	ReadHeader time.Duration // Timeout for header reads. None if 0.
	Write      time.Duration // Timeout for writes. None if 0.
	Idle       time.Duration // Timeout to disconnect idle client connections. None if 0.
}

// NewDefaultHTTPServerTimeouts creates server timeouts from the environment settings
func NewDefaultHTTPServerTimeouts() HTTPServerTimeouts {
	return HTTPServerTimeouts{
		Read:       time.Duration(config.ServerReadTimeoutMs) * time.Millisecond,
		ReadHeader: time.Duration(config.ServerReadHeaderTimeoutMs) * time.Millisecond,
		Write:      time.Duration(config.ServerWriteTimeoutMs) * time.Millisecond,
		Idle:       time.Duration(config.ServerIdleTimeoutMs) * time.Millisecond,
	}
}

// BidderServiceOpts provides all available options for use with NewBidderService
type BidderServiceOpts struct {
	Log         *logrus.Entry
	ListenAddr  string
	Coordinator *Coordinator
	Engine      *auction.Engine
	Journal     store.Journal
	Gatherer    prometheus.Gatherer
}

// BidderService is the HTTP surface of the bidder. The execution side pushes slot transitions,
// candidate blocks and competing bids; operators read status, submissions and metrics.
type BidderService struct {
	listenAddr  string
	log         *logrus.Entry
	srvMu       sync.Mutex
	srv         *http.Server
	stopped     bool
	coordinator *Coordinator
	engine      *auction.Engine
	journal     store.Journal
	gatherer    prometheus.Gatherer

	serverTimeouts HTTPServerTimeouts
}

// NewBidderService creates a new BidderService
func NewBidderService(opts BidderServiceOpts) (*BidderService, error) {
	if opts.Coordinator == nil {
		return nil, errMissingCoordinator
	}
	if opts.Engine == nil {
		return nil, errMissingEngine
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	journal := opts.Journal
	if journal == nil {
		journal = store.NewMemoryJournal(0)
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &BidderService{
		listenAddr:     opts.ListenAddr,
		log:            log.WithField("module", "service"),
		coordinator:    opts.Coordinator,
		engine:         opts.Engine,
		journal:        journal,
		gatherer:       gatherer,
		serverTimeouts: NewDefaultHTTPServerTimeouts(),
	}, nil
}

func (m *BidderService) respondError(w http.ResponseWriter, code int, message string) {
	respondError(m.log, w, code, message)
}

func (m *BidderService) respondOK(w http.ResponseWriter, response any) {
	respondOK(m.log, w, response)
}

func (m *BidderService) getRouter() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", m.handleRoot)

	r.HandleFunc(params.PathStatus, m.handleStatus).Methods(http.MethodGet)
	r.HandleFunc(params.PathPayloadAttributes, m.handlePayloadAttributes).Methods(http.MethodPost)
	r.HandleFunc(params.PathBlocks, m.handleBlock).Methods(http.MethodPost)
	r.HandleFunc(params.PathBids, m.handleBid).Methods(http.MethodPost)
	r.HandleFunc(params.PathSubmissions, m.handleSubmissions).Methods(http.MethodGet)
	r.Handle(params.PathMetrics, promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.Use(mux.CORSMethodMiddleware(r))
	loggedRouter := httplogger.LoggingMiddlewareLogrus(m.log, r)
	return loggedRouter
}

// StartHTTPServer starts the HTTP server for this bidder service instance.
// It returns nil right away once Shutdown was called.
func (m *BidderService) StartHTTPServer() error {
	m.srvMu.Lock()
	if m.stopped {
		m.srvMu.Unlock()
		return nil
	}
	if m.srv != nil {
		m.srvMu.Unlock()
		return errServerAlreadyRunning
	}

	srv := &http.Server{
		Addr:    m.listenAddr,
		Handler: m.getRouter(),

		ReadTimeout:       m.serverTimeouts.Read,
		ReadHeaderTimeout: m.serverTimeouts.ReadHeader,
		WriteTimeout:      m.serverTimeouts.Write,
		IdleTimeout:       m.serverTimeouts.Idle,

		MaxHeaderBytes: config.ServerMaxHeaderBytes,
	}
	m.srv = srv
	m.srvMu.Unlock()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server, waiting for in-flight requests until ctx is done.
// A server that has not started yet never starts.
func (m *BidderService) Shutdown(ctx context.Context) error {
	m.srvMu.Lock()
	m.stopped = true
	srv := m.srv
	m.srvMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (m *BidderService) handleRoot(w http.ResponseWriter, _ *http.Request) {
	m.respondOK(w, nilResponse)
}

type readyRelayStatus struct {
	Relay          string `json:"relay"`
	URL            string `json:"url"`
	ValidatorIndex uint64 `json:"validator_index,string"`
	ProposerPubkey string `json:"proposer_pubkey"`
}

type statusResponse struct {
	BuilderPubkey string             `json:"builder_pubkey"`
	LastSlot      uint64             `json:"last_slot,string"`
	ReadySlot     uint64             `json:"ready_slot,string"`
	ReadyRelays   []readyRelayStatus `json:"ready_relays"`
	Auction       auction.State      `json:"auction"`
}

func (m *BidderService) handleStatus(w http.ResponseWriter, _ *http.Request) {
	builderPubkey := m.coordinator.BuilderPubkey()
	readySlot, ready := m.coordinator.ReadyRelays()

	resp := statusResponse{
		BuilderPubkey: fmt.Sprintf("%#x", builderPubkey[:]),
		LastSlot:      m.coordinator.LastSlot(),
		ReadySlot:     readySlot,
		ReadyRelays:   make([]readyRelayStatus, 0, len(ready)),
		Auction:       m.engine.State(),
	}
	for _, r := range ready {
		pubkey := r.Registration.Message.Pubkey
		resp.ReadyRelays = append(resp.ReadyRelays, readyRelayStatus{
			Relay:          r.Endpoint.Name(),
			URL:            r.Endpoint.URL(),
			ValidatorIndex: r.ValidatorIndex,
			ProposerPubkey: fmt.Sprintf("%#x", pubkey[:]),
		})
	}
	m.respondOK(w, resp)
}

type slotResponse struct {
	Slot uint64 `json:"slot,string"`
}

func (m *BidderService) handlePayloadAttributes(w http.ResponseWriter, req *http.Request) {
	log := m.log.WithField("method", "payloadAttributes")

	pa := new(types.PayloadAttributes)
	if err := DecodeJSON(req.Body, pa); err != nil {
		m.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// readiness resolution outlives the notifying request
	if err := m.coordinator.OnPayloadAttributes(context.WithoutCancel(req.Context()), pa); err != nil {
		log.WithError(err).Warn("could not process payload attributes")
		m.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	m.respondOK(w, slotResponse{Slot: m.coordinator.LastSlot()})
}

type blockResponse struct {
	Dispatched bool                  `json:"dispatched"`
	Status     *auction.Status       `json:"status,omitempty"`
	Report     *types.DispatchReport `json:"report,omitempty"`
}

func (m *BidderService) handleBlock(w http.ResponseWriter, req *http.Request) {
	block := new(types.CandidateBlock)
	body := http.MaxBytesReader(w, req.Body, int64(config.MaxCandidateBlockBytes))
	if err := DecodeJSON(body, block); err != nil {
		m.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := block.Validate(); err != nil {
		m.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	report := m.engine.OnNewBlock(req.Context(), block)
	resp := blockResponse{Dispatched: report != nil, Report: report}
	if status, ok := m.engine.Status(block.Hash()); ok {
		resp.Status = &status
	}
	m.respondOK(w, resp)
}

type bidRequest struct {
	Value *uint256.Int `json:"value"`
}

type bidResponse struct {
	Dispatched bool                  `json:"dispatched"`
	MaxBid     auction.Bid           `json:"max_bid"`
	Report     *types.DispatchReport `json:"report,omitempty"`
}

func (m *BidderService) handleBid(w http.ResponseWriter, req *http.Request) {
	bid := new(bidRequest)
	if err := DecodeJSON(req.Body, bid); err != nil {
		m.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if bid.Value == nil {
		m.respondError(w, http.StatusBadRequest, ErrNilBid.Error())
		return
	}

	report := m.engine.OnNewBid(req.Context(), auction.NewBid(bid.Value, false))
	m.respondOK(w, bidResponse{
		Dispatched: report != nil,
		MaxBid:     m.engine.MaxBid(),
		Report:     report,
	})
}

func (m *BidderService) handleSubmissions(w http.ResponseWriter, req *http.Request) {
	slot := m.coordinator.LastSlot()
	if slotStr := req.URL.Query().Get("slot"); slotStr != "" {
		var err error
		slot, err = strconv.ParseUint(slotStr, 10, 64)
		if err != nil {
			m.respondError(w, http.StatusBadRequest, errInvalidSlot.Error())
			return
		}
	}

	reports, err := m.journal.BySlot(slot)
	if err != nil {
		m.log.WithError(err).WithField("slot", slot).Error("could not read submissions")
		m.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	m.respondOK(w, reports)
}

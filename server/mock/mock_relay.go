package mock

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	builderApiV1 "github.com/attestantio/go-builder-client/api/v1"
	"github.com/attestantio/go-eth2-client/spec/bellatrix"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/flashbots/go-boost-utils/bls"
	"github.com/flashbots/go-boost-utils/ssz"
	"github.com/flashbots/mev-bidder/server/params"
	"github.com/flashbots/mev-bidder/types"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

const (
	mockRelaySecretKeyHex = "0x4e343a647c5a5c44d76c2c58b63f02cdf3a9a0ec40f102ebc26363b4b1b95033"
)

var (
	skBytes, _            = hexutil.Decode(mockRelaySecretKeyHex)
	mockRelaySecretKey, _ = bls.SecretKeyFromBytes(skBytes)
)

// Relay is used to fake a relay's behavior.
// You can override each of its handler by setting the instance's HandlerOverride_METHOD_TO_OVERRIDE to your own
// handler.
type Relay struct {
	// Used to panic if impossible error happens
	t *testing.T

	// Key used to sign validator registrations served by the relay
	secretKey *bls.SecretKey

	// Used to count each Request made to the relay, either if it fails or not, for each method
	mu           sync.Mutex
	requestCount map[string]int

	// Overriders
	handlerOverrideGetValidators func(w http.ResponseWriter, req *http.Request)
	handlerOverrideSubmitBlock   func(w http.ResponseWriter, req *http.Request)

	// Default responses placeholders, used if overrider does not exist
	validators   []types.BuilderGetValidatorsResponseEntry
	submitStatus *types.SendBlockStatus
	submitCode   int

	// Everything the relay received on the submit endpoint, in arrival order
	submissions []*types.SignedBidSubmission
	lastHeaders http.Header

	// Server section
	Server        *httptest.Server
	ResponseDelay time.Duration
}

// NewRelay creates a mocked relay which serves the builder API
func NewRelay(t *testing.T) *Relay {
	t.Helper()
	relay := &Relay{
		t:            t,
		secretKey:    mockRelaySecretKey,
		requestCount: make(map[string]int),
		submitCode:   http.StatusOK,
	}

	// Initialize server
	relay.Server = httptest.NewServer(relay.getRouter())
	t.Cleanup(relay.Server.Close)
	return relay
}

// URL returns the base URL of the mock relay
func (m *Relay) URL() string {
	return m.Server.URL
}

// newTestMiddleware creates a middleware which increases the Request counter and creates a fake delay for the response
func (m *Relay) newTestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			// Request counter
			m.mu.Lock()
			url := r.URL.EscapedPath()
			m.requestCount[url]++
			delay := m.ResponseDelay
			m.mu.Unlock()

			// Artificial Delay
			if delay > 0 {
				time.Sleep(delay)
			}

			next.ServeHTTP(w, r)
		},
	)
}

// getRouter registers the builder API methods, apply the test middleware and return the configured router
func (m *Relay) getRouter() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(params.PathGetValidators, m.handleGetValidators).Methods(http.MethodGet)
	r.HandleFunc(params.PathSubmitBlock, m.handleSubmitBlock).Methods(http.MethodPost)
	return m.newTestMiddleware(r)
}

// GetRequestCount returns the number of Request made to a specific URL
func (m *Relay) GetRequestCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount[path]
}

// SetResponseDelay delays every response of the relay by d
func (m *Relay) SetResponseDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResponseDelay = d
}

// MakeValidatorEntry builds a signed registration of pubkey for slot
func (m *Relay) MakeValidatorEntry(slot, validatorIndex uint64, pubkey phase0.BLSPubKey, feeRecipient bellatrix.ExecutionAddress) types.BuilderGetValidatorsResponseEntry {
	message := &builderApiV1.ValidatorRegistration{
		FeeRecipient: feeRecipient,
		GasLimit:     30_000_000,
		Timestamp:    time.Unix(1_700_000_000, 0),
		Pubkey:       pubkey,
	}
	signature, err := ssz.SignMessage(message, ssz.DomainBuilder, m.secretKey)
	require.NoError(m.t, err)

	return types.BuilderGetValidatorsResponseEntry{
		Slot:           slot,
		ValidatorIndex: validatorIndex,
		Entry: &builderApiV1.SignedValidatorRegistration{
			Message:   message,
			Signature: signature,
		},
	}
}

// SetValidators replaces the registrations served by the relay
func (m *Relay) SetValidators(entries ...types.BuilderGetValidatorsResponseEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validators = entries
}

// SetSubmitResponse sets the HTTP code and body the relay answers submissions with. A nil status means an empty body.
func (m *Relay) SetSubmitResponse(code int, status *types.SendBlockStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitCode = code
	m.submitStatus = status
}

// OverrideHandleGetValidators replaces the validators handler
func (m *Relay) OverrideHandleGetValidators(method func(w http.ResponseWriter, req *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlerOverrideGetValidators = method
}

// OverrideHandleSubmitBlock replaces the block submission handler
func (m *Relay) OverrideHandleSubmitBlock(method func(w http.ResponseWriter, req *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlerOverrideSubmitBlock = method
}

// Submissions returns the decoded submissions received so far
func (m *Relay) Submissions() []*types.SignedBidSubmission {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.SignedBidSubmission, len(m.submissions))
	copy(out, m.submissions)
	return out
}

// LastHeaders returns the headers of the last block submission
func (m *Relay) LastHeaders() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeaders.Clone()
}

func (m *Relay) handleGetValidators(w http.ResponseWriter, req *http.Request) {
	m.mu.Lock()
	override := m.handlerOverrideGetValidators
	m.mu.Unlock()
	if override != nil {
		override(w, req)
		return
	}
	m.defaultHandleGetValidators(w)
}

// defaultHandleGetValidators returns the registrations set with SetValidators
func (m *Relay) defaultHandleGetValidators(w http.ResponseWriter) {
	m.mu.Lock()
	entries := m.validators
	m.mu.Unlock()
	if entries == nil {
		entries = []types.BuilderGetValidatorsResponseEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m *Relay) handleSubmitBlock(w http.ResponseWriter, req *http.Request) {
	m.mu.Lock()
	override := m.handlerOverrideSubmitBlock
	m.mu.Unlock()
	if override != nil {
		override(w, req)
		return
	}
	m.defaultHandleSubmitBlock(w, req)
}

// defaultHandleSubmitBlock decodes and records the submission, then answers with the configured response
func (m *Relay) defaultHandleSubmitBlock(w http.ResponseWriter, req *http.Request) {
	var body io.Reader = req.Body
	if req.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(req.Body)
		if err != nil {
			writeStatus(w, http.StatusBadRequest, fmt.Sprintf("invalid gzip body: %v", err))
			return
		}
		defer zr.Close()
		body = zr
	}

	submission := new(types.SignedBidSubmission)
	if err := json.NewDecoder(body).Decode(submission); err != nil {
		writeStatus(w, http.StatusBadRequest, fmt.Sprintf("invalid submission: %v", err))
		return
	}

	m.mu.Lock()
	m.submissions = append(m.submissions, submission)
	m.lastHeaders = req.Header.Clone()
	code, status := m.submitCode, m.submitStatus
	m.mu.Unlock()

	if status == nil {
		w.WriteHeader(code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		m.t.Log("mock relay could not encode status", err)
	}
}

func writeStatus(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(types.SendBlockStatus{Code: uint64(code), Message: message})
}

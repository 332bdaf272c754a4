package server

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/attestantio/go-eth2-client/spec/bellatrix"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/ethereum/go-ethereum/beacon/engine"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/flashbots/go-boost-utils/bls"
	bidcommon "github.com/flashbots/mev-bidder/common"
	"github.com/flashbots/mev-bidder/relay"
	"github.com/flashbots/mev-bidder/server/mock"
	"github.com/flashbots/mev-bidder/signing"
	"github.com/flashbots/mev-bidder/types"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const testBuilderSecretKeyHex = "0x4e343a647c5a5c44d76c2c58b63f02cdf3a9a0ec40f102ebc26363b4b1b95033"

var testLog = logrus.NewEntry(logrus.New())

var testProposers = []struct {
	pubkey       phase0.BLSPubKey
	feeRecipient bellatrix.ExecutionAddress
}{
	{mock.ProposerPubkeyA, mock.FeeRecipientA},
	{mock.ProposerPubkeyB, mock.FeeRecipientB},
	{mock.ProposerPubkeyC, mock.FeeRecipientC},
}

func testSecretKey(t *testing.T) (*bls.SecretKey, phase0.BLSPubKey) {
	t.Helper()
	sk, pk, err := signing.SecretKeyFromHex(testBuilderSecretKeyHex)
	require.NoError(t, err)
	return sk, pk
}

func newTestEndpoint(t *testing.T, m *mock.Relay, opts relay.EndpointOpts) *relay.Endpoint {
	t.Helper()
	opts.URL = m.URL()
	opts.Log = testLog
	endpoint, err := relay.NewEndpoint(opts)
	require.NoError(t, err)
	return endpoint
}

// testCandidateBlock returns a block that derives into a valid execution payload
func testCandidateBlock(slot uint64, hash byte, value uint64, txs ...[]byte) *types.CandidateBlock {
	if txs == nil {
		txs = [][]byte{}
	}
	return &types.CandidateBlock{
		Slot:  slot,
		Value: uint256.NewInt(value),
		Payload: &engine.ExecutableData{
			ParentHash:    common.Hash{0xee},
			FeeRecipient:  common.HexToAddress("0x388C818CA8B9251b393131C08a736A67ccB19297"),
			StateRoot:     common.Hash{0x01},
			ReceiptsRoot:  common.Hash{0x02},
			LogsBloom:     make([]byte, 256),
			Random:        common.Hash{0x03},
			Number:        17_000_000,
			GasLimit:      30_000_000,
			GasUsed:       12_000_000,
			Timestamp:     1_700_000_000,
			ExtraData:     []byte("mev-bidder"),
			BaseFeePerGas: big.NewInt(7),
			BlockHash:     common.Hash{hash},
			Transactions:  txs,
			Withdrawals:   []*ethtypes.Withdrawal{},
		},
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type testBackend struct {
	coordinator *Coordinator
	relays      []*mock.Relay
	endpoints   []*relay.Endpoint
	registry    *prometheus.Registry
	metrics     *BidderMetrics
	clock       *testClock
}

// newTestBackend starts numRelays mock relays, each with a validator registered for slot
func newTestBackend(t *testing.T, numRelays int, slot uint64, opts ...func(*CoordinatorOpts)) *testBackend {
	t.Helper()
	sk, _ := testSecretKey(t)

	registry := prometheus.NewRegistry()
	backend := &testBackend{
		registry: registry,
		metrics:  NewBidderMetrics(registry),
		clock:    &testClock{now: time.Now()},
	}
	for i := 0; i < numRelays; i++ {
		m := mock.NewRelay(t)
		proposer := testProposers[i%len(testProposers)]
		m.SetValidators(m.MakeValidatorEntry(slot, uint64(i), proposer.pubkey, proposer.feeRecipient))
		backend.relays = append(backend.relays, m)
		backend.endpoints = append(backend.endpoints, newTestEndpoint(t, m, relay.EndpointOpts{}))
	}

	coordinatorOpts := CoordinatorOpts{
		Log:       testLog,
		Relays:    backend.endpoints,
		Network:   bidcommon.NetworkMainnet,
		SecretKey: sk,
		Metrics:   backend.metrics,
		Clock:     backend.clock.Now,
	}
	for _, o := range opts {
		o(&coordinatorOpts)
	}

	coordinator, err := NewCoordinator(coordinatorOpts)
	require.NoError(t, err)
	backend.coordinator = coordinator
	return backend
}

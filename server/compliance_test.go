package server

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/flashbots/mev-bidder/relay"
	"github.com/stretchr/testify/require"
)

func signedTransfer(t *testing.T, to common.Address) ([]byte, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	chainID := big.NewInt(1)
	tx, err := ethtypes.SignNewTx(key, ethtypes.LatestSignerForChainID(chainID), &ethtypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     0,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(10),
		Gas:       21_000,
		To:        &to,
		Value:     big.NewInt(1),
	})
	require.NoError(t, err)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return raw, crypto.PubkeyToAddress(key.PublicKey)
}

func blacklistEndpoint(t *testing.T, blacklist ...common.Address) *relay.Endpoint {
	t.Helper()
	endpoint, err := relay.NewEndpoint(relay.EndpointOpts{
		Log:       testLog,
		URL:       "https://relay.example.com",
		Blacklist: blacklist,
	})
	require.NoError(t, err)
	return endpoint
}

func TestBlockAddresses(t *testing.T) {
	recipient := common.HexToAddress("0x1111111111111111111111111111111111111111")
	raw, sender := signedTransfer(t, recipient)
	block := testCandidateBlock(100, 0x01, 10, raw, raw)

	addresses, err := NewBlockAddresses(block).Addresses()
	require.NoError(t, err)
	require.Equal(t, []common.Address{block.Payload.FeeRecipient, sender, recipient}, addresses)
}

func TestBlacklistFilter(t *testing.T) {
	recipient := common.HexToAddress("0x1111111111111111111111111111111111111111")
	raw, sender := signedTransfer(t, recipient)
	block := testCandidateBlock(100, 0x01, 10, raw)
	undecodable := testCandidateBlock(100, 0x02, 10, []byte{0xde, 0xad})

	testCases := []struct {
		name      string
		blacklist []common.Address
		block     func() *BlockAddresses
		expected  error
	}{
		{
			name:     "Relay without blacklist accepts any block",
			block:    func() *BlockAddresses { return NewBlockAddresses(undecodable) },
			expected: nil,
		},
		{
			name:      "Unrelated blacklist",
			blacklist: []common.Address{common.HexToAddress("0x2222222222222222222222222222222222222222")},
			block:     func() *BlockAddresses { return NewBlockAddresses(block) },
			expected:  nil,
		},
		{
			name:      "Blacklisted sender",
			blacklist: []common.Address{sender},
			block:     func() *BlockAddresses { return NewBlockAddresses(block) },
			expected:  ErrBlacklisted,
		},
		{
			name:      "Blacklisted recipient",
			blacklist: []common.Address{recipient},
			block:     func() *BlockAddresses { return NewBlockAddresses(block) },
			expected:  ErrBlacklisted,
		},
		{
			name:      "Blacklisted fee recipient",
			blacklist: []common.Address{block.Payload.FeeRecipient},
			block:     func() *BlockAddresses { return NewBlockAddresses(block) },
			expected:  ErrBlacklisted,
		},
		{
			name:      "Undecodable block with a blacklist",
			blacklist: []common.Address{recipient},
			block:     func() *BlockAddresses { return NewBlockAddresses(undecodable) },
			expected:  ErrUndecodableTransaction,
		},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			err := BlacklistFilter{}.Check(blacklistEndpoint(t, tt.blacklist...), tt.block())
			if tt.expected == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.expected)
		})
	}
}

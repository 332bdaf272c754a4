package main

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/beacon/engine"
	ethcommon "github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/flashbots/mev-bidder/common"
	"github.com/flashbots/mev-bidder/types"
)

// newRandomBlock returns an empty candidate block with a random hash, enough for relays that
// do not simulate submissions
func newRandomBlock(slot uint64, valueEth float64) (*types.CandidateBlock, error) {
	value, err := common.FloatEthTo256Wei(valueEth)
	if err != nil {
		return nil, err
	}

	var blockHash, parentHash ethcommon.Hash
	if _, err := rand.Read(blockHash[:]); err != nil {
		return nil, err
	}
	if _, err := rand.Read(parentHash[:]); err != nil {
		return nil, err
	}

	return &types.CandidateBlock{
		Slot:  slot,
		Value: value,
		Payload: &engine.ExecutableData{
			ParentHash:    parentHash,
			BlockHash:     blockHash,
			LogsBloom:     make([]byte, 256),
			Number:        slot,
			GasLimit:      30_000_000,
			Timestamp:     uint64(common.NetworkMainnet.SlotStartTime(slot).Unix()),
			ExtraData:     []byte("mev-bidder test-cli"),
			BaseFeePerGas: big.NewInt(7),
			Transactions:  [][]byte{},
			Withdrawals:   []*ethtypes.Withdrawal{},
		},
	}, nil
}

func loadBlock(filePath string) (*types.CandidateBlock, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	block := new(types.CandidateBlock)
	if err := json.Unmarshal(data, block); err != nil {
		return nil, err
	}
	return block, block.Validate()
}

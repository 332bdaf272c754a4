package types

import (
	"errors"
	"fmt"

	"github.com/attestantio/go-eth2-client/spec/bellatrix"
	"github.com/attestantio/go-eth2-client/spec/capella"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/ethereum/go-ethereum/beacon/engine"
	"github.com/holiman/uint256"
)

const (
	MaxExtraDataBytes        = 32
	MaxWithdrawalsPerPayload = 16
	logsBloomLength          = 256
)

var (
	ErrExtraDataTooLong     = errors.New("extra data too long")
	ErrInvalidLogsBloom     = errors.New("invalid logs bloom length")
	ErrTooManyWithdrawals   = errors.New("too many withdrawals")
	ErrMissingBaseFee       = errors.New("missing base fee per gas")
	ErrBaseFeeOverflow      = errors.New("base fee per gas overflows uint256")
	ErrPayloadDerivation    = errors.New("could not derive execution payload")
	errNilExecutableData    = errors.New("nil executable data")
	errNilWithdrawalInBlock = errors.New("nil withdrawal")
)

// ExecutionPayloadFromExecutableData converts an engine API payload to the capella wire format relays expect.
// The result is shared read-only by every submission of the block, so it is built once per block.
func ExecutionPayloadFromExecutableData(data *engine.ExecutableData) (*capella.ExecutionPayload, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: %w", ErrPayloadDerivation, errNilExecutableData)
	}
	if len(data.ExtraData) > MaxExtraDataBytes {
		return nil, fmt.Errorf("%w: %w: %d bytes", ErrPayloadDerivation, ErrExtraDataTooLong, len(data.ExtraData))
	}
	if len(data.LogsBloom) != logsBloomLength {
		return nil, fmt.Errorf("%w: %w: %d bytes", ErrPayloadDerivation, ErrInvalidLogsBloom, len(data.LogsBloom))
	}
	if len(data.Withdrawals) > MaxWithdrawalsPerPayload {
		return nil, fmt.Errorf("%w: %w: %d", ErrPayloadDerivation, ErrTooManyWithdrawals, len(data.Withdrawals))
	}
	if data.BaseFeePerGas == nil {
		return nil, fmt.Errorf("%w: %w", ErrPayloadDerivation, ErrMissingBaseFee)
	}
	baseFee, overflow := uint256.FromBig(data.BaseFeePerGas)
	if overflow {
		return nil, fmt.Errorf("%w: %w", ErrPayloadDerivation, ErrBaseFeeOverflow)
	}

	transactions := make([]bellatrix.Transaction, len(data.Transactions))
	for i, tx := range data.Transactions {
		transactions[i] = bellatrix.Transaction(tx)
	}

	withdrawals := make([]*capella.Withdrawal, len(data.Withdrawals))
	for i, wd := range data.Withdrawals {
		if wd == nil {
			return nil, fmt.Errorf("%w: %w at index %d", ErrPayloadDerivation, errNilWithdrawalInBlock, i)
		}
		withdrawals[i] = &capella.Withdrawal{
			Index:          capella.WithdrawalIndex(wd.Index),
			ValidatorIndex: phase0.ValidatorIndex(wd.Validator),
			Address:        bellatrix.ExecutionAddress(wd.Address),
			Amount:         phase0.Gwei(wd.Amount),
		}
	}

	extraData := make([]byte, len(data.ExtraData))
	copy(extraData, data.ExtraData)

	payload := &capella.ExecutionPayload{
		ParentHash:    [32]byte(data.ParentHash),
		FeeRecipient:  [20]byte(data.FeeRecipient),
		StateRoot:     [32]byte(data.StateRoot),
		ReceiptsRoot:  [32]byte(data.ReceiptsRoot),
		PrevRandao:    [32]byte(data.Random),
		BlockNumber:   data.Number,
		GasLimit:      data.GasLimit,
		GasUsed:       data.GasUsed,
		Timestamp:     data.Timestamp,
		ExtraData:     extraData,
		BaseFeePerGas: U256ToLittleEndian(baseFee),
		BlockHash:     [32]byte(data.BlockHash),
		Transactions:  transactions,
		Withdrawals:   withdrawals,
	}
	copy(payload.LogsBloom[:], data.LogsBloom)
	return payload, nil
}

// U256ToLittleEndian returns the 32-byte little-endian encoding the SSZ payload uses for base fee
func U256ToLittleEndian(v *uint256.Int) [32]byte {
	b := v.Bytes32()
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return b
}

// Package types provides the wire and domain types shared by the bidder components.
package types

import (
	"errors"
	"time"

	builderApiCapella "github.com/attestantio/go-builder-client/api/capella"
	builderApiV1 "github.com/attestantio/go-builder-client/api/v1"
	"github.com/attestantio/go-eth2-client/spec/capella"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/ethereum/go-ethereum/beacon/engine"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrMissingPayload = errors.New("candidate block has no execution payload")
	ErrMissingValue   = errors.New("candidate block has no value")
)

// SignedBidSubmission is the message posted to a relay's block submission endpoint
type SignedBidSubmission = builderApiCapella.SubmitBlockRequest

// BuilderGetValidatorsResponseEntry is one element of a relay's validator registration feed
type BuilderGetValidatorsResponseEntry struct {
	Slot           uint64                                    `json:"slot,string"`
	ValidatorIndex uint64                                    `json:"validator_index,string"`
	Entry          *builderApiV1.SignedValidatorRegistration `json:"entry"`
}

// SendBlockStatus is the relay's verdict on a block submission
type SendBlockStatus struct {
	Code    uint64 `json:"code"`
	Message string `json:"message"`
}

// Accepted reports whether the relay took the submission
func (s *SendBlockStatus) Accepted() bool {
	return s != nil && s.Code >= 200 && s.Code < 300
}

// PayloadAttributes signals the start of building for a new slot
type PayloadAttributes struct {
	Slot                  uint64                `json:"slot,string"`
	HeadHash              common.Hash           `json:"head_hash"`
	Timestamp             uint64                `json:"timestamp,string"`
	PrevRandao            common.Hash           `json:"prev_randao"`
	SuggestedFeeRecipient common.Address        `json:"suggested_fee_recipient"`
	Withdrawals           []*capella.Withdrawal `json:"withdrawals"`
	GasLimit              uint64                `json:"gas_limit,string"`
}

// CandidateBlock is an executed block together with the value it pays the proposer
type CandidateBlock struct {
	Slot    uint64                 `json:"slot,string"`
	Value   *uint256.Int           `json:"value"`
	Payload *engine.ExecutableData `json:"execution_payload"`
}

// Hash returns the block hash, which identifies the candidate within a slot
func (b *CandidateBlock) Hash() phase0.Hash32 {
	return phase0.Hash32(b.Payload.BlockHash)
}

// ParentHash returns the hash of the block the candidate builds on
func (b *CandidateBlock) ParentHash() phase0.Hash32 {
	return phase0.Hash32(b.Payload.ParentHash)
}

// Validate checks the fields every consumer of a candidate dereferences
func (b *CandidateBlock) Validate() error {
	if b.Payload == nil {
		return ErrMissingPayload
	}
	if b.Value == nil {
		return ErrMissingValue
	}
	return nil
}

// BidRequest asks the dispatcher to submit block at value to every ready relay of slot.
// Queued submissions that have not started by Deadline are dropped; a zero Deadline never expires.
type BidRequest struct {
	Slot     uint64
	Block    *CandidateBlock
	Value    *uint256.Int
	Deadline time.Time
}

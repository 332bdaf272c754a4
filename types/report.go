package types

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// ErrorKind classifies why a submission did not reach, or was not taken by, a relay
type ErrorKind string

const (
	ErrorKindNone      ErrorKind = ""
	ErrorKindTransport ErrorKind = "transport"
	ErrorKindDecode    ErrorKind = "decode"
	ErrorKindSigning   ErrorKind = "signing"
	ErrorKindPayload   ErrorKind = "payload"
	ErrorKindFiltered  ErrorKind = "filtered"
	ErrorKindExpired   ErrorKind = "expired"
	ErrorKindNoRelays  ErrorKind = "no_relays"
	ErrorKindCanceled  ErrorKind = "canceled"
)

// RelayResult is the outcome of one submission to one relay
type RelayResult struct {
	Relay    string
	Group    string
	Status   *SendBlockStatus
	Err      error
	Kind     ErrorKind
	Duration time.Duration
}

// Accepted reports whether the relay took the submission
func (r *RelayResult) Accepted() bool {
	return r.Err == nil && r.Status.Accepted()
}

// Rejected reports whether the relay answered with a well-formed negative status
func (r *RelayResult) Rejected() bool {
	return r.Err == nil && r.Status != nil && !r.Status.Accepted()
}

type relayResultJSON struct {
	Relay      string           `json:"relay"`
	Group      string           `json:"group,omitempty"`
	Status     *SendBlockStatus `json:"status,omitempty"`
	Error      string           `json:"error,omitempty"`
	Kind       ErrorKind        `json:"kind,omitempty"`
	DurationMs int64            `json:"duration_ms"`
}

func (r RelayResult) MarshalJSON() ([]byte, error) {
	out := relayResultJSON{
		Relay:      r.Relay,
		Group:      r.Group,
		Status:     r.Status,
		Kind:       r.Kind,
		DurationMs: r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

func (r *RelayResult) UnmarshalJSON(input []byte) error {
	var in relayResultJSON
	if err := json.Unmarshal(input, &in); err != nil {
		return err
	}
	*r = RelayResult{
		Relay:    in.Relay,
		Group:    in.Group,
		Status:   in.Status,
		Kind:     in.Kind,
		Duration: time.Duration(in.DurationMs) * time.Millisecond,
	}
	if in.Error != "" {
		r.Err = errors.New(in.Error)
	}
	return nil
}

// DispatchReport collects the per-relay outcomes of one bid submitted to every ready relay
type DispatchReport struct {
	ID        uuid.UUID     `json:"id"`
	Slot      uint64        `json:"slot,string"`
	BlockHash common.Hash   `json:"block_hash"`
	Value     *uint256.Int  `json:"value"`
	SentAt    time.Time     `json:"sent_at"`
	Results   []RelayResult `json:"results"`
}

// Successes returns the number of relays that accepted the submission
func (r *DispatchReport) Successes() int {
	n := 0
	for i := range r.Results {
		if r.Results[i].Accepted() {
			n++
		}
	}
	return n
}

// Rejections returns the number of relays that answered with a negative status
func (r *DispatchReport) Rejections() int {
	n := 0
	for i := range r.Results {
		if r.Results[i].Rejected() {
			n++
		}
	}
	return n
}

// Failures returns the number of relays the submission did not reach
func (r *DispatchReport) Failures() int {
	n := 0
	for i := range r.Results {
		if r.Results[i].Err != nil {
			n++
		}
	}
	return n
}

// FailureKind returns the kind shared by every failed result, or ErrorKindTransport when they differ.
// It returns ErrorKindNone if nothing failed.
func (r *DispatchReport) FailureKind() ErrorKind {
	kind := ErrorKindNone
	for i := range r.Results {
		if r.Results[i].Err == nil {
			continue
		}
		switch {
		case kind == ErrorKindNone:
			kind = r.Results[i].Kind
		case kind != r.Results[i].Kind:
			return ErrorKindTransport
		}
	}
	return kind
}

// DispatchError is returned by a dispatcher that could not queue a bid for any relay
type DispatchError struct {
	Kind ErrorKind
	Err  error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// KindOf classifies an error returned by a dispatcher
func KindOf(err error) ErrorKind {
	var dispatchErr *DispatchError
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.As(err, &dispatchErr):
		return dispatchErr.Kind
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindCanceled
	default:
		return ErrorKindTransport
	}
}

package auction

import (
	"fmt"

	"github.com/flashbots/mev-bidder/types"
)

// StatusKind is the submission state of a candidate block
type StatusKind uint8

const (
	StatusNeverSent StatusKind = iota
	StatusSealed
	StatusWinning
	StatusLosing
	StatusError
)

func (k StatusKind) String() string {
	switch k {
	case StatusNeverSent:
		return "never_sent"
	case StatusSealed:
		return "sealed"
	case StatusWinning:
		return "winning"
	case StatusLosing:
		return "losing"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Status is the submission state of a candidate block. Err is set only for StatusError.
type Status struct {
	Kind StatusKind
	Err  types.ErrorKind
}

// ErrorStatus returns the error status of kind
func ErrorStatus(kind types.ErrorKind) Status {
	return Status{Kind: StatusError, Err: kind}
}

// statusFromReport maps the relays' answers to a sealed submission
func statusFromReport(report *types.DispatchReport) Status {
	switch {
	case report == nil:
		return ErrorStatus(types.ErrorKindCanceled)
	case report.Successes() > 0:
		return Status{Kind: StatusWinning}
	case report.Rejections() > 0:
		return Status{Kind: StatusLosing}
	default:
		return ErrorStatus(report.FailureKind())
	}
}

func (s Status) String() string {
	if s.Kind == StatusError {
		return fmt.Sprintf("error(%s)", s.Err)
	}
	return s.Kind.String()
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

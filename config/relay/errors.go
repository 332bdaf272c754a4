package relay

import (
	"errors"
	"fmt"
)

// Error is a configuration error. It is fatal at startup.
type Error struct {
	Cause   error
	Message string
}

func (e Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e Error) Unwrap() error {
	return e.Cause
}

var (
	ErrNoRelays                = errors.New("no relays configured")
	ErrInvalidRelayURL         = errors.New("invalid relay url")
	ErrDuplicateRelay          = errors.New("duplicate relay url")
	ErrAliasNotFound           = errors.New("alias doesn't match any existing endpoint URL")
	ErrReadConfigFile          = errors.New("failed to read the relay config file")
	ErrParseConfigFile         = errors.New("failed to parse the relay config JSON")
	ErrReadBlacklistFile       = errors.New("failed to read the blacklist file")
	ErrParseBlacklistFile      = errors.New("failed to parse the blacklist JSON")
	ErrInvalidBlacklistAddress = errors.New("invalid blacklist address")
)

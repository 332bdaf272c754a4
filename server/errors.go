package server

import "errors"

var (
	ErrNoReadyRelays        = errors.New("no ready relays for slot")
	ErrStaleSlot            = errors.New("bid is for a past slot")
	ErrNothingQueued        = errors.New("no relay accepted the submission for delivery")
	ErrSubmissionExpired    = errors.New("submission window closed before the relay was reached")
	ErrBlacklisted          = errors.New("block touches a blacklisted address")
	ErrMissingSecretKey     = errors.New("builder secret key is required")
	ErrNilPayloadAttributes = errors.New("payload attributes are required")
	ErrNilBid               = errors.New("bid value is required")

	errServerAlreadyRunning = errors.New("server already running")
)

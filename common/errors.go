package common

import "errors"

var (
	// ErrInvalidForkVersion is returned if a genesis fork version is not 4 hex-encoded bytes
	ErrInvalidForkVersion = errors.New("invalid fork version")

	// ErrNegativeAmount is returned when converting a negative eth amount
	ErrNegativeAmount = errors.New("amount cannot be negative")
)

// Package signing produces builder-domain BLS signatures over bid traces.
package signing

import (
	"errors"
	"fmt"
	"strings"

	builderApiV1 "github.com/attestantio/go-builder-client/api/v1"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/flashbots/go-boost-utils/bls"
	"github.com/flashbots/go-boost-utils/ssz"
	"github.com/flashbots/mev-bidder/common"
)

// ErrorKind tells apart the ways signing can fail
type ErrorKind int

const (
	ErrorKindSerialization ErrorKind = iota
	ErrorKindKey
)

var (
	// ErrSigning matches every signing failure
	ErrSigning = errors.New("signing failed")

	// ErrSerialization matches failures to hash the message under its SSZ schema
	ErrSerialization = errors.New("message serialization failed")

	// ErrMissingSecretKey is returned when no builder key is supplied
	ErrMissingSecretKey = errors.New("missing builder secret key")

	ErrInvalidSecretKey = errors.New("invalid builder secret key")

	errNilMessage = errors.New("nil bid trace")
	errNilValue   = errors.New("bid trace has no value")
)

// Error is returned by Signer.Sign
type Error struct {
	Kind  ErrorKind
	Cause error
}

func (e *Error) Error() string {
	if e.Kind == ErrorKindKey {
		return fmt.Sprintf("signing failed: %v", e.Cause)
	}
	return fmt.Sprintf("signing failed: serialization: %v", e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrSigning:
		return true
	case ErrSerialization:
		return e.Kind == ErrorKindSerialization
	}
	return false
}

// BuilderDomain computes the builder signing domain for network.
// Builder messages are signed against the genesis fork version and a zero genesis validators root.
func BuilderDomain(network common.Network) (phase0.Domain, error) {
	forkVersion, err := network.GenesisForkVersion()
	if err != nil {
		return phase0.Domain{}, err
	}
	return ssz.ComputeDomain(ssz.DomainTypeAppBuilder, forkVersion, phase0.Root{}), nil
}

// Signer signs bid traces under a fixed builder domain. It holds no key material.
type Signer struct {
	domain phase0.Domain
}

// NewSigner returns a signer for network
func NewSigner(network common.Network) (*Signer, error) {
	domain, err := BuilderDomain(network)
	if err != nil {
		return nil, err
	}
	return &Signer{domain: domain}, nil
}

// Domain returns the builder domain messages are signed under
func (s *Signer) Domain() phase0.Domain {
	return s.domain
}

// Sign returns the BLS signature of msg's hash tree root under the builder domain
func (s *Signer) Sign(msg *builderApiV1.BidTrace, sk *bls.SecretKey) (phase0.BLSSignature, error) {
	if sk == nil {
		return phase0.BLSSignature{}, &Error{Kind: ErrorKindKey, Cause: ErrMissingSecretKey}
	}
	if msg == nil {
		return phase0.BLSSignature{}, &Error{Kind: ErrorKindSerialization, Cause: errNilMessage}
	}
	if msg.Value == nil {
		return phase0.BLSSignature{}, &Error{Kind: ErrorKindSerialization, Cause: errNilValue}
	}

	signature, err := ssz.SignMessage(msg, s.domain, sk)
	if err != nil {
		return phase0.BLSSignature{}, &Error{Kind: ErrorKindSerialization, Cause: err}
	}
	return signature, nil
}

// Verify checks signature over msg against pubkey
func (s *Signer) Verify(msg *builderApiV1.BidTrace, pubkey phase0.BLSPubKey, signature phase0.BLSSignature) (bool, error) {
	return ssz.VerifySignature(msg, s.domain, pubkey[:], signature[:])
}

// SecretKeyFromHex decodes a 0x-prefixed builder secret key and derives its public key
func SecretKeyFromHex(skHex string) (*bls.SecretKey, phase0.BLSPubKey, error) {
	var pubkey phase0.BLSPubKey
	skHex = strings.TrimSpace(skHex)
	if skHex == "" {
		return nil, pubkey, ErrMissingSecretKey
	}
	skBytes, err := hexutil.Decode(skHex)
	if err != nil {
		return nil, pubkey, fmt.Errorf("%w: %w", ErrInvalidSecretKey, err)
	}
	sk, err := bls.SecretKeyFromBytes(skBytes)
	if err != nil {
		return nil, pubkey, fmt.Errorf("%w: %w", ErrInvalidSecretKey, err)
	}
	pk, err := bls.PublicKeyFromSecretKey(sk)
	if err != nil {
		return nil, pubkey, fmt.Errorf("%w: %w", ErrInvalidSecretKey, err)
	}
	copy(pubkey[:], bls.PublicKeyToBytes(pk))
	return sk, pubkey, nil
}

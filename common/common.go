package common

import (
	"errors"
	"math/big"
	"time"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

const (
	GenesisForkVersionMainnet = "0x00000000"
	GenesisForkVersionSepolia = "0x90000069"
	GenesisForkVersionHolesky = "0x01017000"

	GenesisTimeMainnet = 1606824023
	GenesisTimeSepolia = 1655733600
	GenesisTimeHolesky = 1695902400

	SlotTimeSecMainnet = 12
)

var (
	NetworkMainnet = Network{Name: "mainnet", GenesisForkVersionHex: GenesisForkVersionMainnet, GenesisTime: GenesisTimeMainnet}
	NetworkSepolia = Network{Name: "sepolia", GenesisForkVersionHex: GenesisForkVersionSepolia, GenesisTime: GenesisTimeSepolia}
	NetworkHolesky = Network{Name: "holesky", GenesisForkVersionHex: GenesisForkVersionHolesky, GenesisTime: GenesisTimeHolesky}
)

// Network is the consensus network context the builder signs and times its bids for.
type Network struct {
	Name                  string
	GenesisForkVersionHex string
	GenesisTime           uint64
}

// GenesisForkVersion decodes the 4-byte genesis fork version.
func (n Network) GenesisForkVersion() (phase0.Version, error) {
	var version phase0.Version
	b, err := hexutil.Decode(n.GenesisForkVersionHex)
	if err != nil || len(b) != 4 {
		return version, ErrInvalidForkVersion
	}
	copy(version[:], b)
	return version, nil
}

// SlotStartTime returns the wall-clock start of the given slot.
func (n Network) SlotStartTime(slot uint64) time.Time {
	return time.Unix(int64(n.GenesisTime+slot*SlotTimeSecMainnet), 0)
}

// SlotAt returns the slot in progress at t. Times before genesis map to slot 0.
func (n Network) SlotAt(t time.Time) uint64 {
	sec := t.Unix()
	if sec < int64(n.GenesisTime) {
		return 0
	}
	return (uint64(sec) - n.GenesisTime) / SlotTimeSecMainnet
}

// FloatEthTo256Wei converts a float (precision 10) denominated in eth to a uint256 denominated in wei
func FloatEthTo256Wei(val float64) (*uint256.Int, error) {
	if val < 0 {
		return nil, ErrNegativeAmount
	}
	ethFloat := new(big.Float)
	weiFloat := new(big.Float)
	weiFloatLessPrecise := new(big.Float)
	weiInt := new(big.Int)

	ethFloat.SetFloat64(val)
	weiFloat.Mul(ethFloat, big.NewFloat(1e18))
	weiFloatLessPrecise.SetString(weiFloat.String())
	weiFloatLessPrecise.Int(weiInt)

	wei, overflow := uint256.FromBig(weiInt)
	if overflow {
		return nil, errors.New("amount overflows uint256")
	}
	return wei, nil
}

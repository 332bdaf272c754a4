package mock

import (
	"github.com/attestantio/go-eth2-client/spec/bellatrix"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/go-boost-utils/utils"
	"github.com/sirupsen/logrus"
)

// TestLog is used to log information in the test methods
var TestLog = logrus.NewEntry(logrus.New())

// HexToHash converts a hexadecimal string to an Ethereum hash
func HexToHash(s string) (ret phase0.Hash32) {
	ret, err := utils.HexToHash(s)
	if err != nil {
		TestLog.Error(err, " _HexToHash: ", s)
		panic(err)
	}
	return ret
}

// HexToAddress converts a hexadecimal string to an Ethereum address
func HexToAddress(s string) (ret bellatrix.ExecutionAddress) {
	ret, err := utils.HexToAddress(s)
	if err != nil {
		TestLog.Error(err, " _HexToAddress: ", s)
		panic(err)
	}
	return ret
}

// HexToPubkey converts a hexadecimal string to a BLS Public Key
func HexToPubkey(s string) (ret phase0.BLSPubKey) {
	ret, err := utils.HexToPubkey(s)
	if err != nil {
		TestLog.Error(err, " _HexToPubkey: ", s)
		panic(err)
	}
	return
}

// Well-known proposer identities used across tests
var (
	ProposerPubkeyA = HexToPubkey("0x8a1d7b8dd64e0aafe7ea7b6c95065c9364cf99d38470c12ee807d55f7de1529ad29ce2c422e0b65e3d5a05c02caca249")
	ProposerPubkeyB = HexToPubkey("0xb5246e299aeb782fbc7c91b41b3284245b1ed5206134b0028b81dfb974e5900616c67847c2354479934fc4bb75519ee1")
	ProposerPubkeyC = HexToPubkey("0xa3a32b0f8b4ddb83f1a0a853d81dd725dfe577d4f4c3db8ece52ce2b026eca84815c1a7e8e92a4de3d755733bf7e4a9b")

	FeeRecipientA = HexToAddress("0xdb65fEd33dc262Fe09D9a2Ba8F80b329BA25f941")
	FeeRecipientB = HexToAddress("0x95222290dd7278aa3ddd389cc1e1d165cc4bafe5")
	FeeRecipientC = HexToAddress("0x388C818CA8B9251b393131C08a736A67ccB19297")
)

// ToCommonAddress converts an execution address to the go-ethereum type
func ToCommonAddress(a bellatrix.ExecutionAddress) common.Address {
	return common.Address(a)
}

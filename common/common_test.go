package common

import (
	"testing"
	"time"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/stretchr/testify/require"
)

func TestGenesisForkVersion(t *testing.T) {
	testCases := []struct {
		name     string
		network  Network
		expected phase0.Version
		err      error
	}{
		{name: "mainnet", network: NetworkMainnet, expected: phase0.Version{0x00, 0x00, 0x00, 0x00}},
		{name: "sepolia", network: NetworkSepolia, expected: phase0.Version{0x90, 0x00, 0x00, 0x69}},
		{name: "holesky", network: NetworkHolesky, expected: phase0.Version{0x01, 0x01, 0x70, 0x00}},
		{name: "too short", network: Network{GenesisForkVersionHex: "0x0000"}, err: ErrInvalidForkVersion},
		{name: "not hex", network: Network{GenesisForkVersionHex: "mainnet"}, err: ErrInvalidForkVersion},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			version, err := tt.network.GenesisForkVersion()
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expected, version)
		})
	}
}

func TestSlotClock(t *testing.T) {
	start := NetworkMainnet.SlotStartTime(100)
	require.Equal(t, int64(GenesisTimeMainnet+1200), start.Unix())
	require.Equal(t, uint64(100), NetworkMainnet.SlotAt(start))
	require.Equal(t, uint64(100), NetworkMainnet.SlotAt(start.Add(11*time.Second)))
	require.Equal(t, uint64(101), NetworkMainnet.SlotAt(start.Add(12*time.Second)))
	require.Equal(t, uint64(0), NetworkMainnet.SlotAt(time.Unix(0, 0)))
}

func TestFloatEthTo256Wei(t *testing.T) {
	wei, err := FloatEthTo256Wei(0.01)
	require.NoError(t, err)
	require.Equal(t, "10000000000000000", wei.Dec())

	wei, err = FloatEthTo256Wei(0)
	require.NoError(t, err)
	require.True(t, wei.IsZero())

	_, err = FloatEthTo256Wei(-1)
	require.ErrorIs(t, err, ErrNegativeAmount)
}

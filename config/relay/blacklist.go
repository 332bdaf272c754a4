package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/ethereum/go-ethereum/common"
)

// blacklistAddress decodes a hex string or an array of 20 byte values
type blacklistAddress common.Address

func (a *blacklistAddress) UnmarshalJSON(input []byte) error {
	trimmed := bytes.TrimSpace(input)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return (*common.Address)(a).UnmarshalJSON(input)
	}

	var values []int
	if err := json.Unmarshal(trimmed, &values); err != nil {
		return err
	}
	if len(values) != common.AddressLength {
		return fmt.Errorf("%w: %d bytes", ErrInvalidBlacklistAddress, len(values))
	}
	for i, v := range values {
		if v < 0 || v > math.MaxUint8 {
			return fmt.Errorf("%w: byte %d out of range: %d", ErrInvalidBlacklistAddress, i, v)
		}
		a[i] = byte(v)
	}
	return nil
}

// LoadBlacklist reads a JSON array of addresses. Each address is either a hex string
// or an array of 20 byte values.
func LoadBlacklist(filePath string) ([]common.Address, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, Error{Cause: fmt.Errorf("%w: %w", ErrReadBlacklistFile, err), Message: filePath}
	}

	var entries []blacklistAddress
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, Error{Cause: fmt.Errorf("%w: %w", ErrParseBlacklistFile, err), Message: filePath}
	}
	addresses := make([]common.Address, len(entries))
	for i, entry := range entries {
		addresses[i] = common.Address(entry)
	}
	return addresses, nil
}

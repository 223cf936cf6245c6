package market

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core/asset"
)

// Pebble key schema
// Pairs are keyed by their canonical (lower, higher) token ids; everything
// else is keyed by the LP token id that identifies the pool.

const (
	prefixPair     = "pair:" // canonical token pair -> LP token id
	prefixRewards  = "rwd:"  // LP token id -> backing token pair
	prefixReserves = "res:"  // LP token id -> reserve pair
	prefixTwap     = "twp:"  // LP token id -> price accumulator
)

// pairStoreKey returns the key for a canonical pair registration
// Format: "pair:{lower}:{higher}"
func pairStoreKey(key pairKey) []byte {
	return []byte(fmt.Sprintf("%s%020d:%020d", prefixPair, key.lower, key.higher))
}

func rewardsStoreKey(lpt asset.ID) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixRewards, lpt))
}

func reservesStoreKey(lpt asset.ID) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixReserves, lpt))
}

func twapStoreKey(lpt asset.ID) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixTwap, lpt))
}

// parsePairKey is the inverse of pairStoreKey
func parsePairKey(key []byte) (pairKey, error) {
	parts := strings.Split(strings.TrimPrefix(string(key), prefixPair), ":")
	if len(parts) != 2 {
		return pairKey{}, fmt.Errorf("malformed pair key: %s", key)
	}
	lower, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return pairKey{}, fmt.Errorf("malformed pair key %s: %w", key, err)
	}
	higher, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return pairKey{}, fmt.Errorf("malformed pair key %s: %w", key, err)
	}
	return pairKey{lower: asset.ID(lower), higher: asset.ID(higher)}, nil
}

// parseIDSuffix extracts the LP token id from a "{prefix}{id}" key
func parseIDSuffix(key []byte, prefix string) (asset.ID, error) {
	raw, err := strconv.ParseUint(strings.TrimPrefix(string(key), prefix), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed key %s: %w", key, err)
	}
	return asset.ID(raw), nil
}

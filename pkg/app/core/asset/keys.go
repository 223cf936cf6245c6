package asset

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema
// Design principles:
// 1. Prefix-based for range scans (all balances of an asset)
// 2. Zero-padded numeric ids for lexicographic ordering
// 3. One key per (asset, account) balance cell

const (
	prefixBalance = "bal:" // balance cell
	prefixSupply  = "sup:" // total supply per asset
	keyNextAsset  = "nxt"  // next asset id to issue
)

// balanceStoreKey returns the key for one balance cell
// Format: "bal:{assetID}:{address}"
// Example: "bal:00000000000000000003:0x742d35Cc..."
func balanceStoreKey(id ID, addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixBalance, id, addr.Hex()))
}

// balancePrefix returns the prefix for all balance cells
func balancePrefix() []byte {
	return []byte(prefixBalance)
}

// supplyStoreKey returns the key for an asset's total supply
// Format: "sup:{assetID}"
func supplyStoreKey(id ID) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixSupply, id))
}

// supplyPrefix returns the prefix for all supply records
func supplyPrefix() []byte {
	return []byte(prefixSupply)
}

// nextAssetKey returns the key holding the id counter
func nextAssetKey() []byte {
	return []byte(keyNextAsset)
}

// parseBalanceKey is the inverse of balanceStoreKey, used when rebuilding
// the in-memory maps from a prefix scan
func parseBalanceKey(key []byte) (ID, common.Address, error) {
	rest := strings.TrimPrefix(string(key), prefixBalance)
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return 0, common.Address{}, fmt.Errorf("malformed balance key: %s", key)
	}
	raw, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, common.Address{}, fmt.Errorf("malformed asset id in key %s: %w", key, err)
	}
	if !common.IsHexAddress(parts[1]) {
		return 0, common.Address{}, fmt.Errorf("malformed address in key %s", key)
	}
	return ID(raw), common.HexToAddress(parts[1]), nil
}

// parseSupplyKey is the inverse of supplyStoreKey
func parseSupplyKey(key []byte) (ID, error) {
	raw, err := strconv.ParseUint(strings.TrimPrefix(string(key), prefixSupply), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed supply key %s: %w", key, err)
	}
	return ID(raw), nil
}

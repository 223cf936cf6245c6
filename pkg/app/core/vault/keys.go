package vault

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core/asset"
)

// Pebble key schema
// Vaults are keyed by (owner, collateral asset); positions by collateral
// asset alone.

const (
	prefixVault    = "cdp:" // open vault record
	prefixPosition = "pos:" // risk parameters per collateral asset
)

// vaultStoreKey returns the key for one vault
// Format: "cdp:{address}:{collateralID}"
func vaultStoreKey(owner common.Address, collateral asset.ID) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixVault, owner.Hex(), collateral))
}

func positionStoreKey(collateral asset.ID) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixPosition, collateral))
}

// parseVaultKey is the inverse of vaultStoreKey
func parseVaultKey(key []byte) (common.Address, asset.ID, error) {
	parts := strings.SplitN(strings.TrimPrefix(string(key), prefixVault), ":", 2)
	if len(parts) != 2 {
		return common.Address{}, 0, fmt.Errorf("malformed vault key: %s", key)
	}
	if !common.IsHexAddress(parts[0]) {
		return common.Address{}, 0, fmt.Errorf("malformed address in vault key %s", key)
	}
	raw, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return common.Address{}, 0, fmt.Errorf("malformed collateral id in vault key %s: %w", key, err)
	}
	return common.HexToAddress(parts[0]), asset.ID(raw), nil
}

// parsePositionKey is the inverse of positionStoreKey
func parsePositionKey(key []byte) (asset.ID, error) {
	raw, err := strconv.ParseUint(strings.TrimPrefix(string(key), prefixPosition), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed position key %s: %w", key, err)
	}
	return asset.ID(raw), nil
}

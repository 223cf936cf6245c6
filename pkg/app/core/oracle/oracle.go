// Package oracle provides the price feed consumed by the vault engine for
// collateralization checks. The engine only sees the Oracle interface; the
// node wires in a FeedOracle whose values are reported through the
// admin-gated API (the governance bridge proper is out of scope).
package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core/asset"
	"github.com/standardweb3/standard-substrate-sub001/pkg/storage"
)

// ErrPriceUnavailable is returned when no provider has reported a value for
// the requested asset.
var ErrPriceUnavailable = errors.New("no price reported for asset")

// Oracle reports the current price of an asset, denominated in the native
// currency's smallest unit.
type Oracle interface {
	Price(id asset.ID) (asset.Balance, error)
}

const prefixPrice = "px:"

func priceStoreKey(id asset.ID) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixPrice, id))
}

func parsePriceKey(key []byte) (asset.ID, error) {
	raw, err := strconv.ParseUint(strings.TrimPrefix(string(key), prefixPrice), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed price key %s: %w", key, err)
	}
	return asset.ID(raw), nil
}

// FeedOracle is a provider-fed oracle: prices are pushed in via SetPrice and
// served until overwritten. Durable across restarts.
type FeedOracle struct {
	mu     sync.RWMutex
	prices map[asset.ID]asset.Balance

	store *storage.Store
	log   *zap.Logger
}

// NewFeedOracle creates a feed oracle, restoring previously reported prices
// from the store.
func NewFeedOracle(store *storage.Store, logger *zap.Logger) (*FeedOracle, error) {
	o := &FeedOracle{
		prices: make(map[asset.ID]asset.Balance),
		store:  store,
		log:    logger,
	}

	err := store.ScanPrefix([]byte(prefixPrice), func(key, value []byte) error {
		id, err := parsePriceKey(key)
		if err != nil {
			return err
		}
		var price asset.Balance
		if err := json.Unmarshal(value, &price); err != nil {
			return err
		}
		o.prices[id] = price
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load oracle state: %w", err)
	}
	return o, nil
}

// Price returns the last reported price for id.
func (o *FeedOracle) Price(id asset.ID) (asset.Balance, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	price, ok := o.prices[id]
	if !ok {
		return 0, fmt.Errorf("%w: asset %d", ErrPriceUnavailable, id)
	}
	return price, nil
}

// SetPrice records a reported price for id. A zero price is a valid report
// (it marks the asset worthless, making dependent vaults liquidatable).
func (o *FeedOracle) SetPrice(id asset.ID, price asset.Balance) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.store.PutJSON(priceStoreKey(id), price); err != nil {
		return err
	}
	o.prices[id] = price
	o.log.Info("price reported",
		zap.Uint64("asset", uint64(id)),
		zap.Uint64("price", price))
	return nil
}

// Prices returns a snapshot of all reported prices.
func (o *FeedOracle) Prices() map[asset.ID]asset.Balance {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make(map[asset.ID]asset.Balance, len(o.prices))
	for id, p := range o.prices {
		out[id] = p
	}
	return out
}

var _ Oracle = (*FeedOracle)(nil)

// Package core wires the engine stack: one Pebble store shared by the asset
// ledger, price oracle, event journal, market engine, and vault engine.
package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/standardweb3/standard-substrate-sub001/params"
	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core/asset"
	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core/events"
	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core/market"
	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core/oracle"
	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core/vault"
	"github.com/standardweb3/standard-substrate-sub001/pkg/storage"
	"github.com/standardweb3/standard-substrate-sub001/pkg/util"
)

// Core owns the full engine stack and the store backing it.
type Core struct {
	Ledger  *asset.Ledger
	Oracle  *oracle.FeedOracle
	Journal *events.Journal
	Market  *market.Engine
	Vault   *vault.Engine

	Admin common.Address

	store *storage.Store
	log   *zap.Logger
}

// New opens the data directory and constructs every engine over it,
// restoring any prior state.
func New(cfg params.Config, clock util.Clock, logger *zap.Logger) (*Core, error) {
	store, err := storage.Open(cfg.Node.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", cfg.Node.DataDir, err)
	}

	ledger, err := asset.NewLedger(store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	feed, err := oracle.NewFeedOracle(store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	journal, err := events.NewJournal(store, clock, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	mkt, err := market.NewEngine(ledger, journal, store, clock, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	admin := common.HexToAddress(cfg.Chain.AdminAddress)
	vlt, err := vault.NewEngine(ledger, feed, mkt, journal, store, asset.ID(cfg.Chain.BorrowAsset), admin, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	logger.Info("core initialized",
		zap.String("data_dir", cfg.Node.DataDir),
		zap.Uint64("borrow_asset", uint64(cfg.Chain.BorrowAsset)),
		zap.String("admin", admin.Hex()))

	return &Core{
		Ledger:  ledger,
		Oracle:  feed,
		Journal: journal,
		Market:  mkt,
		Vault:   vlt,
		Admin:   admin,
		store:   store,
		log:     logger,
	}, nil
}

// Close releases the underlying store.
func (c *Core) Close() error {
	return c.store.Close()
}

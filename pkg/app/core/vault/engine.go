// Package vault implements the collateralized-debt-position engine: the
// position (risk parameter) registry, the vault lifecycle (generate,
// liquidate, close), and the collateralization check. Borrowed funds are the
// system's stable asset, minted against oracle-priced collateral held in
// system custody; undercollateralized vaults are liquidated into the AMM
// pool pairing the borrow asset with the collateral.
package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core/asset"
	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core/events"
	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core/market"
	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core/oracle"
	"github.com/standardweb3/standard-substrate-sub001/pkg/numeric"
	"github.com/standardweb3/standard-substrate-sub001/pkg/storage"
)

var (
	ErrCollateralNotSupported = errors.New("no position registered for collateral")
	ErrVaultDoesNotExist      = errors.New("vault does not exist")
	ErrInvalidCDP             = errors.New("request exceeds max collateralization rate")
	ErrUnavailable            = errors.New("vault is not liquidatable")
	ErrMarketDoesNotExist     = errors.New("no market pairs borrow asset with collateral")
	ErrAddMoreCollateral      = errors.New("vault is undercollateralized, add collateral before closing")
	ErrBadOrigin              = errors.New("operation requires the root origin")
	ErrInvalidPosition        = errors.New("invalid position parameters")
)

// Position holds the governance-set risk parameters of a collateral asset.
// A vault cannot be opened for a collateral with no registered Position.
type Position struct {
	LiquidationFee           numeric.Ratio `json:"liquidationFee"`
	MaxCollateralizationRate numeric.Ratio `json:"maxCollateralizationRate"`
	StabilityFee             numeric.Ratio `json:"stabilityFee"`
}

// CDP is one open vault: collateral deposited and borrow asset issued
// against it. At most one vault exists per (owner, collateral asset);
// repeated generates accumulate into it.
type CDP struct {
	Collateral asset.Balance `json:"collateral"`
	Borrowed   asset.Balance `json:"borrowed"`
}

// VaultInfo is a query snapshot of one vault.
type VaultInfo struct {
	Owner      common.Address `json:"owner"`
	Collateral asset.ID       `json:"collateralAsset"`
	Deposited  asset.Balance  `json:"deposited"`
	Borrowed   asset.Balance  `json:"borrowed"`
}

type vaultKey struct {
	Owner      common.Address
	Collateral asset.ID
}

// Engine is the CDP state machine. Like the market engine, every operation
// validates completely before its first mutation, runs under the engine
// mutex end to end, and commits its ledger, record, and journal writes
// through one batch before touching the in-memory maps.
type Engine struct {
	mu        sync.RWMutex
	positions map[asset.ID]Position
	vaults    map[vaultKey]CDP

	borrowAsset asset.ID
	admin       common.Address

	ledger  *asset.Ledger
	oracle  oracle.Oracle
	market  *market.Engine
	journal *events.Journal
	store   *storage.Store
	log     *zap.Logger
}

// NewEngine creates a vault engine, restoring vaults and positions from the
// store. borrowAsset is the system stable asset minted on generate; admin is
// the root origin allowed to call SetPosition.
func NewEngine(ledger *asset.Ledger, orcl oracle.Oracle, mkt *market.Engine, journal *events.Journal, store *storage.Store, borrowAsset asset.ID, admin common.Address, logger *zap.Logger) (*Engine, error) {
	e := &Engine{
		positions:   make(map[asset.ID]Position),
		vaults:      make(map[vaultKey]CDP),
		borrowAsset: borrowAsset,
		admin:       admin,
		ledger:      ledger,
		oracle:      orcl,
		market:      mkt,
		journal:     journal,
		store:       store,
		log:         logger,
	}

	if err := e.load(); err != nil {
		return nil, fmt.Errorf("failed to load vault state: %w", err)
	}
	return e, nil
}

func (e *Engine) load() error {
	err := e.store.ScanPrefix([]byte(prefixPosition), func(key, value []byte) error {
		id, err := parsePositionKey(key)
		if err != nil {
			return err
		}
		var pos Position
		if err := json.Unmarshal(value, &pos); err != nil {
			return err
		}
		e.positions[id] = pos
		return nil
	})
	if err != nil {
		return err
	}

	err = e.store.ScanPrefix([]byte(prefixVault), func(key, value []byte) error {
		owner, id, err := parseVaultKey(key)
		if err != nil {
			return err
		}
		var cdp CDP
		if err := json.Unmarshal(value, &cdp); err != nil {
			return err
		}
		e.vaults[vaultKey{Owner: owner, Collateral: id}] = cdp
		return nil
	})
	if err != nil {
		return err
	}

	if len(e.vaults) > 0 || len(e.positions) > 0 {
		e.log.Info("vault state loaded",
			zap.Int("vaults", len(e.vaults)),
			zap.Int("positions", len(e.positions)))
	}
	return nil
}

// BorrowAsset returns the system stable asset id this engine issues.
func (e *Engine) BorrowAsset() asset.ID {
	return e.borrowAsset
}

// isValid performs the collateralization check with the given prices and
// cumulative totals, entirely in 256-bit arithmetic:
//
//	collateral_value = collateral_price * total_collateral
//	request_value    = borrow_price * total_borrowed
//	max_borrowable   = collateral_value / rate.Den * rate.Num
//	valid           <=> request_value < max_borrowable
func isValid(pos Position, collateralPrice, borrowPrice asset.Balance, totalCollateral, totalBorrowed asset.Balance) (bool, error) {
	collateralValue := numeric.Mul(collateralPrice, totalCollateral)
	requestValue := numeric.Mul(borrowPrice, totalBorrowed)

	maxBorrowable, err := pos.MaxCollateralizationRate.ScaleWide(collateralValue)
	if err != nil {
		return false, fmt.Errorf("collateralization check: %w", err)
	}
	return requestValue.Lt(maxBorrowable), nil
}

// Generate opens a vault or adds to an existing one: it pulls
// collateralAmount into system custody, mints requestAmount of the borrow
// asset to the caller, and records the new cumulative totals. The
// collateralization check runs against the cumulative totals before any
// state is touched.
func (e *Engine) Generate(caller common.Address, requestAmount asset.Balance, collateralID asset.ID, collateralAmount asset.Balance) error {
	if requestAmount == 0 || collateralAmount == 0 {
		return asset.ErrZeroAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.positions[collateralID]
	if !ok {
		return fmt.Errorf("%w: asset %d", ErrCollateralNotSupported, collateralID)
	}

	collateralPrice, err := e.oracle.Price(collateralID)
	if err != nil {
		return err
	}
	borrowPrice, err := e.oracle.Price(e.borrowAsset)
	if err != nil {
		return err
	}

	key := vaultKey{Owner: caller, Collateral: collateralID}
	existing := e.vaults[key]
	totalCollateral, err := numeric.CheckedAdd(existing.Collateral, collateralAmount)
	if err != nil {
		return fmt.Errorf("collateral total: %w", err)
	}
	totalBorrowed, err := numeric.CheckedAdd(existing.Borrowed, requestAmount)
	if err != nil {
		return fmt.Errorf("borrow total: %w", err)
	}

	valid, err := isValid(pos, collateralPrice, borrowPrice, totalCollateral, totalBorrowed)
	if err != nil {
		return err
	}
	if !valid {
		return fmt.Errorf("%w: borrowing %d against %d collateral", ErrInvalidCDP, totalBorrowed, totalCollateral)
	}

	if !e.ledger.CanWithdraw(collateralID, caller, collateralAmount) {
		return fmt.Errorf("%w: depositing %d of asset %d", asset.ErrInsufficientBalance, collateralAmount, collateralID)
	}

	// All checks passed: stage every write into one batch
	batch := e.store.NewBatch()
	defer batch.Close()

	tx := e.ledger.Begin(batch)
	defer tx.Discard()
	if err := tx.TransferToSystem(collateralID, caller, collateralAmount); err != nil {
		return err
	}
	if err := tx.MintFromSystem(e.borrowAsset, caller, requestAmount); err != nil {
		return err
	}
	cdp := CDP{Collateral: totalCollateral, Borrowed: totalBorrowed}
	if err := batch.PutJSON(vaultStoreKey(caller, collateralID), cdp); err != nil {
		return err
	}
	staged, err := e.journal.Stage(batch, events.UpdateVault{
		Owner:      caller,
		Collateral: collateralID,
		Deposited:  totalCollateral,
		Borrowed:   totalBorrowed,
	})
	if err != nil {
		return err
	}
	defer staged.Discard()

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("failed to persist vault update: %w", err)
	}
	tx.Apply()
	e.vaults[key] = cdp
	staged.Publish()
	e.log.Info("vault updated",
		zap.String("owner", caller.Hex()),
		zap.Uint64("collateral_asset", uint64(collateralID)),
		zap.Uint64("deposited", totalCollateral),
		zap.Uint64("borrowed", totalBorrowed))
	return nil
}

// Liquidate seizes an undercollateralized vault. Permissionless: any caller
// may trigger it and earns the liquidation fee. The rest of the collateral
// is injected into the AMM pool pairing the borrow asset with the
// collateral, socializing it into the market rather than returning it to
// the owner. The vault record is deleted; its debt dies with it (the minted
// borrow supply stays outstanding, backed by the injected reserves).
func (e *Engine) Liquidate(liquidator, owner common.Address, collateralID asset.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := vaultKey{Owner: owner, Collateral: collateralID}
	cdp, ok := e.vaults[key]
	if !ok {
		return fmt.Errorf("%w: %s/%d", ErrVaultDoesNotExist, owner.Hex(), collateralID)
	}
	pos, ok := e.positions[collateralID]
	if !ok {
		return fmt.Errorf("%w: asset %d", ErrCollateralNotSupported, collateralID)
	}

	collateralPrice, err := e.oracle.Price(collateralID)
	if err != nil {
		return err
	}
	borrowPrice, err := e.oracle.Price(e.borrowAsset)
	if err != nil {
		return err
	}
	valid, err := isValid(pos, collateralPrice, borrowPrice, cdp.Collateral, cdp.Borrowed)
	if err != nil {
		return err
	}
	if valid {
		return fmt.Errorf("%w: %s/%d is still collateralized", ErrUnavailable, owner.Hex(), collateralID)
	}

	fee, err := pos.LiquidationFee.ApplyFloor(cdp.Collateral)
	if err != nil {
		return fmt.Errorf("liquidation fee: %w", err)
	}
	remainder := cdp.Collateral - fee // fee <= collateral, LiquidationFee is proper

	lpt, ok := e.market.HasPair(e.borrowAsset, collateralID)
	if !ok {
		return fmt.Errorf("%w: collateral %d", ErrMarketDoesNotExist, collateralID)
	}

	// All checks passed: stage every write into one batch. The market
	// injection is staged first so the lock order (vault, market, ledger,
	// journal) matches the market engine's own operations.
	batch := e.store.NewBatch()
	defer batch.Close()

	var inj *market.Injection
	if remainder > 0 {
		inj, err = e.market.StageInject(batch, e.borrowAsset, collateralID, remainder)
		if err != nil {
			return err
		}
		defer inj.Discard()
	}
	tx := e.ledger.Begin(batch)
	defer tx.Discard()
	if fee > 0 {
		if err := tx.TransferFromSystem(collateralID, liquidator, fee); err != nil {
			return err
		}
	}
	if err := batch.Delete(vaultStoreKey(owner, collateralID)); err != nil {
		return err
	}
	staged, err := e.journal.Stage(batch, events.Liquidate{
		Owner:      owner,
		Liquidator: liquidator,
		Collateral: collateralID,
		Seized:     cdp.Collateral,
		Fee:        fee,
		Injected:   remainder,
		LPToken:    lpt,
		Debt:       cdp.Borrowed,
	})
	if err != nil {
		return err
	}
	defer staged.Discard()

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("failed to persist liquidation: %w", err)
	}
	tx.Apply()
	if inj != nil {
		inj.Apply()
	}
	delete(e.vaults, key)
	staged.Publish()
	e.log.Info("vault liquidated",
		zap.String("owner", owner.Hex()),
		zap.String("liquidator", liquidator.Hex()),
		zap.Uint64("collateral_asset", uint64(collateralID)),
		zap.Uint64("seized", cdp.Collateral),
		zap.Uint64("fee", fee))
	return nil
}

// Close settles a solvent vault: the caller burns the full borrowed amount,
// pays the stability fee (in collateral, to the treasury), receives the
// remaining collateral back, and the record is deleted. A vault outside its
// max collateralization rate cannot be closed; it must be topped up first
// or it will be liquidated.
func (e *Engine) Close(caller common.Address, collateralID asset.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := vaultKey{Owner: caller, Collateral: collateralID}
	cdp, ok := e.vaults[key]
	if !ok {
		return fmt.Errorf("%w: %s/%d", ErrVaultDoesNotExist, caller.Hex(), collateralID)
	}
	pos, ok := e.positions[collateralID]
	if !ok {
		return fmt.Errorf("%w: asset %d", ErrCollateralNotSupported, collateralID)
	}

	collateralPrice, err := e.oracle.Price(collateralID)
	if err != nil {
		return err
	}
	borrowPrice, err := e.oracle.Price(e.borrowAsset)
	if err != nil {
		return err
	}
	valid, err := isValid(pos, collateralPrice, borrowPrice, cdp.Collateral, cdp.Borrowed)
	if err != nil {
		return err
	}
	if !valid {
		return fmt.Errorf("%w: %s/%d", ErrAddMoreCollateral, caller.Hex(), collateralID)
	}

	fee, err := pos.StabilityFee.ApplyFloor(cdp.Collateral)
	if err != nil {
		return fmt.Errorf("stability fee: %w", err)
	}
	returned := cdp.Collateral - fee // fee <= collateral, StabilityFee is proper

	if cdp.Borrowed > 0 && !e.ledger.CanWithdraw(e.borrowAsset, caller, cdp.Borrowed) {
		return fmt.Errorf("%w: settling %d of borrow asset", asset.ErrInsufficientBalance, cdp.Borrowed)
	}

	// All checks passed: stage every write into one batch
	batch := e.store.NewBatch()
	defer batch.Close()

	tx := e.ledger.Begin(batch)
	defer tx.Discard()
	if cdp.Borrowed > 0 {
		if err := tx.BurnFromSystem(e.borrowAsset, caller, cdp.Borrowed); err != nil {
			return err
		}
	}
	if fee > 0 {
		if err := tx.TransferFromSystem(collateralID, asset.TreasuryAccount, fee); err != nil {
			return err
		}
	}
	if returned > 0 {
		if err := tx.TransferFromSystem(collateralID, caller, returned); err != nil {
			return err
		}
	}
	if err := batch.Delete(vaultStoreKey(caller, collateralID)); err != nil {
		return err
	}
	staged, err := e.journal.Stage(batch, events.CloseVault{
		Owner:      caller,
		Collateral: collateralID,
		Settled:    cdp.Borrowed,
		Fee:        fee,
		Returned:   returned,
	})
	if err != nil {
		return err
	}
	defer staged.Discard()

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("failed to persist vault closure: %w", err)
	}
	tx.Apply()
	delete(e.vaults, key)
	staged.Publish()
	e.log.Info("vault closed",
		zap.String("owner", caller.Hex()),
		zap.Uint64("collateral_asset", uint64(collateralID)),
		zap.Uint64("settled", cdp.Borrowed),
		zap.Uint64("returned", returned))
	return nil
}

// SetPosition registers or overwrites the risk parameters for a collateral
// asset. Restricted to the root origin. Fee ratios must be proper (at most
// one) so fee deductions cannot underflow.
func (e *Engine) SetPosition(origin common.Address, collateralID asset.ID, liquidationFee, maxRate, stabilityFee numeric.Ratio) error {
	if origin != e.admin {
		return fmt.Errorf("%w: %s", ErrBadOrigin, origin.Hex())
	}
	if !liquidationFee.IsProper() || !stabilityFee.IsProper() || !maxRate.Valid() {
		return ErrInvalidPosition
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pos := Position{
		LiquidationFee:           liquidationFee,
		MaxCollateralizationRate: maxRate,
		StabilityFee:             stabilityFee,
	}

	batch := e.store.NewBatch()
	defer batch.Close()
	if err := batch.PutJSON(positionStoreKey(collateralID), pos); err != nil {
		return err
	}
	staged, err := e.journal.Stage(batch, events.SetPosition{
		Collateral:               collateralID,
		LiquidationFee:           liquidationFee,
		MaxCollateralizationRate: maxRate,
		StabilityFee:             stabilityFee,
	})
	if err != nil {
		return err
	}
	defer staged.Discard()

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("failed to persist position: %w", err)
	}
	e.positions[collateralID] = pos
	staged.Publish()
	e.log.Info("position set",
		zap.Uint64("collateral_asset", uint64(collateralID)),
		zap.Uint64("max_rate_num", maxRate.Num),
		zap.Uint64("max_rate_den", maxRate.Den))
	return nil
}

// Vault returns the open vault for (owner, collateral), if any.
func (e *Engine) Vault(owner common.Address, collateralID asset.ID) (CDP, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cdp, ok := e.vaults[vaultKey{Owner: owner, Collateral: collateralID}]
	return cdp, ok
}

// Position returns the risk parameters registered for a collateral asset.
func (e *Engine) Position(collateralID asset.ID) (Position, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	pos, ok := e.positions[collateralID]
	return pos, ok
}

// Vaults returns snapshots of every open vault, ordered by owner then
// collateral asset.
func (e *Engine) Vaults() []VaultInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]VaultInfo, 0, len(e.vaults))
	for key, cdp := range e.vaults {
		out = append(out, VaultInfo{
			Owner:      key.Owner,
			Collateral: key.Collateral,
			Deposited:  cdp.Collateral,
			Borrowed:   cdp.Borrowed,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Owner != out[j].Owner {
			return out[i].Owner.Hex() < out[j].Owner.Hex()
		}
		return out[i].Collateral < out[j].Collateral
	})
	return out
}

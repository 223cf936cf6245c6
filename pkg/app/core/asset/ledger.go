// Package asset implements the shared fungible-asset ledger: per-asset
// account balances, total supplies, and monotonic issuance of new asset ids.
// The market and vault engines move value exclusively through this ledger.
package asset

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/standardweb3/standard-substrate-sub001/pkg/storage"
)

// ID identifies a fungible asset. Native (0) is the system currency; every
// other id is allocated monotonically by Issue.
type ID uint64

// Native is the system currency asset id.
const Native ID = 0

// Balance is an asset amount. Intermediate products are computed in 256 bits
// (pkg/numeric); stored balances always fit uint64.
type Balance = uint64

var (
	ErrZeroAmount          = errors.New("amount must be non-zero")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Module accounts. Derived from fixed labels so they are stable across runs
// and cannot collide with user keys.
var (
	// SystemAccount holds pooled reserves and vault collateral custody.
	SystemAccount = common.BytesToAddress(crypto.Keccak256([]byte("standard/system-custody"))[12:])

	// TreasuryAccount receives stability fees on vault closure.
	TreasuryAccount = common.BytesToAddress(crypto.Keccak256([]byte("standard/treasury"))[12:])
)

type balanceKey struct {
	Asset   ID
	Account common.Address
}

// Ledger is the in-memory balance book with Pebble durability.
// All mutating methods are atomic per call: preconditions are checked before
// any state is touched. Engines that move value in several steps stage them
// through Begin, so the whole operation commits as one batch.
type Ledger struct {
	mu       sync.RWMutex
	balances map[balanceKey]Balance
	supply   map[ID]Balance
	nextID   ID

	store *storage.Store
	log   *zap.Logger
}

// NewLedger creates a ledger, rebuilding balances and supplies from the
// store if previous state exists.
func NewLedger(store *storage.Store, logger *zap.Logger) (*Ledger, error) {
	l := &Ledger{
		balances: make(map[balanceKey]Balance),
		supply:   make(map[ID]Balance),
		nextID:   Native + 1,
		store:    store,
		log:      logger,
	}

	if err := l.load(); err != nil {
		return nil, fmt.Errorf("failed to load ledger state: %w", err)
	}
	return l, nil
}

func (l *Ledger) load() error {
	err := l.store.ScanPrefix(balancePrefix(), func(key, value []byte) error {
		id, addr, err := parseBalanceKey(key)
		if err != nil {
			return err
		}
		var bal Balance
		if err := json.Unmarshal(value, &bal); err != nil {
			return err
		}
		l.balances[balanceKey{Asset: id, Account: addr}] = bal
		return nil
	})
	if err != nil {
		return err
	}

	err = l.store.ScanPrefix(supplyPrefix(), func(key, value []byte) error {
		id, err := parseSupplyKey(key)
		if err != nil {
			return err
		}
		var sup Balance
		if err := json.Unmarshal(value, &sup); err != nil {
			return err
		}
		l.supply[id] = sup
		return nil
	})
	if err != nil {
		return err
	}

	var next ID
	ok, err := l.store.GetJSON(nextAssetKey(), &next)
	if err != nil {
		return err
	}
	if ok {
		l.nextID = next
	}

	if len(l.balances) > 0 || len(l.supply) > 0 {
		l.log.Info("ledger state loaded",
			zap.Int("balance_cells", len(l.balances)),
			zap.Int("assets", len(l.supply)),
			zap.Uint64("next_asset_id", uint64(l.nextID)))
	}
	return nil
}

// BalanceOf returns the balance of account in asset id.
func (l *Ledger) BalanceOf(id ID, account common.Address) Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[balanceKey{Asset: id, Account: account}]
}

// TotalSupply returns the total supply of asset id.
func (l *Ledger) TotalSupply(id ID) Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply[id]
}

// Issue allocates a fresh asset id with zero supply. Ids are monotonic and
// never reused.
func (l *Ledger) Issue() (ID, error) {
	batch := l.store.NewBatch()
	defer batch.Close()

	tx := l.Begin(batch)
	defer tx.Discard()
	id, err := tx.Issue()
	if err != nil {
		return 0, err
	}
	if err := batch.Commit(); err != nil {
		return 0, fmt.Errorf("failed to persist issued asset %d: %w", id, err)
	}
	tx.Apply()

	l.log.Info("asset issued", zap.Uint64("asset", uint64(id)))
	return id, nil
}

// Mint creates amount of asset id and credits it to account.
// Fails with ErrZeroAmount on zero and numeric.ErrOverflow if supply or the
// target balance would wrap.
func (l *Ledger) Mint(id ID, account common.Address, amount Balance) error {
	batch := l.store.NewBatch()
	defer batch.Close()

	tx := l.Begin(batch)
	defer tx.Discard()
	if err := tx.Mint(id, account, amount); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("failed to persist mint: %w", err)
	}
	tx.Apply()
	return nil
}

// Burn destroys amount of asset id held by account.
func (l *Ledger) Burn(id ID, account common.Address, amount Balance) error {
	batch := l.store.NewBatch()
	defer batch.Close()

	tx := l.Begin(batch)
	defer tx.Discard()
	if err := tx.Burn(id, account, amount); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("failed to persist burn: %w", err)
	}
	tx.Apply()
	return nil
}

// Transfer moves amount of asset id from one account to another. A transfer
// to the sender's own account is a checked no-op.
func (l *Ledger) Transfer(id ID, from, to common.Address, amount Balance) error {
	batch := l.store.NewBatch()
	defer batch.Close()

	tx := l.Begin(batch)
	defer tx.Discard()
	if err := tx.Transfer(id, from, to, amount); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("failed to persist transfer: %w", err)
	}
	tx.Apply()
	return nil
}

// CanWithdraw reports whether account holds at least amount of asset id.
// Engines use it to validate every debit before the first mutation of a
// multi-step operation.
func (l *Ledger) CanWithdraw(id ID, account common.Address, amount Balance) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[balanceKey{Asset: id, Account: account}] >= amount
}

// TransferToSystem pulls amount of asset id from account into system custody.
func (l *Ledger) TransferToSystem(id ID, from common.Address, amount Balance) error {
	return l.Transfer(id, from, SystemAccount, amount)
}

// TransferFromSystem pushes amount of asset id out of system custody.
func (l *Ledger) TransferFromSystem(id ID, to common.Address, amount Balance) error {
	return l.Transfer(id, SystemAccount, to, amount)
}

// MintFromSystem mints system-originated supply directly to an account.
func (l *Ledger) MintFromSystem(id ID, to common.Address, amount Balance) error {
	return l.Mint(id, to, amount)
}

// BurnFromSystem burns supply held by an account on the system's behalf.
func (l *Ledger) BurnFromSystem(id ID, from common.Address, amount Balance) error {
	return l.Burn(id, from, amount)
}

// IssueFromSystem allocates a new system-issued asset id.
func (l *Ledger) IssueFromSystem() (ID, error) {
	return l.Issue()
}

package asset

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/standardweb3/standard-substrate-sub001/pkg/numeric"
	"github.com/standardweb3/standard-substrate-sub001/pkg/storage"
)

// Tx stages the ledger mutations of one engine operation against a single
// write batch, so the operation's balance, supply, and issuance writes land
// durably together with the caller's own records or not at all.
//
// Begin locks the ledger until Apply or Discard; staged reads see the
// staged values layered over the committed maps. Apply moves the staged
// cells into the in-memory maps and must be called only after the batch has
// committed. A caller that bails out instead calls Discard, which releases
// the ledger with no trace of the staged writes.
type Tx struct {
	l        *Ledger
	batch    *storage.Batch
	balances map[balanceKey]Balance
	supply   map[ID]Balance
	nextID   ID
	issued   bool
	done     bool
}

// Begin starts a staged mutation set writing into batch. The ledger stays
// locked until Apply or Discard; callers defer Discard immediately.
func (l *Ledger) Begin(batch *storage.Batch) *Tx {
	l.mu.Lock()
	return &Tx{
		l:        l,
		batch:    batch,
		balances: make(map[balanceKey]Balance),
		supply:   make(map[ID]Balance),
	}
}

// Apply copies the staged cells into the in-memory maps and releases the
// ledger. Call only after the batch has committed.
func (tx *Tx) Apply() {
	for key, bal := range tx.balances {
		tx.l.balances[key] = bal
	}
	for id, sup := range tx.supply {
		tx.l.supply[id] = sup
	}
	if tx.issued {
		tx.l.nextID = tx.nextID
	}
	tx.done = true
	tx.l.mu.Unlock()
}

// Discard releases the ledger without applying. No-op after Apply.
func (tx *Tx) Discard() {
	if tx.done {
		return
	}
	tx.done = true
	tx.l.mu.Unlock()
}

func (tx *Tx) balanceOf(key balanceKey) Balance {
	if bal, ok := tx.balances[key]; ok {
		return bal
	}
	return tx.l.balances[key]
}

func (tx *Tx) supplyOf(id ID) Balance {
	if sup, ok := tx.supply[id]; ok {
		return sup
	}
	return tx.l.supply[id]
}

// Issue stages allocation of a fresh asset id with zero supply.
func (tx *Tx) Issue() (ID, error) {
	id := tx.l.nextID
	if tx.issued {
		id = tx.nextID
	}
	if err := tx.batch.PutJSON(nextAssetKey(), id+1); err != nil {
		return 0, err
	}
	if err := tx.batch.PutJSON(supplyStoreKey(id), Balance(0)); err != nil {
		return 0, err
	}
	tx.nextID = id + 1
	tx.issued = true
	tx.supply[id] = 0
	return id, nil
}

// Mint stages creation of amount of asset id credited to account.
func (tx *Tx) Mint(id ID, account common.Address, amount Balance) error {
	if amount == 0 {
		return ErrZeroAmount
	}

	key := balanceKey{Asset: id, Account: account}
	newBal, err := numeric.CheckedAdd(tx.balanceOf(key), amount)
	if err != nil {
		return fmt.Errorf("mint balance: %w", err)
	}
	newSup, err := numeric.CheckedAdd(tx.supplyOf(id), amount)
	if err != nil {
		return fmt.Errorf("mint supply: %w", err)
	}

	if err := tx.batch.PutJSON(balanceStoreKey(id, account), newBal); err != nil {
		return err
	}
	if err := tx.batch.PutJSON(supplyStoreKey(id), newSup); err != nil {
		return err
	}
	tx.balances[key] = newBal
	tx.supply[id] = newSup
	return nil
}

// Burn stages destruction of amount of asset id held by account.
func (tx *Tx) Burn(id ID, account common.Address, amount Balance) error {
	if amount == 0 {
		return ErrZeroAmount
	}

	key := balanceKey{Asset: id, Account: account}
	if tx.balanceOf(key) < amount {
		return fmt.Errorf("%w: asset %d account %s has %d, need %d",
			ErrInsufficientBalance, id, account.Hex(), tx.balanceOf(key), amount)
	}
	newBal := tx.balanceOf(key) - amount
	newSup, err := numeric.CheckedSub(tx.supplyOf(id), amount)
	if err != nil {
		return fmt.Errorf("burn supply: %w", err)
	}

	if err := tx.batch.PutJSON(balanceStoreKey(id, account), newBal); err != nil {
		return err
	}
	if err := tx.batch.PutJSON(supplyStoreKey(id), newSup); err != nil {
		return err
	}
	tx.balances[key] = newBal
	tx.supply[id] = newSup
	return nil
}

// Transfer stages moving amount of asset id between accounts.
func (tx *Tx) Transfer(id ID, from, to common.Address, amount Balance) error {
	if amount == 0 {
		return ErrZeroAmount
	}

	fromKey := balanceKey{Asset: id, Account: from}
	if tx.balanceOf(fromKey) < amount {
		return fmt.Errorf("%w: asset %d account %s has %d, need %d",
			ErrInsufficientBalance, id, from.Hex(), tx.balanceOf(fromKey), amount)
	}
	// A self-transfer moves nothing. Debiting and crediting the same cell
	// would double count it, so short-circuit after the balance check.
	if from == to {
		return nil
	}

	toKey := balanceKey{Asset: id, Account: to}
	newTo, err := numeric.CheckedAdd(tx.balanceOf(toKey), amount)
	if err != nil {
		return fmt.Errorf("transfer credit: %w", err)
	}
	newFrom := tx.balanceOf(fromKey) - amount

	if err := tx.batch.PutJSON(balanceStoreKey(id, from), newFrom); err != nil {
		return err
	}
	if err := tx.batch.PutJSON(balanceStoreKey(id, to), newTo); err != nil {
		return err
	}
	tx.balances[fromKey] = newFrom
	tx.balances[toKey] = newTo
	return nil
}

// TransferToSystem stages pulling amount of asset id into system custody.
func (tx *Tx) TransferToSystem(id ID, from common.Address, amount Balance) error {
	return tx.Transfer(id, from, SystemAccount, amount)
}

// TransferFromSystem stages pushing amount of asset id out of system custody.
func (tx *Tx) TransferFromSystem(id ID, to common.Address, amount Balance) error {
	return tx.Transfer(id, SystemAccount, to, amount)
}

// MintFromSystem stages minting system-originated supply to an account.
func (tx *Tx) MintFromSystem(id ID, to common.Address, amount Balance) error {
	return tx.Mint(id, to, amount)
}

// BurnFromSystem stages burning supply held by an account on the system's
// behalf.
func (tx *Tx) BurnFromSystem(id ID, from common.Address, amount Balance) error {
	return tx.Burn(id, from, amount)
}

// IssueFromSystem stages allocation of a new system-issued asset id.
func (tx *Tx) IssueFromSystem() (ID, error) {
	return tx.Issue()
}

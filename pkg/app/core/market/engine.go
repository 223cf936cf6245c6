// Package market implements the constant-product exchange: the pair
// registry, reserve accounting, liquidity-token issuance and redemption,
// swap pricing, and the TWAP accumulator. All value movement goes through
// the asset ledger; pooled funds live in the system custody account.
package market

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core/asset"
	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core/events"
	"github.com/standardweb3/standard-substrate-sub001/pkg/numeric"
	"github.com/standardweb3/standard-substrate-sub001/pkg/storage"
	"github.com/standardweb3/standard-substrate-sub001/pkg/util"
)

var (
	ErrIdenticalIdentifier         = errors.New("pair tokens must differ")
	ErrInsufficientLiquidityMinted = errors.New("insufficient liquidity minted")
	ErrInsufficientLiquidityBurned = errors.New("insufficient liquidity burned")
	ErrInsufficientAmount          = errors.New("swap input amount must be non-zero")
	ErrInvalidPair                 = errors.New("no pair registered for assets")
	ErrInsufficientLiquidity       = errors.New("insufficient pool liquidity")
	ErrNoneValue                   = errors.New("missing pool record")
)

// MinimumLiquidity is subtracted from the first LP mint and locked in the
// system account forever, so LP total supply can never return to zero.
const MinimumLiquidity asset.Balance = 1

// Swap fee: 0.3%, applied by scaling the input to 997/1000.
const (
	feeScaledInput = 997
	feeScale       = 1000
)

// pairKey is the canonicalized storage key of a pair: lower id first, so
// (a,b) and (b,a) resolve to the same pool.
type pairKey struct {
	lower  asset.ID
	higher asset.ID
}

// canonicalKey orders two distinct asset ids into a pairKey.
func canonicalKey(a, b asset.ID) (pairKey, error) {
	if a == b {
		return pairKey{}, ErrIdenticalIdentifier
	}
	if a < b {
		return pairKey{lower: a, higher: b}, nil
	}
	return pairKey{lower: b, higher: a}, nil
}

// PairInfo is a query snapshot of one pool.
type PairInfo struct {
	LPToken     asset.ID      `json:"lpToken"`
	Token0      asset.ID      `json:"token0"`
	Token1      asset.ID      `json:"token1"`
	Reserve0    asset.Balance `json:"reserve0"`
	Reserve1    asset.Balance `json:"reserve1"`
	TotalSupply asset.Balance `json:"totalSupply"`
}

// Engine is the AMM state machine. Every exported operation runs under the
// engine mutex from first read to last write; all fallible checks and
// arithmetic complete before the first mutation, and the mutation itself is
// staged into a single batch with the in-memory maps updated only after the
// commit, so a failed call leaves no partial state behind in memory or on
// disk.
type Engine struct {
	mu       sync.RWMutex
	pairs    map[pairKey]asset.ID          // canonical pair -> LP token
	rewards  map[asset.ID][2]asset.ID      // LP token -> canonical backing tokens
	reserves map[asset.ID][2]asset.Balance // LP token -> reserves, index 0 = lower token
	twaps    map[asset.ID]*Accumulator

	ledger  *asset.Ledger
	journal *events.Journal
	store   *storage.Store
	clock   util.Clock
	log     *zap.Logger
}

// NewEngine creates a market engine, restoring pools from the store.
func NewEngine(ledger *asset.Ledger, journal *events.Journal, store *storage.Store, clock util.Clock, logger *zap.Logger) (*Engine, error) {
	e := &Engine{
		pairs:    make(map[pairKey]asset.ID),
		rewards:  make(map[asset.ID][2]asset.ID),
		reserves: make(map[asset.ID][2]asset.Balance),
		twaps:    make(map[asset.ID]*Accumulator),
		ledger:   ledger,
		journal:  journal,
		store:    store,
		clock:    clock,
		log:      logger,
	}

	if err := e.load(); err != nil {
		return nil, fmt.Errorf("failed to load market state: %w", err)
	}
	return e, nil
}

func (e *Engine) load() error {
	err := e.store.ScanPrefix([]byte(prefixPair), func(key, value []byte) error {
		pk, err := parsePairKey(key)
		if err != nil {
			return err
		}
		var lpt asset.ID
		if err := json.Unmarshal(value, &lpt); err != nil {
			return err
		}
		e.pairs[pk] = lpt
		return nil
	})
	if err != nil {
		return err
	}

	err = e.store.ScanPrefix([]byte(prefixRewards), func(key, value []byte) error {
		lpt, err := parseIDSuffix(key, prefixRewards)
		if err != nil {
			return err
		}
		var tokens [2]asset.ID
		if err := json.Unmarshal(value, &tokens); err != nil {
			return err
		}
		e.rewards[lpt] = tokens
		return nil
	})
	if err != nil {
		return err
	}

	err = e.store.ScanPrefix([]byte(prefixReserves), func(key, value []byte) error {
		lpt, err := parseIDSuffix(key, prefixReserves)
		if err != nil {
			return err
		}
		var res [2]asset.Balance
		if err := json.Unmarshal(value, &res); err != nil {
			return err
		}
		e.reserves[lpt] = res
		return nil
	})
	if err != nil {
		return err
	}

	err = e.store.ScanPrefix([]byte(prefixTwap), func(key, value []byte) error {
		lpt, err := parseIDSuffix(key, prefixTwap)
		if err != nil {
			return err
		}
		var acc Accumulator
		if err := json.Unmarshal(value, &acc); err != nil {
			return err
		}
		e.twaps[lpt] = &acc
		return nil
	})
	if err != nil {
		return err
	}

	if len(e.pairs) > 0 {
		e.log.Info("market state loaded", zap.Int("pairs", len(e.pairs)))
	}
	return nil
}

// MintLiquidity provides amount0 of token0 and amount1 of token1 to the
// pool, creating the pair on first provision. Returns the LP token id and
// the amount of LP tokens minted to the caller.
//
// First provision mints floor(sqrt(amount0*amount1)) - MinimumLiquidity to
// the caller and locks MinimumLiquidity in the system account. Subsequent
// provisions mint min(amount0*S/reserve0, amount1*S/reserve1): the lesser
// side determines the mint, so an imbalanced ratio cannot extract value and
// the excess is simply donated to the pool.
func (e *Engine) MintLiquidity(caller common.Address, token0 asset.ID, amount0 asset.Balance, token1 asset.ID, amount1 asset.Balance) (asset.ID, asset.Balance, error) {
	key, err := canonicalKey(token0, token1)
	if err != nil {
		return 0, 0, err
	}
	if amount0 == 0 || amount1 == 0 {
		return 0, 0, asset.ErrZeroAmount
	}

	// Reorder amounts so index 0 corresponds to the lower asset id
	amtLo, amtHi := amount0, amount1
	if token0 != key.lower {
		amtLo, amtHi = amount1, amount0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ledger.CanWithdraw(key.lower, caller, amtLo) || !e.ledger.CanWithdraw(key.higher, caller, amtHi) {
		return 0, 0, fmt.Errorf("%w: provisioning %d/%d", asset.ErrInsufficientBalance, amtLo, amtHi)
	}

	lpt, exists := e.pairs[key]
	if !exists {
		return e.createPair(caller, key, amtLo, amtHi)
	}

	tokens, ok := e.rewards[lpt]
	if !ok {
		return 0, 0, fmt.Errorf("%w: rewards for lp token %d", ErrNoneValue, lpt)
	}
	res, ok := e.reserves[lpt]
	if !ok {
		return 0, 0, fmt.Errorf("%w: reserves for lp token %d", ErrNoneValue, lpt)
	}

	supply := e.ledger.TotalSupply(lpt)
	if supply == 0 {
		// Pool fully drained; re-seeding a dead pool is not supported
		return 0, 0, fmt.Errorf("%w: pool %d has zero supply", ErrInsufficientLiquidityMinted, lpt)
	}
	if res[0] == 0 || res[1] == 0 {
		return 0, 0, fmt.Errorf("%w: pool %d", ErrInsufficientLiquidity, lpt)
	}

	// Proportional-share rule: the lesser side determines the mint
	mint0, err := numeric.MulDiv(amtLo, supply, res[0])
	if err != nil {
		return 0, 0, fmt.Errorf("liquidity share: %w", err)
	}
	mint1, err := numeric.MulDiv(amtHi, supply, res[1])
	if err != nil {
		return 0, 0, fmt.Errorf("liquidity share: %w", err)
	}
	minted := min(mint0, mint1)
	if minted == 0 {
		return 0, 0, fmt.Errorf("%w: amounts too small for pool %d", ErrInsufficientLiquidityMinted, lpt)
	}

	newRes0, err := numeric.CheckedAdd(res[0], amtLo)
	if err != nil {
		return 0, 0, fmt.Errorf("reserve0 update: %w", err)
	}
	newRes1, err := numeric.CheckedAdd(res[1], amtHi)
	if err != nil {
		return 0, 0, fmt.Errorf("reserve1 update: %w", err)
	}

	// All checks passed: stage every write into one batch
	batch := e.store.NewBatch()
	defer batch.Close()

	tx := e.ledger.Begin(batch)
	defer tx.Discard()
	if err := tx.TransferToSystem(key.lower, caller, amtLo); err != nil {
		return 0, 0, err
	}
	if err := tx.TransferToSystem(key.higher, caller, amtHi); err != nil {
		return 0, 0, err
	}
	if err := tx.MintFromSystem(lpt, caller, minted); err != nil {
		return 0, 0, err
	}

	newRes := [2]asset.Balance{newRes0, newRes1}
	acc := e.advancedTwap(lpt, res)
	if err := batch.PutJSON(reservesStoreKey(lpt), newRes); err != nil {
		return 0, 0, err
	}
	if err := batch.PutJSON(twapStoreKey(lpt), acc); err != nil {
		return 0, 0, err
	}
	staged, err := e.journal.Stage(batch, events.MintedLiquidity{
		Provider:  caller,
		Token0:    tokens[0],
		Amount0:   amtLo,
		Token1:    tokens[1],
		Amount1:   amtHi,
		LPToken:   lpt,
		Liquidity: minted,
	})
	if err != nil {
		return 0, 0, err
	}
	defer staged.Discard()

	if err := batch.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to persist liquidity mint: %w", err)
	}
	tx.Apply()
	e.reserves[lpt] = newRes
	e.twaps[lpt] = acc
	staged.Publish()
	e.log.Debug("liquidity minted",
		zap.Uint64("lp_token", uint64(lpt)),
		zap.Uint64("liquidity", minted))
	return lpt, minted, nil
}

// createPair handles the first provision of a pair. Caller balances are
// already checked and amounts are canonical. Lock held.
func (e *Engine) createPair(caller common.Address, key pairKey, amtLo, amtHi asset.Balance) (asset.ID, asset.Balance, error) {
	liquidity := numeric.SqrtMul(amtLo, amtHi)
	if liquidity <= MinimumLiquidity {
		return 0, 0, fmt.Errorf("%w: sqrt(%d*%d) too small", ErrInsufficientLiquidityMinted, amtLo, amtHi)
	}
	minted := liquidity - MinimumLiquidity

	batch := e.store.NewBatch()
	defer batch.Close()

	tx := e.ledger.Begin(batch)
	defer tx.Discard()
	lpt, err := tx.IssueFromSystem()
	if err != nil {
		return 0, 0, err
	}
	if err := tx.TransferToSystem(key.lower, caller, amtLo); err != nil {
		return 0, 0, err
	}
	if err := tx.TransferToSystem(key.higher, caller, amtHi); err != nil {
		return 0, 0, err
	}
	if err := tx.MintFromSystem(lpt, caller, minted); err != nil {
		return 0, 0, err
	}
	if err := tx.MintFromSystem(lpt, asset.SystemAccount, MinimumLiquidity); err != nil {
		return 0, 0, err
	}

	tokens := [2]asset.ID{key.lower, key.higher}
	reserves := [2]asset.Balance{amtLo, amtHi}
	acc := newAccumulator(e.clock.Now().Unix())
	if err := batch.PutJSON(pairStoreKey(key), lpt); err != nil {
		return 0, 0, err
	}
	if err := batch.PutJSON(rewardsStoreKey(lpt), tokens); err != nil {
		return 0, 0, err
	}
	if err := batch.PutJSON(reservesStoreKey(lpt), reserves); err != nil {
		return 0, 0, err
	}
	if err := batch.PutJSON(twapStoreKey(lpt), acc); err != nil {
		return 0, 0, err
	}
	staged, err := e.journal.Stage(batch, events.CreatePair{
		Creator:   caller,
		Token0:    key.lower,
		Amount0:   amtLo,
		Token1:    key.higher,
		Amount1:   amtHi,
		LPToken:   lpt,
		Liquidity: minted,
	})
	if err != nil {
		return 0, 0, err
	}
	defer staged.Discard()

	if err := batch.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to persist pair: %w", err)
	}
	tx.Apply()
	e.pairs[key] = lpt
	e.rewards[lpt] = tokens
	e.reserves[lpt] = reserves
	e.twaps[lpt] = acc
	staged.Publish()
	e.log.Info("pair created",
		zap.Uint64("token0", uint64(key.lower)),
		zap.Uint64("token1", uint64(key.higher)),
		zap.Uint64("lp_token", uint64(lpt)),
		zap.Uint64("liquidity", minted))
	return lpt, minted, nil
}

// BurnLiquidity redeems amount LP tokens for the caller's pro-rata share of
// both reserves. Returns the two reward amounts in canonical token order.
func (e *Engine) BurnLiquidity(caller common.Address, lpt asset.ID, amount asset.Balance) (asset.Balance, asset.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tokens, ok := e.rewards[lpt]
	if !ok {
		return 0, 0, fmt.Errorf("%w: rewards for lp token %d", ErrNoneValue, lpt)
	}
	res, ok := e.reserves[lpt]
	if !ok {
		return 0, 0, fmt.Errorf("%w: reserves for lp token %d", ErrNoneValue, lpt)
	}

	supply := e.ledger.TotalSupply(lpt)
	if supply == 0 {
		return 0, 0, fmt.Errorf("%w: lp token %d has zero supply", ErrNoneValue, lpt)
	}

	reward0, err := numeric.MulDiv(amount, res[0], supply)
	if err != nil {
		return 0, 0, fmt.Errorf("reward share: %w", err)
	}
	reward1, err := numeric.MulDiv(amount, res[1], supply)
	if err != nil {
		return 0, 0, fmt.Errorf("reward share: %w", err)
	}
	if reward0 == 0 || reward1 == 0 {
		return 0, 0, fmt.Errorf("%w: %d lp tokens redeem to a zero reward", ErrInsufficientLiquidityBurned, amount)
	}

	if !e.ledger.CanWithdraw(lpt, caller, amount) {
		return 0, 0, fmt.Errorf("%w: burning %d lp tokens", asset.ErrInsufficientBalance, amount)
	}
	newRes0, err := numeric.CheckedSub(res[0], reward0)
	if err != nil {
		return 0, 0, fmt.Errorf("reserve0 update: %w", err)
	}
	newRes1, err := numeric.CheckedSub(res[1], reward1)
	if err != nil {
		return 0, 0, fmt.Errorf("reserve1 update: %w", err)
	}

	// All checks passed: stage every write into one batch
	batch := e.store.NewBatch()
	defer batch.Close()

	tx := e.ledger.Begin(batch)
	defer tx.Discard()
	if err := tx.BurnFromSystem(lpt, caller, amount); err != nil {
		return 0, 0, err
	}
	if err := tx.TransferFromSystem(tokens[0], caller, reward0); err != nil {
		return 0, 0, err
	}
	if err := tx.TransferFromSystem(tokens[1], caller, reward1); err != nil {
		return 0, 0, err
	}

	newRes := [2]asset.Balance{newRes0, newRes1}
	acc := e.advancedTwap(lpt, res)
	if err := batch.PutJSON(reservesStoreKey(lpt), newRes); err != nil {
		return 0, 0, err
	}
	if err := batch.PutJSON(twapStoreKey(lpt), acc); err != nil {
		return 0, 0, err
	}
	staged, err := e.journal.Stage(batch, events.BurnedLiquidity{
		Provider: caller,
		LPToken:  lpt,
		Amount:   amount,
		Token0:   tokens[0],
		Reward0:  reward0,
		Token1:   tokens[1],
		Reward1:  reward1,
	})
	if err != nil {
		return 0, 0, err
	}
	defer staged.Discard()

	if err := batch.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to persist liquidity burn: %w", err)
	}
	tx.Apply()
	e.reserves[lpt] = newRes
	e.twaps[lpt] = acc
	staged.Publish()
	e.log.Debug("liquidity burned",
		zap.Uint64("lp_token", uint64(lpt)),
		zap.Uint64("amount", amount))
	return reward0, reward1, nil
}

// Swap trades amountIn of `from` for the pool's other token. The price is
// the constant-product formula with a 0.3% fee:
//
//	amountInWithFee = amountIn * 997
//	amountOut = floor(amountInWithFee * reserveOut / (reserveIn*1000 + amountInWithFee))
//
// computed in 256 bits so the products cannot overflow. The retained fee
// stays in the reserves, so reserve0*reserve1 never decreases across a swap.
func (e *Engine) Swap(caller common.Address, from asset.ID, amountIn asset.Balance, to asset.ID) (asset.Balance, error) {
	if amountIn == 0 {
		return 0, ErrInsufficientAmount
	}
	key, err := canonicalKey(from, to)
	if err != nil {
		return 0, fmt.Errorf("%w: %d/%d", ErrInvalidPair, from, to)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	lpt, ok := e.pairs[key]
	if !ok {
		return 0, fmt.Errorf("%w: %d/%d", ErrInvalidPair, from, to)
	}
	res := e.reserves[lpt]
	if res[0] == 0 || res[1] == 0 {
		return 0, fmt.Errorf("%w: pool %d", ErrInsufficientLiquidity, lpt)
	}

	// Orient reserves against the canonical ordering
	inIdx, outIdx := 0, 1
	if from == key.higher {
		inIdx, outIdx = 1, 0
	}
	reserveIn, reserveOut := res[inIdx], res[outIdx]

	amountOut := getAmountOut(amountIn, reserveIn, reserveOut)
	if amountOut == 0 {
		return 0, fmt.Errorf("%w: input %d prices to zero output", ErrInsufficientLiquidity, amountIn)
	}

	if !e.ledger.CanWithdraw(from, caller, amountIn) {
		return 0, fmt.Errorf("%w: swapping %d of asset %d", asset.ErrInsufficientBalance, amountIn, from)
	}
	newReserveIn, err := numeric.CheckedAdd(reserveIn, amountIn)
	if err != nil {
		return 0, fmt.Errorf("reserve update: %w", err)
	}
	newReserveOut := reserveOut - amountOut // amountOut < reserveOut by construction

	// All checks passed: stage every write into one batch
	batch := e.store.NewBatch()
	defer batch.Close()

	tx := e.ledger.Begin(batch)
	defer tx.Discard()
	if err := tx.TransferToSystem(from, caller, amountIn); err != nil {
		return 0, err
	}
	if err := tx.TransferFromSystem(to, caller, amountOut); err != nil {
		return 0, err
	}

	acc := e.advancedTwap(lpt, res)
	newRes := res
	newRes[inIdx], newRes[outIdx] = newReserveIn, newReserveOut
	if err := batch.PutJSON(reservesStoreKey(lpt), newRes); err != nil {
		return 0, err
	}
	if err := batch.PutJSON(twapStoreKey(lpt), acc); err != nil {
		return 0, err
	}
	staged, err := e.journal.Stage(batch, events.Swap{
		Trader:    caller,
		LPToken:   lpt,
		AssetIn:   from,
		AmountIn:  amountIn,
		AssetOut:  to,
		AmountOut: amountOut,
	})
	if err != nil {
		return 0, err
	}
	defer staged.Discard()

	if err := batch.Commit(); err != nil {
		return 0, fmt.Errorf("failed to persist swap: %w", err)
	}
	tx.Apply()
	e.reserves[lpt] = newRes
	e.twaps[lpt] = acc
	staged.Publish()
	e.log.Debug("swap executed",
		zap.Uint64("lp_token", uint64(lpt)),
		zap.Uint64("amount_in", amountIn),
		zap.Uint64("amount_out", amountOut))
	return amountOut, nil
}

// getAmountOut prices a swap in the 256-bit domain. The result is strictly
// less than reserveOut, so it always fits back into a Balance.
func getAmountOut(amountIn, reserveIn, reserveOut asset.Balance) asset.Balance {
	amountInWithFee := numeric.Mul(amountIn, feeScaledInput)

	var numer, denom uint256.Int
	numer.Mul(amountInWithFee, uint256.NewInt(reserveOut))
	denom.Add(numeric.Mul(reserveIn, feeScale), amountInWithFee)
	numer.Div(&numer, &denom)
	return numer.Uint64()
}

// Injection is a staged reserve injection. The engine stays locked until
// Apply or Discard, so the staged reserves cannot go stale underneath a
// caller that commits them as part of a larger batch.
type Injection struct {
	e    *Engine
	lpt  asset.ID
	res  [2]asset.Balance
	acc  *Accumulator
	done bool
}

// StageInject validates adding amount to the `token` side of the (counter,
// token) pool without minting LP supply, and writes the updated pool into
// batch. The vault engine stages a liquidation's fee transfer, record
// deletion, and reserve injection into one batch this way; the backing funds
// are already in system custody. Callers defer Discard immediately and call
// Apply only after the batch has committed.
func (e *Engine) StageInject(batch *storage.Batch, counter, token asset.ID, amount asset.Balance) (*Injection, error) {
	if amount == 0 {
		return nil, asset.ErrZeroAmount
	}
	key, err := canonicalKey(counter, token)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()

	lpt, ok := e.pairs[key]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %d/%d", ErrInvalidPair, counter, token)
	}
	res := e.reserves[lpt]

	idx := 0
	if token == key.higher {
		idx = 1
	}
	updated, err := numeric.CheckedAdd(res[idx], amount)
	if err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("reserve injection: %w", err)
	}

	acc := e.advancedTwap(lpt, res)
	newRes := res
	newRes[idx] = updated
	if err := batch.PutJSON(reservesStoreKey(lpt), newRes); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if err := batch.PutJSON(twapStoreKey(lpt), acc); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	return &Injection{e: e, lpt: lpt, res: newRes, acc: acc}, nil
}

// Apply adopts the staged pool state and releases the engine. Call only
// after the batch has committed.
func (inj *Injection) Apply() asset.ID {
	inj.e.reserves[inj.lpt] = inj.res
	inj.e.twaps[inj.lpt] = inj.acc
	inj.done = true
	inj.e.mu.Unlock()
	return inj.lpt
}

// Discard releases the engine without applying. No-op after Apply.
func (inj *Injection) Discard() {
	if inj.done {
		return
	}
	inj.done = true
	inj.e.mu.Unlock()
}

// InjectReserve stages and commits a reserve injection in its own batch.
func (e *Engine) InjectReserve(counter, token asset.ID, amount asset.Balance) (asset.ID, error) {
	batch := e.store.NewBatch()
	defer batch.Close()

	inj, err := e.StageInject(batch, counter, token, amount)
	if err != nil {
		return 0, err
	}
	defer inj.Discard()
	if err := batch.Commit(); err != nil {
		return 0, fmt.Errorf("failed to persist reserve injection: %w", err)
	}
	lpt := inj.Apply()

	e.log.Info("reserve injected",
		zap.Uint64("lp_token", uint64(lpt)),
		zap.Uint64("token", uint64(token)),
		zap.Uint64("amount", amount))
	return lpt, nil
}

// HasPair reports whether a pool exists for the two assets.
func (e *Engine) HasPair(a, b asset.ID) (asset.ID, bool) {
	key, err := canonicalKey(a, b)
	if err != nil {
		return 0, false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	lpt, ok := e.pairs[key]
	return lpt, ok
}

// Pair returns a snapshot of one pool.
func (e *Engine) Pair(lpt asset.ID) (PairInfo, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pairInfoLocked(lpt)
}

// Pairs returns snapshots of every pool, ordered by LP token id.
func (e *Engine) Pairs() []PairInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]PairInfo, 0, len(e.rewards))
	for lpt := range e.rewards {
		if info, ok := e.pairInfoLocked(lpt); ok {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LPToken < out[j].LPToken })
	return out
}

// Twap returns the current cumulative-price observation for a pool.
func (e *Engine) Twap(lpt asset.ID) (Observation, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	acc, ok := e.twaps[lpt]
	if !ok {
		return Observation{}, false
	}
	return acc.observation(lpt), true
}

func (e *Engine) pairInfoLocked(lpt asset.ID) (PairInfo, bool) {
	tokens, ok := e.rewards[lpt]
	if !ok {
		return PairInfo{}, false
	}
	res := e.reserves[lpt]
	return PairInfo{
		LPToken:     lpt,
		Token0:      tokens[0],
		Token1:      tokens[1],
		Reserve0:    res[0],
		Reserve1:    res[1],
		TotalSupply: e.ledger.TotalSupply(lpt),
	}, true
}

// advancedTwap returns a copy of the pool's accumulator with the
// pre-mutation reserves folded in, leaving the live accumulator untouched
// until the enclosing batch commits. Lock held.
func (e *Engine) advancedTwap(lpt asset.ID, res [2]asset.Balance) *Accumulator {
	acc, ok := e.twaps[lpt]
	if !ok {
		return newAccumulator(e.clock.Now().Unix())
	}
	next := acc.clone()
	next.advance(res[0], res[1], e.clock.Now().Unix())
	return next
}

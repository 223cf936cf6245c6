package market

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core/asset"
	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core/events"
	"github.com/standardweb3/standard-substrate-sub001/pkg/storage"
	"github.com/standardweb3/standard-substrate-sub001/pkg/util"
)

var (
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob   = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

type fixture struct {
	store   *storage.Store
	ledger  *asset.Ledger
	journal *events.Journal
	clock   *util.FakeClock
	engine  *Engine

	tokenA asset.ID
	tokenB asset.ID
}

// newFixture builds a market engine over a temporary Pebble database with
// two issued tokens and funded trader accounts.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ledger, err := asset.NewLedger(store, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	clock := util.NewFakeClock(time.Unix(1_700_000_000, 0))
	journal, err := events.NewJournal(store, clock, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create journal: %v", err)
	}
	engine, err := NewEngine(ledger, journal, store, clock, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	tokenA, err := ledger.Issue()
	if err != nil {
		t.Fatalf("failed to issue token A: %v", err)
	}
	tokenB, err := ledger.Issue()
	if err != nil {
		t.Fatalf("failed to issue token B: %v", err)
	}
	for _, trader := range []common.Address{alice, bob} {
		if err := ledger.Mint(tokenA, trader, 1_000_000); err != nil {
			t.Fatalf("failed to fund account: %v", err)
		}
		if err := ledger.Mint(tokenB, trader, 1_000_000); err != nil {
			t.Fatalf("failed to fund account: %v", err)
		}
	}

	return &fixture{
		store:   store,
		ledger:  ledger,
		journal: journal,
		clock:   clock,
		engine:  engine,
		tokenA:  tokenA,
		tokenB:  tokenB,
	}
}

func TestCreatePairFirstMint(t *testing.T) {
	f := newFixture(t)

	lpt, minted, err := f.engine.MintLiquidity(alice, f.tokenA, 10_000, f.tokenB, 10_000)
	if err != nil {
		t.Fatalf("mint liquidity failed: %v", err)
	}

	// sqrt(10000*10000) = 10000, minus the locked minimum
	if minted != 9_999 {
		t.Errorf("expected 9999 minted, got %d", minted)
	}
	if f.ledger.BalanceOf(lpt, alice) != 9_999 {
		t.Errorf("expected alice to hold 9999 LP tokens, got %d", f.ledger.BalanceOf(lpt, alice))
	}
	if f.ledger.BalanceOf(lpt, asset.SystemAccount) != MinimumLiquidity {
		t.Errorf("expected minimum liquidity locked in system account")
	}
	if f.ledger.TotalSupply(lpt) != 10_000 {
		t.Errorf("expected LP supply 10000, got %d", f.ledger.TotalSupply(lpt))
	}

	info, ok := f.engine.Pair(lpt)
	if !ok {
		t.Fatalf("pair not found after creation")
	}
	if info.Reserve0 != 10_000 || info.Reserve1 != 10_000 {
		t.Errorf("expected reserves (10000, 10000), got (%d, %d)", info.Reserve0, info.Reserve1)
	}

	// Pooled funds sit in system custody
	if f.ledger.BalanceOf(f.tokenA, asset.SystemAccount) != 10_000 {
		t.Errorf("expected 10000 of token A in custody")
	}
}

func TestMintLiquidityOrderIndependent(t *testing.T) {
	f := newFixture(t)

	lpt1, _, err := f.engine.MintLiquidity(alice, f.tokenA, 1_000, f.tokenB, 1_000)
	if err != nil {
		t.Fatalf("mint liquidity failed: %v", err)
	}

	// Providing in the opposite order resolves to the same pool
	lpt2, minted, err := f.engine.MintLiquidity(bob, f.tokenB, 500, f.tokenA, 500)
	if err != nil {
		t.Fatalf("reversed mint failed: %v", err)
	}
	if lpt1 != lpt2 {
		t.Errorf("expected same LP token, got %d and %d", lpt1, lpt2)
	}
	if minted != 500 {
		t.Errorf("expected proportional mint of 500, got %d", minted)
	}
}

func TestMintLiquidityImbalanced(t *testing.T) {
	f := newFixture(t)

	lpt, _, err := f.engine.MintLiquidity(alice, f.tokenA, 1_000, f.tokenB, 1_000)
	if err != nil {
		t.Fatalf("mint liquidity failed: %v", err)
	}

	// The lesser side determines the mint; the excess is donated
	_, minted, err := f.engine.MintLiquidity(bob, f.tokenA, 100, f.tokenB, 500)
	if err != nil {
		t.Fatalf("imbalanced mint failed: %v", err)
	}
	if minted != 100 {
		t.Errorf("expected 100 minted from lesser side, got %d", minted)
	}

	info, _ := f.engine.Pair(lpt)
	if info.Reserve0 != 1_100 || info.Reserve1 != 1_500 {
		t.Errorf("expected reserves (1100, 1500), got (%d, %d)", info.Reserve0, info.Reserve1)
	}
}

func TestMintLiquidityRejections(t *testing.T) {
	f := newFixture(t)

	if _, _, err := f.engine.MintLiquidity(alice, f.tokenA, 100, f.tokenA, 100); !errors.Is(err, ErrIdenticalIdentifier) {
		t.Errorf("expected ErrIdenticalIdentifier, got %v", err)
	}
	if _, _, err := f.engine.MintLiquidity(alice, f.tokenA, 0, f.tokenB, 100); !errors.Is(err, asset.ErrZeroAmount) {
		t.Errorf("expected ErrZeroAmount, got %v", err)
	}
	if _, _, err := f.engine.MintLiquidity(alice, f.tokenA, 2_000_000, f.tokenB, 2_000_000); !errors.Is(err, asset.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	// sqrt(1*1) = 1 = MinimumLiquidity, nothing left to mint
	if _, _, err := f.engine.MintLiquidity(alice, f.tokenA, 1, f.tokenB, 1); !errors.Is(err, ErrInsufficientLiquidityMinted) {
		t.Errorf("expected ErrInsufficientLiquidityMinted, got %v", err)
	}
}

func TestSwapConstantProduct(t *testing.T) {
	f := newFixture(t)

	lpt, _, err := f.engine.MintLiquidity(alice, f.tokenA, 1_000, f.tokenB, 1_000)
	if err != nil {
		t.Fatalf("mint liquidity failed: %v", err)
	}

	balBefore := f.ledger.BalanceOf(f.tokenB, bob)
	out, err := f.engine.Swap(bob, f.tokenA, 100, f.tokenB)
	if err != nil {
		t.Fatalf("swap failed: %v", err)
	}

	// floor(100*997*1000 / (1000*1000 + 100*997)) = 90
	if out != 90 {
		t.Errorf("expected 90 out, got %d", out)
	}
	if got := f.ledger.BalanceOf(f.tokenB, bob) - balBefore; got != 90 {
		t.Errorf("expected bob credited 90, got %d", got)
	}

	info, _ := f.engine.Pair(lpt)
	if info.Reserve0 != 1_100 || info.Reserve1 != 910 {
		t.Errorf("expected reserves (1100, 910), got (%d, %d)", info.Reserve0, info.Reserve1)
	}

	// The 0.3% fee stays in the pool: k never decreases
	if info.Reserve0*info.Reserve1 < 1_000*1_000 {
		t.Errorf("constant product decreased: %d", info.Reserve0*info.Reserve1)
	}
}

func TestSwapBothDirections(t *testing.T) {
	f := newFixture(t)

	if _, _, err := f.engine.MintLiquidity(alice, f.tokenA, 1_000, f.tokenB, 1_000); err != nil {
		t.Fatalf("mint liquidity failed: %v", err)
	}

	out1, err := f.engine.Swap(bob, f.tokenA, 100, f.tokenB)
	if err != nil {
		t.Fatalf("swap A->B failed: %v", err)
	}
	out2, err := f.engine.Swap(bob, f.tokenB, out1, f.tokenA)
	if err != nil {
		t.Fatalf("swap B->A failed: %v", err)
	}
	// Round trip loses to fees and rounding
	if out2 >= 100 {
		t.Errorf("round trip should lose value, got %d back from 100", out2)
	}
}

func TestSwapRejections(t *testing.T) {
	f := newFixture(t)

	if _, _, err := f.engine.MintLiquidity(alice, f.tokenA, 1_000, f.tokenB, 1_000); err != nil {
		t.Fatalf("mint liquidity failed: %v", err)
	}

	if _, err := f.engine.Swap(bob, f.tokenA, 0, f.tokenB); !errors.Is(err, ErrInsufficientAmount) {
		t.Errorf("expected ErrInsufficientAmount, got %v", err)
	}
	if _, err := f.engine.Swap(bob, f.tokenA, 100, f.tokenA); !errors.Is(err, ErrInvalidPair) {
		t.Errorf("expected ErrInvalidPair for identical tokens, got %v", err)
	}
	if _, err := f.engine.Swap(bob, f.tokenA, 100, 999); !errors.Is(err, ErrInvalidPair) {
		t.Errorf("expected ErrInvalidPair for unknown pool, got %v", err)
	}
	if _, err := f.engine.Swap(bob, f.tokenA, 2_000_000, f.tokenB); !errors.Is(err, asset.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	// Tiny input prices to zero output
	if _, err := f.engine.Swap(bob, f.tokenA, 1, f.tokenB); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Errorf("expected ErrInsufficientLiquidity for dust input, got %v", err)
	}
}

func TestBurnLiquidity(t *testing.T) {
	f := newFixture(t)

	lpt, minted, err := f.engine.MintLiquidity(alice, f.tokenA, 1_000, f.tokenB, 1_000)
	if err != nil {
		t.Fatalf("mint liquidity failed: %v", err)
	}

	aBefore := f.ledger.BalanceOf(f.tokenA, alice)
	reward0, reward1, err := f.engine.BurnLiquidity(alice, lpt, minted)
	if err != nil {
		t.Fatalf("burn liquidity failed: %v", err)
	}

	// 999 of 1000 supply redeems 999 of each reserve
	if reward0 != 999 || reward1 != 999 {
		t.Errorf("expected rewards (999, 999), got (%d, %d)", reward0, reward1)
	}
	if got := f.ledger.BalanceOf(f.tokenA, alice) - aBefore; got != 999 {
		t.Errorf("expected alice credited 999 of token A, got %d", got)
	}
	if f.ledger.BalanceOf(lpt, alice) != 0 {
		t.Errorf("expected all of alice's LP tokens burned")
	}
	// Minimum liquidity remains locked, so the pool survives
	if f.ledger.TotalSupply(lpt) != MinimumLiquidity {
		t.Errorf("expected supply %d after full burn, got %d", MinimumLiquidity, f.ledger.TotalSupply(lpt))
	}
	info, _ := f.engine.Pair(lpt)
	if info.Reserve0 != 1 || info.Reserve1 != 1 {
		t.Errorf("expected reserves (1, 1), got (%d, %d)", info.Reserve0, info.Reserve1)
	}
}

func TestBurnLiquidityRejections(t *testing.T) {
	f := newFixture(t)

	lpt, _, err := f.engine.MintLiquidity(alice, f.tokenA, 1_000, f.tokenB, 1_000)
	if err != nil {
		t.Fatalf("mint liquidity failed: %v", err)
	}

	if _, _, err := f.engine.BurnLiquidity(alice, 999, 10); !errors.Is(err, ErrNoneValue) {
		t.Errorf("expected ErrNoneValue for unknown LP token, got %v", err)
	}
	if _, _, err := f.engine.BurnLiquidity(bob, lpt, 10); !errors.Is(err, asset.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestInjectReserve(t *testing.T) {
	f := newFixture(t)

	lpt, _, err := f.engine.MintLiquidity(alice, f.tokenA, 1_000, f.tokenB, 1_000)
	if err != nil {
		t.Fatalf("mint liquidity failed: %v", err)
	}
	supplyBefore := f.ledger.TotalSupply(lpt)

	got, err := f.engine.InjectReserve(f.tokenA, f.tokenB, 250)
	if err != nil {
		t.Fatalf("inject reserve failed: %v", err)
	}
	if got != lpt {
		t.Errorf("expected LP token %d, got %d", lpt, got)
	}

	info, _ := f.engine.Pair(lpt)
	if info.Reserve0 != 1_000 || info.Reserve1 != 1_250 {
		t.Errorf("expected reserves (1000, 1250), got (%d, %d)", info.Reserve0, info.Reserve1)
	}
	// Injection dilutes nothing: LP supply is untouched
	if f.ledger.TotalSupply(lpt) != supplyBefore {
		t.Errorf("expected LP supply unchanged")
	}

	if _, err := f.engine.InjectReserve(f.tokenA, 999, 100); !errors.Is(err, ErrInvalidPair) {
		t.Errorf("expected ErrInvalidPair, got %v", err)
	}
	if _, err := f.engine.InjectReserve(f.tokenA, f.tokenB, 0); !errors.Is(err, asset.ErrZeroAmount) {
		t.Errorf("expected ErrZeroAmount, got %v", err)
	}
}

func TestEngineReload(t *testing.T) {
	f := newFixture(t)

	lpt, _, err := f.engine.MintLiquidity(alice, f.tokenA, 1_000, f.tokenB, 1_000)
	if err != nil {
		t.Fatalf("mint liquidity failed: %v", err)
	}
	if _, err := f.engine.Swap(bob, f.tokenA, 100, f.tokenB); err != nil {
		t.Fatalf("swap failed: %v", err)
	}

	reloaded, err := NewEngine(f.ledger, f.journal, f.store, f.clock, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to reload engine: %v", err)
	}

	info, ok := reloaded.Pair(lpt)
	if !ok {
		t.Fatalf("pair missing after reload")
	}
	if info.Reserve0 != 1_100 || info.Reserve1 != 910 {
		t.Errorf("expected reserves (1100, 910) after reload, got (%d, %d)", info.Reserve0, info.Reserve1)
	}
	if _, ok := reloaded.HasPair(f.tokenA, f.tokenB); !ok {
		t.Errorf("pair registry missing after reload")
	}
}

func TestEventsEmitted(t *testing.T) {
	f := newFixture(t)

	lpt, minted, err := f.engine.MintLiquidity(alice, f.tokenA, 1_000, f.tokenB, 1_000)
	if err != nil {
		t.Fatalf("mint liquidity failed: %v", err)
	}
	if _, err := f.engine.Swap(bob, f.tokenA, 100, f.tokenB); err != nil {
		t.Fatalf("swap failed: %v", err)
	}
	if _, _, err := f.engine.BurnLiquidity(alice, lpt, minted); err != nil {
		t.Fatalf("burn failed: %v", err)
	}

	recs := f.journal.List(0, 0)
	if len(recs) != 3 {
		t.Fatalf("expected 3 events, got %d", len(recs))
	}
	kinds := []events.Type{events.TypeCreatePair, events.TypeSwap, events.TypeBurnedLiquidity}
	for i, want := range kinds {
		if recs[i].Kind != want {
			t.Errorf("event %d: expected kind %s, got %s", i, want, recs[i].Kind)
		}
	}
}

package vault

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core/asset"
	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core/events"
	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core/market"
	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core/oracle"
	"github.com/standardweb3/standard-substrate-sub001/pkg/numeric"
	"github.com/standardweb3/standard-substrate-sub001/pkg/storage"
	"github.com/standardweb3/standard-substrate-sub001/pkg/util"
)

var (
	admin = common.HexToAddress("0x0100000000000000000000000000000000000000")
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob   = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

type fixture struct {
	store   *storage.Store
	ledger  *asset.Ledger
	oracle  *oracle.FeedOracle
	market  *market.Engine
	journal *events.Journal
	clock   *util.FakeClock
	engine  *Engine

	borrow     asset.ID
	collateral asset.ID
}

// newFixture builds a vault engine over a temporary Pebble database. The
// native asset is the borrow asset at price 1; one collateral token is
// issued at price 2 with a 1/2 max collateralization rate, a 5% liquidation
// fee, and a 1% stability fee.
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
	feed, err := oracle.NewFeedOracle(store, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create oracle: %v", err)
	}
	clock := util.NewFakeClock(time.Unix(1_700_000_000, 0))
	journal, err := events.NewJournal(store, clock, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create journal: %v", err)
	}
	mkt, err := market.NewEngine(ledger, journal, store, clock, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create market engine: %v", err)
	}

	borrow := asset.Native
	collateral, err := ledger.Issue()
	if err != nil {
		t.Fatalf("failed to issue collateral: %v", err)
	}

	engine, err := NewEngine(ledger, feed, mkt, journal, store, borrow, admin, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create vault engine: %v", err)
	}

	if err := feed.SetPrice(borrow, 1); err != nil {
		t.Fatalf("failed to set borrow price: %v", err)
	}
	if err := feed.SetPrice(collateral, 2); err != nil {
		t.Fatalf("failed to set collateral price: %v", err)
	}
	err = engine.SetPosition(admin, collateral,
		numeric.Ratio{Num: 5, Den: 100}, // liquidation fee
		numeric.Ratio{Num: 1, Den: 2},   // max collateralization rate
		numeric.Ratio{Num: 1, Den: 100}) // stability fee
	if err != nil {
		t.Fatalf("failed to set position: %v", err)
	}

	if err := ledger.Mint(collateral, alice, 10_000); err != nil {
		t.Fatalf("failed to fund alice: %v", err)
	}
	if err := ledger.Mint(collateral, bob, 10_000); err != nil {
		t.Fatalf("failed to fund bob: %v", err)
	}

	return &fixture{
		store:      store,
		ledger:     ledger,
		oracle:     feed,
		market:     mkt,
		journal:    journal,
		clock:      clock,
		engine:     engine,
		borrow:     borrow,
		collateral: collateral,
	}
}

// seedMarket opens a borrow/collateral pool so liquidations have a venue.
func (f *fixture) seedMarket(t *testing.T) asset.ID {
	t.Helper()

	if err := f.ledger.Mint(f.borrow, alice, 1_000); err != nil {
		t.Fatalf("failed to fund pool seed: %v", err)
	}
	lpt, _, err := f.market.MintLiquidity(alice, f.borrow, 1_000, f.collateral, 1_000)
	if err != nil {
		t.Fatalf("failed to seed market: %v", err)
	}
	return lpt
}

func TestGenerate(t *testing.T) {
	f := newFixture(t)

	// 100 collateral at price 2 supports borrowing up to (not including) 100
	if err := f.engine.Generate(alice, 99, f.collateral, 100); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if got := f.ledger.BalanceOf(f.borrow, alice); got != 99 {
		t.Errorf("expected alice credited 99 borrow asset, got %d", got)
	}
	if got := f.ledger.BalanceOf(f.collateral, asset.SystemAccount); got != 100 {
		t.Errorf("expected 100 collateral in custody, got %d", got)
	}
	cdp, ok := f.engine.Vault(alice, f.collateral)
	if !ok {
		t.Fatalf("vault record missing")
	}
	if cdp.Collateral != 100 || cdp.Borrowed != 99 {
		t.Errorf("expected vault (100, 99), got (%d, %d)", cdp.Collateral, cdp.Borrowed)
	}

	recs := f.journal.List(0, 0)
	if len(recs) == 0 || recs[len(recs)-1].Kind != events.TypeUpdateVault {
		t.Errorf("expected UpdateVault event")
	}
}

func TestGenerateAccumulates(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.Generate(alice, 40, f.collateral, 100); err != nil {
		t.Fatalf("first generate failed: %v", err)
	}
	if err := f.engine.Generate(alice, 40, f.collateral, 100); err != nil {
		t.Fatalf("second generate failed: %v", err)
	}

	cdp, _ := f.engine.Vault(alice, f.collateral)
	if cdp.Collateral != 200 || cdp.Borrowed != 80 {
		t.Errorf("expected cumulative vault (200, 80), got (%d, %d)", cdp.Collateral, cdp.Borrowed)
	}

	// The check runs against cumulative totals: 201 collateral at price 2
	// caps borrowing below 201, and 80 is already outstanding
	if err := f.engine.Generate(alice, 125, f.collateral, 0); !errors.Is(err, asset.ErrZeroAmount) {
		t.Errorf("expected ErrZeroAmount, got %v", err)
	}
	if err := f.engine.Generate(alice, 125, f.collateral, 1); !errors.Is(err, ErrInvalidCDP) {
		t.Errorf("expected ErrInvalidCDP on cumulative over-borrow, got %v", err)
	}
}

func TestGenerateRejections(t *testing.T) {
	f := newFixture(t)

	// Collateral value 200, rate 1/2: borrowing 101 breaches the cap
	if err := f.engine.Generate(alice, 101, f.collateral, 100); !errors.Is(err, ErrInvalidCDP) {
		t.Errorf("expected ErrInvalidCDP, got %v", err)
	}
	// Borrowing exactly the cap is also rejected: the check is strict
	if err := f.engine.Generate(alice, 100, f.collateral, 100); !errors.Is(err, ErrInvalidCDP) {
		t.Errorf("expected ErrInvalidCDP at exact cap, got %v", err)
	}
	if err := f.engine.Generate(alice, 0, f.collateral, 100); !errors.Is(err, asset.ErrZeroAmount) {
		t.Errorf("expected ErrZeroAmount, got %v", err)
	}
	if err := f.engine.Generate(alice, 10, 999, 100); !errors.Is(err, ErrCollateralNotSupported) {
		t.Errorf("expected ErrCollateralNotSupported, got %v", err)
	}
	if err := f.engine.Generate(alice, 10, f.collateral, 20_000); !errors.Is(err, asset.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}

	// A failed generate leaves no partial state
	if _, ok := f.engine.Vault(alice, f.collateral); ok {
		t.Errorf("expected no vault after rejected generates")
	}
	if got := f.ledger.BalanceOf(f.collateral, alice); got != 10_000 {
		t.Errorf("expected alice's collateral untouched, got %d", got)
	}
}

func TestGenerateWithoutPrice(t *testing.T) {
	f := newFixture(t)

	unpriced, err := f.ledger.Issue()
	if err != nil {
		t.Fatalf("failed to issue asset: %v", err)
	}
	err = f.engine.SetPosition(admin, unpriced,
		numeric.Ratio{Num: 5, Den: 100},
		numeric.Ratio{Num: 1, Den: 2},
		numeric.Ratio{Num: 1, Den: 100})
	if err != nil {
		t.Fatalf("failed to set position: %v", err)
	}

	if err := f.engine.Generate(alice, 10, unpriced, 100); !errors.Is(err, oracle.ErrPriceUnavailable) {
		t.Errorf("expected ErrPriceUnavailable, got %v", err)
	}
}

func TestClose(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.Generate(alice, 99, f.collateral, 100); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	supplyBefore := f.ledger.TotalSupply(f.borrow)

	if err := f.engine.Close(alice, f.collateral); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// Debt burned, 1% stability fee on collateral to the treasury,
	// remainder returned
	if got := f.ledger.BalanceOf(f.borrow, alice); got != 0 {
		t.Errorf("expected borrow balance settled, got %d", got)
	}
	if got := supplyBefore - f.ledger.TotalSupply(f.borrow); got != 99 {
		t.Errorf("expected borrow supply reduced by 99, got %d", got)
	}
	if got := f.ledger.BalanceOf(f.collateral, asset.TreasuryAccount); got != 1 {
		t.Errorf("expected stability fee 1 in treasury, got %d", got)
	}
	if got := f.ledger.BalanceOf(f.collateral, alice); got != 9_999 {
		t.Errorf("expected 99 collateral returned (balance 9999), got %d", got)
	}
	if _, ok := f.engine.Vault(alice, f.collateral); ok {
		t.Errorf("expected vault deleted after close")
	}

	recs := f.journal.List(0, 0)
	if recs[len(recs)-1].Kind != events.TypeCloseVault {
		t.Errorf("expected CloseVault event")
	}
}

func TestCloseRejections(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.Close(alice, f.collateral); !errors.Is(err, ErrVaultDoesNotExist) {
		t.Errorf("expected ErrVaultDoesNotExist, got %v", err)
	}

	if err := f.engine.Generate(alice, 99, f.collateral, 100); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	// Price collapse: the vault is out of rate and cannot be closed
	if err := f.oracle.SetPrice(f.collateral, 1); err != nil {
		t.Fatalf("failed to move price: %v", err)
	}
	if err := f.engine.Close(alice, f.collateral); !errors.Is(err, ErrAddMoreCollateral) {
		t.Errorf("expected ErrAddMoreCollateral, got %v", err)
	}

	// Solvent again, but the caller no longer holds the full debt
	if err := f.oracle.SetPrice(f.collateral, 2); err != nil {
		t.Fatalf("failed to move price: %v", err)
	}
	if err := f.ledger.Transfer(f.borrow, alice, bob, 50); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if err := f.engine.Close(alice, f.collateral); !errors.Is(err, asset.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	if _, ok := f.engine.Vault(alice, f.collateral); !ok {
		t.Errorf("vault must survive a failed close")
	}
}

func TestLiquidate(t *testing.T) {
	f := newFixture(t)
	lpt := f.seedMarket(t)

	if err := f.engine.Generate(bob, 99, f.collateral, 100); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	// Still collateralized: liquidation is unavailable
	if err := f.engine.Liquidate(alice, bob, f.collateral); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}

	// Collateral halves: value 100 at rate 1/2 no longer covers 99 debt
	if err := f.oracle.SetPrice(f.collateral, 1); err != nil {
		t.Fatalf("failed to move price: %v", err)
	}
	poolBefore, _ := f.market.Pair(lpt)
	liqBefore := f.ledger.BalanceOf(f.collateral, alice)

	if err := f.engine.Liquidate(alice, bob, f.collateral); err != nil {
		t.Fatalf("liquidate failed: %v", err)
	}

	// 5% of 100 collateral to the liquidator, the rest into the pool
	if got := f.ledger.BalanceOf(f.collateral, alice) - liqBefore; got != 5 {
		t.Errorf("expected liquidation fee 5, got %d", got)
	}
	poolAfter, _ := f.market.Pair(lpt)
	injected := (poolAfter.Reserve0 + poolAfter.Reserve1) - (poolBefore.Reserve0 + poolBefore.Reserve1)
	if injected != 95 {
		t.Errorf("expected 95 collateral injected into pool, got %d", injected)
	}
	if _, ok := f.engine.Vault(bob, f.collateral); ok {
		t.Errorf("expected vault deleted after liquidation")
	}
	// Bob keeps what he borrowed
	if got := f.ledger.BalanceOf(f.borrow, bob); got != 99 {
		t.Errorf("expected bob to retain 99 borrow asset, got %d", got)
	}

	recs := f.journal.List(0, 0)
	if recs[len(recs)-1].Kind != events.TypeLiquidate {
		t.Errorf("expected Liquidate event")
	}
}

func TestLiquidateWithoutMarket(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.Generate(bob, 99, f.collateral, 100); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if err := f.oracle.SetPrice(f.collateral, 1); err != nil {
		t.Fatalf("failed to move price: %v", err)
	}

	if err := f.engine.Liquidate(alice, bob, f.collateral); !errors.Is(err, ErrMarketDoesNotExist) {
		t.Errorf("expected ErrMarketDoesNotExist, got %v", err)
	}
	// No pool to absorb the collateral: the vault stays untouched
	if _, ok := f.engine.Vault(bob, f.collateral); !ok {
		t.Errorf("vault must survive a failed liquidation")
	}
}

func TestSetPositionGating(t *testing.T) {
	f := newFixture(t)

	err := f.engine.SetPosition(alice, f.collateral,
		numeric.Ratio{Num: 5, Den: 100},
		numeric.Ratio{Num: 1, Den: 2},
		numeric.Ratio{Num: 1, Den: 100})
	if !errors.Is(err, ErrBadOrigin) {
		t.Errorf("expected ErrBadOrigin, got %v", err)
	}

	// Fee ratios above one would make deductions underflow
	err = f.engine.SetPosition(admin, f.collateral,
		numeric.Ratio{Num: 3, Den: 2},
		numeric.Ratio{Num: 1, Den: 2},
		numeric.Ratio{Num: 1, Den: 100})
	if !errors.Is(err, ErrInvalidPosition) {
		t.Errorf("expected ErrInvalidPosition for improper fee, got %v", err)
	}
	err = f.engine.SetPosition(admin, f.collateral,
		numeric.Ratio{Num: 5, Den: 100},
		numeric.Ratio{Num: 1, Den: 0},
		numeric.Ratio{Num: 1, Den: 100})
	if !errors.Is(err, ErrInvalidPosition) {
		t.Errorf("expected ErrInvalidPosition for zero denominator, got %v", err)
	}

	// Overwriting with valid parameters takes effect immediately
	err = f.engine.SetPosition(admin, f.collateral,
		numeric.Ratio{Num: 10, Den: 100},
		numeric.Ratio{Num: 3, Den: 4},
		numeric.Ratio{Num: 2, Den: 100})
	if err != nil {
		t.Fatalf("set position failed: %v", err)
	}
	pos, ok := f.engine.Position(f.collateral)
	if !ok {
		t.Fatalf("position missing")
	}
	if pos.MaxCollateralizationRate.Num != 3 || pos.MaxCollateralizationRate.Den != 4 {
		t.Errorf("expected updated max rate 3/4, got %d/%d",
			pos.MaxCollateralizationRate.Num, pos.MaxCollateralizationRate.Den)
	}
}

func TestEngineReload(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.Generate(alice, 99, f.collateral, 100); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	reloaded, err := NewEngine(f.ledger, f.oracle, f.market, f.journal, f.store, f.borrow, admin, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to reload engine: %v", err)
	}

	cdp, ok := reloaded.Vault(alice, f.collateral)
	if !ok {
		t.Fatalf("vault missing after reload")
	}
	if cdp.Collateral != 100 || cdp.Borrowed != 99 {
		t.Errorf("expected vault (100, 99) after reload, got (%d, %d)", cdp.Collateral, cdp.Borrowed)
	}
	if _, ok := reloaded.Position(f.collateral); !ok {
		t.Errorf("position missing after reload")
	}
}

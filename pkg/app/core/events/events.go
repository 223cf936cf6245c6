// Package events defines the domain events emitted by the market and vault
// engines and the append-only journal that orders them. Every event carries
// the full identifiers and amounts needed to reconstruct the state delta
// without re-reading storage.
package events

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core/asset"
	"github.com/standardweb3/standard-substrate-sub001/pkg/numeric"
)

// Type tags an event for subscribers and storage.
type Type string

const (
	TypeCreatePair      Type = "CreatePair"
	TypeMintedLiquidity Type = "MintedLiquidity"
	TypeBurnedLiquidity Type = "BurnedLiquidity"
	TypeSwap            Type = "Swap"
	TypeUpdateVault     Type = "UpdateVault"
	TypeLiquidate       Type = "Liquidate"
	TypeCloseVault      Type = "CloseVault"
	TypeSetPosition     Type = "SetPosition"
)

// Event is implemented by every domain event.
type Event interface {
	Type() Type
}

// CreatePair is emitted on the first liquidity provision of a pair.
type CreatePair struct {
	Creator   common.Address `json:"creator"`
	Token0    asset.ID       `json:"token0"`
	Amount0   asset.Balance  `json:"amount0"`
	Token1    asset.ID       `json:"token1"`
	Amount1   asset.Balance  `json:"amount1"`
	LPToken   asset.ID       `json:"lpToken"`
	Liquidity asset.Balance  `json:"liquidity"`
}

func (CreatePair) Type() Type { return TypeCreatePair }

// MintedLiquidity is emitted on every provision after the first.
type MintedLiquidity struct {
	Provider  common.Address `json:"provider"`
	Token0    asset.ID       `json:"token0"`
	Amount0   asset.Balance  `json:"amount0"`
	Token1    asset.ID       `json:"token1"`
	Amount1   asset.Balance  `json:"amount1"`
	LPToken   asset.ID       `json:"lpToken"`
	Liquidity asset.Balance  `json:"liquidity"`
}

func (MintedLiquidity) Type() Type { return TypeMintedLiquidity }

// BurnedLiquidity is emitted when LP tokens are redeemed for reserves.
type BurnedLiquidity struct {
	Provider common.Address `json:"provider"`
	LPToken  asset.ID       `json:"lpToken"`
	Amount   asset.Balance  `json:"amount"`
	Token0   asset.ID       `json:"token0"`
	Reward0  asset.Balance  `json:"reward0"`
	Token1   asset.ID       `json:"token1"`
	Reward1  asset.Balance  `json:"reward1"`
}

func (BurnedLiquidity) Type() Type { return TypeBurnedLiquidity }

// Swap is emitted on every trade against a pair.
type Swap struct {
	Trader    common.Address `json:"trader"`
	LPToken   asset.ID       `json:"lpToken"`
	AssetIn   asset.ID       `json:"assetIn"`
	AmountIn  asset.Balance  `json:"amountIn"`
	AssetOut  asset.ID       `json:"assetOut"`
	AmountOut asset.Balance  `json:"amountOut"`
}

func (Swap) Type() Type { return TypeSwap }

// UpdateVault is emitted when a vault is opened or increased; amounts are
// the new cumulative totals.
type UpdateVault struct {
	Owner      common.Address `json:"owner"`
	Collateral asset.ID       `json:"collateral"`
	Deposited  asset.Balance  `json:"deposited"`
	Borrowed   asset.Balance  `json:"borrowed"`
}

func (UpdateVault) Type() Type { return TypeUpdateVault }

// Liquidate is emitted when an undercollateralized vault is seized.
type Liquidate struct {
	Owner      common.Address `json:"owner"`
	Liquidator common.Address `json:"liquidator"`
	Collateral asset.ID       `json:"collateral"`
	Seized     asset.Balance  `json:"seized"`
	Fee        asset.Balance  `json:"fee"`
	Injected   asset.Balance  `json:"injected"`
	LPToken    asset.ID       `json:"lpToken"`
	Debt       asset.Balance  `json:"debt"`
}

func (Liquidate) Type() Type { return TypeLiquidate }

// CloseVault is emitted when a solvent vault settles its debt and closes.
type CloseVault struct {
	Owner      common.Address `json:"owner"`
	Collateral asset.ID       `json:"collateral"`
	Settled    asset.Balance  `json:"settled"`
	Fee        asset.Balance  `json:"fee"`
	Returned   asset.Balance  `json:"returned"`
}

func (CloseVault) Type() Type { return TypeCloseVault }

// SetPosition is emitted when governance registers or updates the risk
// parameters of a collateral asset.
type SetPosition struct {
	Collateral               asset.ID      `json:"collateral"`
	LiquidationFee           numeric.Ratio `json:"liquidationFee"`
	MaxCollateralizationRate numeric.Ratio `json:"maxCollateralizationRate"`
	StabilityFee             numeric.Ratio `json:"stabilityFee"`
}

func (SetPosition) Type() Type { return TypeSetPosition }

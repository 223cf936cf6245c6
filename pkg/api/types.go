package api

// Request and response types for the REST endpoints and WebSocket messages.
// Pool and vault snapshots are served straight from the engine query types
// (market.PairInfo, market.Observation, vault.VaultInfo); only the
// API-specific shapes live here.

// BalanceInfo is one ledger cell.
type BalanceInfo struct {
	Address string `json:"address"`
	Asset   uint64 `json:"asset"`
	Balance uint64 `json:"balance"`
}

// SupplyInfo is the total supply of one asset.
type SupplyInfo struct {
	Asset  uint64 `json:"asset"`
	Supply uint64 `json:"supply"`
}

// PriceInfo is one reported oracle price.
type PriceInfo struct {
	Asset uint64 `json:"asset"`
	Price uint64 `json:"price"`
}

// RatioParam carries a rational parameter in requests and responses.
type RatioParam struct {
	Num uint64 `json:"num"`
	Den uint64 `json:"den"`
}

// PositionInfo is the registered risk parameters of a collateral asset.
type PositionInfo struct {
	Collateral               uint64     `json:"collateralAsset"`
	LiquidationFee           RatioParam `json:"liquidationFee"`
	MaxCollateralizationRate RatioParam `json:"maxCollateralizationRate"`
	StabilityFee             RatioParam `json:"stabilityFee"`
}

// MintLiquidityRequest is the payload for POST /api/v1/market/mint.
type MintLiquidityRequest struct {
	Caller  string `json:"caller"`
	Token0  uint64 `json:"token0"`
	Amount0 uint64 `json:"amount0"`
	Token1  uint64 `json:"token1"`
	Amount1 uint64 `json:"amount1"`
}

// MintLiquidityResponse reports the pool and the LP tokens minted.
type MintLiquidityResponse struct {
	LPToken   uint64 `json:"lpToken"`
	Liquidity uint64 `json:"liquidity"`
}

// BurnLiquidityRequest is the payload for POST /api/v1/market/burn.
type BurnLiquidityRequest struct {
	Caller  string `json:"caller"`
	LPToken uint64 `json:"lpToken"`
	Amount  uint64 `json:"amount"`
}

// BurnLiquidityResponse reports the redeemed reserve amounts in canonical
// token order.
type BurnLiquidityResponse struct {
	Reward0 uint64 `json:"reward0"`
	Reward1 uint64 `json:"reward1"`
}

// SwapRequest is the payload for POST /api/v1/market/swap.
type SwapRequest struct {
	Caller   string `json:"caller"`
	AssetIn  uint64 `json:"assetIn"`
	AmountIn uint64 `json:"amountIn"`
	AssetOut uint64 `json:"assetOut"`
}

// SwapResponse reports the executed output amount.
type SwapResponse struct {
	AmountOut uint64 `json:"amountOut"`
}

// GenerateRequest is the payload for POST /api/v1/vault/generate.
type GenerateRequest struct {
	Caller           string `json:"caller"`
	RequestAmount    uint64 `json:"requestAmount"`
	CollateralAsset  uint64 `json:"collateralAsset"`
	CollateralAmount uint64 `json:"collateralAmount"`
}

// LiquidateRequest is the payload for POST /api/v1/vault/liquidate.
type LiquidateRequest struct {
	Liquidator      string `json:"liquidator"`
	Owner           string `json:"owner"`
	CollateralAsset uint64 `json:"collateralAsset"`
}

// CloseRequest is the payload for POST /api/v1/vault/close.
type CloseRequest struct {
	Caller          string `json:"caller"`
	CollateralAsset uint64 `json:"collateralAsset"`
}

// SetPositionRequest is the payload for POST /api/v1/vault/position.
// Origin must be the configured admin address.
type SetPositionRequest struct {
	Origin                   string     `json:"origin"`
	CollateralAsset          uint64     `json:"collateralAsset"`
	LiquidationFee           RatioParam `json:"liquidationFee"`
	MaxCollateralizationRate RatioParam `json:"maxCollateralizationRate"`
	StabilityFee             RatioParam `json:"stabilityFee"`
}

// SetPriceRequest is the payload for POST /api/v1/oracle/price.
// Origin must be the configured admin address.
type SetPriceRequest struct {
	Origin string `json:"origin"`
	Asset  uint64 `json:"asset"`
	Price  uint64 `json:"price"`
}

// StatusResponse acknowledges an accepted state transition.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WSSubscribeRequest is sent by a client to manage channel subscriptions.
// The only channel today is "events".
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// Package api serves the REST query/submit surface and the WebSocket event
// stream over the engine stack.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core"
	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core/asset"
	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core/events"
	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core/market"
	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core/oracle"
	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core/vault"
	"github.com/standardweb3/standard-substrate-sub001/pkg/numeric"
)

// channelEvents is the WebSocket channel carrying journal records.
const channelEvents = "events"

// Server handles REST API and WebSocket connections.
type Server struct {
	core   *core.Core
	router *mux.Router
	hub    *Hub
	log    *zap.Logger
}

// NewServer wires a server over the core and subscribes the WebSocket hub
// to the event journal.
func NewServer(c *core.Core, logger *zap.Logger) *Server {
	s := &Server{
		core:   c,
		router: mux.NewRouter(),
		hub:    NewHub(logger),
		log:    logger,
	}

	s.setupRoutes()

	// Stream every committed event to subscribed WebSocket clients
	c.Journal.SetSink(func(rec events.Record) {
		s.hub.BroadcastToChannel(channelEvents, rec)
	})
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market queries
	api.HandleFunc("/pairs", s.handleGetPairs).Methods("GET")
	api.HandleFunc("/pairs/{lpt}", s.handleGetPair).Methods("GET")
	api.HandleFunc("/pairs/{lpt}/twap", s.handleGetTwap).Methods("GET")

	// Ledger queries
	api.HandleFunc("/accounts/{address}/balances/{asset}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/assets/{asset}/supply", s.handleGetSupply).Methods("GET")

	// Vault queries
	api.HandleFunc("/vaults", s.handleGetVaults).Methods("GET")
	api.HandleFunc("/vaults/{address}/{asset}", s.handleGetVault).Methods("GET")
	api.HandleFunc("/positions/{asset}", s.handleGetPosition).Methods("GET")

	// Oracle and event queries
	api.HandleFunc("/prices", s.handleGetPrices).Methods("GET")
	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")

	// State transitions
	api.HandleFunc("/market/mint", s.handleMintLiquidity).Methods("POST")
	api.HandleFunc("/market/burn", s.handleBurnLiquidity).Methods("POST")
	api.HandleFunc("/market/swap", s.handleSwap).Methods("POST")
	api.HandleFunc("/vault/generate", s.handleGenerate).Methods("POST")
	api.HandleFunc("/vault/liquidate", s.handleLiquidate).Methods("POST")
	api.HandleFunc("/vault/close", s.handleClose).Methods("POST")
	api.HandleFunc("/vault/position", s.handleSetPosition).Methods("POST")
	api.HandleFunc("/oracle/price", s.handleSetPrice).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the hub and serves HTTP on addr. Blocks.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	handler := c.Handler(s.router)

	s.log.Info("api server starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, handler)
}

// ==============================
// Query handlers
// ==============================

func (s *Server) handleGetPairs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.core.Market.Pairs())
}

func (s *Server) handleGetPair(w http.ResponseWriter, r *http.Request) {
	lpt, ok := pathAssetID(w, r, "lpt")
	if !ok {
		return
	}
	info, found := s.core.Market.Pair(lpt)
	if !found {
		respondError(w, http.StatusNotFound, "pair not found", "")
		return
	}
	respondJSON(w, info)
}

func (s *Server) handleGetTwap(w http.ResponseWriter, r *http.Request) {
	lpt, ok := pathAssetID(w, r, "lpt")
	if !ok {
		return
	}
	obs, found := s.core.Market.Twap(lpt)
	if !found {
		respondError(w, http.StatusNotFound, "pair not found", "")
		return
	}
	respondJSON(w, obs)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	id, ok := pathAssetID(w, r, "asset")
	if !ok {
		return
	}
	respondJSON(w, BalanceInfo{
		Address: addr.Hex(),
		Asset:   uint64(id),
		Balance: s.core.Ledger.BalanceOf(id, addr),
	})
}

func (s *Server) handleGetSupply(w http.ResponseWriter, r *http.Request) {
	id, ok := pathAssetID(w, r, "asset")
	if !ok {
		return
	}
	respondJSON(w, SupplyInfo{
		Asset:  uint64(id),
		Supply: s.core.Ledger.TotalSupply(id),
	})
}

func (s *Server) handleGetVaults(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.core.Vault.Vaults())
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	id, ok := pathAssetID(w, r, "asset")
	if !ok {
		return
	}
	cdp, found := s.core.Vault.Vault(addr, id)
	if !found {
		respondError(w, http.StatusNotFound, "vault not found", "")
		return
	}
	respondJSON(w, vault.VaultInfo{
		Owner:      addr,
		Collateral: id,
		Deposited:  cdp.Collateral,
		Borrowed:   cdp.Borrowed,
	})
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathAssetID(w, r, "asset")
	if !ok {
		return
	}
	pos, found := s.core.Vault.Position(id)
	if !found {
		respondError(w, http.StatusNotFound, "position not found", "")
		return
	}
	respondJSON(w, PositionInfo{
		Collateral:               uint64(id),
		LiquidationFee:           RatioParam{Num: pos.LiquidationFee.Num, Den: pos.LiquidationFee.Den},
		MaxCollateralizationRate: RatioParam{Num: pos.MaxCollateralizationRate.Num, Den: pos.MaxCollateralizationRate.Den},
		StabilityFee:             RatioParam{Num: pos.StabilityFee.Num, Den: pos.StabilityFee.Den},
	})
}

func (s *Server) handleGetPrices(w http.ResponseWriter, r *http.Request) {
	prices := s.core.Oracle.Prices()
	out := make([]PriceInfo, 0, len(prices))
	for id, price := range prices {
		out = append(out, PriceInfo{Asset: uint64(id), Price: price})
	}
	respondJSON(w, out)
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	after := queryUint(r, "after", 0)
	limit := int(queryUint(r, "limit", 100))
	respondJSON(w, s.core.Journal.List(after, limit))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Transition handlers
// ==============================

func (s *Server) handleMintLiquidity(w http.ResponseWriter, r *http.Request) {
	var req MintLiquidityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}

	lpt, liquidity, err := s.core.Market.MintLiquidity(caller,
		asset.ID(req.Token0), req.Amount0, asset.ID(req.Token1), req.Amount1)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, MintLiquidityResponse{LPToken: uint64(lpt), Liquidity: liquidity})
}

func (s *Server) handleBurnLiquidity(w http.ResponseWriter, r *http.Request) {
	var req BurnLiquidityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}

	reward0, reward1, err := s.core.Market.BurnLiquidity(caller, asset.ID(req.LPToken), req.Amount)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, BurnLiquidityResponse{Reward0: reward0, Reward1: reward1})
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	var req SwapRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}

	out, err := s.core.Market.Swap(caller, asset.ID(req.AssetIn), req.AmountIn, asset.ID(req.AssetOut))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, SwapResponse{AmountOut: out})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}

	err := s.core.Vault.Generate(caller, req.RequestAmount,
		asset.ID(req.CollateralAsset), req.CollateralAmount)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, StatusResponse{Status: "ok"})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req LiquidateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	liquidator, ok := parseAddress(w, req.Liquidator)
	if !ok {
		return
	}
	owner, ok := parseAddress(w, req.Owner)
	if !ok {
		return
	}

	if err := s.core.Vault.Liquidate(liquidator, owner, asset.ID(req.CollateralAsset)); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, StatusResponse{Status: "ok"})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	var req CloseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}

	if err := s.core.Vault.Close(caller, asset.ID(req.CollateralAsset)); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, StatusResponse{Status: "ok"})
}

func (s *Server) handleSetPosition(w http.ResponseWriter, r *http.Request) {
	var req SetPositionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	origin, ok := parseAddress(w, req.Origin)
	if !ok {
		return
	}

	err := s.core.Vault.SetPosition(origin, asset.ID(req.CollateralAsset),
		numeric.Ratio{Num: req.LiquidationFee.Num, Den: req.LiquidationFee.Den},
		numeric.Ratio{Num: req.MaxCollateralizationRate.Num, Den: req.MaxCollateralizationRate.Den},
		numeric.Ratio{Num: req.StabilityFee.Num, Den: req.StabilityFee.Den})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, StatusResponse{Status: "ok"})
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	var req SetPriceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	origin, ok := parseAddress(w, req.Origin)
	if !ok {
		return
	}
	if origin != s.core.Admin {
		respondError(w, http.StatusForbidden, "bad origin", "price reports require the admin address")
		return
	}

	if err := s.core.Oracle.SetPrice(asset.ID(req.Asset), req.Price); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, StatusResponse{Status: "ok"})
}

// ==============================
// Helpers
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}

// respondEngineError maps engine sentinels onto HTTP status codes.
func respondEngineError(w http.ResponseWriter, err error) {
	status := http.StatusUnprocessableEntity
	switch {
	case errors.Is(err, market.ErrInvalidPair),
		errors.Is(err, market.ErrNoneValue),
		errors.Is(err, vault.ErrVaultDoesNotExist),
		errors.Is(err, vault.ErrCollateralNotSupported),
		errors.Is(err, vault.ErrMarketDoesNotExist),
		errors.Is(err, oracle.ErrPriceUnavailable):
		status = http.StatusNotFound
	case errors.Is(err, vault.ErrBadOrigin):
		status = http.StatusForbidden
	case errors.Is(err, asset.ErrZeroAmount),
		errors.Is(err, market.ErrIdenticalIdentifier),
		errors.Is(err, market.ErrInsufficientAmount),
		errors.Is(err, vault.ErrInvalidPosition):
		status = http.StatusBadRequest
	}
	respondError(w, status, "rejected", err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

func parseAddress(w http.ResponseWriter, raw string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, "invalid address", raw)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func pathAddress(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	return parseAddress(w, mux.Vars(r)[name])
}

func pathAssetID(w http.ResponseWriter, r *http.Request, name string) (asset.ID, bool) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid asset id", raw)
		return 0, false
	}
	return asset.ID(id), true
}

func queryUint(r *http.Request, name string, fallback uint64) uint64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

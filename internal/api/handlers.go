package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/realstake/realstake-backend/internal/calc"
	"github.com/realstake/realstake-backend/internal/config"
	"github.com/realstake/realstake-backend/internal/listings"
	"github.com/realstake/realstake-backend/internal/markets"
	"github.com/realstake/realstake-backend/internal/mirror"
	"github.com/realstake/realstake-backend/internal/orderbook"
	"github.com/realstake/realstake-backend/internal/portfolio"
	"github.com/realstake/realstake-backend/internal/store"
	"github.com/realstake/realstake-backend/internal/ws"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultQueryWait = 10 * time.Second

type Handler struct {
	marketsSvc   *markets.Service
	orderbookSvc *orderbook.Service
	portfolioSvc *portfolio.Service
	listingsSvc  *listings.Service
	state        *mirror.Mirror
	wsHub        *ws.Hub
	sseHandler   *ws.SSEHandler
	cache        *store.Cache
	config       *config.Config
	logger       *zap.SugaredLogger
	queryWait    time.Duration
	now          func() time.Time
}

func NewHandler(
	marketsSvc *markets.Service,
	orderbookSvc *orderbook.Service,
	portfolioSvc *portfolio.Service,
	listingsSvc *listings.Service,
	state *mirror.Mirror,
	wsHub *ws.Hub,
	sseHandler *ws.SSEHandler,
	cache *store.Cache,
	config *config.Config,
	logger *zap.SugaredLogger,
) *Handler {
	return &Handler{
		marketsSvc:   marketsSvc,
		orderbookSvc: orderbookSvc,
		portfolioSvc: portfolioSvc,
		listingsSvc:  listingsSvc,
		state:        state,
		wsHub:        wsHub,
		sseHandler:   sseHandler,
		cache:        cache,
		config:       config,
		logger:       logger,
		queryWait:    defaultQueryWait,
		now:          time.Now,
	}
}

// Markets

func (h *Handler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	list, err := h.marketsSvc.List(r.Context())
	if err != nil {
		h.writeUpstreamError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, MarketsDTO{Markets: list})
}

func (h *Handler) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, ok := h.lookupMarket(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, market)
}

// GetOrderbook serves the live book as the upstream returned it. A precision
// query parameter groups levels to that tick in the response only.
func (h *Handler) GetOrderbook(w http.ResponseWriter, r *http.Request) {
	marketID, ok := h.marketID(w, r)
	if !ok {
		return
	}
	depth, err := intParam(r, "depth", h.config.Orderbook.Depth)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	var tick decimal.Decimal
	if raw := r.URL.Query().Get("precision"); raw != "" {
		if tick, err = calc.ValidatePrecision(raw); err != nil {
			h.writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
			return
		}
	}

	sub, err := h.orderbookSvc.SubscribeOrderbook(marketID, depth)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	if tick.IsZero() {
		serveQuery(h, w, r, sub)
		return
	}
	serveQueryAs(h, w, r, sub, func(book orderbook.Orderbook) orderbook.Orderbook {
		return orderbook.GroupBook(book, tick)
	})
}

// GetStats serves the shared state snapshot, which trails the live order
// book by at most one poll.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	marketID, ok := h.marketID(w, r)
	if !ok {
		return
	}
	snap, ok := h.state.Latest(marketID)
	if !ok {
		h.writeError(w, http.StatusNotFound, codeNoSnapshot, fmt.Sprintf("no order book state for market %d", marketID))
		return
	}

	clamp := func(a calc.Amount) string {
		return calc.ClampDisplay(a, calc.DefaultClampMin, calc.DefaultClampMax)
	}
	h.writeJSON(w, http.StatusOK, StatsDTO{
		MarketID: snap.MarketID,
		Stats:    snap.Stats,
		Display: StatsDisplayDTO{
			BestBid:  clamp(snap.Stats.BestBid),
			BestAsk:  clamp(snap.Stats.BestAsk),
			Spread:   clamp(snap.Stats.Spread),
			MidPrice: clamp(snap.Stats.MidPrice),
		},
		Version:   snap.Version,
		UpdatedAt: snap.UpdatedAt.Unix(),
	})
}

func (h *Handler) GetTrades(w http.ResponseWriter, r *http.Request) {
	marketID, ok := h.marketID(w, r)
	if !ok {
		return
	}
	limit, err := intParam(r, "limit", h.config.Orderbook.TradeHistoryLimit)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}

	sub, err := h.orderbookSvc.SubscribeTrades(marketID, limit)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	serveQuery(h, w, r, sub)
}

func (h *Handler) GetAccountBalance(w http.ResponseWriter, r *http.Request) {
	market, ok := h.lookupMarket(w, r)
	if !ok {
		return
	}
	sub, err := h.portfolioSvc.SubscribeBalance(market, chi.URLParam(r, "address"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, codeInvalidAddress, err.Error())
		return
	}
	serveQuery(h, w, r, sub)
}

func (h *Handler) GetCollateral(w http.ResponseWriter, r *http.Request) {
	market, ok := h.lookupMarket(w, r)
	if !ok {
		return
	}
	asset := portfolio.Asset(r.URL.Query().Get("asset"))
	if asset == "" {
		asset = portfolio.AssetBase
	}
	address := chi.URLParam(r, "address")

	sub, err := h.portfolioSvc.SubscribeCollateral(market, address, asset)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	serveQueryAs(h, w, r, sub, func(a calc.Amount) CollateralDTO {
		return CollateralDTO{
			MarketID: market.MarketID,
			Address:  address,
			Asset:    string(asset),
			Amount:   a,
		}
	})
}

// Listings and tokens

func (h *Handler) ListListings(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	serveQueryAs(h, w, r, h.listingsSvc.SubscribeListings(), func(infos []listings.ListingInfo) []listings.ListingInfo {
		out := make([]listings.ListingInfo, len(infos))
		for i, info := range infos {
			info.IsMintActive = info.MintActiveAt(now)
			out[i] = info
		}
		return out
	})
}

func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	sub, err := h.listingsSvc.SubscribeListing(chi.URLParam(r, "address"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, codeInvalidAddress, err.Error())
		return
	}
	now := h.now()
	serveQueryAs(h, w, r, sub, func(d listings.ListingDetail) listings.ListingDetail {
		d.IsMintActive = d.MintActiveAt(now)
		return d
	})
}

func (h *Handler) ListTokens(w http.ResponseWriter, r *http.Request) {
	serveQuery(h, w, r, h.listingsSvc.SubscribeTokens())
}

func (h *Handler) GetTokenSupply(w http.ResponseWriter, r *http.Request) {
	sub, err := h.listingsSvc.SubscribeTokenSupply(chi.URLParam(r, "assetType"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, codeInvalidAddress, err.Error())
		return
	}
	serveQuery(h, w, r, sub)
}

// User portfolio

func (h *Handler) GetUserHoldings(w http.ResponseWriter, r *http.Request) {
	sub, err := h.portfolioSvc.SubscribeHoldings(chi.URLParam(r, "address"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, codeInvalidAddress, err.Error())
		return
	}
	serveQuery(h, w, r, sub)
}

func (h *Handler) GetUserCoinBalance(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	coinType, err := url.PathUnescape(chi.URLParam(r, "coinType"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, codeInvalidParams, "invalid coin type")
		return
	}

	sub, err := h.portfolioSvc.SubscribeCoinBalance(address, coinType)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	serveQueryAs(h, w, r, sub, func(a calc.Amount) CoinBalanceDTO {
		return CoinBalanceDTO{Address: address, CoinType: coinType, Amount: a}
	})
}

// Health and ops endpoints
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.Ping(r.Context()); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, codeNotReady, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY"))
}

// WebSocket endpoint
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHub.HandleWebSocket(w, r)
}

// SSE endpoint
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	h.sseHandler.HandleSSE(w, r)
}

// Utility methods

func (h *Handler) marketID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, codeInvalidMarketID, fmt.Sprintf("invalid market id %q", raw))
		return 0, false
	}
	return id, true
}

func (h *Handler) lookupMarket(w http.ResponseWriter, r *http.Request) (markets.MarketIdentity, bool) {
	id, ok := h.marketID(w, r)
	if !ok {
		return markets.MarketIdentity{}, false
	}
	market, err := h.marketsSvc.Get(r.Context(), id)
	if errors.Is(err, markets.ErrMarketNotFound) {
		h.writeError(w, http.StatusNotFound, codeMarketNotFound, err.Error())
		return markets.MarketIdentity{}, false
	}
	if err != nil {
		h.writeUpstreamError(w, err)
		return markets.MarketIdentity{}, false
	}
	return market, true
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("API error", "code", code, "message", message, "status", status)
	} else {
		h.logger.Debugw("API error", "code", code, "message", message, "status", status)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := ErrorResponse{
		Code:    code,
		Message: message,
	}
	json.NewEncoder(w).Encode(err)
}

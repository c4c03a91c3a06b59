package api

import (
	"github.com/realstake/realstake-backend/internal/calc"
	"github.com/realstake/realstake-backend/internal/markets"
	"github.com/realstake/realstake-backend/internal/orderbook"
)

// QueryDTO mirrors a live query result. Data is null until the first
// successful fetch; Error carries the last fetch failure alongside any
// previously fetched data.
type QueryDTO[V any] struct {
	Data          *V      `json:"data"`
	IsLoading     bool    `json:"isLoading"`
	IsFetching    bool    `json:"isFetching"`
	Error         *string `json:"error"`
	LastFetchedAt *int64  `json:"lastFetchedAt"`
}

type MarketsDTO struct {
	Markets []markets.MarketIdentity `json:"markets"`
}

type StatsDTO struct {
	MarketID  uint64               `json:"market_id"`
	Stats     orderbook.PriceStats `json:"stats"`
	Display   StatsDisplayDTO      `json:"display"`
	Version   uint64               `json:"version"`
	UpdatedAt int64                `json:"updatedAt"`
}

// StatsDisplayDTO holds clamped strings for compact tickers.
type StatsDisplayDTO struct {
	BestBid  string `json:"best_bid"`
	BestAsk  string `json:"best_ask"`
	Spread   string `json:"spread"`
	MidPrice string `json:"mid_price"`
}

type CollateralDTO struct {
	MarketID uint64      `json:"market_id"`
	Address  string      `json:"address"`
	Asset    string      `json:"asset"`
	Amount   calc.Amount `json:"amount"`
}

type CoinBalanceDTO struct {
	Address  string      `json:"address"`
	CoinType string      `json:"coin_type"`
	Amount   calc.Amount `json:"amount"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

const (
	codeInvalidParams       = "INVALID_PARAMS"
	codeInvalidMarketID     = "INVALID_MARKET_ID"
	codeInvalidAddress      = "INVALID_ADDRESS"
	codeMarketNotFound      = "MARKET_NOT_FOUND"
	codeNoSnapshot          = "NO_SNAPSHOT"
	codeDecodeError         = "DECODE_ERROR"
	codeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	codeNotReady            = "NOT_READY"
)

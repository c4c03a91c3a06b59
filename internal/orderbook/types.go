package orderbook

import (
	"time"

	"github.com/realstake/realstake-backend/internal/calc"
	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// PriceLevel is the aggregate resting size at one price. Prices and sizes
// are in the order-book service's integer units.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
	Side  Side            `json:"side"`
}

// Orderbook holds bids best (highest) first and asks best (lowest) first, in
// the order the service returned them.
type Orderbook struct {
	MarketID uint64       `json:"market_id"`
	Bids     []PriceLevel `json:"bids"`
	Asks     []PriceLevel `json:"asks"`
}

// BestBid returns the first bid level, if any.
func (b Orderbook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the first ask level, if any.
func (b Orderbook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// PriceStats is derived from an Orderbook. Best prices, spread and mid are
// unknown when a side is empty.
type PriceStats struct {
	MarketID  uint64          `json:"market_id"`
	BestBid   calc.Amount     `json:"best_bid"`
	BestAsk   calc.Amount     `json:"best_ask"`
	Spread    calc.Amount     `json:"spread"`
	MidPrice  calc.Amount     `json:"mid_price"`
	BidDepth  decimal.Decimal `json:"bid_depth"`
	AskDepth  decimal.Decimal `json:"ask_depth"`
	BidLevels int             `json:"bid_levels"`
	AskLevels int             `json:"ask_levels"`
	Crossed   bool            `json:"crossed"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Trade is one fill of a market.
type Trade struct {
	TxnVersion uint64          `json:"txn_version"`
	EventIdx   uint64          `json:"event_idx"`
	MarketID   uint64          `json:"market_id"`
	Price      decimal.Decimal `json:"price"`
	Size       decimal.Decimal `json:"size"`
	MakerSide  Side            `json:"maker_side"`
	Time       time.Time       `json:"time"`
}

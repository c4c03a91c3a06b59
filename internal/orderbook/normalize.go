package orderbook

import (
	"time"

	"github.com/realstake/realstake-backend/internal/calc"
	"github.com/realstake/realstake-backend/internal/econia"
	"github.com/shopspring/decimal"
)

// NormalizeOrderBook converts raw price-level rows into an Orderbook. Rows
// keep their order and count; nothing is sorted, merged or dropped. The side
// of each level comes from the list it arrived in.
func NormalizeOrderBook(marketID uint64, rawBids, rawAsks []econia.RawPriceLevel) Orderbook {
	return Orderbook{
		MarketID: marketID,
		Bids:     toLevels(rawBids, SideBid),
		Asks:     toLevels(rawAsks, SideAsk),
	}
}

func toLevels(rows []econia.RawPriceLevel, side Side) []PriceLevel {
	levels := make([]PriceLevel, len(rows))
	for i, row := range rows {
		levels[i] = PriceLevel{
			Price: row.Price,
			Size:  row.TotalSize,
			Side:  side,
		}
	}
	return levels
}

var two = decimal.NewFromInt(2)

// ComputeStats derives best prices, spread and depth. A book whose best bid
// is at or above its best ask is flagged as crossed, not rejected.
func ComputeStats(book Orderbook, now time.Time) PriceStats {
	stats := PriceStats{
		MarketID:  book.MarketID,
		BidDepth:  totalSize(book.Bids),
		AskDepth:  totalSize(book.Asks),
		BidLevels: len(book.Bids),
		AskLevels: len(book.Asks),
		UpdatedAt: now,
	}

	bid, hasBid := book.BestBid()
	ask, hasAsk := book.BestAsk()
	if hasBid {
		stats.BestBid = calc.NewAmount(bid.Price)
	}
	if hasAsk {
		stats.BestAsk = calc.NewAmount(ask.Price)
	}
	if hasBid && hasAsk {
		stats.Spread = calc.NewAmount(ask.Price.Sub(bid.Price))
		stats.MidPrice = calc.NewAmount(ask.Price.Add(bid.Price).Div(two))
		stats.Crossed = bid.Price.GreaterThanOrEqual(ask.Price)
	}
	return stats
}

func totalSize(levels []PriceLevel) decimal.Decimal {
	total := decimal.Zero
	for _, l := range levels {
		total = total.Add(l.Size)
	}
	return total
}

// orderingViolations counts adjacent levels that break the expected
// monotonic order: bids strictly descending, asks strictly ascending.
func orderingViolations(book Orderbook) (bids, asks int) {
	for i := 1; i < len(book.Bids); i++ {
		if !book.Bids[i].Price.LessThan(book.Bids[i-1].Price) {
			bids++
		}
	}
	for i := 1; i < len(book.Asks); i++ {
		if !book.Asks[i].Price.GreaterThan(book.Asks[i-1].Price) {
			asks++
		}
	}
	return bids, asks
}

// NormalizeTrades converts fill rows into trades, keeping their order.
func NormalizeTrades(fills []econia.RawFill) []Trade {
	trades := make([]Trade, len(fills))
	for i, f := range fills {
		side := SideBid
		if f.MakerSide {
			side = SideAsk
		}
		trades[i] = Trade{
			TxnVersion: f.TxnVersion,
			EventIdx:   f.EventIdx,
			MarketID:   f.MarketID,
			Price:      f.Price,
			Size:       f.Size,
			MakerSide:  side,
			Time:       f.Time,
		}
	}
	return trades
}

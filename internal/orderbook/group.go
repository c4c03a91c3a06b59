package orderbook

import "github.com/shopspring/decimal"

// Group merges levels into buckets of width tick for display. Bid prices
// round down and ask prices round up so a bucket never looks better than the
// levels inside it. Input order is preserved, which keeps sorted input sorted.
func Group(levels []PriceLevel, tick decimal.Decimal) []PriceLevel {
	if !tick.IsPositive() || len(levels) == 0 {
		return levels
	}

	grouped := make([]PriceLevel, 0, len(levels))
	index := make(map[string]int, len(levels))
	for _, l := range levels {
		price := bucket(l.Price, tick, l.Side)
		k := price.String()
		if i, ok := index[k]; ok {
			grouped[i].Size = grouped[i].Size.Add(l.Size)
			continue
		}
		index[k] = len(grouped)
		grouped = append(grouped, PriceLevel{Price: price, Size: l.Size, Side: l.Side})
	}
	return grouped
}

// GroupBook applies Group to both sides.
func GroupBook(book Orderbook, tick decimal.Decimal) Orderbook {
	return Orderbook{
		MarketID: book.MarketID,
		Bids:     Group(book.Bids, tick),
		Asks:     Group(book.Asks, tick),
	}
}

func bucket(price, tick decimal.Decimal, side Side) decimal.Decimal {
	steps := price.Div(tick)
	if side == SideAsk {
		return steps.Ceil().Mul(tick)
	}
	return steps.Floor().Mul(tick)
}

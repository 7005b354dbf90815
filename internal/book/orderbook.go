package book

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"papersim/internal/model"
	"papersim/pkg/exception"
)

var two = decimal.NewFromInt(2)

// ledger is one book side kept sorted by ascending price.
// A level with zero size is never stored.
type ledger []model.PriceLevel

func (l ledger) search(price decimal.Decimal) (int, bool) {
	i := sort.Search(len(l), func(i int) bool { return l[i].Price.Cmp(price) >= 0 })
	if i < len(l) && l[i].Price.Equal(price) {
		return i, true
	}
	return i, false
}

func (l ledger) upsert(price, size decimal.Decimal) ledger {
	i, ok := l.search(price)
	if ok {
		l[i].Size = size
		return l
	}
	l = append(l, model.PriceLevel{})
	copy(l[i+1:], l[i:])
	l[i] = model.PriceLevel{Price: price, Size: size}
	return l
}

func (l ledger) remove(price decimal.Decimal) ledger {
	i, ok := l.search(price)
	if !ok {
		return l
	}
	return append(l[:i], l[i+1:]...)
}

// Orderbook is the per-symbol price-level model for one exchange feed.
//
// It trusts the caller to deliver updates in feed order; there is no
// sequence-number validation here, so gaps or reordering silently corrupt
// the model until the next snapshot.
type Orderbook struct {
	symbol     string
	bids       ledger
	asks       ledger
	lastUpdate int64
}

// New creates an empty book for the symbol.
func New(symbol string) *Orderbook {
	return &Orderbook{symbol: symbol}
}

func (b *Orderbook) Symbol() string { return b.symbol }

// LastUpdate returns the feed timestamp of the latest applied update.
func (b *Orderbook) LastUpdate() int64 { return b.lastUpdate }

// Depth returns the number of levels per side.
func (b *Orderbook) Depth() (bids, asks int) { return len(b.bids), len(b.asks) }

func validate(records []model.PriceLevel) error {
	for _, r := range records {
		if r.Price.Sign() <= 0 {
			return errors.Wrap(exception.ErrBookInvalidUpdate, "non-positive price").
				With("price", r.Price.String())
		}
		if r.Size.Sign() < 0 {
			return errors.Wrap(exception.ErrBookInvalidUpdate, "negative size").
				With("price", r.Price.String())
		}
	}
	return nil
}

// ApplySnapshot replaces both sides wholesale. Records with zero size are
// dropped, never stored.
func (b *Orderbook) ApplySnapshot(bids, asks []model.PriceLevel, ts int64) error {
	if err := validate(bids); err != nil {
		return err
	}
	if err := validate(asks); err != nil {
		return err
	}

	b.bids = b.bids[:0]
	b.asks = b.asks[:0]
	for _, r := range bids {
		if r.Size.Sign() > 0 {
			b.bids = b.bids.upsert(r.Price, r.Size)
		}
	}
	for _, r := range asks {
		if r.Size.Sign() > 0 {
			b.asks = b.asks.upsert(r.Price, r.Size)
		}
	}
	b.lastUpdate = ts
	return nil
}

// ApplyDelta upserts each record, removing the level when its size is zero.
// Removing an absent level is a no-op. Invalid records reject the whole
// update without touching the book.
func (b *Orderbook) ApplyDelta(bids, asks []model.PriceLevel, ts int64) error {
	if err := validate(bids); err != nil {
		return err
	}
	if err := validate(asks); err != nil {
		return err
	}

	for _, r := range bids {
		if r.Size.Sign() == 0 {
			b.bids = b.bids.remove(r.Price)
		} else {
			b.bids = b.bids.upsert(r.Price, r.Size)
		}
	}
	for _, r := range asks {
		if r.Size.Sign() == 0 {
			b.asks = b.asks.remove(r.Price)
		} else {
			b.asks = b.asks.upsert(r.Price, r.Size)
		}
	}
	b.lastUpdate = ts
	return nil
}

// BestBid returns the highest bid level.
func (b *Orderbook) BestBid() (model.PriceLevel, error) {
	if len(b.bids) == 0 {
		return model.PriceLevel{}, errors.Wrap(exception.ErrBookEmptySide, "best bid").
			With("symbol", b.symbol)
	}
	return b.bids[len(b.bids)-1], nil
}

// BestAsk returns the lowest ask level.
func (b *Orderbook) BestAsk() (model.PriceLevel, error) {
	if len(b.asks) == 0 {
		return model.PriceLevel{}, errors.Wrap(exception.ErrBookEmptySide, "best ask").
			With("symbol", b.symbol)
	}
	return b.asks[0], nil
}

// Spread returns best ask minus best bid.
func (b *Orderbook) Spread() (decimal.Decimal, error) {
	bid, err := b.BestBid()
	if err != nil {
		return decimal.Zero, err
	}
	ask, err := b.BestAsk()
	if err != nil {
		return decimal.Zero, err
	}
	return ask.Price.Sub(bid.Price), nil
}

// MidPrice returns the midpoint of the best levels.
func (b *Orderbook) MidPrice() (decimal.Decimal, error) {
	bid, err := b.BestBid()
	if err != nil {
		return decimal.Zero, err
	}
	ask, err := b.BestAsk()
	if err != nil {
		return decimal.Zero, err
	}
	return ask.Price.Add(bid.Price).Div(two), nil
}

// Imbalance returns (bestBidSize - bestAskSize) / (bestBidSize + bestAskSize).
func (b *Orderbook) Imbalance() (decimal.Decimal, error) {
	bid, err := b.BestBid()
	if err != nil {
		return decimal.Zero, err
	}
	ask, err := b.BestAsk()
	if err != nil {
		return decimal.Zero, err
	}
	denom := bid.Size.Add(ask.Size)
	if denom.IsZero() {
		return decimal.Zero, errors.Wrap(exception.ErrBookDivideByZero, "imbalance").
			With("symbol", b.symbol)
	}
	return bid.Size.Sub(ask.Size).Div(denom), nil
}

// Consume sweeps one side of the local book to price an aggressive order and
// returns the volume-weighted average execution price. A positive size buys
// against the asks, a negative size sells against the bids, zero returns the
// mid price. Fully swept levels are removed, a partially swept level keeps
// the remainder.
//
// The removal is a local simulation side effect: the real exchange book is
// unaffected, so the model diverges from reality until the next snapshot or
// delta arrives. That divergence is an accepted approximation.
//
// When the side runs out before the requested size is filled the call fails
// with ErrBookInsufficientLiquidity and the book is left untouched.
func (b *Orderbook) Consume(size decimal.Decimal) (decimal.Decimal, error) {
	if size.IsZero() {
		return b.MidPrice()
	}

	var side ledger
	if size.Sign() > 0 {
		side = b.asks
	} else {
		side = b.bids
	}

	want := size.Abs()
	remaining := want
	raw := decimal.Zero
	full := 0
	partial := decimal.Zero

	for i := 0; i < len(side) && remaining.Sign() > 0; i++ {
		lvl := side[i]
		if size.Sign() < 0 {
			// bids are swept from the high end
			lvl = side[len(side)-1-i]
		}
		take := remaining
		if lvl.Size.Cmp(take) < 0 {
			take = lvl.Size
		}
		raw = raw.Add(lvl.Price.Mul(take))
		remaining = remaining.Sub(take)
		if take.Equal(lvl.Size) {
			full++
		} else {
			partial = lvl.Size.Sub(take)
		}
	}

	if remaining.Sign() > 0 {
		return decimal.Zero, errors.Wrap(exception.ErrBookInsufficientLiquidity, "consume").
			With("unfilled", remaining.String())
	}

	if size.Sign() > 0 {
		b.asks = append(ledger{}, b.asks[full:]...)
		if partial.Sign() > 0 {
			b.asks[0].Size = partial
		}
	} else {
		b.bids = append(ledger{}, b.bids[:len(b.bids)-full]...)
		if partial.Sign() > 0 {
			b.bids[len(b.bids)-1].Size = partial
		}
	}

	return raw.Div(want), nil
}

// Bids returns the bid levels sorted from best (highest) to worst.
func (b *Orderbook) Bids() []model.PriceLevel {
	out := make([]model.PriceLevel, 0, len(b.bids))
	for i := len(b.bids) - 1; i >= 0; i-- {
		out = append(out, b.bids[i])
	}
	return out
}

// Asks returns the ask levels sorted from best (lowest) to worst.
func (b *Orderbook) Asks() []model.PriceLevel {
	out := make([]model.PriceLevel, len(b.asks))
	copy(out, b.asks)
	return out
}

// String renders the book as a bid/ask ladder.
func (b *Orderbook) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (bids: %d, asks: %d)\n", b.symbol, len(b.bids), len(b.asks))

	bids := b.Bids()
	asks := b.Asks()
	rows := len(bids)
	if len(asks) > rows {
		rows = len(asks)
	}
	for i := 0; i < rows; i++ {
		bidCol := strings.Repeat(" ", 23)
		askCol := ""
		if i < len(bids) {
			bidCol = fmt.Sprintf("%12s %10s", bids[i].Price.String(), bids[i].Size.String())
		}
		if i < len(asks) {
			askCol = fmt.Sprintf("%10s %12s", asks[i].Size.String(), asks[i].Price.String())
		}
		fmt.Fprintf(&sb, "%s | %s\n", bidCol, askCol)
	}
	return sb.String()
}

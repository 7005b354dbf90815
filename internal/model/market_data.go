package model

import (
	"github.com/shopspring/decimal"

	"papersim/internal/model/enum"
)

// PriceLevel is one resting (price, size) pair on a book side.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// BookUpdate is a normalized order book message. Kind decides whether the
// records replace the book wholesale or patch it level by level.
type BookUpdate struct {
	Exchange string              `json:"exchange"`
	Symbol   string              `json:"symbol"`
	Kind     enum.BookUpdateKind `json:"kind"`
	Bids     []PriceLevel        `json:"bids"`
	Asks     []PriceLevel        `json:"asks"`
	Ts       int64               `json:"ts"`
}

// Trade is a normalized public trade.
type Trade struct {
	Exchange string          `json:"exchange"`
	Symbol   string          `json:"symbol"`
	Side     enum.Side       `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Size     decimal.Decimal `json:"size"`
	Ts       int64           `json:"ts"`
}

// Candle is a normalized kline. Confirmed marks a closed interval.
type Candle struct {
	Exchange  string          `json:"exchange"`
	Symbol    string          `json:"symbol"`
	Interval  string          `json:"interval"`
	Start     int64           `json:"start"`
	End       int64           `json:"end"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Turnover  decimal.Decimal `json:"turnover"`
	Confirmed bool            `json:"confirmed"`
	Ts        int64           `json:"ts"`
}

// Liquidation is a normalized forced-liquidation record.
type Liquidation struct {
	Exchange string          `json:"exchange"`
	Symbol   string          `json:"symbol"`
	Side     enum.Side       `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Size     decimal.Decimal `json:"size"`
	Ts       int64           `json:"ts"`
}

// Event is the unit delivered from a feed handler to the engine queue.
// Exactly one payload pointer matching Kind is set.
type Event struct {
	Kind        enum.EventKind `json:"kind"`
	Book        *BookUpdate    `json:"book,omitempty"`
	Trade       *Trade         `json:"trade,omitempty"`
	Candle      *Candle        `json:"candle,omitempty"`
	Liquidation *Liquidation   `json:"liquidation,omitempty"`
}

// Timestamp returns the feed timestamp of the wrapped payload.
func (e Event) Timestamp() int64 {
	switch e.Kind {
	case enum.EventBookUpdate:
		if e.Book != nil {
			return e.Book.Ts
		}
	case enum.EventTrade:
		if e.Trade != nil {
			return e.Trade.Ts
		}
	case enum.EventCandle:
		if e.Candle != nil {
			return e.Candle.Ts
		}
	case enum.EventLiquidation:
		if e.Liquidation != nil {
			return e.Liquidation.Ts
		}
	}
	return 0
}

// Valid reports whether the payload matching Kind is present.
func (e Event) Valid() bool {
	switch e.Kind {
	case enum.EventBookUpdate:
		return e.Book != nil
	case enum.EventTrade:
		return e.Trade != nil
	case enum.EventCandle:
		return e.Candle != nil
	case enum.EventLiquidation:
		return e.Liquidation != nil
	default:
		return false
	}
}

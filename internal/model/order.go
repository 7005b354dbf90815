package model

import (
	"github.com/shopspring/decimal"

	"papersim/internal/model/enum"
)

// Order is a simulated order record. Identity fields never change after
// placement; Status and UpdatedTs do.
type Order struct {
	ID          uint64           `json:"id"`
	Exchange    string           `json:"exchange"`
	Symbol      string           `json:"symbol"`
	Side        enum.Side        `json:"side"`
	Type        enum.OrderType   `json:"type"`
	Status      enum.OrderStatus `json:"status"`
	TimeInForce enum.TimeInForce `json:"timeInForce"`
	Price       decimal.Decimal  `json:"price"`
	Size        decimal.Decimal  `json:"size"`
	ReduceOnly  bool             `json:"reduceOnly"`
	CreatedTs   int64            `json:"createdTs"`
	UpdatedTs   int64            `json:"updatedTs"`
}

// Position is the net exposure on one (exchange, symbol) pair.
// Size > 0 is long, < 0 is short. AvgPrice is meaningful only while
// Size is non-zero.
type Position struct {
	Exchange string          `json:"exchange"`
	Symbol   string          `json:"symbol"`
	Size     decimal.Decimal `json:"size"`
	AvgPrice decimal.Decimal `json:"avgPrice"`
}

// Flat reports whether the position has no exposure.
func (p Position) Flat() bool {
	return p.Size.IsZero()
}

// Notional is the book value of the position (size times entry average).
func (p Position) Notional() decimal.Decimal {
	return p.Size.Mul(p.AvgPrice)
}

package engine

import (
	"github.com/shopspring/decimal"

	"papersim/internal/book"
	"papersim/internal/model"
)

// Strategy receives synchronous notifications from the engine. Every
// callback runs on the engine worker goroutine, after the state change it
// reports has been applied; it is safe to call engine action methods from
// inside a callback.
type Strategy interface {
	// OnReady fires once when the engine starts, before any event.
	OnReady(e *Engine)
	// OnOrderbookUpdate fires after a snapshot or delta has been applied
	// and resting orders have been evaluated.
	OnOrderbookUpdate(symbol, exchange string, orderbook *book.Orderbook, ts int64)
	OnTrade(trade model.Trade)
	OnCandleUpdate(candle model.Candle)
	OnLiquidation(liquidation model.Liquidation)
	OnOrderFilled(order model.Order, ts int64)
	OnPositionChange(position model.Position, ts int64)
	OnBalanceChange(exchange string, balance decimal.Decimal, ts int64)
}

// BaseStrategy is a no-op Strategy for embedding, so strategies only
// implement the callbacks they care about.
type BaseStrategy struct{}

func (BaseStrategy) OnReady(*Engine)                                          {}
func (BaseStrategy) OnOrderbookUpdate(string, string, *book.Orderbook, int64) {}
func (BaseStrategy) OnTrade(model.Trade)                                      {}
func (BaseStrategy) OnCandleUpdate(model.Candle)                              {}
func (BaseStrategy) OnLiquidation(model.Liquidation)                          {}
func (BaseStrategy) OnOrderFilled(model.Order, int64)                         {}
func (BaseStrategy) OnPositionChange(model.Position, int64)                   {}
func (BaseStrategy) OnBalanceChange(string, decimal.Decimal, int64)           {}

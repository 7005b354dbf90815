package account

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"papersim/internal/model"
	"papersim/internal/model/enum"
	"papersim/pkg/exception"
)

type pairKey struct {
	exchange string
	symbol   string
}

// Account is the simulated trading account: one cash balance per exchange,
// net positions per (exchange, symbol), the resting-order index and the full
// order history.
//
// Account has no internal locking. Every mutating call must come from a
// single logical writer; the engine provides that serialization.
type Account struct {
	balances  map[string]decimal.Decimal
	positions map[pairKey]model.Position
	resting   map[pairKey]map[uint64]*model.Order
	history   map[uint64]*model.Order
	byPair    map[pairKey][]uint64
}

// New creates an account funded with the same initial balance per exchange.
func New(initialBalance decimal.Decimal, exchanges ...string) *Account {
	a := &Account{
		balances:  make(map[string]decimal.Decimal, len(exchanges)),
		positions: make(map[pairKey]model.Position),
		resting:   make(map[pairKey]map[uint64]*model.Order),
		history:   make(map[uint64]*model.Order),
		byPair:    make(map[pairKey][]uint64),
	}
	for _, exchange := range exchanges {
		a.balances[exchange] = initialBalance
	}
	return a
}

// AddExchange registers an exchange with the given starting balance.
// Re-registering an existing exchange is a no-op.
func (a *Account) AddExchange(exchange string, initialBalance decimal.Decimal) {
	if _, ok := a.balances[exchange]; !ok {
		a.balances[exchange] = initialBalance
	}
}

// HasExchange reports whether the exchange is funded on this account.
func (a *Account) HasExchange(exchange string) bool {
	_, ok := a.balances[exchange]
	return ok
}

// Balance returns the cash balance for the exchange.
func (a *Account) Balance(exchange string) (decimal.Decimal, error) {
	balance, ok := a.balances[exchange]
	if !ok {
		return decimal.Zero, errors.Wrap(exception.ErrAccountUnknownExchange, "balance").
			With("exchange", exchange)
	}
	return balance, nil
}

// Adjust moves the balance by delta (negative debits) and returns the new
// balance.
func (a *Account) Adjust(exchange string, delta decimal.Decimal) (decimal.Decimal, error) {
	balance, ok := a.balances[exchange]
	if !ok {
		return decimal.Zero, errors.Wrap(exception.ErrAccountUnknownExchange, "adjust").
			With("exchange", exchange)
	}
	next := balance.Add(delta)
	a.balances[exchange] = next
	return next, nil
}

// Position returns the current position, a flat zero-value one when none
// exists.
func (a *Account) Position(exchange, symbol string) model.Position {
	pos, ok := a.positions[pairKey{exchange, symbol}]
	if !ok {
		return model.Position{Exchange: exchange, Symbol: symbol}
	}
	return pos
}

// Positions returns all open positions on the exchange sorted by symbol.
func (a *Account) Positions(exchange string) []model.Position {
	out := make([]model.Position, 0, len(a.positions))
	for key, pos := range a.positions {
		if key.exchange == exchange {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// ApplyFill folds a fill into the position and returns the updated position.
//
// Average-price policy: same-direction fills blend the entry average by
// notional weight; a fill that shrinks the position without crossing zero
// keeps the average unchanged; reaching exactly zero clears it; crossing
// zero flips the position and restarts the average at the fill price.
func (a *Account) ApplyFill(exchange, symbol string, side enum.Side, size, price decimal.Decimal) model.Position {
	delta := size
	if side == enum.SideSell {
		delta = size.Neg()
	}

	key := pairKey{exchange, symbol}
	pos, ok := a.positions[key]
	if !ok {
		pos = model.Position{Exchange: exchange, Symbol: symbol, Size: decimal.Zero, AvgPrice: decimal.Zero}
	}

	newSize := pos.Size.Add(delta)
	switch {
	case pos.Size.IsZero():
		pos.AvgPrice = price
	case pos.Size.Sign() == delta.Sign():
		pos.AvgPrice = pos.Size.Mul(pos.AvgPrice).Add(delta.Mul(price)).Div(newSize)
	case newSize.IsZero():
		pos.AvgPrice = decimal.Zero
	case newSize.Sign() == pos.Size.Sign():
		// partial close keeps the entry average
	default:
		// flipped through zero
		pos.AvgPrice = price
	}
	pos.Size = newSize

	if pos.Size.IsZero() {
		delete(a.positions, key)
	} else {
		a.positions[key] = pos
	}
	return pos
}

// Equity is the book-value equity: balance plus size times entry average for
// every open position. It deliberately ignores the current market price.
func (a *Account) Equity(exchange string) (decimal.Decimal, error) {
	equity, err := a.Balance(exchange)
	if err != nil {
		return decimal.Zero, err
	}
	for key, pos := range a.positions {
		if key.exchange == exchange {
			equity = equity.Add(pos.Notional())
		}
	}
	return equity, nil
}

// MarkedEquity values open positions at the marked price instead of the
// entry average. Positions without a mark fall back to book value.
func (a *Account) MarkedEquity(exchange string, mark func(symbol string) (decimal.Decimal, bool)) (decimal.Decimal, error) {
	equity, err := a.Balance(exchange)
	if err != nil {
		return decimal.Zero, err
	}
	for key, pos := range a.positions {
		if key.exchange != exchange {
			continue
		}
		if price, ok := mark(key.symbol); ok {
			equity = equity.Add(pos.Size.Mul(price))
		} else {
			equity = equity.Add(pos.Notional())
		}
	}
	return equity, nil
}

// Record inserts the order into the history index.
func (a *Account) Record(order *model.Order) {
	key := pairKey{order.Exchange, order.Symbol}
	a.history[order.ID] = order
	a.byPair[key] = append(a.byPair[key], order.ID)
}

// Rest adds a New limit order to the resting index. The order must already
// be recorded.
func (a *Account) Rest(order *model.Order) {
	key := pairKey{order.Exchange, order.Symbol}
	byID, ok := a.resting[key]
	if !ok {
		byID = make(map[uint64]*model.Order)
		a.resting[key] = byID
	}
	byID[order.ID] = order
}

// Unrest removes an order from the resting index and returns it.
func (a *Account) Unrest(exchange, symbol string, id uint64) (*model.Order, bool) {
	key := pairKey{exchange, symbol}
	order, ok := a.resting[key][id]
	if !ok {
		return nil, false
	}
	delete(a.resting[key], id)
	return order, true
}

// RestingIDs returns the resting order IDs for the pair in ascending order,
// so repeated evaluations are deterministic.
func (a *Account) RestingIDs(exchange, symbol string) []uint64 {
	byID := a.resting[pairKey{exchange, symbol}]
	ids := make([]uint64, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RestingOrder returns the resting order with the given ID.
func (a *Account) RestingOrder(exchange, symbol string, id uint64) (*model.Order, bool) {
	order, ok := a.resting[pairKey{exchange, symbol}][id]
	return order, ok
}

// Order returns a copy of the order record from history.
func (a *Account) Order(exchange, symbol string, id uint64) (model.Order, bool) {
	order, ok := a.history[id]
	if !ok || order.Exchange != exchange || order.Symbol != symbol {
		return model.Order{}, false
	}
	return *order, true
}

// Orders returns copies of every order ever placed on the pair, ascending by
// ID.
func (a *Account) Orders(exchange, symbol string) []model.Order {
	ids := a.byPair[pairKey{exchange, symbol}]
	out := make([]model.Order, 0, len(ids))
	for _, id := range ids {
		if order, ok := a.history[id]; ok {
			out = append(out, *order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

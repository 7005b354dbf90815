package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"papersim/internal/account"
	"papersim/internal/book"
	"papersim/internal/bus"
	"papersim/internal/model"
	"papersim/internal/model/enum"
	"papersim/internal/obs"
	"papersim/internal/risk"
	"papersim/pkg/exception"
)

// BookSource provides the live order book for a symbol on one exchange.
// The engine is the only mutator of the returned books.
type BookSource interface {
	Book(symbol string) *book.Orderbook
}

// Config carries the engine construction parameters.
type Config struct {
	InitialBalance decimal.Decimal
	Risk           risk.Config
	QueueSize      int
	Metrics        *obs.Metrics
}

// Engine is the matching and accounting core. It drains feed events from a
// single queue, applies them to the per-exchange books, fills resting orders
// that got crossed, and fans out strategy callbacks.
//
// Serialization contract: all book and account mutations happen either on
// the worker goroutine or under the engine mutex. Strategy callbacks run on
// the worker goroutine with the mutex released, so calling back into action
// methods does not deadlock.
type Engine struct {
	mu       sync.Mutex
	account  *account.Account
	feeds    map[string]BookSource
	risk     *risk.Engine
	queue    *bus.Queue
	metrics  *obs.Metrics
	strategy Strategy
	nextID   uint64
	now      func() int64

	initialBalance decimal.Decimal
}

// New creates an engine with no feeds attached.
func New(cfg Config) *Engine {
	return &Engine{
		account:        account.New(cfg.InitialBalance),
		feeds:          make(map[string]BookSource),
		risk:           risk.NewEngine(cfg.Risk),
		queue:          bus.NewQueue(cfg.QueueSize),
		metrics:        cfg.Metrics,
		now:            func() int64 { return time.Now().UnixMilli() },
		initialBalance: cfg.InitialBalance,
	}
}

// AttachFeed registers an exchange feed and funds its balance.
func (e *Engine) AttachFeed(exchange string, source BookSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.feeds[exchange] = source
	e.account.AddExchange(exchange, e.initialBalance)
}

// SetStrategy installs the strategy collaborator. Must be called before
// Start.
func (e *Engine) SetStrategy(s Strategy) {
	e.strategy = s
}

// Start fires OnReady and launches the worker that drains the event queue.
func (e *Engine) Start(ctx context.Context) {
	if e.strategy != nil {
		e.strategy.OnReady(e)
	}
	go e.queue.Run(ctx, e.process)
}

// Stop closes the intake queue.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Publish hands a normalized feed event to the engine without blocking.
func (e *Engine) Publish(event model.Event) error {
	if !event.Valid() {
		return errors.Wrap(exception.ErrOrderInvalidRequest, "publish malformed event")
	}
	if err := e.queue.TryPublish(event); err != nil {
		e.metrics.IncQueueDrop()
		return err
	}
	return nil
}

// Apply processes one event synchronously, bypassing the queue. Replay
// tools use it to keep event handling deterministic; it must not be mixed
// with a started worker.
func (e *Engine) Apply(event model.Event) error {
	if !event.Valid() {
		return errors.Wrap(exception.ErrOrderInvalidRequest, "apply malformed event")
	}
	e.process(event)
	return nil
}

type note func()

func (e *Engine) fire(notes []note) {
	for _, n := range notes {
		n()
	}
}

func (e *Engine) process(event model.Event) {
	switch event.Kind {
	case enum.EventBookUpdate:
		e.processBookUpdate(*event.Book)
	case enum.EventTrade:
		e.metrics.IncTrade()
		if e.strategy != nil {
			e.strategy.OnTrade(*event.Trade)
		}
	case enum.EventCandle:
		e.metrics.IncCandle()
		if e.strategy != nil {
			e.strategy.OnCandleUpdate(*event.Candle)
		}
	case enum.EventLiquidation:
		e.metrics.IncLiquidation()
		if e.strategy != nil {
			e.strategy.OnLiquidation(*event.Liquidation)
		}
	}
}

func (e *Engine) processBookUpdate(update model.BookUpdate) {
	e.mu.Lock()
	source, ok := e.feeds[update.Exchange]
	if !ok {
		e.mu.Unlock()
		logs.Errorf("book update for unknown exchange %q", update.Exchange)
		return
	}

	orderbook := source.Book(update.Symbol)
	var err error
	switch update.Kind {
	case enum.BookUpdateSnapshot:
		err = orderbook.ApplySnapshot(update.Bids, update.Asks, update.Ts)
	case enum.BookUpdateDelta:
		err = orderbook.ApplyDelta(update.Bids, update.Asks, update.Ts)
	default:
		err = errors.Wrap(exception.ErrBookInvalidUpdate, "unknown update kind")
	}
	if err != nil {
		e.mu.Unlock()
		e.metrics.IncInvalidUpdate()
		logs.Errorf("apply %s update for %s, err: %+v", update.Kind, update.Symbol, err)
		return
	}
	e.metrics.IncBookUpdate()

	notes := e.evalRestingLocked(update.Exchange, update.Symbol, orderbook, update.Ts)
	e.mu.Unlock()

	e.fire(notes)
	if e.strategy != nil {
		e.strategy.OnOrderbookUpdate(update.Symbol, update.Exchange, orderbook, update.Ts)
	}
}

// evalRestingLocked fills every resting order on the pair whose price got
// crossed by the update. Orders are visited in ascending ID order so a
// single update crossing several prices resolves deterministically.
//
// A resting fill executes at the order's own limit price, not a swept
// average: a deliberate simplification versus true book consumption.
func (e *Engine) evalRestingLocked(exchange, symbol string, orderbook *book.Orderbook, ts int64) []note {
	var notes []note

	bestBid, bidErr := orderbook.BestBid()
	bestAsk, askErr := orderbook.BestAsk()

	for _, id := range e.account.RestingIDs(exchange, symbol) {
		order, ok := e.account.RestingOrder(exchange, symbol, id)
		if !ok {
			continue
		}

		crossed := false
		switch order.Side {
		case enum.SideBuy:
			// an empty bid side leaves best_bid undefined; skip rather
			// than guess
			crossed = bidErr == nil && order.Price.Cmp(bestBid.Price) > 0
		case enum.SideSell:
			crossed = askErr == nil && order.Price.Cmp(bestAsk.Price) < 0
		}
		if !crossed {
			continue
		}

		e.account.Unrest(exchange, symbol, id)

		// a resting fill settles notional at its own limit price
		notional := order.Size.Mul(order.Price)
		if order.Side == enum.SideBuy {
			notional = notional.Neg()
		}
		balance, err := e.account.Adjust(exchange, notional)
		if err != nil {
			logs.Errorf("settle resting order %d, err: %+v", id, err)
			continue
		}

		position := e.account.ApplyFill(exchange, symbol, order.Side, order.Size, order.Price)
		order.Status = enum.OrderStatusFilled
		order.UpdatedTs = ts
		e.metrics.IncFill()

		filled := *order
		if e.strategy != nil {
			notes = append(notes,
				func() { e.strategy.OnOrderFilled(filled, ts) },
				func() { e.strategy.OnPositionChange(position, ts) },
				func() { e.strategy.OnBalanceChange(exchange, balance, ts) },
			)
		}
	}
	return notes
}

// PlaceMarket executes an aggressive order against the local book and
// returns the filled order record.
func (e *Engine) PlaceMarket(symbol, exchange string, side enum.Side, size decimal.Decimal, reduceOnly bool, tif enum.TimeInForce) (model.Order, error) {
	if !side.IsAvailable() || size.Sign() <= 0 {
		return model.Order{}, errors.Wrap(exception.ErrOrderInvalidRequest, "place market")
	}

	e.mu.Lock()
	source, ok := e.feeds[exchange]
	if !ok {
		e.mu.Unlock()
		return model.Order{}, errors.Wrap(exception.ErrAccountUnknownExchange, "place market").
			With("exchange", exchange)
	}
	orderbook := source.Book(symbol)

	position := e.account.Position(exchange, symbol)
	size, err := clampReduceOnly(position.Size, side, size, reduceOnly)
	if err != nil {
		e.mu.Unlock()
		e.metrics.IncReject()
		return model.Order{}, err
	}

	reference, _ := orderbook.MidPrice()
	decision := e.risk.Evaluate(
		risk.Intent{Side: side, Size: size},
		risk.StateView{Position: position.Size, ReferencePrice: reference},
	)
	if !decision.Allowed {
		e.mu.Unlock()
		e.metrics.IncReject()
		return model.Order{}, errors.Wrap(exception.ErrOrderRejected, decision.Reason.String())
	}

	balance, err := e.account.Balance(exchange)
	if err != nil {
		e.mu.Unlock()
		return model.Order{}, err
	}
	// the balance gate compares raw size, a cash-flow proxy rather than a
	// margin computation
	if balance.Cmp(size) < 0 {
		e.mu.Unlock()
		e.metrics.IncReject()
		return model.Order{}, errors.Wrap(exception.ErrOrderInsufficientBalance, "place market").
			With("balance", balance.String())
	}

	signed := size
	if side == enum.SideSell {
		signed = size.Neg()
	}
	fillPrice, err := orderbook.Consume(signed)
	if err != nil {
		e.mu.Unlock()
		return model.Order{}, err
	}

	// settle notional so a fill at its own fair price leaves equity
	// unchanged
	delta := size.Mul(fillPrice)
	if side == enum.SideBuy {
		delta = delta.Neg()
	}
	balance, err = e.account.Adjust(exchange, delta)
	if err != nil {
		e.mu.Unlock()
		return model.Order{}, err
	}

	position = e.account.ApplyFill(exchange, symbol, side, size, fillPrice)

	ts := e.now()
	order := &model.Order{
		ID:          e.nextOrderID(),
		Exchange:    exchange,
		Symbol:      symbol,
		Side:        side,
		Type:        enum.OrderTypeMarket,
		Status:      enum.OrderStatusFilled,
		TimeInForce: tif,
		Price:       fillPrice,
		Size:        size,
		ReduceOnly:  reduceOnly,
		CreatedTs:   ts,
		UpdatedTs:   ts,
	}
	e.account.Record(order)
	e.metrics.IncFill()

	filled := *order
	e.mu.Unlock()

	if e.strategy != nil {
		e.strategy.OnOrderFilled(filled, ts)
		e.strategy.OnPositionChange(position, ts)
		e.strategy.OnBalanceChange(exchange, balance, ts)
	}
	return filled, nil
}

// PlaceLimit places a limit order. A crossing price executes immediately as
// a market order unless postOnly is set; otherwise the order rests until a
// later update crosses it or it is cancelled.
func (e *Engine) PlaceLimit(symbol, exchange string, side enum.Side, size, price decimal.Decimal, postOnly, reduceOnly bool, tif enum.TimeInForce) (model.Order, error) {
	if !side.IsAvailable() || size.Sign() <= 0 || price.Sign() <= 0 {
		return model.Order{}, errors.Wrap(exception.ErrOrderInvalidRequest, "place limit")
	}

	e.mu.Lock()
	source, ok := e.feeds[exchange]
	if !ok {
		e.mu.Unlock()
		return model.Order{}, errors.Wrap(exception.ErrAccountUnknownExchange, "place limit").
			With("exchange", exchange)
	}
	orderbook := source.Book(symbol)

	crossing := false
	switch side {
	case enum.SideBuy:
		if ask, err := orderbook.BestAsk(); err == nil {
			crossing = price.Cmp(ask.Price) >= 0
		}
	case enum.SideSell:
		if bid, err := orderbook.BestBid(); err == nil {
			crossing = price.Cmp(bid.Price) <= 0
		}
	}
	if crossing && !postOnly {
		e.mu.Unlock()
		// the crossing check only gates escalation; the fill prices off
		// the book, not off the limit price
		return e.PlaceMarket(symbol, exchange, side, size, reduceOnly, tif)
	}

	position := e.account.Position(exchange, symbol)
	decision := e.risk.Evaluate(
		risk.Intent{Side: side, Size: size, Price: price},
		risk.StateView{Position: position.Size, ReferencePrice: price},
	)
	if !decision.Allowed {
		e.mu.Unlock()
		e.metrics.IncReject()
		return model.Order{}, errors.Wrap(exception.ErrOrderRejected, decision.Reason.String())
	}

	ts := e.now()
	order := &model.Order{
		ID:          e.nextOrderID(),
		Exchange:    exchange,
		Symbol:      symbol,
		Side:        side,
		Type:        enum.OrderTypeLimit,
		Status:      enum.OrderStatusNew,
		TimeInForce: tif,
		Price:       price,
		Size:        size,
		ReduceOnly:  reduceOnly,
		CreatedTs:   ts,
		UpdatedTs:   ts,
	}
	e.account.Record(order)
	e.account.Rest(order)
	placed := *order
	e.mu.Unlock()

	return placed, nil
}

// CancelOrder transitions a resting order from New to Cancelled.
func (e *Engine) CancelOrder(symbol, exchange string, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.account.Unrest(exchange, symbol, id)
	if !ok {
		return errors.Wrap(exception.ErrOrderNotFound, "cancel").
			With("id", id)
	}
	order.Status = enum.OrderStatusCancelled
	order.UpdatedTs = e.now()
	return nil
}

// CancelAllOrders cancels every resting order on the pair in ascending ID
// order and returns how many were cancelled.
func (e *Engine) CancelAllOrders(symbol, exchange string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	ts := e.now()
	cancelled := 0
	for _, id := range e.account.RestingIDs(exchange, symbol) {
		order, ok := e.account.Unrest(exchange, symbol, id)
		if !ok {
			continue
		}
		order.Status = enum.OrderStatusCancelled
		order.UpdatedTs = ts
		cancelled++
	}
	return cancelled
}

// Order returns the order record from history.
func (e *Engine) Order(symbol, exchange string, id uint64) (model.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account.Order(exchange, symbol, id)
}

// Orders returns every order ever placed on the pair, ascending by ID.
func (e *Engine) Orders(symbol, exchange string) []model.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account.Orders(exchange, symbol)
}

// Position returns the current position for the pair.
func (e *Engine) Position(symbol, exchange string) model.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account.Position(exchange, symbol)
}

// Positions returns all open positions on the exchange.
func (e *Engine) Positions(exchange string) []model.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account.Positions(exchange)
}

// Balance returns the cash balance on the exchange.
func (e *Engine) Balance(exchange string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account.Balance(exchange)
}

// Equity returns book-value equity: balance plus size times entry average
// per open position. Current market prices are deliberately ignored; use
// MarkedEquity for a mark-to-market view.
func (e *Engine) Equity(exchange string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account.Equity(exchange)
}

// MarkedEquity values positions at the current mid price where a book is
// available, falling back to book value.
func (e *Engine) MarkedEquity(exchange string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	source, ok := e.feeds[exchange]
	if !ok {
		return decimal.Zero, errors.Wrap(exception.ErrAccountUnknownExchange, "marked equity").
			With("exchange", exchange)
	}
	return e.account.MarkedEquity(exchange, func(symbol string) (decimal.Decimal, bool) {
		mid, err := source.Book(symbol).MidPrice()
		if err != nil {
			return decimal.Zero, false
		}
		return mid, true
	})
}

// Book returns the live order book for the pair.
func (e *Engine) Book(symbol, exchange string) (*book.Orderbook, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	source, ok := e.feeds[exchange]
	if !ok {
		return nil, errors.Wrap(exception.ErrAccountUnknownExchange, "book").
			With("exchange", exchange)
	}
	return source.Book(symbol), nil
}

// Metrics exposes the engine counters.
func (e *Engine) Metrics() *obs.Metrics {
	return e.metrics
}

func (e *Engine) nextOrderID() uint64 {
	e.nextID++
	return e.nextID
}

// clampReduceOnly applies the reduce-only sizing policy: an order that would
// increase exposure in the position's current direction (or open a position
// while flat) is rejected; a reducing order larger than the position is
// clamped so it can never flip the sign.
func clampReduceOnly(position decimal.Decimal, side enum.Side, size decimal.Decimal, reduceOnly bool) (decimal.Decimal, error) {
	if !reduceOnly {
		return size, nil
	}

	direction := 1
	if side == enum.SideSell {
		direction = -1
	}

	if position.IsZero() || position.Sign() == direction {
		return decimal.Zero, errors.Wrap(exception.ErrOrderRejected, "reduce-only would increase exposure")
	}
	if position.Abs().Cmp(size) < 0 {
		return position.Abs(), nil
	}
	return size, nil
}

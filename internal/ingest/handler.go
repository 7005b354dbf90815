package ingest

import (
	"context"
	"sync"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"papersim/internal/book"
	"papersim/internal/ingest/bybit"
	"papersim/internal/model"
	"papersim/internal/model/enum"
)

// Sink receives normalized feed events. The engine queue satisfies this.
type Sink interface {
	Publish(event model.Event) error
}

// Config selects the streams one handler subscribes to.
type Config struct {
	Symbols        []string
	OrderbookDepth int
	// KlineIntervals maps symbol to the intervals to stream for it.
	KlineIntervals map[string][]string
	Liquidations   bool
}

// Handler owns the live books for one exchange and forwards normalized
// events into the sink. Books are created lazily and mutated only by the
// engine worker, so the handler lock covers the map alone.
type Handler struct {
	mu    sync.Mutex
	books map[string]*book.Orderbook

	pub     *bybit.Pub
	cfg     Config
	sink    Sink
	tee     func(model.Event)
	cancels []func()
}

// NewHandler creates a handler over a started-later Bybit client.
func NewHandler(ctx context.Context, cfg Config, sink Sink) *Handler {
	return &Handler{
		books: make(map[string]*book.Orderbook),
		pub:   bybit.NewPub(ctx),
		cfg:   cfg,
		sink:  sink,
	}
}

// Book returns the live book for a symbol, creating it on first use.
func (h *Handler) Book(symbol string) *book.Orderbook {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.books[symbol]
	if !ok {
		b = book.New(symbol)
		h.books[symbol] = b
	}
	return b
}

// Tee installs an observer invoked with every event before it is published.
// Must be set before Start.
func (h *Handler) Tee(fn func(model.Event)) {
	h.tee = fn
}

// Start connects the websocket, subscribes every configured stream and
// launches the observer loops.
func (h *Handler) Start(ctx context.Context) error {
	if err := h.pub.StartWebsocket(ctx); err != nil {
		return errors.Wrap(err, "start bybit websocket")
	}

	for _, symbol := range h.cfg.Symbols {
		if err := h.pub.SubscribeOrderbook(ctx, symbol, h.cfg.OrderbookDepth); err != nil {
			return errors.Wrap(err, "subscribe orderbook").With("symbol", symbol)
		}
		if err := h.pub.SubscribeTrade(ctx, symbol); err != nil {
			return errors.Wrap(err, "subscribe trade").With("symbol", symbol)
		}
		if h.cfg.Liquidations {
			if err := h.pub.SubscribeLiquidation(ctx, symbol); err != nil {
				return errors.Wrap(err, "subscribe liquidation").With("symbol", symbol)
			}
		}
		for _, interval := range h.cfg.KlineIntervals[symbol] {
			if err := h.pub.SubscribeKline(ctx, symbol, interval); err != nil {
				return errors.Wrapf(err, "subscribe kline %s", interval)
			}
		}
	}

	h.cancels = append(h.cancels,
		h.pub.ObserveOrderbook(ctx, h.onOrderbook),
		h.pub.ObserveTrade(ctx, h.onTrade),
		h.pub.ObserveKline(ctx, h.onKline),
	)
	if h.cfg.Liquidations {
		h.cancels = append(h.cancels, h.pub.ObserveLiquidation(ctx, h.onLiquidation))
	}
	return nil
}

// Stop tears down the observers and the websocket.
func (h *Handler) Stop() {
	for _, cancel := range h.cancels {
		cancel()
	}
	h.cancels = nil
	h.pub.Close()
}

func (h *Handler) publish(event model.Event) {
	if h.tee != nil {
		h.tee(event)
	}
	if err := h.sink.Publish(event); err != nil {
		logs.Errorf("publish %s event, err: %+v", event.Kind, err)
	}
}

func (h *Handler) onOrderbook(p bybit.OrderbookPush) {
	update, err := bybit.NormalizeOrderbook(p)
	if err != nil {
		logs.Errorf("normalize orderbook push, err: %+v", err)
		return
	}
	h.publish(model.Event{Kind: enum.EventBookUpdate, Book: &update})
}

func (h *Handler) onTrade(p bybit.TradePush) {
	trades, err := bybit.NormalizeTrades(p)
	if err != nil {
		logs.Errorf("normalize trade push, err: %+v", err)
		return
	}
	for i := range trades {
		h.publish(model.Event{Kind: enum.EventTrade, Trade: &trades[i]})
	}
}

func (h *Handler) onKline(p bybit.KlinePush) {
	symbol, ok := bybit.KlineTopicSymbol(p.Topic)
	if !ok {
		logs.Errorf("kline push with malformed topic %q", p.Topic)
		return
	}
	candles, err := bybit.NormalizeKlines(symbol, p)
	if err != nil {
		logs.Errorf("normalize kline push, err: %+v", err)
		return
	}
	for i := range candles {
		h.publish(model.Event{Kind: enum.EventCandle, Candle: &candles[i]})
	}
}

func (h *Handler) onLiquidation(p bybit.LiquidationPush) {
	liquidations, err := bybit.NormalizeLiquidations(p)
	if err != nil {
		logs.Errorf("normalize liquidation push, err: %+v", err)
		return
	}
	for i := range liquidations {
		h.publish(model.Event{Kind: enum.EventLiquidation, Liquidation: &liquidations[i]})
	}
}

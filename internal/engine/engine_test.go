package engine

import (
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"papersim/internal/book"
	"papersim/internal/model"
	"papersim/internal/model/enum"
	"papersim/internal/obs"
	"papersim/internal/risk"
	"papersim/pkg/exception"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type stubSource struct {
	mu    sync.Mutex
	books map[string]*book.Orderbook
}

func newStubSource() *stubSource {
	return &stubSource{books: make(map[string]*book.Orderbook)}
}

func (s *stubSource) Book(symbol string) *book.Orderbook {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[symbol]
	if !ok {
		b = book.New(symbol)
		s.books[symbol] = b
	}
	return b
}

type recordingStrategy struct {
	BaseStrategy
	fills     []model.Order
	positions []model.Position
	balances  []decimal.Decimal
}

func (s *recordingStrategy) OnOrderFilled(order model.Order, ts int64) {
	s.fills = append(s.fills, order)
}

func (s *recordingStrategy) OnPositionChange(position model.Position, ts int64) {
	s.positions = append(s.positions, position)
}

func (s *recordingStrategy) OnBalanceChange(exchange string, balance decimal.Decimal, ts int64) {
	s.balances = append(s.balances, balance)
}

func newTestEngine(t *testing.T, balance string) (*Engine, *stubSource, *recordingStrategy) {
	t.Helper()
	e := New(Config{
		InitialBalance: d(balance),
		QueueSize:      16,
		Metrics:        obs.NewMetrics(),
	})
	src := newStubSource()
	e.AttachFeed("Bybit", src)
	strategy := &recordingStrategy{}
	e.SetStrategy(strategy)
	e.now = func() int64 { return 42 }
	return e, src, strategy
}

func seedBook(t *testing.T, src *stubSource, symbol string, bids, asks []model.PriceLevel) {
	t.Helper()
	if err := src.Book(symbol).ApplySnapshot(bids, asks, 1); err != nil {
		t.Fatalf("seed book: %v", err)
	}
}

func levels(pairs ...string) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, model.PriceLevel{
			Price: d(pairs[i]),
			Size:  d(pairs[i+1]),
		})
	}
	return out
}

func TestPlaceMarketSweepsAndSettles(t *testing.T) {
	e, src, strategy := newTestEngine(t, "1000")
	seedBook(t, src, "BTCUSDT", levels("100", "10"), levels("101", "1", "102", "2"))

	order, err := e.PlaceMarket("BTCUSDT", "Bybit", enum.SideBuy, d("2"), false, enum.TimeInForceGTC)
	if err != nil {
		t.Fatalf("place market: %v", err)
	}
	if order.Status != enum.OrderStatusFilled || order.Type != enum.OrderTypeMarket {
		t.Fatalf("order = %+v, want filled market order", order)
	}
	if !order.Price.Equal(d("101.5")) {
		t.Fatalf("fill price = %s, want 101.5", order.Price)
	}

	balance, err := e.Balance("Bybit")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Equal(d("797")) {
		t.Fatalf("balance = %s, want 797", balance)
	}

	position := e.Position("BTCUSDT", "Bybit")
	if !position.Size.Equal(d("2")) || !position.AvgPrice.Equal(d("101.5")) {
		t.Fatalf("position = (%s, %s), want (2, 101.5)", position.Size, position.AvgPrice)
	}

	if len(strategy.fills) != 1 || len(strategy.positions) != 1 || len(strategy.balances) != 1 {
		t.Fatalf("callback counts = (%d, %d, %d), want (1, 1, 1)",
			len(strategy.fills), len(strategy.positions), len(strategy.balances))
	}

	// local liquidity was consumed
	asks := src.Book("BTCUSDT").Asks()
	if len(asks) != 1 || !asks[0].Size.Equal(d("1")) {
		t.Fatalf("asks after sweep = %+v, want one level of size 1", asks)
	}
}

func TestPlaceMarketEquityInvariant(t *testing.T) {
	e, src, _ := newTestEngine(t, "100")
	seedBook(t, src, "BTCUSDT", levels("1.9", "100"), levels("2", "100"))

	if _, err := e.PlaceMarket("BTCUSDT", "Bybit", enum.SideBuy, d("10"), false, enum.TimeInForceGTC); err != nil {
		t.Fatalf("place market: %v", err)
	}

	balance, _ := e.Balance("Bybit")
	if !balance.Equal(d("80")) {
		t.Fatalf("balance = %s, want 80", balance)
	}
	equity, err := e.Equity("Bybit")
	if err != nil {
		t.Fatalf("equity: %v", err)
	}
	if !equity.Equal(d("100")) {
		t.Fatalf("equity = %s, want 100", equity)
	}
}

func TestPlaceMarketInsufficientBalance(t *testing.T) {
	e, src, _ := newTestEngine(t, "1")
	seedBook(t, src, "BTCUSDT", levels("100", "1"), levels("101", "10"))

	_, err := e.PlaceMarket("BTCUSDT", "Bybit", enum.SideBuy, d("5"), false, enum.TimeInForceGTC)
	if !errors.Is(err, exception.ErrOrderInsufficientBalance) {
		t.Fatalf("err = %v, want insufficient balance", err)
	}
	if asks := src.Book("BTCUSDT").Asks(); !asks[0].Size.Equal(d("10")) {
		t.Fatalf("book mutated by rejected order: %+v", asks)
	}
}

func TestPlaceMarketInsufficientLiquidityLeavesStateIntact(t *testing.T) {
	e, src, _ := newTestEngine(t, "1000")
	seedBook(t, src, "BTCUSDT", levels("100", "1"), levels("101", "1"))

	_, err := e.PlaceMarket("BTCUSDT", "Bybit", enum.SideBuy, d("5"), false, enum.TimeInForceGTC)
	if !errors.Is(err, exception.ErrBookInsufficientLiquidity) {
		t.Fatalf("err = %v, want insufficient liquidity", err)
	}

	balance, _ := e.Balance("Bybit")
	if !balance.Equal(d("1000")) {
		t.Fatalf("balance mutated on failed consume: %s", balance)
	}
	if !e.Position("BTCUSDT", "Bybit").Flat() {
		t.Fatal("position opened on failed consume")
	}
}

func TestReduceOnlyClampNeverFlips(t *testing.T) {
	e, src, _ := newTestEngine(t, "1000")
	seedBook(t, src, "BTCUSDT",
		levels("99", "10", "100", "10"),
		levels("101", "10", "102", "10"))

	// open a short 5
	if _, err := e.PlaceMarket("BTCUSDT", "Bybit", enum.SideSell, d("5"), false, enum.TimeInForceGTC); err != nil {
		t.Fatalf("open short: %v", err)
	}
	position := e.Position("BTCUSDT", "Bybit")
	if !position.Size.Equal(d("-5")) {
		t.Fatalf("position = %s, want -5", position.Size)
	}

	// reduce-only buy 8 clamps to 5 and closes, never reaches +3
	order, err := e.PlaceMarket("BTCUSDT", "Bybit", enum.SideBuy, d("8"), true, enum.TimeInForceGTC)
	if err != nil {
		t.Fatalf("reduce-only buy: %v", err)
	}
	if !order.Size.Equal(d("5")) {
		t.Fatalf("clamped size = %s, want 5", order.Size)
	}
	if !e.Position("BTCUSDT", "Bybit").Flat() {
		t.Fatalf("position = %s, want flat", e.Position("BTCUSDT", "Bybit").Size)
	}
}

func TestReduceOnlyRejectsExposureIncrease(t *testing.T) {
	e, src, _ := newTestEngine(t, "1000")
	seedBook(t, src, "BTCUSDT", levels("100", "10"), levels("101", "10"))

	// flat position: reduce-only has nothing to reduce
	_, err := e.PlaceMarket("BTCUSDT", "Bybit", enum.SideBuy, d("1"), true, enum.TimeInForceGTC)
	if !errors.Is(err, exception.ErrOrderRejected) {
		t.Fatalf("flat reduce-only: %v, want rejected", err)
	}

	if _, err := e.PlaceMarket("BTCUSDT", "Bybit", enum.SideBuy, d("2"), false, enum.TimeInForceGTC); err != nil {
		t.Fatalf("open long: %v", err)
	}
	_, err = e.PlaceMarket("BTCUSDT", "Bybit", enum.SideBuy, d("1"), true, enum.TimeInForceGTC)
	if !errors.Is(err, exception.ErrOrderRejected) {
		t.Fatalf("same-direction reduce-only: %v, want rejected", err)
	}
}

func TestRestingLimitLifecycle(t *testing.T) {
	e, src, strategy := newTestEngine(t, "1000")
	seedBook(t, src, "BTCUSDT", levels("101", "1"), levels("102", "1"))

	order, err := e.PlaceLimit("BTCUSDT", "Bybit", enum.SideBuy, d("1"), d("100"), false, false, enum.TimeInForceGTC)
	if err != nil {
		t.Fatalf("place limit: %v", err)
	}
	if order.Status != enum.OrderStatusNew {
		t.Fatalf("status = %v, want New", order.Status)
	}

	// best_bid stays at or above the limit price: still resting
	e.processBookUpdate(model.BookUpdate{
		Exchange: "Bybit", Symbol: "BTCUSDT", Kind: enum.BookUpdateDelta,
		Bids: levels("100", "2"), Ts: 2,
	})
	if got, _ := e.Order("BTCUSDT", "Bybit", order.ID); got.Status != enum.OrderStatusNew {
		t.Fatalf("status after non-crossing update = %v, want New", got.Status)
	}

	// drive best_bid below the limit price: filled at its own price
	e.processBookUpdate(model.BookUpdate{
		Exchange: "Bybit", Symbol: "BTCUSDT", Kind: enum.BookUpdateDelta,
		Bids: levels("101", "0", "100", "0", "99", "1"), Ts: 3,
	})
	got, _ := e.Order("BTCUSDT", "Bybit", order.ID)
	if got.Status != enum.OrderStatusFilled {
		t.Fatalf("status after crossing update = %v, want Filled", got.Status)
	}
	if len(strategy.fills) != 1 || !strategy.fills[0].Price.Equal(d("100")) {
		t.Fatalf("fills = %+v, want one at 100", strategy.fills)
	}

	balance, _ := e.Balance("Bybit")
	if !balance.Equal(d("900")) {
		t.Fatalf("balance = %s, want 900", balance)
	}
	position := e.Position("BTCUSDT", "Bybit")
	if !position.Size.Equal(d("1")) || !position.AvgPrice.Equal(d("100")) {
		t.Fatalf("position = (%s, %s), want (1, 100)", position.Size, position.AvgPrice)
	}

	// not re-evaluated after removal
	e.processBookUpdate(model.BookUpdate{
		Exchange: "Bybit", Symbol: "BTCUSDT", Kind: enum.BookUpdateDelta,
		Bids: levels("98", "1"), Ts: 4,
	})
	if len(strategy.fills) != 1 {
		t.Fatalf("order re-filled: %d fills", len(strategy.fills))
	}
}

func TestCrossingLimitEscalatesToMarket(t *testing.T) {
	e, src, _ := newTestEngine(t, "1000")
	seedBook(t, src, "BTCUSDT", levels("100", "1"), levels("101", "5"))

	order, err := e.PlaceLimit("BTCUSDT", "Bybit", enum.SideBuy, d("1"), d("102"), false, false, enum.TimeInForceGTC)
	if err != nil {
		t.Fatalf("place crossing limit: %v", err)
	}
	if order.Type != enum.OrderTypeMarket || order.Status != enum.OrderStatusFilled {
		t.Fatalf("order = %+v, want immediate market fill", order)
	}
	// fills off the book, not at the limit price
	if !order.Price.Equal(d("101")) {
		t.Fatalf("fill price = %s, want 101", order.Price)
	}
}

func TestPostOnlyCrossingRests(t *testing.T) {
	e, src, _ := newTestEngine(t, "1000")
	seedBook(t, src, "BTCUSDT", levels("100", "1"), levels("101", "5"))

	order, err := e.PlaceLimit("BTCUSDT", "Bybit", enum.SideBuy, d("1"), d("102"), true, false, enum.TimeInForceGTC)
	if err != nil {
		t.Fatalf("place post-only limit: %v", err)
	}
	if order.Type != enum.OrderTypeLimit || order.Status != enum.OrderStatusNew {
		t.Fatalf("order = %+v, want resting limit", order)
	}
}

func TestCancelOrder(t *testing.T) {
	e, src, strategy := newTestEngine(t, "1000")
	seedBook(t, src, "BTCUSDT", levels("101", "1"), levels("102", "1"))

	order, err := e.PlaceLimit("BTCUSDT", "Bybit", enum.SideBuy, d("1"), d("100"), false, false, enum.TimeInForceGTC)
	if err != nil {
		t.Fatalf("place limit: %v", err)
	}
	if err := e.CancelOrder("BTCUSDT", "Bybit", order.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _ := e.Order("BTCUSDT", "Bybit", order.ID)
	if got.Status != enum.OrderStatusCancelled {
		t.Fatalf("status = %v, want Cancelled", got.Status)
	}

	if err := e.CancelOrder("BTCUSDT", "Bybit", order.ID); !errors.Is(err, exception.ErrOrderNotFound) {
		t.Fatalf("double cancel: %v, want not found", err)
	}

	// a cancelled order is never filled
	e.processBookUpdate(model.BookUpdate{
		Exchange: "Bybit", Symbol: "BTCUSDT", Kind: enum.BookUpdateDelta,
		Bids: levels("101", "0", "99", "1"), Ts: 2,
	})
	if len(strategy.fills) != 0 {
		t.Fatalf("cancelled order filled: %+v", strategy.fills)
	}
}

func TestCancelAllOrders(t *testing.T) {
	e, src, _ := newTestEngine(t, "1000")
	seedBook(t, src, "BTCUSDT", levels("101", "1"), levels("102", "1"))

	for i := 0; i < 3; i++ {
		if _, err := e.PlaceLimit("BTCUSDT", "Bybit", enum.SideBuy, d("1"), d("100"), false, false, enum.TimeInForceGTC); err != nil {
			t.Fatalf("place limit %d: %v", i, err)
		}
	}
	if got := e.CancelAllOrders("BTCUSDT", "Bybit"); got != 3 {
		t.Fatalf("cancelled = %d, want 3", got)
	}
	if got := e.CancelAllOrders("BTCUSDT", "Bybit"); got != 0 {
		t.Fatalf("cancelled on empty index = %d, want 0", got)
	}
}

func TestMultipleRestingFillsAscendingID(t *testing.T) {
	e, src, strategy := newTestEngine(t, "1000")
	seedBook(t, src, "BTCUSDT", levels("101", "1"), levels("110", "1"))

	first, err := e.PlaceLimit("BTCUSDT", "Bybit", enum.SideBuy, d("1"), d("100"), false, false, enum.TimeInForceGTC)
	if err != nil {
		t.Fatalf("place first: %v", err)
	}
	second, err := e.PlaceLimit("BTCUSDT", "Bybit", enum.SideBuy, d("1"), d("99"), false, false, enum.TimeInForceGTC)
	if err != nil {
		t.Fatalf("place second: %v", err)
	}

	// one update crosses both resting prices
	e.processBookUpdate(model.BookUpdate{
		Exchange: "Bybit", Symbol: "BTCUSDT", Kind: enum.BookUpdateSnapshot,
		Bids: levels("95", "1"), Asks: levels("110", "1"), Ts: 2,
	})

	if len(strategy.fills) != 2 {
		t.Fatalf("fills = %d, want 2", len(strategy.fills))
	}
	if strategy.fills[0].ID != first.ID || strategy.fills[1].ID != second.ID {
		t.Fatalf("fill order = [%d %d], want [%d %d]",
			strategy.fills[0].ID, strategy.fills[1].ID, first.ID, second.ID)
	}
}

func TestMarkedEquityUsesMid(t *testing.T) {
	e, src, _ := newTestEngine(t, "100")
	seedBook(t, src, "BTCUSDT", levels("1.9", "100"), levels("2", "100"))

	if _, err := e.PlaceMarket("BTCUSDT", "Bybit", enum.SideBuy, d("10"), false, enum.TimeInForceGTC); err != nil {
		t.Fatalf("place market: %v", err)
	}

	// re-seed the book so the mid moves to 3
	seedBook(t, src, "BTCUSDT", levels("2.9", "100"), levels("3.1", "100"))
	marked, err := e.MarkedEquity("Bybit")
	if err != nil {
		t.Fatalf("marked equity: %v", err)
	}
	if !marked.Equal(d("110")) {
		t.Fatalf("marked equity = %s, want 110", marked)
	}
}

func TestRiskLimitRejects(t *testing.T) {
	e := New(Config{
		InitialBalance: d("1000"),
		Risk:           risk.Config{MaxOrderSize: d("1")},
		QueueSize:      4,
		Metrics:        obs.NewMetrics(),
	})
	src := newStubSource()
	e.AttachFeed("Bybit", src)
	e.now = func() int64 { return 42 }
	seedBook(t, src, "BTCUSDT", levels("100", "10"), levels("101", "10"))

	_, err := e.PlaceMarket("BTCUSDT", "Bybit", enum.SideBuy, d("2"), false, enum.TimeInForceGTC)
	if !errors.Is(err, exception.ErrOrderRejected) {
		t.Fatalf("oversized order: %v, want rejected", err)
	}
	if got := e.Metrics().Snapshot().Rejects; got != 1 {
		t.Fatalf("rejects = %d, want 1", got)
	}
}

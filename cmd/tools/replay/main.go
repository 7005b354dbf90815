// Command replay feeds a recorded JSONL session back through the matching
// engine and prints the resulting account state. Useful for validating a
// strategy against captured market data without a live connection.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/shopspring/decimal"

	"papersim/internal/book"
	"papersim/internal/engine"
	"papersim/internal/model"
	"papersim/internal/obs"
	"papersim/internal/ops"
	"papersim/internal/recorder"
)

func main() {
	inputPath := flag.String("input", "session.jsonl", "Recorded session file")
	configPath := flag.String("config", "", "Path to JSON config (optional)")
	exchange := flag.String("exchange", "Bybit", "Exchange name used in the recording")
	balance := flag.String("balance", "10000", "Initial balance when no config is given")
	speed := flag.Float64("speed", 0, "Replay speed multiplier (0=as fast as possible)")
	flag.Parse()

	loaded, err := loadConfig(*configPath, *exchange, *balance)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := obs.NewMetrics()
	eng := engine.New(engine.Config{
		InitialBalance: loaded.InitialBalance,
		Risk:           loaded.Risk,
		QueueSize:      loaded.QueueSize,
		Metrics:        metrics,
	})
	eng.AttachFeed(loaded.Exchange, newReplayFeed())
	eng.SetStrategy(engine.BaseStrategy{})

	playback, err := recorder.NewPlayback(recorder.PlaybackConfig{
		Path:  *inputPath,
		Speed: *speed,
	})
	if err != nil {
		log.Fatalf("playback init failed: %v", err)
	}

	var events int
	err = playback.Run(ctx, func(event model.Event) error {
		events++
		return eng.Apply(event)
	})
	if err != nil {
		log.Fatalf("replay failed after %d events: %v", events, err)
	}

	printSummary(eng, loaded.Exchange, metrics, events)
}

func loadConfig(path, exchange, balance string) (ops.Loaded, error) {
	if path != "" {
		return ops.Load(path)
	}
	initial, err := decimal.NewFromString(balance)
	if err != nil {
		return ops.Loaded{}, fmt.Errorf("invalid balance %q: %w", balance, err)
	}
	return ops.Loaded{
		Exchange:       exchange,
		InitialBalance: initial,
		QueueSize:      1,
	}, nil
}

func printSummary(eng *engine.Engine, exchange string, metrics *obs.Metrics, events int) {
	balance, err := eng.Balance(exchange)
	if err != nil {
		log.Fatalf("read final balance: %v", err)
	}
	equity, _ := eng.Equity(exchange)

	fmt.Printf("replayed %d events\n", events)
	fmt.Printf("balance: %s\n", balance)
	fmt.Printf("equity:  %s\n", equity)
	for _, position := range eng.Positions(exchange) {
		fmt.Printf("position: %s %s@%s\n", position.Symbol, position.Size, position.AvgPrice)
	}

	s := metrics.Snapshot()
	fmt.Printf("book=%d trade=%d candle=%d liq=%d fills=%d rejects=%d invalid=%d\n",
		s.BookUpdates, s.Trades, s.Candles, s.Liquidations, s.Fills, s.Rejects, s.InvalidUpdates)
}

// replayFeed owns the books rebuilt from the recording.
type replayFeed struct {
	mu    sync.Mutex
	books map[string]*book.Orderbook
}

func newReplayFeed() *replayFeed {
	return &replayFeed{books: make(map[string]*book.Orderbook)}
}

func (f *replayFeed) Book(symbol string) *book.Orderbook {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[symbol]
	if !ok {
		b = book.New(symbol)
		f.books[symbol] = b
	}
	return b
}

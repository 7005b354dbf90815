package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"papersim/internal/book"
	"papersim/internal/engine"
	"papersim/internal/ingest"
	"papersim/internal/journal"
	"papersim/internal/model"
	"papersim/internal/obs"
	"papersim/internal/ops"
	"papersim/internal/recorder"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	recordPath := flag.String("record", "", "Record the session to a JSONL file (overrides config)")
	statsEvery := flag.Duration("stats-every", 30*time.Second, "Metrics log interval (0=disable)")
	profile := flag.Bool("profile", false, "Enable pyroscope profiling")
	pyroscopeAddr := flag.String("pyroscope-addr", "http://localhost:4040", "Pyroscope server address")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *recordPath != "" {
		loaded.RecordPath = *recordPath
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *profile {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "papersim",
			ServerAddress:   *pyroscopeAddr,
			Tags: map[string]string{
				"env": "local",
			},
			Logger: emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	metrics := obs.NewMetrics()
	eng := engine.New(engine.Config{
		InitialBalance: loaded.InitialBalance,
		Risk:           loaded.Risk,
		QueueSize:      loaded.QueueSize,
		Metrics:        metrics,
	})

	handler := ingest.NewHandler(ctx, ingest.Config{
		Symbols:        loaded.Symbols,
		OrderbookDepth: loaded.OrderbookDepth,
		KlineIntervals: loaded.KlineIntervals,
		Liquidations:   loaded.Liquidations,
	}, eng)
	eng.AttachFeed(loaded.Exchange, handler)

	var fills *journal.Journal
	if loaded.JournalDSN != "" {
		fills, err = journal.Open(loaded.JournalDSN)
		if err != nil {
			log.Fatalf("journal open failed: %v", err)
		}
		defer fills.Close()
	}

	if loaded.RecordPath != "" {
		writer, err := recorder.NewWriter(loaded.RecordPath)
		if err != nil {
			log.Fatalf("recorder open failed: %v", err)
		}
		defer writer.Close()
		handler.Tee(func(event model.Event) {
			if err := writer.Append(event); err != nil {
				logs.Errorf("record event, err: %+v", err)
			}
		})
	}

	eng.SetStrategy(&watchStrategy{
		exchange: loaded.Exchange,
		fills:    fills,
	})
	eng.Start(ctx)

	if err := handler.Start(ctx); err != nil {
		log.Fatalf("feed start failed: %v", err)
	}
	logs.Infof("simulator running. exchange: %s, symbols: %v", loaded.Exchange, loaded.Symbols)

	if *statsEvery > 0 {
		go logStats(ctx, metrics, *statsEvery)
	}

	<-ctx.Done()
	handler.Stop()
	eng.Stop()

	printSummary(eng, loaded.Exchange, metrics)
}

func logStats(ctx context.Context, metrics *obs.Metrics, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := metrics.Snapshot()
			logs.Infof("events: book=%d trade=%d candle=%d liq=%d, fills=%d rejects=%d drops=%d",
				s.BookUpdates, s.Trades, s.Candles, s.Liquidations, s.Fills, s.Rejects, s.QueueDrops)
		}
	}
}

func printSummary(eng *engine.Engine, exchange string, metrics *obs.Metrics) {
	balance, err := eng.Balance(exchange)
	if err != nil {
		logs.Errorf("read final balance, err: %+v", err)
		return
	}
	equity, _ := eng.Equity(exchange)
	logs.Infof("final balance: %s, equity: %s", balance, equity)
	for _, position := range eng.Positions(exchange) {
		logs.Infof("open position: %s %s@%s", position.Symbol, position.Size, position.AvgPrice)
	}
	s := metrics.Snapshot()
	logs.Infof("session totals: book=%d trade=%d fills=%d rejects=%d invalid=%d drops=%d",
		s.BookUpdates, s.Trades, s.Fills, s.Rejects, s.InvalidUpdates, s.QueueDrops)
}

// watchStrategy observes the feed without trading. It journals fills so a
// trading strategy dropped in its place inherits persistence for free.
type watchStrategy struct {
	engine.BaseStrategy

	exchange string
	fills    *journal.Journal
	updates  uint64
}

func (s *watchStrategy) OnReady(e *engine.Engine) {
	balance, err := e.Balance(s.exchange)
	if err != nil {
		logs.Errorf("read balance, err: %+v", err)
		return
	}
	logs.Infof("account ready. balance: %s", balance)
}

func (s *watchStrategy) OnOrderbookUpdate(symbol, exchange string, orderbook *book.Orderbook, ts int64) {
	s.updates++
	if s.updates%1000 != 0 {
		return
	}
	mid, err := orderbook.MidPrice()
	if err != nil {
		return
	}
	logs.Infof("%s mid: %s after %d updates", symbol, mid, s.updates)
}

func (s *watchStrategy) OnOrderFilled(order model.Order, ts int64) {
	logs.Infof("filled #%d %s %s %s@%s", order.ID, order.Symbol, order.Side, order.Size, order.Price)
	if err := s.fills.RecordFill(order, ts); err != nil {
		logs.Errorf("journal fill #%d, err: %+v", order.ID, err)
	}
}

func (s *watchStrategy) OnPositionChange(position model.Position, ts int64) {
	logs.Infof("position %s: %s@%s", position.Symbol, position.Size, position.AvgPrice)
}

func (s *watchStrategy) OnBalanceChange(exchange string, balance decimal.Decimal, ts int64) {
	logs.Infof("balance on %s: %s", exchange, balance)
}

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(_ string, _ ...interface{}) {}

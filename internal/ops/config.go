package ops

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"papersim/internal/risk"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Feed    FeedConfig    `json:"feed"`
	Account AccountConfig `json:"account"`
	Risk    risk.Config   `json:"risk"`
	Engine  EngineConfig  `json:"engine"`
	Journal JournalConfig `json:"journal"`
	Record  RecordConfig  `json:"record"`
}

// FeedConfig selects the market-data streams.
type FeedConfig struct {
	Exchange       string              `json:"exchange"`
	Symbols        []string            `json:"symbols"`
	OrderbookDepth int                 `json:"orderbookDepth"`
	KlineIntervals map[string][]string `json:"klineIntervals"`
	Liquidations   *bool               `json:"liquidations"`
}

// AccountConfig seeds the simulated account.
type AccountConfig struct {
	InitialBalance string `json:"initialBalance"`
}

// EngineConfig captures engine tunables.
type EngineConfig struct {
	QueueSize int `json:"queueSize"`
}

// JournalConfig enables the fill journal when DSN is set.
type JournalConfig struct {
	DSN string `json:"dsn"`
}

// RecordConfig enables session recording when Path is set.
type RecordConfig struct {
	Path string `json:"path"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Exchange       string
	Symbols        []string
	OrderbookDepth int
	KlineIntervals map[string][]string
	Liquidations   bool
	InitialBalance decimal.Decimal
	Risk           risk.Config
	QueueSize      int
	JournalDSN     string
	RecordPath     string
}

const (
	defaultExchange       = "Bybit"
	defaultOrderbookDepth = 50
	defaultQueueSize      = 4096
	defaultBalance        = "10000"
)

// Load reads a JSON config file and resolves defaults.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	if len(cfg.Feed.Symbols) == 0 {
		return Loaded{}, fmt.Errorf("feed symbols are empty")
	}
	for symbol := range cfg.Feed.KlineIntervals {
		if !contains(cfg.Feed.Symbols, symbol) {
			return Loaded{}, fmt.Errorf("kline symbol not in feed symbols: %s", symbol)
		}
	}

	exchange := cfg.Feed.Exchange
	if exchange == "" {
		exchange = defaultExchange
	}
	depth := cfg.Feed.OrderbookDepth
	if depth == 0 {
		depth = defaultOrderbookDepth
	}
	if depth < 0 {
		return Loaded{}, fmt.Errorf("orderbook depth must be > 0")
	}
	liquidations := true
	if cfg.Feed.Liquidations != nil {
		liquidations = *cfg.Feed.Liquidations
	}

	balanceRaw := cfg.Account.InitialBalance
	if balanceRaw == "" {
		balanceRaw = defaultBalance
	}
	balance, err := decimal.NewFromString(balanceRaw)
	if err != nil {
		return Loaded{}, fmt.Errorf("invalid initial balance %q: %w", balanceRaw, err)
	}
	if balance.Sign() < 0 {
		return Loaded{}, fmt.Errorf("initial balance must be >= 0")
	}

	queueSize := cfg.Engine.QueueSize
	if queueSize == 0 {
		queueSize = defaultQueueSize
	}
	if queueSize < 0 {
		return Loaded{}, fmt.Errorf("queue size must be > 0")
	}

	return Loaded{
		Exchange:       exchange,
		Symbols:        cfg.Feed.Symbols,
		OrderbookDepth: depth,
		KlineIntervals: cfg.Feed.KlineIntervals,
		Liquidations:   liquidations,
		InitialBalance: balance,
		Risk:           cfg.Risk,
		QueueSize:      queueSize,
		JournalDSN:     cfg.Journal.DSN,
		RecordPath:     cfg.Record.Path,
	}, nil
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

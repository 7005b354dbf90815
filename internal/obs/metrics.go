package obs

import "sync/atomic"

// Metrics collects lightweight counters for the simulator run.
type Metrics struct {
	bookUpdates    uint64
	trades         uint64
	candles        uint64
	liquidations   uint64
	fills          uint64
	rejects        uint64
	invalidUpdates uint64
	queueDrops     uint64
}

// Snapshot captures the current counter values.
type Snapshot struct {
	BookUpdates    uint64
	Trades         uint64
	Candles        uint64
	Liquidations   uint64
	Fills          uint64
	Rejects        uint64
	InvalidUpdates uint64
	QueueDrops     uint64
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncBookUpdate() {
	if m != nil {
		atomic.AddUint64(&m.bookUpdates, 1)
	}
}

func (m *Metrics) IncTrade() {
	if m != nil {
		atomic.AddUint64(&m.trades, 1)
	}
}

func (m *Metrics) IncCandle() {
	if m != nil {
		atomic.AddUint64(&m.candles, 1)
	}
}

func (m *Metrics) IncLiquidation() {
	if m != nil {
		atomic.AddUint64(&m.liquidations, 1)
	}
}

func (m *Metrics) IncFill() {
	if m != nil {
		atomic.AddUint64(&m.fills, 1)
	}
}

func (m *Metrics) IncReject() {
	if m != nil {
		atomic.AddUint64(&m.rejects, 1)
	}
}

func (m *Metrics) IncInvalidUpdate() {
	if m != nil {
		atomic.AddUint64(&m.invalidUpdates, 1)
	}
}

func (m *Metrics) IncQueueDrop() {
	if m != nil {
		atomic.AddUint64(&m.queueDrops, 1)
	}
}

// Snapshot returns a point-in-time copy of the counters.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		BookUpdates:    atomic.LoadUint64(&m.bookUpdates),
		Trades:         atomic.LoadUint64(&m.trades),
		Candles:        atomic.LoadUint64(&m.candles),
		Liquidations:   atomic.LoadUint64(&m.liquidations),
		Fills:          atomic.LoadUint64(&m.fills),
		Rejects:        atomic.LoadUint64(&m.rejects),
		InvalidUpdates: atomic.LoadUint64(&m.invalidUpdates),
		QueueDrops:     atomic.LoadUint64(&m.queueDrops),
	}
}

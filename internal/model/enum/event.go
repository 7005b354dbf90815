package enum

// EventKind tags the payload carried by a normalized feed event.
type EventKind uint8

const (
	_event_beg EventKind = iota
	EventBookUpdate
	EventTrade
	EventCandle
	EventLiquidation
	_event_end
)

func (k EventKind) IsAvailable() bool {
	return k > _event_beg && k < _event_end
}

func (k EventKind) String() string {
	switch k {
	case EventBookUpdate:
		return "book_update"
	case EventTrade:
		return "trade"
	case EventCandle:
		return "candle"
	case EventLiquidation:
		return "liquidation"
	default:
		return "Unknown"
	}
}

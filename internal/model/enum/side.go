package enum

// Side is the direction of an order, trade or liquidation.
type Side uint8

const (
	_side_beg Side = iota
	SideBuy
	SideSell
	_side_end
)

func (s Side) IsAvailable() bool {
	return s > _side_beg && s < _side_end
}

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "Buy"
	case SideSell:
		return "Sell"
	default:
		return "Unknown"
	}
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return s
	}
}

// ParseSide maps the wire representation ("Buy"/"Sell") to a Side.
func ParseSide(s string) (Side, bool) {
	switch s {
	case "Buy", "buy", "BUY":
		return SideBuy, true
	case "Sell", "sell", "SELL":
		return SideSell, true
	default:
		return 0, false
	}
}

package enum

// OrderType distinguishes immediate from resting orders.
type OrderType uint8

const (
	_order_type_beg OrderType = iota
	OrderTypeMarket
	OrderTypeLimit
	_order_type_end
)

func (t OrderType) IsAvailable() bool {
	return t > _order_type_beg && t < _order_type_end
}

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "Market"
	case OrderTypeLimit:
		return "Limit"
	default:
		return "Unknown"
	}
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus uint8

const (
	_order_status_beg OrderStatus = iota
	OrderStatusNew
	OrderStatusFilled
	OrderStatusCancelled
	_order_status_end
)

func (s OrderStatus) IsAvailable() bool {
	return s > _order_status_beg && s < _order_status_end
}

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusNew:
		return "New"
	case OrderStatusFilled:
		return "Filled"
	case OrderStatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// TimeInForce is carried on orders but not interpreted by the simulator;
// resting orders stay on the book until crossed or cancelled.
type TimeInForce uint8

const (
	_tif_beg TimeInForce = iota
	TimeInForceGTC
	TimeInForceIOC
	TimeInForceFOK
	_tif_end
)

func (t TimeInForce) IsAvailable() bool {
	return t > _tif_beg && t < _tif_end
}

func (t TimeInForce) String() string {
	switch t {
	case TimeInForceGTC:
		return "GTC"
	case TimeInForceIOC:
		return "IOC"
	case TimeInForceFOK:
		return "FOK"
	default:
		return "Unknown"
	}
}

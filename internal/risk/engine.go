package risk

import (
	"github.com/shopspring/decimal"

	"papersim/internal/model/enum"
)

// Config defines simple pre-trade limits. Zero values disable the
// corresponding check.
type Config struct {
	KillSwitch       bool            `json:"killSwitch"`
	MaxOrderSize     decimal.Decimal `json:"maxOrderSize"`
	MaxOrderNotional decimal.Decimal `json:"maxOrderNotional"`
	MaxPosition      decimal.Decimal `json:"maxPosition"`
}

// Reason explains a denial.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonKillSwitch
	ReasonMaxOrderSize
	ReasonMaxOrderNotional
	ReasonPositionLimit
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonKillSwitch:
		return "kill switch"
	case ReasonMaxOrderSize:
		return "max order size"
	case ReasonMaxOrderNotional:
		return "max order notional"
	case ReasonPositionLimit:
		return "position limit"
	default:
		return "unknown"
	}
}

// Intent is the order about to be placed. Price is the limit price, or zero
// for market orders.
type Intent struct {
	Side  enum.Side
	Size  decimal.Decimal
	Price decimal.Decimal
}

// StateView provides the current position snapshot.
type StateView struct {
	Position       decimal.Decimal
	ReferencePrice decimal.Decimal
}

// Decision is the evaluation result.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Engine evaluates pre-trade checks.
type Engine struct {
	cfg Config
}

// NewEngine creates a risk engine with static limits.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Evaluate applies the configured checks to an order intent.
func (e *Engine) Evaluate(intent Intent, view StateView) Decision {
	if e.cfg.KillSwitch {
		return Decision{Reason: ReasonKillSwitch}
	}

	if e.cfg.MaxOrderSize.Sign() > 0 && intent.Size.Cmp(e.cfg.MaxOrderSize) > 0 {
		return Decision{Reason: ReasonMaxOrderSize}
	}

	if e.cfg.MaxOrderNotional.Sign() > 0 {
		price := intent.Price
		if price.Sign() <= 0 {
			price = view.ReferencePrice
		}
		if price.Sign() > 0 && intent.Size.Mul(price).Cmp(e.cfg.MaxOrderNotional) > 0 {
			return Decision{Reason: ReasonMaxOrderNotional}
		}
	}

	if e.cfg.MaxPosition.Sign() > 0 {
		next := view.Position
		if intent.Side == enum.SideBuy {
			next = next.Add(intent.Size)
		} else {
			next = next.Sub(intent.Size)
		}
		if next.Abs().Cmp(e.cfg.MaxPosition) > 0 {
			return Decision{Reason: ReasonPositionLimit}
		}
	}

	return Decision{Allowed: true, Reason: ReasonNone}
}

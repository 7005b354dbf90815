package bybit

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"papersim/internal/model"
	"papersim/internal/model/enum"
	"papersim/pkg/exception"
)

// Exchange is the name feeds from this adapter report.
const Exchange = "Bybit"

func parseLevels(raw [][2]string) ([]model.PriceLevel, error) {
	out := make([]model.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, errors.Wrapf(exception.ErrBookInvalidUpdate, "parse price %q", pair[0])
		}
		size, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, errors.Wrapf(exception.ErrBookInvalidUpdate, "parse size %q", pair[1])
		}
		if price.Sign() <= 0 || size.Sign() < 0 {
			return nil, errors.Wrapf(exception.ErrBookInvalidUpdate, "level %s@%s out of range", pair[1], pair[0])
		}
		out = append(out, model.PriceLevel{Price: price, Size: size})
	}
	return out, nil
}

// NormalizeOrderbook converts a v5 orderbook push into the internal record.
func NormalizeOrderbook(p OrderbookPush) (model.BookUpdate, error) {
	var kind enum.BookUpdateKind
	switch p.Type {
	case "snapshot":
		kind = enum.BookUpdateSnapshot
	case "delta":
		kind = enum.BookUpdateDelta
	default:
		return model.BookUpdate{}, errors.Wrapf(exception.ErrBookInvalidUpdate, "unknown push type %q", p.Type)
	}

	bids, err := parseLevels(p.Data.Bids)
	if err != nil {
		return model.BookUpdate{}, err
	}
	asks, err := parseLevels(p.Data.Asks)
	if err != nil {
		return model.BookUpdate{}, err
	}

	return model.BookUpdate{
		Exchange: Exchange,
		Symbol:   p.Data.Symbol,
		Kind:     kind,
		Bids:     bids,
		Asks:     asks,
		Ts:       p.Ts,
	}, nil
}

// NormalizeTrades converts a publicTrade push. Malformed entries fail the
// whole batch so a partial push is never forwarded.
func NormalizeTrades(p TradePush) ([]model.Trade, error) {
	out := make([]model.Trade, 0, len(p.Data))
	for _, t := range p.Data {
		side, ok := enum.ParseSide(t.Side)
		if !ok {
			return nil, errors.Errorf("parse trade side %q", t.Side)
		}
		price, err := decimal.NewFromString(t.Price)
		if err != nil || price.Sign() <= 0 {
			return nil, errors.Errorf("parse trade price %q", t.Price)
		}
		size, err := decimal.NewFromString(t.Size)
		if err != nil || size.Sign() <= 0 {
			return nil, errors.Errorf("parse trade size %q", t.Size)
		}
		out = append(out, model.Trade{
			Exchange: Exchange,
			Symbol:   t.Symbol,
			Side:     side,
			Price:    price,
			Size:     size,
			Ts:       t.Ts,
		})
	}
	return out, nil
}

// NormalizeKlines converts a kline push for one symbol.
func NormalizeKlines(symbol string, p KlinePush) ([]model.Candle, error) {
	out := make([]model.Candle, 0, len(p.Data))
	for _, k := range p.Data {
		open, err := decimal.NewFromString(k.Open)
		if err != nil {
			return nil, errors.Wrap(err, "parse kline open")
		}
		high, err := decimal.NewFromString(k.High)
		if err != nil {
			return nil, errors.Wrap(err, "parse kline high")
		}
		low, err := decimal.NewFromString(k.Low)
		if err != nil {
			return nil, errors.Wrap(err, "parse kline low")
		}
		closePrice, err := decimal.NewFromString(k.Close)
		if err != nil {
			return nil, errors.Wrap(err, "parse kline close")
		}
		volume, err := decimal.NewFromString(k.Volume)
		if err != nil {
			return nil, errors.Wrap(err, "parse kline volume")
		}
		turnover, err := decimal.NewFromString(k.Turnover)
		if err != nil {
			return nil, errors.Wrap(err, "parse kline turnover")
		}
		out = append(out, model.Candle{
			Exchange:  Exchange,
			Symbol:    symbol,
			Interval:  k.Interval,
			Start:     k.Start,
			End:       k.End,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
			Turnover:  turnover,
			Confirmed: k.Confirm,
			Ts:        k.Timestamp,
		})
	}
	return out, nil
}

// NormalizeLiquidations converts a liquidation push.
func NormalizeLiquidations(p LiquidationPush) ([]model.Liquidation, error) {
	out := make([]model.Liquidation, 0, len(p.Data))
	for _, l := range p.Data {
		side, ok := enum.ParseSide(l.Side)
		if !ok {
			return nil, errors.Errorf("parse liquidation side %q", l.Side)
		}
		price, err := decimal.NewFromString(l.Price)
		if err != nil || price.Sign() <= 0 {
			return nil, errors.Errorf("parse liquidation price %q", l.Price)
		}
		size, err := decimal.NewFromString(l.Size)
		if err != nil || size.Sign() <= 0 {
			return nil, errors.Errorf("parse liquidation size %q", l.Size)
		}
		out = append(out, model.Liquidation{
			Exchange: Exchange,
			Symbol:   l.Symbol,
			Side:     side,
			Price:    price,
			Size:     size,
			Ts:       l.UpdatedTime,
		})
	}
	return out, nil
}

// KlineTopicSymbol extracts the symbol from a 'kline.{interval}.{symbol}'
// topic.
func KlineTopicSymbol(topic string) (string, bool) {
	parts := strings.SplitN(topic, ".", 3)
	if len(parts) != 3 || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}

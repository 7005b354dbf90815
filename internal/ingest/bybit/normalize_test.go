package bybit

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papersim/internal/model/enum"
)

func TestNormalizeOrderbookSnapshot(t *testing.T) {
	raw := []byte(`{
		"topic": "orderbook.50.BTCUSDT",
		"type": "snapshot",
		"ts": 1672304484978,
		"data": {
			"s": "BTCUSDT",
			"b": [["16493.50", "0.006"], ["16493.00", "0.100"]],
			"a": [["16611.00", "0.029"], ["16612.00", "0.213"]],
			"u": 18521288,
			"seq": 7961638724
		}
	}`)

	var push OrderbookPush
	require.NoError(t, json.Unmarshal(raw, &push))

	update, err := NormalizeOrderbook(push)
	require.NoError(t, err)
	assert.Equal(t, Exchange, update.Exchange)
	assert.Equal(t, "BTCUSDT", update.Symbol)
	assert.Equal(t, enum.BookUpdateSnapshot, update.Kind)
	assert.Len(t, update.Bids, 2)
	assert.Len(t, update.Asks, 2)
	assert.Equal(t, "16493.5", update.Bids[0].Price.String())
	assert.Equal(t, "0.029", update.Asks[0].Size.String())
	assert.Equal(t, int64(1672304484978), update.Ts)
}

func TestNormalizeOrderbookRejectsBadLevels(t *testing.T) {
	push := OrderbookPush{
		Type: "delta",
		Data: OrderbookData{
			Symbol: "BTCUSDT",
			Bids:   [][2]string{{"not-a-number", "1"}},
		},
	}
	_, err := NormalizeOrderbook(push)
	assert.Error(t, err)

	push.Data.Bids = [][2]string{{"-5", "1"}}
	_, err = NormalizeOrderbook(push)
	assert.Error(t, err)

	push.Type = "unknown"
	push.Data.Bids = nil
	_, err = NormalizeOrderbook(push)
	assert.Error(t, err)
}

func TestNormalizeTrades(t *testing.T) {
	raw := []byte(`{
		"topic": "publicTrade.BTCUSDT",
		"ts": 1672304486868,
		"data": [
			{"T": 1672304486865, "s": "BTCUSDT", "S": "Buy", "v": "0.001", "p": "16578.50", "i": "20f43950-d8dd-5b31-9112-a178eb6023af"}
		]
	}`)

	var push TradePush
	require.NoError(t, json.Unmarshal(raw, &push))

	trades, err := NormalizeTrades(push)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, enum.SideBuy, trades[0].Side)
	assert.Equal(t, "16578.5", trades[0].Price.String())
	assert.Equal(t, int64(1672304486865), trades[0].Ts)

	push.Data[0].Side = "Hold"
	_, err = NormalizeTrades(push)
	assert.Error(t, err)
}

func TestNormalizeKlines(t *testing.T) {
	push := KlinePush{
		Topic: "kline.5.BTCUSDT",
		Data: []KlineData{{
			Start: 1672324800000, End: 1672325099999, Interval: "5",
			Open: "16649.5", Close: "16677", High: "16677", Low: "16608",
			Volume: "2.081", Turnover: "34666.4005", Confirm: false,
			Timestamp: 1672324988882,
		}},
	}

	candles, err := NormalizeKlines("BTCUSDT", push)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, "5", candles[0].Interval)
	assert.Equal(t, "16677", candles[0].Close.String())
	assert.False(t, candles[0].Confirmed)
}

func TestNormalizeLiquidations(t *testing.T) {
	push := LiquidationPush{
		Topic: "liquidation.BTCUSDT",
		Data: []LiquidationData{{
			Symbol: "BTCUSDT", Side: "Sell", Size: "0.003",
			Price: "16610.00", UpdatedTime: 1673251091822,
		}},
	}

	liquidations, err := NormalizeLiquidations(push)
	require.NoError(t, err)
	require.Len(t, liquidations, 1)
	assert.Equal(t, enum.SideSell, liquidations[0].Side)
	assert.Equal(t, int64(1673251091822), liquidations[0].Ts)
}

func TestKlineTopicSymbol(t *testing.T) {
	symbol, ok := KlineTopicSymbol("kline.5.BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", symbol)

	_, ok = KlineTopicSymbol("kline.5.")
	assert.False(t, ok)
	_, ok = KlineTopicSymbol("publicTrade.BTCUSDT")
	assert.False(t, ok)
}

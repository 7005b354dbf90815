package bybit

import (
	"context"
	"fmt"
	"strings"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"
)

const (
	_bybitLinearWsUrl  = "wss://stream.bybit.com/v5/public/linear"
	_bybitSpotWsUrl    = "wss://stream.bybit.com/v5/public/spot"
	_bybitTestnetWsUrl = "wss://stream-testnet.bybit.com/v5/public/linear"
)

// Pub is the Bybit v5 public stream client.
type Pub struct {
	wss *ws.WebSocket
}

func NewPub(ctx context.Context) *Pub {
	return &Pub{
		wss: ws.New(ctx, _bybitLinearWsUrl),
	}
}

func (repo *Pub) Len() int {
	return repo.wss.Len()
}

func (repo *Pub) Close() {
	repo.wss.Close()
}

func (repo *Pub) CloseWhenEmpty() bool {
	if repo.Len() == 0 {
		repo.Close()
		logs.Info("close websocket. reason: empty")
		return true
	}

	return false
}

func (repo *Pub) StartWebsocket(ctx context.Context) error {
	if err := repo.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start wss")
	}

	return nil
}

type SubscribeRequest struct {
	ReqID string   `json:"req_id,omitempty"`
	Op    string   `json:"op"`
	Args  []string `json:"args"`
}

type SubscribeResponse struct {
	ReqID   string `json:"req_id"`
	Op      string `json:"op"`
	Success bool   `json:"success"`
	RetMsg  string `json:"ret_msg"`
}

func subscriberResponseParser(m ws.Message) (SubscribeResponse, bool) {
	var resp SubscribeResponse
	err := m.Unmarshal(&resp)
	return resp, err == nil
}

func (repo *Pub) subscribe(ctx context.Context, reqID, topic string) error {
	appendIntoRegister := true
	if err := repo.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, ws *ws.WebSocket) error {
			payload := SubscribeRequest{
				ReqID: reqID,
				Op:    "subscribe",
				Args:  []string{topic},
			}

			if err := ws.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}

			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			resp, ok := subscriberResponseParser(m)
			if !ok || resp.Op != "subscribe" || resp.ReqID != reqID {
				return false, nil
			}

			if !resp.Success {
				return false, errors.Errorf("subscribe and wait, err: %s", resp.RetMsg)
			}
			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "send and wait")
	}

	return nil
}

// SubscribeOrderbook subscribes 'orderbook.{depth}.{symbol}'.
// Valid linear depths are 1, 50, 200, 500.
func (repo *Pub) SubscribeOrderbook(ctx context.Context, symbol string, depth int) error {
	topic := fmt.Sprintf("orderbook.%d.%s", depth, symbol)
	return repo.subscribe(ctx, topic, topic)
}

// SubscribeTrade subscribes 'publicTrade.{symbol}'.
func (repo *Pub) SubscribeTrade(ctx context.Context, symbol string) error {
	topic := fmt.Sprintf("publicTrade.%s", symbol)
	return repo.subscribe(ctx, topic, topic)
}

// SubscribeKline subscribes 'kline.{interval}.{symbol}'.
func (repo *Pub) SubscribeKline(ctx context.Context, symbol, interval string) error {
	topic := fmt.Sprintf("kline.%s.%s", interval, symbol)
	return repo.subscribe(ctx, topic, topic)
}

// SubscribeLiquidation subscribes 'liquidation.{symbol}'.
func (repo *Pub) SubscribeLiquidation(ctx context.Context, symbol string) error {
	topic := fmt.Sprintf("liquidation.%s", symbol)
	return repo.subscribe(ctx, topic, topic)
}

type OrderbookPush struct {
	Topic string        `json:"topic"`
	Type  string        `json:"type"` // snapshot | delta
	Ts    int64         `json:"ts"`
	Data  OrderbookData `json:"data"`
}

type OrderbookData struct {
	Symbol   string      `json:"s"`
	Bids     [][2]string `json:"b"` // [0]price [1]size
	Asks     [][2]string `json:"a"` // [0]price [1]size
	UpdateID int64       `json:"u"`
	Seq      int64       `json:"seq"`
}

func (repo *Pub) ObserveOrderbook(ctx context.Context, handler func(p OrderbookPush)) (unsubscribe func()) {
	ch, cancel := repo.wss.Subscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				resp, ok := ws.ReadMessage[OrderbookPush](m)
				if !ok || !strings.HasPrefix(resp.Topic, "orderbook.") {
					continue
				}

				handler(resp)
			}
		}
	}()

	return cancel
}

type TradePush struct {
	Topic string      `json:"topic"`
	Ts    int64       `json:"ts"`
	Data  []TradeData `json:"data"`
}

type TradeData struct {
	Symbol  string `json:"s"`
	Side    string `json:"S"` // Buy | Sell
	Size    string `json:"v"`
	Price   string `json:"p"`
	TradeID string `json:"i"`
	Ts      int64  `json:"T"`
}

func (repo *Pub) ObserveTrade(ctx context.Context, handler func(p TradePush)) (unsubscribe func()) {
	ch, cancel := repo.wss.Subscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				resp, ok := ws.ReadMessage[TradePush](m)
				if !ok || !strings.HasPrefix(resp.Topic, "publicTrade.") {
					continue
				}

				handler(resp)
			}
		}
	}()

	return cancel
}

type KlinePush struct {
	Topic string      `json:"topic"`
	Ts    int64       `json:"ts"`
	Data  []KlineData `json:"data"`
}

type KlineData struct {
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
	Interval  string `json:"interval"`
	Open      string `json:"open"`
	Close     string `json:"close"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Volume    string `json:"volume"`
	Turnover  string `json:"turnover"`
	Confirm   bool   `json:"confirm"`
	Timestamp int64  `json:"timestamp"`
}

func (repo *Pub) ObserveKline(ctx context.Context, handler func(p KlinePush)) (unsubscribe func()) {
	ch, cancel := repo.wss.Subscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				resp, ok := ws.ReadMessage[KlinePush](m)
				if !ok || !strings.HasPrefix(resp.Topic, "kline.") {
					continue
				}

				handler(resp)
			}
		}
	}()

	return cancel
}

type LiquidationPush struct {
	Topic string            `json:"topic"`
	Ts    int64             `json:"ts"`
	Data  []LiquidationData `json:"data"`
}

type LiquidationData struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Size        string `json:"size"`
	Price       string `json:"price"`
	UpdatedTime int64  `json:"updatedTime"`
}

func (repo *Pub) ObserveLiquidation(ctx context.Context, handler func(p LiquidationPush)) (unsubscribe func()) {
	ch, cancel := repo.wss.Subscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				resp, ok := ws.ReadMessage[LiquidationPush](m)
				if !ok || !strings.HasPrefix(resp.Topic, "liquidation.") {
					continue
				}

				handler(resp)
			}
		}
	}()

	return cancel
}

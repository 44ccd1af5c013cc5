package market

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"

	"github.com/kristal2012/flowsniper/internal/logger"
)

const bybitPublicWSURL = "wss://stream.bybit.com/v5/public/spot"

const (
	wsPingInterval = 20 * time.Second
	wsReadTimeout  = 60 * time.Second
)

// TickerStream 订阅 Bybit 公共行情流, 将最新价写入 Oracle 的缓存。
// 流断开时预言机自动退回 REST 查询, 因此这里的重连失败不致命。
type TickerStream struct {
	symbols    []string
	cache      cacheWriter
	stopChan   chan struct{}
	doneChan   chan struct{}
	reconnectB *backoff.Backoff
}

type cacheWriter interface {
	Set(k string, v interface{}, d time.Duration)
}

type wsTickerMessage struct {
	Topic string `json:"topic"`
	Data  struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	} `json:"data"`
}

// NewTickerStream 为给定目标资产创建行情流。symbols 为链上符号 (WETH 等)。
func NewTickerStream(oracle *Oracle, symbols []string) *TickerStream {
	return &TickerStream{
		symbols:  symbols,
		cache:    oracle.Cache(),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
		reconnectB: &backoff.Backoff{
			Min:    time.Second,
			Max:    30 * time.Second,
			Factor: 2,
			Jitter: true,
		},
	}
}

// Start 启动后台读取循环
func (s *TickerStream) Start() {
	go s.run()
}

// Stop 关闭行情流并等待读取循环退出
func (s *TickerStream) Stop() {
	close(s.stopChan)
	<-s.doneChan
}

func (s *TickerStream) run() {
	defer close(s.doneChan)
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		if err := s.connectAndListen(); err != nil {
			d := s.reconnectB.Duration()
			logger.S().Warnf("行情流中断: %v, %v 后重连", err, d)
			select {
			case <-s.stopChan:
				return
			case <-time.After(d):
			}
		}
	}
}

func (s *TickerStream) connectAndListen() error {
	conn, _, err := websocket.DefaultDialer.Dial(bybitPublicWSURL, nil)
	if err != nil {
		return fmt.Errorf("无法连接到行情流: %w", err)
	}
	defer conn.Close()

	args := make([]string, 0, len(s.symbols))
	for _, sym := range s.symbols {
		args = append(args, "tickers."+MarketSymbol(sym)+"USDT")
	}
	sub := map[string]interface{}{"op": "subscribe", "args": args}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("订阅行情失败: %w", err)
	}
	logger.S().Infof("行情流已连接, 订阅: %v", args)
	s.reconnectB.Reset()

	pingTicker := time.NewTicker(wsPingInterval)
	defer pingTicker.Stop()

	readErr := make(chan error, 1)
	go func() {
		for {
			conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
			_, raw, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			s.handleMessage(raw)
		}
	}()

	for {
		select {
		case <-s.stopChan:
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case err := <-readErr:
			return err
		case <-pingTicker.C:
			// Bybit 要求应用层 ping
			if err := conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
				return fmt.Errorf("发送 ping 失败: %w", err)
			}
		}
	}
}

func (s *TickerStream) handleMessage(raw []byte) {
	var msg wsTickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Data.LastPrice == "" || len(msg.Data.Symbol) <= len("USDT") {
		return // 订阅确认或 pong
	}
	price, err := decimal.NewFromString(msg.Data.LastPrice)
	if err != nil || price.Sign() <= 0 {
		return
	}
	// 缓存期略长于扫描间隔, 断流后由读超时触发重连并退回 REST
	market := msg.Data.Symbol[:len(msg.Data.Symbol)-len("USDT")]
	s.cache.Set("price:"+market, price, 30*time.Second)
}

package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"perp-mm-lab/market"
)

const BinanceFuturesWSEndpoint = "wss://fstream.binance.com"

// MarkPrice 永续合约标记价格与当期资金费率。
type MarkPrice struct {
	Symbol      string
	Mark        float64
	Index       float64
	FundingRate float64
	NextFunding time.Time
	EventTime   time.Time
}

type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type markPriceUpdate struct {
	Event       string      `json:"e"`
	EventTime   int64       `json:"E"`
	Symbol      string      `json:"s"`
	Mark        json.Number `json:"p"`
	Index       json.Number `json:"i"`
	FundingRate json.Number `json:"r"`
	NextFunding int64       `json:"T"`
}

// MarkPriceStream 订阅 <symbol>@markPrice 组合流并缓存最新值，实现 FundingSource。
// BarInterval>0 时同时把标记价格聚合成K线（成交量为 0），可直接作为回测输入。
type MarkPriceStream struct {
	Endpoint    string
	Dialer      *websocket.Dialer
	ReadTimeout time.Duration
	BarInterval time.Duration

	symbols []string
	logger  *zap.Logger

	mu    sync.RWMutex
	cache map[string]MarkPrice
	aggs  map[string]*market.BarAggregator
	bars  map[string]market.Series
}

func NewMarkPriceStream(endpoint string, symbols []string, logger *zap.Logger) *MarkPriceStream {
	if endpoint == "" {
		endpoint = BinanceFuturesWSEndpoint
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarkPriceStream{
		Endpoint:    endpoint,
		Dialer:      websocket.DefaultDialer,
		ReadTimeout: 30 * time.Second,
		symbols:     symbols,
		logger:      logger.Named("markprice"),
		cache:       make(map[string]MarkPrice),
		aggs:        make(map[string]*market.BarAggregator),
		bars:        make(map[string]market.Series),
	}
}

// URL 组合流地址。
func (s *MarkPriceStream) URL() (string, error) {
	if len(s.symbols) == 0 {
		return "", errors.New("markprice: no symbols subscribed")
	}
	u, err := url.Parse(s.Endpoint)
	if err != nil {
		return "", fmt.Errorf("markprice: endpoint: %w", err)
	}
	streams := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		streams[i] = strings.ToLower(sym) + "@markPrice"
	}
	u.Path = "/stream"
	q := u.Query()
	q.Set("streams", strings.Join(streams, "/"))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run 连接并读取直到 ctx 取消或连接出错；重连由调用方决定。
func (s *MarkPriceStream) Run(ctx context.Context) error {
	addr, err := s.URL()
	if err != nil {
		return err
	}
	conn, _, err := s.Dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("markprice: dial: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		if s.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("markprice: read: %w", err)
		}
		if err := s.Handle(msg); err != nil {
			s.logger.Warn("bad mark price message", zap.Error(err))
		}
	}
}

// Handle 解析一条组合流消息并更新缓存；非 markPriceUpdate 事件忽略。
func (s *MarkPriceStream) Handle(raw []byte) error {
	var msg combinedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return err
	}
	var u markPriceUpdate
	if err := json.Unmarshal(msg.Data, &u); err != nil {
		return err
	}
	if u.Event != "markPriceUpdate" || u.Symbol == "" {
		return nil
	}
	mark, err := u.Mark.Float64()
	if err != nil {
		return fmt.Errorf("mark price %q: %w", u.Mark, err)
	}
	rate, err := u.FundingRate.Float64()
	if err != nil {
		return fmt.Errorf("funding rate %q: %w", u.FundingRate, err)
	}
	index, _ := u.Index.Float64()
	mp := MarkPrice{
		Symbol:      u.Symbol,
		Mark:        mark,
		Index:       index,
		FundingRate: rate,
		NextFunding: time.UnixMilli(u.NextFunding).UTC(),
		EventTime:   time.UnixMilli(u.EventTime).UTC(),
	}
	sym := strings.ToUpper(u.Symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[sym] = mp
	if s.BarInterval > 0 {
		agg, ok := s.aggs[sym]
		if !ok {
			agg = market.NewBarAggregator(s.BarInterval)
			s.aggs[sym] = agg
		}
		if closed := agg.OnTrade(mark, 0, mp.EventTime); closed != nil {
			s.bars[sym] = append(s.bars[sym], *closed)
		}
	}
	return nil
}

// Bars 已闭合的标记价格K线副本。
func (s *MarkPriceStream) Bars(symbol string) market.Series {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(market.Series(nil), s.bars[strings.ToUpper(symbol)]...)
}

func (s *MarkPriceStream) MarkPrice(symbol string) (MarkPrice, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mp, ok := s.cache[strings.ToUpper(symbol)]
	return mp, ok
}

// FundingRate 实现 FundingSource。
func (s *MarkPriceStream) FundingRate(symbol string) (float64, bool) {
	mp, ok := s.MarkPrice(symbol)
	return mp.FundingRate, ok
}

package keeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrBadTrade = errors.New("malformed trade message")

// ParseTrade reads the price of an exchange trade message such as
// {"e":"trade","p":"151.23"} and returns it as a fixed-point integer with
// exponent expo (151.23 at expo -2 is 15123). Extra precision is truncated.
func ParseTrade(msg []byte, expo int32) (int64, error) {
	var trade struct {
		Price string `json:"p"`
	}
	if err := json.Unmarshal(msg, &trade); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadTrade, err)
	}
	if trade.Price == "" {
		return 0, fmt.Errorf("%w: no price", ErrBadTrade)
	}
	d, err := decimal.NewFromString(trade.Price)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadTrade, err)
	}
	fixed := d.Shift(-expo).Truncate(0)
	if !fixed.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: price %s out of range", ErrBadTrade, trade.Price)
	}
	return fixed.IntPart(), nil
}

// TradeStream follows an exchange trade websocket and emits fixed-point
// prices. It reconnects with backoff until its context ends.
type TradeStream struct {
	url  string
	expo int32
	log  *zap.SugaredLogger

	ReadTimeout time.Duration
}

func NewTradeStream(url string, expo int32, log *zap.SugaredLogger) *TradeStream {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &TradeStream{url: url, expo: expo, log: log, ReadTimeout: 60 * time.Second}
}

// Run sends every parsed price to out. It returns when ctx is done.
func (s *TradeStream) Run(ctx context.Context, out chan<- int64) {
	retry := 0
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := s.connect(ctx)
		if err != nil {
			delay := backoff(retry)
			retry++
			s.log.Warnw("trade_stream_connect_failed", "url", s.url, "err", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}
		retry = 0
		s.log.Infow("trade_stream_connected", "url", s.url)
		s.process(ctx, conn, out)
	}
}

func (s *TradeStream) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	return conn, err
}

func (s *TradeStream) process(ctx context.Context, conn *websocket.Conn, out chan<- int64) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warnw("trade_stream_read_failed", "err", err)
			}
			return
		}
		price, err := ParseTrade(msg, s.expo)
		if err != nil {
			s.log.Debugw("trade_stream_bad_message", "err", err)
			continue
		}
		select {
		case out <- price:
		case <-ctx.Done():
			return
		}
	}
}

func backoff(retry int) time.Duration {
	if retry > 5 {
		retry = 5
	}
	return time.Second << retry
}

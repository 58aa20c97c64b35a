package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"meerkat/model"
	"meerkat/utils/log"
)

// tickStream : 심볼 하나의 WS 커넥션. 전송 에러 시 backoff 재연결을 스스로 하고
// (사용자에게 표면화하지 않음), Stop되면 채널을 닫는다.
type tickStream struct {
	symbol string
	url    string

	ctx    context.Context
	cancel context.CancelFunc

	connMu sync.Mutex
	conn   *websocket.Conn

	ticks chan model.Tick
	errs  chan error
}

func newTickStream(parent context.Context, url, symbol string) *tickStream {
	ctx, cancel := context.WithCancel(parent)
	s := &tickStream{
		symbol: symbol,
		url:    url,
		ctx:    ctx,
		cancel: cancel,
		ticks:  make(chan model.Tick, 64),
		errs:   make(chan error, 8),
	}
	go s.run()
	return s
}

func (s *tickStream) Ticks() <-chan model.Tick { return s.ticks }
func (s *tickStream) Errs() <-chan error       { return s.errs }

// Stop : 멱등. 커넥션을 닫고 run 고루틴이 채널을 정리한다.
func (s *tickStream) Stop() {
	s.cancel()
	s.connMu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.connMu.Unlock()
}

func (s *tickStream) run() {
	defer close(s.ticks)
	defer close(s.errs)

	b := &backoff.Backoff{
		Min:    time.Second,
		Max:    30 * time.Second,
		Jitter: true,
	}

	for {
		if s.ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(s.ctx, s.url, nil)
		if err != nil {
			s.reportErr(fmt.Errorf("websocket dial fail: %w", err))
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(b.Duration()):
			}
			continue
		}

		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()

		subMsg := map[string]any{
			"action":  "subscribe",
			"symbols": []string{s.symbol},
		}
		if err := conn.WriteJSON(subMsg); err != nil {
			s.reportErr(fmt.Errorf("websocket subscribe fail: %w", err))
			_ = conn.Close()
			continue
		}

		log.Infof("[stream] connected for %s", s.symbol)
		b.Reset()

		s.readLoop(conn)
		_ = conn.Close()

		if s.ctx.Err() != nil {
			return
		}
		// read 에러 후 재연결
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(b.Duration()):
		}
	}
}

func (s *tickStream) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil {
				s.reportErr(fmt.Errorf("websocket read fail: %w", err))
			}
			return
		}

		var base model.WSTickBase
		if err := json.Unmarshal(msg, &base); err != nil {
			log.Warnf("[stream] unmarshal frame fail: %v", err)
			continue
		}
		if base.Error.Name != "" {
			s.reportErr(fmt.Errorf("stream error: %s - %s", base.Error.Name, base.Error.Message))
			continue
		}

		var raw model.WSTick
		if err := json.Unmarshal(msg, &raw); err != nil {
			log.Warnf("[stream] unmarshal tick fail: %v", err)
			continue
		}
		if raw.LTP == 0 {
			continue
		}

		tick := model.Tick{
			Symbol:     raw.Symbol,
			Price:      raw.LTP,
			Source:     raw.Source,
			MarketOpen: raw.IsMarketOpen,
		}
		if t, err := time.Parse(time.RFC3339, raw.Timestamp); err == nil {
			tick.Time = t
		} else {
			tick.Time = time.Now()
		}

		select {
		case s.ticks <- tick:
		case <-s.ctx.Done():
			return
		}
	}
}

// reportErr : non-blocking. 아무도 안 읽어도 스트림은 계속 돈다.
func (s *tickStream) reportErr(err error) {
	log.Warn("[stream] ", err)
	select {
	case s.errs <- err:
	default:
	}
}

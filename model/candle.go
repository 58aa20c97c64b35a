package model

import "time"

type Candle struct {
	Symbol    string    `json:"symbol,omitempty"`
	Time      time.Time `json:"time"`
	UpdatedAt time.Time `json:"updatedAt"`
	Open      float64   `json:"open"`
	Close     float64   `json:"close"`
	Low       float64   `json:"low"`
	High      float64   `json:"high"`
	Volume    float64   `json:"volume"`
	Complete  bool      `json:"complete"`
}

func (c Candle) Empty() bool {
	return c.Time.IsZero()
}

// Tick : 실시간 체결가 한 건. price/timestamp/market-open만 소비한다.
type Tick struct {
	Symbol     string
	Price      float64
	Time       time.Time
	Source     string
	MarketOpen bool
}

// WSTick : 라이브 피드 wire 포맷. OHLC context는 참고용으로만 내려온다.
type WSTick struct {
	Symbol       string   `json:"symbol"`
	LTP          float64  `json:"ltp"`
	Open         *float64 `json:"open"`
	High         *float64 `json:"high"`
	Low          *float64 `json:"low"`
	Close        *float64 `json:"close"`
	Volume       *float64 `json:"volume"`
	Timestamp    string   `json:"timestamp"`
	Source       string   `json:"source"`
	IsMarketOpen bool     `json:"is_market_open"`
}

type WSTickBase struct {
	Type  string `json:"type"`
	Error struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

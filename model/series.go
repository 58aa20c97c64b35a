package model

import (
	"fmt"
	"sort"
	"time"

	"golang.org/x/exp/constraints"
)

// Series is a time series of values
type Series[T constraints.Ordered] []T

// Values returns the values of the series
func (s Series[T]) Values() []T {
	return s
}

// Length returns the number of values in the series
func (s Series[T]) Length() int {
	return len(s)
}

// Last returns the last value of the series given a past index position
func (s Series[T]) Last(position int) T {
	return s[len(s)-1-position]
}

// LastValues returns the last values of the series given a size
func (s Series[T]) LastValues(size int) []T {
	if l := len(s); l > size {
		return s[l-size:]
	}
	return s
}

// FetchKey : 캐시된 시리즈 하나의 identity. lookback이 다르면 다른 키다.
type FetchKey struct {
	Symbol    string
	Timeframe string
	Lookback  int
}

func (k FetchKey) String() string {
	return fmt.Sprintf("%s_%s_%d", k.Symbol, k.Timeframe, k.Lookback)
}

func (k FetchKey) WithLookback(lookback int) FetchKey {
	k.Lookback = lookback
	return k
}

// OverlaySeries : 메인 패널 위에 겹쳐 그리는 라인 (백엔드가 계산해서 내려줌)
type OverlaySeries struct {
	Name   string          `json:"name"`
	Times  []time.Time     `json:"times"`
	Values Series[float64] `json:"values"`
}

type PanelKind string

const (
	PanelKindLine      PanelKind = "line"
	PanelKindHistogram PanelKind = "histogram"
)

// PanelSeries : 독립 서브 패널에 그리는 시리즈 (RSI, MACD hist 등)
type PanelSeries struct {
	Name   string          `json:"name"`
	Kind   PanelKind       `json:"kind"`
	Times  []time.Time     `json:"times"`
	Values Series[float64] `json:"values"`
}

// SeriesSnapshot : 한 번의 fetch 결과 전체. 저장된 뒤에는 불변이며
// refresh는 스냅샷을 통째로 교체한다.
type SeriesSnapshot struct {
	Key          FetchKey
	Candles      []Candle
	Overlays     []OverlaySeries
	Panels       []PanelSeries
	CurrentPrice float64
	DayChangePct float64
	FetchedAt    time.Time
}

func (s *SeriesSnapshot) Len() int {
	return len(s.Candles)
}

func (s *SeriesSnapshot) LastCandle() (Candle, bool) {
	if len(s.Candles) == 0 {
		return Candle{}, false
	}
	return s.Candles[len(s.Candles)-1], true
}

// Normalize : 시간 오름차순 정렬 + 중복 timestamp 제거(뒤에 온 값이 이김).
// 스냅샷 불변식(monotonic, no duplicates)은 저장 전에 여기서 강제한다.
func (s *SeriesSnapshot) Normalize() {
	sort.SliceStable(s.Candles, func(i, j int) bool {
		return s.Candles[i].Time.Before(s.Candles[j].Time)
	})
	out := s.Candles[:0]
	for _, c := range s.Candles {
		if n := len(out); n > 0 && out[n-1].Time.Equal(c.Time) {
			out[n-1] = c
			continue
		}
		out = append(out, c)
	}
	s.Candles = out
}

// LogicalRange : 캔들 인덱스 기반 가시 구간. 픽셀이 아니라 인덱스라
// 데이터가 갱신되어도 안정적이다.
type LogicalRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

func (r LogicalRange) Width() int {
	return r.To - r.From
}

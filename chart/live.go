package chart

import (
	"sync"

	"meerkat/model"
)

// RenderTarget : 틱 병합이 건드리는 렌더 표면의 최소 계약.
// UpdateLast는 마지막 한 점만 갱신해야 한다 (전체 재렌더 금지).
type RenderTarget interface {
	UpdateLast(candle model.Candle)
}

// LiveTickMerger : 활성 스냅샷의 꼬리 캔들 사본을 들고 틱을 접어 넣는다.
// Attach가 다시 불리면 이전 상태는 병합 없이 통째로 교체된다 —
// refresh된 스냅샷이 authoritative.
type LiveTickMerger struct {
	mu     sync.Mutex
	live   *model.Candle
	target RenderTarget
}

func NewLiveTickMerger(target RenderTarget) *LiveTickMerger {
	return &LiveTickMerger{target: target}
}

// Attach : 스냅샷 꼬리 캔들을 LiveCandle로 복사. 빈 스냅샷이면 detach 상태 유지.
func (m *LiveTickMerger) Attach(snapshot *model.SeriesSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tail, ok := snapshot.LastCandle()
	if !ok {
		m.live = nil
		return
	}
	live := tail
	m.live = &live
}

// Merge : high=max, low=min, close=price. open/time은 불변.
// 틱 timestamp는 검증하지 않는다 — out-of-order여도 price로만 병합
// ("most recent price wins for close" 정책, time-series 병합이 아님).
func (m *LiveTickMerger) Merge(tick model.Tick) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.live == nil {
		return
	}
	if tick.Price > m.live.High {
		m.live.High = tick.Price
	}
	if tick.Price < m.live.Low {
		m.live.Low = tick.Price
	}
	m.live.Close = tick.Price
	m.live.UpdatedAt = tick.Time

	if m.target != nil {
		m.target.UpdateLast(*m.live)
	}
}

// Detach : 이후 도착하는 틱은 전부 버려진다. 렌더된 마지막 캔들은 건드리지 않는다.
func (m *LiveTickMerger) Detach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live = nil
}

// Live : 현재 LiveCandle 사본 (없으면 ok=false)
func (m *LiveTickMerger) Live() (model.Candle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live == nil {
		return model.Candle{}, false
	}
	return *m.live, true
}

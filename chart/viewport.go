package chart

import (
	"sync"

	"meerkat/model"
	"meerkat/utils/tools"
)

// leftEdgeThreshold : 가시 구간 왼쪽에 이만큼 미만의 캔들이 남으면 lookback 확장 요청
const leftEdgeThreshold = 10

// RangeListener : 서브 패널이 받는 read-only 콜백. 여기서 SetRange를 되부르면 안 된다.
type RangeListener func(r model.LogicalRange)

// ViewportSynchronizer : 차트 세션당 하나. 메인 패널이 유일한 writer이고
// 서브 패널들은 구독만 한다 (one-directional propagation).
type ViewportSynchronizer struct {
	mu       sync.Mutex
	current  model.LogicalRange
	hasRange bool

	// 세션 내 저장된 줌 레벨. 타임프레임 전환 시 복원, 심볼 전환 시 Reset.
	saved    model.LogicalRange
	hasSaved bool

	main      RangeListener
	listeners map[int64]RangeListener
	nextID    int64

	onExpand  func()
	expanding bool
}

func NewViewportSynchronizer() *ViewportSynchronizer {
	return &ViewportSynchronizer{
		listeners: make(map[int64]RangeListener),
	}
}

// SetMainApplier : 메인 패널 자신의 표시 갱신 함수
func (v *ViewportSynchronizer) SetMainApplier(fn RangeListener) {
	v.mu.Lock()
	v.main = fn
	v.mu.Unlock()
}

// OnExpandNeeded : 왼쪽 끝 근처 도달 시 호출될 lookback 확장 훅
func (v *ViewportSynchronizer) OnExpandNeeded(fn func()) {
	v.mu.Lock()
	v.onExpand = fn
	v.mu.Unlock()
}

// SetRange : 메인 패널의 pan/zoom 결과 적용 + 전 패널 브로드캐스트.
// 왼쪽 끝(threshold 미만)을 넘보면 확장 요청을 딱 한 번만 띄운다
// (ExpansionDone 전까지 재무장 안 됨).
func (v *ViewportSynchronizer) SetRange(r model.LogicalRange) {
	v.mu.Lock()
	v.current = r
	v.hasRange = true
	v.saved = r
	v.hasSaved = true

	expand := false
	if r.From < leftEdgeThreshold && v.onExpand != nil && !v.expanding {
		v.expanding = true
		expand = true
	}
	main := v.main
	listeners := v.snapshotListeners()
	onExpand := v.onExpand
	v.mu.Unlock()

	if main != nil {
		main(r)
	}
	for _, fn := range listeners {
		fn(r)
	}
	if expand {
		onExpand()
	}
}

// Apply : 브로드캐스트 없이 현재 구간만 반영 (복원/초기화 내부용 아님 — 확장 후
// 인덱스 시프트 반영 등 컨트롤러가 계산해 내려줄 때 사용)
func (v *ViewportSynchronizer) Apply(r model.LogicalRange) {
	v.mu.Lock()
	v.current = r
	v.hasRange = true
	v.saved = r
	v.hasSaved = true
	main := v.main
	listeners := v.snapshotListeners()
	v.mu.Unlock()

	if main != nil {
		main(r)
	}
	for _, fn := range listeners {
		fn(r)
	}
}

// Restore : 저장된 줌이 있으면 복원, 없으면 타임프레임별 기본 K개 구간 계산.
// 결과를 메인+패널에 적용하고 반환한다.
func (v *ViewportSynchronizer) Restore(timeframe string, total int) model.LogicalRange {
	v.mu.Lock()
	var r model.LogicalRange
	if v.hasSaved {
		r = v.saved
	} else {
		k := tools.DefaultVisibleBars(timeframe)
		from := total - k
		if from < 0 {
			from = 0
		}
		r = model.LogicalRange{From: from, To: total - 1}
	}
	v.current = r
	v.hasRange = true
	main := v.main
	listeners := v.snapshotListeners()
	v.mu.Unlock()

	if main != nil {
		main(r)
	}
	for _, fn := range listeners {
		fn(r)
	}
	return r
}

// Reset : 심볼 변경 시 저장된 줌 폐기
func (v *ViewportSynchronizer) Reset() {
	v.mu.Lock()
	v.hasSaved = false
	v.hasRange = false
	v.expanding = false
	v.mu.Unlock()
}

// ExpansionDone : 확장 요청 완료(성공/실패 불문). 다음 제스처가 다시 트리거 가능해진다.
func (v *ViewportSynchronizer) ExpansionDone() {
	v.mu.Lock()
	v.expanding = false
	v.mu.Unlock()
}

func (v *ViewportSynchronizer) Expanding() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.expanding
}

func (v *ViewportSynchronizer) Current() (model.LogicalRange, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current, v.hasRange
}

// RangeSubscription : 서브 패널 구독 핸들. Release 멱등.
type RangeSubscription struct {
	sync *ViewportSynchronizer
	id   int64
	once sync.Once
}

func (s *RangeSubscription) Release() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.sync.mu.Lock()
		delete(s.sync.listeners, s.id)
		s.sync.mu.Unlock()
	})
}

// Subscribe : 서브 패널 등록. 현재 구간이 있으면 즉시 한 번 전달한다.
func (v *ViewportSynchronizer) Subscribe(fn RangeListener) *RangeSubscription {
	v.mu.Lock()
	v.nextID++
	id := v.nextID
	v.listeners[id] = fn
	deliver := v.hasRange
	r := v.current
	v.mu.Unlock()

	if deliver {
		fn(r)
	}
	return &RangeSubscription{sync: v, id: id}
}

func (v *ViewportSynchronizer) snapshotListeners() []RangeListener {
	out := make([]RangeListener, 0, len(v.listeners))
	for _, fn := range v.listeners {
		out = append(out, fn)
	}
	return out
}

package chart

import (
	"testing"

	"github.com/stretchr/testify/require"

	"meerkat/model"
)

// 메인에서 SetRange하면 모든 패널이 같은 구간을 받는다
func TestSetRange_IdenticalFanOut(t *testing.T) {
	v := NewViewportSynchronizer()

	var mainGot, rsiGot, macdGot []model.LogicalRange
	v.SetMainApplier(func(r model.LogicalRange) { mainGot = append(mainGot, r) })
	v.Subscribe(func(r model.LogicalRange) { rsiGot = append(rsiGot, r) })
	v.Subscribe(func(r model.LogicalRange) { macdGot = append(macdGot, r) })

	want := model.LogicalRange{From: 50, To: 200}
	v.SetRange(want)

	require.Equal(t, []model.LogicalRange{want}, mainGot)
	require.Equal(t, []model.LogicalRange{want}, rsiGot)
	require.Equal(t, []model.LogicalRange{want}, macdGot)
}

// 구독 콜백이 또 SetRange를 부르지 않는 한 피드백 루프가 없다:
// SetRange 1번에 리스너는 정확히 1번씩만 불린다
func TestSetRange_NoFeedbackLoop(t *testing.T) {
	v := NewViewportSynchronizer()

	calls := 0
	v.Subscribe(func(model.LogicalRange) { calls++ })

	v.SetRange(model.LogicalRange{From: 20, To: 120})
	v.SetRange(model.LogicalRange{From: 21, To: 121})
	require.Equal(t, 2, calls)
}

// 저장된 줌이 없으면 타임프레임별 기본 K개로 마지막 구간을 잡는다
func TestRestore_DefaultWindowPerTimeframe(t *testing.T) {
	cases := []struct {
		timeframe string
		total     int
		want      model.LogicalRange
	}{
		{"1m", 300, model.LogicalRange{From: 120, To: 299}},  // K=180
		{"15m", 300, model.LogicalRange{From: 150, To: 299}}, // K=150
		{"1h", 300, model.LogicalRange{From: 180, To: 299}},  // K=120
		{"1d", 300, model.LogicalRange{From: 210, To: 299}},  // K=90
		{"1d", 50, model.LogicalRange{From: 0, To: 49}},      // total < K → 전체
	}
	for _, tc := range cases {
		v := NewViewportSynchronizer()
		got := v.Restore(tc.timeframe, tc.total)
		require.Equal(t, tc.want, got, "timeframe %s total %d", tc.timeframe, tc.total)
	}
}

// 타임프레임 전환 시나리오: SetRange로 저장된 줌은 Restore에서 살아난다.
// Reset(심볼 전환) 후에는 기본 구간으로 돌아간다.
func TestRestore_SavedZoomSurvivesUntilReset(t *testing.T) {
	v := NewViewportSynchronizer()

	zoom := model.LogicalRange{From: 100, To: 150}
	v.SetRange(zoom)

	require.Equal(t, zoom, v.Restore("15m", 300))

	v.Reset()
	require.Equal(t, model.LogicalRange{From: 150, To: 299}, v.Restore("15m", 300))
}

// 왼쪽 끝 threshold 미만 진입 시 확장 요청이 딱 한 번만 나가고,
// ExpansionDone 후 다음 제스처부터 재무장된다
func TestSetRange_ExpansionSingleFire(t *testing.T) {
	v := NewViewportSynchronizer()

	expands := 0
	v.OnExpandNeeded(func() { expands++ })

	v.SetRange(model.LogicalRange{From: 5, To: 100})
	v.SetRange(model.LogicalRange{From: 3, To: 98}) // 확장 중 — 무시
	v.SetRange(model.LogicalRange{From: 0, To: 95}) // 확장 중 — 무시
	require.Equal(t, 1, expands)

	v.ExpansionDone()
	v.SetRange(model.LogicalRange{From: 4, To: 99})
	require.Equal(t, 2, expands)
}

// From >= threshold면 확장 요청이 없다
func TestSetRange_NoExpansionInsideThreshold(t *testing.T) {
	v := NewViewportSynchronizer()

	expands := 0
	v.OnExpandNeeded(func() { expands++ })

	v.SetRange(model.LogicalRange{From: 10, To: 110})
	v.SetRange(model.LogicalRange{From: 42, To: 142})
	require.Equal(t, 0, expands)
}

// 늦게 붙는 패널은 현재 구간을 즉시 받고, Release 후엔 더 안 받는다
func TestSubscribe_ImmediateDeliveryAndRelease(t *testing.T) {
	v := NewViewportSynchronizer()
	v.SetRange(model.LogicalRange{From: 30, To: 130})

	var got []model.LogicalRange
	sub := v.Subscribe(func(r model.LogicalRange) { got = append(got, r) })
	require.Equal(t, []model.LogicalRange{{From: 30, To: 130}}, got)

	sub.Release()
	sub.Release() // 멱등
	v.SetRange(model.LogicalRange{From: 31, To: 131})
	require.Len(t, got, 1)
}

// Apply는 확장 트리거 없이 구간만 반영한다 (확장 후 인덱스 시프트용)
func TestApply_NoExpansionTrigger(t *testing.T) {
	v := NewViewportSynchronizer()

	expands := 0
	v.OnExpandNeeded(func() { expands++ })

	var got []model.LogicalRange
	v.Subscribe(func(r model.LogicalRange) { got = append(got, r) })

	v.Apply(model.LogicalRange{From: 2, To: 52})
	require.Equal(t, 0, expands)
	require.Equal(t, []model.LogicalRange{{From: 2, To: 52}}, got)
}

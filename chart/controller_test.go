package chart

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"meerkat/cache"
	"meerkat/mocks"
	"meerkat/model"
)

func makeCandles(symbol string, n int) []model.Candle {
	base := time.Date(2025, 6, 2, 9, 15, 0, 0, time.UTC)
	out := make([]model.Candle, n)
	for i := 0; i < n; i++ {
		out[i] = model.Candle{
			Symbol: symbol,
			Time:   base.Add(time.Duration(i) * 15 * time.Minute),
			Open:   100, High: 101, Low: 99, Close: 100,
			Volume:   1000,
			Complete: i < n-1,
		}
	}
	// 꼬리 캔들은 라이브 병합 검증용으로 고정 OHLC
	out[n-1].Open = 99
	out[n-1].High = 100
	out[n-1].Low = 98
	out[n-1].Close = 99
	return out
}

func seedSnapshot(data *mocks.MockMarketData, symbol, timeframe string, lookback, count int) model.FetchKey {
	key := model.FetchKey{Symbol: symbol, Timeframe: timeframe, Lookback: lookback}
	data.SetSnapshot(key, &model.SeriesSnapshot{
		Key:          key,
		Candles:      makeCandles(symbol, count),
		CurrentPrice: 99,
		FetchedAt:    time.Now(),
	})
	return key
}

type ctrlFixture struct {
	data    *mocks.MockMarketData
	surface *mocks.MockSurface
	store   *cache.Store
	ctrl    *Controller
}

func newFixture(t *testing.T, opts Options) *ctrlFixture {
	t.Helper()
	data := mocks.NewMockMarketData()
	surface := mocks.NewMockSurface()
	store := cache.NewStore(data.Snapshot)
	ctrl := NewController(opts, data, store, surface)
	t.Cleanup(ctrl.Stop)
	return &ctrlFixture{data: data, surface: surface, store: store, ctrl: ctrl}
}

func defaultOpts() Options {
	return Options{
		Symbol:    "RELIANCE",
		Timeframe: "15m",
		Lookback:  300,
		// 테스트에서 타이머가 멋대로 안 돌게 길게
		RefreshInterval:    time.Hour,
		MarketPollInterval: time.Hour,
	}
}

func (f *ctrlFixture) waitState(t *testing.T, want State) ViewModel {
	t.Helper()
	var vm ViewModel
	require.Eventually(t, func() bool {
		vm = f.ctrl.ViewModel()
		return vm.State == want
	}, 2*time.Second, 5*time.Millisecond, "state never reached %s (got %s)", want, vm.State)
	return vm
}

// 초기 로드: Loading -> Displayed, 기본 가시 구간은 마지막 K=150개
func TestController_InitialLoad(t *testing.T) {
	f := newFixture(t, defaultOpts())
	seedSnapshot(f.data, "RELIANCE", "15m", 300, 300)

	f.ctrl.Start()
	vm := f.waitState(t, StateDisplayed)

	require.Equal(t, "RELIANCE", vm.Symbol)
	require.Equal(t, "15m", vm.Timeframe)
	require.Len(t, vm.Candles, 300)
	require.Equal(t, model.LogicalRange{From: 150, To: 299}, vm.Visible)
	require.Equal(t, vm.Visible, f.surface.VisibleRange())
	require.True(t, f.surface.HasSnapshot())
}

// 첫 로드 실패 -> StateError + 에러 표면화
func TestController_FirstLoadError(t *testing.T) {
	f := newFixture(t, defaultOpts())
	f.data.SnapshotErr = errTest

	f.ctrl.Start()
	vm := f.waitState(t, StateError)
	require.Contains(t, vm.Error, "fetch failed")
	require.Contains(t, f.surface.LastError(), "fetch failed")
}

var errTest = &testError{}

type testError struct{}

func (*testError) Error() string { return "synthetic upstream failure" }

// 장이 열리면 라이브가 붙고, 틱이 꼬리 캔들에 병합된다.
// 틱 105 @ (high=100, low=98) -> high=105, low=98, close=105
func TestController_LiveTickMergesIntoTail(t *testing.T) {
	opts := defaultOpts()
	opts.MarketPollInterval = 10 * time.Millisecond
	f := newFixture(t, opts)
	seedSnapshot(f.data, "RELIANCE", "15m", 300, 300)

	f.ctrl.Start()
	f.waitState(t, StateDisplayed)

	require.Eventually(t, func() bool {
		return f.ctrl.ViewModel().LiveAttached
	}, 2*time.Second, 5*time.Millisecond)

	stream := f.data.Stream("RELIANCE")
	require.NotNil(t, stream)

	// 붙은 직후 라이브 캔들은 스냅샷 꼬리와 동일해야 한다
	vm := f.ctrl.ViewModel()
	require.NotNil(t, vm.Live)
	require.Equal(t, 100.0, vm.Live.High)
	require.Equal(t, 98.0, vm.Live.Low)

	stream.Push(model.Tick{Symbol: "RELIANCE", Price: 105, Time: time.Now(), MarketOpen: true})

	require.Eventually(t, func() bool {
		vm := f.ctrl.ViewModel()
		return vm.Live != nil && vm.Live.Close == 105
	}, 2*time.Second, 5*time.Millisecond)

	vm = f.ctrl.ViewModel()
	require.Equal(t, 105.0, vm.Live.High)
	require.Equal(t, 98.0, vm.Live.Low)
	require.Equal(t, 99.0, vm.Live.Open) // open 불변
	require.Equal(t, 105.0, vm.CurrentPrice)
}

// 장 마감 틱(is_market_open=false) -> 라이브 분리, 마지막 캔들은 유지
func TestController_MarketCloseDetaches(t *testing.T) {
	opts := defaultOpts()
	opts.MarketPollInterval = 10 * time.Millisecond
	f := newFixture(t, opts)
	seedSnapshot(f.data, "RELIANCE", "15m", 300, 300)

	f.ctrl.Start()
	f.waitState(t, StateDisplayed)
	require.Eventually(t, func() bool {
		return f.ctrl.ViewModel().LiveAttached
	}, 2*time.Second, 5*time.Millisecond)

	f.data.SetOpen(false) // 이후 poll부터 닫힘
	stream := f.data.Stream("RELIANCE")
	stream.Push(model.Tick{Symbol: "RELIANCE", Price: 105, Time: time.Now(), MarketOpen: false})

	require.Eventually(t, func() bool {
		return !f.ctrl.ViewModel().LiveAttached
	}, 2*time.Second, 5*time.Millisecond)

	vm := f.ctrl.ViewModel()
	require.Nil(t, vm.Live)
	// 105는 병합되지 않았어야 한다
	require.Equal(t, 100.0, vm.Candles[len(vm.Candles)-1].High)
}

// 왼쪽 끝 도달 -> lookback 550으로 정확히 1번 확장 요청,
// 로드 후 가시 구간이 prepend된 캔들 수만큼 이동
func TestController_LookbackExpansion(t *testing.T) {
	f := newFixture(t, defaultOpts())
	seedSnapshot(f.data, "RELIANCE", "15m", 300, 300)
	seedSnapshot(f.data, "RELIANCE", "15m", 550, 550)

	f.ctrl.Start()
	f.waitState(t, StateDisplayed)

	f.ctrl.OnRangeChange(model.LogicalRange{From: 5, To: 105})
	f.ctrl.OnRangeChange(model.LogicalRange{From: 3, To: 103}) // 확장 중 — 중복 금지

	require.Eventually(t, func() bool {
		vm := f.ctrl.ViewModel()
		return vm.Lookback == 550 && len(vm.Candles) == 550
	}, 2*time.Second, 5*time.Millisecond)

	// 550짜리 요청은 딱 1번
	requests := 0
	for _, k := range f.data.Keys() {
		if k.Lookback == 550 {
			requests++
		}
	}
	require.Equal(t, 1, requests)

	// 마지막 제스처(From=3) 기준 +250 시프트로 화면 위치 보존
	vm := f.ctrl.ViewModel()
	require.Equal(t, model.LogicalRange{From: 253, To: 353}, vm.Visible)
	require.Equal(t, StateDisplayed, vm.State)
}

// 1000 상한: 750 -> 1000까지는 가고 그 위로는 확장 안 함
func TestController_LookbackCap(t *testing.T) {
	opts := defaultOpts()
	opts.Lookback = 750
	f := newFixture(t, opts)
	seedSnapshot(f.data, "RELIANCE", "15m", 750, 750)
	seedSnapshot(f.data, "RELIANCE", "15m", 1000, 1000)

	f.ctrl.Start()
	f.waitState(t, StateDisplayed)

	f.ctrl.OnRangeChange(model.LogicalRange{From: 5, To: 105})
	require.Eventually(t, func() bool {
		return f.ctrl.ViewModel().Lookback == 1000
	}, 2*time.Second, 5*time.Millisecond)

	// 이미 상한 — 다시 왼쪽 끝을 건드려도 요청이 안 나간다
	before := len(f.data.Keys())
	f.ctrl.OnRangeChange(model.LogicalRange{From: 2, To: 102})
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, before, len(f.data.Keys()))
	require.Equal(t, 1000, f.ctrl.ViewModel().Lookback)
}

// price-scale 클릭 -> 그 가격에 선 생성. 차트 영역 클릭 -> 에디터 열기/닫기
func TestController_PointerRouting(t *testing.T) {
	f := newFixture(t, defaultOpts())
	seedSnapshot(f.data, "RELIANCE", "15m", 300, 300)

	f.ctrl.Start()
	f.waitState(t, StateDisplayed)

	// price-scale 스트립(x >= 1220) 클릭: y=500 -> price=500
	f.ctrl.OnPointer(PointerEvent{Type: "click", X: 1250, Y: 500})
	require.Eventually(t, func() bool {
		return len(f.ctrl.ViewModel().Lines) == 1
	}, 2*time.Second, 5*time.Millisecond)

	vm := f.ctrl.ViewModel()
	require.Equal(t, 500.0, vm.Lines[0].Price)
	require.Empty(t, vm.EditingLine)

	// 차트 영역에서 선 위(8px 이내) 클릭 -> 에디터 열림
	f.ctrl.OnPointer(PointerEvent{Type: "click", X: 400, Y: 505})
	require.Eventually(t, func() bool {
		return f.ctrl.ViewModel().EditingLine == vm.Lines[0].ID
	}, 2*time.Second, 5*time.Millisecond)

	// 빈 곳 클릭 -> 에디터 닫힘
	f.ctrl.OnPointer(PointerEvent{Type: "click", X: 400, Y: 700})
	require.Eventually(t, func() bool {
		return f.ctrl.ViewModel().EditingLine == ""
	}, 2*time.Second, 5*time.Millisecond)

	// hover 하이라이트 (6px)
	f.ctrl.OnPointer(PointerEvent{Type: "move", X: 400, Y: 503})
	require.Eventually(t, func() bool {
		return f.surface.Hovered() == vm.Lines[0].ID
	}, 2*time.Second, 5*time.Millisecond)
}

// 심볼 전환은 가격선/줌을 버리고, 타임프레임 전환은 유지한다
func TestController_SwitchSemantics(t *testing.T) {
	f := newFixture(t, defaultOpts())
	seedSnapshot(f.data, "RELIANCE", "15m", 300, 300)
	seedSnapshot(f.data, "RELIANCE", "1h", 300, 300)
	seedSnapshot(f.data, "TCS", "1h", 300, 300)

	f.ctrl.Start()
	f.waitState(t, StateDisplayed)

	f.ctrl.OnPointer(PointerEvent{Type: "click", X: 1250, Y: 500})
	f.ctrl.OnRangeChange(model.LogicalRange{From: 100, To: 160})
	require.Eventually(t, func() bool {
		vm := f.ctrl.ViewModel()
		return len(vm.Lines) == 1 && vm.Visible.From == 100
	}, 2*time.Second, 5*time.Millisecond)

	// 타임프레임 전환: 선과 줌 유지
	f.ctrl.SetTimeframe("1h")
	require.Eventually(t, func() bool {
		vm := f.ctrl.ViewModel()
		return vm.Timeframe == "1h" && vm.State == StateDisplayed
	}, 2*time.Second, 5*time.Millisecond)
	vm := f.ctrl.ViewModel()
	require.Len(t, vm.Lines, 1)
	require.Equal(t, model.LogicalRange{From: 100, To: 160}, vm.Visible)

	// 심볼 전환: 선 폐기 + 기본 구간 (1h -> K=120)
	f.ctrl.SetSymbol("TCS")
	require.Eventually(t, func() bool {
		vm := f.ctrl.ViewModel()
		return vm.Symbol == "TCS" && vm.State == StateDisplayed
	}, 2*time.Second, 5*time.Millisecond)
	vm = f.ctrl.ViewModel()
	require.Empty(t, vm.Lines)
	require.Equal(t, model.LogicalRange{From: 180, To: 299}, vm.Visible)
}

// 키 전환 후 이전 키의 늦은 fetch 결과가 화면을 덮어쓰지 않는다
func TestController_StaleKeyIgnored(t *testing.T) {
	f := newFixture(t, defaultOpts())
	oldKey := seedSnapshot(f.data, "RELIANCE", "15m", 300, 300)
	seedSnapshot(f.data, "TCS", "15m", 300, 200)

	f.ctrl.Start()
	f.waitState(t, StateDisplayed)

	f.ctrl.SetSymbol("TCS")
	require.Eventually(t, func() bool {
		vm := f.ctrl.ViewModel()
		return vm.Symbol == "TCS" && len(vm.Candles) == 200
	}, 2*time.Second, 5*time.Millisecond)

	// 이전 키 refresh가 늦게 완료된 상황 재현
	f.store.Request(oldKey, nil)
	time.Sleep(50 * time.Millisecond)

	vm := f.ctrl.ViewModel()
	require.Equal(t, "TCS", vm.Symbol)
	require.Len(t, vm.Candles, 200)
}

// 주기 refresh는 silent: 가격선과 가시 구간을 건드리지 않는다
func TestController_RefreshKeepsAnnotationsAndZoom(t *testing.T) {
	opts := defaultOpts()
	opts.RefreshInterval = 20 * time.Millisecond
	f := newFixture(t, opts)
	seedSnapshot(f.data, "RELIANCE", "15m", 300, 300)

	f.ctrl.Start()
	f.waitState(t, StateDisplayed)

	f.ctrl.OnPointer(PointerEvent{Type: "click", X: 1250, Y: 500})
	f.ctrl.OnRangeChange(model.LogicalRange{From: 120, To: 220})
	require.Eventually(t, func() bool {
		return len(f.ctrl.ViewModel().Lines) == 1
	}, 2*time.Second, 5*time.Millisecond)

	initial := f.data.Calls()
	require.Eventually(t, func() bool {
		return f.data.Calls() > initial+1
	}, 2*time.Second, 5*time.Millisecond, "periodic refresh not firing")

	vm := f.ctrl.ViewModel()
	require.Len(t, vm.Lines, 1)
	require.Equal(t, model.LogicalRange{From: 120, To: 220}, vm.Visible)
}

// 심볼 첫 표시 후 형제 타임프레임을 warm한다
func TestController_WarmsSiblingTimeframes(t *testing.T) {
	opts := defaultOpts()
	opts.WarmTimeframes = []string{"5m", "15m", "1h"}
	f := newFixture(t, opts)
	seedSnapshot(f.data, "RELIANCE", "15m", 300, 300)
	seedSnapshot(f.data, "RELIANCE", "5m", 300, 300)
	seedSnapshot(f.data, "RELIANCE", "1h", 300, 300)

	f.ctrl.Start()
	f.waitState(t, StateDisplayed)

	require.Eventually(t, func() bool {
		warmed := map[string]bool{}
		for _, k := range f.data.Keys() {
			warmed[k.Timeframe] = true
		}
		return warmed["5m"] && warmed["1h"]
	}, 2*time.Second, 5*time.Millisecond)

	// 활성 타임프레임(15m)은 warm 목록에서 제외 — 초기 로드 1번뿐
	count := 0
	for _, k := range f.data.Keys() {
		if k.Timeframe == "15m" {
			count++
		}
	}
	require.Equal(t, 1, count)
}

// pan/zoom 직후 ViewModel.Visible이 표면과 같은 구간을 가리켜야 한다
func TestController_RangeChangeReflectedInViewModel(t *testing.T) {
	f := newFixture(t, defaultOpts())
	seedSnapshot(f.data, "RELIANCE", "15m", 300, 300)

	f.ctrl.Start()
	f.waitState(t, StateDisplayed)

	f.ctrl.OnRangeChange(model.LogicalRange{From: 40, To: 140})
	require.Eventually(t, func() bool {
		return f.ctrl.ViewModel().Visible == model.LogicalRange{From: 40, To: 140}
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, model.LogicalRange{From: 40, To: 140}, f.surface.VisibleRange())
}

// refresh 실패는 stale을 유지하되 Refreshing에 갇히면 안 된다.
// 업스트림이 복구되면 주기 refresh도 계속 돈다.
func TestController_RefreshFailureRecovers(t *testing.T) {
	opts := defaultOpts()
	opts.RefreshInterval = 20 * time.Millisecond
	f := newFixture(t, opts)
	seedSnapshot(f.data, "RELIANCE", "15m", 300, 300)

	f.ctrl.Start()
	f.waitState(t, StateDisplayed)

	// 업스트림 장애: 실패한 refresh 후에도 Displayed로 돌아와야 한다
	f.data.SetSnapshotErr(errTest)
	failedAt := f.data.Calls()
	require.Eventually(t, func() bool {
		return f.data.Calls() > failedAt
	}, 2*time.Second, 5*time.Millisecond)
	f.waitState(t, StateDisplayed)

	// 복구: 주기 refresh가 멈추지 않고 계속 나간다
	f.data.SetSnapshotErr(nil)
	before := f.data.Calls()
	require.Eventually(t, func() bool {
		return f.data.Calls() > before+1
	}, 2*time.Second, 5*time.Millisecond, "periodic refresh stalled")

	vm := f.waitState(t, StateDisplayed)
	require.Len(t, vm.Candles, 300)
	require.Empty(t, vm.Error)
}

// 심볼 전환 직후, 다음 market poll을 기다리지 않고 라이브가 다시 붙는다
func TestController_SwitchReattachesLive(t *testing.T) {
	opts := defaultOpts()
	opts.MarketPollInterval = 400 * time.Millisecond
	f := newFixture(t, opts)
	seedSnapshot(f.data, "RELIANCE", "15m", 300, 300)
	seedSnapshot(f.data, "TCS", "15m", 300, 300)

	f.ctrl.Start()
	f.waitState(t, StateDisplayed)
	require.Eventually(t, func() bool {
		return f.ctrl.ViewModel().LiveAttached
	}, 2*time.Second, 5*time.Millisecond)

	f.ctrl.SetSymbol("TCS")
	// poll 간격(400ms)보다 좁은 창 안에 붙어야 display 경로가 붙인 것
	require.Eventually(t, func() bool {
		vm := f.ctrl.ViewModel()
		return vm.Symbol == "TCS" && vm.LiveAttached
	}, 200*time.Millisecond, 5*time.Millisecond)

	stream := f.data.Stream("TCS")
	require.NotNil(t, stream)
	stream.Push(model.Tick{Symbol: "TCS", Price: 105, Time: time.Now(), MarketOpen: true})
	require.Eventually(t, func() bool {
		vm := f.ctrl.ViewModel()
		return vm.Live != nil && vm.Live.Close == 105
	}, 2*time.Second, 5*time.Millisecond)
}

// 스트림 open 실패가 반복돼도 구독자가 누적되지 않는다.
// 복구 후 틱 1개는 정확히 1번만 병합되어야 한다.
func TestController_AttachFailureDoesNotStackConsumers(t *testing.T) {
	opts := defaultOpts()
	opts.MarketPollInterval = 10 * time.Millisecond
	f := newFixture(t, opts)
	seedSnapshot(f.data, "RELIANCE", "15m", 300, 300)
	f.data.SetStreamErr(errTest)

	f.ctrl.Start()
	f.waitState(t, StateDisplayed)

	// attach 실패를 여러 번 흘려보낸다
	time.Sleep(100 * time.Millisecond)
	require.False(t, f.ctrl.ViewModel().LiveAttached)

	f.data.SetStreamErr(nil)
	require.Eventually(t, func() bool {
		return f.ctrl.ViewModel().LiveAttached
	}, 2*time.Second, 5*time.Millisecond)

	before := f.surface.Updates()
	stream := f.data.Stream("RELIANCE")
	require.NotNil(t, stream)
	stream.Push(model.Tick{Symbol: "RELIANCE", Price: 105, Time: time.Now(), MarketOpen: true})

	require.Eventually(t, func() bool {
		return f.surface.Updates() > before
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond) // 중복 전달분이 있다면 이 사이에 들어온다
	require.Equal(t, before+1, f.surface.Updates())
}

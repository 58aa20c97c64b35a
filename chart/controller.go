package chart

import (
	"context"
	"sync"
	"time"

	"github.com/StudioSol/set"

	"meerkat/cache"
	"meerkat/feed"
	"meerkat/interfaces"
	"meerkat/model"
	"meerkat/utils/log"
)

type State string

const (
	StateIdle       State = "idle"
	StateLoading    State = "loading"
	StateDisplayed  State = "displayed"
	StateRefreshing State = "refreshing"
	StateError      State = "error"
)

const (
	// 왼쪽 끝 도달 시 lookback을 이만큼씩 늘린다. 데이터 API 상한은 1000.
	lookbackGrowStep = 250
	maxLookback      = 1000
)

type Options struct {
	Symbol             string
	Timeframe          string
	Lookback           int
	WarmTimeframes     []string
	RefreshInterval    time.Duration
	MarketPollInterval time.Duration
}

// PointerEvent : 렌더 표면에서 올라오는 포인터 이벤트 (픽셀 좌표)
type PointerEvent struct {
	Type string  `json:"type"` // "click" | "move"
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// ViewModel : 렌더 레이어가 소비하는 단일 합성 뷰. 컨트롤러 루프에서만 갱신된다.
type ViewModel struct {
	State        State                 `json:"state"`
	Symbol       string                `json:"symbol"`
	Timeframe    string                `json:"timeframe"`
	Lookback     int                   `json:"lookback"`
	Candles      []model.Candle        `json:"candles"`
	Overlays     []model.OverlaySeries `json:"overlays"`
	Panels       []model.PanelSeries   `json:"panels"`
	CurrentPrice float64               `json:"currentPrice"`
	DayChangePct float64               `json:"dayChangePct"`
	Live         *model.Candle         `json:"live,omitempty"`
	Lines        []model.PriceLine     `json:"lines"`
	Visible      model.LogicalRange    `json:"visible"`
	MarketOpen   bool                  `json:"marketOpen"`
	LiveAttached bool                  `json:"liveAttached"`
	EditingLine  string                `json:"editingLine,omitempty"`
	Error        string                `json:"error,omitempty"`
}

// Controller : 차트 인스턴스 하나의 오케스트레이터.
// Idle -> Loading -> Displayed <-> Refreshing 상태 머신에 Displayed의
// LiveAttached/LiveDetached 서브 상태를 가진다. Viewport/Annotation/activeKey의
// 모든 변경은 단일 이벤트 루프 고루틴에서만 일어나고, 백그라운드 fetch와
// 스트림 결과는 클로저로 루프에 되넘긴다.
type Controller struct {
	opts    Options
	data    interfaces.MarketData
	store   *cache.Store
	surface interfaces.RenderSurface

	Viewport    *ViewportSynchronizer
	Annotations *AnnotationStore
	Merger      *LiveTickMerger

	tickFeed *feed.TickFeedSubscription

	ctx    context.Context
	cancel context.CancelFunc
	events chan func()
	done   chan struct{}

	// 아래는 이벤트 루프 소유 상태. 루프 밖에서 만지지 않는다.
	state            State
	activeKey        model.FetchKey
	snapshot         *model.SeriesSnapshot
	cacheSub         *cache.Subscription
	panelSubs        []*RangeSubscription
	pendingExpansion bool
	liveAttached     bool
	liveSymbol       string
	streamGen        int
	marketOpen       bool
	warmedSymbols    *set.LinkedHashSetString
	loadErr          error

	vmMu sync.RWMutex
	vm   ViewModel
}

func NewController(opts Options, data interfaces.MarketData, store *cache.Store, surface interfaces.RenderSurface) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		opts:          opts,
		data:          data,
		store:         store,
		surface:       surface,
		Viewport:      NewViewportSynchronizer(),
		Annotations:   NewAnnotationStore(surface),
		tickFeed:      feed.NewTickFeed(data),
		ctx:           ctx,
		cancel:        cancel,
		events:        make(chan func(), 256),
		done:          make(chan struct{}),
		state:         StateIdle,
		warmedSymbols: set.NewLinkedHashSetString(),
	}
	c.Merger = NewLiveTickMerger(surface)
	c.Viewport.SetMainApplier(surface.SetVisibleRange)
	c.Viewport.OnExpandNeeded(func() {
		c.post(c.expandLookback)
	})
	return c
}

// Start : 이벤트 루프를 띄우고 설정된 심볼/타임프레임을 로드한다.
func (c *Controller) Start() {
	go c.run()
	symbol, timeframe := c.opts.Symbol, c.opts.Timeframe
	c.post(func() { c.switchTo(symbol, timeframe) })
}

func (c *Controller) Stop() {
	c.cancel()
	<-c.done
	c.tickFeed.StopAll()
}

func (c *Controller) run() {
	defer close(c.done)

	refresh := time.NewTicker(c.opts.RefreshInterval)
	defer refresh.Stop()
	marketPoll := time.NewTicker(c.opts.MarketPollInterval)
	defer marketPoll.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case fn := <-c.events:
			fn()
		case <-refresh.C:
			c.refreshActive()
		case <-marketPoll.C:
			c.checkMarket()
		}
	}
}

func (c *Controller) post(fn func()) {
	select {
	case c.events <- fn:
	case <-c.ctx.Done():
	}
}

// ---------------------------------------------------------------------------
// 외부 API (모두 루프로 post)
// ---------------------------------------------------------------------------

func (c *Controller) SetSymbol(symbol string) {
	c.post(func() { c.switchTo(symbol, c.activeKey.Timeframe) })
}

func (c *Controller) SetTimeframe(timeframe string) {
	c.post(func() { c.switchTo(c.activeKey.Symbol, timeframe) })
}

// OnRangeChange : 메인 패널 pan/zoom (렌더 표면 → 컨트롤러)
func (c *Controller) OnRangeChange(r model.LogicalRange) {
	c.post(func() {
		c.Viewport.SetRange(r)
		c.publishVM()
	})
}

func (c *Controller) OnPointer(ev PointerEvent) {
	c.post(func() { c.handlePointer(ev) })
}

func (c *Controller) UpdatePriceLine(id string, patch model.PriceLineUpdate) {
	c.post(func() {
		if _, ok := c.Annotations.Update(id, patch); ok {
			c.pushLines()
		}
	})
}

func (c *Controller) RemovePriceLine(id string) {
	c.post(func() {
		if c.Annotations.Remove(id) {
			c.pushLines()
		}
	})
}

func (c *Controller) ClearPriceLines() {
	c.post(func() {
		c.Annotations.Clear()
		c.pushLines()
	})
}

func (c *Controller) CloseEditor() {
	c.post(func() {
		c.Annotations.CloseEditor()
		c.publishVM()
	})
}

// ViewModel : 현재 합성 뷰의 사본
func (c *Controller) ViewModel() ViewModel {
	c.vmMu.RLock()
	defer c.vmMu.RUnlock()
	return c.vm
}

// ---------------------------------------------------------------------------
// 루프 내부 전이
// ---------------------------------------------------------------------------

func (c *Controller) switchTo(symbol, timeframe string) {
	key := model.FetchKey{Symbol: symbol, Timeframe: timeframe, Lookback: c.opts.Lookback}
	if key == c.activeKey && c.snapshot != nil {
		return
	}

	symbolChanged := c.state == StateIdle || symbol != c.activeKey.Symbol
	if symbolChanged {
		// 심볼 전환은 세션 저장분을 버린다. 타임프레임 전환은 줌을 유지.
		c.Viewport.Reset()
		c.Annotations.Clear()
		c.surface.SetPriceLines(nil)
	}
	c.detachLive()

	c.state = StateLoading
	c.loadErr = nil
	c.activeKey = key
	c.snapshot = nil
	c.pendingExpansion = false
	c.resubscribe(key)

	if snap := c.store.Request(key, c.loadErrHandler(key)); snap != nil {
		c.onSnapshot(key, snap)
	} else {
		c.publishVM()
	}
}

func (c *Controller) resubscribe(key model.FetchKey) {
	c.cacheSub.Release()
	c.cacheSub = c.store.Subscribe(key, func(snap *model.SeriesSnapshot) {
		c.post(func() { c.onSnapshot(key, snap) })
	})
}

// loadErrHandler : 첫 로드 실패(스냅샷 無)만 여기로 온다.
// lookback 확장 실패는 기존 화면을 유지한 채 삼킨다.
func (c *Controller) loadErrHandler(key model.FetchKey) func(error) {
	return func(err error) {
		c.post(func() {
			if key != c.activeKey {
				return
			}
			if c.pendingExpansion {
				log.Warnf("[chart] lookback expansion failed for %s: %v", key, err)
				c.pendingExpansion = false
				c.Viewport.ExpansionDone()
				return
			}
			c.loadErr = err
			c.state = StateError
			c.surface.ShowError(err.Error())
			c.publishVM()
		})
	}
}

func (c *Controller) onSnapshot(key model.FetchKey, snap *model.SeriesSnapshot) {
	if key != c.activeKey {
		// 키 전환 후 도착한 이전 키 결과는 무시
		return
	}
	c.display(snap)
}

func (c *Controller) display(snap *model.SeriesSnapshot) {
	prevLen := 0
	if c.snapshot != nil {
		prevLen = c.snapshot.Len()
	}
	firstLoad := c.snapshot == nil && !c.pendingExpansion

	c.snapshot = snap
	c.surface.SetSeries(snap)
	c.rewirePanels(snap)

	switch {
	case firstLoad:
		c.Viewport.Restore(c.activeKey.Timeframe, snap.Len())
	case c.pendingExpansion:
		// 앞쪽에 붙은 캔들 수만큼 가시 구간을 밀어 사용자의 화면 위치를 보존
		if r, ok := c.Viewport.Current(); ok {
			delta := snap.Len() - prevLen
			if delta > 0 {
				c.Viewport.Apply(model.LogicalRange{From: r.From + delta, To: r.To + delta})
			}
		}
		c.pendingExpansion = false
		c.Viewport.ExpansionDone()
	}
	// refresh는 silent: viewport/annotation을 건드리지 않는다

	switch {
	case c.liveAttached:
		c.Merger.Attach(snap)
	case c.marketOpen:
		// 전환(detach) 직후라도 장이 열려 있으면 바로 다시 붙인다.
		// 다음 market poll까지 기다리면 그 사이 틱이 버려진다.
		c.attachLive()
	}

	c.state = StateDisplayed
	c.loadErr = nil
	c.maybeWarm(c.activeKey.Symbol)
	c.publishVM()
}

func (c *Controller) rewirePanels(snap *model.SeriesSnapshot) {
	for _, sub := range c.panelSubs {
		sub.Release()
	}
	c.panelSubs = c.panelSubs[:0]
	for _, p := range snap.Panels {
		name := p.Name
		c.panelSubs = append(c.panelSubs, c.Viewport.Subscribe(func(r model.LogicalRange) {
			c.surface.SetPanelRange(name, r)
		}))
	}
}

// refreshActive : 주기적 stale-while-revalidate
func (c *Controller) refreshActive() {
	if c.state != StateDisplayed {
		return
	}
	c.state = StateRefreshing
	c.publishVM()
	if snap := c.store.Request(c.activeKey, c.loadErrHandler(c.activeKey)); snap == nil {
		// 있을 수 없는 경우지만 흐름상 Loading으로 내리지 않는다
		log.Warnf("[chart] refresh requested with empty cache for %s", c.activeKey)
	}
}

// expandLookback : 왼쪽 끝 근처 도달. 같은 심볼/타임프레임에 더 큰 lookback의
// 새 키를 요청한다. viewport/annotation은 리셋하지 않는다.
func (c *Controller) expandLookback() {
	if c.state != StateDisplayed && c.state != StateRefreshing {
		c.Viewport.ExpansionDone()
		return
	}
	if c.snapshot != nil && c.snapshot.Len() < c.activeKey.Lookback {
		// 서버가 요청보다 적게 돌려줬으면 더 가져올 history가 없다
		c.Viewport.ExpansionDone()
		return
	}
	newLookback := c.activeKey.Lookback + lookbackGrowStep
	if newLookback > maxLookback {
		newLookback = maxLookback
	}
	if newLookback == c.activeKey.Lookback {
		c.Viewport.ExpansionDone()
		return
	}

	newKey := c.activeKey.WithLookback(newLookback)
	c.pendingExpansion = true
	c.activeKey = newKey
	c.resubscribe(newKey)
	if snap := c.store.Request(newKey, c.loadErrHandler(newKey)); snap != nil {
		c.onSnapshot(newKey, snap)
	}
}

// ---------------------------------------------------------------------------
// 라이브 피드
// ---------------------------------------------------------------------------

func (c *Controller) checkMarket() {
	go func() {
		open, err := c.data.MarketOpen()
		c.post(func() { c.onMarketStatus(open, err) })
	}()
}

func (c *Controller) onMarketStatus(open bool, err error) {
	if err != nil {
		log.Warnf("[chart] market status check failed: %v", err)
		return
	}
	c.marketOpen = open
	switch {
	case open && !c.liveAttached && c.snapshot != nil:
		c.attachLive()
	case !open && c.liveAttached:
		// 장 마감: 스트림만 끊고 마지막 렌더 캔들은 그대로 둔다
		c.detachLive()
		c.publishVM()
	}
}

func (c *Controller) attachLive() {
	symbol := c.activeKey.Symbol
	gen := c.streamGen
	c.tickFeed.Subscribe(symbol, func(tick model.Tick) {
		c.post(func() { c.onTick(gen, tick) })
	})
	if err := c.tickFeed.Start(symbol); err != nil {
		log.Errorf("[chart] failed to start tick feed for %s: %v", symbol, err)
		// 등록해 둔 구독자를 치워야 다음 시도에서 중복 전달이 안 생긴다
		c.tickFeed.Stop(symbol)
		return
	}
	c.Merger.Attach(c.snapshot)
	c.liveAttached = true
	c.liveSymbol = symbol
	c.publishVM()
}

func (c *Controller) detachLive() {
	c.streamGen++
	c.Merger.Detach()
	if c.liveAttached {
		c.tickFeed.Stop(c.liveSymbol)
		c.liveAttached = false
		c.liveSymbol = ""
	}
}

func (c *Controller) onTick(gen int, tick model.Tick) {
	if gen != c.streamGen {
		// 방금 닫힌 커넥션의 늦은 틱
		return
	}
	if tick.Symbol != "" && tick.Symbol != c.activeKey.Symbol {
		return
	}
	if !tick.MarketOpen {
		c.detachLive()
		c.publishVM()
		return
	}
	c.Merger.Merge(tick)
	c.publishVM()
}

func (c *Controller) maybeWarm(symbol string) {
	if c.warmedSymbols.InArray(symbol) {
		return
	}
	c.warmedSymbols.Add(symbol)
	for _, tf := range c.opts.WarmTimeframes {
		if tf == c.activeKey.Timeframe {
			continue
		}
		c.store.Warm(model.FetchKey{Symbol: symbol, Timeframe: tf, Lookback: c.opts.Lookback})
	}
}

// ---------------------------------------------------------------------------
// 포인터 라우팅
// ---------------------------------------------------------------------------

func (c *Controller) handlePointer(ev PointerEvent) {
	switch ev.Type {
	case "move":
		if line, ok := c.Annotations.Hover(ev.Y); ok {
			c.surface.SetHoveredLine(line.ID)
		} else {
			c.surface.SetHoveredLine("")
		}
	case "click":
		// price-scale 스트립은 "이 가격에 선 만들기" 존이고 기존 선 히트보다 우선
		if c.surface.InPriceScale(ev.X) {
			if price, ok := c.surface.YToPrice(ev.Y); ok {
				c.Annotations.Add(price)
				c.pushLines()
			}
			return
		}
		if line, ok := c.Annotations.HitTest(ev.Y); ok {
			c.Annotations.OpenEditor(line.ID)
		} else {
			// 차트 영역의 빈 곳 클릭은 열린 에디터를 닫는다
			c.Annotations.CloseEditor()
		}
		c.publishVM()
	}
}

func (c *Controller) pushLines() {
	c.surface.SetPriceLines(c.Annotations.Lines())
	c.publishVM()
}

// ---------------------------------------------------------------------------
// 뷰모델
// ---------------------------------------------------------------------------

func (c *Controller) publishVM() {
	vm := ViewModel{
		State:        c.state,
		Symbol:       c.activeKey.Symbol,
		Timeframe:    c.activeKey.Timeframe,
		Lookback:     c.activeKey.Lookback,
		Lines:        c.Annotations.Lines(),
		MarketOpen:   c.marketOpen,
		LiveAttached: c.liveAttached,
	}
	if c.snapshot != nil {
		vm.Candles = c.snapshot.Candles
		vm.Overlays = c.snapshot.Overlays
		vm.Panels = c.snapshot.Panels
		vm.CurrentPrice = c.snapshot.CurrentPrice
		vm.DayChangePct = c.snapshot.DayChangePct
	}
	if live, ok := c.Merger.Live(); ok {
		vm.Live = &live
		vm.CurrentPrice = live.Close
	}
	if r, ok := c.Viewport.Current(); ok {
		vm.Visible = r
	}
	if id, ok := c.Annotations.Editing(); ok {
		vm.EditingLine = id
	}
	if c.loadErr != nil {
		vm.Error = c.loadErr.Error()
	}

	c.vmMu.Lock()
	c.vm = vm
	c.vmMu.Unlock()
}

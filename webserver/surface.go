package webserver

import (
	"encoding/json"
	"sync"

	"github.com/samber/lo"

	"meerkat/model"
)

// priceScaleWidth : 우측 price-scale 스트립 폭(px). 이 안에서의 클릭은 라인 생성.
const priceScaleWidth = 60.0

// priceMarginRatio : 가시 캔들 min/max 위아래 여백 비율
const priceMarginRatio = 0.05

// CandleData : 브라우저 렌더러가 받는 캔들 포맷
type CandleData struct {
	X int64   `json:"x"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`

	Volume   float64 `json:"volume,omitempty"`
	Complete bool    `json:"complete,omitempty"`
}

// surfaceState : RenderSurface 구현이 들고 있는 표시 상태.
// price<->pixel 변환은 가시 구간 캔들의 min/max를 pane 높이에 선형 매핑한다.
type surfaceState struct {
	mu sync.RWMutex

	paneWidth  float64
	paneHeight float64

	candles  []model.Candle
	overlays []model.OverlaySeries
	panels   []model.PanelSeries
	visible  model.LogicalRange
	lines    []model.PriceLine
	hovered  string
	errMsg   string
}

// ----------------------------------------------------------------------------
// interfaces.RenderSurface
// ----------------------------------------------------------------------------

func (ws *Server) SetSeries(snapshot *model.SeriesSnapshot) {
	ws.state.mu.Lock()
	ws.state.candles = make([]model.Candle, len(snapshot.Candles))
	copy(ws.state.candles, snapshot.Candles)
	ws.state.overlays = snapshot.Overlays
	ws.state.panels = snapshot.Panels
	ws.state.errMsg = ""
	ws.state.mu.Unlock()

	ws.broadcastSSE("series", ws.seriesPayload(snapshot))
}

// UpdateLast : 단일 포인트 갱신. 시리즈 전체를 다시 보내지 않는다.
func (ws *Server) UpdateLast(candle model.Candle) {
	ws.state.mu.Lock()
	if n := len(ws.state.candles); n > 0 {
		ws.state.candles[n-1] = candle
	}
	ws.state.mu.Unlock()

	ws.broadcastSSE("update", toCandleData(candle))
}

func (ws *Server) SetPriceLines(lines []model.PriceLine) {
	ws.state.mu.Lock()
	ws.state.lines = lines
	ws.state.mu.Unlock()

	if lines == nil {
		lines = []model.PriceLine{}
	}
	ws.broadcastSSE("pricelines", lines)
}

func (ws *Server) SetHoveredLine(id string) {
	ws.state.mu.Lock()
	changed := ws.state.hovered != id
	ws.state.hovered = id
	ws.state.mu.Unlock()

	if changed {
		ws.broadcastSSE("hover", map[string]string{"id": id})
	}
}

func (ws *Server) ShowError(msg string) {
	ws.state.mu.Lock()
	ws.state.errMsg = msg
	ws.state.mu.Unlock()

	ws.broadcastSSE("error", map[string]string{"message": msg})
}

func (ws *Server) SetVisibleRange(r model.LogicalRange) {
	ws.state.mu.Lock()
	ws.state.visible = r
	ws.state.mu.Unlock()

	ws.broadcastSSE("viewport", r)
}

func (ws *Server) VisibleRange() model.LogicalRange {
	ws.state.mu.RLock()
	defer ws.state.mu.RUnlock()
	return ws.state.visible
}

func (ws *Server) SetPanelRange(panel string, r model.LogicalRange) {
	ws.broadcastSSE("panel-viewport", map[string]any{
		"panel": panel,
		"from":  r.From,
		"to":    r.To,
	})
}

func (ws *Server) PriceToY(price float64) (float64, bool) {
	low, high, ok := ws.priceBounds()
	if !ok {
		return 0, false
	}
	return (high - price) / (high - low) * ws.state.paneHeight, true
}

func (ws *Server) YToPrice(y float64) (float64, bool) {
	low, high, ok := ws.priceBounds()
	if !ok {
		return 0, false
	}
	return high - y/ws.state.paneHeight*(high-low), true
}

func (ws *Server) InPriceScale(x float64) bool {
	ws.state.mu.RLock()
	defer ws.state.mu.RUnlock()
	return x >= ws.state.paneWidth-priceScaleWidth
}

// priceBounds : 가시 구간 캔들의 low/high에 여백을 더한 [min, max]
func (ws *Server) priceBounds() (float64, float64, bool) {
	ws.state.mu.RLock()
	defer ws.state.mu.RUnlock()

	n := len(ws.state.candles)
	if n == 0 || ws.state.paneHeight <= 0 {
		return 0, 0, false
	}

	from, to := ws.state.visible.From, ws.state.visible.To
	if to <= 0 || to >= n {
		to = n - 1
	}
	if from < 0 {
		from = 0
	}
	if from > to {
		from = to
	}

	min, max := ws.state.candles[from].Low, ws.state.candles[from].High
	for _, c := range ws.state.candles[from : to+1] {
		if c.Low < min {
			min = c.Low
		}
		if c.High > max {
			max = c.High
		}
	}
	if max <= min {
		min, max = min-1, max+1
	}
	margin := (max - min) * priceMarginRatio
	return min - margin, max + margin, true
}

// ----------------------------------------------------------------------------
// SSE payload 헬퍼
// ----------------------------------------------------------------------------

type seriesEvent struct {
	Candles  []CandleData          `json:"candles"`
	Overlays []model.OverlaySeries `json:"overlays"`
	Panels   []model.PanelSeries   `json:"panels"`
}

func (ws *Server) seriesPayload(snapshot *model.SeriesSnapshot) seriesEvent {
	return seriesEvent{
		Candles:  lo.Map(snapshot.Candles, func(c model.Candle, _ int) CandleData { return toCandleData(c) }),
		Overlays: snapshot.Overlays,
		Panels:   snapshot.Panels,
	}
}

func toCandleData(c model.Candle) CandleData {
	return CandleData{
		X:        c.Time.UnixMilli(),
		O:        c.Open,
		H:        c.High,
		L:        c.Low,
		C:        c.Close,
		Volume:   c.Volume,
		Complete: c.Complete,
	}
}

func sseFrame(typ string, data any) []byte {
	payload, _ := json.Marshal(struct {
		Type string `json:"type"`
		Data any    `json:"data"`
	}{Type: typ, Data: data})
	return payload
}

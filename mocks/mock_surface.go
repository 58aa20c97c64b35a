package mocks

import (
	"sync"

	"meerkat/model"
)

// MockSurface 는 interfaces.RenderSurface 의 테스트 구현.
// 마지막으로 받은 시리즈/라인/구간을 전부 기록해서 테스트가 관찰할 수 있게 한다.
// 좌표 변환은 PxPerPrice 배율의 선형 매핑 (y = (Top - price) * PxPerPrice).
type MockSurface struct {
	mu sync.Mutex

	// 선형 좌표 매핑 파라미터
	Top        float64
	PxPerPrice float64
	PaneWidth  float64
	ScaleWidth float64

	LastSnapshot *model.SeriesSnapshot
	LastCandle   model.Candle
	UpdateCount  int
	Lines        []model.PriceLine
	HoveredID    string
	ErrMsg       string
	Visible      model.LogicalRange
	PanelRanges  map[string]model.LogicalRange

	SetSeriesCount int
}

func NewMockSurface() *MockSurface {
	return &MockSurface{
		Top:         1000,
		PxPerPrice:  1,
		PaneWidth:   1280,
		ScaleWidth:  60,
		PanelRanges: map[string]model.LogicalRange{},
	}
}

func (s *MockSurface) SetSeries(snapshot *model.SeriesSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastSnapshot = snapshot
	s.SetSeriesCount++
}

func (s *MockSurface) UpdateLast(candle model.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastCandle = candle
	s.UpdateCount++
}

func (s *MockSurface) SetPriceLines(lines []model.PriceLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Lines = lines
}

func (s *MockSurface) SetHoveredLine(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.HoveredID = id
}

func (s *MockSurface) ShowError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ErrMsg = msg
}

func (s *MockSurface) SetVisibleRange(r model.LogicalRange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Visible = r
}

func (s *MockSurface) VisibleRange() model.LogicalRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Visible
}

func (s *MockSurface) SetPanelRange(panel string, r model.LogicalRange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PanelRanges[panel] = r
}

func (s *MockSurface) PriceToY(price float64) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (s.Top - price) * s.PxPerPrice, true
}

func (s *MockSurface) YToPrice(y float64) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Top - y/s.PxPerPrice, true
}

func (s *MockSurface) InPriceScale(x float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return x >= s.PaneWidth-s.ScaleWidth
}

// ----- 테스트 관찰용 getter (컨트롤러 고루틴과 경쟁하므로 락 필수) -----

func (s *MockSurface) Hovered() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.HoveredID
}

func (s *MockSurface) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrMsg
}

func (s *MockSurface) HasSnapshot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LastSnapshot != nil
}

// Updates: 지금까지의 UpdateLast 호출 횟수
func (s *MockSurface) Updates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.UpdateCount
}

// LastSeriesKey: 마지막 SetSeries의 키 (없으면 zero value)
func (s *MockSurface) LastSeriesKey() model.FetchKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LastSnapshot == nil {
		return model.FetchKey{}
	}
	return s.LastSnapshot.Key
}

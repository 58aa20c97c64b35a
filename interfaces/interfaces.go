package interfaces

import (
	"meerkat/model"
)

// MarketData : 히스토리/상태 조회 + 실시간 틱 구독.
// 구현체는 marketdata.Client, 테스트는 mocks.MockMarketData.
type MarketData interface {
	Snapshot(key model.FetchKey) (*model.SeriesSnapshot, error)
	MarketOpen() (bool, error)
	TickSubscription(symbol string) (TickStream, error)
}

// TickStream : 심볼 하나의 라이브 커넥션 핸들. Stop은 멱등이어야 하고
// Stop 이후 채널은 닫힌다. 재연결은 구현체 내부에서 알아서 한다.
type TickStream interface {
	Ticks() <-chan model.Tick
	Errs() <-chan error
	Stop()
}

// RenderSurface : 렌더링 라이브러리 쪽 경계. 시리즈를 통째로 올리는 SetSeries와
// 틱 병합용 단일 포인트 갱신 UpdateLast를 구분한다 (후자는 O(1)이어야 함).
type RenderSurface interface {
	SetSeries(snapshot *model.SeriesSnapshot)
	UpdateLast(candle model.Candle)
	SetPriceLines(lines []model.PriceLine)
	SetHoveredLine(id string)
	ShowError(msg string)

	// 메인 패널 가시 구간
	SetVisibleRange(r model.LogicalRange)
	VisibleRange() model.LogicalRange
	// 서브 패널 가시 구간 (메인에서 one-way 전파)
	SetPanelRange(panel string, r model.LogicalRange)

	// price <-> pixel 좌표 변환. 데이터가 없으면 ok=false.
	PriceToY(price float64) (float64, bool)
	YToPrice(y float64) (float64, bool)
	// 우측 price-scale 스트립 위인지 (라인 생성 존)
	InPriceScale(x float64) bool
}

package mocks

import (
	"sync"
	"time"

	"meerkat/interfaces"
	"meerkat/model"
)

// MockMarketData 는 interfaces.MarketData 를 가짜로 흉내내는 구조체입니다.
// - Snapshots 맵에 키별 스냅샷을 미리 넣어두면 Snapshot이 그대로 돌려줌
// - SnapshotDelay 로 fetch 지연을 흉내내서 in-flight 경합을 테스트 가능
// - 호출 횟수/마지막 키 등을 기록해서 테스트에서 관찰
type MockMarketData struct {
	mu sync.Mutex

	Snapshots     map[model.FetchKey]*model.SeriesSnapshot
	SnapshotErr   error
	SnapshotDelay time.Duration
	Open          bool
	OpenErr       error
	StreamErr     error

	// 테스트 관찰용
	SnapshotCount   int
	SnapshotKeys    []model.FetchKey
	MarketOpenCount int

	streams map[string]*MockTickStream
}

func NewMockMarketData() *MockMarketData {
	return &MockMarketData{
		Snapshots: map[model.FetchKey]*model.SeriesSnapshot{},
		Open:      true,
		streams:   map[string]*MockTickStream{},
	}
}

// SetSnapshot: 키에 해당하는 스냅샷 등록 (테스트 셋업용)
func (m *MockMarketData) SetSnapshot(key model.FetchKey, snapshot *model.SeriesSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Snapshots[key] = snapshot
}

func (m *MockMarketData) Snapshot(key model.FetchKey) (*model.SeriesSnapshot, error) {
	m.mu.Lock()
	m.SnapshotCount++
	m.SnapshotKeys = append(m.SnapshotKeys, key)
	delay := m.SnapshotDelay
	err := m.SnapshotErr
	snapshot := m.Snapshots[key]
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return &model.SeriesSnapshot{Key: key, FetchedAt: time.Now()}, nil
	}
	// 호출자가 변형해도 원본이 안 깨지게 복사본을 반환
	copied := *snapshot
	copied.Key = key
	return &copied, nil
}

func (m *MockMarketData) MarketOpen() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MarketOpenCount++
	return m.Open, m.OpenErr
}

func (m *MockMarketData) TickSubscription(symbol string) (interfaces.TickStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.StreamErr != nil {
		return nil, m.StreamErr
	}
	stream := NewMockTickStream()
	m.streams[symbol] = stream
	return stream, nil
}

// SetStreamErr: 이후 TickSubscription 호출을 실패시키거나(nil로) 복구
func (m *MockMarketData) SetStreamErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StreamErr = err
}

// SetSnapshotErr: 이후 Snapshot 호출을 실패시키거나(nil로) 복구
func (m *MockMarketData) SetSnapshotErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SnapshotErr = err
}

// SetOpen: 장 상태 전환 (테스트 중 안전하게 변경)
func (m *MockMarketData) SetOpen(open bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Open = open
}

// Calls: 지금까지의 Snapshot 호출 횟수
func (m *MockMarketData) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SnapshotCount
}

// Keys: 지금까지 요청된 키들의 사본
func (m *MockMarketData) Keys() []model.FetchKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.FetchKey, len(m.SnapshotKeys))
	copy(out, m.SnapshotKeys)
	return out
}

// Stream: 해당 심볼로 열린 스트림 핸들 (없으면 nil)
func (m *MockMarketData) Stream(symbol string) *MockTickStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[symbol]
}

// MockTickStream 은 interfaces.TickStream 의 테스트 구현.
// Push 로 틱을 밀어넣고, Stop 은 멱등하게 채널을 닫는다.
type MockTickStream struct {
	ticks    chan model.Tick
	errs     chan error
	stopOnce sync.Once
	stopped  bool
	mu       sync.Mutex
}

func NewMockTickStream() *MockTickStream {
	return &MockTickStream{
		ticks: make(chan model.Tick, 64),
		errs:  make(chan error, 8),
	}
}

func (s *MockTickStream) Ticks() <-chan model.Tick { return s.ticks }
func (s *MockTickStream) Errs() <-chan error       { return s.errs }

func (s *MockTickStream) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.ticks)
		close(s.errs)
	})
}

func (s *MockTickStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Push: 스트림이 살아있으면 틱 전달, 닫혔으면 무시
func (s *MockTickStream) Push(tick model.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.ticks <- tick
}

package chart

import (
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"meerkat/model"
	"meerkat/utils/pointer"
)

const (
	// 픽셀 허용 오차: hover는 빡빡하게, 클릭 선택은 조금 느슨하게
	hoverTolerancePx  = 6.0
	selectTolerancePx = 8.0
)

// CoordinateMapper : 렌더 표면의 price <-> pixel 변환. 매핑이 아직 없으면 ok=false.
type CoordinateMapper interface {
	PriceToY(price float64) (float64, bool)
	YToPrice(y float64) (float64, bool)
}

// AnnotationStore : 가격선 CRUD + 좌표 히트테스트. 삽입 순서를 유지하고
// (동률이면 먼저 넣은 선이 이김) 기본 색은 팔레트 round-robin.
type AnnotationStore struct {
	mu        sync.Mutex
	mapper    CoordinateMapper
	lines     []model.PriceLine
	editingID string
}

func NewAnnotationStore(mapper CoordinateMapper) *AnnotationStore {
	return &AnnotationStore{mapper: mapper}
}

// Add : 기본 width 2, solid, colors[count % len(colors)]
func (s *AnnotationStore) Add(price float64) model.PriceLine {
	s.mu.Lock()
	defer s.mu.Unlock()

	line := model.PriceLine{
		ID:    uuid.NewString(),
		Price: price,
		Color: model.LineColors[len(s.lines)%len(model.LineColors)],
		Width: 2,
		Style: model.LineStyleSolid,
	}
	s.lines = append(s.lines, line)
	return line
}

// Update : 에디터의 부분 수정. nil 필드는 기존 값 유지.
func (s *AnnotationStore) Update(id string, patch model.PriceLineUpdate) (model.PriceLine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.lines {
		if s.lines[i].ID != id {
			continue
		}
		line := s.lines[i]
		line.Price = pointer.NotNull(patch.Price, line.Price)
		line.Color = pointer.NotNull(patch.Color, line.Color)
		line.Width = pointer.NotNull(patch.Width, line.Width)
		line.Style = pointer.NotNull(patch.Style, line.Style)
		s.lines[i] = line
		return line, true
	}
	return model.PriceLine{}, false
}

func (s *AnnotationStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.lines)
	s.lines = lo.Filter(s.lines, func(line model.PriceLine, _ int) bool {
		return line.ID != id
	})
	if s.editingID == id {
		s.editingID = ""
	}
	return len(s.lines) != before
}

func (s *AnnotationStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = nil
	s.editingID = ""
}

// Lines : 삽입 순서 그대로 복사 반환
func (s *AnnotationStore) Lines() []model.PriceLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.PriceLine, len(s.lines))
	copy(out, s.lines)
	return out
}

// HitTest : 클릭 선택용 (8px)
func (s *AnnotationStore) HitTest(y float64) (model.PriceLine, bool) {
	return s.hit(y, selectTolerancePx)
}

// Hover : 하이라이트용 (6px)
func (s *AnnotationStore) Hover(y float64) (model.PriceLine, bool) {
	return s.hit(y, hoverTolerancePx)
}

func (s *AnnotationStore) hit(y float64, tolerance float64) (model.PriceLine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mapper.YToPrice(y); !ok {
		return model.PriceLine{}, false
	}
	for _, line := range s.lines {
		lineY, ok := s.mapper.PriceToY(line.Price)
		if !ok {
			continue
		}
		d := y - lineY
		if d < 0 {
			d = -d
		}
		if d <= tolerance {
			return line, true
		}
	}
	return model.PriceLine{}, false
}

// OpenEditor : 다른 선의 에디터가 열려 있으면 암묵적으로 닫는다 (exclusive)
func (s *AnnotationStore) OpenEditor(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editingID = id
}

func (s *AnnotationStore) CloseEditor() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editingID = ""
}

func (s *AnnotationStore) Editing() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editingID, s.editingID != ""
}

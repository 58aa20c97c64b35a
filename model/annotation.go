package model

type LineStyle string

const (
	LineStyleSolid  LineStyle = "solid"
	LineStyleDashed LineStyle = "dashed"
	LineStyleDotted LineStyle = "dotted"
)

// PriceLine : 사용자가 찍은 수평 가격선. 세션 한정이며 심볼 변경 시 버려진다.
type PriceLine struct {
	ID    string    `json:"id"`
	Price float64   `json:"price"`
	Color string    `json:"color"`
	Width int       `json:"width"`
	Style LineStyle `json:"style"`
}

// LineColors : 생성 순서대로 round-robin 배정되는 기본 팔레트
var LineColors = []string{
	"#2962FF",
	"#E91E63",
	"#FF9800",
	"#26A69A",
	"#AB47BC",
	"#FF5252",
}

// PriceLineUpdate : 인라인 에디터의 부분 수정. nil 필드는 유지.
type PriceLineUpdate struct {
	Price *float64   `json:"price"`
	Color *string    `json:"color"`
	Width *int       `json:"width"`
	Style *LineStyle `json:"style"`
}

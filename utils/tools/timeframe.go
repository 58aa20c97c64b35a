package tools

import (
	"fmt"
	"time"
)

// Timeframes supported by the data API, smallest first.
var Timeframes = []string{"1m", "5m", "15m", "30m", "1h", "4h", "1d", "1w"}

func ValidTimeframe(tf string) bool {
	for _, t := range Timeframes {
		if t == tf {
			return true
		}
	}
	return false
}

func ParseTimeframeToDuration(tf string) (time.Duration, error) {
	switch tf {
	case "1m":
		return time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "30m":
		return 30 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	case "1w":
		return 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported timeframe: %s", tf)
	}
}

// DefaultVisibleBars : 타임프레임별 기본 가시 캔들 수.
// 고해상도 intraday는 많이, daily/weekly는 적게.
func DefaultVisibleBars(tf string) int {
	switch tf {
	case "1m", "5m":
		return 180
	case "15m", "30m":
		return 150
	case "1h", "4h":
		return 120
	case "1d":
		return 90
	default: // 1w
		return 60
	}
}

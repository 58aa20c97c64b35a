package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/samber/lo"

	"meerkat/interfaces"
	"meerkat/model"
	"meerkat/utils/auth"
	"meerkat/utils/httpx"
	"meerkat/utils/log"
)

const (
	ohlcvPathFmt = "/api/v1/market/ohlcv/%s"
	statusPath   = "/api/v1/market/status"
)

// Client : 데이터 API 클라이언트 (REST 히스토리 + 장 상태 + WS 틱 스트림)
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc

	baseURL   string
	streamURL string
	accessKey string
	secretKey string
	http      httpx.Client
}

func NewClient(baseURL, streamURL, accessKey, secretKey string, timeout time.Duration, retryCount int) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ctx:       ctx,
		cancel:    cancel,
		baseURL:   baseURL,
		streamURL: streamURL,
		accessKey: accessKey,
		secretKey: secretKey,
		http:      httpx.NewClient(timeout, retryCount),
	}
}

// NewClientWithHTTP : 테스트용 (mock httpx 주입)
func NewClientWithHTTP(baseURL string, httpClient httpx.Client) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ctx:     ctx,
		cancel:  cancel,
		baseURL: baseURL,
		http:    httpClient,
	}
}

func (c *Client) Stop() {
	c.cancel()
}

// ----------------------------------------------------------------------------
// wire DTO
// ----------------------------------------------------------------------------

type candleDTO struct {
	Timestamp string  `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

type seriesPointDTO struct {
	Timestamp string  `json:"timestamp"`
	Value     float64 `json:"value"`
}

type overlayDTO struct {
	Name   string           `json:"name"`
	Values []seriesPointDTO `json:"values"`
}

type panelDTO struct {
	Name   string           `json:"name"`
	Kind   string           `json:"kind"`
	Values []seriesPointDTO `json:"values"`
}

type ohlcvResponse struct {
	Symbol           string       `json:"symbol"`
	Timeframe        string       `json:"timeframe"`
	Candles          []candleDTO  `json:"candles"`
	CurrentPrice     float64      `json:"current_price"`
	DayChangePercent float64      `json:"day_change_percent"`
	Overlays         []overlayDTO `json:"overlays"`
	Panels           []panelDTO   `json:"panels"`
}

type statusResponse struct {
	IsOpen  bool   `json:"is_open"`
	Session string `json:"session"`
}

// ----------------------------------------------------------------------------
// interfaces.MarketData
// ----------------------------------------------------------------------------

// Snapshot : (symbol, timeframe, lookback) 히스토리 한 벌 조회
func (c *Client) Snapshot(key model.FetchKey) (*model.SeriesSnapshot, error) {
	params := map[string]string{
		"timeframe": key.Timeframe,
		"lookback":  strconv.Itoa(key.Lookback),
	}
	body, err := c.requestGET(fmt.Sprintf(ohlcvPathFmt, key.Symbol), params)
	if err != nil {
		return nil, err
	}

	var resp ohlcvResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("ohlcv parse: %w", err)
	}

	snapshot := &model.SeriesSnapshot{
		Key:          key,
		CurrentPrice: resp.CurrentPrice,
		DayChangePct: resp.DayChangePercent,
		FetchedAt:    time.Now(),
	}
	for _, dto := range resp.Candles {
		t, err := parseTimestamp(dto.Timestamp)
		if err != nil {
			log.Warnf("[marketdata] skip candle with bad timestamp %q: %v", dto.Timestamp, err)
			continue
		}
		snapshot.Candles = append(snapshot.Candles, model.Candle{
			Symbol:   key.Symbol,
			Time:     t,
			Open:     dto.Open,
			High:     dto.High,
			Low:      dto.Low,
			Close:    dto.Close,
			Volume:   dto.Volume,
			Complete: true,
		})
	}
	snapshot.Overlays = lo.Map(resp.Overlays, func(dto overlayDTO, _ int) model.OverlaySeries {
		times, values := convertPoints(dto.Values)
		return model.OverlaySeries{Name: dto.Name, Times: times, Values: values}
	})
	snapshot.Panels = lo.Map(resp.Panels, func(dto panelDTO, _ int) model.PanelSeries {
		times, values := convertPoints(dto.Values)
		kind := model.PanelKind(dto.Kind)
		if kind != model.PanelKindHistogram {
			kind = model.PanelKindLine
		}
		return model.PanelSeries{Name: dto.Name, Kind: kind, Times: times, Values: values}
	})

	snapshot.Normalize()
	return snapshot, nil
}

// MarketOpen : 장 운영 여부. session 문자열은 내려오지만 여기선 boolean만 쓴다.
func (c *Client) MarketOpen() (bool, error) {
	body, err := c.requestGET(statusPath, nil)
	if err != nil {
		return false, err
	}
	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, fmt.Errorf("market status parse: %w", err)
	}
	return resp.IsOpen, nil
}

// TickSubscription : 심볼 하나의 라이브 스트림 핸들
func (c *Client) TickSubscription(symbol string) (interfaces.TickStream, error) {
	if c.streamURL == "" {
		return nil, fmt.Errorf("stream url not configured")
	}
	return newTickStream(c.ctx, c.streamURL, symbol), nil
}

// ----------------------------------------------------------------------------
// 내부 헬퍼
// ----------------------------------------------------------------------------

func (c *Client) requestGET(path string, params map[string]string) ([]byte, error) {
	full := c.baseURL + path

	header := map[string]string{}
	if c.accessKey != "" {
		token, err := auth.GenerateToken(c.accessKey, c.secretKey, params)
		if err != nil {
			return nil, err
		}
		header["Authorization"] = "Bearer " + token
	}

	var qParams []httpx.QueryParam
	for k, v := range params {
		qParams = append(qParams, httpx.QueryParam{Key: k, Value: v})
	}

	resp, err := c.http.Get(c.ctx, full, header, qParams...)
	if err != nil {
		return nil, fmt.Errorf("data api call: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("data api status %d: %s", resp.StatusCode(), resp.String())
	}
	return resp.Body(), nil
}

func convertPoints(points []seriesPointDTO) ([]time.Time, model.Series[float64]) {
	times := make([]time.Time, 0, len(points))
	values := make(model.Series[float64], 0, len(points))
	for _, p := range points {
		t, err := parseTimestamp(p.Timestamp)
		if err != nil {
			continue
		}
		times = append(times, t)
		values = append(values, p.Value)
	}
	return times, values
}

func parseTimestamp(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	// 백엔드가 epoch seconds로 주는 경우도 있다
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
	}
	return time.Unix(sec, 0), nil
}

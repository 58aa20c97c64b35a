// chartview : 서버 렌더 스냅샷 페이지 (디버그용).
// 브라우저 렌더러 없이도 현재 뷰모델을 바로 확인할 수 있다.
package chartview

import (
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"meerkat/chart"
	"meerkat/model"
)

// BuildPage : 메인 캔들 차트 + 패널 차트들을 한 페이지로 구성
func BuildPage(vm chart.ViewModel) *components.Page {
	page := components.NewPage()
	page.PageTitle = "Meerkat Chart — " + vm.Symbol

	page.AddCharts(buildCandleChart(vm))
	for _, panel := range vm.Panels {
		page.AddCharts(buildPanelChart(panel))
	}
	return page
}

func buildCandleChart(vm chart.ViewModel) *charts.Kline {
	kline := charts.NewKLine()

	n := len(vm.Candles)
	if n == 0 {
		return kline
	}

	xVals := make([]string, n)
	kValues := make([]opts.KlineData, n)

	// go-echarts Kline은 [open, close, low, high] 순서
	for i, c := range vm.Candles {
		xVals[i] = c.Time.Format("01/02 15:04")
		kValues[i] = opts.KlineData{
			Value: [4]float64{c.Open, c.Close, c.Low, c.High},
		}
	}
	if vm.Live != nil {
		kValues[n-1] = opts.KlineData{
			Value: [4]float64{vm.Live.Open, vm.Live.Close, vm.Live.Low, vm.Live.High},
		}
	}

	kline.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title: vm.Symbol + " " + vm.Timeframe,
			Show:  opts.Bool(true),
		}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show: opts.Bool(true),
		}),
		charts.WithLegendOpts(opts.Legend{
			Show: opts.Bool(true),
		}),
	)

	seriesOpts := []charts.SeriesOpts{
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        "#ec0000",
			Color0:       "#00da3c",
			BorderColor:  "#8A0000",
			BorderColor0: "#008F28",
		}),
	}
	// 사용자 가격선은 markLine으로 얹는다
	for _, line := range vm.Lines {
		seriesOpts = append(seriesOpts, charts.WithMarkLineNameYAxisItemOpts(
			opts.MarkLineNameYAxisItem{Name: line.ID, YAxis: line.Price},
		))
	}

	kline.SetXAxis(xVals).
		AddSeries("Candles", kValues).
		SetSeriesOptions(seriesOpts...)

	for _, overlay := range vm.Overlays {
		overlayLine := charts.NewLine()
		points := make([]opts.LineData, overlay.Values.Length())
		for i, v := range overlay.Values {
			points[i] = opts.LineData{Value: v}
		}
		overlayLine.SetXAxis(xVals).AddSeries(overlay.Name, points)
		kline.Overlap(overlayLine)
	}

	return kline
}

func buildPanelChart(panel model.PanelSeries) components.Charter {
	xVals := make([]string, len(panel.Times))
	for i, t := range panel.Times {
		xVals[i] = t.Format("01/02 15:04")
	}

	if panel.Kind == model.PanelKindHistogram {
		bar := charts.NewBar()
		bar.SetGlobalOptions(
			charts.WithTitleOpts(opts.Title{Title: panel.Name, Show: opts.Bool(true)}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		)
		values := make([]opts.BarData, panel.Values.Length())
		for i, v := range panel.Values {
			values[i] = opts.BarData{Value: v}
		}
		bar.SetXAxis(xVals).AddSeries(panel.Name, values)
		return bar
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: panel.Name, Show: opts.Bool(true)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	values := make([]opts.LineData, panel.Values.Length())
	for i, v := range panel.Values {
		values[i] = opts.LineData{Value: v}
	}
	line.SetXAxis(xVals).
		AddSeries(panel.Name, values).
		SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))
	return line
}

// Package chart renders telemetry tables as PNG charts.
package chart

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/couchcryptid/soil-telemetry-service/internal/domain"
	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

const (
	width      = 1024
	height     = 400
	barWidth   = 16
	barSpacing = 4
)

type component struct {
	name  string
	color drawing.Color
	value func(domain.Reading) float64
}

var components = []component{
	{"Gravel", gochart.ColorAlternateGray, func(r domain.Reading) float64 { return r.GravelPercentage }},
	{"Sand", gochart.ColorOrange, func(r domain.Reading) float64 { return r.SandPercentage }},
	{"Silt", gochart.ColorBlue, func(r domain.Reading) float64 { return r.SiltPercentage }},
}

// RenderTimeSeries draws one line per soil component over time. It returns
// domain.ErrNoData without writing when the table is empty.
func RenderTimeSeries(w io.Writer, table domain.Table) error {
	if table.Empty() {
		return domain.ErrNoData
	}

	times := make([]time.Time, len(table))
	for i, r := range table {
		times[i] = r.Timestamp
	}
	// go-chart needs a non-zero x range.
	first, last := table.Span()
	padded := first.Equal(last)
	if padded {
		times = append(times, last.Add(time.Second))
	}

	lo, hi := 0.0, 100.0
	series := make([]gochart.Series, 0, len(components))
	for _, c := range components {
		ys := make([]float64, len(times))
		for i, r := range table {
			ys[i] = c.value(r)
			lo, hi = math.Min(lo, ys[i]), math.Max(hi, ys[i])
		}
		if padded {
			ys[len(ys)-1] = ys[len(ys)-2]
		}
		series = append(series, gochart.TimeSeries{
			Name:    c.name,
			XValues: times,
			YValues: ys,
			Style: gochart.Style{
				StrokeColor: c.color,
				StrokeWidth: 2,
				DotColor:    c.color,
				DotWidth:    3,
			},
		})
	}

	ch := gochart.Chart{
		Title:      "Soil composition over time",
		Width:      width,
		Height:     height,
		Background: gochart.Style{Padding: gochart.Box{Top: 40, Left: 16, Right: 12, Bottom: 16}},
		XAxis: gochart.XAxis{
			Name:           "Time (UTC)",
			ValueFormatter: gochart.TimeValueFormatterWithFormat("2006-01-02 15:04"),
		},
		YAxis: gochart.YAxis{
			Name:  "%",
			Range: &gochart.ContinuousRange{Min: lo, Max: hi},
		},
		Series: series,
	}
	ch.Elements = []gochart.Renderable{gochart.Legend(&ch)}

	if err := ch.Render(gochart.PNG, w); err != nil {
		return fmt.Errorf("render time series chart: %w", err)
	}
	return nil
}

// RenderComposition draws one stacked bar per reading for the most recent
// maxBars readings. Negative components are drawn as zero and readings that
// sum to zero are skipped. It returns domain.ErrNoData when nothing is drawable.
func RenderComposition(w io.Writer, table domain.Table, maxBars int) error {
	if maxBars > 0 && len(table) > maxBars {
		table = table[len(table)-maxBars:]
	}

	bars := make([]gochart.StackedBar, 0, len(table))
	for _, r := range table {
		values := make([]gochart.Value, 0, len(components))
		total := 0.0
		for _, c := range components {
			v := math.Max(c.value(r), 0)
			total += v
			values = append(values, gochart.Value{
				Label: c.name,
				Value: v,
				Style: gochart.Style{FillColor: c.color, StrokeColor: c.color},
			})
		}
		if total == 0 {
			continue
		}
		bars = append(bars, gochart.StackedBar{
			Name:   r.Timestamp.UTC().Format("01-02 15:04"),
			Width:  barWidth,
			Values: values,
		})
	}
	if len(bars) == 0 {
		return domain.ErrNoData
	}

	ch := gochart.StackedBarChart{
		Title:      "Soil composition per reading",
		Width:      max(width, len(bars)*(barWidth+barSpacing)+120),
		Height:     height,
		BarSpacing: barSpacing,
		Background: gochart.Style{Padding: gochart.Box{Top: 40, Left: 16, Right: 12, Bottom: 16}},
		Bars:       bars,
	}
	if err := ch.Render(gochart.PNG, w); err != nil {
		return fmt.Errorf("render composition chart: %w", err)
	}
	return nil
}

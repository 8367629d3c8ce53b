// Package plot renders the amplitude history as a PNG line chart.
package plot

import (
	"bytes"
	"errors"
	"image/color"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/oszuidwest/zwfm-soundwatch/internal/analyzer"
	"github.com/oszuidwest/zwfm-soundwatch/internal/util"
)

// ErrNoData is returned when the series is empty.
var ErrNoData = errors.New("no amplitude data yet")

var (
	maxColor       = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
	meanColor      = color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff}
	thresholdColor = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
)

// Renderer draws amplitude charts.
type Renderer struct {
	Width, Height vg.Length
}

// NewRenderer returns a renderer producing 16x10 cm images.
func NewRenderer() *Renderer {
	return &Renderer{Width: 16 * vg.Centimeter, Height: 10 * vg.Centimeter}
}

// Render plots max and mean amplitude over time with a dashed horizontal
// threshold line spanning the series, and returns PNG bytes.
func (r *Renderer) Render(series analyzer.Series, threshold float64) ([]byte, error) {
	n := series.Len()
	if n == 0 {
		return nil, ErrNoData
	}

	p := plot.New()
	p.Y.Label.Text = "sound pressure [a.u.]"
	p.X.Tick.Marker = plot.TimeTicks{Format: "15:04:05", Time: plot.UnixTimeIn(time.Local)}
	p.Legend.Top = true

	maxPts := make(plotter.XYs, n)
	meanPts := make(plotter.XYs, n)
	for i, ts := range series.Timestamps {
		x := float64(ts.UnixNano()) / 1e9
		maxPts[i] = plotter.XY{X: x, Y: series.Max[i]}
		meanPts[i] = plotter.XY{X: x, Y: series.Mean[i]}
	}
	thresholdPts := plotter.XYs{
		{X: maxPts[0].X, Y: threshold},
		{X: maxPts[n-1].X, Y: threshold},
	}

	thresholdLine, err := plotter.NewLine(thresholdPts)
	if err != nil {
		return nil, util.WrapError("build threshold line", err)
	}
	thresholdLine.LineStyle.Color = thresholdColor
	thresholdLine.LineStyle.Dashes = []vg.Length{vg.Points(5), vg.Points(3)}

	maxLine, err := plotter.NewLine(maxPts)
	if err != nil {
		return nil, util.WrapError("build max line", err)
	}
	maxLine.LineStyle.Color = maxColor

	meanLine, err := plotter.NewLine(meanPts)
	if err != nil {
		return nil, util.WrapError("build mean line", err)
	}
	meanLine.LineStyle.Color = meanColor

	p.Add(thresholdLine, maxLine, meanLine)
	p.Legend.Add("max", maxLine)
	p.Legend.Add("mean", meanLine)

	w, err := p.WriterTo(r.Width, r.Height, "png")
	if err != nil {
		return nil, util.WrapError("create png writer", err)
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, util.WrapError("render plot", err)
	}
	return buf.Bytes(), nil
}

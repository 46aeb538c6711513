package render

import (
	"bytes"
	"fmt"
	"image/color"
	"math"
	"strconv"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/pavelanni/examgen/internal/mathtext"
	"github.com/pavelanni/examgen/internal/model"
)

// ChartStyle sets the pixel size of drawn charts.
type ChartStyle struct {
	Width    int
	Height   int
	FontSize float64
}

// DefaultChartStyle is sized for a half-page figure at print resolution.
func DefaultChartStyle() ChartStyle {
	return ChartStyle{Width: 1200, Height: 720, FontSize: 26}
}

var (
	chartFontOnce sync.Once
	chartFont     *truetype.Font
	chartFontErr  error
)

func loadFontFace(size float64) (font.Face, error) {
	chartFontOnce.Do(func() {
		chartFont, chartFontErr = truetype.Parse(goregular.TTF)
	})
	if chartFontErr != nil {
		return nil, fmt.Errorf("parse chart font: %w", chartFontErr)
	}
	return truetype.NewFace(chartFont, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	}), nil
}

var (
	seriesColor     = color.NRGBA{R: 0x1f, G: 0x5f, B: 0xbf, A: 0xff}
	endpointColor   = color.NRGBA{R: 0x11, G: 0x33, B: 0x77, A: 0xff}
	annotationColor = color.NRGBA{R: 0xc0, G: 0x30, B: 0x30, A: 0xff}
	axisColor       = color.NRGBA{R: 0x33, G: 0x33, B: 0x33, A: 0xff}
	gridColor       = color.NRGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}
)

type axisRange struct {
	min, max float64
}

func (a axisRange) span() float64 { return a.max - a.min }

func (a *axisRange) include(v float64) {
	a.min = math.Min(a.min, v)
	a.max = math.Max(a.max, v)
}

func (a *axisRange) pad() {
	if a.span() == 0 {
		a.min--
		a.max++
		return
	}
	m := a.span() * 0.05
	a.min -= m
	a.max += m
}

// DrawChart draws g as a PNG: a polyline, bars or scattered points scaled to
// the data range, with the first and last points highlighted and annotated
// points labelled.
func DrawChart(g model.GraphicData, style ChartStyle) ([]byte, error) {
	if len(g.Points) == 0 {
		return nil, fmt.Errorf("chart %q has no data", g.Title)
	}
	if style.Width <= 0 || style.Height <= 0 {
		style = DefaultChartStyle()
	}
	face, err := loadFontFace(style.FontSize)
	if err != nil {
		return nil, err
	}

	w, h := float64(style.Width), float64(style.Height)
	left, right, top, bottom := 0.11*w, 0.04*w, 0.12*h, 0.16*h
	plotW, plotH := w-left-right, h-top-bottom

	xr := axisRange{min: g.Points[0].X, max: g.Points[0].X}
	yr := axisRange{min: g.Points[0].Y, max: g.Points[0].Y}
	for _, p := range g.Points {
		xr.include(p.X)
		yr.include(p.Y)
	}
	for _, a := range g.Annotations {
		xr.include(a.X)
		yr.include(a.Y)
	}
	if g.Type == model.ChartBar {
		yr.include(0)
	}
	xr.pad()
	yr.pad()

	px := func(x float64) float64 { return left + (x-xr.min)/xr.span()*plotW }
	py := func(y float64) float64 { return top + plotH - (y-yr.min)/yr.span()*plotH }

	dc := gg.NewContext(style.Width, style.Height)
	dc.SetColor(color.White)
	dc.Clear()
	dc.SetFontFace(face)

	// Grid and tick labels.
	const ticks = 5
	dc.SetLineWidth(1)
	for i := 0; i <= ticks; i++ {
		fx := xr.min + xr.span()*float64(i)/ticks
		fy := yr.min + yr.span()*float64(i)/ticks
		dc.SetColor(gridColor)
		dc.DrawLine(px(fx), top, px(fx), top+plotH)
		dc.DrawLine(left, py(fy), left+plotW, py(fy))
		dc.Stroke()
		dc.SetColor(axisColor)
		dc.DrawStringAnchored(formatTick(fx), px(fx), top+plotH+style.FontSize*0.9, 0.5, 0.5)
		dc.DrawStringAnchored(formatTick(fy), left-style.FontSize*0.4, py(fy), 1, 0.5)
	}

	// Axes.
	dc.SetColor(axisColor)
	dc.SetLineWidth(3)
	dc.DrawLine(left, top, left, top+plotH)
	dc.DrawLine(left, top+plotH, left+plotW, top+plotH)
	dc.Stroke()

	// Series.
	dc.SetColor(seriesColor)
	switch g.Type {
	case model.ChartBar:
		bw := plotW / float64(len(g.Points)) * 0.6
		base := py(math.Max(yr.min, 0))
		for _, p := range g.Points {
			y := py(p.Y)
			dc.DrawRectangle(px(p.X)-bw/2, math.Min(y, base), bw, math.Abs(base-y))
		}
		dc.Fill()
	case model.ChartScatter:
		for _, p := range g.Points {
			dc.DrawCircle(px(p.X), py(p.Y), 6)
		}
		dc.Fill()
	default:
		dc.SetLineWidth(4)
		for i, p := range g.Points {
			if i == 0 {
				dc.MoveTo(px(p.X), py(p.Y))
				continue
			}
			dc.LineTo(px(p.X), py(p.Y))
		}
		dc.Stroke()
	}

	// First and last point markers.
	dc.SetColor(endpointColor)
	first, last := g.Points[0], g.Points[len(g.Points)-1]
	dc.DrawCircle(px(first.X), py(first.Y), 9)
	dc.DrawCircle(px(last.X), py(last.Y), 9)
	dc.Fill()

	// Annotations.
	for _, a := range g.Annotations {
		x, y := px(a.X), py(a.Y)
		dc.SetColor(annotationColor)
		dc.DrawCircle(x, y, 7)
		dc.Fill()
		label := mathtext.PlainText(a.Text)
		if label == "" {
			continue
		}
		ax := 0.0
		if x > left+plotW*0.7 {
			ax = 1
		}
		dc.DrawStringAnchored(label, x+(0.5-ax)*24, y-style.FontSize*0.8, ax, 0.5)
	}

	// Title and axis labels.
	dc.SetColor(axisColor)
	if g.Title != "" {
		dc.DrawStringAnchored(mathtext.PlainText(g.Title), w/2, top/2, 0.5, 0.5)
	}
	if g.XLabel != "" {
		dc.DrawStringAnchored(mathtext.PlainText(g.XLabel), left+plotW/2, h-bottom*0.3, 0.5, 0.5)
	}
	if g.YLabel != "" {
		dc.Push()
		dc.RotateAbout(gg.Radians(-90), left*0.25, top+plotH/2)
		dc.DrawStringAnchored(mathtext.PlainText(g.YLabel), left*0.25, top+plotH/2, 0.5, 0.5)
		dc.Pop()
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode chart: %w", err)
	}
	return buf.Bytes(), nil
}

func formatTick(v float64) string {
	if math.Abs(v) < 1e-9 {
		return "0"
	}
	return strconv.FormatFloat(v, 'g', 3, 64)
}

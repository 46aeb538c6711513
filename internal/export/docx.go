package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/fumiama/go-docx"

	"github.com/pavelanni/examgen/internal/mathtext"
	"github.com/pavelanni/examgen/internal/model"
	"github.com/pavelanni/examgen/internal/rasterize"
	"github.com/pavelanni/examgen/internal/render"
)

// A4 in twentieths of a point, with 2 cm margins.
const (
	docxPageW     = 11906
	docxPageH     = 16838
	docxMargin    = 1134
	docxTextW     = docxPageW - 2*docxMargin
	docxIndent    = 567
	emuPerTwip    = 635
	emuPerPx      = 9525
	ruleChars     = 80
	placeholderCM = 4.5
	twipsPerCM    = 567
)

const (
	colorCorrect = "007700"
	colorMuted   = "595959"
	colorRule    = "BFBFBF"
)

// DOCX writes flowed Word documents. Pagination is left to the word
// processor; each question is styled to stay on one page.
type DOCX struct {
	cfg Config
}

// NewDOCX returns the DOCX backend.
func NewDOCX(cfg Config) *DOCX {
	return &DOCX{cfg: cfg.withDefaults()}
}

func (*DOCX) Format() Format { return FormatDOCX }

func (d *DOCX) Assemble(ctx context.Context, doc *Document) ([]byte, error) {
	out, err := newDocx()
	if err != nil {
		return nil, err
	}
	w := &docxWriter{
		doc:      out,
		cfg:      d.cfg,
		formulas: doc.Formulas,
		labels:   doc.Labels,
	}

	ins := doc.Instructions
	for i := 0; i < len(ins); {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		j := groupEnd(ins, i)
		start := len(w.doc.Document.Body.Items)
		for _, in := range ins[i:j] {
			w.write(in)
		}
		switch ins[i].(type) {
		case render.Header, render.Statement:
			keepTogether(w.doc.Document.Body.Items[start:])
		}
		i = j
	}

	w.doc.Document.Body.Items = append(w.doc.Document.Body.Items, &docx.SectPr{
		PgSz: &docx.PgSz{W: docxPageW, H: docxPageH},
		PgMar: &docx.PgMar{
			Top: docxMargin, Left: docxMargin, Bottom: docxMargin, Right: docxMargin,
			Header: 709, Footer: 709,
		},
	})

	var buf bytes.Buffer
	if _, err := w.doc.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write docx: %w", err)
	}
	return buf.Bytes(), nil
}

type docxWriter struct {
	doc      *docx.Docx
	cfg      Config
	formulas *Formulas
	labels   model.Labels
}

type runStyle struct {
	bold, italic bool
	color        string
	size         float64
}

func (w *docxWriter) chartEMU() (int64, int64) {
	cw := int64(docxTextW*emuPerTwip) * 8 / 10
	ch := cw * int64(w.cfg.Chart.Height) / int64(w.cfg.Chart.Width)
	return cw, ch
}

func (w *docxWriter) halfPoints(size float64) string {
	if size <= 0 {
		size = w.cfg.FontSize
	}
	return strconv.Itoa(int(math.Round(size * 2)))
}

func (w *docxWriter) text(p *docx.Paragraph, s string, st runStyle) {
	if s == "" {
		return
	}
	r := p.AddText(s).Size(w.halfPoints(st.size))
	if st.bold {
		r.Bold()
	}
	if st.italic {
		r.Italic()
	}
	if st.color != "" {
		r.Color(st.color)
	}
}

// drawing appends png as an inline picture of the given size in EMU.
func (w *docxWriter) drawing(p *docx.Paragraph, png []byte, cx, cy int64) bool {
	run, err := p.AddInlineDrawing(png)
	if err != nil {
		slog.Warn("image not embedded", "error", err)
		return false
	}
	if d, ok := run.Children[0].(*docx.Drawing); ok && d.Inline != nil {
		d.Inline.Size(cx, cy)
	}
	return true
}

// formulaEMU scales a bitmap so that its em matches the body text.
func (w *docxWriter) formulaEMU(bmp *rasterize.Bitmap) (int64, int64) {
	cw, ch := bmp.CSSSize()
	k := (w.cfg.FontSize * 96 / 72) / w.cfg.FormulaFontPx
	fw, fh := cw*k*emuPerPx, ch*k*emuPerPx
	if maxW := float64(docxTextW * emuPerTwip); fw > maxW {
		fh *= maxW / fw
		fw = maxW
	}
	return int64(fw), int64(fh)
}

// rich appends text and formula segments to p.
func (w *docxWriter) rich(p *docx.Paragraph, segs []mathtext.Segment, st runStyle) {
	for _, seg := range segs {
		if seg.Kind == mathtext.Text {
			w.text(p, seg.Value, st)
			continue
		}
		if seg.Display {
			p.AddText("\n")
		}
		if bmp := w.formulas.Lookup(seg); bmp == nil {
			w.text(p, mathtext.Plain(seg.Value), st)
		} else if cx, cy := w.formulaEMU(bmp); !w.drawing(p, bmp.PNG, cx, cy) {
			w.text(p, "["+w.labels.FormulaFallback+"]", runStyle{italic: true, color: colorMuted, size: st.size})
		}
		if seg.Display {
			p.AddText("\n")
		}
	}
}

func indented(p *docx.Paragraph) *docx.Paragraph {
	p.Properties = &docx.ParagraphProperties{Ind: &docx.Ind{Left: docxIndent}}
	return p
}

func (w *docxWriter) rules(n int, indent bool) {
	for range n {
		p := w.doc.AddParagraph()
		if indent {
			indented(p)
		}
		w.text(p, strings.Repeat("_", ruleChars), runStyle{color: colorRule})
	}
}

func (w *docxWriter) write(in render.Instruction) {
	size := w.cfg.FontSize
	switch v := in.(type) {
	case render.Header:
		p := w.doc.AddParagraph().Justification("center")
		w.text(p, v.Title, runStyle{bold: true, size: 16})
		if v.Course != "" {
			p := w.doc.AddParagraph().Justification("center")
			w.text(p, v.CourseLabel+": "+v.Course, runStyle{size: size})
		}
		p = w.doc.AddParagraph()
		p.Properties = &docx.ParagraphProperties{
			Spacing: &docx.Spacing{Before: 240},
			Tabs:    &docx.Tabs{Tabs: []*docx.Tab{{Val: "right", Position: docxTextW}}},
		}
		w.text(p, v.StudentLabel+": "+strings.Repeat("_", 40), runStyle{size: size})
		p.AddTab()
		w.text(p, v.DateLabel+": "+strings.Repeat("_", 14), runStyle{size: size})
		w.doc.AddParagraph()

	case render.Statement:
		p := w.doc.AddParagraph()
		p.Properties = &docx.ParagraphProperties{
			Spacing: &docx.Spacing{Before: 160},
			Tabs:    &docx.Tabs{Tabs: []*docx.Tab{{Val: "right", Position: docxTextW}}},
		}
		w.text(p, strconv.Itoa(v.Number)+". ", runStyle{bold: true, size: size})
		w.rich(p, v.Text, runStyle{size: size})
		p.AddTab()
		w.text(p, v.PointsLabel, runStyle{italic: true, color: colorMuted, size: size - 1})

	case render.Option:
		p := indented(w.doc.AddParagraph())
		st := runStyle{size: size}
		if v.Marked {
			st = runStyle{bold: true, color: colorCorrect, size: size}
		}
		w.text(p, v.Letter+") ", runStyle{bold: true, color: st.color, size: size})
		w.rich(p, v.Text, st)
		if v.Marked {
			w.text(p, "  ← "+v.MarkLabel, st)
		}

	case render.AnswerLines:
		p := w.doc.AddParagraph()
		w.text(p, v.Caption, runStyle{italic: true, color: colorMuted, size: size - 1})
		w.rules(v.Count, false)

	case render.Checkboxes:
		p := indented(w.doc.AddParagraph())
		for i, item := range []struct {
			label  string
			marked bool
		}{
			{v.TrueLabel, v.Marked == render.TruthTrue},
			{v.FalseLabel, v.Marked == render.TruthFalse},
		} {
			if i > 0 {
				w.text(p, "        ", runStyle{size: size})
			}
			if item.marked {
				w.text(p, "☑ "+item.label, runStyle{bold: true, color: colorCorrect, size: size})
				continue
			}
			w.text(p, "☐ "+item.label, runStyle{size: size})
		}

	case render.Justification:
		p := indented(w.doc.AddParagraph())
		w.text(p, v.Label+": ", runStyle{bold: true, italic: true, color: "444444", size: size})
		w.rich(p, v.Text, runStyle{italic: true, color: "444444", size: size})
		w.rules(v.Lines, true)

	case render.Chart:
		w.chart(v)

	case render.Placeholder:
		w.placeholder(v.Caption)

	case render.Gap:
		w.doc.AddParagraph()

	case render.Total:
		p := w.doc.AddParagraph().Justification("end")
		p.Properties.Spacing = &docx.Spacing{Before: 240}
		w.text(p, v.Label+": "+w.labels.PointsLabel(v.Points), runStyle{bold: true, size: size + 1})
	}
}

func (w *docxWriter) chart(v render.Chart) {
	data, err := render.DrawChart(v.Data, w.cfg.Chart)
	if err != nil {
		slog.Warn("chart not drawn", "title", v.Data.Title, "error", err)
		w.placeholder(w.labels.GraphicSpace)
		return
	}
	caption := indented(w.doc.AddParagraph())
	w.text(caption, v.Caption, runStyle{bold: true, size: w.cfg.FontSize - 1})

	p := w.doc.AddParagraph().Justification("center")
	cx, cy := w.chartEMU()
	if !w.drawing(p, data, cx, cy) {
		w.text(p, "["+w.labels.GraphicSpace+"]", runStyle{italic: true, color: colorMuted})
	}
}

// placeholder draws a dashed empty frame with its caption below.
func (w *docxWriter) placeholder(caption string) {
	p := w.doc.AddParagraph().Justification("center")
	cx := int64(docxTextW-docxIndent) * emuPerTwip
	cy := int64(math.Round(placeholderCM * twipsPerCM * emuPerTwip))
	p.AddInlineShape(cx, cy, "Rectangle", "auto", "rect", &docx.ALine{
		W:         9525,
		SolidFill: &docx.ASolidFill{SrgbClr: &docx.ASrgbClr{Val: "969696"}},
		PrstDash:  &docx.APrstDash{Val: "dash"},
	})
	c := w.doc.AddParagraph().Justification("center")
	w.text(c, "["+caption+"]", runStyle{italic: true, color: colorMuted, size: w.cfg.FontSize - 1})
}

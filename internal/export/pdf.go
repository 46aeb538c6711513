package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jung-kurt/gofpdf"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/pavelanni/examgen/internal/layout"
	"github.com/pavelanni/examgen/internal/mathtext"
	"github.com/pavelanni/examgen/internal/model"
	"github.com/pavelanni/examgen/internal/rasterize"
	"github.com/pavelanni/examgen/internal/render"
)

// A4 portrait, millimetres.
const (
	pageWidth   = 210.0
	pageHeight  = 297.0
	pageMargin  = 20.0
	mmPerPt     = 25.4 / 72
	indent      = 8.0
	ruleSpacing = 8.0
	boxSize     = 3.6
	fontFamily  = "go"
)

var pngImage = gofpdf.ImageOptions{ImageType: "PNG"}

// PDF lays out documents on A4 pages with absolute positioning.
type PDF struct {
	cfg Config
}

// NewPDF returns the PDF backend.
func NewPDF(cfg Config) *PDF {
	return &PDF{cfg: cfg.withDefaults()}
}

func (*PDF) Format() Format { return FormatPDF }

// Assemble draws doc. Questions are moved to a new page as a whole when they
// fit on a page but not in the space left on the current one.
func (p *PDF) Assemble(ctx context.Context, doc *Document) ([]byte, error) {
	w, err := newPDFWriter(p.cfg, doc)
	if err != nil {
		return nil, err
	}

	ins := doc.Instructions
	for i := 0; i < len(ins); {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		j := groupEnd(ins, i)

		blocks := make([]pdfBlock, 0, j-i)
		total := 0.0
		for _, in := range ins[i:j] {
			b := w.prepare(in)
			blocks = append(blocks, b)
			total += b.height
		}
		if j-i > 1 && w.flow.Pages() > 0 && total <= w.page.Usable() && !w.flow.Fits(total) {
			w.flow.BreakPage()
		}
		for _, b := range blocks {
			if b.gap {
				w.flow.Advance(b.height)
				continue
			}
			pos := w.flow.Reserve(b.height)
			if b.draw != nil {
				b.draw(pos.X, pos.Y)
			}
		}
		i = j
	}
	if w.pdf.PageCount() == 0 {
		w.pdf.AddPage()
	}

	var buf bytes.Buffer
	if err := w.pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// groupEnd returns the end of the question starting at i: a statement and
// everything up to the next statement, gap or footer.
func groupEnd(ins []render.Instruction, i int) int {
	if _, ok := ins[i].(render.Statement); !ok {
		return i + 1
	}
	j := i + 1
	for j < len(ins) {
		switch ins[j].(type) {
		case render.Option, render.AnswerLines, render.Checkboxes,
			render.Justification, render.Chart, render.Placeholder:
			j++
			continue
		}
		break
	}
	return j
}

type pdfBlock struct {
	height float64
	gap    bool // advance the cursor without reserving
	draw   func(x, y float64)
}

type pdfWriter struct {
	pdf      *gofpdf.Fpdf
	flow     *layout.Flow
	page     layout.Page
	cfg      Config
	formulas *Formulas
	labels   model.Labels
	width    float64
	images   map[*rasterize.Bitmap]string
	charts   int
}

func newPDFWriter(cfg Config, doc *Document) (*pdfWriter, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddUTF8FontFromBytes(fontFamily, "", goregular.TTF)
	pdf.AddUTF8FontFromBytes(fontFamily, "B", gobold.TTF)
	pdf.AddUTF8FontFromBytes(fontFamily, "I", goitalic.TTF)
	pdf.AddUTF8FontFromBytes(fontFamily, "BI", gobolditalic.TTF)
	pdf.SetTitle(doc.Title, true)
	pdf.SetCreator("examgen", true)
	pdf.AliasNbPages("")
	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("init pdf: %w", err)
	}

	w := &pdfWriter{
		pdf:      pdf,
		page:     layout.Page{Height: pageHeight, TopMargin: pageMargin, BottomMargin: pageMargin, LeftMargin: pageMargin},
		cfg:      cfg,
		formulas: doc.Formulas,
		labels:   doc.Labels,
		width:    pageWidth - 2*pageMargin,
		images:   make(map[*rasterize.Bitmap]string),
	}
	pdf.SetFooterFunc(func() {
		pdf.SetFont(fontFamily, "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.SetXY(pageMargin, pageHeight-14)
		pdf.CellFormat(w.width, 5, fmt.Sprintf("%d / {nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	w.flow = layout.NewFlow(w.page)
	w.flow.OnNewPage = func(int) { pdf.AddPage() }
	return w, nil
}

func lineHeight(size float64) float64 { return size * mmPerPt * 1.45 }

// prepare measures one instruction and returns the closure that draws it.
func (w *pdfWriter) prepare(in render.Instruction) pdfBlock {
	size := w.cfg.FontSize
	lh := lineHeight(size)

	switch v := in.(type) {
	case render.Header:
		return w.header(v)

	case render.Statement:
		w.pdf.SetFont(fontFamily, "I", size-1)
		pw := w.pdf.GetStringWidth(v.PointsLabel)
		maxW := w.width - pw - 4
		ps := append([]piece{w.word(strconv.Itoa(v.Number)+".", "B", size, false)}, w.pieces(v.Text, "", size, true)...)
		lines := w.wrap(ps, maxW, size)
		return pdfBlock{height: linesHeight(lines) + 1.5, draw: func(x, y float64) {
			w.pdf.SetTextColor(0, 0, 0)
			w.drawLines(lines, x, y, maxW, size)
			w.pdf.SetFont(fontFamily, "I", size-1)
			w.pdf.SetTextColor(90, 90, 90)
			w.pdf.Text(x+w.width-pw, baseline(y, lines[0].height, size), v.PointsLabel)
		}}

	case render.Option:
		style := ""
		if v.Marked {
			style = "B"
		}
		maxW := w.width - indent
		ps := append([]piece{w.word(v.Letter+")", "B", size, false)}, w.pieces(v.Text, style, size, true)...)
		if v.Marked {
			ps = append(ps, w.word("← "+v.MarkLabel, "B", size, true))
		}
		lines := w.wrap(ps, maxW, size)
		return pdfBlock{height: linesHeight(lines) + 0.5, draw: func(x, y float64) {
			if v.Marked {
				w.pdf.SetTextColor(0, 119, 0)
			} else {
				w.pdf.SetTextColor(0, 0, 0)
			}
			w.drawLines(lines, x+indent, y, maxW, size)
		}}

	case render.AnswerLines:
		capH := lineHeight(size - 2)
		return pdfBlock{height: capH + float64(v.Count)*ruleSpacing + 2, draw: func(x, y float64) {
			w.pdf.SetFont(fontFamily, "I", size-2)
			w.pdf.SetTextColor(110, 110, 110)
			w.pdf.Text(x, baseline(y, capH, size-2), v.Caption)
			w.rules(x, y+capH, v.Count)
		}}

	case render.Checkboxes:
		h := lh + 2
		return pdfBlock{height: h, draw: func(x, y float64) {
			w.checkbox(x+indent, y, h, v.TrueLabel, v.Marked == render.TruthTrue)
			w.checkbox(x+indent+45, y, h, v.FalseLabel, v.Marked == render.TruthFalse)
		}}

	case render.Justification:
		maxW := w.width - indent
		ps := append([]piece{w.word(v.Label+":", "BI", size, false)}, w.pieces(v.Text, "I", size, true)...)
		lines := w.wrap(ps, maxW, size)
		th := linesHeight(lines)
		return pdfBlock{height: th + float64(v.Lines)*ruleSpacing + 2, draw: func(x, y float64) {
			w.pdf.SetTextColor(68, 68, 68)
			w.drawLines(lines, x+indent, y, maxW, size)
			w.rules(x+indent, y+th, v.Lines)
		}}

	case render.Chart:
		return w.chart(v)

	case render.Placeholder:
		return w.placeholder(v.Caption)

	case render.Gap:
		return pdfBlock{height: v.Lines * lh, gap: true}

	case render.Total:
		h := lh*2 + 2
		text := v.Label + ": " + w.labels.PointsLabel(v.Points)
		return pdfBlock{height: h, draw: func(x, y float64) {
			w.pdf.SetDrawColor(0, 0, 0)
			w.pdf.SetLineWidth(0.4)
			w.pdf.Line(x, y+2, x+w.width, y+2)
			w.pdf.SetFont(fontFamily, "B", size+1)
			w.pdf.SetTextColor(0, 0, 0)
			tw := w.pdf.GetStringWidth(text)
			w.pdf.Text(x+w.width-tw, y+2+lh*1.2, text)
		}}
	}
	return pdfBlock{}
}

func (w *pdfWriter) header(v render.Header) pdfBlock {
	const titleSize = 16
	size := w.cfg.FontSize
	lh := lineHeight(size)

	title := w.wrap(w.pieces([]mathtext.Segment{{Kind: mathtext.Text, Value: v.Title}}, "B", titleSize, false), w.width, titleSize)
	titleH := linesHeight(title)
	courseH := 0.0
	if v.Course != "" {
		courseH = lh
	}
	h := titleH + courseH + lh*2 + 4

	return pdfBlock{height: h, draw: func(x, y float64) {
		w.pdf.SetTextColor(0, 0, 0)
		for _, line := range title {
			w.drawLines([]textLine{line}, x+(w.width-line.width)/2, y, w.width, titleSize)
			y += line.height
		}
		if v.Course != "" {
			w.pdf.SetFont(fontFamily, "", size)
			line := v.CourseLabel + ": " + v.Course
			lw := w.pdf.GetStringWidth(line)
			w.pdf.Text(x+(w.width-lw)/2, baseline(y, lh, size), line)
			y += lh
		}
		y += lh * 0.5
		w.pdf.SetFont(fontFamily, "", size)
		w.pdf.Text(x, baseline(y, lh, size), v.StudentLabel+": "+strings.Repeat("_", 40))
		date := v.DateLabel + ": " + strings.Repeat("_", 14)
		w.pdf.Text(x+w.width-w.pdf.GetStringWidth(date), baseline(y, lh, size), date)
		y += lh * 1.3
		w.pdf.SetDrawColor(0, 0, 0)
		w.pdf.SetLineWidth(0.5)
		w.pdf.Line(x, y, x+w.width, y)
	}}
}

func (w *pdfWriter) chart(v render.Chart) pdfBlock {
	data, err := render.DrawChart(v.Data, w.cfg.Chart)
	if err != nil {
		slog.Warn("chart not drawn", "title", v.Data.Title, "error", err)
		return w.placeholder(w.labels.GraphicSpace)
	}
	name := "chart" + strconv.Itoa(w.charts)
	w.charts++
	if !w.register(name, data) {
		return w.placeholder(w.labels.GraphicSpace)
	}

	size := w.cfg.FontSize - 1
	capH := lineHeight(size)
	cw := w.width * 0.8
	ch := cw * float64(w.cfg.Chart.Height) / float64(w.cfg.Chart.Width)
	return pdfBlock{height: capH + ch + 3, draw: func(x, y float64) {
		w.pdf.SetFont(fontFamily, "B", size)
		w.pdf.SetTextColor(0, 0, 0)
		w.pdf.Text(x+indent, baseline(y, capH, size), v.Caption)
		w.pdf.ImageOptions(name, x+(w.width-cw)/2, y+capH+1, cw, ch, false, pngImage, 0, "")
	}}
}

func (w *pdfWriter) placeholder(caption string) pdfBlock {
	const boxH = 45.0
	size := w.cfg.FontSize - 1
	return pdfBlock{height: boxH + 3, draw: func(x, y float64) {
		w.pdf.SetDrawColor(150, 150, 150)
		w.pdf.SetLineWidth(0.3)
		w.pdf.SetDashPattern([]float64{2, 1.5}, 0)
		w.pdf.Rect(x+indent, y+1, w.width-indent, boxH, "D")
		w.pdf.SetDashPattern([]float64{}, 0)
		w.pdf.SetFont(fontFamily, "I", size)
		w.pdf.SetTextColor(130, 130, 130)
		cw := w.pdf.GetStringWidth(caption)
		w.pdf.Text(x+indent+(w.width-indent-cw)/2, y+1+boxH/2, caption)
	}}
}

func (w *pdfWriter) rules(x, y float64, n int) {
	w.pdf.SetDrawColor(180, 180, 180)
	w.pdf.SetLineWidth(0.2)
	for i := 1; i <= n; i++ {
		ly := y + float64(i)*ruleSpacing
		w.pdf.Line(x, ly, pageWidth-pageMargin, ly)
	}
}

func (w *pdfWriter) checkbox(x, y, h float64, label string, marked bool) {
	size := w.cfg.FontSize
	top := y + (h-boxSize)/2
	w.pdf.SetLineWidth(0.3)
	w.pdf.SetDrawColor(0, 0, 0)
	w.pdf.Rect(x, top, boxSize, boxSize, "D")
	style := ""
	w.pdf.SetTextColor(0, 0, 0)
	if marked {
		style = "B"
		w.pdf.SetDrawColor(0, 119, 0)
		w.pdf.SetLineWidth(0.5)
		w.pdf.Line(x+0.6, top+0.6, x+boxSize-0.6, top+boxSize-0.6)
		w.pdf.Line(x+0.6, top+boxSize-0.6, x+boxSize-0.6, top+0.6)
		w.pdf.SetTextColor(0, 119, 0)
	}
	w.pdf.SetFont(fontFamily, style, size)
	w.pdf.Text(x+boxSize+2, top+boxSize*0.9, label)
}

// register embeds a PNG under name. A bitmap the PDF writer rejects is
// logged and reported as false; the document stays usable.
func (w *pdfWriter) register(name string, png []byte) bool {
	w.pdf.RegisterImageOptionsReader(name, pngImage, bytes.NewReader(png))
	if err := w.pdf.Error(); err != nil {
		slog.Warn("image not embedded", "image", name, "error", err)
		w.pdf.ClearError()
		return false
	}
	return true
}

func (w *pdfWriter) image(bmp *rasterize.Bitmap) (string, bool) {
	if name, ok := w.images[bmp]; ok {
		return name, name != ""
	}
	name := "formula" + strconv.Itoa(len(w.images))
	if !w.register(name, bmp.PNG) {
		name = ""
	}
	w.images[bmp] = name
	return name, name != ""
}

// formulaSize scales a bitmap so that its em matches the body text.
func (w *pdfWriter) formulaSize(bmp *rasterize.Bitmap, size float64) (float64, float64) {
	cw, ch := bmp.CSSSize()
	k := size * mmPerPt / w.cfg.FormulaFontPx
	fw, fh := cw*k, ch*k
	if fw > w.width {
		fh *= w.width / fw
		fw = w.width
	}
	return fw, fh
}

// piece is a word or an embedded formula image.
type piece struct {
	text  string
	style string
	img   string
	w, h  float64
	space bool // preceded by a space
	block bool // display formula on its own centered line
	brk   bool // forced line break
}

type textLine struct {
	pieces []piece
	width  float64
	height float64
	center bool
}

func (w *pdfWriter) word(s, style string, size float64, space bool) piece {
	w.pdf.SetFont(fontFamily, style, size)
	return piece{text: s, style: style, w: w.pdf.GetStringWidth(s), space: space}
}

// pieces splits segments into words and formula images. Formulas without a
// bitmap are spelled out with Unicode symbols.
func (w *pdfWriter) pieces(segs []mathtext.Segment, style string, size float64, lead bool) []piece {
	var out []piece
	space := lead
	words := func(s string) {
		for i, line := range strings.Split(s, "\n") {
			if i > 0 {
				out = append(out, piece{brk: true})
				space = false
			}
			fields := strings.Fields(line)
			if r, _ := utf8.DecodeRuneInString(line); unicode.IsSpace(r) {
				space = true
			}
			for j, f := range fields {
				out = append(out, w.word(f, style, size, space || j > 0))
				space = false
			}
			if len(fields) > 0 {
				r, _ := utf8.DecodeLastRuneInString(line)
				space = unicode.IsSpace(r)
			}
		}
	}

	for _, seg := range segs {
		if seg.Kind == mathtext.Text {
			words(seg.Value)
			continue
		}
		bmp := w.formulas.Lookup(seg)
		if bmp == nil {
			if seg.Display {
				out = append(out, piece{brk: true})
			}
			words(mathtext.Plain(seg.Value))
			if seg.Display {
				out = append(out, piece{brk: true})
			}
			continue
		}
		name, ok := w.image(bmp)
		if !ok {
			out = append(out, w.word("["+w.labels.FormulaFallback+"]", "I", size, space))
			space = false
			continue
		}
		fw, fh := w.formulaSize(bmp, size)
		out = append(out, piece{img: name, w: fw, h: fh, space: space, block: seg.Display})
		space = false
	}
	return out
}

// wrap breaks pieces into lines no wider than maxW.
func (w *pdfWriter) wrap(ps []piece, maxW, size float64) []textLine {
	w.pdf.SetFont(fontFamily, "", size)
	spaceW := w.pdf.GetStringWidth(" ")
	lh := lineHeight(size)

	var lines []textLine
	cur := textLine{height: lh}
	flush := func() {
		lines = append(lines, cur)
		cur = textLine{height: lh}
	}
	for _, p := range ps {
		if p.brk {
			flush()
			continue
		}
		if p.block {
			if len(cur.pieces) > 0 {
				flush()
			}
			p.space = false
			cur.pieces = []piece{p}
			cur.width = p.w
			cur.height = max(lh, p.h+1)
			cur.center = true
			flush()
			continue
		}
		add := p.w
		if p.space && len(cur.pieces) > 0 {
			add += spaceW
		}
		if len(cur.pieces) > 0 && cur.width+add > maxW {
			flush()
			add = p.w
		}
		if len(cur.pieces) == 0 {
			p.space = false
		}
		cur.pieces = append(cur.pieces, p)
		cur.width += add
		if p.img != "" && p.h+1 > cur.height {
			cur.height = p.h + 1
		}
	}
	if len(cur.pieces) > 0 || len(lines) == 0 {
		flush()
	}
	return lines
}

func linesHeight(lines []textLine) float64 {
	h := 0.0
	for _, l := range lines {
		h += l.height
	}
	return h
}

// baseline returns the text baseline that centers a line of the given
// font size vertically in a band of height h starting at y.
func baseline(y, h, size float64) float64 {
	return y + h/2 + size*mmPerPt*0.35
}

// drawLines prints wrapped lines. The text color is left to the caller.
func (w *pdfWriter) drawLines(lines []textLine, x, y, maxW, size float64) {
	w.pdf.SetFont(fontFamily, "", size)
	spaceW := w.pdf.GetStringWidth(" ")
	for _, ln := range lines {
		cx := x
		if ln.center {
			cx = x + (maxW-ln.width)/2
		}
		for _, p := range ln.pieces {
			if p.space {
				cx += spaceW
			}
			if p.img != "" {
				w.pdf.ImageOptions(p.img, cx, y+(ln.height-p.h)/2, p.w, p.h, false, pngImage, 0, "")
			} else {
				w.pdf.SetFont(fontFamily, p.style, size)
				w.pdf.Text(cx, baseline(y, ln.height, size), p.text)
			}
			cx += p.w
		}
		y += ln.height
	}
}

package export

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fumiama/go-docx"
	"github.com/ledongthuc/pdf"

	"github.com/pavelanni/examgen/internal/apierr"
	"github.com/pavelanni/examgen/internal/mathtext"
	"github.com/pavelanni/examgen/internal/model"
	"github.com/pavelanni/examgen/internal/rasterize"
	"github.com/pavelanni/examgen/internal/render"
)

func formulaPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 96, 40))
	for x := 10; x < 86; x++ {
		img.Set(x, 20, color.Black)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type fakeRasterizer struct {
	png   []byte
	junk  bool
	fail  map[string]error
	slow  string
	calls atomic.Int32
}

func (f *fakeRasterizer) Rasterize(ctx context.Context, latex string, _ bool) (*rasterize.Bitmap, error) {
	f.calls.Add(1)
	if latex == f.slow {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err, ok := f.fail[latex]; ok {
		return nil, err
	}
	if f.junk {
		return &rasterize.Bitmap{PNG: []byte("not a png"), Width: 48, Height: 20, Scale: 2}, nil
	}
	return rasterize.NewBitmap(f.png, 2)
}

func (f *fakeRasterizer) Close() error { return nil }

func (f *fakeRasterizer) factory() rasterize.Factory {
	return func() rasterize.Engine { return f }
}

type fakeStore struct {
	err   error
	calls int
	got   model.NewExam
}

func (s *fakeStore) InsertExam(_ context.Context, e model.NewExam) (*model.Exam, error) {
	s.calls++
	s.got = e
	if s.err != nil {
		return nil, s.err
	}
	id := e.CourseID
	return &model.Exam{ID: "exam-1", Name: e.Name, CourseID: &id, Questions: e.Questions, CreatedAt: e.CreatedAt}, nil
}

func pdfPages(t *testing.T, data []byte) int {
	t.Helper()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("read pdf: %v", err)
	}
	return r.NumPage()
}

func docxParagraphs(t *testing.T, data []byte) []string {
	t.Helper()
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("parse docx: %v", err)
	}
	var out []string
	for _, it := range doc.Document.Body.Items {
		if p, ok := it.(*docx.Paragraph); ok {
			out = append(out, p.String())
		}
	}
	return out
}

func containsLine(lines []string, substr string) bool {
	for _, l := range lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

func TestExportPDF(t *testing.T) {
	store := &fakeStore{}
	x := NewExporter(DefaultConfig(), nil, store)

	res, err := x.Export(context.Background(), Request{
		Name:      "Parcial 1",
		CourseID:  "course-1",
		Questions: []model.Question{{ID: "q1", Statement: "Explique la ley de Ohm.", Points: 10, Body: model.Development{}}},
		AnswerKey: true,
	}, FormatPDF, true)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !bytes.HasPrefix(res.Bytes, []byte("%PDF")) {
		t.Errorf("output does not start with %%PDF")
	}
	if res.ContentType != "application/pdf" {
		t.Errorf("ContentType = %q", res.ContentType)
	}
	if res.Filename != "Parcial_1.pdf" {
		t.Errorf("Filename = %q, want Parcial_1.pdf", res.Filename)
	}
	if n := pdfPages(t, res.Bytes); n != 1 {
		t.Errorf("pages = %d, want 1", n)
	}
	if store.calls != 1 {
		t.Fatalf("InsertExam called %d times, want 1", store.calls)
	}
	if store.got.CourseID != "course-1" || len(store.got.Questions) != 1 {
		t.Errorf("persisted %+v", store.got)
	}
	if res.Exam == nil || res.Exam.ID != "exam-1" || res.PersistErr != nil {
		t.Errorf("result exam = %+v, persist err = %v", res.Exam, res.PersistErr)
	}
}

func TestExportPDFPaginates(t *testing.T) {
	var questions []model.Question
	for i := range 12 {
		questions = append(questions, model.Question{
			Statement: fmt.Sprintf("Pregunta %d: describa el fenómeno con detalle.", i+1),
			Points:    5,
			Body:      model.Development{},
		})
	}
	x := NewExporter(DefaultConfig(), nil, nil)
	res, err := x.Export(context.Background(), Request{Name: "Final", Questions: questions}, FormatPDF, false)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n := pdfPages(t, res.Bytes); n < 2 {
		t.Errorf("pages = %d, want at least 2", n)
	}
}

func TestExportPDFWithFormulasAndChart(t *testing.T) {
	tests := []struct {
		name string
		r    *fakeRasterizer
	}{
		{"images", &fakeRasterizer{png: formulaPNG(t)}},
		{"malformed images", &fakeRasterizer{junk: true}},
	}
	questions := []model.Question{
		{
			Statement:       "Si $v = \\frac{d}{t}$, calcule:$$x(t) = x_0 + v t$$",
			Points:          10,
			IncludesGraphic: true,
			Graphic: &model.GraphicData{
				Type:   model.ChartLine,
				Title:  "Posición",
				Points: []model.Point{{X: 0, Y: 0}, {X: 1, Y: 2}, {X: 2, Y: 3}},
			},
			Body: model.Development{},
		},
		{
			Statement: "¿Cuál es $\\sqrt{16}$?",
			Points:    5,
			Body:      model.MultipleChoice{Options: []string{"$2$", "$4$", "$8$"}, Correct: model.IndexAnswer(1)},
		},
		{
			Statement:       "Grafique $y = x^2$.",
			Points:          5,
			IncludesGraphic: true,
			Body:            model.Development{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := NewExporter(DefaultConfig(), tt.r.factory(), nil)
			res, err := x.Export(context.Background(), Request{Name: "Física I", Questions: questions, AnswerKey: true}, FormatPDF, false)
			if err != nil {
				t.Fatalf("Export: %v", err)
			}
			if pdfPages(t, res.Bytes) < 1 {
				t.Error("empty document")
			}
			if tt.r.calls.Load() == 0 {
				t.Error("rasterizer never called")
			}
		})
	}
}

func TestExportDOCXTrueFalse(t *testing.T) {
	x := NewExporter(DefaultConfig(), nil, nil)
	res, err := x.Export(context.Background(), Request{
		Name: "Parcial 2",
		Questions: []model.Question{{
			Statement: "El agua hierve a 100 °C a nivel del mar.",
			Points:    5,
			Body:      model.TrueFalse{Correct: model.TextAnswer("verdadero")},
		}},
		AnswerKey: true,
	}, FormatDOCX, false)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if res.Filename != "Parcial_2.docx" {
		t.Errorf("Filename = %q", res.Filename)
	}
	if !strings.HasSuffix(res.ContentType, "wordprocessingml.document") {
		t.Errorf("ContentType = %q", res.ContentType)
	}

	lines := docxParagraphs(t, res.Bytes)
	if !containsLine(lines, "☑ Verdadero") {
		t.Errorf("true box not marked in %q", lines)
	}
	if !containsLine(lines, "☐ Falso") {
		t.Errorf("false box missing in %q", lines)
	}
	if containsLine(lines, "Justificación") {
		t.Error("unexpected justification block")
	}
	if !containsLine(lines, "Puntaje total: 5 puntos") {
		t.Errorf("total footer missing in %q", lines)
	}
}

func TestExportDOCXContent(t *testing.T) {
	r := &fakeRasterizer{junk: true}
	x := NewExporter(DefaultConfig(), r.factory(), nil)
	res, err := x.Export(context.Background(), Request{
		Name:       "Parcial 3",
		CourseName: "Física I",
		Questions: []model.Question{
			{Statement: "Unidad de fuerza", Points: 10, Body: model.MultipleChoice{Options: []string{"Pascal", "Newton"}, Correct: model.TextAnswer("B")}},
			{Statement: "Calcule $E = mc^2$", Points: 5, Body: model.Development{}},
			{Statement: "Dibuje", Points: 5, IncludesGraphic: true, Body: model.Development{}},
		},
		AnswerKey: true,
	}, FormatDOCX, false)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	lines := docxParagraphs(t, res.Bytes)
	for _, want := range []string{
		"Parcial 3",
		"Cátedra: Física I",
		"1. Unidad de fuerza",
		"(10 puntos)",
		"A) Pascal",
		"B) Newton  ← Correcta",
		"[Imagen no disponible]",
		"Espacio para respuesta de desarrollo",
		"[Espacio reservado para gráfico]",
		"Puntaje total: 20 puntos",
	} {
		if !containsLine(lines, want) {
			t.Errorf("missing %q in %q", want, lines)
		}
	}
}

func docxPart(t *testing.T, data []byte, name string) string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open docx: %v", err)
	}
	f, err := zr.Open(name)
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(b)
}

func TestExportDOCXKeepsQuestionsTogether(t *testing.T) {
	qs := []model.Question{
		{Statement: "Unidad de fuerza", Points: 10, Body: model.MultipleChoice{Options: []string{"Pascal", "Newton"}, Correct: model.TextAnswer("B")}},
	}
	for i := range 30 {
		qs = append(qs, model.Question{Statement: fmt.Sprintf("Tema %d", i+2), Points: 1, Body: model.Development{}})
	}
	x := NewExporter(DefaultConfig(), nil, nil)
	res, err := x.Export(context.Background(), Request{Name: "Final", Questions: qs, AnswerKey: true}, FormatDOCX, false)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	body := docxPart(t, res.Bytes, "word/document.xml")
	if strings.Contains(body, `w:type="page"`) {
		t.Error("document contains a forced page break")
	}
	styles := docxPart(t, res.Bytes, "word/styles.xml")
	for _, want := range []string{`w:styleId="` + styleKeepNext + `"`, `w:styleId="` + styleKeepLines + `"`, "<w:keepNext/>"} {
		if !strings.Contains(styles, want) {
			t.Errorf("styles.xml missing %s", want)
		}
	}

	doc, err := docx.Parse(bytes.NewReader(res.Bytes), int64(len(res.Bytes)))
	if err != nil {
		t.Fatalf("parse docx: %v", err)
	}
	styleOf := map[string]string{}
	for _, it := range doc.Document.Body.Items {
		p, ok := it.(*docx.Paragraph)
		if !ok {
			continue
		}
		style := ""
		if p.Properties != nil && p.Properties.Style != nil {
			style = p.Properties.Style.Val
		}
		styleOf[p.String()] = style
	}
	for _, tt := range []struct {
		prefix, style string
	}{
		{"1. Unidad de fuerza", styleKeepNext},
		{"A) Pascal", styleKeepNext},
		{"B) Newton", styleKeepLines},
		{"Final", styleKeepNext},
	} {
		found := false
		for text, style := range styleOf {
			if strings.HasPrefix(text, tt.prefix) {
				found = true
				if style != tt.style {
					t.Errorf("%q style = %q, want %q", tt.prefix, style, tt.style)
				}
			}
		}
		if !found {
			t.Errorf("no paragraph starting with %q", tt.prefix)
		}
	}
}

func TestExportPersistFailureKeepsBytes(t *testing.T) {
	store := &fakeStore{err: errors.New("FOREIGN KEY constraint failed")}
	x := NewExporter(DefaultConfig(), nil, store)
	res, err := x.Export(context.Background(), Request{
		Name:      "Parcial 1",
		CourseID:  "missing",
		Questions: []model.Question{{Statement: "x", Points: 1, Body: model.Development{}}},
	}, FormatPDF, true)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(res.Bytes) == 0 {
		t.Error("bytes discarded after persistence failure")
	}
	if res.PersistErr == nil || res.Exam != nil {
		t.Errorf("PersistErr = %v, Exam = %+v", res.PersistErr, res.Exam)
	}
}

func TestExportSurfaceUnavailable(t *testing.T) {
	r := &fakeRasterizer{fail: map[string]error{"x": fmt.Errorf("launch chrome: %w", rasterize.ErrSurfaceUnavailable)}}
	store := &fakeStore{}
	x := NewExporter(DefaultConfig(), r.factory(), store)
	_, err := x.Export(context.Background(), Request{
		Name:      "Parcial 1",
		CourseID:  "c",
		Questions: []model.Question{{Statement: "Sea $x$", Points: 1, Body: model.Development{}}},
	}, FormatPDF, true)
	if !apierr.Is(err, apierr.KindAssembly) {
		t.Fatalf("err = %v, want assembly error", err)
	}
	if !errors.Is(err, rasterize.ErrSurfaceUnavailable) {
		t.Errorf("err = %v, want ErrSurfaceUnavailable in chain", err)
	}
	if store.calls != 0 {
		t.Error("exam persisted although export failed")
	}
}

func TestExportValidation(t *testing.T) {
	dev := []model.Question{{Statement: "x", Points: 1, Body: model.Development{}}}
	tests := []struct {
		name    string
		req     Request
		persist bool
		ok      bool
	}{
		{"missing name", Request{CourseID: "c", Questions: dev}, true, false},
		{"missing course", Request{Name: "P", Questions: dev}, true, false},
		{"course optional without persistence", Request{Name: "P", Questions: dev}, false, true},
		{"no questions", Request{Name: "P", CourseID: "c"}, true, false},
		{"zero points", Request{Name: "P", Questions: []model.Question{{Statement: "x", Body: model.Development{}}}}, false, false},
		{"untyped question", Request{Name: "P", Questions: []model.Question{{Statement: "x", Points: 1}}}, false, false},
	}
	x := NewExporter(DefaultConfig(), nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := x.Export(context.Background(), tt.req, FormatDOCX, tt.persist)
			if tt.ok {
				if err != nil {
					t.Fatalf("Export: %v", err)
				}
				return
			}
			if !apierr.Is(err, apierr.KindValidation) {
				t.Errorf("err = %v, want validation error", err)
			}
		})
	}
}

func TestRasterizeFormulas(t *testing.T) {
	r := &fakeRasterizer{
		png:  formulaPNG(t),
		fail: map[string]error{`\bad`: rasterize.ErrTypeset},
		slow: `\slow`,
	}
	ins := render.New(render.DefaultOptions()).Exam("P", "", []model.Question{
		{Statement: "$a$ y $a$ y $$a$$", Points: 1, Body: model.Development{}},
		{Statement: `$\bad$ o $\slow$`, Points: 1, Body: model.TrueFalse{Justification: "Use $b$"}},
	})

	f, err := RasterizeFormulas(context.Background(), ins, r, 2, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("RasterizeFormulas: %v", err)
	}
	if f.Len() != 3 {
		t.Errorf("Len() = %d, want 3 (inline a, display a, b)", f.Len())
	}
	if f.Lookup(mathtext.Segment{Kind: mathtext.Formula, Value: "a"}) == nil {
		t.Error("inline a not rendered")
	}
	for _, latex := range []string{`\bad`, `\slow`} {
		if f.Lookup(mathtext.Segment{Kind: mathtext.Formula, Value: latex}) != nil {
			t.Errorf("%s should fall back to text", latex)
		}
	}
	// The repeated inline fragment is rendered once.
	if n := r.calls.Load(); n != 5 {
		t.Errorf("rasterizer called %d times, want 5", n)
	}
}

func TestFilenameAndFormat(t *testing.T) {
	tests := []struct {
		name string
		f    Format
		want string
	}{
		{"Parcial 1", FormatPDF, "Parcial_1.pdf"},
		{"  Final   de  Física ", FormatDOCX, "Final_de_Física.docx"},
		{"", FormatPDF, "examen.pdf"},
		{"Parcial \"A\"\r\n2/3", FormatPDF, "Parcial_A23.pdf"},
		{`"\"`, FormatDOCX, "examen.docx"},
	}
	for _, tt := range tests {
		if got := Filename(tt.name, tt.f); got != tt.want {
			t.Errorf("Filename(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}

	for in, want := range map[string]Format{"": FormatPDF, "PDF": FormatPDF, "docx": FormatDOCX} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("odt"); err == nil {
		t.Error("expected error for odt")
	}
}

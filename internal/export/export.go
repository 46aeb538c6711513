// Package export assembles rendered exams into PDF and DOCX documents and
// records exported exams through the store.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/pavelanni/examgen/internal/apierr"
	"github.com/pavelanni/examgen/internal/model"
	"github.com/pavelanni/examgen/internal/rasterize"
	"github.com/pavelanni/examgen/internal/render"
)

// Format is an output document format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat accepts "pdf" and "docx" in any case; empty means PDF.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pdf":
		return FormatPDF, nil
	case "docx", "word":
		return FormatDOCX, nil
	}
	return "", fmt.Errorf("unsupported format %q", s)
}

// ContentType returns the MIME type of documents in format f.
func ContentType(f Format) string {
	if f == FormatDOCX {
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	}
	return "application/pdf"
}

// Filename derives the download name from the exam name: quotes, path
// separators and control characters are dropped, whitespace runs become
// underscores and the format extension is appended.
func Filename(name string, f Format) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || strings.ContainsRune(`"\/:*?<>|`, r) {
			return -1
		}
		return r
	}, name)
	base := strings.Join(strings.Fields(name), "_")
	if base == "" {
		base = "examen"
	}
	return base + "." + string(f)
}

// Config holds the layout constants shared by both backends.
type Config struct {
	FontSize           float64 // body text, points
	FormulaFontPx      float64 // CSS font size formulas are typeset at
	RasterWorkers      int
	RasterTimeout      time.Duration
	DevelopmentLines   int
	JustificationLines int
	Chart              render.ChartStyle
}

// DefaultConfig returns the layout used by the web service.
func DefaultConfig() Config {
	return Config{
		FontSize:           11,
		FormulaFontPx:      24,
		RasterWorkers:      4,
		RasterTimeout:      10 * time.Second,
		DevelopmentLines:   6,
		JustificationLines: 3,
		Chart:              render.DefaultChartStyle(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FontSize <= 0 {
		c.FontSize = def.FontSize
	}
	if c.FormulaFontPx <= 0 {
		c.FormulaFontPx = def.FormulaFontPx
	}
	if c.RasterWorkers <= 0 {
		c.RasterWorkers = def.RasterWorkers
	}
	if c.RasterTimeout <= 0 {
		c.RasterTimeout = def.RasterTimeout
	}
	if c.DevelopmentLines <= 0 {
		c.DevelopmentLines = def.DevelopmentLines
	}
	if c.JustificationLines <= 0 {
		c.JustificationLines = def.JustificationLines
	}
	if c.Chart.Width <= 0 || c.Chart.Height <= 0 {
		c.Chart = def.Chart
	}
	return c
}

// Document is everything a backend needs: the instruction stream in its
// final order and the formulas rasterized for it.
type Document struct {
	Title        string
	Instructions []render.Instruction
	Formulas     *Formulas
	Labels       model.Labels
}

// Assembler turns a document into bytes of one format.
type Assembler interface {
	Format() Format
	Assemble(ctx context.Context, doc *Document) ([]byte, error)
}

// Request is one export.
type Request struct {
	Name       string
	CourseID   string
	CourseName string
	Questions  []model.Question
	PDFURL     string
	AnswerKey  bool
	Labels     model.Labels // zero means the default Spanish labels
}

// Validate checks the fields every export needs. A course is only required
// when the exam is going to be stored.
func (r Request) Validate(requireCourse bool) error {
	if strings.TrimSpace(r.Name) == "" {
		return apierr.Validation("El nombre del examen es obligatorio")
	}
	if requireCourse && strings.TrimSpace(r.CourseID) == "" {
		return apierr.Validation("La cátedra es obligatoria")
	}
	if len(r.Questions) == 0 {
		return apierr.Validation("El examen no tiene preguntas")
	}
	for i, q := range r.Questions {
		if q.Body == nil {
			return apierr.Validation(fmt.Sprintf("La pregunta %d no tiene tipo", i+1))
		}
		if q.Points <= 0 {
			return apierr.Validation(fmt.Sprintf("La pregunta %d debe tener un puntaje positivo", i+1))
		}
	}
	return nil
}

// Result is a produced document. PersistErr is set when the document was
// produced but could not be stored; Bytes are valid either way.
type Result struct {
	Bytes       []byte
	ContentType string
	Filename    string
	Format      Format
	Exam        *model.Exam
	PersistErr  error
}

// ExamStore records exported exams.
type ExamStore interface {
	InsertExam(ctx context.Context, e model.NewExam) (*model.Exam, error)
}

// Exporter runs the export pipeline: validate, render, rasterize formulas,
// assemble and optionally persist.
type Exporter struct {
	cfg        Config
	rasterizer rasterize.Factory
	store      ExamStore
	assemblers map[Format]Assembler
	now        func() time.Time
}

// NewExporter returns an exporter. A nil factory disables formula images;
// a nil store makes persistence a no-op.
func NewExporter(cfg Config, factory rasterize.Factory, store ExamStore) *Exporter {
	cfg = cfg.withDefaults()
	if factory == nil {
		factory = rasterize.NoneFactory()
	}
	return &Exporter{
		cfg:        cfg,
		rasterizer: factory,
		store:      store,
		assemblers: map[Format]Assembler{
			FormatPDF:  NewPDF(cfg),
			FormatDOCX: NewDOCX(cfg),
		},
		now: time.Now,
	}
}

// Export produces the document for req. When persist is true the exam is
// inserted once after the bytes exist; a failed insert is reported in
// Result.PersistErr and does not discard the document.
func (x *Exporter) Export(ctx context.Context, req Request, format Format, persist bool) (*Result, error) {
	if err := req.Validate(persist); err != nil {
		return nil, err
	}
	asm, ok := x.assemblers[format]
	if !ok {
		return nil, apierr.Validation(fmt.Sprintf("Formato no soportado: %s", format))
	}

	labels := req.Labels
	if labels == (model.Labels{}) {
		labels = model.DefaultLabels()
	}
	r := render.New(render.Options{
		Labels:             labels,
		AnswerKey:          req.AnswerKey,
		DevelopmentLines:   x.cfg.DevelopmentLines,
		JustificationLines: x.cfg.JustificationLines,
	})
	ins := r.Exam(req.Name, req.CourseName, req.Questions)

	start := time.Now()
	engine := x.rasterizer()
	formulas, err := RasterizeFormulas(ctx, ins, engine, x.cfg.RasterWorkers, x.cfg.RasterTimeout)
	if cerr := engine.Close(); cerr != nil {
		slog.WarnContext(ctx, "closing rasterizer", "error", cerr)
	}
	if err != nil {
		return nil, apierr.Assembly(err)
	}

	data, err := asm.Assemble(ctx, &Document{
		Title:        req.Name,
		Instructions: ins,
		Formulas:     formulas,
		Labels:       labels,
	})
	if err != nil {
		return nil, apierr.Assembly(err)
	}
	slog.InfoContext(ctx, "exam exported",
		"request_id", model.RequestIDFromContext(ctx),
		"format", format,
		"questions", len(req.Questions),
		"formulas", formulas.Len(),
		"bytes", len(data),
		"elapsed", time.Since(start),
	)

	res := &Result{
		Bytes:       data,
		ContentType: ContentType(format),
		Filename:    Filename(req.Name, format),
		Format:      format,
	}
	if !persist || x.store == nil {
		return res, nil
	}

	exam, err := x.store.InsertExam(ctx, model.NewExam{
		Name:      req.Name,
		CourseID:  req.CourseID,
		Questions: req.Questions,
		PDFURL:    req.PDFURL,
		CreatedAt: x.now().UTC(),
	})
	if err != nil {
		slog.ErrorContext(ctx, "exported exam not persisted",
			"request_id", model.RequestIDFromContext(ctx),
			"exam", req.Name,
			"error", err,
		)
		res.PersistErr = err
		return res, nil
	}
	res.Exam = exam
	return res, nil
}

// Package render turns exam questions into a format-neutral stream of
// drawing instructions. Positions are resolved later by each document backend.
package render

import (
	"strconv"
	"strings"

	"github.com/pavelanni/examgen/internal/mathtext"
	"github.com/pavelanni/examgen/internal/model"
)

// Instruction is one element of the output stream. The set of instructions is
// closed; backends switch over the concrete types.
type Instruction interface {
	isInstruction()
}

// Header opens the document with the exam title and the student fields.
type Header struct {
	Title        string
	Course       string
	CourseLabel  string
	StudentLabel string
	DateLabel    string
}

// Statement is the numbered question text with its right-aligned point value.
type Statement struct {
	Number      int
	Text        []mathtext.Segment
	Points      int
	PointsLabel string
}

// Option is one lettered multiple-choice option.
type Option struct {
	Letter    string
	Text      []mathtext.Segment
	Marked    bool
	MarkLabel string
}

// AnswerLines reserves ruled lines for handwriting.
type AnswerLines struct {
	Caption string
	Count   int
}

// Truth is a true/false answer value.
type Truth int

const (
	TruthUnknown Truth = iota
	TruthTrue
	TruthFalse
)

// Checkboxes is the true/false pair; Marked is TruthUnknown when nothing is ticked.
type Checkboxes struct {
	TrueLabel  string
	FalseLabel string
	Marked     Truth
}

// Justification prints the justification prompt followed by blank lines.
type Justification struct {
	Label string
	Text  []mathtext.Segment
	Lines int
}

// Chart embeds a drawn chart.
type Chart struct {
	Caption string
	Data    model.GraphicData
}

// Placeholder is a dashed box left for a graphic that has no data.
type Placeholder struct {
	Caption string
}

// Gap separates questions, measured in text lines.
type Gap struct {
	Lines float64
}

// Total is the score footer.
type Total struct {
	Label  string
	Points int
}

func (Header) isInstruction()        {}
func (Statement) isInstruction()     {}
func (Option) isInstruction()        {}
func (AnswerLines) isInstruction()   {}
func (Checkboxes) isInstruction()    {}
func (Justification) isInstruction() {}
func (Chart) isInstruction()         {}
func (Placeholder) isInstruction()   {}
func (Gap) isInstruction()           {}
func (Total) isInstruction()         {}

// Options controls what the renderer emits.
type Options struct {
	Labels             model.Labels
	AnswerKey          bool // mark correct options and truth values
	DevelopmentLines   int
	JustificationLines int
}

// DefaultOptions renders an answer key with Spanish labels.
func DefaultOptions() Options {
	return Options{
		Labels:             model.DefaultLabels(),
		AnswerKey:          true,
		DevelopmentLines:   6,
		JustificationLines: 3,
	}
}

// Renderer emits instructions for questions.
type Renderer struct {
	opts Options
}

// New returns a renderer; zero line counts take the defaults.
func New(opts Options) *Renderer {
	def := DefaultOptions()
	if opts.DevelopmentLines <= 0 {
		opts.DevelopmentLines = def.DevelopmentLines
	}
	if opts.JustificationLines <= 0 {
		opts.JustificationLines = def.JustificationLines
	}
	if opts.Labels == (model.Labels{}) {
		opts.Labels = def.Labels
	}
	return &Renderer{opts: opts}
}

// Exam renders the whole document: header, every question in array order,
// and the total score footer.
func (r *Renderer) Exam(name, course string, questions []model.Question) []Instruction {
	var out []Instruction
	emit := func(in Instruction) { out = append(out, in) }

	l := r.opts.Labels
	emit(Header{
		Title:        name,
		Course:       course,
		CourseLabel:  l.Course,
		StudentLabel: l.StudentName,
		DateLabel:    l.Date,
	})
	for i, q := range questions {
		r.Question(q, i+1, emit)
		emit(Gap{Lines: 1})
	}
	emit(Total{Label: l.Total, Points: model.TotalPoints(questions)})
	return out
}

// Question emits the instructions of one question. Fields that do not apply
// to the question's type are ignored.
func (r *Renderer) Question(q model.Question, number int, emit func(Instruction)) {
	l := r.opts.Labels
	emit(Statement{
		Number:      number,
		Text:        mathtext.Parse(q.Statement),
		Points:      q.Points,
		PointsLabel: "(" + l.PointsLabel(q.Points) + ")",
	})

	switch b := q.Body.(type) {
	case model.MultipleChoice:
		correct := -1
		if r.opts.AnswerKey {
			correct = CorrectOption(b.Options, b.Correct)
		}
		for i, opt := range b.Options {
			emit(Option{
				Letter:    Letter(i),
				Text:      mathtext.Parse(opt),
				Marked:    i == correct,
				MarkLabel: l.Correct,
			})
		}
	case model.Development:
		emit(AnswerLines{Caption: l.AnswerSpace, Count: r.opts.DevelopmentLines})
	case model.TrueFalse:
		marked := TruthUnknown
		if r.opts.AnswerKey {
			marked = ParseTruth(b.Correct)
		}
		emit(Checkboxes{TrueLabel: l.True, FalseLabel: l.False, Marked: marked})
		if j := strings.TrimSpace(b.Justification); j != "" {
			emit(Justification{
				Label: l.Justification,
				Text:  mathtext.Parse(j),
				Lines: r.opts.JustificationLines,
			})
		}
	}

	if !q.IncludesGraphic {
		return
	}
	if q.Graphic.HasData() {
		caption := l.Graphic
		if t := strings.TrimSpace(q.Graphic.Title); t != "" {
			caption += ": " + mathtext.PlainText(t)
		}
		emit(Chart{Caption: caption, Data: *q.Graphic})
		return
	}
	emit(Placeholder{Caption: l.GraphicSpace})
}

// Letter returns the option letter for index i: A, B, C, ...
func Letter(i int) string {
	if i < 26 {
		return string(rune('A' + i))
	}
	return strconv.Itoa(i + 1)
}

// Segments flattens segments to plain text, approximating formulas.
func Segments(segs []mathtext.Segment) string {
	var b strings.Builder
	for _, s := range segs {
		if s.Kind == mathtext.Formula {
			b.WriteString(mathtext.Plain(s.Value))
			continue
		}
		b.WriteString(s.Value)
	}
	return b.String()
}

package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pavelanni/examgen/internal/model"
)

type generatedResponse struct {
	Questions []generatedQuestion `json:"questions"`
}

type generatedQuestion struct {
	Type            string             `json:"type"`
	Question        string             `json:"question"`
	Options         []string           `json:"options"`
	CorrectAnswer   *model.AnswerKey   `json:"correctAnswer"`
	Points          int                `json:"points"`
	IncludesGraphic bool               `json:"includesGraphic"`
	Justification   string             `json:"justification"`
	GraphicData     *model.GraphicData `json:"graphicData"`
}

var optionLetterRegex = regexp.MustCompile(`^\s*[A-Da-d]\s*[\)\.:-]\s+`)

// parseQuestions decodes a repaired response and maps it to questions. Every
// question needs a statement and a known type; missing points and graphic
// flags are taken from the matching spec.
func parseQuestions(data string, specs []model.QuestionSpec, now time.Time) ([]model.Question, error) {
	var resp generatedResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		return nil, fmt.Errorf("%w: parse: %w", ErrInvalidResponse, err)
	}
	if len(resp.Questions) == 0 {
		return nil, fmt.Errorf("%w: no questions generated", ErrInvalidResponse)
	}

	stamp := now.UnixMilli()
	out := make([]model.Question, 0, len(resp.Questions))
	for i, g := range resp.Questions {
		statement := strings.TrimSpace(g.Question)
		t, ok := model.ParseQuestionType(g.Type)
		if statement == "" || !ok {
			return nil, fmt.Errorf("%w: question %d has invalid format", ErrInvalidResponse, i+1)
		}

		var spec model.QuestionSpec
		if i < len(specs) {
			spec = specs[i]
		}
		q := model.Question{
			ID:              fmt.Sprintf("gen-%d-%d", stamp, i),
			Statement:       statement,
			Points:          g.Points,
			IncludesGraphic: g.IncludesGraphic || spec.IncludesGraphic,
			Graphic:         g.GraphicData,
		}
		if q.Points <= 0 {
			q.Points = spec.Points
		}
		if q.Points <= 0 {
			q.Points = 1
		}
		if !q.Graphic.HasData() {
			q.Graphic = nil
		}

		var correct model.AnswerKey
		if g.CorrectAnswer != nil {
			correct = *g.CorrectAnswer
		}
		switch t {
		case model.TypeMultipleChoice:
			opts := make([]string, 0, len(g.Options))
			for _, o := range g.Options {
				if o = strings.TrimSpace(optionLetterRegex.ReplaceAllString(o, "")); o != "" {
					opts = append(opts, o)
				}
			}
			q.Body = model.MultipleChoice{Options: opts, Correct: correct}
		case model.TypeDevelopment:
			q.Body = model.Development{}
		case model.TypeTrueFalse:
			mode := model.JustificationMode(strings.ToLower(strings.TrimSpace(g.Justification)))
			if mode != model.JustifyTrue && mode != model.JustifyFalse {
				mode = spec.Justification
			}
			q.Body = model.TrueFalse{Correct: correct, Justification: justificationPrompt(mode)}
		}
		out = append(out, q)
	}
	return out, nil
}

func justificationPrompt(mode model.JustificationMode) string {
	switch mode {
	case model.JustifyTrue:
		return "Justifique las respuestas verdaderas"
	case model.JustifyFalse:
		return "Justifique las respuestas falsas"
	}
	return ""
}

// NormalizeSpecs resolves type aliases ("multiple", "truefalse", ...) to the
// canonical question types. Unknown types are reported as an error.
func NormalizeSpecs(specs []model.QuestionSpec) ([]model.QuestionSpec, error) {
	out := make([]model.QuestionSpec, len(specs))
	for i, s := range specs {
		t, ok := model.ParseQuestionType(string(s.Type))
		if !ok {
			return nil, fmt.Errorf("question %d: unknown type %q", i+1, s.Type)
		}
		s.Type = t
		out[i] = s
	}
	return out, nil
}

package llm

import (
	"fmt"

	"github.com/pavelanni/examgen/internal/model"
)

const fallbackNote = "La IA no pudo procesar el documento correctamente"

// Fallback builds one placeholder question per spec so an instructor can still edit
// and export an exam when generation fails. The output depends only on specs.
func Fallback(specs []model.QuestionSpec) []model.Question {
	out := make([]model.Question, 0, len(specs))
	for i, s := range specs {
		q := model.Question{
			ID:              fmt.Sprintf("fallback-%d", i+1),
			Points:          s.Points,
			IncludesGraphic: s.IncludesGraphic,
		}
		if q.Points <= 0 {
			q.Points = 1
		}
		switch s.Type {
		case model.TypeMultipleChoice:
			q.Statement = fmt.Sprintf("[FALLBACK] Pregunta de múltiple opción %d (%s) - %s", i+1, s.Category, fallbackNote)
			q.Body = model.MultipleChoice{
				Options: []string{"Opción A", "Opción B", "Opción C", "Opción D"},
				Correct: model.IndexAnswer(0),
			}
		case model.TypeTrueFalse:
			q.Statement = fmt.Sprintf("[FALLBACK] Pregunta verdadero/falso %d (%s) - %s", i+1, s.Category, fallbackNote)
			q.Body = model.TrueFalse{
				Correct:       model.TextAnswer("verdadero"),
				Justification: justificationPrompt(s.Justification),
			}
		default:
			q.Statement = fmt.Sprintf("[FALLBACK] Pregunta de desarrollo %d (%s) - %s", i+1, s.Category, fallbackNote)
			q.Body = model.Development{}
		}
		out = append(out, q)
	}
	return out
}

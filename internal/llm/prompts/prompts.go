package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/examgen/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

// MaxSourceRunes caps the document text sent to the model.
const MaxSourceRunes = 5000

// TruncationMarker is appended to source text cut at MaxSourceRunes.
const TruncationMarker = "\n\n[CONTENIDO TRUNCADO...]"

var sourceDocumentRegex = regexp.MustCompile(`(?i)</?\s*source-document\b[^>]*>`)

var (
	loadOnce    sync.Once
	loadErr     error
	generateTpl *template.Template
)

// QuestionData is one entry of the question configuration block.
type QuestionData struct {
	TypeLabel          string
	Points             int
	Category           model.Category
	IncludesGraphic    bool
	JustificationLabel string
}

// GenerateData holds template data for the question generation prompt.
type GenerateData struct {
	Count     int
	Source    string
	Questions []QuestionData
}

// Load parses the embedded templates. It is safe to call more than once.
func Load() error {
	loadOnce.Do(func() {
		content, err := templateFS.ReadFile("templates/generate.txt")
		if err != nil {
			loadErr = errors.New("failed to read prompt file generate.txt: " + err.Error())
			return
		}
		funcs := template.FuncMap{"inc": func(i int) int { return i + 1 }}
		generateTpl, err = template.New("generate").Funcs(funcs).Parse(string(content))
		if err != nil {
			loadErr = errors.New("failed to parse prompt template generate.txt: " + err.Error())
		}
	})
	return loadErr
}

// BuildGeneratePrompt renders the generation prompt for the given source text
// and question specs.
func BuildGeneratePrompt(source string, specs []model.QuestionSpec) (string, error) {
	if err := Load(); err != nil {
		return "", fmt.Errorf("templates load failed: %w", err)
	}

	data := GenerateData{
		Count:  len(specs),
		Source: SanitizeSource(source),
	}
	for _, s := range specs {
		data.Questions = append(data.Questions, QuestionData{
			TypeLabel:          typeLabel(s.Type),
			Points:             s.Points,
			Category:           s.Category,
			IncludesGraphic:    s.IncludesGraphic,
			JustificationLabel: justificationLabel(s),
		})
	}

	var buf bytes.Buffer
	if err := generateTpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SanitizeSource strips delimiter tags from the document text and truncates
// it to MaxSourceRunes.
func SanitizeSource(source string) string {
	source = sourceDocumentRegex.ReplaceAllString(source, "")
	source = strings.TrimSpace(source)

	if utf8.RuneCountInString(source) > MaxSourceRunes {
		runes := []rune(source)
		source = string(runes[:MaxSourceRunes]) + TruncationMarker
	}
	return source
}

func typeLabel(t model.QuestionType) string {
	switch t {
	case model.TypeMultipleChoice:
		return "Múltiple opción (4 opciones, una correcta)"
	case model.TypeDevelopment:
		return "Desarrollo (respuesta abierta)"
	default:
		return "Verdadero/Falso"
	}
}

func justificationLabel(s model.QuestionSpec) string {
	if s.Type != model.TypeTrueFalse {
		return ""
	}
	switch s.Justification {
	case model.JustifyTrue:
		return "Justificar solo verdaderas"
	case model.JustifyFalse:
		return "Justificar solo falsas"
	default:
		return "Sin justificación"
	}
}

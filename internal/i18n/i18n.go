package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"

	"github.com/pavelanni/examgen/internal/model"
)

var jsonUnmarshal = json.Unmarshal

//go:embed locales/*.json
var localeFS embed.FS

type ctxKey struct{}

type langCtxKey struct{}

var (
	bundle      *i18n.Bundle
	defaultLang = "es"
)

// Init loads the translation bundle with lang as the default language.
func Init(lang string) error {
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("parse language %q: %w", lang, err)
	}

	b := i18n.NewBundle(tag)
	b.RegisterUnmarshalFunc("json", jsonUnmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return fmt.Errorf("read locales dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + e.Name())
		if err != nil {
			return fmt.Errorf("read locale file %s: %w", e.Name(), err)
		}
		if _, err := b.ParseMessageFileBytes(data, e.Name()); err != nil {
			return fmt.Errorf("parse locale file %s: %w", e.Name(), err)
		}
		slog.Debug("loaded locale file", "file", e.Name())
	}

	bundle = b
	defaultLang = tag.String()
	return nil
}

// Languages returns the tags of all loaded locales.
func Languages() []language.Tag {
	if bundle == nil {
		return nil
	}
	return bundle.LanguageTags()
}

// NewLocalizer creates a localizer for the given languages, in preference order.
func NewLocalizer(langs ...string) *i18n.Localizer {
	return i18n.NewLocalizer(bundle, langs...)
}

// WithLocalizer stores a localizer in the context.
func WithLocalizer(ctx context.Context, loc *i18n.Localizer) context.Context {
	return context.WithValue(ctx, ctxKey{}, loc)
}

// WithLang stores the resolved language tag in the context.
func WithLang(ctx context.Context, lang string) context.Context {
	return context.WithValue(ctx, langCtxKey{}, lang)
}

// Lang returns the language resolved for the request, or the default.
func Lang(ctx context.Context) string {
	if l, ok := ctx.Value(langCtxKey{}).(string); ok && l != "" {
		return l
	}
	return defaultLang
}

func localizerFromCtx(ctx context.Context) *i18n.Localizer {
	if loc, ok := ctx.Value(ctxKey{}).(*i18n.Localizer); ok {
		return loc
	}
	return i18n.NewLocalizer(bundle, defaultLang)
}

// T translates a message by ID.
func T(ctx context.Context, msgID string) string {
	if bundle == nil {
		return msgID
	}
	loc := localizerFromCtx(ctx)
	s, err := loc.Localize(&i18n.LocalizeConfig{MessageID: msgID})
	if err != nil {
		slog.Warn("missing translation", "id", msgID, "error", err)
		return msgID
	}
	return s
}

// Tp translates a pluralized message by ID.
func Tp(ctx context.Context, msgID string, count int) string {
	if bundle == nil {
		return msgID
	}
	loc := localizerFromCtx(ctx)
	s, err := loc.Localize(&i18n.LocalizeConfig{
		MessageID:    msgID,
		PluralCount:  count,
		TemplateData: map[string]any{"Count": count},
	})
	if err != nil {
		slog.Warn("missing translation", "id", msgID, "error", err)
		return msgID
	}
	return s
}

// DocumentLabels returns the strings printed in exam documents for the
// request language. Without a loaded bundle it returns the Spanish defaults.
func DocumentLabels(ctx context.Context) model.Labels {
	l := model.DefaultLabels()
	if bundle == nil {
		return l
	}
	for id, dst := range map[string]*string{
		"LabelCourse":          &l.Course,
		"LabelPoint":           &l.Point,
		"LabelPoints":          &l.Points,
		"LabelTrue":            &l.True,
		"LabelFalse":           &l.False,
		"LabelCorrect":         &l.Correct,
		"LabelJustification":   &l.Justification,
		"LabelAnswerSpace":     &l.AnswerSpace,
		"LabelGraphicSpace":    &l.GraphicSpace,
		"LabelGraphic":         &l.Graphic,
		"LabelTotal":           &l.Total,
		"LabelFormulaFallback": &l.FormulaFallback,
		"LabelStudentName":     &l.StudentName,
		"LabelDate":            &l.Date,
	} {
		if s := T(ctx, id); s != id {
			*dst = s
		}
	}
	return l
}

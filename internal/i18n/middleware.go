package i18n

import (
	"net/http"

	"golang.org/x/text/language"
)

// Middleware resolves the request language from the "lang" query parameter,
// then Accept-Language, then fallback, and injects the matching localizer.
func Middleware(fallback string) func(http.Handler) http.Handler {
	tags := Languages()
	if len(tags) == 0 {
		tags = []language.Tag{language.Make(fallback)}
	}
	// The fallback goes first so the matcher defaults to it.
	fb := language.Make(fallback)
	ordered := []language.Tag{fb}
	for _, t := range tags {
		if t != fb {
			ordered = append(ordered, t)
		}
	}
	matcher := language.NewMatcher(ordered)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, idx := language.MatchStrings(matcher, r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"))
			lang := ordered[idx].String()
			ctx := WithLang(r.Context(), lang)
			ctx = WithLocalizer(ctx, NewLocalizer(lang, fallback))
			w.Header().Set("Content-Language", lang)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

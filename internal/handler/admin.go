package handler

import (
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/examgen/internal/apierr"
)

// AdminPasswordHeader carries the admin password on destructive requests.
const AdminPasswordHeader = "X-Admin-Password"

// HashAdminPassword returns the bcrypt hash stored in Config.AdminPasswordHash.
func HashAdminPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

// requireAdmin checks the admin password from the X-Admin-Password header or
// the basic auth password.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(h.config.AdminPasswordHash) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		password := r.Header.Get(AdminPasswordHeader)
		if password == "" {
			_, password, _ = r.BasicAuth()
		}
		if password == "" {
			w.Header().Set("WWW-Authenticate", `Basic realm="examgen"`)
			fail(w, r, apierr.New(apierr.KindValidation, http.StatusUnauthorized, "Se requiere la contraseña de administrador", nil))
			return
		}
		if err := bcrypt.CompareHashAndPassword(h.config.AdminPasswordHash, []byte(password)); err != nil {
			slog.Warn("admin password mismatch", "path", r.URL.Path, "remote", r.RemoteAddr)
			fail(w, r, apierr.New(apierr.KindValidation, http.StatusForbidden, "Contraseña de administrador incorrecta", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

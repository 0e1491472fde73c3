package console

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/edufolio/adminconsole/internal/auth"
	"github.com/edufolio/adminconsole/pkg"

	log "github.com/sirupsen/logrus"
)

//go:embed templates/*.html
var templatesFS embed.FS

var pages = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

type loginPage struct {
	Title    string
	Email    string
	Next     string
	Error    string
	InFlight bool
}

type dashboardPage struct {
	Title string
	User  *auth.User
}

type passwordPage struct {
	Title   string
	Error   string
	Success string
}

// render executes the page into a buffer first, so a template failure
// never leaves a half written page behind.
func render(w http.ResponseWriter, statusCode int, name string, data any) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		log.Errorf("render page [%s]: %s", name, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkg.WriteResponseBytes(w, pkg.ContentType.HTML, buf.Bytes(), statusCode)
}

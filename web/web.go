// Package web holds the server-rendered pages and static assets.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/jmcleod/goaltracker/identity"
)

//go:embed templates static
var content embed.FS

// Page is the data every template receives.
type Page struct {
	Title     string
	User      *identity.Principal
	CSRFToken string
	// Errors maps form input names to messages.
	Errors map[string]string
	// Flash is a form-level message such as a login failure.
	Flash   string
	Values  any
	Data    any
	Detail  string
	DevMode bool
}

// Err returns the message for field, or "".
func (p Page) Err(field string) string {
	return p.Errors[field]
}

// Renderer executes named pages inside the shared layout.
type Renderer struct {
	pages map[string]*template.Template
}

var funcs = template.FuncMap{
	"date": func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Format("2006-01-02")
	},
	"datetime": func(t time.Time) string {
		return t.Local().Format("Jan 2, 2006 15:04")
	},
	"metric": func(v *float64) string {
		if v == nil {
			return ""
		}
		return strconv.FormatFloat(*v, 'f', -1, 64)
	},
	"pct": func(done, total int) int {
		if total == 0 {
			return 0
		}
		return done * 100 / total
	},
	"add": func(a, b int) int { return a + b },
}

// NewRenderer parses every embedded page. Page names are their paths under
// templates/ without the extension, e.g. "goals/show".
func NewRenderer() (*Renderer, error) {
	base, err := template.New("layout.html").Funcs(funcs).ParseFS(content, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("parsing layout: %w", err)
	}
	r := &Renderer{pages: make(map[string]*template.Template)}
	err = fs.WalkDir(content, "templates", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || p == "templates/layout.html" {
			return err
		}
		t, err := base.Clone()
		if err != nil {
			return err
		}
		if _, err := t.ParseFS(content, p); err != nil {
			return fmt.Errorf("parsing %s: %w", p, err)
		}
		name := strings.TrimSuffix(strings.TrimPrefix(p, "templates/"), path.Ext(p))
		r.pages[name] = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Render writes page name to w. Output is buffered so a template error
// never leaves a half-written response.
func (r *Renderer) Render(w io.Writer, name string, p Page) error {
	t, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout.html", p); err != nil {
		return fmt.Errorf("rendering %s: %w", name, err)
	}
	_, err := buf.WriteTo(w)
	return err
}

// Has reports whether a page named name exists.
func (r *Renderer) Has(name string) bool {
	_, ok := r.pages[name]
	return ok
}

// Static returns a handler serving the embedded assets. Mount it with the
// /static/ prefix stripped.
func Static() (http.Handler, error) {
	fsys, err := fs.Sub(content, "static")
	if err != nil {
		return nil, fmt.Errorf("loading embedded static assets: %w", err)
	}
	return http.FileServer(http.FS(fsys)), nil
}

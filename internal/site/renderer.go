package site

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
)

// Renderer executes the "base" layout over templates/**/*.tmpl.
type Renderer struct {
	dir   string
	dev   bool
	cache *template.Template
}

// NewRenderer parses the templates under dir. In dev mode parsing is deferred to every render
// so edits show up without a restart.
func NewRenderer(dir string, dev bool) (*Renderer, error) {
	r := &Renderer{dir: dir, dev: dev}
	if dev {
		return r, nil
	}
	tc, err := r.parse()
	if err != nil {
		return nil, err
	}
	r.cache = tc
	return r, nil
}

func (r *Renderer) parse() (*template.Template, error) {
	funcMap := template.FuncMap{
		"safeJS": func(s string) template.JS {
			return template.JS(s)
		},
	}
	// ParseGlob doesn't support **, so walk the tree.
	var files []string
	if err := filepath.WalkDir(r.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), ".tmpl") {
			files = append(files, path)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no templates found under %s", r.dir)
	}
	return template.New("_root").Funcs(funcMap).ParseFiles(files...)
}

// Render executes the base layout into w. Output is buffered so a failing template never
// writes a partial page.
func (r *Renderer) Render(w io.Writer, data PageData) error {
	out, err := r.RenderBytes(data)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// RenderBytes executes the base layout and returns the page.
func (r *Renderer) RenderBytes(data PageData) ([]byte, error) {
	t := r.cache
	if r.dev {
		tc, err := r.parse()
		if err != nil {
			return nil, fmt.Errorf("template parse error: %w", err)
		}
		t = tc
	}
	if t == nil {
		return nil, fmt.Errorf("template not initialized")
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "base", data); err != nil {
		return nil, fmt.Errorf("template exec error: %w", err)
	}
	return buf.Bytes(), nil
}

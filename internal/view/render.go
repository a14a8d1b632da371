// Package view turns books into card view models and renders pages.
package view

import (
	"html/template"
	"net/http"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// GridTarget is the element id htmx swaps when only the grid is re-rendered.
const GridTarget = "book-grid"

// Renderer renders page templates from a directory.
type Renderer struct {
	templateDir string
}

// NewRenderer creates a renderer reading templates from dir.
func NewRenderer(dir string) *Renderer {
	return &Renderer{templateDir: dir}
}

// Render executes viewName inside base.html. htmx requests receive only the
// "content" block, or only the "grid" block when they target the grid.
func (r *Renderer) Render(w http.ResponseWriter, req *http.Request, viewName string, data any) {
	r.RenderStatus(w, req, http.StatusOK, viewName, data)
}

// RenderStatus is Render with an explicit status code.
func (r *Renderer) RenderStatus(w http.ResponseWriter, req *http.Request, status int, viewName string, data any) {
	target := "base.html"
	if req.Header.Get("HX-Request") == "true" {
		target = "content"
		if req.Header.Get("HX-Target") == GridTarget {
			target = "grid"
		}
	}
	r.RenderBlock(w, req, status, viewName, target, data)
}

// RenderBlock executes one named template of viewName's set. An empty
// viewName renders from the shared templates only.
func (r *Renderer) RenderBlock(w http.ResponseWriter, req *http.Request, status int, viewName, block string, data any) {
	files := []string{
		filepath.Join(r.templateDir, "base.html"),
		filepath.Join(r.templateDir, "cards.html"),
		filepath.Join(r.templateDir, "modals.html"),
	}
	if viewName != "" {
		files = append(files, filepath.Join(r.templateDir, viewName))
	}
	tmpl, err := template.ParseFiles(files...)
	if err != nil {
		log.Ctx(req.Context()).Error().Err(err).Str("view", viewName).Msg("template parse failed")
		http.Error(w, "Template error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.ExecuteTemplate(w, block, data); err != nil {
		log.Ctx(req.Context()).Error().Err(err).Str("view", viewName).Str("block", block).Msg("template execution failed")
	}
}

package web

import (
	"embed"
	"html/template"
	"io/fs"
	"sync"
)

//go:embed *.html app.css app.js
var content embed.FS

var (
	tmpl *template.Template
	once sync.Once
)

// Templates returns the parsed HTML templates for the UI, embedded at build time.
// layout.html renders the page named by LayoutData.PageTemplate
// (index, admin, verify, get-key) inside its "content" block.
func Templates() *template.Template {
	once.Do(func() {
		tmpl = template.Must(template.ParseFS(content, "*.html"))
	})
	return tmpl
}

// StaticFS exposes embedded static assets such as CSS and JS.
func StaticFS() fs.FS {
	return content
}

// Package web serves the pad UI and pushes pad state to browsers.
package web

import (
	"embed"
	"io/fs"
	"log"
	"net/http"
	"path"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
)

//go:embed static
var rawFS embed.FS

var mediaTypes = map[string]string{
	".html": "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
}

var (
	// IndexHTML is the minified single-page UI.
	IndexHTML []byte
	assets    map[string][]byte
)

func init() {
	m := minify.New()
	m.AddFunc("text/html", html.Minify)
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("application/javascript", js.Minify)

	assets = make(map[string][]byte)
	_ = fs.WalkDir(rawFS, "static", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		raw, err := rawFS.ReadFile(p)
		if err != nil {
			return nil
		}
		name := strings.TrimPrefix(p, "static/")
		mt, ok := mediaTypes[strings.ToLower(path.Ext(p))]
		if !ok {
			assets[name] = raw
			return nil
		}
		out, err := m.Bytes(mt, raw)
		if err != nil {
			log.Printf("WEB: minify %s: %v (using original)", name, err)
			out = raw
		}
		assets[name] = out
		return nil
	})
	IndexHTML = assets["index.html"]
}

// IndexHandler serves the UI at "/" only.
func IndexHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(IndexHTML)
	})
}

// StaticHandler serves minified assets. Mount it at /static/ with StripPrefix.
func StaticHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		data, ok := assets[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if mt, ok := mediaTypes[strings.ToLower(path.Ext(name))]; ok {
			w.Header().Set("Content-Type", mt+"; charset=utf-8")
		}
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(data)
	})
}

// Package web embeds the portfolio pages (static/) and provides an
// HTTP handler that serves them with clean URLs: /about resolves to
// static/about.html, / to index.html.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"strings"
)

//go:embed all:static
var staticFS embed.FS

// Handler returns an http.Handler that serves the embedded pages.
// Unknown paths fall back to the not-found page.
func Handler() http.Handler {
	subFS, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}

	fileServer := http.FileServer(http.FS(subFS))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		if path == "" || path == "home" || path == "index.html" {
			path = "index.html"
			r.URL.Path = "/" + path
			fileServer.ServeHTTP(w, r)
			return
		}

		if exists(subFS, path) {
			fileServer.ServeHTTP(w, r)
			return
		}

		// Clean URL: /about -> about.html.
		if !strings.Contains(path, ".") && exists(subFS, path+".html") {
			r.URL.Path = "/" + path + ".html"
			fileServer.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		if page, err := fs.ReadFile(subFS, "404.html"); err == nil {
			w.Write(page)
		}
	})
}

func exists(fsys fs.FS, path string) bool {
	f, err := fsys.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

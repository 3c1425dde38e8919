// ABOUTME: Embedded static pages: the chat client and the landing page
// ABOUTME: Served straight from the binary so deploys are a single file

// Package assets embeds the frontend pages via go:embed and exposes an
// http.Handler for them.
package assets

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed public
var publicFS embed.FS

// Handler serves the embedded pages. "/" is the landing page and "/chat"
// is the chat client; everything else falls through to the file server.
func Handler() http.Handler {
	sub, err := fs.Sub(publicFS, "public")
	if err != nil {
		// go:embed guarantees public exists at build time
		panic(err)
	}

	files := http.FileServer(http.FS(sub))
	mux := http.NewServeMux()
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		serveFile(w, r, sub, "chat.html")
	})
	mux.Handle("/", files)
	return mux
}

func serveFile(w http.ResponseWriter, r *http.Request, fsys fs.FS, name string) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

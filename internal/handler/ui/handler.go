// Package ui serves the embedded browser chat page.
package ui

import (
	_ "embed"
	"net/http"

	"github.com/go-chi/chi/v5"
)

//go:embed static/index.html
var indexHTML []byte

// RegisterRoutes mounts the chat page at the router root.
func RegisterRoutes(r chi.Router) {
	r.Get("/", serveIndex)
}

func serveIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(indexHTML)
}

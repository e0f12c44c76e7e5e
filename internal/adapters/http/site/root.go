// Package site serves the read-only triage board page.
package site

import (
	"context"
	"net/http"
)

// Register attaches the board page at the site root. Other unmatched paths
// fall through to the embedded file server and 404 there.
func Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	mux.Handle("GET /", http.FileServer(FS()))
}

// Package webui serves the embedded admin console page. Presentation only:
// all operation logic lives behind the /v1 API.
package webui

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static
var staticFS embed.FS

// Handler returns a file server for the embedded console assets, with the
// console page at the root.
func Handler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}

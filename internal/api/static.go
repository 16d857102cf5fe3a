package api

import (
	"io/fs"
	"net/http"

	"github.com/tidechat/tide/web"
)

// staticFiles is the embedded page tree rooted at the files themselves.
var staticFiles = func() fs.FS {
	sub, err := fs.Sub(web.Static, "static")
	if err != nil {
		panic(err)
	}
	return sub
}()

// staticPage serves one embedded page. The chat page is registered behind
// the auth middleware in NewServer; everything else is public.
func staticPage(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeFileFS(w, r, staticFiles, name)
	}
}

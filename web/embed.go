// Package web embeds the static pages served by the HTTP server.
package web

import "embed"

//go:embed static
var Static embed.FS

package server

import (
	"embed"
	"html/template"
)

//go:embed dist/index.html
var embedFS embed.FS

// indexTemplate はビューアページのテンプレート
var indexTemplate = template.Must(template.ParseFS(embedFS, "dist/index.html"))

// indexData はビューアページに埋め込む値
type indexData struct {
	Count      int
	StreamPort int
}

package viewer

import (
	"embed"
	"strings"
	"text/template"
)

//go:embed toc.gotmpl
var templates embed.FS

var tmpl = template.Must(template.New("viewer").Funcs(template.FuncMap{
	"pad": func(slots int) string {
		return strings.Repeat("  ", slots)
	},
}).ParseFS(templates, "*.gotmpl"))

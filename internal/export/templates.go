package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var documentTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/document.html")
	if err != nil {
		documentTemplate = template.Must(template.New("document").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}
	documentTemplate = template.Must(template.New("document").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for the printable page layout
type TemplateData struct {
	Title       string
	Reference   string
	ClientName  string
	ContentHTML template.HTML
	PreparedBy  string
	GeneratedAt time.Time
	PageWidth   float64
	PageHeight  float64
}

// RenderDocumentHTML wraps the document body in the page layout. The body is
// trusted: template values were escaped during substitution.
func RenderDocumentHTML(doc Document, paper Paper) (string, error) {
	generated := doc.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}
	data := TemplateData{
		Title:       doc.Title,
		Reference:   doc.Reference,
		ClientName:  doc.ClientName,
		ContentHTML: template.HTML(doc.BodyHTML),
		PreparedBy:  doc.PreparedBy,
		GeneratedAt: generated,
		PageWidth:   paper.Width,
		PageHeight:  paper.Height,
	}
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: 'Times New Roman', serif; line-height: 1.5; margin: 0; }
    .meta { color: #555; font-size: 0.85em; margin-bottom: 1.5rem; }
  </style>
</head>
<body>
  <div class="meta">{{if .Reference}}Ref. {{.Reference}} | {{end}}{{formatDate .GeneratedAt "January 2, 2006"}}</div>
  <div>{{.ContentHTML}}</div>
</body>
</html>`

package export

import (
	"context"
	"fmt"
	"time"

	"casedesk/api/internal/util"
)

const (
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// Renderer turns substituted template HTML into downloadable files.
type Renderer struct {
	paper   Paper
	timeout time.Duration

	pdf  func(ctx context.Context, html string, paper Paper, timeout time.Duration) ([]byte, error)
	docx func(ctx context.Context, html string) ([]byte, error)
}

func NewRenderer(paper string) *Renderer {
	return &Renderer{
		paper:   ParsePaper(paper),
		timeout: 30 * time.Second,
		pdf:     renderPDF,
		docx:    renderDOCX,
	}
}

// Render lays the document out for print and converts it to format.
func (r *Renderer) Render(ctx context.Context, doc Document, format Format) (*Result, error) {
	html, err := RenderDocumentHTML(doc, r.paper)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	base := Filename(doc.Title, doc.Reference)
	switch format {
	case FormatPDF:
		data, err := r.pdf(ctx, html, r.paper, r.timeout)
		if err != nil {
			return nil, err
		}
		return &Result{Data: data, Filename: base + ".pdf", MimeType: mimePDF}, nil
	case FormatDOCX:
		data, err := r.docx(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{Data: data, Filename: base + ".docx", MimeType: mimeDOCX}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// Filename builds the download name without extension, prefixed by the case
// reference when there is one.
func Filename(title, reference string) string {
	name := util.SafeFilename(title, 50, "document")
	if reference != "" {
		return util.SafeFilename(reference, 20, "") + "_" + name
	}
	return name
}

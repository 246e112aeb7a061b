// Package export renders filled legal document templates to PDF and DOCX.
package export

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatPDF:
		return FormatPDF, nil
	case FormatDOCX:
		return FormatDOCX, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", value)
	}
}

// Paper is a printable page size in inches.
type Paper struct {
	Name   string
	Width  float64
	Height float64
}

var (
	PaperA4     = Paper{Name: "A4", Width: 8.27, Height: 11.69}
	PaperLetter = Paper{Name: "Letter", Width: 8.5, Height: 11}
)

func ParsePaper(value string) Paper {
	if strings.EqualFold(strings.TrimSpace(value), "letter") {
		return PaperLetter
	}
	return PaperA4
}

// Document is a template whose variables have already been substituted.
type Document struct {
	Title       string
	Reference   string
	ClientName  string
	BodyHTML    string
	PreparedBy  string
	GeneratedAt time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)

package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"é", "%C3%A9"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if result := percentEncodeForDataURL(tt.input); result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestParseFormatAndPaper(t *testing.T) {
	if f, err := ParseFormat(""); err != nil || f != FormatPDF {
		t.Fatalf("ParseFormat(\"\") = %q, %v", f, err)
	}
	if f, err := ParseFormat("DOCX"); err != nil || f != FormatDOCX {
		t.Fatalf("ParseFormat(DOCX) = %q, %v", f, err)
	}
	if _, err := ParseFormat("odt"); err == nil {
		t.Fatal("expected error for odt")
	}
	if ParsePaper("Letter") != PaperLetter || ParsePaper("") != PaperA4 {
		t.Fatal("unexpected paper parsing")
	}
}

func TestRenderDocumentHTML(t *testing.T) {
	doc := Document{
		Title:       "Power of Attorney",
		Reference:   "CASE-2026-ABC123",
		ClientName:  "Ana Ruiz",
		BodyHTML:    "<p>I, Ana Ruiz, appoint &lt;counsel&gt;.</p>",
		PreparedBy:  "L. Vega",
		GeneratedAt: time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC),
	}
	html, err := RenderDocumentHTML(doc, PaperLetter)
	if err != nil {
		t.Fatalf("RenderDocumentHTML() error = %v", err)
	}
	for _, want := range []string{"CASE-2026-ABC123", "Ana Ruiz", "May 4, 2026", "Prepared by L. Vega", "8.5in 11in"} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
	if !strings.Contains(html, "<p>I, Ana Ruiz, appoint &lt;counsel&gt;.</p>") {
		t.Error("body HTML should be embedded as-is")
	}
}

func TestRendererUsesConverters(t *testing.T) {
	r := NewRenderer("a4")
	var gotPaper Paper
	r.pdf = func(_ context.Context, html string, paper Paper, _ time.Duration) ([]byte, error) {
		gotPaper = paper
		if !strings.Contains(html, "Body") {
			t.Errorf("expected body in html")
		}
		return []byte("%PDF-1.7"), nil
	}
	r.docx = func(context.Context, string) ([]byte, error) { return []byte("PK"), nil }

	result, err := r.Render(context.Background(), Document{Title: "Demanda Civil Ñandú", Reference: "CASE-2026-000001", BodyHTML: "Body"}, FormatPDF)
	if err != nil {
		t.Fatalf("Render(pdf) error = %v", err)
	}
	if result.Filename != "CASE-2026-000001_Demanda-Civil-Nandu.pdf" || result.MimeType != mimePDF {
		t.Fatalf("unexpected result %+v", result)
	}
	if gotPaper != PaperA4 {
		t.Fatalf("expected A4, got %+v", gotPaper)
	}

	result, err = r.Render(context.Background(), Document{Title: "Notice"}, FormatDOCX)
	if err != nil {
		t.Fatalf("Render(docx) error = %v", err)
	}
	if result.Filename != "Notice.docx" || string(result.Data) != "PK" {
		t.Fatalf("unexpected docx result %+v", result)
	}
}

func TestRendererPropagatesMissingDependency(t *testing.T) {
	r := NewRenderer("a4")
	r.pdf = func(context.Context, string, Paper, time.Duration) ([]byte, error) {
		return nil, ErrPDFDependencyMissing
	}
	if _, err := r.Render(context.Background(), Document{Title: "x"}, FormatPDF); !errors.Is(err, ErrPDFDependencyMissing) {
		t.Fatalf("expected ErrPDFDependencyMissing, got %v", err)
	}
}

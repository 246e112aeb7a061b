package util

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var accentFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// SafeFilename folds accents and keeps letters, digits, dashes and
// underscores. Spaces become dashes. The result is at most maxLen bytes and
// falls back to fallback when nothing survives.
func SafeFilename(name string, maxLen int, fallback string) string {
	folded, _, err := transform.String(accentFolder, name)
	if err != nil {
		folded = name
	}
	var b strings.Builder
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	result := b.String()
	if maxLen > 0 && len(result) > maxLen {
		result = result[:maxLen]
	}
	if result == "" {
		return fallback
	}
	return result
}

// SafeObjectName keeps the file extension of an uploaded name.
func SafeObjectName(name string) string {
	name = strings.TrimSpace(name)
	if slash := strings.LastIndexAny(name, `/\`); slash >= 0 {
		name = name[slash+1:]
	}
	base, ext := name, ""
	if dot := strings.LastIndex(name, "."); dot > 0 {
		base, ext = name[:dot], strings.ToLower(SafeFilename(name[dot+1:], 10, ""))
	}
	safe := SafeFilename(base, 100, "file")
	if ext != "" {
		return safe + "." + ext
	}
	return safe
}

// Package doctemplate finds and fills {{variable}} placeholders in legal
// document templates.
package doctemplate

import (
	"html"
	"regexp"
	"strings"
	"time"
)

var tokenPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.-]*)\s*\}\}`)

// ExtractVariables returns each distinct variable name in order of first use.
func ExtractVariables(content string) []string {
	matches := tokenPattern.FindAllStringSubmatch(content, -1)
	seen := make(map[string]struct{}, len(matches))
	names := make([]string, 0, len(matches))
	for _, match := range matches {
		name := match[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// Substitute replaces every token whose name has a value. Values are HTML
// escaped; tokens without a value are left as written.
func Substitute(content string, values map[string]string) string {
	return tokenPattern.ReplaceAllStringFunc(content, func(token string) string {
		name := tokenPattern.FindStringSubmatch(token)[1]
		value, ok := values[name]
		if !ok {
			return token
		}
		return html.EscapeString(value)
	})
}

func Missing(content string, values map[string]string) []string {
	var missing []string
	for _, name := range ExtractVariables(content) {
		if strings.TrimSpace(values[name]) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

type CaseFacts struct {
	Number        string
	Title         string
	Type          string
	Court         string
	OpposingParty string
}

type ClientFacts struct {
	Name    string
	Email   string
	Phone   string
	Address string
}

// ContextValues builds the built-in variables for a case and its client, then
// overlays explicit values. Blank explicit values do not hide built-ins.
func ContextValues(c *CaseFacts, client *ClientFacts, now time.Time, explicit map[string]string) map[string]string {
	values := map[string]string{
		"today": now.Format("January 2, 2006"),
	}
	if client != nil {
		setIfPresent(values, "client_name", client.Name)
		setIfPresent(values, "client_email", client.Email)
		setIfPresent(values, "client_phone", client.Phone)
		setIfPresent(values, "client_address", client.Address)
	}
	if c != nil {
		setIfPresent(values, "case_number", c.Number)
		setIfPresent(values, "case_title", c.Title)
		setIfPresent(values, "case_type", c.Type)
		setIfPresent(values, "court", c.Court)
		setIfPresent(values, "opposing_party", c.OpposingParty)
	}
	for name, value := range explicit {
		if strings.TrimSpace(value) == "" {
			if _, ok := values[name]; ok {
				continue
			}
		}
		values[name] = value
	}
	return values
}

func setIfPresent(values map[string]string, key, value string) {
	if strings.TrimSpace(value) != "" {
		values[key] = value
	}
}

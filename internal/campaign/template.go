package campaign

import (
	"regexp"

	"broadcaster/internal/model"
)

var placeholder = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Render substitutes every {{key}} in tmpl with the recipient's value for key.
// Keys match case-insensitively; a missing or empty value becomes a single
// space so the surrounding text keeps its shape.
func Render(tmpl string, r model.Recipient) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		sub := placeholder.FindStringSubmatch(m)
		if len(sub) < 2 {
			return " "
		}
		v, ok := r.Get(sub[1])
		if !ok || v == "" {
			return " "
		}
		return v
	})
}

// preview shortens a rendered message for audit logs.
func preview(s string) string {
	r := []rune(s)
	if len(r) <= 128 {
		return s
	}
	return string(r[:128])
}

package composer

import (
	"regexp"
	"strings"

	"github.com/notifyhub/notification-outbox/internal/domain"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Render substitutes {{name}} placeholders in every content field with the
// matching parameter value. Placeholders with no matching parameter render
// as the empty string.
func Render(c domain.Content, params map[string]string) domain.Content {
	return domain.Content{
		Title:       renderString(c.Title, params),
		Body:        renderString(c.Body, params),
		RedirectURL: renderString(c.RedirectURL, params),
		ImageURL:    renderString(c.ImageURL, params),
	}
}

func renderString(s string, params map[string]string) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		return params[name]
	})
}

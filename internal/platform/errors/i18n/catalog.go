// Package i18n renders domain errors as localized user-facing text.
package i18n

import (
	"strings"
	"sync"
	"text/template"

	apperrors "github.com/louisbranch/ticketmarket/internal/platform/errors"
	"github.com/louisbranch/ticketmarket/internal/platform/i18n/catalog"
)

const namespace = "errors"

// Messages holds the parsed error templates of one locale.
type Messages struct {
	locale    string
	raw       map[string]string
	templates map[string]*template.Template
}

// NewMessages parses templates keyed by error code. A template that does not
// parse is kept and rendered verbatim.
func NewMessages(locale string, templates map[string]string) *Messages {
	m := &Messages{
		locale:    locale,
		raw:       make(map[string]string, len(templates)),
		templates: make(map[string]*template.Template, len(templates)),
	}
	for code, text := range templates {
		m.raw[code] = text
		if parsed, err := template.New(code).Option("missingkey=default").Parse(text); err == nil {
			m.templates[code] = parsed
		}
	}
	return m
}

// resolved caches Messages by the locale that served them.
var resolved sync.Map

// For returns the error messages of the catalog locale closest to locale.
func For(locale string) *Messages {
	bundle := catalog.Default()
	served, templates := bundle.Namespace(strings.TrimSpace(locale), namespace)
	if cached, ok := resolved.Load(served); ok {
		return cached.(*Messages)
	}
	cached, _ := resolved.LoadOrStore(served, NewMessages(served, templates))
	return cached.(*Messages)
}

// Locale is the catalog locale these messages came from.
func (m *Messages) Locale() string {
	return m.locale
}

// Format renders the message for code with metadata. Unknown codes render as
// the code itself; absent metadata keys render as "<no value>".
func (m *Messages) Format(code string, metadata map[string]string) string {
	tmpl, ok := m.templates[code]
	if !ok {
		if text, known := m.raw[code]; known {
			return text
		}
		return code
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, metadata); err != nil {
		return m.raw[code]
	}
	return out.String()
}

// Localize renders err in locale. Errors outside the domain taxonomy render
// as the UNKNOWN message so infrastructure details stay out of chat.
func Localize(err error, locale string) string {
	if err == nil {
		return ""
	}
	messages := For(locale)
	domainErr, ok := apperrors.As(err)
	if !ok {
		return messages.Format(string(apperrors.CodeUnknown), nil)
	}
	return messages.Format(string(domainErr.Code), domainErr.Metadata)
}

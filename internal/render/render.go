// Package render turns untrusted message text into markup that can be placed
// in a page as-is.
//
// Only two constructs are ever live in the output: line breaks and anchors
// built from markdown-style links. Everything else is escaped.
package render

import (
	"html"
	"html/template"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"personachat/internal/models"
)

// linkPattern matches [label](http(s)://url). The label may not contain ']'
// and the url may not contain whitespace or ')'.
var linkPattern = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^\s)]+)\)`)

// Renderer converts message text to safe markup. It is safe for concurrent use.
type Renderer struct {
	policy *bluemonday.Policy
}

// New constructs a Renderer with its output policy.
func New() *Renderer {
	return &Renderer{policy: outputPolicy()}
}

var defaultRenderer = New()

// Render converts text with the package default Renderer.
func Render(text string, sender models.Sender) template.HTML {
	return defaultRenderer.Render(text, sender)
}

// Render converts text written by sender into safe markup. Error text never
// gets link substitution.
func (r *Renderer) Render(text string, sender models.Sender) template.HTML {
	if text == "" {
		return ""
	}
	if sender == models.SenderError {
		return template.HTML(escapeWithBreaks(text))
	}

	var sb strings.Builder
	last := 0
	for _, m := range linkPattern.FindAllStringSubmatchIndex(text, -1) {
		sb.WriteString(escapeWithBreaks(text[last:m[0]]))
		label := text[m[2]:m[3]]
		href := text[m[4]:m[5]]
		sb.WriteString(`<a href="`)
		sb.WriteString(html.EscapeString(href))
		sb.WriteString(`" target="_blank" rel="noopener noreferrer">`)
		sb.WriteString(escapeWithBreaks(label))
		sb.WriteString(`</a>`)
		last = m[1]
	}
	sb.WriteString(escapeWithBreaks(text[last:]))

	return template.HTML(r.policy.Sanitize(sb.String()))
}

func escapeWithBreaks(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = html.EscapeString(line)
	}
	return strings.Join(lines, "<br>")
}

// outputPolicy is the last line of defence: whatever the builder above emits,
// nothing but br and http(s) anchors survives.
func outputPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("br")
	p.AllowURLSchemes("http", "https")
	p.RequireParseableURLs(true)
	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("target").Matching(regexp.MustCompile(`^_blank$`)).OnElements("a")
	p.AllowAttrs("rel").Matching(regexp.MustCompile(`^noopener noreferrer$`)).OnElements("a")
	return p
}

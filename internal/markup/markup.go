// Package markup handles the small HTML subset used in chat bubbles
// (<b>, <i>, <br>, <pre>) and renders it for terminals and messaging apps.
package markup

import (
	"strings"

	"golang.org/x/net/html"
)

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Escape neutralizes &, < and > so externally sourced text cannot inject markup.
func Escape(s string) string {
	return escaper.Replace(s)
}

// Lines escapes s and joins its lines with <br>.
func Lines(s string) string {
	return strings.ReplaceAll(Escape(s), "\n", "<br>")
}

// Style decorates runs of text for a particular output.
type Style interface {
	Bold(s string) string
	Italic(s string) string
}

type plainStyle struct{}

func (plainStyle) Bold(s string) string   { return s }
func (plainStyle) Italic(s string) string { return s }

// Plain drops all decoration.
var Plain Style = plainStyle{}

type whatsAppStyle struct{}

func (whatsAppStyle) Bold(s string) string   { return wrapTrimmed(s, "*") }
func (whatsAppStyle) Italic(s string) string { return wrapTrimmed(s, "_") }

// WhatsApp uses *bold* and _italic_.
var WhatsApp Style = whatsAppStyle{}

// wrapTrimmed keeps surrounding spaces outside the marker, which WhatsApp requires.
func wrapTrimmed(s, marker string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}
	lead := s[:strings.Index(s, trimmed)]
	trail := s[len(lead)+len(trimmed):]
	return lead + marker + trimmed + marker + trail
}

// Render converts markup into text decorated with st. Unknown tags are dropped,
// their text is kept.
func Render(markup string, st Style) string {
	if st == nil {
		st = Plain
	}
	z := html.NewTokenizer(strings.NewReader(markup))
	var b strings.Builder
	bold, italic := 0, 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or malformed input; either way the text so far is kept.
			return b.String()
		case html.TextToken:
			text := string(z.Text())
			if italic > 0 {
				text = st.Italic(text)
			}
			if bold > 0 {
				text = st.Bold(text)
			}
			b.WriteString(text)
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "b", "strong":
				if tt == html.StartTagToken {
					bold++
				}
			case "i", "em":
				if tt == html.StartTagToken {
					italic++
				}
			case "br":
				b.WriteString("\n")
			case "pre", "p", "div":
				if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
					b.WriteString("\n")
				}
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "b", "strong":
				if bold > 0 {
					bold--
				}
			case "i", "em":
				if italic > 0 {
					italic--
				}
			}
		}
	}
}

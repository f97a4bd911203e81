package telegram

import (
	"fmt"
	"strings"

	"github.com/xaenox/modmail-bot/internal/platform"
)

var markdownSpecial = []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}

// escapeMarkdown escapes special characters for MarkdownV2.
func escapeMarkdown(text string) string {
	escaped := text
	for _, char := range markdownSpecial {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

// format renders a Post as MarkdownV2 text.
func format(p platform.Post) string {
	var b strings.Builder
	if p.Title != "" {
		fmt.Fprintf(&b, "*%s*\n", escapeMarkdown(p.Title))
	}
	if p.Author.Name != "" && p.Kind == platform.PostRelay {
		fmt.Fprintf(&b, "_%s_\n", escapeMarkdown(p.Author.Name))
	}
	if p.Body != "" {
		body := escapeMarkdown(p.Body)
		if p.Deleted {
			body = "~" + body + "~"
		}
		b.WriteString(body)
		b.WriteString("\n")
	}
	for _, f := range p.Fields {
		fmt.Fprintf(&b, "*%s:* %s\n", escapeMarkdown(f.Name), escapeMarkdown(f.Value))
	}
	if p.Footer != "" {
		fmt.Fprintf(&b, "\n_%s_", escapeMarkdown(p.Footer))
	}
	return strings.TrimRight(b.String(), "\n")
}

package export

import (
	"encoding/json"
	"fmt"
	"html"
	"html/template"
	"strings"
)

// ContentToHTML renders message content nodes to HTML. Unknown node types
// fall back to their children, so experimental nodes still show their text.
func ContentToHTML(raw json.RawMessage) template.HTML {
	if len(raw) == 0 {
		return ""
	}
	var nodes []any
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return ""
	}
	var b strings.Builder
	renderBlocks(&b, nodes)
	return template.HTML(b.String())
}

func renderBlocks(b *strings.Builder, nodes []any) {
	i := 0
	for i < len(nodes) {
		n, _ := nodes[i].(map[string]any)
		typ, _ := n["type"].(string)
		if typ == "bullet" || typ == "number_bullet" {
			tag := "ul"
			if typ == "number_bullet" {
				tag = "ol"
			}
			fmt.Fprintf(b, "<%s>\n", tag)
			for i < len(nodes) {
				item, _ := nodes[i].(map[string]any)
				if itemType, _ := item["type"].(string); itemType != typ {
					break
				}
				fmt.Fprintf(b, "<li>%s</li>\n", renderInline(item["children"]))
				i++
			}
			fmt.Fprintf(b, "</%s>\n", tag)
			continue
		}
		renderBlock(b, n, typ)
		i++
	}
}

func renderBlock(b *strings.Builder, n map[string]any, typ string) {
	switch typ {
	case "p", "":
		if _, isText := n["text"]; isText {
			fmt.Fprintf(b, "<p>%s</p>\n", renderText(n))
			return
		}
		fmt.Fprintf(b, "<p>%s</p>\n", renderInline(n["children"]))
	case "quote":
		fmt.Fprintf(b, "<blockquote>%s</blockquote>\n", renderInline(n["children"]))
	case "code":
		fmt.Fprintf(b, "<pre><code>%s</code></pre>\n", html.EscapeString(plain(n["children"])))
	case "markdown":
		fmt.Fprintf(b, "<p>%s</p>\n", html.EscapeString(plain(n["children"])))
	default:
		fmt.Fprintf(b, "<p>%s</p>\n", renderInline(n["children"]))
	}
}

func renderInline(children any) string {
	items, _ := children.([]any)
	var b strings.Builder
	for _, item := range items {
		n, ok := item.(map[string]any)
		if !ok {
			continue
		}
		switch n["type"] {
		case nil:
			b.WriteString(renderText(n))
		case "mention":
			fmt.Fprintf(&b, `<span class="mention">%s</span>`, renderInline(n["children"]))
		case "assignee":
			fmt.Fprintf(&b, `<span class="assignee">%s</span>`, renderInline(n["children"]))
		case "link":
			href, _ := n["url"].(string)
			fmt.Fprintf(&b, `<a href="%s">%s</a>`, html.EscapeString(safeHref(href)), renderInline(n["children"]))
		default:
			b.WriteString(renderInline(n["children"]))
		}
	}
	return b.String()
}

func renderText(n map[string]any) string {
	text, _ := n["text"].(string)
	out := html.EscapeString(text)
	wrap := []struct{ flag, tag string }{
		{"code", "code"},
		{"bold", "strong"},
		{"italic", "em"},
		{"underline", "u"},
	}
	for _, w := range wrap {
		if on, _ := n[w.flag].(bool); on {
			out = "<" + w.tag + ">" + out + "</" + w.tag + ">"
		}
	}
	return out
}

func plain(children any) string {
	items, _ := children.([]any)
	var b strings.Builder
	for _, item := range items {
		n, _ := item.(map[string]any)
		if text, ok := n["text"].(string); ok {
			b.WriteString(text)
			continue
		}
		b.WriteString(plain(n["children"]))
	}
	return b.String()
}

func safeHref(href string) string {
	lower := strings.ToLower(strings.TrimSpace(href))
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "mailto:") {
		return href
	}
	return "#"
}

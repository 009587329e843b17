package content

import (
	"encoding/json"
	"strings"
)

// PlainText flattens content for search, email and export. Top-level blocks
// and bullet items are separated by newlines; inline text is concatenated.
func PlainText(raw json.RawMessage) string {
	nodes, err := decode(raw)
	if err != nil {
		return ""
	}
	return strings.Join(Blocks(nodes), "\n")
}

// Blocks returns one line of text per top-level block.
func Blocks(nodes []any) []string {
	var lines []string
	for _, item := range nodes {
		n, ok := item.(node)
		if !ok {
			continue
		}
		switch n["type"] {
		case "bullet", "number_bullet", "quote":
			items, _ := n["children"].([]any)
			for _, child := range items {
				if text := inlineText(child); text != "" {
					lines = append(lines, text)
				}
			}
		default:
			if text := inlineText(n); text != "" {
				lines = append(lines, text)
			}
		}
	}
	return lines
}

func inlineText(item any) string {
	var b strings.Builder
	writeText(&b, item)
	return strings.TrimSpace(b.String())
}

func writeText(b *strings.Builder, item any) {
	n, ok := item.(node)
	if !ok {
		return
	}
	if text, ok := n["text"].(string); ok {
		b.WriteString(text)
	}
	if items, ok := n["children"].([]any); ok {
		for _, child := range items {
			writeText(b, child)
		}
	}
}

// Mentions returns the distinct user IDs mentioned, in order of appearance.
func Mentions(raw json.RawMessage) []string {
	return userRefs(raw, "mention")
}

// Assignees returns the distinct user IDs assigned a task.
func Assignees(raw json.RawMessage) []string {
	return userRefs(raw, "assignee")
}

func userRefs(raw json.RawMessage, typ string) []string {
	nodes, err := decode(raw)
	if err != nil {
		return nil
	}
	seen := map[string]bool{}
	var ids []string
	var walk func(items []any)
	walk = func(items []any) {
		for _, item := range items {
			n, ok := item.(node)
			if !ok {
				continue
			}
			if n["type"] == typ {
				if user, ok := n["user"].(node); ok {
					if id, ok := user["id"].(string); ok && id != "" && !seen[id] {
						seen[id] = true
						ids = append(ids, id)
					}
				}
				continue
			}
			if children, ok := n["children"].([]any); ok {
				walk(children)
			}
		}
	}
	walk(nodes)
	return ids
}

// FromText wraps plain text into paragraphs, one per line.
func FromText(text string) json.RawMessage {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	nodes := make([]map[string]any, 0, len(lines))
	for _, line := range lines {
		nodes = append(nodes, map[string]any{
			"type":     "p",
			"children": []map[string]any{{"text": line}},
		})
	}
	raw, _ := json.Marshal(nodes)
	return raw
}

// Decode parses content without validating it.
func Decode(raw json.RawMessage) ([]any, error) {
	return decode(raw)
}

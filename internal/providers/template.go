package providers

import (
	"fmt"
	"sort"
	"strings"
)

// Render expands a small mustache-style template: {{path.to.value}},
// {{#if path}}...{{else}}...{{/if}} and {{contextData path}}, which prints a
// map as "key: value" pairs. Unknown paths render empty.
func Render(template string, vars map[string]any) string {
	nodes, _ := parseTemplate(template, 0, "")
	var b strings.Builder
	renderNodes(&b, nodes, vars)
	return b.String()
}

type tmplNode struct {
	text      string
	expr      string
	cond      string
	then      []tmplNode
	otherwise []tmplNode
}

// parseTemplate reads nodes until the closing tag named stop.
func parseTemplate(src string, pos int, stop string) ([]tmplNode, int) {
	var nodes []tmplNode
	for pos < len(src) {
		open := strings.Index(src[pos:], "{{")
		if open < 0 {
			nodes = append(nodes, tmplNode{text: src[pos:]})
			return nodes, len(src)
		}
		if open > 0 {
			nodes = append(nodes, tmplNode{text: src[pos : pos+open]})
		}
		start := pos + open
		end := strings.Index(src[start:], "}}")
		if end < 0 {
			nodes = append(nodes, tmplNode{text: src[start:]})
			return nodes, len(src)
		}
		tag := strings.TrimSpace(src[start+2 : start+end])
		pos = start + end + 2

		switch {
		case stop != "" && (tag == stop || tag == "else"):
			return nodes, start
		case strings.HasPrefix(tag, "#if "):
			node := tmplNode{cond: strings.TrimSpace(strings.TrimPrefix(tag, "#if "))}
			node.then, pos = parseTemplate(src, pos, "/if")
			if tagAt(src, pos) == "else" {
				pos = skipTag(src, pos)
				node.otherwise, pos = parseTemplate(src, pos, "/if")
			}
			if tagAt(src, pos) == "/if" {
				pos = skipTag(src, pos)
			}
			nodes = append(nodes, node)
		default:
			nodes = append(nodes, tmplNode{expr: tag})
		}
	}
	return nodes, pos
}

func tagAt(src string, pos int) string {
	if !strings.HasPrefix(src[pos:], "{{") {
		return ""
	}
	end := strings.Index(src[pos:], "}}")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(src[pos+2 : pos+end])
}

func skipTag(src string, pos int) int {
	return pos + strings.Index(src[pos:], "}}") + 2
}

func renderNodes(b *strings.Builder, nodes []tmplNode, vars map[string]any) {
	for _, node := range nodes {
		switch {
		case node.cond != "":
			if truthy(lookup(vars, node.cond)) {
				renderNodes(b, node.then, vars)
			} else {
				renderNodes(b, node.otherwise, vars)
			}
		case node.expr != "":
			if arg, ok := strings.CutPrefix(node.expr, "contextData "); ok {
				b.WriteString(contextData(lookup(vars, strings.TrimSpace(arg))))
				continue
			}
			if value := lookup(vars, node.expr); value != nil {
				b.WriteString(fmt.Sprint(value))
			}
		default:
			b.WriteString(node.text)
		}
	}
}

func lookup(vars map[string]any, path string) any {
	var current any = vars
	for _, part := range strings.Split(path, ".") {
		switch typed := current.(type) {
		case map[string]any:
			current = typed[part]
		case map[string]string:
			value, ok := typed[part]
			if !ok {
				return nil
			}
			current = value
		default:
			return nil
		}
	}
	return current
}

func truthy(value any) bool {
	switch typed := value.(type) {
	case nil:
		return false
	case string:
		return typed != ""
	case bool:
		return typed
	case map[string]string:
		return len(typed) > 0
	case map[string]any:
		return len(typed) > 0
	default:
		return true
	}
}

func contextData(value any) string {
	pairs := map[string]string{}
	switch typed := value.(type) {
	case map[string]string:
		pairs = typed
	case map[string]any:
		for key, v := range typed {
			pairs[key] = fmt.Sprint(v)
		}
	default:
		if value == nil {
			return ""
		}
		return fmt.Sprint(value)
	}
	keys := make([]string, 0, len(pairs))
	for key := range pairs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+": "+pairs[key])
	}
	return strings.Join(parts, ", ")
}

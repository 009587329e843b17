// Package content validates and flattens rich-text message content.
//
// Message content is a JSON array of nodes. Block nodes carry a "type" and
// "children"; leaves are text nodes with a "text" field and optional
// formatting flags.
package content

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxBulletIndent is the deepest nesting level a bullet may declare.
const MaxBulletIndent = 3

var ErrInvalidContent = errors.New("message content contained invalid element(s)")

var experimentalType = regexp.MustCompile(`^[a-z]+$`)

var reservedTypes = map[string]bool{
	"p": true, "quote": true, "annotation": true, "code": true, "bullet": true,
	"number_bullet": true, "link": true, "mention": true, "assignee": true, "markdown": true,
}

type node = map[string]any

func decode(raw json.RawMessage) ([]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidContent)
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	nodes, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: content must be an array", ErrInvalidContent)
	}
	return nodes, nil
}

// Validate checks the structure of message content. An empty array is valid.
func Validate(raw json.RawMessage) error {
	nodes, err := decode(raw)
	if err != nil {
		return err
	}
	for i, item := range nodes {
		if err := validateTopLevel(item); err != nil {
			return fmt.Errorf("%w: [%d]: %s", ErrInvalidContent, i, err.Error())
		}
	}
	return nil
}

type checkError string

func (e checkError) Error() string { return string(e) }

func fail(format string, args ...any) error {
	return checkError(fmt.Sprintf(format, args...))
}

func validateTopLevel(item any) error {
	n, ok := item.(node)
	if !ok {
		return fail("node must be an object")
	}
	typ, hasType := n["type"]
	if !hasType {
		if _, ok := n["annotation"]; ok {
			return checkAnnotation(n)
		}
		return fail("node is missing type")
	}
	name, ok := typ.(string)
	if !ok {
		return fail("type must be a string")
	}
	switch name {
	case "p":
		return checkParagraph(n)
	case "quote":
		return checkQuote(n)
	case "code":
		return checkCode(n)
	case "assignee":
		return checkUserRef(n, "assignee", "+")
	case "mention":
		return checkUserRef(n, "mention", "@")
	case "bullet":
		return checkBullet(n, false)
	case "number_bullet":
		return checkBullet(n, true)
	case "annotation":
		return checkAnnotation(n)
	case "link":
		return checkLink(n)
	case "markdown":
		return checkMarkdown(n)
	}
	return checkExperimental(n, name)
}

func allowKeys(n node, keys ...string) error {
	for key := range n {
		found := false
		for _, allowed := range keys {
			if key == allowed {
				found = true
				break
			}
		}
		if !found {
			return fail("unexpected field %q", key)
		}
	}
	return nil
}

func optionalString(n node, key string) error {
	if value, ok := n[key]; ok {
		if _, ok := value.(string); !ok {
			return fail("%s must be a string", key)
		}
	}
	return nil
}

func optionalBool(n node, key string) error {
	if value, ok := n[key]; ok {
		if _, ok := value.(bool); !ok {
			return fail("%s must be a boolean", key)
		}
	}
	return nil
}

func optionalInt(n node, key string, min, max *int64) error {
	value, ok := n[key]
	if !ok {
		return nil
	}
	number, ok := value.(json.Number)
	if !ok {
		return fail("%s must be an integer", key)
	}
	parsed, err := number.Int64()
	if err != nil {
		return fail("%s must be an integer", key)
	}
	if (min != nil && parsed < *min) || (max != nil && parsed > *max) {
		return fail("%s out of range", key)
	}
	return nil
}

func children(n node, minItems, maxItems int) ([]any, error) {
	raw, ok := n["children"]
	if !ok {
		return nil, fail("children required")
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fail("children must be an array")
	}
	if len(items) < minItems {
		return nil, fail("children must have at least %d item(s)", minItems)
	}
	if maxItems > 0 && len(items) > maxItems {
		return nil, fail("children must have at most %d item(s)", maxItems)
	}
	return items, nil
}

func checkText(item any) error {
	n, ok := item.(node)
	if !ok {
		return fail("text node must be an object")
	}
	if err := allowKeys(n, "text", "bold", "italic", "underline", "code", "class"); err != nil {
		return err
	}
	if _, ok := n["text"].(string); !ok {
		return fail("text must be a string")
	}
	for _, flag := range []string{"bold", "italic", "underline", "code"} {
		if err := optionalBool(n, flag); err != nil {
			return err
		}
	}
	return optionalString(n, "class")
}

func checkUserRef(n node, typ, prefix string) error {
	keys := []string{"type", "user", "children"}
	if typ == "mention" {
		keys = append(keys, "class")
		if err := optionalString(n, "class"); err != nil {
			return err
		}
	}
	if err := allowKeys(n, keys...); err != nil {
		return err
	}
	if n["type"] != typ {
		return fail("type must be %s", typ)
	}
	user, ok := n["user"].(node)
	if !ok {
		return fail("%s requires a user", typ)
	}
	if err := allowKeys(user, "id"); err != nil {
		return err
	}
	if _, ok := user["id"].(string); !ok {
		return fail("%s user id must be a string", typ)
	}
	items, err := children(n, 1, 1)
	if err != nil {
		return err
	}
	child, ok := items[0].(node)
	if !ok {
		return fail("%s child must be an object", typ)
	}
	if err := allowKeys(child, "text"); err != nil {
		return err
	}
	text, ok := child["text"].(string)
	if !ok || len(text) < len(prefix)+1 || !strings.HasPrefix(text, prefix) {
		return fail("%s text must start with %q", typ, prefix)
	}
	return nil
}

func checkLink(n node) error {
	if err := allowKeys(n, "type", "class", "url", "children"); err != nil {
		return err
	}
	if err := optionalString(n, "class"); err != nil {
		return err
	}
	if _, ok := n["url"].(string); !ok {
		return fail("link requires a url")
	}
	items, err := children(n, 0, 0)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := checkInline(item, false); err != nil {
			return err
		}
	}
	return nil
}

// checkInline accepts text and mentions, plus assignees and links when full
// is set (paragraph content).
func checkInline(item any, full bool) error {
	n, ok := item.(node)
	if !ok {
		return fail("inline node must be an object")
	}
	switch n["type"] {
	case nil:
		return checkText(n)
	case "mention":
		return checkUserRef(n, "mention", "@")
	case "assignee":
		if full {
			return checkUserRef(n, "assignee", "+")
		}
	case "link":
		if full {
			return checkLink(n)
		}
	}
	return fail("unexpected inline node %v", n["type"])
}

func checkParagraph(item any) error {
	n, ok := item.(node)
	if !ok || n["type"] != "p" {
		return fail("expected paragraph")
	}
	if err := allowKeys(n, "type", "class", "children"); err != nil {
		return err
	}
	if err := optionalString(n, "class"); err != nil {
		return err
	}
	items, err := children(n, 1, 0)
	if err != nil {
		return err
	}
	for _, child := range items {
		if err := checkInline(child, true); err != nil {
			return err
		}
	}
	return nil
}

func checkBullet(n node, numbered bool) error {
	keys := []string{"type", "class", "children", "indent"}
	if numbered {
		keys = append(keys, "bulletNumber")
		if err := optionalInt(n, "bulletNumber", nil, nil); err != nil {
			return err
		}
	}
	if err := allowKeys(n, keys...); err != nil {
		return err
	}
	if err := optionalString(n, "class"); err != nil {
		return err
	}
	minIndent, maxIndent := int64(0), int64(MaxBulletIndent)
	if err := optionalInt(n, "indent", &minIndent, &maxIndent); err != nil {
		return err
	}
	items, err := children(n, 1, 0)
	if err != nil {
		return err
	}
	for _, child := range items {
		if err := checkParagraph(child); err != nil {
			return err
		}
	}
	return nil
}

func checkQuote(n node) error {
	if err := allowKeys(n, "type", "class", "children"); err != nil {
		return err
	}
	if err := optionalString(n, "class"); err != nil {
		return err
	}
	items, err := children(n, 1, 0)
	if err != nil {
		return err
	}
	for _, item := range items {
		child, ok := item.(node)
		if !ok {
			return fail("quote child must be an object")
		}
		switch child["type"] {
		case "p":
			err = checkParagraph(child)
		case "bullet":
			err = checkBullet(child, false)
		case "number_bullet":
			err = checkBullet(child, true)
		default:
			err = checkInline(child, true)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func checkCode(n node) error {
	if err := allowKeys(n, "type", "class", "children"); err != nil {
		return err
	}
	if err := optionalString(n, "class"); err != nil {
		return err
	}
	items, err := children(n, 1, 0)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := checkText(item); err != nil {
			return err
		}
	}
	return nil
}

func checkAnnotation(n node) error {
	if err := allowKeys(n, "type", "annotation", "children"); err != nil {
		return err
	}
	if typ, ok := n["type"]; ok && typ != "annotation" {
		return fail("type must be annotation")
	}
	annotation, ok := n["annotation"].(node)
	if !ok {
		return fail("annotation must be an object")
	}
	if err := allowKeys(annotation, "id"); err != nil {
		return err
	}
	if _, ok := annotation["id"].(string); !ok {
		return fail("annotation id must be a string")
	}
	items, err := children(n, 0, 0)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := checkText(item); err != nil {
			return err
		}
	}
	return nil
}

func checkMarkdown(n node) error {
	if err := allowKeys(n, "type", "children"); err != nil {
		return err
	}
	items, err := children(n, 1, 1)
	if err != nil {
		return err
	}
	child, ok := items[0].(node)
	if !ok {
		return fail("markdown child must be an object")
	}
	return optionalString(child, "text")
}

// checkExperimental admits custom lowercase node types. A todo node must
// still carry its identifier and completion flag.
func checkExperimental(n node, name string) error {
	if reservedTypes[name] || !experimentalType.MatchString(name) {
		return fail("unknown node type %q", name)
	}
	if name == "todo" {
		if _, ok := n["todoID"].(string); !ok {
			return fail("todo requires todoID")
		}
		if _, ok := n["done"].(bool); !ok {
			return fail("todo requires done")
		}
	}
	return nil
}

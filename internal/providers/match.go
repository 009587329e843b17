package providers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// segment value charsets: domains split on dots, paths and hashes on
// slashes and query delimiters.
const (
	domainValue = `[^.]+`
	pathValue   = `[^/?#&=]+`
)

var paramName = regexp.MustCompile(`^:([A-Za-z0-9_]+)`)

type pattern struct {
	re    *regexp.Regexp
	names []string
}

func compilePattern(source, value string) (pattern, error) {
	var (
		b     strings.Builder
		names []string
	)
	b.WriteString("^")
	for i := 0; i < len(source); {
		if m := paramName.FindStringSubmatch(source[i:]); m != nil {
			names = append(names, m[1])
			b.WriteString("(" + value + ")")
			i += len(m[0])
			continue
		}
		if source[i] == '*' {
			b.WriteString("(?:.*)")
			i++
			continue
		}
		j := i + 1
		for j < len(source) && source[j] != '*' && source[j] != ':' {
			j++
		}
		b.WriteString(regexp.QuoteMeta(source[i:j]))
		i = j
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return pattern{}, fmt.Errorf("compile pattern %q: %w", source, err)
	}
	return pattern{re: re, names: names}, nil
}

func (p pattern) match(value string, captured map[string]string) bool {
	m := p.re.FindStringSubmatch(value)
	if m == nil {
		return false
	}
	for i, name := range p.names {
		captured[name] = m[i+1]
	}
	return true
}

func matchPart(source, value, charset string, captured map[string]string) (bool, error) {
	p, err := compilePattern(source, charset)
	if err != nil {
		return false, err
	}
	return p.match(value, captured), nil
}

// MatchRule tests u against the rule's patterns and returns the page context
// the rule's transformation produces. Missing patterns match anything.
func MatchRule(rule Rule, u *url.URL) (map[string]string, bool, error) {
	patterns := rule.MatchPatterns
	captured := map[string]string{}

	if patterns.Protocol != "" && !strings.EqualFold(strings.TrimSuffix(patterns.Protocol, ":"), u.Scheme) {
		return nil, false, nil
	}

	domain := patterns.Domain
	if domain == "" {
		domain = "*"
	}
	if ok, err := matchPart(strings.ToLower(domain), u.Hostname(), domainValue, captured); err != nil || !ok {
		return nil, false, err
	}

	if patterns.Path != "" {
		path := patterns.Path
		if !strings.HasPrefix(path, "/") && path != "*" {
			path = "/" + path
		}
		if len(path) > 1 {
			path = strings.TrimRight(path, "/")
		}
		ok, err := matchPart(path, u.Path, pathValue, captured)
		if err != nil || !ok {
			return nil, false, err
		}
	}

	if patterns.Hash != "" {
		ok, err := matchPart(strings.TrimPrefix(patterns.Hash, "#"), u.Fragment, pathValue, captured)
		if err != nil || !ok {
			return nil, false, err
		}
	}

	if len(patterns.QueryParams) > 0 {
		query := u.Query()
		for key, want := range patterns.QueryParams {
			values, ok := query[key]
			if !ok || len(values) == 0 {
				return nil, false, nil
			}
			have := values[0]
			if m := paramName.FindStringSubmatch(want); m != nil && len(m[0]) == len(want) {
				captured[m[1]] = have
				continue
			}
			if have != want {
				return nil, false, nil
			}
		}
	}

	context, err := transform(rule.ContextTransformation, captured, u)
	if err != nil {
		return nil, false, err
	}
	return context, true, nil
}

func transform(t Transformation, captured map[string]string, u *url.URL) (map[string]string, error) {
	switch t.Type {
	case "", TransformDefault:
		return captured, nil
	case TransformReplace:
		return renderData(t.Data, captured, u), nil
	case TransformExtend:
		out := renderData(t.Data, captured, u)
		for key, value := range captured {
			if _, ok := out[key]; !ok {
				out[key] = value
			}
		}
		return out, nil
	case TransformMetabase:
		return metabaseContext(u.Fragment)
	default:
		return nil, fmt.Errorf("%w: unknown transformation %q", ErrInvalidProvider, t.Type)
	}
}

func renderData(data map[string]any, captured map[string]string, u *url.URL) map[string]string {
	vars := templateVars(captured, u)
	out := make(map[string]string, len(data))
	for key, value := range data {
		text, ok := value.(string)
		if !ok {
			text = fmt.Sprint(value)
		}
		out[key] = Render(text, vars)
	}
	return out
}

func templateVars(captured map[string]string, u *url.URL) map[string]any {
	vars := map[string]any{}
	for key, value := range captured {
		vars[key] = value
	}
	query := map[string]string{}
	for key, values := range u.Query() {
		if len(values) > 0 {
			query[key] = values[0]
		}
	}
	vars["url"] = map[string]any{
		"href":     u.String(),
		"protocol": u.Scheme + ":",
		"hostname": u.Hostname(),
		"host":     u.Host,
		"pathname": u.Path,
		"hash":     u.Fragment,
		"search":   u.RawQuery,
		"query":    query,
	}
	return vars
}

// metabaseContext decodes the base64 JSON in a Metabase question hash and
// flattens it to dotted keys with string values.
func metabaseContext(fragment string) (map[string]string, error) {
	raw, err := base64.StdEncoding.DecodeString(fragment)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(fragment, "="))
		if err != nil {
			return nil, fmt.Errorf("decode metabase hash: %w", err)
		}
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode metabase hash: %w", err)
	}
	out := map[string]string{}
	flatten("", value, out)
	return out, nil
}

func flatten(prefix string, value any, out map[string]string) {
	join := func(key string) string {
		if prefix == "" {
			return key
		}
		return prefix + "." + key
	}
	switch typed := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			flatten(join(key), typed[key], out)
		}
	case []any:
		for i, item := range typed {
			flatten(join(fmt.Sprint(i)), item, out)
		}
	case nil:
	default:
		out[prefix] = fmt.Sprint(typed)
	}
}

// Match runs the provider's rules in order. The first matching rule decides:
// an allow rule yields its context, a deny rule blocks the page.
func Match(provider Provider, rawURL string) (Result, error) {
	u, err := CleanupURL(rawURL)
	if err != nil {
		return Result{Match: MatchNone}, err
	}
	if provider.MergeHashWithLocation && u.Fragment != "" {
		if merged, err := CleanupURL(strings.SplitN(u.String(), "#", 2)[0] + "/" + strings.TrimPrefix(u.Fragment, "/")); err == nil {
			u = merged
		}
	}
	for _, rule := range provider.Rules {
		context, ok, err := MatchRule(rule, u)
		if err != nil {
			return Result{Match: MatchNone}, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		if !ok {
			continue
		}
		if rule.Type == RuleDeny {
			return Result{Match: MatchDeny, RuleID: rule.ID}, nil
		}
		result := Result{Match: MatchAllow, RuleID: rule.ID, Context: context}
		if rule.NameTemplate != "" {
			result.Name = Render(rule.NameTemplate, templateVars(context, u))
		}
		return result, nil
	}
	return Result{Match: MatchNone}, nil
}
